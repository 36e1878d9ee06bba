package math

import (
	"fmt"
	"math/bits"
)

// BpsDenominator is the basis-point scale: 10000 bps = 100%.
const BpsDenominator = 10000

// MulDiv computes floor(a * b / den) with a 128-bit intermediate, so the
// product never wraps. Returns an error if den is zero or the quotient
// does not fit in 64 bits.
func MulDiv(a, b, den uint64) (uint64, error) {
	if den == 0 {
		return 0, fmt.Errorf("muldiv: division by zero")
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= den {
		return 0, fmt.Errorf("muldiv: quotient overflows uint64 (a=%d b=%d den=%d)", a, b, den)
	}
	q, _ := bits.Div64(hi, lo, den)
	return q, nil
}

// FeeFromPool computes the platform fee withheld from a losing pool.
func FeeFromPool(losingPool uint64, feeBps uint16) (uint64, error) {
	return MulDiv(losingPool, uint64(feeBps), BpsDenominator)
}

// PayoutQuote is a winning bet's settlement breakdown.
//
// The total payout follows the pari-mutuel formula
//
//	grossPool     = winningPool + losingPool
//	fee           = losingPool * feeBps / 10000
//	distributable = grossPool - fee
//	payout        = stake * distributable / winningPool
//
// and is split by funding source: the stake comes back from the winning
// vault in the winning side's token, the winnings share is drawn from the
// losing vault in the losing side's token, and the fee share is the
// claimant's proportional slice of the fee, moved from the losing vault to
// the platform fee account. Summed over every winner, winnings + fee shares
// never exceed the losing pool (floor division leaves dust in the vault).
type PayoutQuote struct {
	Payout        uint64 // StakeReturn + WinningsShare
	StakeReturn   uint64 // from the winning vault
	WinningsShare uint64 // from the losing vault
	FeeShare      uint64 // losing vault -> platform fees
}

// QuotePayout computes a winning bet's settlement for the given pools.
// stake must be part of winningPool (winningPool > 0 whenever a winner exists).
func QuotePayout(stake, winningPool, losingPool uint64, feeBps uint16) (PayoutQuote, error) {
	if winningPool == 0 {
		return PayoutQuote{}, fmt.Errorf("payout: empty winning pool")
	}
	if stake > winningPool {
		return PayoutQuote{}, fmt.Errorf("payout: stake %d exceeds winning pool %d", stake, winningPool)
	}

	fee, err := FeeFromPool(losingPool, feeBps)
	if err != nil {
		return PayoutQuote{}, err
	}

	distributable := winningPool + losingPool - fee

	payout, err := MulDiv(stake, distributable, winningPool)
	if err != nil {
		return PayoutQuote{}, err
	}

	feeShare, err := MulDiv(stake, fee, winningPool)
	if err != nil {
		return PayoutQuote{}, err
	}

	// distributable >= winningPool, so floor(stake*distributable/winningPool) >= stake
	return PayoutQuote{
		Payout:        payout,
		StakeReturn:   stake,
		WinningsShare: payout - stake,
		FeeShare:      feeShare,
	}, nil
}

// OddsBps returns each side's implied probability in basis points
// (pool share scaled by 10000). An empty pool reads as even odds.
func OddsBps(doomPool, lifePool uint64) (doomBps, lifeBps uint64) {
	total := doomPool + lifePool
	if total == 0 {
		return BpsDenominator / 2, BpsDenominator / 2
	}
	doomBps, _ = MulDiv(doomPool, BpsDenominator, total)
	return doomBps, BpsDenominator - doomBps
}
