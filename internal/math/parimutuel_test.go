package math_test

import (
	"testing"

	"PredictionLedger/internal/math"
)

// ============================================================================
// Test: MulDiv
// ============================================================================

func TestMulDiv_Basic(t *testing.T) {
	cases := []struct {
		a, b, den uint64
		want      uint64
	}{
		{100, 200, 10000, 2},
		{0, 999, 7, 0},
		{1_000_000_000_000, 1_000_000_000_000, 1_000_000_000_000, 1_000_000_000_000},
		{7, 3, 2, 10}, // floor(21/2)
		{^uint64(0), 1, 1, ^uint64(0)},
	}
	for _, tc := range cases {
		got, err := math.MulDiv(tc.a, tc.b, tc.den)
		if err != nil {
			t.Fatalf("MulDiv(%d,%d,%d) failed: %v", tc.a, tc.b, tc.den, err)
		}
		if got != tc.want {
			t.Errorf("MulDiv(%d,%d,%d) = %d, want %d", tc.a, tc.b, tc.den, got, tc.want)
		}
	}
}

func TestMulDiv_LargeIntermediate(t *testing.T) {
	// a*b overflows 64 bits but the quotient does not.
	a := uint64(1) << 50
	b := uint64(1) << 50
	den := uint64(1) << 40
	got, err := math.MulDiv(a, b, den)
	if err != nil {
		t.Fatalf("MulDiv failed: %v", err)
	}
	if got != uint64(1)<<60 {
		t.Errorf("got %d, want %d", got, uint64(1)<<60)
	}
}

func TestMulDiv_DivisionByZero(t *testing.T) {
	if _, err := math.MulDiv(1, 1, 0); err == nil {
		t.Error("zero denominator should fail")
	}
}

func TestMulDiv_QuotientOverflow(t *testing.T) {
	if _, err := math.MulDiv(^uint64(0), ^uint64(0), 1); err == nil {
		t.Error("overflowing quotient should fail")
	}
}

// ============================================================================
// Test: QuotePayout
// ============================================================================

func TestQuotePayout_SingleWinnerTakesPoolMinusFee(t *testing.T) {
	// One bet of 100 on the winning side, 300 on the losing side, 2% fee.
	q, err := math.QuotePayout(100, 100, 300, 200)
	if err != nil {
		t.Fatalf("QuotePayout failed: %v", err)
	}

	// fee = 300*200/10000 = 6, distributable = 394
	if q.Payout != 394 {
		t.Errorf("payout: got %d, want 394", q.Payout)
	}
	if q.StakeReturn != 100 {
		t.Errorf("stake return: got %d, want 100", q.StakeReturn)
	}
	if q.WinningsShare != 294 {
		t.Errorf("winnings share: got %d, want 294", q.WinningsShare)
	}
	if q.FeeShare != 6 {
		t.Errorf("fee share: got %d, want 6", q.FeeShare)
	}
}

func TestQuotePayout_ProRataAcrossWinners(t *testing.T) {
	// Winners staked 100 and 300 (pool 400), losers 1000, 5% fee.
	// fee = 50, distributable = 1350.
	q1, err := math.QuotePayout(100, 400, 1000, 500)
	if err != nil {
		t.Fatalf("QuotePayout failed: %v", err)
	}
	q2, err := math.QuotePayout(300, 400, 1000, 500)
	if err != nil {
		t.Fatalf("QuotePayout failed: %v", err)
	}

	if q1.Payout != 337 { // floor(100*1350/400)
		t.Errorf("q1 payout: got %d, want 337", q1.Payout)
	}
	if q2.Payout != 1012 { // floor(300*1350/400)
		t.Errorf("q2 payout: got %d, want 1012", q2.Payout)
	}

	// Winnings plus fee shares drawn from the losing vault never exceed it.
	drawn := q1.WinningsShare + q1.FeeShare + q2.WinningsShare + q2.FeeShare
	if drawn > 1000 {
		t.Errorf("losing vault overdrawn: %d > 1000", drawn)
	}
}

func TestQuotePayout_EmptyLosingPool(t *testing.T) {
	q, err := math.QuotePayout(250, 1000, 0, 200)
	if err != nil {
		t.Fatalf("QuotePayout failed: %v", err)
	}
	if q.Payout != 250 || q.WinningsShare != 0 || q.FeeShare != 0 {
		t.Errorf("empty losing pool should return the bare stake: %+v", q)
	}
}

func TestQuotePayout_ZeroFee(t *testing.T) {
	q, err := math.QuotePayout(100, 200, 200, 0)
	if err != nil {
		t.Fatalf("QuotePayout failed: %v", err)
	}
	if q.Payout != 200 || q.FeeShare != 0 {
		t.Errorf("zero fee: %+v", q)
	}
}

func TestQuotePayout_PayoutNeverBelowStake(t *testing.T) {
	pools := []struct{ stake, win, lose uint64 }{
		{1, 3, 1},
		{7, 11, 2},
		{1, 1_000_000, 1},
		{999_999, 1_000_000, 1},
	}
	for _, p := range pools {
		q, err := math.QuotePayout(p.stake, p.win, p.lose, 9999)
		if err != nil {
			t.Fatalf("QuotePayout(%+v) failed: %v", p, err)
		}
		if q.Payout < p.stake {
			t.Errorf("payout %d below stake %d for %+v", q.Payout, p.stake, p)
		}
	}
}

func TestQuotePayout_Rejections(t *testing.T) {
	if _, err := math.QuotePayout(10, 0, 100, 200); err == nil {
		t.Error("empty winning pool should fail")
	}
	if _, err := math.QuotePayout(101, 100, 100, 200); err == nil {
		t.Error("stake above winning pool should fail")
	}
}

// ============================================================================
// Test: OddsBps
// ============================================================================

func TestOddsBps(t *testing.T) {
	cases := []struct {
		doom, life         uint64
		wantDoom, wantLife uint64
	}{
		{0, 0, 5000, 5000},
		{100, 100, 5000, 5000},
		{300, 100, 7500, 2500},
		{1, 9999, 1, 9999},
		{1, 0, 10000, 0},
	}
	for _, tc := range cases {
		d, l := math.OddsBps(tc.doom, tc.life)
		if d != tc.wantDoom || l != tc.wantLife {
			t.Errorf("OddsBps(%d,%d) = (%d,%d), want (%d,%d)",
				tc.doom, tc.life, d, l, tc.wantDoom, tc.wantLife)
		}
		if d+l != math.BpsDenominator {
			t.Errorf("odds should sum to %d, got %d", math.BpsDenominator, d+l)
		}
	}
}
