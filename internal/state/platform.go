package state

import (
	"fmt"

	"PredictionLedger/internal/instruction"
	"PredictionLedger/internal/keys"
)

// PlatformConfigRecord names the platform singleton's account image.
const PlatformConfigRecord = "PlatformConfig"

// MaxFeeBps caps the platform fee at 100%.
const MaxFeeBps = 10000

// PlatformConfig is the platform-wide singleton. Created once by
// Initialize; the authority it records gates every privileged operation
// from then on.
type PlatformConfig struct {
	Authority keys.Address
	Oracle    keys.Address
	DoomMint  keys.Address
	LifeMint  keys.Address
	FeeBps    uint16
	Paused    bool

	// Fees accrued to the platform, per token, withheld from losing
	// pools as winners claim.
	TotalDoomFees uint64
	TotalLifeFees uint64

	// Lifetime counters.
	TotalEvents uint64
	TotalBets   uint64
}

// MintFor returns the mint address backing a token.
func (p *PlatformConfig) MintFor(token instruction.Token) keys.Address {
	if token == instruction.TokenDoom {
		return p.DoomMint
	}
	return p.LifeMint
}

// AccruedFees returns the fee balance held for a token.
func (p *PlatformConfig) AccruedFees(token instruction.Token) uint64 {
	if token == instruction.TokenDoom {
		return p.TotalDoomFees
	}
	return p.TotalLifeFees
}

// AddFees accrues a fee share to the token's counter.
func (p *PlatformConfig) AddFees(token instruction.Token, amount uint64) {
	if token == instruction.TokenDoom {
		p.TotalDoomFees += amount
	} else {
		p.TotalLifeFees += amount
	}
}

// DeductFees removes withdrawn fees from the token's counter.
func (p *PlatformConfig) DeductFees(token instruction.Token, amount uint64) error {
	have := p.AccruedFees(token)
	if amount > have {
		return fmt.Errorf("withdraw %d exceeds accrued %s fees %d", amount, token, have)
	}
	if token == instruction.TokenDoom {
		p.TotalDoomFees -= amount
	} else {
		p.TotalLifeFees -= amount
	}
	return nil
}

// Marshal returns the deterministic account image:
// discriminator(8) + authority(32) + oracle(32) + doom mint(32) +
// life mint(32) + fee bps(2 LE) + paused(1) + four u64 counters.
func (p *PlatformConfig) Marshal() []byte {
	d := Discriminator(PlatformConfigRecord)
	buf := make([]byte, 0, 171)
	buf = append(buf, d[:]...)
	buf = append(buf, p.Authority[:]...)
	buf = append(buf, p.Oracle[:]...)
	buf = append(buf, p.DoomMint[:]...)
	buf = append(buf, p.LifeMint[:]...)
	buf = appendU16(buf, p.FeeBps)
	buf = appendBool(buf, p.Paused)
	buf = appendU64(buf, p.TotalDoomFees)
	buf = appendU64(buf, p.TotalLifeFees)
	buf = appendU64(buf, p.TotalEvents)
	buf = appendU64(buf, p.TotalBets)
	return buf
}

// UnmarshalPlatformConfig parses a platform singleton image.
func UnmarshalPlatformConfig(data []byte) (*PlatformConfig, error) {
	r := newRecordReader(data, PlatformConfigRecord)
	p := &PlatformConfig{
		Authority:     r.address(),
		Oracle:        r.address(),
		DoomMint:      r.address(),
		LifeMint:      r.address(),
		FeeBps:        r.u16(),
		Paused:        r.boolean(),
		TotalDoomFees: r.u64(),
		TotalLifeFees: r.u64(),
		TotalEvents:   r.u64(),
		TotalBets:     r.u64(),
	}
	if err := r.finish(PlatformConfigRecord); err != nil {
		return nil, err
	}
	return p, nil
}
