package instruction

import "PredictionLedger/internal/keys"

// PlaceBet stakes Amount of the chosen side's token on an event.
// One bet per (event, participant); the bet record's derived address
// makes a second attempt an already-exists failure.
type PlaceBet struct {
	Key    string
	Seq    int64
	Time   int64
	Caller keys.Address
	ID     uint64
	Side   Outcome
	Amount uint64
}

func (p *PlaceBet) IdempotencyKey() string { return p.Key }
func (p *PlaceBet) Kind() Kind             { return KindPlaceBet }
func (p *PlaceBet) EventID() *uint64       { return &p.ID }
func (p *PlaceBet) SourceSequence() int64  { return p.Seq }
func (p *PlaceBet) UnixTime() int64        { return p.Time }
func (p *PlaceBet) Signer() keys.Address   { return p.Caller }

// ClaimWinnings pays out the caller's winning bet on a Resolved event.
type ClaimWinnings struct {
	Key    string
	Seq    int64
	Time   int64
	Caller keys.Address
	ID     uint64
}

func (c *ClaimWinnings) IdempotencyKey() string { return c.Key }
func (c *ClaimWinnings) Kind() Kind             { return KindClaimWinnings }
func (c *ClaimWinnings) EventID() *uint64       { return &c.ID }
func (c *ClaimWinnings) SourceSequence() int64  { return c.Seq }
func (c *ClaimWinnings) UnixTime() int64        { return c.Time }
func (c *ClaimWinnings) Signer() keys.Address   { return c.Caller }

// ClaimRefund returns the caller's stake on a Cancelled event.
type ClaimRefund struct {
	Key    string
	Seq    int64
	Time   int64
	Caller keys.Address
	ID     uint64
}

func (c *ClaimRefund) IdempotencyKey() string { return c.Key }
func (c *ClaimRefund) Kind() Kind             { return KindClaimRefund }
func (c *ClaimRefund) EventID() *uint64       { return &c.ID }
func (c *ClaimRefund) SourceSequence() int64  { return c.Seq }
func (c *ClaimRefund) UnixTime() int64        { return c.Time }
func (c *ClaimRefund) Signer() keys.Address   { return c.Caller }
