package instruction

import "PredictionLedger/internal/keys"

// CreateEvent allocates a prediction event and its two vaults.
type CreateEvent struct {
	Key                string
	Seq                int64
	Time               int64
	Caller             keys.Address
	ID                 uint64
	Title              string
	Description        string
	BettingDeadline    int64 // epoch seconds; stakes accepted strictly before
	EventDeadline      int64 // the predicted moment; resolution allowed from here
	ResolutionDeadline int64 // resolution allowed up to here
}

func (c *CreateEvent) IdempotencyKey() string { return c.Key }
func (c *CreateEvent) Kind() Kind             { return KindCreateEvent }
func (c *CreateEvent) EventID() *uint64       { return &c.ID }
func (c *CreateEvent) SourceSequence() int64  { return c.Seq }
func (c *CreateEvent) UnixTime() int64        { return c.Time }
func (c *CreateEvent) Signer() keys.Address   { return c.Caller }

// CancelEvent moves an Active event to Cancelled. Authority only.
// Moves no funds; it unlocks the refund path.
type CancelEvent struct {
	Key    string
	Seq    int64
	Time   int64
	Caller keys.Address
	ID     uint64
}

func (c *CancelEvent) IdempotencyKey() string { return c.Key }
func (c *CancelEvent) Kind() Kind             { return KindCancelEvent }
func (c *CancelEvent) EventID() *uint64       { return &c.ID }
func (c *CancelEvent) SourceSequence() int64  { return c.Seq }
func (c *CancelEvent) UnixTime() int64        { return c.Time }
func (c *CancelEvent) Signer() keys.Address   { return c.Caller }

// ResolveEvent records the winning outcome. Oracle only, inside the
// [EventDeadline, ResolutionDeadline] window.
type ResolveEvent struct {
	Key     string
	Seq     int64
	Time    int64
	Caller  keys.Address
	ID      uint64
	Outcome Outcome
}

func (r *ResolveEvent) IdempotencyKey() string { return r.Key }
func (r *ResolveEvent) Kind() Kind             { return KindResolveEvent }
func (r *ResolveEvent) EventID() *uint64       { return &r.ID }
func (r *ResolveEvent) SourceSequence() int64  { return r.Seq }
func (r *ResolveEvent) UnixTime() int64        { return r.Time }
func (r *ResolveEvent) Signer() keys.Address   { return r.Caller }
