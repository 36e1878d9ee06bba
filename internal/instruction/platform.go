package instruction

import "PredictionLedger/internal/keys"

// Initialize creates the platform config singleton. The caller becomes both
// the administrative authority and the initial oracle.
type Initialize struct {
	Key      string
	Seq      int64
	Time     int64
	Caller   keys.Address
	FeeBps   uint16
	DoomMint keys.Address
	LifeMint keys.Address
}

func (i *Initialize) IdempotencyKey() string { return i.Key }
func (i *Initialize) Kind() Kind             { return KindInitialize }
func (i *Initialize) EventID() *uint64       { return nil }
func (i *Initialize) SourceSequence() int64  { return i.Seq }
func (i *Initialize) UnixTime() int64        { return i.Time }
func (i *Initialize) Signer() keys.Address   { return i.Caller }

// UpdatePlatform changes config fields. Each optional field, if set,
// replaces the stored value after validation. Authority only.
type UpdatePlatform struct {
	Key    string
	Seq    int64
	Time   int64
	Caller keys.Address
	FeeBps *uint16
	Oracle *keys.Address
	Paused *bool
}

func (u *UpdatePlatform) IdempotencyKey() string { return u.Key }
func (u *UpdatePlatform) Kind() Kind             { return KindUpdatePlatform }
func (u *UpdatePlatform) EventID() *uint64       { return nil }
func (u *UpdatePlatform) SourceSequence() int64  { return u.Seq }
func (u *UpdatePlatform) UnixTime() int64        { return u.Time }
func (u *UpdatePlatform) Signer() keys.Address   { return u.Caller }

// Deposit credits the caller's tracked token balance from the external mint
// boundary. Stakes are funded from this balance.
type Deposit struct {
	Key    string
	Seq    int64
	Time   int64
	Caller keys.Address
	Token  Token
	Amount uint64
}

func (d *Deposit) IdempotencyKey() string { return d.Key }
func (d *Deposit) Kind() Kind             { return KindDeposit }
func (d *Deposit) EventID() *uint64       { return nil }
func (d *Deposit) SourceSequence() int64  { return d.Seq }
func (d *Deposit) UnixTime() int64        { return d.Time }
func (d *Deposit) Signer() keys.Address   { return d.Caller }

// WithdrawFees moves accumulated platform fees to the authority's balance.
type WithdrawFees struct {
	Key    string
	Seq    int64
	Time   int64
	Caller keys.Address
	Token  Token
	Amount uint64
}

func (w *WithdrawFees) IdempotencyKey() string { return w.Key }
func (w *WithdrawFees) Kind() Kind             { return KindWithdrawFees }
func (w *WithdrawFees) EventID() *uint64       { return nil }
func (w *WithdrawFees) SourceSequence() int64  { return w.Seq }
func (w *WithdrawFees) UnixTime() int64        { return w.Time }
func (w *WithdrawFees) Signer() keys.Address   { return w.Caller }
