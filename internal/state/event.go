package state

import (
	"PredictionLedger/internal/instruction"
	"PredictionLedger/internal/keys"
	"PredictionLedger/internal/math"
)

// PredictionEventRecord names the event account image.
const PredictionEventRecord = "PredictionEvent"

// EventStatus is the event lifecycle state.
type EventStatus int32

const (
	EventStatusActive EventStatus = iota
	EventStatusResolved
	EventStatusCancelled
)

func (s EventStatus) String() string {
	switch s {
	case EventStatusActive:
		return "Active"
	case EventStatusResolved:
		return "Resolved"
	case EventStatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the status admits no further transition.
// Resolved and Cancelled are final.
func (s EventStatus) Terminal() bool {
	return s == EventStatusResolved || s == EventStatusCancelled
}

// CanTransitionTo validates status transitions.
func (s EventStatus) CanTransitionTo(next EventStatus) bool {
	return s == EventStatusActive && (next == EventStatusResolved || next == EventStatusCancelled)
}

// PredictionEvent is one market: a question, three deadlines, and two
// token pools whose vault balances the core keeps in lockstep with the
// pool counters.
type PredictionEvent struct {
	EventID     uint64
	Creator     keys.Address
	Title       string
	Description string

	BettingDeadline    int64 // stakes accepted strictly before
	EventDeadline      int64 // resolution window opens
	ResolutionDeadline int64 // resolution window closes

	Status     EventStatus
	OutcomeSet bool
	Outcome    instruction.Outcome

	DoomPool     uint64
	LifePool     uint64
	TotalBettors uint64

	CreatedAt  int64
	ResolvedAt int64
}

// Address returns the event's derived account address.
func (e *PredictionEvent) Address() keys.Address {
	return keys.EventAddress(e.EventID)
}

// IsBettingOpen reports whether a stake is accepted at the given time.
func (e *PredictionEvent) IsBettingOpen(now int64) bool {
	return e.Status == EventStatusActive && now < e.BettingDeadline
}

// InResolutionWindow reports whether the oracle may resolve at the
// given time.
func (e *PredictionEvent) InResolutionWindow(now int64) bool {
	return now >= e.EventDeadline && now <= e.ResolutionDeadline
}

// TotalPool returns the combined stake across both sides.
func (e *PredictionEvent) TotalPool() uint64 {
	return e.DoomPool + e.LifePool
}

// Pool returns the stake pool for one side.
func (e *PredictionEvent) Pool(side instruction.Outcome) uint64 {
	if side == instruction.OutcomeDoom {
		return e.DoomPool
	}
	return e.LifePool
}

// AddStake credits a side's pool.
func (e *PredictionEvent) AddStake(side instruction.Outcome, amount uint64) {
	if side == instruction.OutcomeDoom {
		e.DoomPool += amount
	} else {
		e.LifePool += amount
	}
}

// Odds returns each side's implied probability in basis points.
func (e *PredictionEvent) Odds() (doomBps, lifeBps uint64) {
	return math.OddsBps(e.DoomPool, e.LifePool)
}

// Marshal returns the deterministic account image.
func (e *PredictionEvent) Marshal() []byte {
	d := Discriminator(PredictionEventRecord)
	buf := make([]byte, 0, 256)
	buf = append(buf, d[:]...)
	buf = appendU64(buf, e.EventID)
	buf = append(buf, e.Creator[:]...)
	buf = appendString(buf, e.Title)
	buf = appendString(buf, e.Description)
	buf = appendI64(buf, e.BettingDeadline)
	buf = appendI64(buf, e.EventDeadline)
	buf = appendI64(buf, e.ResolutionDeadline)
	buf = append(buf, byte(e.Status))
	buf = appendBool(buf, e.OutcomeSet)
	buf = append(buf, byte(e.Outcome))
	buf = appendU64(buf, e.DoomPool)
	buf = appendU64(buf, e.LifePool)
	buf = appendU64(buf, e.TotalBettors)
	buf = appendI64(buf, e.CreatedAt)
	buf = appendI64(buf, e.ResolvedAt)
	return buf
}

// UnmarshalPredictionEvent parses an event account image.
func UnmarshalPredictionEvent(data []byte) (*PredictionEvent, error) {
	r := newRecordReader(data, PredictionEventRecord)
	e := &PredictionEvent{
		EventID:            r.u64(),
		Creator:            r.address(),
		Title:              r.str(instruction.MaxTitleLen),
		Description:        r.str(instruction.MaxDescriptionLen),
		BettingDeadline:    r.i64(),
		EventDeadline:      r.i64(),
		ResolutionDeadline: r.i64(),
		Status:             EventStatus(r.byte()),
		OutcomeSet:         r.boolean(),
		Outcome:            instruction.Outcome(r.byte()),
		DoomPool:           r.u64(),
		LifePool:           r.u64(),
		TotalBettors:       r.u64(),
		CreatedAt:          r.i64(),
		ResolvedAt:         r.i64(),
	}
	if err := r.finish(PredictionEventRecord); err != nil {
		return nil, err
	}
	return e, nil
}
