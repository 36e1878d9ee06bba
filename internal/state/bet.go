package state

import (
	"PredictionLedger/internal/instruction"
	"PredictionLedger/internal/keys"
)

// UserBetRecord names the per-participant bet account image.
const UserBetRecord = "UserBet"

// UserBet is one participant's single stake on an event. Its address is
// derived from (event, participant), so a second stake collides with the
// existing record.
type UserBet struct {
	Event       keys.Address
	Participant keys.Address
	EventID     uint64
	Side        instruction.Outcome
	Amount      uint64
	PlacedAt    int64
	Claimed     bool
}

// Address returns the bet's derived account address.
func (b *UserBet) Address() keys.Address {
	return keys.UserBetAddress(b.Event, b.Participant)
}

// Marshal returns the deterministic account image.
func (b *UserBet) Marshal() []byte {
	d := Discriminator(UserBetRecord)
	buf := make([]byte, 0, 98)
	buf = append(buf, d[:]...)
	buf = append(buf, b.Event[:]...)
	buf = append(buf, b.Participant[:]...)
	buf = appendU64(buf, b.EventID)
	buf = append(buf, byte(b.Side))
	buf = appendU64(buf, b.Amount)
	buf = appendI64(buf, b.PlacedAt)
	buf = appendBool(buf, b.Claimed)
	return buf
}

// UnmarshalUserBet parses a bet account image.
func UnmarshalUserBet(data []byte) (*UserBet, error) {
	r := newRecordReader(data, UserBetRecord)
	b := &UserBet{
		Event:       r.address(),
		Participant: r.address(),
		EventID:     r.u64(),
		Side:        instruction.Outcome(r.byte()),
		Amount:      r.u64(),
		PlacedAt:    r.i64(),
		Claimed:     r.boolean(),
	}
	if err := r.finish(UserBetRecord); err != nil {
		return nil, err
	}
	return b, nil
}
