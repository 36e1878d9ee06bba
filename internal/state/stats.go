package state

import (
	"PredictionLedger/internal/keys"
)

// UserStatsRecord names the per-participant lifetime stats image.
const UserStatsRecord = "UserStats"

// UserStats aggregates a participant's lifetime activity. Updated as a
// side effect of bets, claims, and event creation; it holds no funds.
type UserStats struct {
	Participant keys.Address

	TotalBets     uint64
	Wins          uint64
	Losses        uint64
	TotalWagered  uint64
	TotalWon      uint64 // winnings above returned stakes
	TotalLost     uint64 // stakes forfeited on losing bets
	EventsCreated uint64

	FirstBetAt int64
	LastBetAt  int64

	// CurrentStreak is signed: positive counts consecutive wins,
	// negative counts consecutive losses.
	CurrentStreak int64
	BestStreak    uint64 // longest win streak
	WorstStreak   uint64 // longest loss streak
}

// Address returns the stats record's derived account address.
func (s *UserStats) Address() keys.Address {
	return keys.UserStatsAddress(s.Participant)
}

// NetProfit returns lifetime winnings minus lifetime losses.
func (s *UserStats) NetProfit() int64 {
	return int64(s.TotalWon) - int64(s.TotalLost)
}

// RecordBet notes a placed stake.
func (s *UserStats) RecordBet(amount uint64, now int64) {
	s.TotalBets++
	s.TotalWagered += amount
	if s.FirstBetAt == 0 {
		s.FirstBetAt = now
	}
	s.LastBetAt = now
}

// RecordWin notes a claimed winning bet. winnings excludes the
// returned stake.
func (s *UserStats) RecordWin(winnings uint64) {
	s.Wins++
	s.TotalWon += winnings
	if s.CurrentStreak >= 0 {
		s.CurrentStreak++
	} else {
		s.CurrentStreak = 1
	}
	if uint64(s.CurrentStreak) > s.BestStreak {
		s.BestStreak = uint64(s.CurrentStreak)
	}
}

// RecordLoss notes a forfeited stake.
func (s *UserStats) RecordLoss(stake uint64) {
	s.Losses++
	s.TotalLost += stake
	if s.CurrentStreak <= 0 {
		s.CurrentStreak--
	} else {
		s.CurrentStreak = -1
	}
	if uint64(-s.CurrentStreak) > s.WorstStreak {
		s.WorstStreak = uint64(-s.CurrentStreak)
	}
}

// RecordEventCreated notes a created event.
func (s *UserStats) RecordEventCreated() {
	s.EventsCreated++
}

// Marshal returns the deterministic account image.
func (s *UserStats) Marshal() []byte {
	d := Discriminator(UserStatsRecord)
	buf := make([]byte, 0, 136)
	buf = append(buf, d[:]...)
	buf = append(buf, s.Participant[:]...)
	buf = appendU64(buf, s.TotalBets)
	buf = appendU64(buf, s.Wins)
	buf = appendU64(buf, s.Losses)
	buf = appendU64(buf, s.TotalWagered)
	buf = appendU64(buf, s.TotalWon)
	buf = appendU64(buf, s.TotalLost)
	buf = appendU64(buf, s.EventsCreated)
	buf = appendI64(buf, s.FirstBetAt)
	buf = appendI64(buf, s.LastBetAt)
	buf = appendI64(buf, s.CurrentStreak)
	buf = appendU64(buf, s.BestStreak)
	buf = appendU64(buf, s.WorstStreak)
	return buf
}

// UnmarshalUserStats parses a stats account image.
func UnmarshalUserStats(data []byte) (*UserStats, error) {
	r := newRecordReader(data, UserStatsRecord)
	s := &UserStats{
		Participant:   r.address(),
		TotalBets:     r.u64(),
		Wins:          r.u64(),
		Losses:        r.u64(),
		TotalWagered:  r.u64(),
		TotalWon:      r.u64(),
		TotalLost:     r.u64(),
		EventsCreated: r.u64(),
		FirstBetAt:    r.i64(),
		LastBetAt:     r.i64(),
		CurrentStreak: r.i64(),
		BestStreak:    r.u64(),
		WorstStreak:   r.u64(),
	}
	if err := r.finish(UserStatsRecord); err != nil {
		return nil, err
	}
	return s, nil
}
