package query

import "PredictionLedger/internal/keys"

// PlatformResponse is the platform config singleton for API queries.
type PlatformResponse struct {
	Authority     keys.Address `json:"authority"`
	Oracle        keys.Address `json:"oracle"`
	DoomMint      keys.Address `json:"doom_mint"`
	LifeMint      keys.Address `json:"life_mint"`
	FeeBps        uint16       `json:"fee_bps"`
	Paused        bool         `json:"paused"`
	TotalDoomFees int64        `json:"total_doom_fees"`
	TotalLifeFees int64        `json:"total_life_fees"`
	TotalEvents   int64        `json:"total_events"`
	TotalBets     int64        `json:"total_bets"`
	AsOfSequence  int64        `json:"as_of_sequence"`
}

// EventResponse is a prediction event for API queries.
type EventResponse struct {
	EventID            uint64       `json:"event_id"`
	Address            keys.Address `json:"address"`
	Creator            keys.Address `json:"creator"`
	Title              string       `json:"title"`
	Description        string       `json:"description"`
	BettingDeadline    int64        `json:"betting_deadline"`
	EventDeadline      int64        `json:"event_deadline"`
	ResolutionDeadline int64        `json:"resolution_deadline"`
	Status             int16        `json:"status"`
	OutcomeSet         bool         `json:"outcome_set"`
	Outcome            int16        `json:"outcome"`
	DoomPool           int64        `json:"doom_pool"`
	LifePool           int64        `json:"life_pool"`
	DoomOddsBps        uint64       `json:"doom_odds_bps"` // Derived at query time
	LifeOddsBps        uint64       `json:"life_odds_bps"`
	TotalBettors       int64        `json:"total_bettors"`
	CreatedAt          int64        `json:"created_at"`
	ResolvedAt         int64        `json:"resolved_at"`
	AsOfSequence       int64        `json:"as_of_sequence"`
}

// BetResponse is a single bet record for API queries.
type BetResponse struct {
	Address      keys.Address `json:"address"`
	EventID      uint64       `json:"event_id"`
	Participant  keys.Address `json:"participant"`
	Side         int16        `json:"side"`
	Amount       int64        `json:"amount"`
	PlacedAt     int64        `json:"placed_at"`
	Claimed      bool         `json:"claimed"`
	AsOfSequence int64        `json:"as_of_sequence"`
}

// StatsResponse is a participant's lifetime stats for API queries.
type StatsResponse struct {
	Participant   keys.Address `json:"participant"`
	TotalBets     int64        `json:"total_bets"`
	Wins          int64        `json:"wins"`
	Losses        int64        `json:"losses"`
	TotalWagered  int64        `json:"total_wagered"`
	TotalWon      int64        `json:"total_won"`
	TotalLost     int64        `json:"total_lost"`
	NetProfit     int64        `json:"net_profit"` // Derived at query time
	EventsCreated int64        `json:"events_created"`
	FirstBetAt    int64        `json:"first_bet_at"`
	LastBetAt     int64        `json:"last_bet_at"`
	CurrentStreak int64        `json:"current_streak"` // Positive wins, negative losses
	BestStreak    int64        `json:"best_streak"`
	WorstStreak   int64        `json:"worst_streak"`
	AsOfSequence  int64        `json:"as_of_sequence"`
}

// AccountResponse is the raw account image at a derived address. The
// image is the authoritative record; Data encodes as base64 in JSON and
// clients decode it with the account codec.
type AccountResponse struct {
	Address      keys.Address `json:"address"`
	Kind         string       `json:"kind"`
	Data         []byte       `json:"data"`
	AsOfSequence int64        `json:"as_of_sequence"`
}

// BalanceResponse is a participant's spendable balances for API queries.
type BalanceResponse struct {
	Participant  keys.Address `json:"participant"`
	DoomBalance  int64        `json:"doom_balance"`
	LifeBalance  int64        `json:"life_balance"`
	AsOfSequence int64        `json:"as_of_sequence"`
}

// TransferHistoryEntry is one ledger leg for API queries.
type TransferHistoryEntry struct {
	JournalID      string `json:"journal_id"`
	BatchID        string `json:"batch_id"`
	InstructionRef string `json:"instruction_ref"`
	Sequence       int64  `json:"sequence"`
	DebitAccount   string `json:"debit_account"`
	CreditAccount  string `json:"credit_account"`
	Token          uint16 `json:"token"`
	Amount         int64  `json:"amount"`
	JournalType    int32  `json:"journal_type"`
	Timestamp      int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedTokens []UnbalancedToken `json:"unbalanced_tokens,omitempty"`
}

// UnbalancedToken represents a token with non-zero global balance sum.
type UnbalancedToken struct {
	Token     uint16 `json:"token"`
	Imbalance int64  `json:"imbalance"`
}
