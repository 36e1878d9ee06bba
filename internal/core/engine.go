package core

import (
	"fmt"
	"sort"
	"time"

	"PredictionLedger/internal/instruction"
	"PredictionLedger/internal/keys"
	"PredictionLedger/internal/ledger"
	pmmath "PredictionLedger/internal/math"
	"PredictionLedger/internal/observability"
	"PredictionLedger/internal/state"
)

// DeterministicCore is the single-threaded instruction processor. It owns
// the canonical state: the platform singleton, every event, bet, and stats
// record, and the double-entry balance book. Timestamps are versioned
// inputs carried on the instruction; the core never reads the wall clock.
type DeterministicCore struct {
	sequence          int64
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	platform    *state.PlatformConfig
	events      map[uint64]*state.PredictionEvent
	bets        map[keys.Address]*state.UserBet // keyed by derived bet address
	betsByEvent map[uint64][]keys.Address
	stats       map[keys.Address]*state.UserStats // keyed by participant

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// AccountUpdate is one account image rewritten by an instruction.
type AccountUpdate struct {
	Address keys.Address
	Kind    string // record name
	Data    []byte // serialized account image
}

// CoreOutput is the per-instruction result fanned out to persistence
// (blocking) and projections (non-blocking).
type CoreOutput struct {
	Envelope *instruction.Envelope

	// Source instruction, logged so the instruction log can be replayed
	Instruction instruction.Instruction

	Batch      *ledger.Batch
	Accounts   []AccountUpdate
	StateDelta []byte
}

// DefaultLRUCapacity bounds the in-memory idempotency tier when the
// caller does not configure one.
const DefaultLRUCapacity = 1_000_000

func NewDeterministicCore(
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	lruCapacity int,
	metrics *observability.Metrics,
) *DeterministicCore {
	balanceTracker := ledger.NewBalanceTracker()
	validator := ledger.NewInvariantValidator(balanceTracker)
	journalGen := ledger.NewJournalGenerator(startSequence, balanceTracker)

	if lruCapacity <= 0 {
		lruCapacity = DefaultLRUCapacity
	}
	idempotencyChecker := NewIdempotencyChecker(lruCapacity, dbChecker)
	sequenceValidator := NewSequenceValidator()

	return &DeterministicCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		journalGen:        journalGen,
		validator:         validator,
		idempotency:       idempotencyChecker,
		sequenceValidator: sequenceValidator,
		metrics:           metrics,
		events:            make(map[uint64]*state.PredictionEvent),
		bets:              make(map[keys.Address]*state.UserBet),
		betsByEvent:       make(map[uint64][]keys.Address),
		stats:             make(map[keys.Address]*state.UserStats),
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// ProcessInstruction is the main processing pipeline
func (c *DeterministicCore) ProcessInstruction(inst instruction.Instruction) error {
	start := time.Now()
	kind := inst.Kind().String()
	idempotencyKey := inst.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(kind, idempotencyKey)

	// Step 2: Sequence validation
	partition := c.getPartition(inst)
	sourceSequence := inst.SourceSequence()

	if err := c.sequenceValidator.ValidateSequence(partition, sourceSequence, idempotencyKey, isDuplicate); err != nil {
		return fmt.Errorf("sequence validation failed: %w", err)
	}

	// If duplicate, skip processing
	if isDuplicate {
		if c.metrics != nil {
			c.metrics.CoreInstructionsRejected.WithLabelValues(kind, "duplicate").Inc()
		}
		return nil
	}

	// Step 3: Dispatch. Domain rejections come back as typed errors; the
	// caller nacks/acks the delivery based on them. State has NOT been
	// mutated when dispatch fails.
	batch, accounts, err := c.dispatch(inst)
	if err != nil {
		if c.metrics != nil {
			c.metrics.CoreInstructionsRejected.WithLabelValues(kind, "rejected").Inc()
		}
		return fmt.Errorf("%s rejected: %w", kind, err)
	}

	// Step 4: Validate and apply the journal batch. State-only
	// instructions (initialize, create, cancel, resolve) move no funds
	// and carry no batch.
	if batch != nil && len(batch.Journals) > 0 {
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}

		if err := c.balanceTracker.ApplyBatch(batch); err != nil {
			panic(fmt.Sprintf("FATAL: apply batch failed after validation: %v", err))
		}
	}

	// Step 5: Compute state digest and chain hash
	stateDigest := c.computeStateDigest(batch, accounts)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	envelope := &instruction.Envelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		Kind:           inst.Kind(),
		EventID:        inst.EventID(),
		Timestamp:      time.Unix(inst.UnixTime(), 0).UTC(),
		SourceSequence: sourceSequence,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{
		Envelope:    envelope,
		Instruction: inst,
		Batch:       batch,
		Accounts:    accounts,
		StateDelta:  stateDigest,
	}
	c.sequence++

	// Step 6: Post-checks
	if err := c.postCheckInvariants(inst); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 7: Emit outputs.
	// Persistence: blocking send — the core stalls until the persistence
	// worker drains. This guarantees no instruction is lost.
	c.persistChan <- output

	// Projections: non-blocking send — drop on full. Projection workers
	// can rebuild from the instruction log if they fall behind.
	select {
	case c.projectionChan <- output:
	default:
		// Silently dropped — projection will catch up via rebuild
	}

	// Step 8: Mark as processed (add to LRU)
	c.idempotency.MarkProcessed(kind, idempotencyKey)

	// Record metrics
	if c.metrics != nil {
		c.metrics.CoreInstructionsApplied.WithLabelValues(kind).Inc()
		c.metrics.CoreInstructionDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
	}

	return nil
}

// getPartition determines partition key for sequence validation
func (c *DeterministicCore) getPartition(inst instruction.Instruction) string {
	if id := inst.EventID(); id != nil {
		return fmt.Sprintf("event:%d", *id)
	}
	return "global"
}

// computeStateDigest creates canonical bytes for the state hash: the
// balances touched by the batch (sorted by account path) followed by the
// rewritten account images (sorted by address).
func (c *DeterministicCore) computeStateDigest(batch *ledger.Batch, accounts []AccountUpdate) []byte {
	affected := make(map[ledger.AccountKey]bool)
	if batch != nil {
		for _, j := range batch.Journals {
			affected[j.DebitAccount] = true
			affected[j.CreditAccount] = true
		}
	}

	balanceKeys := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		balanceKeys = append(balanceKeys, key)
	}
	sort.Slice(balanceKeys, func(i, j int) bool {
		return balanceKeys[i].AccountPath() < balanceKeys[j].AccountPath()
	})

	digest := make([]byte, 0, len(balanceKeys)*64+len(accounts)*128)

	for _, key := range balanceKeys {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)
		digest = appendInt64LE(digest, c.balanceTracker.GetBalance(key))
	}

	sorted := make([]AccountUpdate, len(accounts))
	copy(sorted, accounts)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Address.String() < sorted[j].Address.String()
	})

	for _, acc := range sorted {
		digest = append(digest, acc.Address[:]...)
		digest = append(digest, acc.Data...)
	}

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// postCheckInvariants validates invariants after batch application
func (c *DeterministicCore) postCheckInvariants(inst instruction.Instruction) error {
	// Vault balances must track the pool counters on the touched event.
	if id := inst.EventID(); id != nil {
		if evt, ok := c.events[*id]; ok {
			if err := c.checkVaultsMatchPools(evt); err != nil {
				return err
			}
		}
	}

	// The signer must never go negative.
	signer := inst.Signer()
	for _, token := range []instruction.Token{instruction.TokenDoom, instruction.TokenLife} {
		if err := c.validator.ValidateUserNonNegative(signer, token); err != nil {
			return err
		}
	}

	// Periodic global zero-sum check.
	if c.sequence > 0 && c.sequence%1000 == 0 {
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			return fmt.Errorf("at seq %d: %w", c.sequence, err)
		}
	}

	return nil
}

// checkVaultsMatchPools compares an event's vault balances against its
// pool counters, net of claimed settlements.
func (c *DeterministicCore) checkVaultsMatchPools(evt *state.PredictionEvent) error {
	if !evt.Status.Terminal() {
		eventAddr := evt.Address()
		if err := c.validator.ValidateVaultMatchesPool(
			keys.DoomVaultAddress(eventAddr), instruction.TokenDoom, int64(evt.DoomPool)); err != nil {
			return err
		}
		if err := c.validator.ValidateVaultMatchesPool(
			keys.LifeVaultAddress(eventAddr), instruction.TokenLife, int64(evt.LifePool)); err != nil {
			return err
		}
		return nil
	}

	// After resolution or cancellation claims drain the vaults; they may
	// only go down, never below zero.
	eventAddr := evt.Address()
	if err := c.validator.ValidateVaultNonNegative(keys.DoomVaultAddress(eventAddr), instruction.TokenDoom); err != nil {
		return err
	}
	return c.validator.ValidateVaultNonNegative(keys.LifeVaultAddress(eventAddr), instruction.TokenLife)
}

// --- Instruction handlers ---

func (c *DeterministicCore) dispatch(inst instruction.Instruction) (*ledger.Batch, []AccountUpdate, error) {
	switch i := inst.(type) {
	case *instruction.Initialize:
		return c.applyInitialize(i)
	case *instruction.UpdatePlatform:
		return c.applyUpdatePlatform(i)
	case *instruction.CreateEvent:
		return c.applyCreateEvent(i)
	case *instruction.CancelEvent:
		return c.applyCancelEvent(i)
	case *instruction.PlaceBet:
		return c.applyPlaceBet(i)
	case *instruction.ResolveEvent:
		return c.applyResolveEvent(i)
	case *instruction.ClaimWinnings:
		return c.applyClaimWinnings(i)
	case *instruction.ClaimRefund:
		return c.applyClaimRefund(i)
	case *instruction.Deposit:
		return c.applyDeposit(i)
	case *instruction.WithdrawFees:
		return c.applyWithdrawFees(i)
	default:
		return nil, nil, fmt.Errorf("unknown instruction type: %T", inst)
	}
}

func (c *DeterministicCore) applyInitialize(inst *instruction.Initialize) (*ledger.Batch, []AccountUpdate, error) {
	if c.platform != nil {
		return nil, nil, ErrAlreadyInitialized
	}
	if inst.FeeBps > state.MaxFeeBps {
		return nil, nil, fmt.Errorf("%w: %d", ErrInvalidFee, inst.FeeBps)
	}

	// The caller becomes authority AND the initial oracle.
	c.platform = &state.PlatformConfig{
		Authority: inst.Caller,
		Oracle:    inst.Caller,
		DoomMint:  inst.DoomMint,
		LifeMint:  inst.LifeMint,
		FeeBps:    inst.FeeBps,
	}

	return nil, c.platformUpdate(), nil
}

func (c *DeterministicCore) applyUpdatePlatform(inst *instruction.UpdatePlatform) (*ledger.Batch, []AccountUpdate, error) {
	if c.platform == nil {
		return nil, nil, ErrNotInitialized
	}
	if inst.Caller != c.platform.Authority {
		return nil, nil, ErrUnauthorized
	}
	if inst.FeeBps != nil && *inst.FeeBps > state.MaxFeeBps {
		return nil, nil, fmt.Errorf("%w: %d", ErrInvalidFee, *inst.FeeBps)
	}

	if inst.FeeBps != nil {
		c.platform.FeeBps = *inst.FeeBps
	}
	if inst.Oracle != nil {
		c.platform.Oracle = *inst.Oracle
	}
	if inst.Paused != nil {
		c.platform.Paused = *inst.Paused
	}

	return nil, c.platformUpdate(), nil
}

func (c *DeterministicCore) applyCreateEvent(inst *instruction.CreateEvent) (*ledger.Batch, []AccountUpdate, error) {
	if c.platform == nil {
		return nil, nil, ErrNotInitialized
	}
	if c.platform.Paused {
		return nil, nil, ErrPlatformPaused
	}
	if _, exists := c.events[inst.ID]; exists {
		return nil, nil, fmt.Errorf("%w: %d", ErrEventExists, inst.ID)
	}
	if len(inst.Title) == 0 || len(inst.Title) > instruction.MaxTitleLen {
		return nil, nil, ErrInvalidTitle
	}
	if len(inst.Description) > instruction.MaxDescriptionLen {
		return nil, nil, ErrInvalidDescription
	}

	now := inst.UnixTime()
	if !(now < inst.BettingDeadline &&
		inst.BettingDeadline < inst.EventDeadline &&
		inst.EventDeadline < inst.ResolutionDeadline) {
		return nil, nil, ErrInvalidDeadline
	}

	evt := &state.PredictionEvent{
		EventID:            inst.ID,
		Creator:            inst.Caller,
		Title:              inst.Title,
		Description:        inst.Description,
		BettingDeadline:    inst.BettingDeadline,
		EventDeadline:      inst.EventDeadline,
		ResolutionDeadline: inst.ResolutionDeadline,
		Status:             state.EventStatusActive,
		CreatedAt:          now,
	}
	c.events[inst.ID] = evt
	c.platform.TotalEvents++

	st := c.statsFor(inst.Caller)
	st.RecordEventCreated()

	if c.metrics != nil {
		c.metrics.EventsCreated.Inc()
	}

	return nil, append(c.platformUpdate(), c.eventUpdate(evt), c.statsUpdate(st)), nil
}

func (c *DeterministicCore) applyCancelEvent(inst *instruction.CancelEvent) (*ledger.Batch, []AccountUpdate, error) {
	if c.platform == nil {
		return nil, nil, ErrNotInitialized
	}
	if inst.Caller != c.platform.Authority {
		return nil, nil, ErrUnauthorized
	}
	evt, ok := c.events[inst.ID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", ErrEventNotFound, inst.ID)
	}
	if evt.Status != state.EventStatusActive {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidState, evt.Status)
	}

	// Cancellation moves no funds; it unlocks the refund path.
	evt.Status = state.EventStatusCancelled
	evt.ResolvedAt = inst.UnixTime()

	if c.metrics != nil {
		c.metrics.EventsCancelled.Inc()
	}

	return nil, []AccountUpdate{c.eventUpdate(evt)}, nil
}

func (c *DeterministicCore) applyPlaceBet(inst *instruction.PlaceBet) (*ledger.Batch, []AccountUpdate, error) {
	if c.platform == nil {
		return nil, nil, ErrNotInitialized
	}
	if c.platform.Paused {
		return nil, nil, ErrPlatformPaused
	}
	evt, ok := c.events[inst.ID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", ErrEventNotFound, inst.ID)
	}

	now := inst.UnixTime()
	if evt.Status != state.EventStatusActive {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidState, evt.Status)
	}
	if now >= evt.BettingDeadline {
		return nil, nil, fmt.Errorf("betting closed: %w", ErrTooLate)
	}
	if !inst.Side.Valid() {
		return nil, nil, ErrInvalidOutcome
	}
	if inst.Amount == 0 {
		return nil, nil, ErrInvalidBetAmount
	}

	betAddr := keys.UserBetAddress(evt.Address(), inst.Caller)
	if _, exists := c.bets[betAddr]; exists {
		return nil, nil, ErrDuplicateBet
	}

	token := instruction.TokenForSide(inst.Side)
	if c.balanceTracker.GetUserBalance(inst.Caller, token) < int64(inst.Amount) {
		return nil, nil, fmt.Errorf("%w: %s stake of %d", ErrInsufficientFunds, token, inst.Amount)
	}

	vault := keys.DoomVaultAddress(evt.Address())
	if inst.Side == instruction.OutcomeLife {
		vault = keys.LifeVaultAddress(evt.Address())
	}

	batch, err := c.journalGen.GenerateStake(inst.Key, inst.Caller, vault, token, inst.Amount, now)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	}

	bet := &state.UserBet{
		Event:       evt.Address(),
		Participant: inst.Caller,
		EventID:     inst.ID,
		Side:        inst.Side,
		Amount:      inst.Amount,
		PlacedAt:    now,
	}
	c.bets[betAddr] = bet
	c.betsByEvent[inst.ID] = append(c.betsByEvent[inst.ID], betAddr)

	evt.AddStake(inst.Side, inst.Amount)
	evt.TotalBettors++
	c.platform.TotalBets++

	st := c.statsFor(inst.Caller)
	st.RecordBet(inst.Amount, now)

	if c.metrics != nil {
		c.metrics.BetsPlaced.WithLabelValues(inst.Side.String()).Inc()
		c.metrics.StakeVolume.WithLabelValues(token.String()).Add(float64(inst.Amount))
	}

	accounts := append(c.platformUpdate(), c.eventUpdate(evt), c.betUpdate(bet), c.statsUpdate(st))
	return batch, accounts, nil
}

func (c *DeterministicCore) applyResolveEvent(inst *instruction.ResolveEvent) (*ledger.Batch, []AccountUpdate, error) {
	if c.platform == nil {
		return nil, nil, ErrNotInitialized
	}
	if inst.Caller != c.platform.Oracle {
		return nil, nil, ErrUnauthorized
	}
	evt, ok := c.events[inst.ID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", ErrEventNotFound, inst.ID)
	}
	if evt.Status != state.EventStatusActive {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidState, evt.Status)
	}
	if !inst.Outcome.Valid() {
		return nil, nil, ErrInvalidOutcome
	}

	now := inst.UnixTime()
	if now < evt.EventDeadline {
		return nil, nil, ErrTooEarly
	}
	if now > evt.ResolutionDeadline {
		return nil, nil, ErrTooLate
	}

	evt.Status = state.EventStatusResolved
	evt.OutcomeSet = true
	evt.Outcome = inst.Outcome
	evt.ResolvedAt = now

	// Losses are realized at resolution; wins are realized as winners claim.
	accounts := []AccountUpdate{c.eventUpdate(evt)}
	for _, betAddr := range c.betsByEvent[inst.ID] {
		bet := c.bets[betAddr]
		if bet.Side != inst.Outcome {
			st := c.statsFor(bet.Participant)
			st.RecordLoss(bet.Amount)
			accounts = append(accounts, c.statsUpdate(st))
		}
	}

	if c.metrics != nil {
		c.metrics.EventsResolved.WithLabelValues(inst.Outcome.String()).Inc()
	}

	return nil, accounts, nil
}

func (c *DeterministicCore) applyClaimWinnings(inst *instruction.ClaimWinnings) (*ledger.Batch, []AccountUpdate, error) {
	if c.platform == nil {
		return nil, nil, ErrNotInitialized
	}
	evt, ok := c.events[inst.ID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", ErrEventNotFound, inst.ID)
	}
	if evt.Status != state.EventStatusResolved || !evt.OutcomeSet {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidState, evt.Status)
	}

	betAddr := keys.UserBetAddress(evt.Address(), inst.Caller)
	bet, ok := c.bets[betAddr]
	if !ok {
		return nil, nil, ErrBetNotFound
	}
	if bet.Claimed {
		return nil, nil, ErrDuplicateClaim
	}
	if bet.Side != evt.Outcome {
		return nil, nil, ErrNotAWinner
	}

	winningSide := evt.Outcome
	losingSide := winningSide.Opposite()
	quote, err := pmmath.QuotePayout(bet.Amount, evt.Pool(winningSide), evt.Pool(losingSide), c.platform.FeeBps)
	if err != nil {
		panic(fmt.Sprintf("FATAL: payout quote for recorded winner: %v", err))
	}

	eventAddr := evt.Address()
	winningVault := keys.DoomVaultAddress(eventAddr)
	losingVault := keys.LifeVaultAddress(eventAddr)
	if winningSide == instruction.OutcomeLife {
		winningVault, losingVault = losingVault, winningVault
	}

	batch, err := c.journalGen.GenerateWinningsClaim(
		inst.Key, inst.Caller,
		winningVault, losingVault,
		instruction.TokenForSide(winningSide), instruction.TokenForSide(losingSide),
		quote, inst.UnixTime(),
	)
	if err != nil {
		return nil, nil, err
	}

	bet.Claimed = true
	c.platform.AddFees(instruction.TokenForSide(losingSide), quote.FeeShare)

	st := c.statsFor(inst.Caller)
	st.RecordWin(quote.WinningsShare)

	if c.metrics != nil {
		c.metrics.ClaimsPaid.WithLabelValues("winnings").Inc()
		c.metrics.FeesWithheld.WithLabelValues(instruction.TokenForSide(losingSide).String()).Add(float64(quote.FeeShare))
	}

	accounts := append(c.platformUpdate(), c.betUpdate(bet), c.statsUpdate(st))
	return batch, accounts, nil
}

func (c *DeterministicCore) applyClaimRefund(inst *instruction.ClaimRefund) (*ledger.Batch, []AccountUpdate, error) {
	if c.platform == nil {
		return nil, nil, ErrNotInitialized
	}
	evt, ok := c.events[inst.ID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", ErrEventNotFound, inst.ID)
	}
	if evt.Status != state.EventStatusCancelled {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidState, evt.Status)
	}

	betAddr := keys.UserBetAddress(evt.Address(), inst.Caller)
	bet, ok := c.bets[betAddr]
	if !ok {
		return nil, nil, ErrBetNotFound
	}
	if bet.Claimed {
		return nil, nil, ErrDuplicateClaim
	}

	token := instruction.TokenForSide(bet.Side)
	vault := keys.DoomVaultAddress(evt.Address())
	if bet.Side == instruction.OutcomeLife {
		vault = keys.LifeVaultAddress(evt.Address())
	}

	batch, err := c.journalGen.GenerateRefund(inst.Key, inst.Caller, vault, token, bet.Amount, inst.UnixTime())
	if err != nil {
		return nil, nil, err
	}

	bet.Claimed = true

	if c.metrics != nil {
		c.metrics.ClaimsPaid.WithLabelValues("refund").Inc()
	}

	return batch, []AccountUpdate{c.betUpdate(bet)}, nil
}

func (c *DeterministicCore) applyDeposit(inst *instruction.Deposit) (*ledger.Batch, []AccountUpdate, error) {
	if c.platform == nil {
		return nil, nil, ErrNotInitialized
	}
	if !inst.Token.Valid() {
		return nil, nil, ErrInvalidOutcome
	}
	if inst.Amount == 0 {
		return nil, nil, ErrInvalidAmount
	}

	batch, err := c.journalGen.GenerateDeposit(inst.Key, inst.Caller, inst.Token, inst.Amount, inst.UnixTime())
	if err != nil {
		return nil, nil, err
	}

	return batch, nil, nil
}

func (c *DeterministicCore) applyWithdrawFees(inst *instruction.WithdrawFees) (*ledger.Batch, []AccountUpdate, error) {
	if c.platform == nil {
		return nil, nil, ErrNotInitialized
	}
	if inst.Caller != c.platform.Authority {
		return nil, nil, ErrUnauthorized
	}
	if !inst.Token.Valid() {
		return nil, nil, ErrInvalidOutcome
	}
	if inst.Amount == 0 {
		return nil, nil, ErrInvalidAmount
	}
	if inst.Amount > c.platform.AccruedFees(inst.Token) {
		return nil, nil, fmt.Errorf("%w: accrued %s fees are %d",
			ErrInsufficientFunds, inst.Token, c.platform.AccruedFees(inst.Token))
	}

	batch, err := c.journalGen.GenerateFeeWithdrawal(inst.Key, inst.Token, inst.Amount, inst.UnixTime())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	}

	if err := c.platform.DeductFees(inst.Token, inst.Amount); err != nil {
		panic(fmt.Sprintf("FATAL: fee counter drifted from fee account: %v", err))
	}

	return batch, c.platformUpdate(), nil
}

// --- account image helpers ---

func (c *DeterministicCore) platformUpdate() []AccountUpdate {
	return []AccountUpdate{{
		Address: keys.PlatformConfigAddress(),
		Kind:    state.PlatformConfigRecord,
		Data:    c.platform.Marshal(),
	}}
}

func (c *DeterministicCore) eventUpdate(evt *state.PredictionEvent) AccountUpdate {
	return AccountUpdate{
		Address: evt.Address(),
		Kind:    state.PredictionEventRecord,
		Data:    evt.Marshal(),
	}
}

func (c *DeterministicCore) betUpdate(bet *state.UserBet) AccountUpdate {
	return AccountUpdate{
		Address: bet.Address(),
		Kind:    state.UserBetRecord,
		Data:    bet.Marshal(),
	}
}

func (c *DeterministicCore) statsUpdate(st *state.UserStats) AccountUpdate {
	return AccountUpdate{
		Address: st.Address(),
		Kind:    state.UserStatsRecord,
		Data:    st.Marshal(),
	}
}

func (c *DeterministicCore) statsFor(participant keys.Address) *state.UserStats {
	st, ok := c.stats[participant]
	if !ok {
		st = &state.UserStats{Participant: participant}
		c.stats[participant] = st
	}
	return st
}

// --- Read accessors (tests and startup) ---

// Platform returns the singleton, nil before initialization.
func (c *DeterministicCore) Platform() *state.PlatformConfig {
	return c.platform
}

// Event returns an event by id.
func (c *DeterministicCore) Event(id uint64) (*state.PredictionEvent, bool) {
	evt, ok := c.events[id]
	return evt, ok
}

// Bet returns a participant's bet on an event.
func (c *DeterministicCore) Bet(eventID uint64, participant keys.Address) (*state.UserBet, bool) {
	evt, ok := c.events[eventID]
	if !ok {
		return nil, false
	}
	bet, ok := c.bets[keys.UserBetAddress(evt.Address(), participant)]
	return bet, ok
}

// Stats returns a participant's lifetime stats, nil if none recorded.
func (c *DeterministicCore) Stats(participant keys.Address) *state.UserStats {
	return c.stats[participant]
}

// UserBalance returns a participant's spendable balance.
func (c *DeterministicCore) UserBalance(participant keys.Address, token instruction.Token) int64 {
	return c.balanceTracker.GetUserBalance(participant, token)
}

// FeesBalance returns the platform fee account balance.
func (c *DeterministicCore) FeesBalance(token instruction.Token) int64 {
	return c.balanceTracker.GetFeesBalance(token)
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
// This mirrors persistence.SnapshotData but uses typed fields.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Balances        map[ledger.AccountKey]int64
	Platform        *state.PlatformConfig
	Events          []*state.PredictionEvent
	Bets            []*state.UserBet
	Stats           []*state.UserStats
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot restores the core's in-memory state from a snapshot.
// On warm restart: load the latest snapshot, then replay the instruction
// log from Sequence+1.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.sequence = snap.Sequence + 1 // Next sequence to assign
	c.hasher.SetPrevHash(snap.StateHash)

	for key, balance := range snap.Balances {
		c.balanceTracker.SetBalance(key, balance)
	}

	c.platform = snap.Platform

	for _, evt := range snap.Events {
		c.events[evt.EventID] = evt
	}
	for _, bet := range snap.Bets {
		addr := bet.Address()
		c.bets[addr] = bet
		c.betsByEvent[bet.EventID] = append(c.betsByEvent[bet.EventID], addr)
	}
	for _, st := range snap.Stats {
		c.stats[st.Participant] = st
	}

	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.SetExpectedSequence(partition, nextSeq)
	}

	c.journalGen.SetSequence(snap.Sequence + 1)
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the current global sequence number.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// ExpectedSourceSequence returns the next expected source sequence for a
// partition. Only safe to call from the processing goroutine, or before
// processing starts.
func (c *DeterministicCore) ExpectedSourceSequence(partition string) int64 {
	return c.sequenceValidator.GetExpectedSequence(partition)
}

// ReplayInstruction processes a logged instruction during recovery. Only
// applied instructions reach the log: a live rejection consumes a source
// sequence slot without producing a log row, so the logged sequences on a
// partition can have gaps. The log is trusted (like the dedup tier during
// replay), so the validator is fast-forwarded to each row's sequence
// before processing. Never rewinds: stale rows still fail validation.
func (c *DeterministicCore) ReplayInstruction(inst instruction.Instruction) error {
	partition := c.getPartition(inst)
	if seq := inst.SourceSequence(); seq > c.sequenceValidator.GetExpectedSequence(partition) {
		c.sequenceValidator.SetExpectedSequence(partition, seq)
	}
	return c.ProcessInstruction(inst)
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	events := make([]*state.PredictionEvent, 0, len(c.events))
	for _, evt := range c.events {
		events = append(events, evt)
	}
	bets := make([]*state.UserBet, 0, len(c.bets))
	for _, bet := range c.bets {
		bets = append(bets, bet)
	}
	stats := make([]*state.UserStats, 0, len(c.stats))
	for _, st := range c.stats {
		stats = append(stats, st)
	}

	return &SnapshotState{
		Sequence:        c.sequence - 1, // Last processed sequence
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        c.balanceTracker.Snapshot(),
		Platform:        c.platform,
		Events:          events,
		Bets:            bets,
		Stats:           stats,
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
}
