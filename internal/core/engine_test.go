package core_test

import (
	"errors"
	"fmt"
	"testing"

	"PredictionLedger/internal/core"
	"PredictionLedger/internal/instruction"
	"PredictionLedger/internal/keys"
	"PredictionLedger/internal/state"
)

const (
	baseTime     = int64(1_700_000_000)
	dayInSeconds = int64(86_400)
)

func testAddr(name string) keys.Address {
	return keys.Derive("test_identity", []byte(name))
}

// harness drives a core through buffered output channels and assigns
// per-partition source sequences the way the ingestion layer would.
type harness struct {
	t          *testing.T
	core       *core.DeterministicCore
	persist    chan core.CoreOutput
	projection chan core.CoreOutput
	nextSeq    map[string]int64
	nextKey    int
}

func newHarness(t *testing.T) *harness {
	persist := make(chan core.CoreOutput, 4096)
	projection := make(chan core.CoreOutput, 4096)
	return &harness{
		t:          t,
		core:       core.NewDeterministicCore(1, persist, projection, nil, 0, nil),
		persist:    persist,
		projection: projection,
		nextSeq:    make(map[string]int64),
	}
}

func (h *harness) seq(partition string) int64 {
	s := h.nextSeq[partition]
	h.nextSeq[partition] = s + 1
	return s
}

func (h *harness) key() string {
	h.nextKey++
	return fmt.Sprintf("key-%d", h.nextKey)
}

func (h *harness) mustProcess(inst instruction.Instruction) {
	h.t.Helper()
	if err := h.core.ProcessInstruction(inst); err != nil {
		h.t.Fatalf("ProcessInstruction(%s) failed: %v", inst.Kind(), err)
	}
}

func (h *harness) processWant(inst instruction.Instruction, want error) {
	h.t.Helper()
	err := h.core.ProcessInstruction(inst)
	if err == nil {
		h.t.Fatalf("ProcessInstruction(%s) should have failed with %v", inst.Kind(), want)
	}
	if !errors.Is(err, want) {
		h.t.Fatalf("ProcessInstruction(%s): got %v, want %v", inst.Kind(), err, want)
	}
}

func (h *harness) initialize(authority keys.Address, feeBps uint16) *instruction.Initialize {
	return &instruction.Initialize{
		Key: h.key(), Seq: h.seq("global"), Time: baseTime,
		Caller: authority, FeeBps: feeBps,
		DoomMint: testAddr("doom_mint"), LifeMint: testAddr("life_mint"),
	}
}

func (h *harness) deposit(who keys.Address, token instruction.Token, amount uint64) *instruction.Deposit {
	return &instruction.Deposit{
		Key: h.key(), Seq: h.seq("global"), Time: baseTime,
		Caller: who, Token: token, Amount: amount,
	}
}

func (h *harness) createEvent(creator keys.Address, id uint64, now int64) *instruction.CreateEvent {
	return &instruction.CreateEvent{
		Key: h.key(), Seq: h.seq(fmt.Sprintf("event:%d", id)), Time: now,
		Caller: creator, ID: id,
		Title:              "Will the reactor stay online through winter?",
		Description:        "Resolved against the grid operator's public availability report.",
		BettingDeadline:    now + dayInSeconds,
		EventDeadline:      now + 2*dayInSeconds,
		ResolutionDeadline: now + 3*dayInSeconds,
	}
}

func (h *harness) placeBet(who keys.Address, id uint64, side instruction.Outcome, amount uint64, now int64) *instruction.PlaceBet {
	return &instruction.PlaceBet{
		Key: h.key(), Seq: h.seq(fmt.Sprintf("event:%d", id)), Time: now,
		Caller: who, ID: id, Side: side, Amount: amount,
	}
}

func (h *harness) resolve(oracle keys.Address, id uint64, outcome instruction.Outcome, now int64) *instruction.ResolveEvent {
	return &instruction.ResolveEvent{
		Key: h.key(), Seq: h.seq(fmt.Sprintf("event:%d", id)), Time: now,
		Caller: oracle, ID: id, Outcome: outcome,
	}
}

func (h *harness) cancel(authority keys.Address, id uint64, now int64) *instruction.CancelEvent {
	return &instruction.CancelEvent{
		Key: h.key(), Seq: h.seq(fmt.Sprintf("event:%d", id)), Time: now,
		Caller: authority, ID: id,
	}
}

func (h *harness) claim(who keys.Address, id uint64, now int64) *instruction.ClaimWinnings {
	return &instruction.ClaimWinnings{
		Key: h.key(), Seq: h.seq(fmt.Sprintf("event:%d", id)), Time: now,
		Caller: who, ID: id,
	}
}

func (h *harness) refund(who keys.Address, id uint64, now int64) *instruction.ClaimRefund {
	return &instruction.ClaimRefund{
		Key: h.key(), Seq: h.seq(fmt.Sprintf("event:%d", id)), Time: now,
		Caller: who, ID: id,
	}
}

// setupMarket initializes the platform, funds the named participants in
// both tokens, and creates event 1.
func setupMarket(t *testing.T, participants ...keys.Address) (*harness, keys.Address) {
	h := newHarness(t)
	authority := testAddr("authority")
	h.mustProcess(h.initialize(authority, 200))
	for _, p := range participants {
		h.mustProcess(h.deposit(p, instruction.TokenDoom, 1_000_000_000_000))
		h.mustProcess(h.deposit(p, instruction.TokenLife, 1_000_000_000_000))
	}
	h.mustProcess(h.createEvent(testAddr("creator"), 1, baseTime))
	return h, authority
}

// ============================================================================
// Test: Initialize / UpdatePlatform
// ============================================================================

func TestInitialize_SetsAuthorityOracleAndFee(t *testing.T) {
	h := newHarness(t)
	authority := testAddr("authority")

	h.mustProcess(h.initialize(authority, 200))

	p := h.core.Platform()
	if p == nil {
		t.Fatal("platform should exist after initialization")
	}
	if p.Authority != authority {
		t.Error("authority should be the initializer")
	}
	if p.Oracle != authority {
		t.Error("oracle should default to the authority")
	}
	if p.FeeBps != 200 {
		t.Errorf("fee: got %d, want 200", p.FeeBps)
	}
	if p.Paused {
		t.Error("platform should start unpaused")
	}
}

func TestInitialize_Twice_Fails(t *testing.T) {
	h := newHarness(t)
	h.mustProcess(h.initialize(testAddr("authority"), 200))
	h.processWant(h.initialize(testAddr("someone_else"), 300), core.ErrAlreadyInitialized)
}

func TestInitialize_FeeAboveCap_Fails(t *testing.T) {
	h := newHarness(t)
	h.processWant(h.initialize(testAddr("authority"), 10_001), core.ErrInvalidFee)
}

func TestUpdatePlatform_AuthorityOnly(t *testing.T) {
	h := newHarness(t)
	authority := testAddr("authority")
	h.mustProcess(h.initialize(authority, 200))

	paused := true
	h.processWant(&instruction.UpdatePlatform{
		Key: h.key(), Seq: h.seq("global"), Time: baseTime,
		Caller: testAddr("mallory"), Paused: &paused,
	}, core.ErrUnauthorized)

	newFee := uint16(350)
	newOracle := testAddr("oracle")
	h.mustProcess(&instruction.UpdatePlatform{
		Key: h.key(), Seq: h.seq("global"), Time: baseTime,
		Caller: authority, FeeBps: &newFee, Oracle: &newOracle, Paused: &paused,
	})

	p := h.core.Platform()
	if p.FeeBps != 350 || p.Oracle != newOracle || !p.Paused {
		t.Errorf("update not applied: %+v", p)
	}
}

// ============================================================================
// Test: CreateEvent
// ============================================================================

func TestCreateEvent_HappyPath(t *testing.T) {
	h := newHarness(t)
	h.mustProcess(h.initialize(testAddr("authority"), 200))
	creator := testAddr("creator")

	h.mustProcess(h.createEvent(creator, 1, baseTime))

	evt, ok := h.core.Event(1)
	if !ok {
		t.Fatal("event should exist")
	}
	if evt.Status != state.EventStatusActive {
		t.Errorf("status: got %s, want Active", evt.Status)
	}
	if evt.Creator != creator {
		t.Error("creator recorded wrong")
	}
	if h.core.Platform().TotalEvents != 1 {
		t.Error("platform event counter should advance")
	}
	if st := h.core.Stats(creator); st == nil || st.EventsCreated != 1 {
		t.Error("creator stats should record the event")
	}
}

func TestCreateEvent_DeadlineOrdering(t *testing.T) {
	h := newHarness(t)
	h.mustProcess(h.initialize(testAddr("authority"), 200))

	// Betting deadline in the past.
	bad := h.createEvent(testAddr("creator"), 2, baseTime)
	bad.BettingDeadline = baseTime - 1
	h.processWant(bad, core.ErrInvalidDeadline)

	// Event deadline before betting deadline.
	bad = h.createEvent(testAddr("creator"), 3, baseTime)
	bad.EventDeadline = bad.BettingDeadline - 1
	h.processWant(bad, core.ErrInvalidDeadline)

	// Resolution deadline before event deadline.
	bad = h.createEvent(testAddr("creator"), 4, baseTime)
	bad.ResolutionDeadline = bad.EventDeadline - 1
	h.processWant(bad, core.ErrInvalidDeadline)
}

func TestCreateEvent_DuplicateID_Fails(t *testing.T) {
	h := newHarness(t)
	h.mustProcess(h.initialize(testAddr("authority"), 200))
	h.mustProcess(h.createEvent(testAddr("creator"), 1, baseTime))
	h.processWant(h.createEvent(testAddr("creator"), 1, baseTime), core.ErrEventExists)
}

func TestCreateEvent_TitleValidation(t *testing.T) {
	h := newHarness(t)
	h.mustProcess(h.initialize(testAddr("authority"), 200))

	empty := h.createEvent(testAddr("creator"), 2, baseTime)
	empty.Title = ""
	h.processWant(empty, core.ErrInvalidTitle)

	long := h.createEvent(testAddr("creator"), 3, baseTime)
	for len(long.Title) <= instruction.MaxTitleLen {
		long.Title += long.Title
	}
	h.processWant(long, core.ErrInvalidTitle)
}

func TestCreateEvent_WhilePaused_Fails(t *testing.T) {
	h := newHarness(t)
	authority := testAddr("authority")
	h.mustProcess(h.initialize(authority, 200))

	paused := true
	h.mustProcess(&instruction.UpdatePlatform{
		Key: h.key(), Seq: h.seq("global"), Time: baseTime,
		Caller: authority, Paused: &paused,
	})
	h.processWant(h.createEvent(testAddr("creator"), 1, baseTime), core.ErrPlatformPaused)

	// Unpausing restores the operation.
	unpaused := false
	h.mustProcess(&instruction.UpdatePlatform{
		Key: h.key(), Seq: h.seq("global"), Time: baseTime,
		Caller: authority, Paused: &unpaused,
	})
	h.mustProcess(h.createEvent(testAddr("creator"), 1, baseTime))
}

// ============================================================================
// Test: PlaceBet
// ============================================================================

func TestPlaceBet_MovesStakeIntoPool(t *testing.T) {
	alice := testAddr("alice")
	h, _ := setupMarket(t, alice)

	stake := uint64(100_000_000_000)
	h.mustProcess(h.placeBet(alice, 1, instruction.OutcomeDoom, stake, baseTime+10))

	evt, _ := h.core.Event(1)
	if evt.DoomPool != stake {
		t.Errorf("doom pool: got %d, want %d", evt.DoomPool, stake)
	}
	if evt.LifePool != 0 {
		t.Error("life pool should be untouched")
	}
	if evt.TotalBettors != 1 {
		t.Errorf("bettors: got %d, want 1", evt.TotalBettors)
	}

	bet, ok := h.core.Bet(1, alice)
	if !ok {
		t.Fatal("bet record should exist")
	}
	if bet.Amount != stake || bet.Side != instruction.OutcomeDoom || bet.Claimed {
		t.Errorf("bet record: %+v", bet)
	}

	if got := h.core.UserBalance(alice, instruction.TokenDoom); got != 1_000_000_000_000-int64(stake) {
		t.Errorf("user balance after stake: %d", got)
	}
	if h.core.Platform().TotalBets != 1 {
		t.Error("platform bet counter should advance")
	}
}

func TestPlaceBet_Duplicate_Fails(t *testing.T) {
	alice := testAddr("alice")
	h, _ := setupMarket(t, alice)

	h.mustProcess(h.placeBet(alice, 1, instruction.OutcomeDoom, 1000, baseTime+10))
	h.processWant(h.placeBet(alice, 1, instruction.OutcomeLife, 1000, baseTime+20), core.ErrDuplicateBet)
}

func TestPlaceBet_ZeroAmount_Fails(t *testing.T) {
	alice := testAddr("alice")
	h, _ := setupMarket(t, alice)
	h.processWant(h.placeBet(alice, 1, instruction.OutcomeDoom, 0, baseTime+10), core.ErrInvalidBetAmount)
}

func TestPlaceBet_AfterDeadline_Fails(t *testing.T) {
	alice := testAddr("alice")
	h, _ := setupMarket(t, alice)
	h.processWant(h.placeBet(alice, 1, instruction.OutcomeDoom, 1000, baseTime+dayInSeconds), core.ErrTooLate)
}

func TestPlaceBet_InsufficientFunds_Fails(t *testing.T) {
	h := newHarness(t)
	h.mustProcess(h.initialize(testAddr("authority"), 200))
	h.mustProcess(h.createEvent(testAddr("creator"), 1, baseTime))

	// No deposit for bob.
	h.processWant(h.placeBet(testAddr("bob"), 1, instruction.OutcomeDoom, 1000, baseTime+10), core.ErrInsufficientFunds)
}

func TestPlaceBet_WhilePaused_Fails(t *testing.T) {
	alice := testAddr("alice")
	h, authority := setupMarket(t, alice)

	paused := true
	h.mustProcess(&instruction.UpdatePlatform{
		Key: h.key(), Seq: h.seq("global"), Time: baseTime,
		Caller: authority, Paused: &paused,
	})
	h.processWant(h.placeBet(alice, 1, instruction.OutcomeDoom, 1000, baseTime+10), core.ErrPlatformPaused)
}

func TestPlaceBet_UnknownEvent_Fails(t *testing.T) {
	alice := testAddr("alice")
	h, _ := setupMarket(t, alice)
	h.processWant(h.placeBet(alice, 99, instruction.OutcomeDoom, 1000, baseTime+10), core.ErrEventNotFound)
}

// ============================================================================
// Test: ResolveEvent
// ============================================================================

func TestResolveEvent_WindowEnforced(t *testing.T) {
	alice := testAddr("alice")
	h, authority := setupMarket(t, alice)

	// Before the event deadline.
	h.processWant(h.resolve(authority, 1, instruction.OutcomeDoom, baseTime+dayInSeconds), core.ErrTooEarly)

	// After the resolution deadline.
	h.processWant(h.resolve(authority, 1, instruction.OutcomeDoom, baseTime+4*dayInSeconds), core.ErrTooLate)

	// Inside the window.
	h.mustProcess(h.resolve(authority, 1, instruction.OutcomeDoom, baseTime+2*dayInSeconds))

	evt, _ := h.core.Event(1)
	if evt.Status != state.EventStatusResolved || !evt.OutcomeSet || evt.Outcome != instruction.OutcomeDoom {
		t.Errorf("resolution not recorded: %+v", evt)
	}
}

func TestResolveEvent_OracleOnly(t *testing.T) {
	alice := testAddr("alice")
	h, _ := setupMarket(t, alice)
	h.processWant(h.resolve(alice, 1, instruction.OutcomeDoom, baseTime+2*dayInSeconds), core.ErrUnauthorized)
}

func TestResolveEvent_Twice_Fails(t *testing.T) {
	alice := testAddr("alice")
	h, authority := setupMarket(t, alice)
	h.mustProcess(h.resolve(authority, 1, instruction.OutcomeDoom, baseTime+2*dayInSeconds))
	h.processWant(h.resolve(authority, 1, instruction.OutcomeLife, baseTime+2*dayInSeconds), core.ErrInvalidState)
}

func TestResolveEvent_RecordsLossesForLosingSide(t *testing.T) {
	alice, bob := testAddr("alice"), testAddr("bob")
	h, authority := setupMarket(t, alice, bob)

	h.mustProcess(h.placeBet(alice, 1, instruction.OutcomeDoom, 100, baseTime+10))
	h.mustProcess(h.placeBet(bob, 1, instruction.OutcomeLife, 300, baseTime+20))
	h.mustProcess(h.resolve(authority, 1, instruction.OutcomeDoom, baseTime+2*dayInSeconds))

	if st := h.core.Stats(bob); st == nil || st.Losses != 1 || st.TotalLost != 300 {
		t.Errorf("loser stats: %+v", h.core.Stats(bob))
	}
	if st := h.core.Stats(alice); st == nil || st.Losses != 0 {
		t.Errorf("winner stats should not record a loss: %+v", h.core.Stats(alice))
	}
}

// ============================================================================
// Test: ClaimWinnings
// ============================================================================

func TestClaimWinnings_PaysStakePlusShareMinusFee(t *testing.T) {
	alice, bob := testAddr("alice"), testAddr("bob")
	h, authority := setupMarket(t, alice, bob)

	h.mustProcess(h.placeBet(alice, 1, instruction.OutcomeDoom, 100, baseTime+10))
	h.mustProcess(h.placeBet(bob, 1, instruction.OutcomeLife, 300, baseTime+20))
	h.mustProcess(h.resolve(authority, 1, instruction.OutcomeDoom, baseTime+2*dayInSeconds))

	doomBefore := h.core.UserBalance(alice, instruction.TokenDoom)
	lifeBefore := h.core.UserBalance(alice, instruction.TokenLife)

	h.mustProcess(h.claim(alice, 1, baseTime+2*dayInSeconds+100))

	// fee = 300 * 200 / 10000 = 6; alice is the sole winner.
	if got := h.core.UserBalance(alice, instruction.TokenDoom) - doomBefore; got != 100 {
		t.Errorf("stake return: got %d, want 100", got)
	}
	if got := h.core.UserBalance(alice, instruction.TokenLife) - lifeBefore; got != 294 {
		t.Errorf("winnings: got %d, want 294", got)
	}
	if got := h.core.FeesBalance(instruction.TokenLife); got != 6 {
		t.Errorf("fee account: got %d, want 6", got)
	}
	if got := h.core.Platform().TotalLifeFees; got != 6 {
		t.Errorf("fee counter: got %d, want 6", got)
	}

	bet, _ := h.core.Bet(1, alice)
	if !bet.Claimed {
		t.Error("bet should be marked claimed")
	}
	if st := h.core.Stats(alice); st.Wins != 1 || st.TotalWon != 294 {
		t.Errorf("winner stats: %+v", st)
	}
}

func TestClaimWinnings_Loser_Fails(t *testing.T) {
	alice, bob := testAddr("alice"), testAddr("bob")
	h, authority := setupMarket(t, alice, bob)

	h.mustProcess(h.placeBet(alice, 1, instruction.OutcomeDoom, 100, baseTime+10))
	h.mustProcess(h.placeBet(bob, 1, instruction.OutcomeLife, 300, baseTime+20))
	h.mustProcess(h.resolve(authority, 1, instruction.OutcomeDoom, baseTime+2*dayInSeconds))

	h.processWant(h.claim(bob, 1, baseTime+2*dayInSeconds+100), core.ErrNotAWinner)
}

func TestClaimWinnings_Twice_Fails(t *testing.T) {
	alice, bob := testAddr("alice"), testAddr("bob")
	h, authority := setupMarket(t, alice, bob)

	h.mustProcess(h.placeBet(alice, 1, instruction.OutcomeDoom, 100, baseTime+10))
	h.mustProcess(h.placeBet(bob, 1, instruction.OutcomeLife, 300, baseTime+20))
	h.mustProcess(h.resolve(authority, 1, instruction.OutcomeDoom, baseTime+2*dayInSeconds))

	h.mustProcess(h.claim(alice, 1, baseTime+2*dayInSeconds+100))
	h.processWant(h.claim(alice, 1, baseTime+2*dayInSeconds+200), core.ErrDuplicateClaim)
}

func TestClaimWinnings_BeforeResolution_Fails(t *testing.T) {
	alice := testAddr("alice")
	h, _ := setupMarket(t, alice)
	h.mustProcess(h.placeBet(alice, 1, instruction.OutcomeDoom, 100, baseTime+10))
	h.processWant(h.claim(alice, 1, baseTime+20), core.ErrInvalidState)
}

func TestClaimWinnings_NoBet_Fails(t *testing.T) {
	alice, bob := testAddr("alice"), testAddr("bob")
	h, authority := setupMarket(t, alice, bob)
	h.mustProcess(h.placeBet(alice, 1, instruction.OutcomeDoom, 100, baseTime+10))
	h.mustProcess(h.resolve(authority, 1, instruction.OutcomeDoom, baseTime+2*dayInSeconds))
	h.processWant(h.claim(bob, 1, baseTime+2*dayInSeconds+100), core.ErrBetNotFound)
}

func TestClaimWinnings_EmptyLosingPool_PaysBareStake(t *testing.T) {
	alice := testAddr("alice")
	h, authority := setupMarket(t, alice)

	h.mustProcess(h.placeBet(alice, 1, instruction.OutcomeDoom, 500, baseTime+10))
	h.mustProcess(h.resolve(authority, 1, instruction.OutcomeDoom, baseTime+2*dayInSeconds))

	doomBefore := h.core.UserBalance(alice, instruction.TokenDoom)
	lifeBefore := h.core.UserBalance(alice, instruction.TokenLife)

	h.mustProcess(h.claim(alice, 1, baseTime+2*dayInSeconds+100))

	if got := h.core.UserBalance(alice, instruction.TokenDoom) - doomBefore; got != 500 {
		t.Errorf("stake return: got %d, want 500", got)
	}
	if h.core.UserBalance(alice, instruction.TokenLife) != lifeBefore {
		t.Error("no winnings should arrive with an empty losing pool")
	}
	if h.core.FeesBalance(instruction.TokenLife) != 0 {
		t.Error("no fee should accrue with an empty losing pool")
	}
}

func TestClaimWinnings_ProRataAcrossWinners(t *testing.T) {
	alice, bob, carol := testAddr("alice"), testAddr("bob"), testAddr("carol")
	h, authority := setupMarket(t, alice, bob, carol)

	h.mustProcess(h.placeBet(alice, 1, instruction.OutcomeDoom, 100, baseTime+10))
	h.mustProcess(h.placeBet(bob, 1, instruction.OutcomeDoom, 300, baseTime+20))
	h.mustProcess(h.placeBet(carol, 1, instruction.OutcomeLife, 1000, baseTime+30))
	h.mustProcess(h.resolve(authority, 1, instruction.OutcomeDoom, baseTime+2*dayInSeconds))

	aliceLifeBefore := h.core.UserBalance(alice, instruction.TokenLife)
	bobLifeBefore := h.core.UserBalance(bob, instruction.TokenLife)

	h.mustProcess(h.claim(alice, 1, baseTime+2*dayInSeconds+100))
	h.mustProcess(h.claim(bob, 1, baseTime+2*dayInSeconds+200))

	// fee = 1000*200/10000 = 20, distributable = 1380.
	// alice: floor(100*1380/400) - 100 = 245; bob: floor(300*1380/400) - 300 = 735.
	if got := h.core.UserBalance(alice, instruction.TokenLife) - aliceLifeBefore; got != 245 {
		t.Errorf("alice winnings: got %d, want 245", got)
	}
	if got := h.core.UserBalance(bob, instruction.TokenLife) - bobLifeBefore; got != 735 {
		t.Errorf("bob winnings: got %d, want 735", got)
	}

	// Fee shares: 5 + 15 = 20, the full fee once everyone claimed.
	if got := h.core.FeesBalance(instruction.TokenLife); got != 20 {
		t.Errorf("fee account: got %d, want 20", got)
	}
}

// ============================================================================
// Test: Cancel / ClaimRefund
// ============================================================================

func TestCancelEvent_AuthorityOnly(t *testing.T) {
	alice := testAddr("alice")
	h, authority := setupMarket(t, alice)

	h.processWant(h.cancel(alice, 1, baseTime+10), core.ErrUnauthorized)
	h.mustProcess(h.cancel(authority, 1, baseTime+10))

	evt, _ := h.core.Event(1)
	if evt.Status != state.EventStatusCancelled {
		t.Errorf("status: got %s, want Cancelled", evt.Status)
	}
}

func TestCancelEvent_Terminal_Fails(t *testing.T) {
	alice := testAddr("alice")
	h, authority := setupMarket(t, alice)
	h.mustProcess(h.resolve(authority, 1, instruction.OutcomeDoom, baseTime+2*dayInSeconds))
	h.processWant(h.cancel(authority, 1, baseTime+2*dayInSeconds+1), core.ErrInvalidState)
}

func TestClaimRefund_ReturnsStake(t *testing.T) {
	alice := testAddr("alice")
	h, authority := setupMarket(t, alice)

	h.mustProcess(h.placeBet(alice, 1, instruction.OutcomeLife, 700, baseTime+10))
	before := h.core.UserBalance(alice, instruction.TokenLife)

	h.mustProcess(h.cancel(authority, 1, baseTime+20))
	h.mustProcess(h.refund(alice, 1, baseTime+30))

	if got := h.core.UserBalance(alice, instruction.TokenLife) - before; got != 700 {
		t.Errorf("refund: got %d, want 700", got)
	}

	h.processWant(h.refund(alice, 1, baseTime+40), core.ErrDuplicateClaim)
}

func TestClaimRefund_OnActiveEvent_Fails(t *testing.T) {
	alice := testAddr("alice")
	h, _ := setupMarket(t, alice)
	h.mustProcess(h.placeBet(alice, 1, instruction.OutcomeDoom, 100, baseTime+10))
	h.processWant(h.refund(alice, 1, baseTime+20), core.ErrInvalidState)
}

// ============================================================================
// Test: WithdrawFees
// ============================================================================

func TestWithdrawFees_AuthorityWithinAccrued(t *testing.T) {
	alice, bob := testAddr("alice"), testAddr("bob")
	h, authority := setupMarket(t, alice, bob)

	h.mustProcess(h.placeBet(alice, 1, instruction.OutcomeDoom, 100, baseTime+10))
	h.mustProcess(h.placeBet(bob, 1, instruction.OutcomeLife, 300, baseTime+20))
	h.mustProcess(h.resolve(authority, 1, instruction.OutcomeDoom, baseTime+2*dayInSeconds))
	h.mustProcess(h.claim(alice, 1, baseTime+2*dayInSeconds+100))

	h.processWant(&instruction.WithdrawFees{
		Key: h.key(), Seq: h.seq("global"), Time: baseTime,
		Caller: alice, Token: instruction.TokenLife, Amount: 6,
	}, core.ErrUnauthorized)

	h.processWant(&instruction.WithdrawFees{
		Key: h.key(), Seq: h.seq("global"), Time: baseTime,
		Caller: authority, Token: instruction.TokenLife, Amount: 7,
	}, core.ErrInsufficientFunds)

	h.mustProcess(&instruction.WithdrawFees{
		Key: h.key(), Seq: h.seq("global"), Time: baseTime,
		Caller: authority, Token: instruction.TokenLife, Amount: 6,
	})
	if h.core.Platform().TotalLifeFees != 0 {
		t.Error("fee counter should be drained")
	}
	if h.core.FeesBalance(instruction.TokenLife) != 0 {
		t.Error("fee account should be drained")
	}
}

// ============================================================================
// Test: Pipeline behavior
// ============================================================================

func TestProcess_DuplicateInstruction_Skipped(t *testing.T) {
	h := newHarness(t)
	authority := testAddr("authority")
	h.mustProcess(h.initialize(authority, 200))

	dep := h.deposit(testAddr("alice"), instruction.TokenDoom, 1000)
	h.mustProcess(dep)

	// Redelivery: same key, same source sequence.
	if err := h.core.ProcessInstruction(dep); err != nil {
		t.Fatalf("redelivery should be absorbed: %v", err)
	}

	if got := h.core.UserBalance(testAddr("alice"), instruction.TokenDoom); got != 1000 {
		t.Errorf("duplicate must not double-apply: balance %d", got)
	}
}

func TestProcess_SequenceGap_Rejected(t *testing.T) {
	h := newHarness(t)
	h.mustProcess(h.initialize(testAddr("authority"), 200))

	gap := h.deposit(testAddr("alice"), instruction.TokenDoom, 1000)
	gap.Seq += 5
	if err := h.core.ProcessInstruction(gap); err == nil {
		t.Error("a source-sequence gap should be rejected")
	}
}

func TestProcess_RejectionLeavesSequenceUnchanged(t *testing.T) {
	h := newHarness(t)
	h.mustProcess(h.initialize(testAddr("authority"), 200))
	seqBefore := h.core.GetSequence()

	h.processWant(h.initialize(testAddr("authority"), 200), core.ErrAlreadyInitialized)

	if h.core.GetSequence() != seqBefore {
		t.Error("rejected instructions must not consume a global sequence")
	}
}

func TestProcess_HashChainLinks(t *testing.T) {
	h := newHarness(t)
	h.mustProcess(h.initialize(testAddr("authority"), 200))
	h.mustProcess(h.deposit(testAddr("alice"), instruction.TokenDoom, 1000))

	first := <-h.persist
	second := <-h.persist

	if second.Envelope.PrevHash != first.Envelope.StateHash {
		t.Error("each envelope's prev hash should be the prior state hash")
	}
	if first.Envelope.StateHash == second.Envelope.StateHash {
		t.Error("state hashes should differ between instructions")
	}
	if second.Envelope.Sequence != first.Envelope.Sequence+1 {
		t.Error("global sequence should advance by one")
	}
}

func TestProcess_OutputCarriesAccountImages(t *testing.T) {
	h := newHarness(t)
	h.mustProcess(h.initialize(testAddr("authority"), 200))

	out := <-h.persist
	if len(out.Accounts) != 1 {
		t.Fatalf("initialize should rewrite one account, got %d", len(out.Accounts))
	}
	if out.Accounts[0].Address != keys.PlatformConfigAddress() {
		t.Error("the rewritten account should be the platform singleton")
	}
	if _, err := state.UnmarshalPlatformConfig(out.Accounts[0].Data); err != nil {
		t.Errorf("account image should parse: %v", err)
	}
}

// ============================================================================
// Test: Snapshot round trip
// ============================================================================

func TestSnapshot_RestoreRebuildsState(t *testing.T) {
	alice, bob := testAddr("alice"), testAddr("bob")
	h, authority := setupMarket(t, alice, bob)

	h.mustProcess(h.placeBet(alice, 1, instruction.OutcomeDoom, 100, baseTime+10))
	h.mustProcess(h.placeBet(bob, 1, instruction.OutcomeLife, 300, baseTime+20))

	snap := h.core.CreateSnapshotState()

	restored := newHarness(t)
	restored.core.RestoreFromSnapshot(snap)
	restored.core.WarmLRU(snap.IdempotencyKeys)

	if restored.core.GetSequence() != h.core.GetSequence() {
		t.Errorf("sequence: got %d, want %d", restored.core.GetSequence(), h.core.GetSequence())
	}
	if restored.core.GetStateHash() != h.core.GetStateHash() {
		t.Error("state hash should carry over")
	}

	evt, ok := restored.core.Event(1)
	if !ok || evt.DoomPool != 100 || evt.LifePool != 300 {
		t.Errorf("event not restored: %+v", evt)
	}
	if _, ok := restored.core.Bet(1, alice); !ok {
		t.Error("bet records should be restored")
	}
	if restored.core.UserBalance(alice, instruction.TokenDoom) != h.core.UserBalance(alice, instruction.TokenDoom) {
		t.Error("balances should be restored")
	}

	// The restored core keeps processing where the original stopped.
	restored.nextSeq = h.nextSeq
	restored.nextKey = h.nextKey
	restored.mustProcess(restored.resolve(authority, 1, instruction.OutcomeDoom, baseTime+2*dayInSeconds))
}

// ============================================================================
// Test: Log replay
// ============================================================================

// drainLogged empties the persist channel and returns the instructions
// that would have been written to the instruction log.
func (h *harness) drainLogged() []instruction.Instruction {
	var logged []instruction.Instruction
	for len(h.persist) > 0 {
		out := <-h.persist
		logged = append(logged, out.Instruction)
	}
	return logged
}

func TestReplay_RebuildsStateFromLoggedInstructions(t *testing.T) {
	bob := testAddr("bob")
	h := newHarness(t)

	h.mustProcess(h.initialize(testAddr("authority"), 200))
	h.mustProcess(h.deposit(bob, instruction.TokenDoom, 500))
	h.mustProcess(h.deposit(bob, instruction.TokenLife, 250))

	fresh := newHarness(t)
	for _, inst := range h.drainLogged() {
		if err := fresh.core.ReplayInstruction(inst); err != nil {
			t.Fatalf("ReplayInstruction(%s) failed: %v", inst.Kind(), err)
		}
	}

	if fresh.core.GetStateHash() != h.core.GetStateHash() {
		t.Error("replayed state hash should match the live chain tip")
	}
	if got := fresh.core.UserBalance(bob, instruction.TokenDoom); got != 500 {
		t.Errorf("doom balance after replay: got %d, want 500", got)
	}
}

func TestReplay_SurvivesSequenceGapsFromRejections(t *testing.T) {
	bob := testAddr("bob")
	h := newHarness(t)

	h.mustProcess(h.initialize(testAddr("authority"), 200))
	h.mustProcess(h.deposit(bob, instruction.TokenDoom, 500))

	// A rejection consumes a source-sequence slot but never reaches the
	// log, leaving a gap in the logged sequences on the global partition.
	h.processWant(h.initialize(testAddr("authority"), 200), core.ErrAlreadyInitialized)

	h.mustProcess(h.deposit(bob, instruction.TokenDoom, 250))

	// Same on an event partition: a bet exceeding bob's balance is
	// rejected, then a valid bet lands.
	h.mustProcess(h.createEvent(testAddr("creator"), 1, baseTime))
	h.processWant(h.placeBet(bob, 1, instruction.OutcomeDoom, 10_000, baseTime+10), core.ErrInsufficientFunds)
	h.mustProcess(h.placeBet(bob, 1, instruction.OutcomeDoom, 300, baseTime+20))

	logged := h.drainLogged()
	if len(logged) != 5 {
		t.Fatalf("logged %d instructions, want 5", len(logged))
	}

	fresh := newHarness(t)
	for _, inst := range logged {
		if err := fresh.core.ReplayInstruction(inst); err != nil {
			t.Fatalf("ReplayInstruction(%s) failed across gap: %v", inst.Kind(), err)
		}
	}

	if fresh.core.GetStateHash() != h.core.GetStateHash() {
		t.Error("replayed state hash should match the live chain tip")
	}
	if got := fresh.core.UserBalance(bob, instruction.TokenDoom); got != 450 {
		t.Errorf("doom balance after replay: got %d, want 450", got)
	}
	evt, ok := fresh.core.Event(1)
	if !ok || evt.DoomPool != 300 {
		t.Errorf("event not rebuilt by replay: %+v", evt)
	}

	// After replay the validator sits past the last logged sequence, so
	// the next live instruction on each partition is accepted.
	fresh.nextSeq = h.nextSeq
	fresh.nextKey = h.nextKey
	fresh.mustProcess(fresh.deposit(bob, instruction.TokenLife, 100))
}
