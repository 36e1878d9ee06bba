package ledger_test

import (
	"strings"
	"testing"

	"PredictionLedger/internal/instruction"
	"PredictionLedger/internal/keys"
	"PredictionLedger/internal/ledger"
	"PredictionLedger/internal/math"

	"github.com/google/uuid"
)

func testAddr(name string) keys.Address {
	return keys.Derive("test_identity", []byte(name))
}

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_UserPath(t *testing.T) {
	alice := testAddr("alice")
	key := ledger.NewUserAccountKey(alice, instruction.TokenDoom)

	path := key.AccountPath()
	if !strings.HasPrefix(path, "user:") || !strings.HasSuffix(path, ":doom") {
		t.Errorf("unexpected user path %q", path)
	}
	if !strings.Contains(path, alice.String()) {
		t.Errorf("user path should carry the participant address: %q", path)
	}
}

func TestAccountKey_VaultPath(t *testing.T) {
	vault := keys.DoomVaultAddress(keys.EventAddress(1))
	key := ledger.NewVaultAccountKey(vault, instruction.TokenDoom)

	path := key.AccountPath()
	if !strings.HasPrefix(path, "vault:") {
		t.Errorf("unexpected vault path %q", path)
	}
}

func TestAccountKey_FeesPath(t *testing.T) {
	key := ledger.NewFeesAccountKey(instruction.TokenLife)
	if key.AccountPath() != "platform:fees:life" {
		t.Errorf("got %q, want %q", key.AccountPath(), "platform:fees:life")
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	key := ledger.NewExternalAccountKey(ledger.SubTypeExternalFunding, instruction.TokenDoom)
	if key.AccountPath() != "external:funding:doom" {
		t.Errorf("got %q, want %q", key.AccountPath(), "external:funding:doom")
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func depositJournal(participant keys.Address, token instruction.Token, amount int64) ledger.Journal {
	return ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(participant, token),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalFunding, token),
		Token:         token,
		Amount:        amount,
	}
}

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	if bt.GetUserBalance(testAddr("alice"), instruction.TokenDoom) != 0 {
		t.Error("initial balance should be 0")
	}
}

func TestBalanceTracker_ApplyJournal(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	alice := testAddr("alice")

	bt.ApplyJournal(depositJournal(alice, instruction.TokenDoom, 1_000_000))

	if got := bt.GetUserBalance(alice, instruction.TokenDoom); got != 1_000_000 {
		t.Errorf("balance: got %d, want 1_000_000", got)
	}
	if bt.GetUserBalance(alice, instruction.TokenLife) != 0 {
		t.Error("the other token should be untouched")
	}
}

func TestBalanceTracker_GlobalBalanceZeroSum(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	alice := testAddr("alice")
	vault := keys.DoomVaultAddress(keys.EventAddress(1))

	bt.ApplyJournal(depositJournal(alice, instruction.TokenDoom, 1_000_000))

	// Stake into a vault
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewVaultAccountKey(vault, instruction.TokenDoom),
		CreditAccount: ledger.NewUserAccountKey(alice, instruction.TokenDoom),
		Token:         instruction.TokenDoom,
		Amount:        300_000,
	})

	for token, total := range bt.ComputeGlobalBalance() {
		if total != 0 {
			t.Errorf("token %s has non-zero global balance: %d", token, total)
		}
	}
	if bt.GetVaultBalance(vault, instruction.TokenDoom) != 300_000 {
		t.Error("vault should hold the stake")
	}
}

func TestBalanceTracker_ValidateSufficientBalance(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	alice := testAddr("alice")

	if err := bt.ValidateSufficientBalance(alice, instruction.TokenDoom, 100); err == nil {
		t.Error("expected error for insufficient balance")
	}

	bt.ApplyJournal(depositJournal(alice, instruction.TokenDoom, 1_000))

	if err := bt.ValidateSufficientBalance(alice, instruction.TokenDoom, 1_000); err != nil {
		t.Errorf("should have sufficient balance: %v", err)
	}
	if err := bt.ValidateSufficientBalance(alice, instruction.TokenDoom, 1_001); err == nil {
		t.Error("expected error for 1_001 > 1_000")
	}
}

func TestBalanceTracker_Snapshot(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	alice := testAddr("alice")

	bt.ApplyJournal(depositJournal(alice, instruction.TokenDoom, 999))

	snap := bt.Snapshot()
	if len(snap) == 0 {
		t.Fatal("snapshot should not be empty")
	}

	// Mutating snapshot should not affect tracker
	for k := range snap {
		snap[k] = 0
	}

	if bt.GetUserBalance(alice, instruction.TokenDoom) != 999 {
		t.Error("tracker balance should not be affected by snapshot mutation")
	}
}

// ============================================================================
// Test: Batch Validation
// ============================================================================

func TestBatchValidate_EmptyBatch_Fails(t *testing.T) {
	batch := &ledger.Batch{
		BatchID:  uuid.New(),
		Journals: []ledger.Journal{},
	}
	if err := batch.Validate(); err == nil {
		t.Error("empty batch should fail validation")
	}
}

func TestBatchValidate_ZeroAmount_Fails(t *testing.T) {
	batchID := uuid.New()
	j := depositJournal(testAddr("alice"), instruction.TokenDoom, 0)
	j.BatchID = batchID

	batch := &ledger.Batch{BatchID: batchID, Journals: []ledger.Journal{j}}
	if err := batch.Validate(); err == nil {
		t.Error("zero amount should fail validation")
	}
}

func TestBatchValidate_NegativeAmount_Fails(t *testing.T) {
	batchID := uuid.New()
	j := depositJournal(testAddr("alice"), instruction.TokenDoom, -100)
	j.BatchID = batchID

	batch := &ledger.Batch{BatchID: batchID, Journals: []ledger.Journal{j}}
	if err := batch.Validate(); err == nil {
		t.Error("negative amount should fail validation")
	}
}

func TestBatchValidate_SelfTransfer_Fails(t *testing.T) {
	batchID := uuid.New()
	same := ledger.NewUserAccountKey(testAddr("alice"), instruction.TokenDoom)

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  same,
			CreditAccount: same,
			Token:         instruction.TokenDoom,
			Amount:        100,
		}},
	}
	if err := batch.Validate(); err == nil {
		t.Error("self-transfer should fail validation")
	}
}

func TestBatchValidate_MismatchedBatchID_Fails(t *testing.T) {
	j := depositJournal(testAddr("alice"), instruction.TokenDoom, 100)

	batch := &ledger.Batch{BatchID: uuid.New(), Journals: []ledger.Journal{j}}
	if err := batch.Validate(); err == nil {
		t.Error("mismatched batch ID should fail validation")
	}
}

func TestBatchValidate_CrossTokenLeg_Fails(t *testing.T) {
	batchID := uuid.New()

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  ledger.NewUserAccountKey(testAddr("alice"), instruction.TokenDoom),
			CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalFunding, instruction.TokenLife),
			Token:         instruction.TokenDoom,
			Amount:        100,
		}},
	}
	if err := batch.Validate(); err == nil {
		t.Error("a leg crossing tokens should fail validation")
	}
}

// ============================================================================
// Test: JournalGenerator
// ============================================================================

func TestGenerator_DepositThenStake(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1, bt)
	alice := testAddr("alice")
	vault := keys.DoomVaultAddress(keys.EventAddress(1))

	dep, err := jg.GenerateDeposit("dep-1", alice, instruction.TokenDoom, 1_000, 100)
	if err != nil {
		t.Fatalf("GenerateDeposit failed: %v", err)
	}
	if err := bt.ApplyBatch(dep); err != nil {
		t.Fatalf("apply deposit: %v", err)
	}

	stake, err := jg.GenerateStake("bet-1", alice, vault, instruction.TokenDoom, 400, 200)
	if err != nil {
		t.Fatalf("GenerateStake failed: %v", err)
	}
	if err := bt.ApplyBatch(stake); err != nil {
		t.Fatalf("apply stake: %v", err)
	}

	if bt.GetUserBalance(alice, instruction.TokenDoom) != 600 {
		t.Errorf("user balance: got %d, want 600", bt.GetUserBalance(alice, instruction.TokenDoom))
	}
	if bt.GetVaultBalance(vault, instruction.TokenDoom) != 400 {
		t.Errorf("vault balance: got %d, want 400", bt.GetVaultBalance(vault, instruction.TokenDoom))
	}
}

func TestGenerator_Stake_InsufficientBalance(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1, bt)
	vault := keys.DoomVaultAddress(keys.EventAddress(1))

	if _, err := jg.GenerateStake("bet-1", testAddr("alice"), vault, instruction.TokenDoom, 1, 100); err == nil {
		t.Error("staking with no balance should fail the pre-check")
	}
}

func TestGenerator_WinningsClaim_ThreeLegs(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1, bt)
	alice := testAddr("alice")
	eventAddr := keys.EventAddress(1)
	doomVault := keys.DoomVaultAddress(eventAddr)
	lifeVault := keys.LifeVaultAddress(eventAddr)

	// Seed vaults as if stakes were placed: 100 doom (alice), 300 life (others).
	seedVault := func(vault keys.Address, token instruction.Token, amount int64) {
		bt.ApplyJournal(ledger.Journal{
			JournalID:     uuid.New(),
			BatchID:       uuid.New(),
			DebitAccount:  ledger.NewVaultAccountKey(vault, token),
			CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalFunding, token),
			Token:         token,
			Amount:        amount,
		})
	}
	seedVault(doomVault, instruction.TokenDoom, 100)
	seedVault(lifeVault, instruction.TokenLife, 300)

	quote, err := math.QuotePayout(100, 100, 300, 200)
	if err != nil {
		t.Fatalf("QuotePayout failed: %v", err)
	}

	batch, err := jg.GenerateWinningsClaim(
		"claim-1", alice,
		doomVault, lifeVault,
		instruction.TokenDoom, instruction.TokenLife,
		quote, 300,
	)
	if err != nil {
		t.Fatalf("GenerateWinningsClaim failed: %v", err)
	}
	if len(batch.Journals) != 3 {
		t.Fatalf("legs: got %d, want 3", len(batch.Journals))
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply claim: %v", err)
	}

	if got := bt.GetUserBalance(alice, instruction.TokenDoom); got != 100 {
		t.Errorf("stake return: got %d, want 100", got)
	}
	if got := bt.GetUserBalance(alice, instruction.TokenLife); got != 294 {
		t.Errorf("winnings: got %d, want 294", got)
	}
	if got := bt.GetFeesBalance(instruction.TokenLife); got != 6 {
		t.Errorf("fee share: got %d, want 6", got)
	}
	if bt.GetVaultBalance(doomVault, instruction.TokenDoom) != 0 {
		t.Error("winning vault should be emptied by the sole winner")
	}
	if bt.GetVaultBalance(lifeVault, instruction.TokenLife) != 0 {
		t.Error("losing vault should be emptied by the sole winner")
	}
}

func TestGenerator_WinningsClaim_EmptyLosingPool(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1, bt)
	eventAddr := keys.EventAddress(2)

	quote, err := math.QuotePayout(100, 100, 0, 200)
	if err != nil {
		t.Fatalf("QuotePayout failed: %v", err)
	}

	batch, err := jg.GenerateWinningsClaim(
		"claim-2", testAddr("alice"),
		keys.DoomVaultAddress(eventAddr), keys.LifeVaultAddress(eventAddr),
		instruction.TokenDoom, instruction.TokenLife,
		quote, 300,
	)
	if err != nil {
		t.Fatalf("GenerateWinningsClaim failed: %v", err)
	}
	if len(batch.Journals) != 1 {
		t.Errorf("legs: got %d, want just the stake return", len(batch.Journals))
	}
}

func TestGenerator_Refund(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1, bt)
	alice := testAddr("alice")
	vault := keys.LifeVaultAddress(keys.EventAddress(3))

	batch, err := jg.GenerateRefund("refund-1", alice, vault, instruction.TokenLife, 500, 400)
	if err != nil {
		t.Fatalf("GenerateRefund failed: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply refund: %v", err)
	}
	if bt.GetUserBalance(alice, instruction.TokenLife) != 500 {
		t.Error("refund should land in the participant balance")
	}
}

func TestGenerator_FeeWithdrawal_PreCheck(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1, bt)

	if _, err := jg.GenerateFeeWithdrawal("wd-1", instruction.TokenDoom, 1, 100); err == nil {
		t.Error("withdrawing from an empty fee account should fail")
	}

	// Accrue some fees, then withdraw within range.
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewFeesAccountKey(instruction.TokenDoom),
		CreditAccount: ledger.NewVaultAccountKey(keys.DoomVaultAddress(keys.EventAddress(9)), instruction.TokenDoom),
		Token:         instruction.TokenDoom,
		Amount:        50,
	})

	batch, err := jg.GenerateFeeWithdrawal("wd-2", instruction.TokenDoom, 50, 200)
	if err != nil {
		t.Fatalf("GenerateFeeWithdrawal failed: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply withdrawal: %v", err)
	}
	if bt.GetFeesBalance(instruction.TokenDoom) != 0 {
		t.Error("fee account should be drained")
	}
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator_GlobalBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)

	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("empty ledger should have zero global balance: %v", err)
	}

	bt.ApplyJournal(depositJournal(testAddr("alice"), instruction.TokenDoom, 1_000_000))

	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("balanced ledger should have zero global balance: %v", err)
	}
}

func TestInvariantValidator_VaultMatchesPool(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)
	vault := keys.DoomVaultAddress(keys.EventAddress(1))

	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewVaultAccountKey(vault, instruction.TokenDoom),
		CreditAccount: ledger.NewUserAccountKey(testAddr("alice"), instruction.TokenDoom),
		Token:         instruction.TokenDoom,
		Amount:        400,
	})

	if err := v.ValidateVaultMatchesPool(vault, instruction.TokenDoom, 400); err != nil {
		t.Errorf("vault matches pool: %v", err)
	}
	if err := v.ValidateVaultMatchesPool(vault, instruction.TokenDoom, 500); err == nil {
		t.Error("drifted pool counter should fail")
	}
}
