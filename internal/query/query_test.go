package query_test

import (
	"bytes"
	"context"
	"testing"

	"PredictionLedger/internal/keys"
	"PredictionLedger/internal/persistence"
	"PredictionLedger/internal/query"
	"PredictionLedger/internal/state"
	"PredictionLedger/internal/testutil"
)

func testAddr(name string) keys.Address {
	return keys.Derive("test_identity", []byte(name))
}

// ============================================================================
// Raw account reads (integration)
// ============================================================================

func TestGetAccount_ReturnsRawImage(t *testing.T) {
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if err := persistence.NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		t.Fatalf("migrate up: %v", err)
	}

	platform := &state.PlatformConfig{
		Authority: testAddr("authority"),
		Oracle:    testAddr("oracle"),
		DoomMint:  testAddr("doom_mint"),
		LifeMint:  testAddr("life_mint"),
		FeeBps:    200,
	}
	image := platform.Marshal()
	address := keys.PlatformConfigAddress()

	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.accounts (address, kind, data, last_sequence)
		VALUES ($1, $2, $3, $4)
	`, address[:], state.PlatformConfigRecord, image, int64(7)); err != nil {
		t.Fatalf("insert account: %v", err)
	}

	svc := query.NewService(db, nil)

	got, err := svc.GetAccount(ctx, address)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.Address != address {
		t.Errorf("address: got %s, want %s", got.Address, address)
	}
	if got.Kind != state.PlatformConfigRecord {
		t.Errorf("kind: got %q, want %q", got.Kind, state.PlatformConfigRecord)
	}
	if got.AsOfSequence != 7 {
		t.Errorf("as_of_sequence: got %d, want 7", got.AsOfSequence)
	}
	if !bytes.Equal(got.Data, image) {
		t.Error("raw image should round trip unmodified")
	}

	// The served image stays decodable with the account codec
	decoded, err := state.UnmarshalPlatformConfig(got.Data)
	if err != nil {
		t.Fatalf("decode served image: %v", err)
	}
	if decoded.Authority != platform.Authority || decoded.FeeBps != 200 {
		t.Errorf("decoded image mismatch: %+v", decoded)
	}
}

func TestGetAccount_UnknownAddress(t *testing.T) {
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if err := persistence.NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		t.Fatalf("migrate up: %v", err)
	}

	svc := query.NewService(db, nil)
	if _, err := svc.GetAccount(ctx, testAddr("nobody")); err == nil {
		t.Error("expected error for unknown account")
	}
}
