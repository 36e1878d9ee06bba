package keys

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Address is a 32-byte account address derived from a tag and components.
type Address [32]byte

// derivationDomain namespaces all derived addresses so they cannot collide
// with addresses derived by other programs using the same tags.
const derivationDomain = "PredictionLedger:v1"

// Standard derivation tags.
const (
	TagPlatformConfig = "platform_config"
	TagEvent          = "event"
	TagVaultDoom      = "vault_doom"
	TagVaultLife      = "vault_life"
	TagUserBet        = "user_bet"
	TagUserStats      = "user_stats"
)

// Derive computes a deterministic address from a tag and component bytes.
// The same inputs always produce the same address; distinct inputs are
// collision-resistant via SHA-256. Components are length-prefixed before
// hashing so that ("ab","c") and ("a","bc") derive different addresses.
func Derive(tag string, components ...[]byte) Address {
	h := sha256.New()
	h.Write([]byte(derivationDomain))
	h.Write([]byte{byte(len(tag))})
	h.Write([]byte(tag))

	var lenBuf [4]byte
	for _, c := range components {
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(c)))
		h.Write(lenBuf[:])
		h.Write(c)
	}

	var addr Address
	copy(addr[:], h.Sum(nil))
	return addr
}

// PlatformConfigAddress returns the singleton config address.
func PlatformConfigAddress() Address {
	return Derive(TagPlatformConfig)
}

// EventAddress returns the address of an event record.
func EventAddress(eventID uint64) Address {
	var idBuf [8]byte
	binary.LittleEndian.PutUint64(idBuf[:], eventID)
	return Derive(TagEvent, idBuf[:])
}

// DoomVaultAddress returns the pessimistic-side vault address for an event.
func DoomVaultAddress(eventAddr Address) Address {
	return Derive(TagVaultDoom, eventAddr[:])
}

// LifeVaultAddress returns the optimistic-side vault address for an event.
func LifeVaultAddress(eventAddr Address) Address {
	return Derive(TagVaultLife, eventAddr[:])
}

// UserBetAddress returns the per-(event, participant) bet address.
// Because the address is a pure function of the pair, a second bet by the
// same participant on the same event lands on an already-existing record.
func UserBetAddress(eventAddr Address, participant Address) Address {
	return Derive(TagUserBet, eventAddr[:], participant[:])
}

// UserStatsAddress returns the per-participant stats address.
func UserStatsAddress(participant Address) Address {
	return Derive(TagUserStats, participant[:])
}

// String returns the hex encoding of the address.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// IsZero reports whether the address is all zero bytes.
func (a Address) IsZero() bool {
	return a == Address{}
}

// ParseAddress decodes a 64-character hex string into an Address.
func ParseAddress(s string) (Address, error) {
	var addr Address
	raw, err := hex.DecodeString(s)
	if err != nil {
		return addr, fmt.Errorf("parse address: %w", err)
	}
	if len(raw) != len(addr) {
		return addr, fmt.Errorf("parse address: want %d bytes, got %d", len(addr), len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}

// MarshalText implements encoding.TextMarshaler (hex, for JSON keys and logs).
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
