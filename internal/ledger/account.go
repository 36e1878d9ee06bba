package ledger

import (
	"fmt"

	"PredictionLedger/internal/instruction"
	"PredictionLedger/internal/keys"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeVault
	AccountScopePlatform
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeSpendable AccountSubType = iota

	// Platform sub-types
	SubTypePlatformFees

	// External sub-types
	SubTypeExternalFunding
	SubTypeExternalWithdrawals
)

// AccountKey is the in-memory key for balance tracking. Entity is the
// participant address for user accounts and the derived vault address
// for vault accounts; zero otherwise.
type AccountKey struct {
	Scope   AccountScope
	Entity  keys.Address
	SubType AccountSubType
	Token   instruction.Token
}

// NewUserAccountKey creates a key for a participant's spendable balance
func NewUserAccountKey(participant keys.Address, token instruction.Token) AccountKey {
	return AccountKey{
		Scope:   AccountScopeUser,
		Entity:  participant,
		SubType: SubTypeSpendable,
		Token:   token,
	}
}

// NewVaultAccountKey creates a key for an event's stake vault
func NewVaultAccountKey(vault keys.Address, token instruction.Token) AccountKey {
	return AccountKey{
		Scope:   AccountScopeVault,
		Entity:  vault,
		SubType: SubTypeSpendable,
		Token:   token,
	}
}

// NewFeesAccountKey creates a key for the platform fee account
func NewFeesAccountKey(token instruction.Token) AccountKey {
	return AccountKey{
		Scope:   AccountScopePlatform,
		SubType: SubTypePlatformFees,
		Token:   token,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, token instruction.Token) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		Token:   token,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s", k.Entity, k.Token)
	case AccountScopeVault:
		return fmt.Sprintf("vault:%s:%s", k.Entity, k.Token)
	case AccountScopePlatform:
		return fmt.Sprintf("platform:%s:%s", k.subTypeName(), k.Token)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), k.Token)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeSpendable:
		return "spendable"
	case SubTypePlatformFees:
		return "fees"
	case SubTypeExternalFunding:
		return "funding"
	case SubTypeExternalWithdrawals:
		return "withdrawals"
	default:
		return "unknown"
	}
}
