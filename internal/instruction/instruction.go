package instruction

import (
	"PredictionLedger/internal/keys"
	"time"
)

// Kind discriminates instruction payloads.
type Kind int32

const (
	KindUnknown Kind = iota
	KindInitialize
	KindUpdatePlatform
	KindCreateEvent
	KindCancelEvent
	KindPlaceBet
	KindResolveEvent
	KindClaimWinnings
	KindClaimRefund
	KindDeposit
	KindWithdrawFees
)

// Envelope wraps every applied instruction in the log.
type Envelope struct {
	// Global monotonic sequence assigned by the core
	Sequence int64

	// Stable idempotency key from the submitter
	IdempotencyKey string

	// Instruction kind discriminator
	Kind Kind

	// Event context (nil for platform-level instructions)
	EventID *uint64

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// SHA-256 of state AFTER applying this instruction
	StateHash [32]byte

	// Previous instruction's state hash (chain integrity)
	PrevHash [32]byte
}

// Instruction is the interface all instruction payloads must implement.
type Instruction interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// Kind returns the discriminator
	Kind() Kind

	// EventID returns the event context (nil for platform-level instructions)
	EventID() *uint64

	// SourceSequence returns the upstream ordering key
	SourceSequence() int64

	// UnixTime returns the versioned submission timestamp (epoch seconds).
	// The core never reads the wall clock; all deadline checks use this.
	UnixTime() int64

	// Signer returns the caller identity that authorized the instruction
	Signer() keys.Address
}

func (k Kind) String() string {
	switch k {
	case KindInitialize:
		return "Initialize"
	case KindUpdatePlatform:
		return "UpdatePlatform"
	case KindCreateEvent:
		return "CreateEvent"
	case KindCancelEvent:
		return "CancelEvent"
	case KindPlaceBet:
		return "PlaceBet"
	case KindResolveEvent:
		return "ResolveEvent"
	case KindClaimWinnings:
		return "ClaimWinnings"
	case KindClaimRefund:
		return "ClaimRefund"
	case KindDeposit:
		return "Deposit"
	case KindWithdrawFees:
		return "WithdrawFees"
	default:
		return "Unknown"
	}
}

// WireName returns the namespaced operation name used for selector derivation.
func (k Kind) WireName() string {
	switch k {
	case KindInitialize:
		return "initialize"
	case KindUpdatePlatform:
		return "update_platform"
	case KindCreateEvent:
		return "create_event"
	case KindCancelEvent:
		return "cancel_event"
	case KindPlaceBet:
		return "place_bet"
	case KindResolveEvent:
		return "resolve_event"
	case KindClaimWinnings:
		return "claim_winnings"
	case KindClaimRefund:
		return "claim_refund"
	case KindDeposit:
		return "deposit"
	case KindWithdrawFees:
		return "withdraw_fees"
	default:
		return "unknown"
	}
}

// Outcome is the side of an event a bet is placed on, and the resolved result.
type Outcome uint8

const (
	OutcomeDoom Outcome = 0 // pessimistic side
	OutcomeLife Outcome = 1 // optimistic side
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDoom:
		return "doom"
	case OutcomeLife:
		return "life"
	default:
		return "invalid"
	}
}

// Valid reports whether the outcome is one of the two defined sides.
func (o Outcome) Valid() bool {
	return o == OutcomeDoom || o == OutcomeLife
}

// Opposite returns the other side.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeDoom {
		return OutcomeLife
	}
	return OutcomeDoom
}

// Token selects one of the two outcome token mints.
type Token uint8

const (
	TokenDoom Token = 0
	TokenLife Token = 1
)

func (t Token) String() string {
	switch t {
	case TokenDoom:
		return "doom"
	case TokenLife:
		return "life"
	default:
		return "invalid"
	}
}

// Valid reports whether the token is one of the two defined mints.
func (t Token) Valid() bool {
	return t == TokenDoom || t == TokenLife
}

// TokenForSide returns the token a stake on the given side is denominated in.
func TokenForSide(o Outcome) Token {
	return Token(o)
}
