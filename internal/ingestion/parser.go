package ingestion

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"PredictionLedger/internal/instruction"
)

// submissionJSON is the transport envelope received from NATS. The wire
// payload itself is opaque base64 bytes; submission metadata travels
// alongside it. Field names use snake_case to match upstream producers.
type submissionJSON struct {
	IdempotencyKey string `json:"idempotency_key"`
	SourceSequence int64  `json:"source_sequence"`
	TimestampUs    int64  `json:"timestamp_us"`
	Data           string `json:"data"` // base64-encoded wire payload
}

// ParseSubmission converts a raw NATS message into a typed instruction:
// unwrap the JSON envelope, base64-decode the wire payload, decode it, and
// stamp the submission metadata onto the result.
func ParseSubmission(raw RawInstruction) (instruction.Instruction, error) {
	var sub submissionJSON
	if err := json.Unmarshal(raw.Data, &sub); err != nil {
		return nil, fmt.Errorf("parse submission envelope: %w", err)
	}

	if sub.IdempotencyKey == "" {
		return nil, fmt.Errorf("submission missing idempotency_key")
	}
	if sub.SourceSequence < 0 {
		return nil, fmt.Errorf("negative source_sequence: %d", sub.SourceSequence)
	}
	if sub.TimestampUs <= 0 {
		return nil, fmt.Errorf("missing timestamp_us")
	}

	wire, err := base64.StdEncoding.DecodeString(sub.Data)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	inst, err := instruction.Decode(wire)
	if err != nil {
		return nil, fmt.Errorf("decode instruction: %w", err)
	}

	stampMetadata(inst, sub.IdempotencyKey, sub.SourceSequence, sub.TimestampUs/1_000_000)
	return inst, nil
}

// stampMetadata fills the transport-carried fields the wire payload does
// not encode.
func stampMetadata(inst instruction.Instruction, key string, seq, unixTime int64) {
	switch i := inst.(type) {
	case *instruction.Initialize:
		i.Key, i.Seq, i.Time = key, seq, unixTime
	case *instruction.UpdatePlatform:
		i.Key, i.Seq, i.Time = key, seq, unixTime
	case *instruction.CreateEvent:
		i.Key, i.Seq, i.Time = key, seq, unixTime
	case *instruction.CancelEvent:
		i.Key, i.Seq, i.Time = key, seq, unixTime
	case *instruction.PlaceBet:
		i.Key, i.Seq, i.Time = key, seq, unixTime
	case *instruction.ResolveEvent:
		i.Key, i.Seq, i.Time = key, seq, unixTime
	case *instruction.ClaimWinnings:
		i.Key, i.Seq, i.Time = key, seq, unixTime
	case *instruction.ClaimRefund:
		i.Key, i.Seq, i.Time = key, seq, unixTime
	case *instruction.Deposit:
		i.Key, i.Seq, i.Time = key, seq, unixTime
	case *instruction.WithdrawFees:
		i.Key, i.Seq, i.Time = key, seq, unixTime
	default:
		panic(fmt.Sprintf("unhandled instruction type %T", inst))
	}
}
