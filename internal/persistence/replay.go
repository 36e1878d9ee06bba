package persistence

import (
	"encoding/json"
	"fmt"

	"PredictionLedger/internal/instruction"
)

// UnmarshalLoggedInstruction reconstructs a typed instruction from a logged
// row's kind discriminator and JSON payload. Used during replay.
func UnmarshalLoggedInstruction(kind string, payload []byte) (instruction.Instruction, error) {
	var inst instruction.Instruction
	switch kind {
	case "Initialize":
		inst = &instruction.Initialize{}
	case "UpdatePlatform":
		inst = &instruction.UpdatePlatform{}
	case "CreateEvent":
		inst = &instruction.CreateEvent{}
	case "CancelEvent":
		inst = &instruction.CancelEvent{}
	case "PlaceBet":
		inst = &instruction.PlaceBet{}
	case "ResolveEvent":
		inst = &instruction.ResolveEvent{}
	case "ClaimWinnings":
		inst = &instruction.ClaimWinnings{}
	case "ClaimRefund":
		inst = &instruction.ClaimRefund{}
	case "Deposit":
		inst = &instruction.Deposit{}
	case "WithdrawFees":
		inst = &instruction.WithdrawFees{}
	default:
		return nil, fmt.Errorf("unknown logged instruction kind: %s", kind)
	}

	if err := json.Unmarshal(payload, inst); err != nil {
		return nil, fmt.Errorf("unmarshal %s payload: %w", kind, err)
	}
	return inst, nil
}
