package core

import "errors"

// Domain rejections. Handlers wrap these with context; callers match
// with errors.Is. Anything NOT in this list that surfaces from apply
// logic indicates an internal bug, not a bad instruction.
var (
	ErrUnauthorized       = errors.New("caller is not authorized")
	ErrAlreadyInitialized = errors.New("platform already initialized")
	ErrNotInitialized     = errors.New("platform not initialized")
	ErrInvalidFee         = errors.New("fee exceeds 10000 basis points")
	ErrInvalidDeadline    = errors.New("deadlines must satisfy now < betting < event < resolution")
	ErrPlatformPaused     = errors.New("platform is paused")
	ErrInvalidTitle       = errors.New("title is empty or too long")
	ErrInvalidDescription = errors.New("description is too long")
	ErrEventExists        = errors.New("event id already exists")
	ErrEventNotFound      = errors.New("event not found")
	ErrInvalidBetAmount   = errors.New("bet amount must be positive")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrDuplicateBet       = errors.New("participant already has a bet on this event")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInvalidState       = errors.New("event is not in the required state")
	ErrTooEarly           = errors.New("resolution window has not opened")
	ErrTooLate            = errors.New("deadline has passed")
	ErrInvalidOutcome     = errors.New("outcome must be doom or life")
	ErrBetNotFound        = errors.New("no bet found for participant")
	ErrNotAWinner         = errors.New("bet is not on the winning side")
	ErrDuplicateClaim     = errors.New("bet already claimed")
)
