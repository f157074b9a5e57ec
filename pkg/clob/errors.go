package clob

import "errors"

// Failure taxonomy for all book, ledger, and registry operations.
// Callers branch with errors.Is; call sites add detail with fmt.Errorf("...: %w").
var (
	// ErrValidation covers malformed inputs: non-positive amounts or prices,
	// unknown sides, bad configuration.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientBalance means the free balance cannot cover the requested
	// lock or withdrawal.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientLiquidity means a take order could not be filled in full.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")

	// ErrSlippageExceeded means a take order's proceeds fell below the caller's bound.
	ErrSlippageExceeded = errors.New("slippage exceeded")

	// ErrNotFound means no order matched the given index or (owner, ref id).
	ErrNotFound = errors.New("order not found")

	// ErrUnauthorized means the caller does not own the targeted order or slot.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSlotOccupied means the market maker index is bound to another identity.
	ErrSlotOccupied = errors.New("slot occupied")

	// ErrInvalidIndex means the market maker index is outside the slot table.
	ErrInvalidIndex = errors.New("invalid index")

	// ErrNotRegistered means the identity or slot has no market maker binding.
	ErrNotRegistered = errors.New("not registered")

	// ErrCapacityExceeded means a fixed-capacity structure is full.
	ErrCapacityExceeded = errors.New("capacity exceeded")
)
