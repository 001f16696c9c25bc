package models

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientStock indicates a ledger held fewer valid units than requested.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInvalidStateTransition indicates a unit was asked to move along a lifecycle edge that does not exist.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrUnknownBloodType indicates the caller referenced a blood type outside the ABO/Rh set.
	ErrUnknownBloodType = errors.New("unknown blood type")

	// ErrUnknownUnit indicates the caller referenced a unit the inventory has no record of.
	ErrUnknownUnit = errors.New("unknown unit")

	// ErrUnknownRequest indicates the caller referenced a request that was never submitted.
	ErrUnknownRequest = errors.New("unknown request")

	// ErrStaleOperation indicates the request already reached a terminal status.
	ErrStaleOperation = errors.New("stale operation")

	// ErrInvalidInput indicates a malformed record reached the engine.
	ErrInvalidInput = errors.New("invalid input")

	// ErrPersistence wraps failures of the persistence collaborator. These are
	// transient and the caller may retry by flushing.
	ErrPersistence = errors.New("persistence failure")
)

// TransitionError describes a refused unit state change.
type TransitionError struct {
	UnitID string
	From   UnitStatus
	To     UnitStatus
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("unit %s: cannot move from %s to %s", e.UnitID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidStateTransition
}

// InsufficientStockError carries the numbers behind a refused reservation.
type InsufficientStockError struct {
	BloodType BloodType
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("%s: requested %d units, %d available", e.BloodType, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}
