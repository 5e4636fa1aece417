package domain

import "errors"

var (
	// ErrNotFound means the position id is unknown to the store.
	ErrNotFound = errors.New("position not found")

	// ErrInvalidTransition means an event would violate the position status
	// state machine. Never retried.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrBusy means a per-position lock could not be acquired in time. The
	// operation had no side effects and is safe to retry with backoff.
	ErrBusy = errors.New("position busy")

	// ErrDurabilityFailure means an event could not be durably appended. The
	// engine refuses further mutations until storage health is confirmed.
	ErrDurabilityFailure = errors.New("event log append not durable")

	// ErrReconciliationConflict means local and remote state disagree in a way
	// automatic policy cannot safely resolve.
	ErrReconciliationConflict = errors.New("reconciliation conflict")

	// ErrSequenceUnavailable means the persisted id sequence could not be
	// recovered; the generator fails closed rather than risk reuse.
	ErrSequenceUnavailable = errors.New("id sequence unavailable")
)
