// Package bonderrors collects the sentinel error values for the error
// kinds in spec.md §7, following the teacher's convention of declaring
// package-level `var ErrXxx = errors.New(...)` values (see cache,
// netlink, saver, parse) rather than a type-switch hierarchy. Callers
// check these with errors.Is/errors.As.
package bonderrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the kinds in spec.md §7 that need no extra
// context beyond their identity.
var (
	// ErrNetworkUnavailable means no interface could be bound. Recoverable;
	// housekeeping retries.
	ErrNetworkUnavailable = errors.New("bond: network unavailable")

	// ErrBindFailed means a specific interface rejected bind/connect. The
	// affected Link enters Failed and is handed to the backoff manager.
	ErrBindFailed = errors.New("bond: bind failed")

	// ErrProtocol means a malformed registration reply or group-id
	// mismatch was observed. The frame is logged and discarded; the
	// receiving Link's state is left unchanged.
	ErrProtocol = errors.New("bond: protocol error")

	// ErrTimeout means a registration or connection timeout fired,
	// triggering a reset and retry.
	ErrTimeout = errors.New("bond: timeout")

	// ErrPartialWrite/ErrSendFailed are treated as link failure, triggering
	// a transition to Failed.
	ErrPartialWrite = errors.New("bond: partial write")
	ErrSendFailed   = errors.New("bond: send failed")

	// ErrCapacityExceeded is warn-only; the sequence index evicts FIFO on
	// its own and keeps operating.
	ErrCapacityExceeded = errors.New("bond: capacity exceeded")

	// ErrNoAvailableLinks is emitted once per dropped source packet when
	// the scheduler has nothing eligible to return.
	ErrNoAvailableLinks = errors.New("bond: no available links")
)

// ConfigurationError reports a fatal startup misconfiguration: a missing
// host/port or a port outside [1, 65535] (spec.md §7). It carries the
// offending field name so main can log something actionable.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("bond: configuration error: %s: %s", e.Field, e.Reason)
}

// NewConfigurationError constructs a ConfigurationError for field with
// the given reason.
func NewConfigurationError(field, reason string) error {
	return &ConfigurationError{Field: field, Reason: reason}
}
