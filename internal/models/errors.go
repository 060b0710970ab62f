package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// API-boundary error kinds returned by the scheduler's public operations.
// Each maps to a distinct user-facing code at the frontend layer.
var (
	// ErrSyntax indicates a request the frontend's own parser rejected
	// before it ever reached the scheduler. The scheduler never returns
	// this itself; it is reserved for frontends that want to report
	// parse failures using the same error-kind vocabulary.
	ErrSyntax = errors.New("syntax error")

	// ErrTooLong indicates a requested recording exceeds the maximum
	// recording length (default cap: four hours).
	ErrTooLong = errors.New("recording duration exceeds maximum allowed length")

	// ErrEndBeforeStart indicates ts_end is not strictly after ts_start.
	ErrEndBeforeStart = errors.New("end time must be after start time")

	// ErrStartInPast indicates ts_start is not strictly in the future.
	ErrStartInPast = errors.New("start time must be in the future")

	// ErrCollides indicates the candidate job's interval overlaps an
	// existing pending or in-flight job on the target device, including
	// endpoint equality.
	ErrCollides = errors.New("recording collides with an existing job on this device")

	// ErrQueueFull indicates the target device's pending queue is already
	// at its configured maximum entry count.
	ErrQueueFull = errors.New("device queue is full")

	// ErrUnknownProfile indicates a named transcoding profile does not
	// resolve in the profile registry.
	ErrUnknownProfile = errors.New("unknown transcoding profile")

	// ErrUnknownChannel indicates a channel name does not resolve through
	// the external station/channel table.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrUnknownRelativeDate indicates a relative date expression (parsed
	// by the frontend, not the core) could not be resolved.
	ErrUnknownRelativeDate = errors.New("unknown relative date expression")

	// ErrNotFound indicates a lookup by sequence number or device index
	// found nothing live.
	ErrNotFound = errors.New("not found")

	// ErrBusy indicates a device-control operation should be retried. No
	// package in this module returns it; the device-control retry loops
	// use devicepool.ErrBusy.
	ErrBusy = errors.New("device busy")
)
