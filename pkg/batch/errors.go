// Copyright 2025 Certen Protocol
//
// Batch package errors

package batch

import "errors"

// Common errors for the batch package
var (
	ErrNilRepositories  = errors.New("repositories cannot be nil")
	ErrBatchEmpty       = errors.New("batch is empty")
	ErrSchedulerRunning = errors.New("scheduler is already running")
	// ErrBatchLockHeld is returned when another instance holds the batch
	// advisory lock for this cycle; the caller should skip silently and
	// retry next tick, not treat it as a failure.
	ErrBatchLockHeld = errors.New("batch advisory lock held by another instance")
)
