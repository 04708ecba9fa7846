package ppe

import "errors"

// Error classes for the pipeline. Per-frame and per-tick failures are
// recovered locally; configuration failures are fatal at construction.
var (
	// ErrInput marks a malformed or incomplete detection. The offending
	// detection is dropped for the frame; the pipeline continues.
	ErrInput = errors.New("invalid detection input")

	// ErrConfig marks an out-of-range tuning parameter. Construction fails
	// before any pipeline runs.
	ErrConfig = errors.New("invalid configuration")

	// ErrTickTimeout marks a fusion tick where one or more cameras failed
	// to report within the barrier timeout. The tick proceeds with the
	// cameras that did report.
	ErrTickTimeout = errors.New("fusion tick timed out waiting for cameras")

	// ErrRemovedTrack marks an operation against a track that has already
	// been removed. Treated as an internal invariant violation: the
	// operation is a no-op and is logged, never a crash.
	ErrRemovedTrack = errors.New("operation on removed track")
)
