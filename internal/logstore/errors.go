package logstore

import "errors"

// Transient control-flow signals (spec §7 "Transient" class). They never
// escape the predicateindex engine; callers inside this module retry or
// await them.
var (
	// ErrCPRShift signals a version-boundary race during a checkpoint;
	// the caller must re-drive the operation at the new session version.
	ErrCPRShift = errors.New("logstore: CPR shift")

	// ErrRetryNow signals that a CAS splice observed an upward link and
	// must abandon and re-drive the whole insert from scratch.
	ErrRetryNow = errors.New("logstore: retry now")

	// ErrPending signals that a read crossed below the head address and
	// was queued; the caller must drain completions before the result is
	// available.
	ErrPending = errors.New("logstore: pending")
)

// ErrClosed is returned by operations attempted on a closed store.
var ErrClosed = errors.New("logstore: closed")
