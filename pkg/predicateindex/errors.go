package predicateindex

import "errors"

// Caller-facing errors (spec §7's "Configuration", "Concurrency misuse",
// and "Invariant violation" classes). Transient errors (CPR_SHIFT,
// RETRY_NOW, PENDING) are recovered inside the engine and never reach
// callers; they live in internal/logstore.
var (
	// ErrDuplicateName is returned by RegisterGroup when a predicate name
	// is already registered anywhere in the index manager.
	ErrDuplicateName = errors.New("predicateindex: duplicate predicate name")

	// ErrInvalidSettings is returned when GroupSettings are malformed
	// (nil extract func, non-power-of-two hash table size, zero key
	// size, ...).
	ErrInvalidSettings = errors.New("predicateindex: invalid group settings")

	// ErrUnsupportedOption is returned when a caller requests a tunable
	// this index forbids (spec §6.4: read-cache, copy-reads-to-tail).
	ErrUnsupportedOption = errors.New("predicateindex: unsupported option")

	// ErrInvariantViolation is returned when an internal invariant that
	// "should be impossible" is observed (spec §7), such as a
	// PredicateHandle that does not belong to the IndexManager. The session
	// that returned it is not marked invalid and stays usable.
	ErrInvariantViolation = errors.New("predicateindex: internal invariant violation")

	// ErrConcurrentSessionUse is returned when a session detects
	// reentrant use — a write or query issued while another operation on
	// the same session is already in flight (spec §4.9, §5).
	ErrConcurrentSessionUse = errors.New("predicateindex: invalid concurrent action on session")

	// ErrSessionInvalid is returned by any operation on a session whose
	// invalid flag is set. No operation in this package sets that flag, so
	// ErrInvariantViolation does not lead to ErrSessionInvalid.
	ErrSessionInvalid = errors.New("predicateindex: session is invalid")

	// ErrClosed is returned by operations on a closed IndexManager/group.
	ErrClosed = errors.New("predicateindex: closed")
)
