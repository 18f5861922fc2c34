// Package logstore implements the append-only secondary log and lock-free
// hash-bucket table consumed by the predicate index engine (spec §4.2).
//
// A real FASTER-style hybrid log spills cold records to disk and serves
// reads below the head address asynchronously. Disk device abstractions are
// explicitly out of scope for the predicate index core (spec §1), so this
// package keeps every record resident in memory but still implements the
// head/begin/safe-read-only address bookkeeping and the pending-read
// protocol the engine depends on: addresses below headAddress are served
// through the same queue-and-complete path a real on-disk read would use.
package logstore

import "fmt"

// Address is a monotonically increasing logical address assigned to a
// record at allocation time. Address 0 is never allocated; it is the
// sentinel for "no predecessor" / "empty bucket".
type Address uint64

// Invalid is the sentinel logical address meaning "absent".
const Invalid Address = 0

// String renders the address for diagnostics.
func (a Address) String() string {
	if a == Invalid {
		return "invalid"
	}

	return fmt.Sprintf("0x%x", uint64(a))
}
