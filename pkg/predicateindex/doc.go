// Package predicateindex implements a lock-free secondary predicate index
// over a log-structured primary key-value store, modeled on FASTER's
// secondary index design. A predicate is a pure function (K, V) -> Option<SK>
// registered against a PredicateGroup; every write to the primary store is
// diffed and re-spliced into each predicate's hash-collision chain by
// InsertEngine, and queries walk those chains through ReadEngine, filtering
// stale entries with a two-step liveness check against the primary store.
//
// The primary key-value store itself (internal/primarykv) is a boundary
// this package consumes, not something it implements; callers wire their
// own primary store in by satisfying primarykv.Store and registering
// IndexManager.Hooks() on its write path.
package predicateindex
