package predicateindex

import (
	"context"

	"github.com/faster-go/predicateindex/internal/primarykv"
)

// Term names one predicate/secondary-key pair to evaluate as part of a
// Boolean combinator query (spec §3 "Query combinators: AND/OR over
// multiple predicates/keys").
type Term struct {
	Handle PredicateHandle
	Key    []byte
}

// VectorTerm names one predicate together with every secondary key whose
// matches should be unioned into a single stream before the combinator runs
// (spec §4.8 "vectorised form ... union within each predicate").
type VectorTerm struct {
	Handle PredicateHandle
	Keys   [][]byte
}

// liveMatch pairs a live candidate's recovered key/value with the primary
// address combinators dedupe and intersect on.
type liveMatch[K any, V any] struct {
	key   K
	value V
}

// AllMatch is the Boolean combinator for AND: every stream must contain the
// candidate (spec §4.8's `f(bool,bool)→bool` row, generalized to N).
func AllMatch(matched []bool) bool {
	for _, m := range matched {
		if !m {
			return false
		}
	}

	return true
}

// AnyMatch is the Boolean combinator for OR: at least one stream must
// contain the candidate (spec §4.8's OR combinator, generalized to N).
func AnyMatch(matched []bool) bool {
	for _, m := range matched {
		if m {
			return true
		}
	}

	return false
}

// Query evaluates a single predicate/key pair, returning every live record
// matching it (spec §4.8 "q(P, k)").
func (s *QuerySession[K, V]) Query(ctx context.Context, term Term) ([]K, []V, error) {
	if err := s.enter(); err != nil {
		return nil, nil, err
	}
	defer s.exit()

	return s.combine(ctx, AnyMatch, VectorTerm{Handle: term.Handle, Keys: [][]byte{term.Key}})
}

// QueryMany evaluates one predicate against every key in keys and returns
// the union of live matches, deduped by primary address (spec §4.8
// "q(P, ks): union over ks").
func (s *QuerySession[K, V]) QueryMany(ctx context.Context, handle PredicateHandle, keys ...[]byte) ([]K, []V, error) {
	if err := s.enter(); err != nil {
		return nil, nil, err
	}
	defer s.exit()

	return s.combine(ctx, AnyMatch, VectorTerm{Handle: handle, Keys: keys})
}

// And evaluates every term and returns only records live and matching under
// all of them (spec §4.8 "AND combinator").
func (s *QuerySession[K, V]) And(ctx context.Context, terms ...Term) ([]K, []V, error) {
	if err := s.enter(); err != nil {
		return nil, nil, err
	}
	defer s.exit()

	return s.combine(ctx, AllMatch, toVectorTerms(terms)...)
}

// Or evaluates every term and returns the union of live matches, deduped by
// primary address (spec §4.8 "OR combinator: union over multiple SKs").
func (s *QuerySession[K, V]) Or(ctx context.Context, terms ...Term) ([]K, []V, error) {
	if err := s.enter(); err != nil {
		return nil, nil, err
	}
	defer s.exit()

	return s.combine(ctx, AnyMatch, toVectorTerms(terms)...)
}

// Combine is the generic combinator spec §4.8 names last: an arbitrary
// number of predicates, each with its own vector of keys (unioned within
// the predicate first), joined by any Boolean function of the per-predicate
// match vector. And/Or/Query/QueryMany are all specializations of this one
// evaluation — e.g. a caller wanting XOR over two predicates can call
// Combine directly with a matcher that returns matched[0] != matched[1].
func (s *QuerySession[K, V]) Combine(ctx context.Context, f func(matched []bool) bool, terms ...VectorTerm) ([]K, []V, error) {
	if err := s.enter(); err != nil {
		return nil, nil, err
	}
	defer s.exit()

	return s.combine(ctx, f, terms...)
}

// toVectorTerms lifts single-key Terms into one-key VectorTerms so And/Or
// can share combine's implementation with the generic Combine.
func toVectorTerms(terms []Term) []VectorTerm {
	out := make([]VectorTerm, len(terms))
	for i, t := range terms {
		out[i] = VectorTerm{Handle: t.Handle, Keys: [][]byte{t.Key}}
	}

	return out
}

// combine implements the shared evaluation spec §4.8 describes: "evaluated
// per candidate primaryAddress; a candidate record that appears in any
// stream is evaluated once against the full Boolean. Deduplication is by
// primaryAddress after liveness filtering." Every term's keys are first
// unioned into one per-predicate live-match set; f then runs once per
// distinct candidate address over the vector of per-predicate membership
// bits. Callers must already hold this session's "in use" claim.
func (s *QuerySession[K, V]) combine(ctx context.Context, f func(matched []bool) bool, terms ...VectorTerm) ([]K, []V, error) {
	if len(terms) == 0 {
		return nil, nil, nil
	}

	sets := make([]map[primarykv.Address]liveMatch[K, V], len(terms))

	for i, t := range terms {
		union := make(map[primarykv.Address]liveMatch[K, V])

		for _, key := range t.Keys {
			m, err := s.evalTerm(ctx, Term{Handle: t.Handle, Key: key})
			if err != nil {
				return nil, nil, err
			}

			for addr, match := range m {
				union[addr] = match
			}
		}

		sets[i] = union
	}

	candidates := make(map[primarykv.Address]liveMatch[K, V])
	for _, m := range sets {
		for addr, match := range m {
			candidates[addr] = match
		}
	}

	var keys []K
	var values []V

	matched := make([]bool, len(sets))

	for addr, match := range candidates {
		for i, m := range sets {
			_, matched[i] = m[addr]
		}

		if f(matched) {
			keys = append(keys, match.key)
			values = append(values, match.value)
		}
	}

	return keys, values, nil
}

// evalTerm runs ReadEngine over one predicate/key pair and filters the
// result through LivenessChecker, returning a map keyed by primary address
// so combinators can intersect/union without a second liveness pass.
// Callers must already hold this session's "in use" claim.
func (s *QuerySession[K, V]) evalTerm(ctx context.Context, t Term) (map[primarykv.Address]liveMatch[K, V], error) {
	g, _, err := s.mgr.groupFor(t.Handle)
	if err != nil {
		return nil, err
	}

	sess := s.sessionFor(g)

	hits, err := readChain(g.store, sess, uint8(t.Handle.ordinal), t.Key)
	if err != nil {
		return nil, err
	}

	out := make(map[primarykv.Address]liveMatch[K, V], len(hits))

	for _, h := range hits {
		if h.tombstone {
			continue
		}

		if _, already := out[h.primaryAddr]; already {
			continue
		}

		live, key, value, err := checkLiveness[K, V](ctx, s.mgr.primary, h.primaryAddr)
		if err != nil {
			return nil, err
		}

		if !live {
			continue
		}

		out[h.primaryAddr] = liveMatch[K, V]{key: key, value: value}
	}

	return out, nil
}
