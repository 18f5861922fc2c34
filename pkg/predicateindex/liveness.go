package predicateindex

import (
	"context"

	"github.com/faster-go/predicateindex/internal/primarykv"
)

// checkLiveness implements the two-step liveness protocol (spec §4.4, §9):
// an address-read to recover the key a candidate record pointed at, then a
// key-read to ask the primary store whether that address is still the
// winner. This tolerates RCU: a candidate's primary address can resolve to
// a real, still-readable value (the primary store keeps old versions
// addressable until trimmed) while no longer being the key's current
// record, which is exactly the case this filters out.
func checkLiveness[K any, V any](ctx context.Context, primary primarykv.Store[K, V], pa primarykv.Address) (live bool, key K, value V, err error) {
	key, value, found, err := primary.ReadAtAddress(ctx, pa)
	if err != nil {
		return false, key, value, err
	}

	if !found {
		return false, key, value, nil
	}

	current, ok, err := primary.LookupAddressForKey(ctx, key)
	if err != nil {
		return false, key, value, err
	}

	if !ok || current != pa {
		return false, key, value, nil
	}

	return true, key, value, nil
}
