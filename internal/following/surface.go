package following

import (
	"sync"

	"feedsync/internal/eventbus"
)

// Surface is one independently mounted consumer of the following set (navbar
// search panel, suggestion modal, profile page). It re-reads the store on
// every published change and never references other surfaces.
type Surface struct {
	store    *Store
	sub      *eventbus.Subscription
	onChange func(Change)

	mu       sync.RWMutex
	snapshot []string
	index    map[string]struct{}
}

// Mount subscribes a new surface to bus. onChange, if non-nil, runs after the
// surface refreshed its snapshot.
func Mount(bus *eventbus.Bus, store *Store, onChange func(Change)) *Surface {
	v := &Surface{store: store, onChange: onChange}
	v.refresh()
	v.sub = bus.SubscribeFunc(eventbus.TopicFollowing, func(payload any) {
		v.refresh()
		if c, ok := payload.(Change); ok && v.onChange != nil {
			v.onChange(c)
		}
	})
	return v
}

func (v *Surface) refresh() {
	ids := v.store.List()
	index := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		index[id] = struct{}{}
	}
	v.mu.Lock()
	v.snapshot = ids
	v.index = index
	v.mu.Unlock()
}

// Following returns the surface's last-read copy of the set.
func (v *Surface) Following() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, len(v.snapshot))
	copy(out, v.snapshot)
	return out
}

// IsFollowing reports membership according to the surface's snapshot, e.g.
// to label a Follow/Unfollow button.
func (v *Surface) IsFollowing(userID string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.index[userID]
	return ok
}

// Unmount detaches the surface; later changes no longer reach it.
func (v *Surface) Unmount() {
	v.sub.Unsubscribe()
}
