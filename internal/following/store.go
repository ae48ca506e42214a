// Package following owns the logged-in user's following set. Every mutation
// goes through Store: the local set changes and the change is published on
// the event bus synchronously, then the backend is updated best-effort.
package following

import (
	"context"
	"sync"

	"feedsync/internal/api"
	"feedsync/internal/eventbus"
	"feedsync/internal/models"
	"feedsync/internal/observability"
)

// Change is the payload published on eventbus.TopicFollowing.
type Change struct {
	models.FollowChange
	// Origin is set when the change was applied from another process.
	Origin string `json:"-"`
}

// RelayedFrom implements eventbus.Relayed.
func (c Change) RelayedFrom() string { return c.Origin }

// Store is the single source of truth for who the current user follows.
type Store struct {
	bus    *eventbus.Bus
	mirror api.FollowMirror
	source api.FollowingSource
	log    *observability.SyncLogger

	mu               sync.RWMutex
	userID           string
	ids              []string
	index            map[string]struct{}
	suggestionsShown bool

	inflight sync.WaitGroup
}

// NewStore creates an empty, logged-out Store.
func NewStore(bus *eventbus.Bus, mirror api.FollowMirror, source api.FollowingSource) *Store {
	return &Store{
		bus:    bus,
		mirror: mirror,
		source: source,
		log:    observability.NewSyncLogger("following"),
		index:  make(map[string]struct{}),
	}
}

// Initialize replaces the set wholesale for userID. Duplicate seed IDs are
// collapsed.
func (s *Store) Initialize(_ context.Context, userID string, seedIDs []string) {
	ids := make([]string, 0, len(seedIDs))
	index := make(map[string]struct{}, len(seedIDs))
	for _, id := range seedIDs {
		if id == "" {
			continue
		}
		if _, ok := index[id]; ok {
			continue
		}
		index[id] = struct{}{}
		ids = append(ids, id)
	}

	s.mu.Lock()
	s.userID = userID
	s.ids = ids
	s.index = index
	s.mu.Unlock()
}

// Hydrate fetches the authoritative list for userID and initializes the set
// with it. A failed or empty fetch yields an empty set; Hydrate never fails.
func (s *Store) Hydrate(ctx context.Context, userID string) {
	var seed []string
	if s.source != nil {
		ids, err := s.source.FetchFollowing(ctx, userID)
		if err != nil {
			s.log.LogLoadFailure(ctx, "fetch_following", err, map[string]interface{}{"user_id": userID})
		} else {
			seed = ids
		}
	}
	s.Initialize(ctx, userID, seed)
}

// Follow adds userID to the set and mirrors the change. Without a logged-in
// identity it does nothing.
func (s *Store) Follow(ctx context.Context, userID string) {
	s.mutate(ctx, userID, models.ActionFollow)
}

// Unfollow removes userID from the set and mirrors the change. Without a
// logged-in identity it does nothing.
func (s *Store) Unfollow(ctx context.Context, userID string) {
	s.mutate(ctx, userID, models.ActionUnfollow)
}

func (s *Store) mutate(ctx context.Context, target string, action models.FollowAction) {
	s.mu.Lock()
	if s.userID == "" || target == "" {
		s.mu.Unlock()
		return
	}
	s.applyLocked(target, action)
	s.mu.Unlock()

	s.log.LogMutation(ctx, string(action), map[string]interface{}{"target_id": target})
	s.bus.Publish(eventbus.TopicFollowing, Change{FollowChange: models.FollowChange{UserID: target, Action: action}})
	s.mirrorAsync(ctx, target, action)
}

// ApplyRemote applies a change made by another process of the same user. It
// is published locally but neither mirrored nor relayed again. Changes whose
// owner is not the current user are ignored.
func (s *Store) ApplyRemote(origin, owner string, change models.FollowChange) {
	s.mu.Lock()
	if s.userID == "" || owner != s.userID || change.UserID == "" {
		s.mu.Unlock()
		return
	}
	s.applyLocked(change.UserID, change.Action)
	s.mu.Unlock()

	s.bus.Publish(eventbus.TopicFollowing, Change{FollowChange: change, Origin: origin})
}

func (s *Store) applyLocked(target string, action models.FollowAction) {
	switch action {
	case models.ActionFollow:
		if _, ok := s.index[target]; ok {
			return
		}
		s.index[target] = struct{}{}
		s.ids = append(s.ids, target)
	case models.ActionUnfollow:
		if _, ok := s.index[target]; !ok {
			return
		}
		delete(s.index, target)
		next := make([]string, 0, len(s.ids))
		for _, id := range s.ids {
			if id != target {
				next = append(next, id)
			}
		}
		s.ids = next
	}
}

func (s *Store) mirrorAsync(ctx context.Context, target string, action models.FollowAction) {
	if s.mirror == nil {
		return
	}
	// The mirror outlives the caller's request scope but keeps its values.
	ctx = observability.EnsureCorrelationID(context.WithoutCancel(ctx))
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		var err error
		switch action {
		case models.ActionFollow:
			err = s.mirror.Follow(ctx, target)
		case models.ActionUnfollow:
			err = s.mirror.Unfollow(ctx, target)
		}
		if err != nil {
			observability.MirrorFailures.WithLabelValues(string(action)).Inc()
			s.log.LogMirrorFailure(ctx, string(action), err, map[string]interface{}{"target_id": target})
		}
	}()
}

// Wait blocks until every in-flight mirror call has finished.
func (s *Store) Wait() {
	s.inflight.Wait()
}

// List returns the followed IDs in the order they were added.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// IsFollowing reports whether userID is in the set.
func (s *Store) IsFollowing(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[userID]
	return ok
}

// Count returns the size of the set.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// UserID returns the identity the set belongs to, or "" when torn down.
func (s *Store) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// SuggestionsShown reports whether this session already showed the
// who-to-follow prompt.
func (s *Store) SuggestionsShown() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.suggestionsShown
}

// MarkSuggestionsShown records that the who-to-follow prompt was shown.
func (s *Store) MarkSuggestionsShown() {
	s.mu.Lock()
	s.suggestionsShown = true
	s.mu.Unlock()
}

// Teardown clears the set, the identity and logout-scoped flags. Nothing is
// published.
func (s *Store) Teardown() {
	s.mu.Lock()
	s.userID = ""
	s.ids = nil
	s.index = make(map[string]struct{})
	s.suggestionsShown = false
	s.mu.Unlock()
}
