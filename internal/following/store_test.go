package following

import (
	"context"
	"errors"
	"sync"
	"testing"

	"feedsync/internal/eventbus"
	"feedsync/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mirrorStub is a stub for api.FollowMirror.
type mirrorStub struct {
	mu        sync.Mutex
	follows   []string
	unfollows []string
	followFn  func(context.Context, string) error
	unfollow  func(context.Context, string) error
}

func (m *mirrorStub) Follow(ctx context.Context, userID string) error {
	m.mu.Lock()
	m.follows = append(m.follows, userID)
	m.mu.Unlock()
	if m.followFn != nil {
		return m.followFn(ctx, userID)
	}
	return nil
}

func (m *mirrorStub) Unfollow(ctx context.Context, userID string) error {
	m.mu.Lock()
	m.unfollows = append(m.unfollows, userID)
	m.mu.Unlock()
	if m.unfollow != nil {
		return m.unfollow(ctx, userID)
	}
	return nil
}

func (m *mirrorStub) calls() (follows, unfollows []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.follows...), append([]string(nil), m.unfollows...)
}

// sourceStub is a stub for api.FollowingSource.
type sourceStub struct {
	fetchFn func(context.Context, string) ([]string, error)
}

func (s *sourceStub) FetchFollowing(ctx context.Context, userID string) ([]string, error) {
	return s.fetchFn(ctx, userID)
}

func collectChanges(bus *eventbus.Bus) *[]Change {
	var got []Change
	bus.SubscribeFunc(eventbus.TopicFollowing, func(p any) {
		got = append(got, p.(Change))
	})
	return &got
}

func loggedInStore(t *testing.T, mirror *mirrorStub) (*Store, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	s := NewStore(bus, mirror, nil)
	s.Initialize(context.Background(), "me", nil)
	return s, bus
}

func TestStore_FollowIsIdempotent(t *testing.T) {
	t.Parallel()
	mirror := &mirrorStub{}
	s, bus := loggedInStore(t, mirror)
	changes := collectChanges(bus)
	ctx := context.Background()

	s.Follow(ctx, "u1")
	s.Follow(ctx, "u1")
	s.Wait()

	assert.Equal(t, []string{"u1"}, s.List())
	follows, _ := mirror.calls()
	assert.Equal(t, []string{"u1", "u1"}, follows)
	assert.Len(t, *changes, 2)
}

func TestStore_FollowThenUnfollow(t *testing.T) {
	t.Parallel()
	mirror := &mirrorStub{}
	s, bus := loggedInStore(t, mirror)
	changes := collectChanges(bus)
	ctx := context.Background()

	s.Follow(ctx, "u1")
	s.Unfollow(ctx, "u1")
	s.Wait()

	assert.NotContains(t, s.List(), "u1")
	assert.False(t, s.IsFollowing("u1"))
	follows, unfollows := mirror.calls()
	assert.Equal(t, []string{"u1"}, follows)
	assert.Equal(t, []string{"u1"}, unfollows)
	require.Len(t, *changes, 2)
	assert.Equal(t, models.ActionFollow, (*changes)[0].Action)
	assert.Equal(t, models.ActionUnfollow, (*changes)[1].Action)
	assert.Equal(t, "u1", (*changes)[1].UserID)
}

func TestStore_MirrorFailureKeepsLocalState(t *testing.T) {
	t.Parallel()
	mirror := &mirrorStub{
		followFn: func(context.Context, string) error { return errors.New("offline") },
		unfollow: func(context.Context, string) error { return errors.New("offline") },
	}
	s, _ := loggedInStore(t, mirror)
	ctx := context.Background()

	s.Follow(ctx, "u1")
	s.Follow(ctx, "u2")
	s.Unfollow(ctx, "u2")
	s.Wait()

	assert.Equal(t, []string{"u1"}, s.List())
}

func TestStore_PublishesBeforeMirror(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	published := make(chan struct{})
	mirror := &mirrorStub{followFn: func(context.Context, string) error {
		select {
		case <-published:
		default:
			t.Error("mirror call issued before the bus notification")
		}
		return nil
	}}
	s := NewStore(bus, mirror, nil)
	s.Initialize(context.Background(), "me", nil)
	bus.SubscribeFunc(eventbus.TopicFollowing, func(any) {
		assert.True(t, s.IsFollowing("u1"), "membership must be visible to listeners")
		close(published)
	})

	s.Follow(context.Background(), "u1")
	s.Wait()
}

func TestStore_NoopWhenLoggedOut(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	mirror := &mirrorStub{}
	s := NewStore(bus, mirror, nil)
	changes := collectChanges(bus)

	s.Follow(context.Background(), "u1")
	s.Unfollow(context.Background(), "u1")
	s.Wait()

	assert.Empty(t, s.List())
	assert.Empty(t, *changes)
	follows, unfollows := mirror.calls()
	assert.Empty(t, follows)
	assert.Empty(t, unfollows)
}

func TestStore_InitializeReplacesAndDedupes(t *testing.T) {
	t.Parallel()
	s, _ := loggedInStore(t, &mirrorStub{})
	s.Follow(context.Background(), "old")
	s.Wait()

	s.Initialize(context.Background(), "me", []string{"a", "b", "a", "", "c"})
	assert.Equal(t, []string{"a", "b", "c"}, s.List())
	assert.False(t, s.IsFollowing("old"))
	assert.Equal(t, 3, s.Count())
}

func TestStore_HydrateFallsBackToEmpty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	failing := NewStore(eventbus.New(), nil, &sourceStub{fetchFn: func(context.Context, string) ([]string, error) {
		return nil, errors.New("503")
	}})
	failing.Hydrate(ctx, "me")
	assert.Equal(t, "me", failing.UserID())
	assert.Empty(t, failing.List())

	nilList := NewStore(eventbus.New(), nil, &sourceStub{fetchFn: func(context.Context, string) ([]string, error) {
		return nil, nil
	}})
	nilList.Hydrate(ctx, "me")
	assert.Empty(t, nilList.List())

	ok := NewStore(eventbus.New(), nil, &sourceStub{fetchFn: func(_ context.Context, id string) ([]string, error) {
		assert.Equal(t, "me", id)
		return []string{"x", "y"}, nil
	}})
	ok.Hydrate(ctx, "me")
	assert.Equal(t, []string{"x", "y"}, ok.List())
}

func TestStore_TeardownClearsWithoutPublishing(t *testing.T) {
	t.Parallel()
	mirror := &mirrorStub{}
	s, bus := loggedInStore(t, mirror)
	s.Follow(context.Background(), "u1")
	s.MarkSuggestionsShown()
	s.Wait()
	changes := collectChanges(bus)

	s.Teardown()

	assert.Empty(t, s.List())
	assert.Equal(t, "", s.UserID())
	assert.False(t, s.SuggestionsShown())
	assert.Empty(t, *changes)

	// A stale surface acting after logout must not reach the bus or backend.
	s.Follow(context.Background(), "u2")
	s.Wait()
	assert.Empty(t, *changes)
	follows, _ := mirror.calls()
	assert.Equal(t, []string{"u1"}, follows)
}

func TestStore_ApplyRemote(t *testing.T) {
	t.Parallel()
	mirror := &mirrorStub{}
	s, bus := loggedInStore(t, mirror)
	changes := collectChanges(bus)

	s.ApplyRemote("other-window", "me", models.FollowChange{UserID: "u9", Action: models.ActionFollow})
	s.Wait()

	assert.True(t, s.IsFollowing("u9"))
	require.Len(t, *changes, 1)
	assert.Equal(t, "other-window", (*changes)[0].RelayedFrom())
	follows, _ := mirror.calls()
	assert.Empty(t, follows)
}

func TestStore_ApplyRemoteIgnoresOtherOwners(t *testing.T) {
	t.Parallel()
	s, bus := loggedInStore(t, &mirrorStub{})
	changes := collectChanges(bus)

	s.ApplyRemote("other-window", "someone-else", models.FollowChange{UserID: "u9", Action: models.ActionFollow})
	s.ApplyRemote("other-window", "", models.FollowChange{UserID: "u9", Action: models.ActionFollow})

	assert.False(t, s.IsFollowing("u9"))
	assert.Empty(t, *changes)

	s.Teardown()
	s.ApplyRemote("other-window", "", models.FollowChange{UserID: "u9", Action: models.ActionFollow})
	assert.Zero(t, s.Count())
}

func TestStore_ListOrderAndManyUsers(t *testing.T) {
	t.Parallel()
	s, _ := loggedInStore(t, &mirrorStub{})
	ctx := context.Background()

	var want []string
	seen := map[string]bool{}
	for i := 0; i < 25; i++ {
		id := gofakeit.UUID()
		if seen[id] {
			continue
		}
		seen[id] = true
		want = append(want, id)
		s.Follow(ctx, id)
	}
	s.Wait()
	assert.Equal(t, want, s.List())
}
