// Package feed holds the newest-first post collection shown on the home feed.
package feed

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"feedsync/internal/api"
	"feedsync/internal/models"
	"feedsync/internal/observability"
	"feedsync/internal/session"
)

// SnapshotKey is the storage key of the cached feed.
const SnapshotKey = "feed:snapshot"

var errEmptyFeed = errors.New("feed: empty result")

// Aggregator loads posts and keeps them sorted by creation time, newest first.
type Aggregator struct {
	source api.FeedSource
	cache  session.Storage
	ttl    time.Duration
	log    *observability.SyncLogger

	mu     sync.RWMutex
	posts  []models.Post
	loaded bool
}

// NewAggregator creates an Aggregator. cache may be nil to disable the
// snapshot fallback.
func NewAggregator(source api.FeedSource, cache session.Storage, ttl time.Duration) *Aggregator {
	return &Aggregator{
		source: source,
		cache:  cache,
		ttl:    ttl,
		log:    observability.NewSyncLogger("feed"),
	}
}

// Load fetches the feed. It never fails: a failed or empty fetch falls back
// to the cached snapshot and then to the empty state. Posts already known
// locally are kept unless the fetch returned the same ID.
func (a *Aggregator) Load(ctx context.Context) {
	fetched, err := a.fetch(ctx)
	result := "fetched"
	if err != nil {
		a.log.LogLoadFailure(ctx, "fetch_feed", err, nil)
		fetched = a.snapshot(ctx)
		result = "cached"
		if len(fetched) == 0 {
			result = "empty"
		}
	} else {
		a.store(ctx, fetched)
	}
	observability.FeedLoads.WithLabelValues(result).Inc()

	a.mu.Lock()
	a.posts = merge(fetched, a.posts)
	a.loaded = true
	n := len(a.posts)
	a.mu.Unlock()

	a.log.LogMutation(ctx, "load", map[string]interface{}{"result": result, "count": n})
}

func (a *Aggregator) fetch(ctx context.Context) ([]models.Post, error) {
	if a.source == nil {
		return nil, errEmptyFeed
	}
	posts, err := a.source.FetchFeed(ctx)
	if err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return nil, errEmptyFeed
	}
	return posts, nil
}

func (a *Aggregator) snapshot(ctx context.Context) []models.Post {
	if a.cache == nil {
		return nil
	}
	var posts []models.Post
	found, err := session.GetJSON(ctx, a.cache, SnapshotKey, &posts)
	if err != nil {
		a.log.LogLoadFailure(ctx, "read_snapshot", err, nil)
		return nil
	}
	if !found {
		return nil
	}
	return posts
}

func (a *Aggregator) store(ctx context.Context, posts []models.Post) {
	if a.cache == nil {
		return
	}
	if err := session.SetJSON(ctx, a.cache, SnapshotKey, posts, a.ttl); err != nil {
		a.log.LogMirrorFailure(ctx, "write_snapshot", err, nil)
	}
}

// merge returns fetched followed by the local posts it does not replace,
// sorted newest first.
func merge(fetched, local []models.Post) []models.Post {
	out := make([]models.Post, 0, len(fetched)+len(local))
	seen := make(map[string]struct{}, len(fetched))
	for _, p := range fetched {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	for _, p := range local {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	sortNewestFirst(out)
	return out
}

// sortNewestFirst orders posts by CreatedAt descending. Equal timestamps keep
// their arrival order.
func sortNewestFirst(posts []models.Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})
}

// Splice inserts a post created elsewhere, replacing any post with the same
// ID, and re-sorts.
func (a *Aggregator) Splice(post models.Post) {
	if post.ID == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	next := make([]models.Post, 0, len(a.posts)+1)
	for _, p := range a.posts {
		if p.ID != post.ID {
			next = append(next, p)
		}
	}
	next = append(next, post)
	sortNewestFirst(next)
	a.posts = next
}

// SetCommentCount updates the comment count shown for postID.
func (a *Aggregator) SetCommentCount(postID string, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.posts {
		if a.posts[i].ID == postID {
			a.posts[i].CommentCount = n
			return
		}
	}
}

// Posts returns a copy of the ordered feed.
func (a *Aggregator) Posts() []models.Post {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]models.Post, len(a.posts))
	copy(out, a.posts)
	return out
}

// Lookup finds a post by ID.
func (a *Aggregator) Lookup(postID string) (models.Post, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, p := range a.posts {
		if p.ID == postID {
			return p, true
		}
	}
	return models.Post{}, false
}

// IsEmpty reports the explicit empty state: loaded with nothing to show.
func (a *Aggregator) IsEmpty() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.loaded && len(a.posts) == 0
}

// Reset drops every post, e.g. on logout.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.posts = nil
	a.loaded = false
	a.mu.Unlock()
}
