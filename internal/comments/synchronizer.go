// Package comments keeps the ordered comment log of every open post detail
// view. Comments enter the log from the initial fetch and from the push
// channel; local submissions only reach the backend.
package comments

import (
	"context"
	"strings"
	"sync"
	"time"

	"feedsync/internal/api"
	"feedsync/internal/eventbus"
	"feedsync/internal/models"
	"feedsync/internal/observability"
	"feedsync/internal/push"
)

// PushSource is the subscribe/unsubscribe contract of the push channel.
type PushSource interface {
	OnNewComment(fn func(push.NewComment)) *eventbus.Subscription
	Unsubscribe(event string, sub *eventbus.Subscription)
}

// Identity reports the logged-in user, "" when logged out.
type Identity interface {
	UserID() string
}

// CountSink receives the comment count of a post whenever its log grows.
type CountSink interface {
	SetCommentCount(postID string, n int)
}

// conversation is the state of one open post.
type conversation struct {
	comments []models.Comment
	index    map[string]struct{}
	draft    string
	sub      *eventbus.Subscription
}

func newConversation() *conversation {
	return &conversation{index: make(map[string]struct{})}
}

// add appends c unless its ID is already present.
func (c *conversation) add(comment models.Comment) bool {
	if _, ok := c.index[comment.ID]; ok {
		return false
	}
	c.index[comment.ID] = struct{}{}
	c.comments = append(c.comments, comment)
	return true
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithClock overrides the clock used for elapsed-time labels.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

// WithCountSink forwards count changes to sink.
func WithCountSink(sink CountSink) Option {
	return func(s *Synchronizer) { s.sink = sink }
}

// Synchronizer is the registry of open conversations.
type Synchronizer struct {
	source   api.CommentSource
	creator  api.CommentCreator
	push     PushSource
	identity Identity
	sink     CountSink
	now      func() time.Time
	log      *observability.SyncLogger

	mu    sync.Mutex
	convs map[string]*conversation

	inflight sync.WaitGroup
}

// NewSynchronizer wires a Synchronizer. push may be nil, in which case only
// OnPush feeds new comments in.
func NewSynchronizer(source api.CommentSource, creator api.CommentCreator, pushSrc PushSource, identity Identity, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		source:   source,
		creator:  creator,
		push:     pushSrc,
		identity: identity,
		now:      time.Now,
		log:      observability.NewSyncLogger("comments"),
		convs:    make(map[string]*conversation),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open starts tracking postID: it subscribes to pushed comments and then
// hydrates the log from the backend once. Opening an already open post is a
// no-op.
func (s *Synchronizer) Open(ctx context.Context, postID string) {
	if postID == "" {
		return
	}
	s.mu.Lock()
	if _, ok := s.convs[postID]; ok {
		s.mu.Unlock()
		return
	}
	conv := newConversation()
	s.convs[postID] = conv
	s.mu.Unlock()

	// Subscribe before fetching so nothing pushed during the fetch is lost.
	if s.push != nil {
		sub := s.push.OnNewComment(func(nc push.NewComment) {
			if nc.PostID != postID {
				return
			}
			s.OnPush(nc.PostID, nc.Comment)
		})
		s.mu.Lock()
		if s.convs[postID] == conv {
			conv.sub = sub
			sub = nil
		}
		s.mu.Unlock()
		if sub != nil {
			// Closed while subscribing.
			s.push.Unsubscribe(push.EventNewComment, sub)
			return
		}
	}

	var fetched []models.Comment
	if s.source != nil {
		list, err := s.source.FetchComments(ctx, postID)
		if err != nil {
			s.log.LogLoadFailure(ctx, "fetch_comments", err, map[string]interface{}{"post_id": postID})
		} else {
			fetched = list
		}
	}
	// A Close (and possibly a new Open) during the fetch replaces conv; the
	// result belongs to the old conversation and is discarded.
	s.hydrate(ctx, postID, conv, fetched)
}

// Close stops tracking postID and drops its log. Pushes for it are ignored
// from then on.
func (s *Synchronizer) Close(postID string) {
	s.mu.Lock()
	conv, ok := s.convs[postID]
	if ok {
		delete(s.convs, postID)
	}
	s.mu.Unlock()
	if ok && conv.sub != nil && s.push != nil {
		s.push.Unsubscribe(push.EventNewComment, conv.sub)
	}
}

// CloseAll closes every open post.
func (s *Synchronizer) CloseAll() {
	for _, id := range s.OpenPosts() {
		s.Close(id)
	}
}

// OpenPosts lists the posts currently open.
func (s *Synchronizer) OpenPosts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.convs))
	for id := range s.convs {
		out = append(out, id)
	}
	return out
}

// Hydrate merges previously existing comments into postID's log. Comments
// already in the log keep their position; the rest are placed before them in
// the given order.
func (s *Synchronizer) Hydrate(ctx context.Context, postID string, comments []models.Comment) {
	s.mu.Lock()
	conv := s.convs[postID]
	s.mu.Unlock()
	if conv == nil {
		return
	}
	s.hydrate(ctx, postID, conv, comments)
}

func (s *Synchronizer) hydrate(ctx context.Context, postID string, conv *conversation, comments []models.Comment) {
	s.mu.Lock()
	if s.convs[postID] != conv {
		s.mu.Unlock()
		return
	}
	merged := make([]models.Comment, 0, len(comments)+len(conv.comments))
	index := make(map[string]struct{}, len(comments)+len(conv.comments))
	for _, c := range comments {
		if c.ID == "" {
			continue
		}
		if _, pushed := conv.index[c.ID]; pushed {
			continue
		}
		if _, dup := index[c.ID]; dup {
			continue
		}
		if c.PostID == "" {
			c.PostID = postID
		}
		index[c.ID] = struct{}{}
		merged = append(merged, c)
	}
	for _, c := range conv.comments {
		index[c.ID] = struct{}{}
		merged = append(merged, c)
	}
	conv.comments = merged
	conv.index = index
	n := len(merged)
	s.mu.Unlock()

	s.log.LogMutation(ctx, "hydrate", map[string]interface{}{"post_id": postID, "count": n})
	s.publishCount(postID, n)
}

// OnPush applies a comment delivered by the push channel. A comment whose ID
// is already in the log is dropped; otherwise it is appended.
func (s *Synchronizer) OnPush(postID string, comment models.Comment) {
	if comment.ID == "" {
		observability.PushEvents.WithLabelValues(push.EventNewComment, "invalid").Inc()
		return
	}
	if comment.PostID == "" {
		comment.PostID = postID
	}

	s.mu.Lock()
	conv, ok := s.convs[postID]
	if !ok {
		s.mu.Unlock()
		observability.PushEvents.WithLabelValues(push.EventNewComment, "ignored").Inc()
		return
	}
	added := conv.add(comment)
	n := len(conv.comments)
	s.mu.Unlock()

	if !added {
		observability.PushEvents.WithLabelValues(push.EventNewComment, "duplicate").Inc()
		return
	}
	observability.PushEvents.WithLabelValues(push.EventNewComment, "applied").Inc()
	s.publishCount(postID, n)
}

func (s *Synchronizer) publishCount(postID string, n int) {
	if s.sink != nil {
		s.sink.SetCommentCount(postID, n)
	}
}

// SetDraft stores the pending text of postID's comment input.
func (s *Synchronizer) SetDraft(postID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.convs[postID]; ok {
		conv.draft = text
	}
}

// Draft returns the pending text of postID's comment input.
func (s *Synchronizer) Draft(postID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.convs[postID]; ok {
		return conv.draft
	}
	return ""
}

// Submit sends text as a new comment on postID. Empty text or a logged-out
// identity make it a no-op and it reports false. Otherwise the draft is
// cleared before returning and the create call runs in the background; a
// failed call is logged and the draft stays cleared. The comment itself
// appears only once the push channel delivers it.
func (s *Synchronizer) Submit(ctx context.Context, postID, text string) bool {
	text = strings.TrimSpace(text)
	if text == "" || postID == "" {
		return false
	}
	if s.identity == nil || s.identity.UserID() == "" {
		s.log.LogDiscard(ctx, "not_logged_in", map[string]interface{}{"post_id": postID})
		return false
	}

	s.mu.Lock()
	if conv, ok := s.convs[postID]; ok {
		conv.draft = ""
	}
	s.mu.Unlock()

	if s.creator == nil {
		return true
	}
	ctx = observability.EnsureCorrelationID(context.WithoutCancel(ctx))
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		observability.LogAsyncOperationStart(ctx, "create_comment", map[string]interface{}{"post_id": postID})
		if err := s.creator.CreateComment(ctx, postID, text); err != nil {
			observability.MirrorFailures.WithLabelValues("create_comment").Inc()
			s.log.LogMirrorFailure(ctx, "create_comment", err, map[string]interface{}{"post_id": postID})
			return
		}
		observability.LogAsyncOperationEnd(ctx, "create_comment", map[string]interface{}{"post_id": postID})
	}()
	return true
}

// Wait blocks until every in-flight create call has finished.
func (s *Synchronizer) Wait() {
	s.inflight.Wait()
}

// Comments returns a copy of postID's log. Comments without an elapsed label
// get one computed relative to now.
func (s *Synchronizer) Comments(postID string) []models.Comment {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[postID]
	if !ok {
		return nil
	}
	out := make([]models.Comment, len(conv.comments))
	for i, c := range conv.comments {
		if c.Elapsed == "" && !c.CreatedAt.IsZero() {
			c.Elapsed = models.ElapsedLabel(c.CreatedAt, now)
		}
		out[i] = c
	}
	return out
}

// Count is the length of postID's log.
func (s *Synchronizer) Count(postID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.convs[postID]; ok {
		return len(conv.comments)
	}
	return 0
}

// IsOpen reports whether postID is being tracked.
func (s *Synchronizer) IsOpen(postID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.convs[postID]
	return ok
}
