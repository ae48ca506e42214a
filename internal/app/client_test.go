package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"feedsync/internal/config"
	"feedsync/internal/eventbus"
	"feedsync/internal/following"
	"feedsync/internal/models"
	"feedsync/internal/push"
	"feedsync/internal/search"
	"feedsync/internal/session"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testEventuallyTimeout = 2 * time.Second
	testPollInterval      = 10 * time.Millisecond
)

// backendStub is an in-memory api.Backend.
type backendStub struct {
	mu        sync.Mutex
	posts     []models.Post
	comments  map[string][]models.Comment
	following map[string][]string
	users     []models.User
	created   []string
	follows   []string
	feedErr   error
}

func (b *backendStub) FetchFeed(context.Context) ([]models.Post, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.feedErr != nil {
		return nil, b.feedErr
	}
	return append([]models.Post(nil), b.posts...), nil
}

func (b *backendStub) FetchComments(_ context.Context, postID string) ([]models.Comment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Comment(nil), b.comments[postID]...), nil
}

func (b *backendStub) CreateComment(_ context.Context, postID, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.created = append(b.created, postID+":"+text)
	return nil
}

func (b *backendStub) FetchFollowing(_ context.Context, userID string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.following[userID]...), nil
}

func (b *backendStub) Follow(_ context.Context, userID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.follows = append(b.follows, "+"+userID)
	return nil
}

func (b *backendStub) Unfollow(_ context.Context, userID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.follows = append(b.follows, "-"+userID)
	return nil
}

func (b *backendStub) SearchUsers(context.Context, string) ([]models.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.User(nil), b.users...), nil
}

func testConfig() *config.Config {
	return &config.Config{
		SearchDebounceMS: 20,
		PushReconnectMS:  20,
		HTTPTimeoutMS:    1000,
		FeedCacheTTLMin:  5,
	}
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      userID,
		"username": gofakeit.Username(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func newBackend() *backendStub {
	now := time.Now()
	return &backendStub{
		posts: []models.Post{
			{ID: "p-old", Title: gofakeit.Sentence(3), CreatedAt: now.Add(-2 * time.Hour)},
			{ID: "p-new", Title: gofakeit.Sentence(3), CreatedAt: now},
			{ID: "p-mid", Title: gofakeit.Sentence(3), CreatedAt: now.Add(-time.Hour)},
		},
		comments: map[string][]models.Comment{
			"p-new": {{ID: "c1", Text: gofakeit.Sentence(5), CreatedAt: now.Add(-time.Minute)}},
		},
		following: map[string][]string{"me": {"u1", "u2"}},
		users:     []models.User{{ID: "me"}, {ID: "u3", Name: "carol"}},
	}
}

func postIDs(posts []models.Post) []string {
	out := make([]string, len(posts))
	for i, p := range posts {
		out[i] = p.ID
	}
	return out
}

func TestClient_LoginHydrates(t *testing.T) {
	t.Parallel()
	backend := newBackend()
	c := NewClientWithDeps(testConfig(), backend, session.NewMemoryStorage(), nil, nil)
	ctx := context.Background()

	user, err := c.Login(ctx, tokenFor(t, "me"))
	require.NoError(t, err)
	assert.Equal(t, "me", user.ID)
	assert.Equal(t, []string{"u1", "u2"}, c.Following().List())
	assert.Equal(t, []string{"p-new", "p-mid", "p-old"}, postIDs(c.Feed().Posts()))

	_, err = c.Login(ctx, "garbage")
	assert.True(t, models.IsCode(err, "VALIDATION_ERROR"))
}

func TestClient_RestoreResumesSession(t *testing.T) {
	t.Parallel()
	backend := newBackend()
	storage := session.NewMemoryStorage()
	ctx := context.Background()

	first := NewClientWithDeps(testConfig(), backend, storage, nil, nil)
	_, err := first.Login(ctx, tokenFor(t, "me"))
	require.NoError(t, err)

	second := NewClientWithDeps(testConfig(), backend, storage, nil, nil)
	ok, err := second.Restore(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "me", second.Session().UserID())
	assert.Equal(t, 2, second.Following().Count())

	empty := NewClientWithDeps(testConfig(), backend, session.NewMemoryStorage(), nil, nil)
	ok, err = empty.Restore(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClient_CommentFlowUpdatesFeedCount(t *testing.T) {
	t.Parallel()
	backend := newBackend()
	ch := push.NewChannel("ws://unused", time.Second, nil)
	c := NewClientWithDeps(testConfig(), backend, session.NewMemoryStorage(), nil, ch)
	ctx := context.Background()
	_, err := c.Login(ctx, tokenFor(t, "me"))
	require.NoError(t, err)

	c.Comments().Open(ctx, "p-new")
	post, _ := c.Feed().Lookup("p-new")
	assert.Equal(t, 1, post.CommentCount)

	c.Comments().SetDraft("p-new", "nice")
	require.True(t, c.Comments().Submit(ctx, "p-new", "nice"))
	assert.Empty(t, c.Comments().Draft("p-new"))
	c.Comments().Wait()

	payload, err := json.Marshal(push.NewComment{PostID: "p-new", Comment: models.Comment{ID: "c2", Text: "nice", AuthorID: "me", CreatedAt: time.Now()}})
	require.NoError(t, err)
	ch.Dispatch(push.EventNewComment, payload)
	ch.Dispatch(push.EventNewComment, payload)

	assert.Equal(t, 2, c.Comments().Count("p-new"))
	post, _ = c.Feed().Lookup("p-new")
	assert.Equal(t, 2, post.CommentCount)
	backend.mu.Lock()
	assert.Equal(t, []string{"p-new:nice"}, backend.created)
	backend.mu.Unlock()
}

func TestClient_LogoutTearsDown(t *testing.T) {
	t.Parallel()
	backend := newBackend()
	ch := push.NewChannel("ws://unused", time.Second, nil)
	c := NewClientWithDeps(testConfig(), backend, session.NewMemoryStorage(), nil, ch)
	ctx := context.Background()
	_, err := c.Login(ctx, tokenFor(t, "me"))
	require.NoError(t, err)

	c.Comments().Open(ctx, "p-new")
	var notified int
	c.Bus().SubscribeFunc(eventbus.TopicFollowing, func(any) { notified++ })
	before := c.Search()
	before.Input("car")

	require.NoError(t, c.Logout(ctx))

	assert.Empty(t, c.Following().List())
	assert.Empty(t, c.Feed().Posts())
	assert.Empty(t, c.Comments().OpenPosts())
	assert.Equal(t, 0, ch.HandlerCount(push.EventNewComment))
	assert.False(t, c.Session().LoggedIn())
	assert.NotSame(t, before, c.Search())

	c.Following().Follow(ctx, "u9")
	c.Following().Wait()
	assert.Equal(t, 0, notified)
	backend.mu.Lock()
	assert.Empty(t, backend.follows)
	backend.mu.Unlock()
}

func TestClient_SearchExcludesSelf(t *testing.T) {
	t.Parallel()
	c := NewClientWithDeps(testConfig(), newBackend(), session.NewMemoryStorage(), nil, nil)
	_, err := c.Login(context.Background(), tokenFor(t, "me"))
	require.NoError(t, err)

	c.Search().Input("c")
	assert.Eventually(t, func() bool { return c.Search().State() == search.ShowResults }, testEventuallyTimeout, testPollInterval)
	assert.Equal(t, []models.User{{ID: "u3", Name: "carol"}}, c.Search().Results())
	require.NoError(t, c.Shutdown(context.Background()))
}

func TestClient_FeedFailureFallsBackToSnapshot(t *testing.T) {
	t.Parallel()
	backend := newBackend()
	storage := session.NewMemoryStorage()
	ctx := context.Background()

	online := NewClientWithDeps(testConfig(), backend, storage, nil, nil)
	_, err := online.Login(ctx, tokenFor(t, "me"))
	require.NoError(t, err)

	backend.mu.Lock()
	backend.feedErr = errors.New("offline")
	backend.mu.Unlock()

	offline := NewClientWithDeps(testConfig(), backend, storage, nil, nil)
	_, err = offline.Login(ctx, tokenFor(t, "me"))
	require.NoError(t, err)
	assert.Equal(t, []string{"p-new", "p-mid", "p-old"}, postIDs(offline.Feed().Posts()))
}

func TestClient_FollowingSyncsAcrossProcesses(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	ctx := context.Background()

	newProcess := func() *Client {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		c := NewClientWithDeps(testConfig(), newBackend(), session.NewRedisStorage(rdb, storagePrefix), rdb, nil)
		require.NoError(t, c.Start(ctx))
		_, err := c.Login(ctx, tokenFor(t, "me"))
		require.NoError(t, err)
		return c
	}
	a := newProcess()
	b := newProcess()
	defer func() { _ = a.Shutdown(ctx) }()
	defer func() { _ = b.Shutdown(ctx) }()

	profile := following.Mount(b.Bus(), b.Following(), nil)
	defer profile.Unmount()

	a.Following().Follow(ctx, "u7")
	assert.Eventually(t, func() bool { return profile.IsFollowing("u7") }, testEventuallyTimeout, testPollInterval)

	a.Following().Unfollow(ctx, "u1")
	assert.Eventually(t, func() bool { return !b.Following().IsFollowing("u1") }, testEventuallyTimeout, testPollInterval)
	assert.True(t, a.Following().IsFollowing("u7"))
}

func TestClient_FollowingStaysWithinOneUser(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	ctx := context.Background()

	newProcess := func(user string) *Client {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		c := NewClientWithDeps(testConfig(), newBackend(), session.NewRedisStorage(rdb, storagePrefix+user+":"), rdb, nil)
		require.NoError(t, c.Start(ctx))
		_, err := c.Login(ctx, tokenFor(t, user))
		require.NoError(t, err)
		return c
	}
	alice := newProcess("alice")
	aliceAgain := newProcess("alice")
	bob := newProcess("bob")
	defer func() { _ = alice.Shutdown(ctx) }()
	defer func() { _ = aliceAgain.Shutdown(ctx) }()
	defer func() { _ = bob.Shutdown(ctx) }()

	alice.Following().Follow(ctx, "u7")
	assert.Eventually(t, func() bool { return aliceAgain.Following().IsFollowing("u7") }, testEventuallyTimeout, testPollInterval)
	assert.Never(t, func() bool { return bob.Following().IsFollowing("u7") }, 100*time.Millisecond, testPollInterval)

	bob.Following().Follow(ctx, "u8")
	assert.Never(t, func() bool { return alice.Following().IsFollowing("u8") || aliceAgain.Following().IsFollowing("u8") }, 100*time.Millisecond, testPollInterval)
	assert.Equal(t, []string{"u8"}, bob.Following().List())
}
