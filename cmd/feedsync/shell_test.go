package main

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"feedsync/internal/app"
	"feedsync/internal/config"
	"feedsync/internal/models"
	"feedsync/internal/session"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backendStub struct {
	mu      sync.Mutex
	created []string
}

func (b *backendStub) FetchFeed(context.Context) ([]models.Post, error) {
	now := time.Now()
	return []models.Post{
		{ID: "p1", Title: "older", CreatedAt: now.Add(-time.Hour)},
		{ID: "p2", Title: "newer", CreatedAt: now},
	}, nil
}

func (b *backendStub) FetchComments(context.Context, string) ([]models.Comment, error) {
	return []models.Comment{{ID: "c1", Text: "first!", AuthorID: "u1", CreatedAt: time.Now()}}, nil
}

func (b *backendStub) CreateComment(_ context.Context, postID, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.created = append(b.created, postID+":"+text)
	return nil
}

func (b *backendStub) FetchFollowing(context.Context, string) ([]string, error) {
	return []string{"u1"}, nil
}

func (b *backendStub) Follow(context.Context, string) error   { return nil }
func (b *backendStub) Unfollow(context.Context, string) error { return nil }

func (b *backendStub) SearchUsers(context.Context, string) ([]models.User, error) {
	return []models.User{{ID: "me", Name: "me"}, {ID: "u1", Name: "alice"}, {ID: "u5", Name: "bob"}}, nil
}

func newTestShell(t *testing.T) (*shell, *bytes.Buffer, *backendStub) {
	t.Helper()
	backend := &backendStub{}
	cfg := &config.Config{SearchDebounceMS: 20, FeedCacheTTLMin: 1}
	client := app.NewClientWithDeps(cfg, backend, session.NewMemoryStorage(), nil, nil)
	var out bytes.Buffer
	return newShell(client, &out), &out, backend
}

func loginToken(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "me"}).SignedString([]byte("k"))
	require.NoError(t, err)
	return token
}

func TestShell_Session(t *testing.T) {
	sh, out, backend := newTestShell(t)
	ctx := context.Background()

	assert.False(t, sh.run(ctx, "login "+loginToken(t)))
	assert.Contains(t, out.String(), "logged in as me (following 1)")

	out.Reset()
	sh.run(ctx, "feed")
	assert.Regexp(t, `(?s)p2.*newer.*p1.*older`, out.String())

	out.Reset()
	sh.run(ctx, "open p2")
	assert.Contains(t, out.String(), "first!")

	out.Reset()
	sh.run(ctx, "draft p2 looks good")
	sh.run(ctx, "comment p2")
	assert.Contains(t, out.String(), "sent")
	sh.client.Comments().Wait()
	backend.mu.Lock()
	assert.Equal(t, []string{"p2:looks good"}, backend.created)
	backend.mu.Unlock()

	out.Reset()
	sh.run(ctx, "follow u5")
	sh.run(ctx, "following")
	assert.Contains(t, out.String(), "following 2")
	assert.Contains(t, out.String(), "u5")

	out.Reset()
	sh.run(ctx, "search b")
	assert.NotContains(t, out.String(), "me\tme")
	assert.Contains(t, out.String(), "* u1\talice")
	assert.Contains(t, out.String(), "* u5\tbob")

	out.Reset()
	sh.run(ctx, "logout")
	sh.run(ctx, "comment p2 hello")
	assert.Contains(t, out.String(), "logged out")
	assert.Contains(t, out.String(), "nothing sent")

	assert.True(t, sh.run(ctx, "quit"))
}

func TestShell_UsageErrors(t *testing.T) {
	sh, out, _ := newTestShell(t)
	ctx := context.Background()

	assert.False(t, sh.run(ctx, ""))
	sh.run(ctx, "open")
	sh.run(ctx, "bogus")
	sh.run(ctx, "comments p9")
	assert.Contains(t, out.String(), "usage: open <post>")
	assert.Contains(t, out.String(), `unknown command "bogus"`)
	assert.Contains(t, out.String(), "post p9 is not open")
}
