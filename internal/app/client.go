// Package app wires the sync components into one client: session, event bus,
// following store, feed, comments, people search and the push channel.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"feedsync/internal/api"
	"feedsync/internal/comments"
	"feedsync/internal/config"
	"feedsync/internal/eventbus"
	"feedsync/internal/feed"
	"feedsync/internal/following"
	"feedsync/internal/models"
	"feedsync/internal/observability"
	"feedsync/internal/push"
	"feedsync/internal/search"
	"feedsync/internal/session"

	"github.com/redis/go-redis/v9"
)

const storagePrefix = "feedsync:"

// Client holds every component of a running client.
type Client struct {
	config      *config.Config
	redis       *redis.Client
	storage     session.Storage
	session     *session.Session
	backend     api.Backend
	bus         *eventbus.Bus
	bridge      *eventbus.RedisBridge
	push        *push.Channel
	following   *following.Store
	feed        *feed.Aggregator
	comments    *comments.Synchronizer
	shutdownCtx context.Context
	shutdownFn  context.CancelFunc

	mu     sync.Mutex
	search *search.Debouncer
	wg     sync.WaitGroup
}

// NewClient creates a client talking to the configured backend. Redis is
// optional: without it the session lives in memory and the bus stays local.
func NewClient(ctx context.Context, cfg *config.Config) (*Client, error) {
	rdb := session.NewRedisClient(ctx, cfg.RedisURL)
	var storage session.Storage = session.NewMemoryStorage()
	if rdb != nil {
		storage = session.NewRedisStorage(rdb, storagePrefix)
	}

	c := &Client{}
	backend := api.NewClient(cfg.APIBaseURL, cfg.HTTPTimeout(), c.token)
	var ch *push.Channel
	if cfg.PushURL != "" {
		ch = push.NewChannel(cfg.PushURL, cfg.PushReconnectDelay(), c.token)
	}
	c.init(cfg, backend, storage, rdb, ch)
	return c, nil
}

// NewClientWithDeps creates a Client from already-built dependencies. Use
// this in tests or when the backend is not the HTTP API. rdb and ch may be
// nil.
func NewClientWithDeps(cfg *config.Config, backend api.Backend, storage session.Storage, rdb *redis.Client, ch *push.Channel) *Client {
	c := &Client{}
	c.init(cfg, backend, storage, rdb, ch)
	return c
}

func (c *Client) init(cfg *config.Config, backend api.Backend, storage session.Storage, rdb *redis.Client, ch *push.Channel) {
	c.config = cfg
	c.redis = rdb
	c.storage = storage
	c.backend = backend
	c.push = ch
	c.session = session.New(storage)
	c.bus = eventbus.New()
	c.following = following.NewStore(c.bus, backend, backend)
	c.feed = feed.NewAggregator(backend, storage, cfg.FeedCacheTTL())

	var pushSrc comments.PushSource
	if ch != nil {
		pushSrc = ch
	}
	c.comments = comments.NewSynchronizer(backend, backend, pushSrc, c.session, comments.WithCountSink(c.feed))
	c.search = c.newDebouncer()

	if rdb != nil {
		c.bridge = eventbus.NewRedisBridge(c.bus, rdb, eventbus.TopicFollowing)
		c.bridge.SetScope(c.following.UserID)
		c.bridge.HandleRemote(eventbus.TopicFollowing, c.applyRemoteFollow)
	}
	c.shutdownCtx, c.shutdownFn = context.WithCancel(context.Background())
}

func (c *Client) token() string {
	if c.session == nil {
		return ""
	}
	return c.session.Token()
}

func (c *Client) newDebouncer() *search.Debouncer {
	return search.NewDebouncer(c.backend, c.config.SearchDebounce(), c.session.UserID)
}

func (c *Client) applyRemoteFollow(origin, owner string, payload []byte) {
	var change models.FollowChange
	if err := json.Unmarshal(payload, &change); err != nil {
		log.Printf("app: invalid remote follow change: %v", err)
		return
	}
	c.following.ApplyRemote(origin, owner, change)
}

// Start connects the cross-process bus bridge and the push channel. It
// returns once both are running; they stop on Shutdown.
func (c *Client) Start(ctx context.Context) error {
	if c.bridge != nil {
		if err := c.bridge.Start(c.shutdownCtx); err != nil {
			return fmt.Errorf("start bus bridge: %w", err)
		}
	}
	if c.push != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			observability.LogAsyncOperationStart(ctx, "push_channel", nil)
			_ = c.push.Run(c.shutdownCtx)
			observability.LogAsyncOperationEnd(ctx, "push_channel", nil)
		}()
	}
	return nil
}

// Login records the identity in token, hydrates the following set and loads
// the feed.
func (c *Client) Login(ctx context.Context, token string) (models.User, error) {
	user, err := c.session.Login(ctx, token)
	if err != nil {
		return models.User{}, err
	}
	c.hydrate(ctx, user.ID)
	return user, nil
}

// Restore resumes a persisted session. It reports whether one was found.
func (c *Client) Restore(ctx context.Context) (bool, error) {
	ok, err := c.session.Restore(ctx)
	if err != nil || !ok {
		return false, err
	}
	c.hydrate(ctx, c.session.UserID())
	return true, nil
}

func (c *Client) hydrate(ctx context.Context, userID string) {
	c.following.Hydrate(ctx, userID)
	c.feed.Load(ctx)
}

// Logout closes every conversation, drops pending searches, empties the
// following set and the feed and forgets the identity.
func (c *Client) Logout(ctx context.Context) error {
	c.comments.CloseAll()

	c.mu.Lock()
	c.search.Close()
	c.search = c.newDebouncer()
	c.mu.Unlock()

	c.following.Teardown()
	c.feed.Reset()
	if err := c.session.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Shutdown stops background work and waits for in-flight mirror calls.
func (c *Client) Shutdown(ctx context.Context) error {
	c.shutdownFn()
	c.mu.Lock()
	c.search.Close()
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		c.following.Wait()
		c.comments.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if c.redis != nil {
		if cerr := c.redis.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Session returns the identity holder.
func (c *Client) Session() *session.Session { return c.session }

// Bus returns the event bus surfaces subscribe to.
func (c *Client) Bus() *eventbus.Bus { return c.bus }

// Following returns the following store.
func (c *Client) Following() *following.Store { return c.following }

// Feed returns the feed aggregator.
func (c *Client) Feed() *feed.Aggregator { return c.feed }

// Comments returns the comment synchronizer.
func (c *Client) Comments() *comments.Synchronizer { return c.comments }

// Push returns the push channel, nil when none is configured.
func (c *Client) Push() *push.Channel { return c.push }

// Search returns the people search debouncer of the current login.
func (c *Client) Search() *search.Debouncer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.search
}
