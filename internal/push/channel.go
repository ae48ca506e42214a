// Package push is the client side of the server push channel: a websocket
// connection delivering server-initiated events such as new comments.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"feedsync/internal/eventbus"
	"feedsync/internal/models"
	"feedsync/internal/observability"

	"github.com/gorilla/websocket"
)

// Event names delivered over the channel.
const (
	EventNewComment = "new-comment"
)

const (
	// Time allowed to read the next ping from the server before the
	// connection is considered dead.
	readWait = 90 * time.Second

	// Maximum message size accepted from the server.
	maxMessageSize = 1 << 16

	handshakeTimeout = 10 * time.Second
)

// Frame is the JSON envelope of every message on the channel.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewComment is the payload of EventNewComment.
type NewComment struct {
	PostID  string         `json:"post_id"`
	Comment models.Comment `json:"comment"`
}

// Channel maintains the websocket connection and fans incoming events out to
// subscribed handlers.
type Channel struct {
	url       string
	token     func() string
	reconnect time.Duration
	dialer    *websocket.Dialer
	handlers  *eventbus.Bus

	mu        sync.Mutex
	connected bool
}

// NewChannel creates a Channel for url. token supplies the bearer token sent
// on every (re)connect and may be nil.
func NewChannel(url string, reconnect time.Duration, token func() string) *Channel {
	if token == nil {
		token = func() string { return "" }
	}
	return &Channel{
		url:       url,
		token:     token,
		reconnect: reconnect,
		dialer:    &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		handlers:  eventbus.New(),
	}
}

// Subscribe registers h for event and returns its handle. Handlers receive
// the raw payload.
func (c *Channel) Subscribe(event string, h func(payload json.RawMessage)) *eventbus.Subscription {
	return c.handlers.SubscribeFunc(event, func(p any) {
		raw, _ := p.(json.RawMessage)
		h(raw)
	})
}

// Unsubscribe removes a handler previously returned by Subscribe. Unknown
// handles are ignored.
func (c *Channel) Unsubscribe(event string, sub *eventbus.Subscription) {
	if sub == nil {
		return
	}
	c.handlers.Unsubscribe(event, sub)
}

// OnNewComment subscribes fn to decoded EventNewComment payloads.
func (c *Channel) OnNewComment(fn func(NewComment)) *eventbus.Subscription {
	return c.Subscribe(EventNewComment, func(payload json.RawMessage) {
		var nc NewComment
		if err := json.Unmarshal(payload, &nc); err != nil {
			observability.PushEvents.WithLabelValues(EventNewComment, "malformed").Inc()
			log.Printf("push: malformed %s payload: %v", EventNewComment, err)
			return
		}
		if nc.Comment.PostID == "" {
			nc.Comment.PostID = nc.PostID
		}
		fn(nc)
	})
}

// Dispatch delivers an event to the current handlers as if it had arrived on
// the connection.
func (c *Channel) Dispatch(event string, payload json.RawMessage) {
	c.handlers.Publish(event, payload)
}

// HandlerCount reports how many handlers are registered for event.
func (c *Channel) HandlerCount(event string) int {
	return c.handlers.ListenerCount(event)
}

// Connected reports whether a connection is currently established.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Channel) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
	if v {
		observability.PushConnectionState.Set(1)
	} else {
		observability.PushConnectionState.Set(0)
	}
}

// Run connects and reads until ctx is cancelled, reconnecting after every
// failure with a fixed delay. It returns ctx.Err().
func (c *Channel) Run(ctx context.Context) error {
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			log.Printf("push: connection to %s lost: %v (retrying in %s)", c.url, err, c.reconnect)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.reconnect):
		}
	}
}

func (c *Channel) session(ctx context.Context) error {
	header := http.Header{}
	if tok := c.token(); tok != "" {
		header.Set("Authorization", "Bearer "+tok)
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return err
	}
	c.setConnected(true)
	defer c.setConnected(false)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
			_ = conn.Close()
		}
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		c.handleFrame(message)
	}
}

func (c *Channel) handleFrame(message []byte) {
	var f Frame
	if err := json.Unmarshal(message, &f); err != nil || f.Type == "" {
		if err == nil {
			err = errors.New("missing type")
		}
		log.Printf("push: ignoring malformed frame: %v", err)
		return
	}
	c.Dispatch(f.Type, f.Payload)
}
