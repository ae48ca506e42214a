// Package search turns keystrokes in the people search box into a bounded
// number of backend searches and drops responses that arrive too late.
package search

import (
	"context"
	"strings"
	"sync"
	"time"

	"feedsync/internal/api"
	"feedsync/internal/models"
	"feedsync/internal/observability"
)

// DefaultWindow is the debounce window used when none is configured.
const DefaultWindow = 250 * time.Millisecond

// State of the search box.
type State int

const (
	Idle State = iota
	Typing
	Debouncing
	Requesting
	ShowResults
	ShowError
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Typing:
		return "typing"
	case Debouncing:
		return "debouncing"
	case Requesting:
		return "requesting"
	case ShowResults:
		return "results"
	case ShowError:
		return "error"
	default:
		return "unknown"
	}
}

// Debouncer coalesces query input. Each Input restarts the window; when it
// elapses one search is issued for the latest query. Every request carries
// the generation current at the time it was issued and its response is only
// applied while that generation is still current.
type Debouncer struct {
	searcher api.UserSearcher
	window   time.Duration
	selfID   func() string
	log      *observability.SyncLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	query    string
	gen      uint64
	timer    *time.Timer
	inflight context.CancelFunc
	state    State
	results  []models.User
	err      error
	closed   bool
	onChange func(State)
}

// NewDebouncer creates a Debouncer. window <= 0 selects DefaultWindow. selfID
// returns the current user's ID, whose entry is removed from results; it may
// be nil.
func NewDebouncer(searcher api.UserSearcher, window time.Duration, selfID func() string) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	if selfID == nil {
		selfID = func() string { return "" }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Debouncer{
		searcher: searcher,
		window:   window,
		selfID:   selfID,
		log:      observability.NewSyncLogger("search"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// OnChange registers fn to be called after every state transition. It runs
// on the goroutine that caused the transition.
func (d *Debouncer) OnChange(fn func(State)) {
	d.mu.Lock()
	d.onChange = fn
	d.mu.Unlock()
}

// Input records the latest query text. A blank query clears the results and
// cancels any pending or in-flight search.
func (d *Debouncer) Input(query string) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.query = query
	d.stopLocked()
	d.gen++
	gen := d.gen

	if strings.TrimSpace(query) == "" {
		d.results = nil
		d.err = nil
		d.setLocked(Idle)
		return
	}

	d.setLocked(Typing)
	d.mu.Lock()
	if d.closed || gen != d.gen {
		// Superseded while the observer ran.
		d.mu.Unlock()
		return
	}
	d.timer = time.AfterFunc(d.window, func() { d.fire(gen) })
	d.setLocked(Debouncing)
}

// SubmitNow skips the rest of the window and searches for the latest query
// immediately.
func (d *Debouncer) SubmitNow() {
	d.mu.Lock()
	if d.closed || strings.TrimSpace(d.query) == "" {
		d.mu.Unlock()
		return
	}
	d.stopLocked()
	d.gen++
	gen := d.gen
	d.mu.Unlock()
	d.fire(gen)
}

// stopLocked stops the pending timer and cancels the in-flight request.
func (d *Debouncer) stopLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.inflight != nil {
		d.inflight()
		d.inflight = nil
	}
}

// setLocked switches state, releases the lock and notifies the observer.
func (d *Debouncer) setLocked(s State) {
	d.state = s
	fn := d.onChange
	d.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if d.closed || gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	query := strings.TrimSpace(d.query)
	ctx, cancel := context.WithCancel(d.ctx)
	d.inflight = cancel
	d.setLocked(Requesting)

	go d.request(ctx, cancel, gen, query)
}

func (d *Debouncer) request(ctx context.Context, cancel context.CancelFunc, gen uint64, query string) {
	defer cancel()
	ctx = observability.EnsureCorrelationID(ctx)
	users, err := d.searcher.SearchUsers(ctx, query)

	d.mu.Lock()
	if d.closed || gen != d.gen {
		d.mu.Unlock()
		observability.SearchResponses.WithLabelValues("stale").Inc()
		d.log.LogDiscard(ctx, "stale_search", map[string]interface{}{"query": query})
		return
	}
	d.inflight = nil
	if err != nil {
		observability.SearchResponses.WithLabelValues("error").Inc()
		d.log.LogLoadFailure(ctx, "search_users", err, map[string]interface{}{"query": query})
		d.results = nil
		d.err = err
		d.setLocked(ShowError)
		return
	}
	observability.SearchResponses.WithLabelValues("applied").Inc()
	d.results = withoutUser(users, d.selfID())
	d.err = nil
	d.setLocked(ShowResults)
}

func withoutUser(users []models.User, id string) []models.User {
	out := make([]models.User, 0, len(users))
	for _, u := range users {
		if id != "" && u.ID == id {
			continue
		}
		out = append(out, u)
	}
	return out
}

// Query returns the latest input.
func (d *Debouncer) Query() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.query
}

// Results returns the results of the latest applied search.
func (d *Debouncer) Results() []models.User {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.User, len(d.results))
	copy(out, d.results)
	return out
}

// State returns the current state.
func (d *Debouncer) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Err returns the error of the latest applied search, if it failed.
func (d *Debouncer) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Close stops the timer and cancels the in-flight search. Responses arriving
// afterwards are discarded.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.stopLocked()
	d.gen++
	d.cancel()
}
