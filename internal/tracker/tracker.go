// Package tracker keeps the latest event batch per username and the
// selection of the next event derived from it.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/robfig/cron/v3"

	appLog "gigclock/internal/log"
	"gigclock/internal/model"
	"gigclock/internal/provider"
	"gigclock/internal/selector"
)

// ErrNoUsername is returned when neither the caller nor the configuration
// names a username.
var ErrNoUsername = errors.New("tracker: no username")

// DefaultIdleTimeout is how long a username's batch is kept after its last
// use when Options.IdleTimeout is unset.
const DefaultIdleTimeout = time.Hour

// Selection is the outcome of selecting the next event out of the most
// recent batch for a username.
type Selection struct {
	Username string
	Events   []model.EventRecord

	// Next is valid only when Found is true.
	Next  model.EventRecord
	Found bool

	// Upcoming holds every future record ordered by start; Malformed the
	// IDs of records dropped for an unparseable start.
	Upcoming  []model.EventRecord
	Malformed []string

	FetchedAt time.Time
	// Err is the error of the last fetch. Events may still hold the
	// previous batch.
	Err error
}

// key identifies the selected event for change detection.
func (s Selection) key() string {
	if !s.Found {
		return ""
	}
	return fmt.Sprintf("%s@%d", s.Next.ID, s.Next.Start.UnixNano())
}

// Options configures a Tracker.
type Options struct {
	// DefaultUsername is used when a call passes an empty username and is
	// the one refreshed on schedule.
	DefaultUsername string

	// CacheTTL is how long Get reuses a batch. Zero always refetches.
	CacheTTL time.Duration

	// IdleTimeout drops the batch of a username that has not been asked
	// for in that long. The default username is never dropped.
	IdleTimeout time.Duration

	// RefreshSpec is a five-field cron schedule evaluated in Location.
	RefreshSpec string
	Location    *time.Location

	Clock clock.Clock

	// AfterRefresh runs after every scheduled refresh.
	AfterRefresh func(ctx context.Context, sel Selection)
}

type entry struct {
	events    []model.EventRecord
	fetchedAt time.Time
	err       error
	lastKey   string
	notified  bool
	usedAt    time.Time
}

// Tracker is safe for concurrent use.
type Tracker struct {
	provider provider.Provider
	opts     Options
	clock    clock.Clock

	mu      sync.RWMutex
	entries map[string]*entry

	// fetchMu serializes provider calls; a scrape is expensive and a second
	// caller should reuse its result.
	fetchMu sync.Mutex

	obsMu     sync.Mutex
	observers []func(Selection)

	cron *cron.Cron
}

// New builds a Tracker over p.
func New(p provider.Provider, opts Options) *Tracker {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	opts.DefaultUsername = strings.TrimSpace(opts.DefaultUsername)
	return &Tracker{
		provider: p,
		opts:     opts,
		clock:    opts.Clock,
		entries:  make(map[string]*entry),
	}
}

// OnChange registers fn to be called whenever the selected event of a
// username changes, including from none to some and back. fn runs on the
// goroutine that noticed the change.
func (t *Tracker) OnChange(fn func(Selection)) {
	t.obsMu.Lock()
	t.observers = append(t.observers, fn)
	t.obsMu.Unlock()
}

func (t *Tracker) resolve(username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		username = t.opts.DefaultUsername
	}
	if username == "" {
		return "", ErrNoUsername
	}
	return username, nil
}

// Refresh fetches a new batch for username and selects the next event.
// On failure the previous batch is kept and the error is recorded on the
// returned Selection as well as returned.
func (t *Tracker) Refresh(ctx context.Context, username string) (Selection, error) {
	username, err := t.resolve(username)
	if err != nil {
		return Selection{}, err
	}

	t.fetchMu.Lock()
	defer t.fetchMu.Unlock()
	return t.refreshLocked(ctx, username)
}

func (t *Tracker) refreshLocked(ctx context.Context, username string) (Selection, error) {
	events, fetchErr := t.provider.FetchEvents(ctx, username)
	fetchedAt := t.clock.Now()

	t.mu.Lock()
	e := t.entries[username]
	if e == nil {
		t.evictIdleLocked(fetchedAt)
		e = &entry{usedAt: fetchedAt}
		t.entries[username] = e
	}
	if fetchErr == nil {
		e.events = events
	}
	e.fetchedAt = fetchedAt
	e.err = fetchErr
	t.mu.Unlock()

	if fetchErr != nil {
		appLog.Error("tracker: refresh failed", fetchErr, "username", username)
	} else {
		appLog.Info("tracker: refreshed", "username", username, "events", len(events))
	}

	sel := t.selection(username)
	return sel, fetchErr
}

// Get returns the selection for username, refreshing when there is no
// batch yet or the batch is older than the cache TTL. A cached batch is
// selected against the current time, so an event that just started gives
// way to the following one without a refetch.
func (t *Tracker) Get(ctx context.Context, username string) (Selection, error) {
	username, err := t.resolve(username)
	if err != nil {
		return Selection{}, err
	}

	if t.fresh(username) {
		sel := t.selection(username)
		return sel, sel.Err
	}

	t.fetchMu.Lock()
	defer t.fetchMu.Unlock()
	// Another caller may have refreshed while we waited.
	if t.fresh(username) {
		sel := t.selection(username)
		return sel, sel.Err
	}
	return t.refreshLocked(ctx, username)
}

// evictIdleLocked drops entries unused for IdleTimeout. Callers hold t.mu.
func (t *Tracker) evictIdleLocked(now time.Time) {
	for username, e := range t.entries {
		if username == t.opts.DefaultUsername || now.Sub(e.usedAt) < t.opts.IdleTimeout {
			continue
		}
		delete(t.entries, username)
		appLog.Debug("tracker: dropped idle username", "username", username, "last_used", e.usedAt.Format(time.RFC3339))
	}
}

func (t *Tracker) fresh(username string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e := t.entries[username]
	return e != nil && t.clock.Since(e.fetchedAt) < t.opts.CacheTTL
}

// selection builds the current Selection for a stored entry and notifies
// observers if the selected event differs from the last one seen.
func (t *Tracker) selection(username string) Selection {
	now := t.clock.Now()

	t.mu.Lock()
	e := t.entries[username]
	if e == nil {
		t.mu.Unlock()
		return Selection{Username: username}
	}
	sel := Selection{
		Username:  username,
		Events:    e.events,
		FetchedAt: e.fetchedAt,
		Err:       e.err,
	}
	sel.Next, sel.Found = selector.SelectNext(e.events, now)
	sel.Upcoming, sel.Malformed = selector.Upcoming(e.events, now)

	key := sel.key()
	changed := !e.notified || key != e.lastKey
	e.lastKey = key
	e.notified = true
	e.usedAt = now
	t.mu.Unlock()

	if len(sel.Malformed) > 0 {
		appLog.Debug("tracker: records with malformed start", "username", username, "count", len(sel.Malformed))
	}
	if changed {
		if sel.Found {
			appLog.Info("tracker: next event", "username", username, "id", sel.Next.ID, "start", sel.Next.Start.Format(time.RFC3339))
		} else {
			appLog.Info("tracker: no upcoming event", "username", username)
		}
		t.notify(sel)
	}
	return sel
}

func (t *Tracker) notify(sel Selection) {
	t.obsMu.Lock()
	observers := append([]func(Selection){}, t.observers...)
	t.obsMu.Unlock()
	for _, fn := range observers {
		fn(sel)
	}
}

// Start schedules a refresh of the default username on RefreshSpec. The
// jobs run with ctx until Stop.
func (t *Tracker) Start(ctx context.Context) error {
	if t.opts.DefaultUsername == "" {
		return ErrNoUsername
	}
	if t.cron != nil {
		return errors.New("tracker: already started")
	}

	c := cron.New(cron.WithLocation(t.opts.Location))
	_, err := c.AddFunc(t.opts.RefreshSpec, func() {
		sel, err := t.Refresh(ctx, t.opts.DefaultUsername)
		if err != nil && len(sel.Events) == 0 {
			return
		}
		if t.opts.AfterRefresh != nil {
			t.opts.AfterRefresh(ctx, sel)
		}
	})
	if err != nil {
		return fmt.Errorf("tracker: refresh schedule %q: %w", t.opts.RefreshSpec, err)
	}

	t.cron = c
	c.Start()
	appLog.Info("tracker: refresh scheduled", "spec", t.opts.RefreshSpec, "timezone", t.opts.Location.String(), "username", t.opts.DefaultUsername)
	return nil
}

// Stop halts the schedule and waits for a running refresh to finish.
func (t *Tracker) Stop() {
	if t.cron == nil {
		return
	}
	<-t.cron.Stop().Done()
	t.cron = nil
	appLog.Info("tracker: refresh stopped")
}
