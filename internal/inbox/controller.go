// Package inbox contains the orchestrating controller that keeps one
// owner's notification view consistent across the replicated mirror, the
// paginated history API, and the in-memory list handed to consumers.
//
// The controller is an explicit state machine: every asynchronous result
// enters through dispatch, which drops anything belonging to a previous
// filter epoch before handing the event to a pure reducer. Consumers read
// state through Snapshot and watch Updates for change signals.
package inbox

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/inbox-sync/internal/api"
	"github.com/nhle/inbox-sync/internal/feed"
	"github.com/nhle/inbox-sync/internal/merge"
	"github.com/nhle/inbox-sync/internal/model"
	"github.com/nhle/inbox-sync/internal/store"
)

// Phase is the controller's lifecycle position.
type Phase int

const (
	// PhaseIdle means no owner is mounted.
	PhaseIdle Phase = iota

	// PhaseSyncing means a feed session is being opened for the
	// current filter.
	PhaseSyncing

	// PhaseReady means live subscriptions are running.
	PhaseReady
)

// State is the consumer-visible snapshot of the inbox.
type State struct {
	Phase Phase

	// Items is the merged notification list, ordered by creation time
	// descending with unique ids.
	Items []model.InboxItem

	// Loading is true from mount (or filter change) until the first
	// live snapshot or a session failure.
	Loading bool

	// LoadingMore is true while a pagination fetch is in flight.
	LoadingMore bool

	// HasMore reports whether older history remains behind the API.
	HasMore bool

	// RecentUnread is the live unread count inside the sync window.
	RecentUnread int

	// OlderUnread is the unread count outside the window, fetched once
	// and adjusted by optimistic mutations.
	OlderUnread int

	// Err holds a terminal session error, if any.
	Err error
}

// UnreadCount returns the total unread count across both buckets.
func (s State) UnreadCount() int {
	return s.RecentUnread + s.OlderUnread
}

// Fetcher is the slice of the remote API the controller depends on.
// *api.Client satisfies it; tests substitute fakes.
type Fetcher interface {
	FetchPage(ctx context.Context, req api.PageRequest) (*api.PageResult, error)
	FetchUnreadCount(ctx context.Context, req api.CountRequest) (*model.UnreadCount, error)
	MarkRead(ctx context.Context, id int64) error
	MarkAllRead(ctx context.Context) error
}

// Options tunes a controller.
type Options struct {
	// WindowDays is the recent sync window size. Defaults to 7.
	WindowDays int

	// PageLimit is the live-query cap and pagination page size.
	// Defaults to 50.
	PageLimit int

	// Now supplies the current time; defaults to time.Now. Tests pin
	// it to control the window cutoff.
	Now func() time.Time

	// Logger receives non-fatal engine events. Defaults to a nop logger.
	Logger *zap.Logger
}

// fetchTimeout bounds the controller's internally triggered fetches
// (fallback page, older-count).
const fetchTimeout = 30 * time.Second

// Controller owns the combined inbox state for one consumer.
type Controller struct {
	store   store.ReactiveStore
	feeds   feed.Opener
	fetcher Fetcher
	log     *zap.Logger
	now     func() time.Time

	windowDays int
	pageLimit  int

	mu            sync.Mutex
	epoch         int
	started       bool
	closed        bool
	filter        model.Filter
	cutoff        time.Time
	state         State
	teardown      []func()
	fallbackTried bool

	updates chan struct{}
}

// New creates a controller over the given mirror, feed opener, and API
// client. The mirror's live-query capability is required up front; there
// is no per-call feature detection.
func New(rs store.ReactiveStore, feeds feed.Opener, fetcher Fetcher, opts Options) *Controller {
	if opts.WindowDays <= 0 {
		opts.WindowDays = 7
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = 50
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Controller{
		store:      rs,
		feeds:      feeds,
		fetcher:    fetcher,
		log:        opts.Logger,
		now:        opts.Now,
		windowDays: opts.WindowDays,
		pageLimit:  opts.PageLimit,
		state:      State{Phase: PhaseIdle, HasMore: true},
		updates:    make(chan struct{}, 1),
	}
}

// Snapshot returns a copy of the current state. The Items slice is copied
// so callers can hold it across further engine activity.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.state
	if len(s.Items) > 0 {
		items := make([]model.InboxItem, len(s.Items))
		copy(items, s.Items)
		s.Items = items
	}
	return s
}

// Updates returns a coalesced change signal: at least one receive is
// possible after any state change. The channel is never closed.
func (c *Controller) Updates() <-chan struct{} {
	return c.updates
}

// Start mounts the controller with an initial filter and begins syncing.
func (c *Controller) Start(ctx context.Context, f model.Filter) {
	c.apply(ctx, f, true)
}

// SetFilter switches the controller to a new inbox view. If the filter is
// unchanged this is a no-op; otherwise all subscriptions for the previous
// view are torn down, state is reset, and a new sync epoch begins. The
// epoch bump synchronously invalidates every in-flight callback of the
// old view before any teardown I/O happens.
func (c *Controller) SetFilter(ctx context.Context, f model.Filter) {
	c.apply(ctx, f, false)
}

func (c *Controller) apply(ctx context.Context, f model.Filter, force bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.started && !force && c.filter.Equal(f) {
		c.mu.Unlock()
		return
	}

	var stale []func()
	if c.started {
		stale = c.invalidateLocked()
	}
	c.started = true
	c.filter = f
	c.startLocked(ctx)
	c.mu.Unlock()

	for _, fn := range stale {
		fn()
	}
	c.signal()
}

// Close tears the controller down. Every subscription and session is
// released exactly once; calling Close again is a no-op.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	stale := c.invalidateLocked()
	c.mu.Unlock()

	for _, fn := range stale {
		fn()
	}
	return nil
}

// invalidateLocked bumps the epoch and detaches the current teardown set.
// Callers run the returned funcs after releasing the lock, since session
// close may touch the network.
func (c *Controller) invalidateLocked() []func() {
	c.epoch++
	stale := c.teardown
	c.teardown = nil
	return stale
}

// startLocked resets state for the current filter and launches the sync
// goroutine for a fresh epoch. Caller holds the lock.
func (c *Controller) startLocked(ctx context.Context) {
	c.fallbackTried = false

	if c.filter.OwnerID == "" {
		c.state = State{Phase: PhaseIdle, HasMore: true}
		return
	}

	c.cutoff = c.now().AddDate(0, 0, -c.windowDays).UTC()
	c.state = State{Phase: PhaseSyncing, Loading: true, HasMore: true}

	go c.sync(ctx, c.epoch, c.filter, c.cutoff)
}

// sync opens the feed session and the live queries for one epoch.
func (c *Controller) sync(ctx context.Context, epoch int, f model.Filter, cutoff time.Time) {
	session, err := c.feeds.OpenSession(ctx, feed.SessionKey{OwnerID: f.OwnerID, Cutoff: cutoff})
	if err != nil {
		c.dispatch(epoch, evSessionFailed{err: err})
		return
	}
	if !c.addTeardown(epoch, func() { _ = session.Close() }) {
		_ = session.Close()
		return
	}

	// A timed-out wait is fine: live queries re-deliver once the mirror
	// catches up.
	session.WaitUntilReady(ctx)
	if err := session.Err(); err != nil {
		c.dispatch(epoch, evSessionFailed{err: err})
		return
	}
	c.dispatch(epoch, evSessionReady{})

	listFilter := store.ItemFilter{
		OwnerID: f.OwnerID,
		ScopeID: f.ScopeID,
		Type:    f.Type,
		Since:   &cutoff,
		Limit:   c.pageLimit,
	}

	items, err := c.store.LiveItems(ctx, listFilter)
	if err != nil {
		// Non-fatal: the list stays empty rather than failing the mount.
		c.log.Warn("live list query setup failed", zap.Error(err))
	} else if !c.addTeardown(epoch, items.Unsubscribe) {
		items.Unsubscribe()
		return
	} else {
		c.dispatch(epoch, evLiveItems{rows: items.Initial, first: true})
		go func() {
			for rows := range items.Updates {
				c.dispatch(epoch, evLiveItems{rows: rows})
			}
		}()
	}

	countFilter := listFilter
	countFilter.Limit = 0
	counts, err := c.store.LiveUnreadCount(ctx, countFilter)
	if err != nil {
		c.log.Warn("live unread count setup failed", zap.Error(err))
	} else if !c.addTeardown(epoch, counts.Unsubscribe) {
		counts.Unsubscribe()
		return
	} else {
		c.dispatch(epoch, evLiveCount{n: counts.Initial})
		go func() {
			for n := range counts.Updates {
				c.dispatch(epoch, evLiveCount{n: n})
			}
		}()
	}

	// The mirror cannot answer "how many unread older items exist", so
	// that component comes from the remote count endpoint, once.
	fetchCtx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	uc, err := c.fetcher.FetchUnreadCount(fetchCtx, api.CountRequest{ScopeID: f.ScopeID, Type: f.Type})
	if err != nil {
		c.log.Warn("unread count fetch failed", zap.Error(err))
		return
	}
	c.dispatch(epoch, evOlderCount{older: uc.Older()})
}

// LoadMore fetches the next page of older history. It is a no-op while a
// fetch is already in flight or when no more history exists. The cursor is
// always derived from the last item currently held, so concurrent live
// merges can never leave a stale cursor behind.
func (c *Controller) LoadMore(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || c.state.LoadingMore || !c.state.HasMore {
		c.mu.Unlock()
		return nil
	}
	epoch := c.epoch
	f := c.filter

	var before *time.Time
	if n := len(c.state.Items); n > 0 {
		t := c.state.Items[n-1].CreatedAt
		before = &t
	}

	c.state = reduce(c.state, evLoadMoreStarted{})
	c.mu.Unlock()
	c.signal()

	page, err := c.fetcher.FetchPage(ctx, api.PageRequest{
		ScopeID: f.ScopeID,
		Type:    f.Type,
		Before:  before,
		Limit:   c.pageLimit,
	})
	if err != nil {
		c.log.Warn("load more failed", zap.Error(err))
		c.dispatch(epoch, evLoadMoreDone{err: err})
		return err
	}

	c.dispatch(epoch, evLoadMoreDone{items: page.Items, hasMore: page.HasMore})
	return nil
}

// MarkAsRead optimistically marks one item read, then confirms with the
// remote API. On failure the read flag and any counter adjustment are
// rolled back. The returned bool reports whether the mutation stuck.
func (c *Controller) MarkAsRead(ctx context.Context, id int64) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	epoch := c.epoch

	held := false
	olderDec := false
	for _, item := range c.state.Items {
		if item.ID != id {
			continue
		}
		if item.Read {
			// Already read: the endpoint treats this as success, so
			// skip the round trip entirely.
			c.mu.Unlock()
			return true
		}
		held = true
		// Only decrement a bucket that has something to give back; the
		// rollback then increments exactly when the decrement happened.
		olderDec = merge.OlderThanWindow(item.CreatedAt, c.cutoff) && c.state.OlderUnread > 0
		break
	}

	if held {
		c.state = reduce(c.state, evMarkRead{id: id, olderDecrement: olderDec})
	}
	c.mu.Unlock()
	c.signal()

	if err := c.fetcher.MarkRead(ctx, id); err != nil {
		c.log.Warn("mark read failed, rolling back", zap.Int64("id", id), zap.Error(err))
		if held {
			c.dispatch(epoch, evMarkReadRollback{id: id, olderDecrement: olderDec})
		}
		return false
	}

	// Confirmation for recent items arrives through the change feed; no
	// explicit re-fetch.
	return true
}

// MarkAllAsRead optimistically flips every held item and zeroes both
// counters, then confirms with the remote API. On failure only the
// counters are restored; item flags are left for the feed to reconcile.
func (c *Controller) MarkAllAsRead(ctx context.Context) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	epoch := c.epoch
	prevRecent := c.state.RecentUnread
	prevOlder := c.state.OlderUnread

	c.state = reduce(c.state, evMarkAllRead{})
	c.mu.Unlock()
	c.signal()

	if err := c.fetcher.MarkAllRead(ctx); err != nil {
		c.log.Warn("mark all read failed, restoring counters", zap.Error(err))
		c.dispatch(epoch, evRestoreCounters{recent: prevRecent, older: prevOlder})
		return false
	}

	return true
}

// dispatch applies an event to the state machine unless the controller is
// closed or the event belongs to a stale epoch. It also owns the single
// side-effect trigger: the one-shot fallback fetch when the first live
// snapshot of an epoch comes back empty.
func (c *Controller) dispatch(epoch int, ev event) {
	c.mu.Lock()
	if c.closed || epoch != c.epoch {
		c.mu.Unlock()
		return
	}

	c.state = reduce(c.state, ev)

	fallback := false
	if li, ok := ev.(evLiveItems); ok && li.first && !c.fallbackTried {
		c.fallbackTried = true
		// The owner may only have items older than the sync window;
		// cover that with one pagination fetch.
		fallback = len(li.rows) == 0
	}
	f := c.filter
	c.mu.Unlock()

	c.signal()

	if fallback {
		go c.fallbackFetch(epoch, f)
	}
}

// fallbackFetch runs the empty-window fallback: a single first-page fetch
// whose result replaces the (still empty) list.
func (c *Controller) fallbackFetch(epoch int, f model.Filter) {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	page, err := c.fetcher.FetchPage(ctx, api.PageRequest{
		ScopeID: f.ScopeID,
		Type:    f.Type,
		Limit:   c.pageLimit,
	})
	if err != nil {
		c.log.Warn("empty-window fallback fetch failed", zap.Error(err))
		return
	}

	c.dispatch(epoch, evFallbackPage{items: page.Items, hasMore: page.HasMore})
}

// addTeardown registers a cleanup func for the given epoch. It returns
// false when the epoch is already stale, in which case the caller must
// clean the resource up itself.
func (c *Controller) addTeardown(epoch int, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || epoch != c.epoch {
		return false
	}
	c.teardown = append(c.teardown, fn)
	return true
}

// signal nudges the updates channel without blocking; a pending signal
// already covers this change.
func (c *Controller) signal() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}
