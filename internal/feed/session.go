// Package feed maintains change-feed sessions: shape subscriptions that
// keep the local mirror populated with the recent window of an owner's
// notifications. The wire transport is pluggable; the package ships a
// websocket implementation and the session bookkeeping around it.
package feed

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ShapeRequest describes one shape subscription: a table restricted to a
// single owner's rows inside the recent sync window.
type ShapeRequest struct {
	// Table is the replicated table name.
	Table string

	// OwnerID scopes the shape to one owner's rows.
	OwnerID string

	// Cutoff is the lower bound of the replicated window; the shape
	// only covers rows created at or after it.
	Cutoff time.Time

	// PrimaryKey names the column used to identify rows in change frames.
	PrimaryKey string
}

// Where renders the shape's row predicate as the feed service expects it.
// The owner id is quoted, so embedded single quotes are doubled.
func (r ShapeRequest) Where() string {
	return fmt.Sprintf(
		"owner_id = '%s' AND created_at >= '%s'",
		strings.ReplaceAll(r.OwnerID, "'", "''"),
		r.Cutoff.UTC().Format(time.RFC3339),
	)
}

// ShapeHandle is a running shape subscription.
type ShapeHandle interface {
	// Ready returns a channel that is closed once the initial full
	// sync has been applied to the mirror.
	Ready() <-chan struct{}

	// Err returns the terminal subscription error, if any.
	Err() error

	// Close releases the subscription. Safe to call more than once.
	Close() error
}

// ShapeSyncer opens shape subscriptions. The websocket Transport is the
// production implementation; tests substitute fakes.
type ShapeSyncer interface {
	SyncShape(ctx context.Context, req ShapeRequest) (ShapeHandle, error)
}

// SessionKey identifies one feed session: an owner plus the window cutoff
// fixed at open time. Within a session the cutoff never moves, so an
// item's recent-vs-older classification stays stable.
type SessionKey struct {
	OwnerID string
	Cutoff  time.Time
}

// SessionHandle is what consumers hold for an open session.
type SessionHandle interface {
	// WaitUntilReady blocks until the initial sync completes, the
	// configured wait elapses, or ctx is done. It returns whether the
	// sync was confirmed; a false return still leaves the session
	// usable, since live queries invalidate on their own.
	WaitUntilReady(ctx context.Context) bool

	// Err returns the session's terminal error, if any.
	Err() error

	// Close releases the session exactly once. Safe to call repeatedly.
	Close() error
}

// Opener opens sessions; the controller depends on this rather than on
// the concrete Manager.
type Opener interface {
	OpenSession(ctx context.Context, key SessionKey) (SessionHandle, error)
}

// itemsTable is the replicated table every session subscribes to.
const itemsTable = "items"

// Manager opens and tracks feed sessions, guaranteeing at most one live
// subscription per distinct session key.
type Manager struct {
	syncer ShapeSyncer
	wait   time.Duration
	log    *zap.Logger

	mu       sync.Mutex
	sessions map[SessionKey]*Session
}

// NewManager creates a session manager. initialSyncWait bounds how long
// WaitUntilReady blocks before giving up on sync confirmation.
func NewManager(syncer ShapeSyncer, initialSyncWait time.Duration, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if initialSyncWait <= 0 {
		initialSyncWait = 3 * time.Second
	}
	return &Manager{
		syncer:   syncer,
		wait:     initialSyncWait,
		log:      log,
		sessions: make(map[SessionKey]*Session),
	}
}

// OpenSession opens a subscription for the given key, or returns the
// already-open session if one exists (idempotent open).
func (m *Manager) OpenSession(ctx context.Context, key SessionKey) (SessionHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[key]; ok {
		return s, nil
	}

	handle, err := m.syncer.SyncShape(ctx, ShapeRequest{
		Table:      itemsTable,
		OwnerID:    key.OwnerID,
		Cutoff:     key.Cutoff,
		PrimaryKey: "id",
	})
	if err != nil {
		return nil, fmt.Errorf("opening feed session for %s: %w", key.OwnerID, err)
	}

	s := &Session{
		key:    key,
		handle: handle,
		wait:   m.wait,
		log:    m.log,
		remove: func() { m.drop(key) },
	}
	m.sessions[key] = s

	return s, nil
}

// drop removes a closed session from the registry so a later open with
// the same key starts fresh.
func (m *Manager) drop(key SessionKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, key)
}

// CloseAll closes every open session. The first close error is returned.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	var firstErr error
	for _, s := range open {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Session is one open feed subscription.
type Session struct {
	key    SessionKey
	handle ShapeHandle
	wait   time.Duration
	log    *zap.Logger
	remove func()

	closeOnce sync.Once
	closeErr  error
}

// WaitUntilReady blocks until the initial sync completes or the bounded
// wait elapses. Timing out is not an error: the mirror may simply still
// be filling, and live queries re-deliver once it catches up.
func (s *Session) WaitUntilReady(ctx context.Context) bool {
	timer := time.NewTimer(s.wait)
	defer timer.Stop()

	select {
	case <-s.handle.Ready():
		return true
	case <-timer.C:
		s.log.Debug("initial sync wait elapsed, proceeding unconfirmed",
			zap.String("owner", s.key.OwnerID))
		return false
	case <-ctx.Done():
		return false
	}
}

// Err returns the subscription's terminal error, if any.
func (s *Session) Err() error {
	return s.handle.Err()
}

// Close releases the underlying subscription exactly once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.remove()
		s.closeErr = s.handle.Close()
	})
	return s.closeErr
}
