package feed_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/inbox-sync/internal/feed"
)

// fakeHandle implements feed.ShapeHandle for tests.
type fakeHandle struct {
	ready chan struct{}
	err   error

	mu     sync.Mutex
	closes int
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{ready: make(chan struct{})}
}

func (h *fakeHandle) Ready() <-chan struct{} { return h.ready }
func (h *fakeHandle) Err() error             { return h.err }

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closes++
	return nil
}

func (h *fakeHandle) closeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closes
}

// fakeSyncer implements feed.ShapeSyncer, recording every request.
type fakeSyncer struct {
	mu      sync.Mutex
	reqs    []feed.ShapeRequest
	handles []*fakeHandle
	err     error
}

func (s *fakeSyncer) SyncShape(ctx context.Context, req feed.ShapeRequest) (feed.ShapeHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.reqs = append(s.reqs, req)
	h := newFakeHandle()
	s.handles = append(s.handles, h)
	return h, nil
}

func (s *fakeSyncer) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reqs)
}

var testKey = feed.SessionKey{
	OwnerID: "alice",
	Cutoff:  time.Date(2026, 2, 22, 0, 0, 0, 0, time.UTC),
}

func TestOpenSessionIsIdempotentPerKey(t *testing.T) {
	syncer := &fakeSyncer{}
	m := feed.NewManager(syncer, 10*time.Millisecond, nil)
	ctx := context.Background()

	s1, err := m.OpenSession(ctx, testKey)
	require.NoError(t, err)
	s2, err := m.OpenSession(ctx, testKey)
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.Equal(t, 1, syncer.openCount())

	// A different cutoff is a different session.
	other := testKey
	other.Cutoff = other.Cutoff.Add(time.Hour)
	s3, err := m.OpenSession(ctx, other)
	require.NoError(t, err)
	assert.NotSame(t, s1, s3)
	assert.Equal(t, 2, syncer.openCount())
}

func TestOpenSessionPropagatesSubscribeFailure(t *testing.T) {
	syncer := &fakeSyncer{err: errors.New("feed unreachable")}
	m := feed.NewManager(syncer, 10*time.Millisecond, nil)

	_, err := m.OpenSession(context.Background(), testKey)
	require.Error(t, err)
	assert.ErrorContains(t, err, "feed unreachable")
}

func TestWaitUntilReady(t *testing.T) {
	syncer := &fakeSyncer{}
	m := feed.NewManager(syncer, 20*time.Millisecond, nil)

	s, err := m.OpenSession(context.Background(), testKey)
	require.NoError(t, err)

	// Initial sync never completes: the bounded wait elapses and the
	// session is still usable.
	assert.False(t, s.WaitUntilReady(context.Background()))

	close(syncer.handles[0].ready)
	assert.True(t, s.WaitUntilReady(context.Background()))
}

func TestCloseIsIdempotent(t *testing.T) {
	syncer := &fakeSyncer{}
	m := feed.NewManager(syncer, 10*time.Millisecond, nil)

	s, err := m.OpenSession(context.Background(), testKey)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, syncer.handles[0].closeCount())
}

func TestReopenAfterCloseStartsFreshSubscription(t *testing.T) {
	syncer := &fakeSyncer{}
	m := feed.NewManager(syncer, 10*time.Millisecond, nil)
	ctx := context.Background()

	s1, err := m.OpenSession(ctx, testKey)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := m.OpenSession(ctx, testKey)
	require.NoError(t, err)

	assert.NotSame(t, s1, s2)
	assert.Equal(t, 2, syncer.openCount())
}

func TestCloseAll(t *testing.T) {
	syncer := &fakeSyncer{}
	m := feed.NewManager(syncer, 10*time.Millisecond, nil)
	ctx := context.Background()

	_, err := m.OpenSession(ctx, testKey)
	require.NoError(t, err)

	other := testKey
	other.OwnerID = "bob"
	_, err = m.OpenSession(ctx, other)
	require.NoError(t, err)

	require.NoError(t, m.CloseAll())
	for _, h := range syncer.handles {
		assert.Equal(t, 1, h.closeCount())
	}
}

func TestShapeRequestWhere(t *testing.T) {
	req := feed.ShapeRequest{
		Table:      "items",
		OwnerID:    "alice",
		Cutoff:     time.Date(2026, 2, 22, 0, 0, 0, 0, time.UTC),
		PrimaryKey: "id",
	}

	assert.Equal(t,
		"owner_id = 'alice' AND created_at >= '2026-02-22T00:00:00Z'",
		req.Where(),
	)
}

func TestShapeRequestWhereEscapesQuotes(t *testing.T) {
	req := feed.ShapeRequest{
		Table:   "items",
		OwnerID: "o'brien",
		Cutoff:  time.Date(2026, 2, 22, 0, 0, 0, 0, time.UTC),
	}

	assert.Equal(t,
		"owner_id = 'o''brien' AND created_at >= '2026-02-22T00:00:00Z'",
		req.Where(),
	)
}
