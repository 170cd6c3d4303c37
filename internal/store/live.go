package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nhle/inbox-sync/internal/model"
)

// liveHub fans mirror-change signals out to live-query subscribers. Each
// subscriber owns a 1-buffered signal channel, so bursts of writes coalesce
// into a single re-query instead of piling up.
type liveHub struct {
	mu   sync.Mutex
	subs map[uuid.UUID]chan struct{}
}

func newLiveHub() *liveHub {
	return &liveHub{subs: make(map[uuid.UUID]chan struct{})}
}

// subscribe registers a new subscriber and returns its id and signal channel.
func (h *liveHub) subscribe() (uuid.UUID, chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := uuid.New()
	ch := make(chan struct{}, 1)
	h.subs[id] = ch
	return id, ch
}

// unsubscribe removes a subscriber and closes its signal channel.
// Calling it with an already-removed id is a no-op.
func (h *liveHub) unsubscribe(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// notify wakes every subscriber without blocking. A subscriber whose
// signal is already pending is skipped; it will re-query anyway.
func (h *liveHub) notify() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// LiveItems runs the filtered list query once for the initial snapshot and
// then re-runs it after every mirror change, delivering the full result set
// each time. Re-query failures are logged and skipped; the subscriber just
// sees a stale list until the next change.
func (s *SQLiteMirror) LiveItems(ctx context.Context, f ItemFilter) (*ItemsHandle, error) {
	initial, err := s.QueryItems(ctx, f)
	if err != nil {
		return nil, err
	}

	id, sig := s.hub.subscribe()
	done := make(chan struct{})
	out := make(chan []model.InboxItem)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.hub.unsubscribe(id)
			close(done)
		})
	}

	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				unsubscribe()
				return
			case _, ok := <-sig:
				if !ok {
					return
				}
				rows, err := s.QueryItems(ctx, f)
				if err != nil {
					s.log.Warn("live items re-query failed", zap.Error(err))
					continue
				}
				select {
				case out <- rows:
				case <-done:
					return
				case <-ctx.Done():
					unsubscribe()
					return
				}
			}
		}
	}()

	return &ItemsHandle{Initial: initial, Updates: out, Unsubscribe: unsubscribe}, nil
}

// LiveUnreadCount is the count-query form of LiveItems over unread items.
func (s *SQLiteMirror) LiveUnreadCount(ctx context.Context, f ItemFilter) (*CountHandle, error) {
	initial, err := s.CountUnread(ctx, f)
	if err != nil {
		return nil, err
	}

	id, sig := s.hub.subscribe()
	done := make(chan struct{})
	out := make(chan int)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.hub.unsubscribe(id)
			close(done)
		})
	}

	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				unsubscribe()
				return
			case _, ok := <-sig:
				if !ok {
					return
				}
				count, err := s.CountUnread(ctx, f)
				if err != nil {
					s.log.Warn("live unread count re-query failed", zap.Error(err))
					continue
				}
				select {
				case out <- count:
				case <-done:
					return
				case <-ctx.Done():
					unsubscribe()
					return
				}
			}
		}
	}()

	return &CountHandle{Initial: initial, Updates: out, Unsubscribe: unsubscribe}, nil
}
