package inbox

import (
	"github.com/nhle/inbox-sync/internal/merge"
	"github.com/nhle/inbox-sync/internal/model"
)

// event is a state-machine input. Every async callback funnels its result
// through Controller.dispatch as one of these, so all state transitions
// happen in a single place and stale-epoch results are dropped uniformly.
type event interface{ isEvent() }

type evSessionFailed struct{ err error }

type evSessionReady struct{}

// evLiveItems carries one full result set from the live list query.
// first marks the subscription's initial snapshot.
type evLiveItems struct {
	rows  []model.InboxItem
	first bool
}

type evLiveCount struct{ n int }

// evOlderCount carries the once-fetched unread count outside the window.
type evOlderCount struct{ older int }

// evFallbackPage carries the one-shot pagination result used when the
// sync window is empty.
type evFallbackPage struct {
	items   []model.InboxItem
	hasMore bool
}

type evLoadMoreStarted struct{}

type evLoadMoreDone struct {
	items   []model.InboxItem
	hasMore bool
	err     error
}

// evMarkRead is the optimistic half of a single mark-read operation.
// olderDecrement records whether the older bucket was actually taken
// down, so a rollback restores exactly what was changed.
type evMarkRead struct {
	id             int64
	olderDecrement bool
}

// evMarkReadRollback undoes evMarkRead after a failed mutation.
type evMarkReadRollback struct {
	id             int64
	olderDecrement bool
}

type evMarkAllRead struct{}

// evRestoreCounters undoes the counter half of a failed mark-all-read.
// Item flags stay flipped; the feed reconciles them eventually.
type evRestoreCounters struct{ recent, older int }

func (evSessionFailed) isEvent()    {}
func (evSessionReady) isEvent()     {}
func (evLiveItems) isEvent()        {}
func (evLiveCount) isEvent()        {}
func (evOlderCount) isEvent()       {}
func (evFallbackPage) isEvent()     {}
func (evLoadMoreStarted) isEvent()  {}
func (evLoadMoreDone) isEvent()     {}
func (evMarkRead) isEvent()         {}
func (evMarkReadRollback) isEvent() {}
func (evMarkAllRead) isEvent()      {}
func (evRestoreCounters) isEvent()  {}

// reduce applies one event to the state and returns the next state. It is
// pure: it never touches the input's Items backing array and has no side
// effects, which keeps every transition testable in isolation.
func reduce(s State, ev event) State {
	switch ev := ev.(type) {
	case evSessionFailed:
		s.Err = ev.err
		s.Loading = false

	case evSessionReady:
		s.Phase = PhaseReady
		s.Loading = false

	case evLiveItems:
		s.Items = merge.MergeLiveIntoHeld(ev.rows, s.Items)
		s.Loading = false

	case evLiveCount:
		s.RecentUnread = ev.n

	case evOlderCount:
		s.OlderUnread = ev.older

	case evFallbackPage:
		// Only applies while the list is still empty; a live row that
		// raced in wins.
		if len(s.Items) == 0 {
			s.Items = merge.DedupeAndSort(ev.items)
			s.HasMore = ev.hasMore
		}

	case evLoadMoreStarted:
		s.LoadingMore = true

	case evLoadMoreDone:
		s.LoadingMore = false
		if ev.err == nil {
			combined := make([]model.InboxItem, 0, len(s.Items)+len(ev.items))
			combined = append(combined, s.Items...)
			combined = append(combined, ev.items...)
			s.Items = merge.DedupeAndSort(combined)
			s.HasMore = ev.hasMore
		}

	case evMarkRead:
		s.Items = setRead(s.Items, ev.id, true)
		if ev.olderDecrement {
			s.OlderUnread--
		}

	case evMarkReadRollback:
		s.Items = setRead(s.Items, ev.id, false)
		if ev.olderDecrement {
			s.OlderUnread++
		}

	case evMarkAllRead:
		items := make([]model.InboxItem, len(s.Items))
		copy(items, s.Items)
		for i := range items {
			items[i].Read = true
		}
		s.Items = items
		s.RecentUnread = 0
		s.OlderUnread = 0

	case evRestoreCounters:
		s.RecentUnread = ev.recent
		s.OlderUnread = ev.older
	}

	return s
}

// setRead returns a copy of items with the given item's read flag set.
func setRead(items []model.InboxItem, id int64, read bool) []model.InboxItem {
	out := make([]model.InboxItem, len(items))
	copy(out, items)
	for i := range out {
		if out[i].ID == id {
			out[i].Read = read
			break
		}
	}
	return out
}
