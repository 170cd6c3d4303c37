package store

import (
	"context"
	"time"

	"github.com/nhle/inbox-sync/internal/model"
)

// ItemFilter controls filtering for mirror queries. All queries are scoped
// to a single owner; the remaining fields narrow the view further.
type ItemFilter struct {
	OwnerID string

	// ScopeID, when set, matches items in that scope plus global
	// (NULL-scope) items.
	ScopeID *int64

	// Type, when set, matches a single item type.
	Type *string

	// Since, when set, is the inclusive lower bound on created_at.
	// The engine uses it to restrict queries to the recent sync window.
	Since *time.Time

	// UnreadOnly restricts the query to items with read = 0.
	UnreadOnly bool

	// Limit caps the result set; zero means unbounded.
	Limit int
}

// ItemsHandle is a live list query: an immediately available snapshot plus
// a channel that re-delivers the entire current result set after every
// mirror mutation. Full resend (rather than diffs) keeps reconciliation
// simple; the result set is capped by ItemFilter.Limit.
type ItemsHandle struct {
	// Initial is the result set at subscription time.
	Initial []model.InboxItem

	// Updates delivers the full current result set after each change.
	// It is closed when the subscription ends.
	Updates <-chan []model.InboxItem

	// Unsubscribe stops the subscription. Safe to call more than once
	// and at any point in the handle's life.
	Unsubscribe func()
}

// CountHandle is the count-query form of ItemsHandle.
type CountHandle struct {
	Initial     int
	Updates     <-chan int
	Unsubscribe func()
}

// ReactiveStore is the live-query capability the controller requires from
// a mirror. It is checked once, at construction, rather than feature-
// detected at every call site.
type ReactiveStore interface {
	LiveItems(ctx context.Context, f ItemFilter) (*ItemsHandle, error)
	LiveUnreadCount(ctx context.Context, f ItemFilter) (*CountHandle, error)
}

// ChangeApplier is the write side of the mirror, used exclusively by the
// change-feed session. Nothing else writes to the mirror; user mutations
// go to the remote API and flow back through the feed.
type ChangeApplier interface {
	// ApplyUpsert inserts or replaces a single row.
	ApplyUpsert(ctx context.Context, item model.InboxItem) error

	// ApplyDelete removes a single row by owner and id.
	ApplyDelete(ctx context.Context, ownerID string, id int64) error

	// ReplaceWindow atomically replaces every row an owner has inside
	// the sync window with the given snapshot. Used when a session's
	// initial sync lands.
	ReplaceWindow(ctx context.Context, ownerID string, cutoff time.Time, items []model.InboxItem) error
}
