package model

import "time"

// InboxItem represents a single notification surfaced in the user's inbox.
// Items are owned by the remote system of record; locally they only exist
// inside the replicated mirror and the controller's in-memory list.
type InboxItem struct {
	// ID is the stable, owner-scoped identifier and the dedup key for
	// every merge the engine performs.
	ID int64 `db:"id" json:"id"`

	// OwnerID is the partition key; every query is scoped to one owner.
	OwnerID string `db:"owner_id" json:"owner_id"`

	// ScopeID is the optional secondary partition (e.g., a workspace).
	// A nil scope means the item is global and visible under every scope.
	ScopeID *int64 `db:"scope_id" json:"scope_id"`

	// Type is a free-form tag used for optional filtering.
	Type string `db:"type" json:"type"`

	// Message is the human-readable notification text.
	Message string `db:"message" json:"message"`

	// Payload holds arbitrary source-specific JSON the engine treats
	// as opaque.
	Payload string `db:"payload" json:"payload,omitempty"`

	// Read indicates whether the user has seen this item. It is the
	// only field users mutate directly.
	Read bool `db:"read" json:"read"`

	// CreatedAt is the sort key; lists are always ordered by it
	// descending.
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Filter identifies one inbox view: an owner, an optional scope, and an
// optional type tag. Changing any of these fields starts a new sync epoch.
type Filter struct {
	// OwnerID is the owning user. An empty owner means "not signed in";
	// the engine stays idle until a real owner is supplied.
	OwnerID string

	// ScopeID, when set, restricts the view to items in that scope plus
	// global (nil-scope) items.
	ScopeID *int64

	// Type, when set, restricts the view to a single item type.
	Type *string
}

// Equal reports whether two filters identify the same inbox view.
func (f Filter) Equal(other Filter) bool {
	if f.OwnerID != other.OwnerID {
		return false
	}
	if (f.ScopeID == nil) != (other.ScopeID == nil) {
		return false
	}
	if f.ScopeID != nil && *f.ScopeID != *other.ScopeID {
		return false
	}
	if (f.Type == nil) != (other.Type == nil) {
		return false
	}
	if f.Type != nil && *f.Type != *other.Type {
		return false
	}
	return true
}

// UnreadCount is the split unread counter. The live mirror only holds the
// recent sync window, so the recent component is kept fresh by a live count
// query while the older component comes from the remote count endpoint.
type UnreadCount struct {
	// TotalUnread is the authoritative unread total across all history.
	TotalUnread int `json:"total_unread"`

	// RecentUnread is the unread count within the recent sync window.
	RecentUnread int `json:"recent_unread"`
}

// Older returns the unread count outside the sync window.
func (c UnreadCount) Older() int {
	older := c.TotalUnread - c.RecentUnread
	if older < 0 {
		return 0
	}
	return older
}
