// Package merge holds the pure reconciliation functions the engine uses to
// combine live-query snapshots with paginated history. Every list-producing
// path in the engine funnels through DedupeAndSort so that ordering and
// dedup behave identically no matter where rows came from.
package merge

import (
	"sort"
	"time"

	"github.com/nhle/inbox-sync/internal/model"
)

// DedupeAndSort removes duplicate ids, keeping the first occurrence
// encountered, and returns the result ordered by CreatedAt descending.
// Callers must order their input so the freshest/authoritative copy of a
// row comes first.
func DedupeAndSort(items []model.InboxItem) []model.InboxItem {
	seen := make(map[int64]struct{}, len(items))
	out := make([]model.InboxItem, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ID]; ok {
			continue
		}
		seen[item.ID] = struct{}{}
		out = append(out, item)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	return out
}

// MergeLiveIntoHeld folds a fresh live-window snapshot into the list the
// controller already holds. Every held row whose id is absent from the live
// snapshot is kept: rows paged in from history must never be dropped just
// because new arrivals pushed them out of the live window's LIMIT. Live rows
// win for any id present in both.
func MergeLiveIntoHeld(live, held []model.InboxItem) []model.InboxItem {
	liveIDs := make(map[int64]struct{}, len(live))
	for _, item := range live {
		liveIDs[item.ID] = struct{}{}
	}

	combined := make([]model.InboxItem, 0, len(live)+len(held))
	combined = append(combined, live...)
	for _, item := range held {
		if _, ok := liveIDs[item.ID]; ok {
			continue
		}
		combined = append(combined, item)
	}

	return DedupeAndSort(combined)
}

// OlderThanWindow reports whether an item created at the given time falls
// outside the recent sync window. Such items are invisible to the live
// count query, so optimistic read-state changes must adjust the older
// unread bucket instead.
func OlderThanWindow(createdAt, cutoff time.Time) bool {
	return createdAt.Before(cutoff)
}
