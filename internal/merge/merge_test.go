package merge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/inbox-sync/internal/model"
)

func item(id int64, age time.Duration, read bool) model.InboxItem {
	return model.InboxItem{
		ID:        id,
		OwnerID:   "alice",
		Read:      read,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(-age),
	}
}

func ids(items []model.InboxItem) []int64 {
	out := make([]int64, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestDedupeAndSortRemovesDuplicates(t *testing.T) {
	in := []model.InboxItem{
		item(1, 0, true),
		item(2, time.Hour, false),
		item(1, 0, false), // duplicate; first occurrence must win
		item(3, 2*time.Hour, false),
		item(2, time.Hour, true),
	}

	out := DedupeAndSort(in)

	require.Len(t, out, 3)
	assert.Equal(t, []int64{1, 2, 3}, ids(out))
	// First-encountered copies kept.
	assert.True(t, out[0].Read)
	assert.False(t, out[1].Read)
}

func TestDedupeAndSortOrdersByCreatedAtDescending(t *testing.T) {
	in := []model.InboxItem{
		item(3, 3*time.Hour, false),
		item(1, time.Hour, false),
		item(2, 2*time.Hour, false),
	}

	out := DedupeAndSort(in)

	assert.Equal(t, []int64{1, 2, 3}, ids(out))
	for i := 1; i < len(out); i++ {
		assert.False(t, out[i].CreatedAt.After(out[i-1].CreatedAt))
	}
}

func TestDedupeAndSortStableForEqualTimestamps(t *testing.T) {
	a := item(10, time.Hour, false)
	b := item(11, time.Hour, false)

	out := DedupeAndSort([]model.InboxItem{a, b})

	assert.Equal(t, []int64{10, 11}, ids(out))
}

func TestDedupeAndSortEmpty(t *testing.T) {
	assert.Empty(t, DedupeAndSort(nil))
}

func TestMergeLiveIntoHeldKeepsRowsOutsideLiveWindow(t *testing.T) {
	live := []model.InboxItem{item(1, 0, false), item(2, time.Hour, false)}
	held := []model.InboxItem{
		item(2, time.Hour, true),       // also live; live copy wins
		item(50, 24*time.Hour, false),  // paged in, outside live window
		item(51, 25*time.Hour, true),
	}

	out := MergeLiveIntoHeld(live, held)

	require.Equal(t, []int64{1, 2, 50, 51}, ids(out))
	// Live copy of id 2 is authoritative.
	assert.False(t, out[1].Read)
}

func TestMergeNonLossInvariant(t *testing.T) {
	// Every held id absent from live must appear exactly once.
	live := []model.InboxItem{item(1, 0, false)}
	held := []model.InboxItem{
		item(2, time.Hour, false),
		item(3, 2*time.Hour, false),
		item(3, 2*time.Hour, true), // held-side duplicate
	}

	out := MergeLiveIntoHeld(live, held)

	counts := make(map[int64]int)
	for _, it := range out {
		counts[it.ID]++
	}
	assert.Equal(t, 1, counts[2])
	assert.Equal(t, 1, counts[3])
}

func TestMergeLivePushBeyondLimit(t *testing.T) {
	// 50 held items, all inside the live window. A new arrival pushes the
	// oldest out of the live query's LIMIT; the merge must keep it because
	// the held list still has it.
	held := make([]model.InboxItem, 0, 50)
	for i := int64(1); i <= 50; i++ {
		held = append(held, item(i, time.Duration(i)*time.Minute, false))
	}

	live := make([]model.InboxItem, 0, 50)
	live = append(live, item(100, 0, false)) // new arrival, freshest
	for i := int64(1); i <= 49; i++ {
		live = append(live, item(i, time.Duration(i)*time.Minute, false))
	}

	out := MergeLiveIntoHeld(live, held)

	require.Len(t, out, 51)
	assert.Equal(t, int64(100), out[0].ID)
	assert.Equal(t, int64(50), out[50].ID)
}

func TestOlderThanWindow(t *testing.T) {
	cutoff := time.Date(2026, 2, 22, 0, 0, 0, 0, time.UTC)

	assert.True(t, OlderThanWindow(cutoff.Add(-time.Second), cutoff))
	assert.False(t, OlderThanWindow(cutoff, cutoff))
	assert.False(t, OlderThanWindow(cutoff.Add(time.Second), cutoff))
}
