package testutil

import (
	"testing"

	"github.com/nhle/inbox-sync/internal/store"
)

// NewTestMirror creates an in-memory SQLiteMirror with all migrations
// applied. It automatically closes the mirror when the test completes.
func NewTestMirror(t *testing.T) *store.SQLiteMirror {
	t.Helper()

	s, err := store.NewSQLiteMirror(":memory:", nil)
	if err != nil {
		t.Fatalf("creating test mirror: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test mirror: %v", err)
		}
	})

	return s
}
