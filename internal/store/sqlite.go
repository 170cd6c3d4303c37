package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nhle/inbox-sync/internal/model"
)

// SQLiteMirror is the local replicated mirror backed by a SQLite database.
// The change-feed session writes rows into it; live queries read from it
// and re-deliver their result sets whenever it changes.
type SQLiteMirror struct {
	db  *sqlx.DB
	hub *liveHub
	log *zap.Logger
}

// NewSQLiteMirror opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
// Pass ":memory:" for an in-process mirror (used by tests).
func NewSQLiteMirror(dbPath string, log *zap.Logger) (*SQLiteMirror, error) {
	if log == nil {
		log = zap.NewNop()
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteMirror{db: db, hub: newLiveHub(), log: log}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteMirror) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteMirror) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// ApplyUpsert inserts or replaces a single row and wakes live queries.
func (s *SQLiteMirror) ApplyUpsert(ctx context.Context, item model.InboxItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO items (id, owner_id, scope_id, type, message, payload, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.OwnerID, item.ScopeID, item.Type,
		item.Message, item.Payload, boolToInt(item.Read), item.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting item %d: %w", item.ID, err)
	}

	s.hub.notify()
	return nil
}

// ApplyDelete removes a single row and wakes live queries.
func (s *SQLiteMirror) ApplyDelete(ctx context.Context, ownerID string, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM items WHERE owner_id = ? AND id = ?", ownerID, id,
	)
	if err != nil {
		return fmt.Errorf("deleting item %d: %w", id, err)
	}

	s.hub.notify()
	return nil
}

// ReplaceWindow atomically replaces every row the owner has inside the
// sync window with the given snapshot, then wakes live queries once.
func (s *SQLiteMirror) ReplaceWindow(
	ctx context.Context,
	ownerID string,
	cutoff time.Time,
	items []model.InboxItem,
) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM items WHERE owner_id = ? AND created_at >= ?",
		ownerID, cutoff.UTC(),
	); err != nil {
		return fmt.Errorf("clearing window for %s: %w", ownerID, err)
	}

	const query = `
		INSERT OR REPLACE INTO items (id, owner_id, scope_id, type, message, payload, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing window insert: %w", err)
	}
	defer stmt.Close()

	for _, item := range items {
		if _, err := stmt.ExecContext(ctx,
			item.ID, item.OwnerID, item.ScopeID, item.Type,
			item.Message, item.Payload, boolToInt(item.Read), item.CreatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("inserting item %d: %w", item.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing window replace: %w", err)
	}

	s.hub.notify()
	return nil
}

// QueryItems returns the items matching the filter, ordered by creation
// time descending.
func (s *SQLiteMirror) QueryItems(ctx context.Context, f ItemFilter) ([]model.InboxItem, error) {
	where, args := f.whereClause()

	query := "SELECT * FROM items WHERE " + where + " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying items: %w", err)
	}
	defer rows.Close()

	var items []model.InboxItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

// CountUnread returns the number of unread items matching the filter.
func (s *SQLiteMirror) CountUnread(ctx context.Context, f ItemFilter) (int, error) {
	f.UnreadOnly = true
	where, args := f.whereClause()

	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM items WHERE "+where, args...,
	)
	if err != nil {
		return 0, fmt.Errorf("counting unread items: %w", err)
	}

	return count, nil
}

// whereClause builds the WHERE conditions and bind arguments for a filter.
func (f ItemFilter) whereClause() (string, []any) {
	conds := []string{"owner_id = ?"}
	args := []any{f.OwnerID}

	if f.ScopeID != nil {
		conds = append(conds, "(scope_id = ? OR scope_id IS NULL)")
		args = append(args, *f.ScopeID)
	}
	if f.Type != nil {
		conds = append(conds, "type = ?")
		args = append(args, *f.Type)
	}
	if f.Since != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.Since.UTC())
	}
	if f.UnreadOnly {
		conds = append(conds, "read = 0")
	}

	return strings.Join(conds, " AND "), args
}

// scanItem scans an item row from a sqlx.Rows result set.
func scanItem(rows *sqlx.Rows) (model.InboxItem, error) {
	var (
		item      model.InboxItem
		read      int
		createdAt time.Time
	)

	err := rows.Scan(
		&item.ID, &item.OwnerID, &item.ScopeID, &item.Type,
		&item.Message, &item.Payload, &read, &createdAt,
	)
	if err != nil {
		return model.InboxItem{}, fmt.Errorf("scanning item row: %w", err)
	}

	item.Read = read != 0
	item.CreatedAt = createdAt.UTC()

	return item, nil
}

// boolToInt converts a bool to the 0/1 form SQLite stores.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
