// Package cache keeps the last known notification list in a local SQLite
// database so it can be shown while offline.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/clausedesk/clausedesk-go"
)

// Snapshot is the cached collection, newest first.
type Snapshot struct {
	Notifications []clausedesk.Notification
	SavedAt       time.Time
}

// Unread counts the unread entries.
func (s Snapshot) Unread() int {
	n := 0
	for _, x := range s.Notifications {
		if !x.Read {
			n++
		}
	}
	return n
}

// Cache is a SQLite-backed notification snapshot.
type Cache struct {
	db *sqlx.DB
}

// Open opens (or creates) the database at path and applies pending
// migrations. ":memory:" gives a private in-memory cache.
func Open(path string) (*Cache, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// One connection: keeps :memory: databases shared and writes serial.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	c := &Cache{db: db}
	if err := c.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return c, nil
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) runMigrations() error {
	current := 0

	var tables int
	err := c.db.Get(&tables,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tables > 0 {
		if err := c.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := c.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

type notificationRow struct {
	ID         int64     `db:"id"`
	Position   int       `db:"position"`
	Title      string    `db:"title"`
	Message    string    `db:"message"`
	Kind       string    `db:"kind"`
	CreatedAt  time.Time `db:"created_at"`
	Read       bool      `db:"read"`
	ActionLink string    `db:"action_link"`
}

// Save replaces the snapshot with ns, preserving order.
func (c *Cache) Save(ctx context.Context, ns []clausedesk.Notification) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM notifications"); err != nil {
		return fmt.Errorf("clearing notifications: %w", err)
	}

	stmt, err := tx.PrepareNamedContext(ctx, `
		INSERT OR IGNORE INTO notifications (
			id, position, title, message, kind, created_at, read, action_link
		) VALUES (
			:id, :position, :title, :message, :kind, :created_at, :read, :action_link
		)`)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for i, n := range ns {
		row := notificationRow{
			ID:         n.ID,
			Position:   i,
			Title:      n.Title,
			Message:    n.Message,
			Kind:       string(n.Kind),
			CreatedAt:  n.CreatedAt.UTC(),
			Read:       n.Read,
			ActionLink: n.ActionLink,
		}
		if _, err := stmt.ExecContext(ctx, row); err != nil {
			return fmt.Errorf("saving notification %d: %w", n.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO snapshot (id, saved_at) VALUES (1, ?)", time.Now().UTC())
	if err != nil {
		return fmt.Errorf("recording snapshot time: %w", err)
	}
	return tx.Commit()
}

// Load returns the saved snapshot. An empty cache yields a zero SavedAt
// and no notifications.
func (c *Cache) Load(ctx context.Context) (Snapshot, error) {
	var rows []notificationRow
	err := c.db.SelectContext(ctx, &rows, `
		SELECT id, position, title, message, kind, created_at, read, action_link
		FROM notifications ORDER BY position ASC`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("loading notifications: %w", err)
	}

	snap := Snapshot{Notifications: make([]clausedesk.Notification, 0, len(rows))}
	for _, r := range rows {
		snap.Notifications = append(snap.Notifications, clausedesk.Notification{
			ID:         r.ID,
			Title:      r.Title,
			Message:    r.Message,
			Kind:       clausedesk.NotificationKind(r.Kind),
			CreatedAt:  r.CreatedAt,
			Read:       r.Read,
			ActionLink: r.ActionLink,
		})
	}

	err = c.db.GetContext(ctx, &snap.SavedAt, "SELECT saved_at FROM snapshot WHERE id = 1")
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("loading snapshot time: %w", err)
	}
	return snap, nil
}
