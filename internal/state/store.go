// Package state persists the bridge's durable state in SQLite: the
// auto-provisioned bot identity and the last good channel snapshot.
// The database survives restarts so the bridge never re-provisions a
// bot it already owns and can serve channel lookups before the first
// poll completes.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/haasonsaas/homechat-bridge/internal/homechat"
)

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// BotIdentity is the provisioned bot's durable record.
type BotIdentity struct {
	BotID         int
	Username      string
	WebhookSecret string
	CreatedAt     time.Time
}

// Open opens (and migrates) the state database at path. Use ":memory:"
// in tests.
func Open(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY on the pure-Go driver.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bot_identity (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			bot_id INTEGER NOT NULL,
			username TEXT NOT NULL,
			webhook_secret TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS channel_snapshot (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS snapshot_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			updated_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create state schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// BotIdentity returns the persisted bot identity, or nil when none has
// been provisioned yet.
func (s *Store) BotIdentity(ctx context.Context) (*BotIdentity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT bot_id, username, webhook_secret, created_at FROM bot_identity WHERE id = 1`)

	var identity BotIdentity
	err := row.Scan(&identity.BotID, &identity.Username, &identity.WebhookSecret, &identity.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load bot identity: %w", err)
	}
	return &identity, nil
}

// SaveBotIdentity persists the provisioned bot. There is exactly one
// identity per bridge; saving replaces any previous record.
func (s *Store) SaveBotIdentity(ctx context.Context, identity BotIdentity) error {
	if identity.BotID <= 0 {
		return fmt.Errorf("bot id must be positive, got %d", identity.BotID)
	}
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bot_identity (id, bot_id, username, webhook_secret, created_at)
		 VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			bot_id = excluded.bot_id,
			username = excluded.username,
			webhook_secret = excluded.webhook_secret,
			created_at = excluded.created_at`,
		identity.BotID, identity.Username, identity.WebhookSecret, identity.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save bot identity: %w", err)
	}
	return nil
}

// SaveSnapshot replaces the cached channel list.
func (s *Store) SaveSnapshot(ctx context.Context, channels []homechat.Channel) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM channel_snapshot`); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}
	for _, ch := range channels {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO channel_snapshot (id, name, type) VALUES (?, ?, ?)`,
			ch.ID, ch.Name, ch.Type); err != nil {
			return fmt.Errorf("failed to insert channel %d: %w", ch.ID, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshot_meta (id, updated_at) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to update snapshot meta: %w", err)
	}
	return tx.Commit()
}

// LoadSnapshot returns the cached channel list and its update time. A
// zero time means no snapshot has been saved.
func (s *Store) LoadSnapshot(ctx context.Context) ([]homechat.Channel, time.Time, error) {
	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT updated_at FROM snapshot_meta WHERE id = 1`).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to load snapshot meta: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, type FROM channel_snapshot ORDER BY id`)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to load snapshot: %w", err)
	}
	defer rows.Close()

	var channels []homechat.Channel
	for rows.Next() {
		var ch homechat.Channel
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.Type); err != nil {
			return nil, time.Time{}, fmt.Errorf("failed to scan channel: %w", err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, time.Time{}, err
	}
	return channels, updatedAt, nil
}
