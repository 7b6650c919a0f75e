// Package store provides storage backends for Concierge.
//
// This file implements an SQLite-backed store for user identities,
// transcripts, and inbound event deduplication.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "embed"

	"github.com/conciergelabs/concierge/internal/directory"
	"github.com/conciergelabs/concierge/internal/util"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore implements directory.Directory and EventRepo on a local
// SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ directory.Directory = (*SQLiteStore)(nil)
var _ EventRepo = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("SQLiteStore failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("SQLiteStore failed to open connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLiteStore ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("SQLiteStore failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("SQLiteStore initialized", "dsn", dsn)
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// FindByPhone returns the identity for a phone number, or nil if absent.
func (s *SQLiteStore) FindByPhone(ctx context.Context, phone string) (*directory.UserIdentity, error) {
	ctx, cancel := callCtx(ctx)
	defer cancel()
	row := s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM user_identities WHERE phone_number = ?`, phone)
	return scanIdentity(row)
}

// FindByEmail returns the identity for a verification email, or nil if absent.
func (s *SQLiteStore) FindByEmail(ctx context.Context, email string) (*directory.UserIdentity, error) {
	ctx, cancel := callCtx(ctx)
	defer cancel()
	row := s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM user_identities WHERE email = ?`, email)
	return scanIdentity(row)
}

// CreateWithEmail creates an identity keyed by phone number. The insert is
// idempotent under concurrent first-contact webhooks: a duplicate phone or
// email is ignored and the existing row is returned instead.
func (s *SQLiteStore) CreateWithEmail(ctx context.Context, phone, email, guid string) (*directory.UserIdentity, error) {
	id := util.GenerateUserID()
	insertCtx, cancel := callCtx(ctx)
	defer cancel()
	_, err := s.db.ExecContext(insertCtx,
		`INSERT OR IGNORE INTO user_identities (id, phone_number, guid, email) VALUES (?, ?, ?, ?)`,
		id, phone, nilIfEmpty(guid), nilIfEmpty(email))
	if err != nil {
		slog.Error("SQLiteStore.CreateWithEmail: insert failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}
	user, err := s.FindByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if user == nil && email != "" {
		// The insert may have been ignored because the email, not the
		// phone, already belongs to an existing identity.
		user, err = s.FindByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
	}
	if user == nil {
		return nil, fmt.Errorf("identity not found after create: phone %s", phone)
	}
	slog.Debug("SQLiteStore.CreateWithEmail: identity ready", "id", user.ID, "phone", phone)
	return user, nil
}

// ConditionalUpdate applies updates iff every expected field still holds its
// expected value, in a single guarded UPDATE. It returns false when the
// precondition no longer held.
func (s *SQLiteStore) ConditionalUpdate(ctx context.Context, id string, expected, updates directory.Fields) (bool, error) {
	set, where, args, err := buildConditionalUpdate(id, expected, updates, sqlitePlaceholder)
	if err != nil {
		return false, err
	}
	ctx, cancel := callCtx(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_identities SET `+set+`, updated_at = CURRENT_TIMESTAMP WHERE `+where, args...)
	if err != nil {
		slog.Error("SQLiteStore.ConditionalUpdate: update failed", "error", err, "id", id)
		return false, fmt.Errorf("conditional update failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetTranscript returns the stored conversation transcript blob.
func (s *SQLiteStore) GetTranscript(ctx context.Context, id string) (string, error) {
	ctx, cancel := callCtx(ctx)
	defer cancel()
	var transcript string
	err := s.db.QueryRowContext(ctx,
		`SELECT transcript FROM user_identities WHERE id = ?`, id).Scan(&transcript)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("identity %s not found", id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load transcript: %w", err)
	}
	return transcript, nil
}

// SetTranscript replaces the stored conversation transcript blob.
func (s *SQLiteStore) SetTranscript(ctx context.Context, id string, transcript string) error {
	ctx, cancel := callCtx(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_identities SET transcript = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, transcript, id)
	if err != nil {
		return fmt.Errorf("failed to save transcript: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("identity %s not found", id)
	}
	return nil
}

// RecordEvent inserts an inbound event id, reporting whether this call was
// the first to record it. Duplicate ids are ignored and return false.
func (s *SQLiteStore) RecordEvent(eventID, eventType string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO inbound_events (event_id, event_type) VALUES (?, ?)`, eventID, eventType)
	if err != nil {
		slog.Error("SQLiteStore.RecordEvent: insert failed", "error", err, "event_id", eventID)
		return false, fmt.Errorf("failed to record event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkProcessed stamps an inbound event as fully handled.
func (s *SQLiteStore) MarkProcessed(eventID string) error {
	_, err := s.db.Exec(
		`UPDATE inbound_events SET processed_at = CURRENT_TIMESTAMP WHERE event_id = ?`, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

// placeholderFunc formats the i-th (1-based) SQL placeholder for a backend.
type placeholderFunc func(i int) string

func sqlitePlaceholder(int) string { return "?" }

// buildConditionalUpdate compiles expected/updates field maps into SET and
// WHERE fragments with positional args. Both maps are validated against the
// mutable column whitelist.
func buildConditionalUpdate(id string, expected, updates directory.Fields, ph placeholderFunc) (set, where string, args []any, err error) {
	if len(updates) == 0 {
		return "", "", nil, fmt.Errorf("conditional update requires at least one field")
	}
	var setParts, whereParts []string
	i := 0
	for f, v := range updates {
		col, err := columnFor(f)
		if err != nil {
			return "", "", nil, err
		}
		i++
		setParts = append(setParts, col+" = "+ph(i))
		args = append(args, normalizeColumnValue(col, v))
	}
	i++
	whereParts = append(whereParts, "id = "+ph(i))
	args = append(args, id)
	for f, v := range expected {
		col, err := columnFor(f)
		if err != nil {
			return "", "", nil, err
		}
		if v = normalizeColumnValue(col, v); v == nil {
			whereParts = append(whereParts, col+" IS NULL")
			continue
		}
		i++
		whereParts = append(whereParts, col+" = "+ph(i))
		args = append(args, v)
	}
	return strings.Join(setParts, ", "), strings.Join(whereParts, " AND "), args, nil
}

// normalizeColumnValue maps empty strings in nullable text columns to NULL so
// clearing a unique column (restart wipes the email) never collides with
// another cleared row.
func normalizeColumnValue(col string, v any) any {
	if col == "email" || col == "pending_intent" {
		if s, ok := v.(string); ok && s == "" {
			return nil
		}
		if v == nil {
			return nil
		}
	}
	return v
}
