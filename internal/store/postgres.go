package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	_ "embed"

	"github.com/conciergelabs/concierge/internal/directory"
	"github.com/conciergelabs/concierge/internal/util"
	_ "github.com/lib/pq"
)

const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore implements directory.Directory and EventRepo on Postgres.
type PostgresStore struct {
	db *sql.DB
}

var _ directory.Directory = (*PostgresStore)(nil)
var _ EventRepo = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("PostgresStore failed to open connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("PostgresStore ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("PostgresStore failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("PostgresStore initialized")
	return &PostgresStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// FindByPhone returns the identity for a phone number, or nil if absent.
func (s *PostgresStore) FindByPhone(ctx context.Context, phone string) (*directory.UserIdentity, error) {
	ctx, cancel := callCtx(ctx)
	defer cancel()
	row := s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM user_identities WHERE phone_number = $1`, phone)
	return scanIdentity(row)
}

// FindByEmail returns the identity for a verification email, or nil if absent.
func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*directory.UserIdentity, error) {
	ctx, cancel := callCtx(ctx)
	defer cancel()
	row := s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM user_identities WHERE email = $1`, email)
	return scanIdentity(row)
}

// CreateWithEmail creates an identity keyed by phone number. Duplicate phone
// or email inserts are ignored and resolved to the existing row.
func (s *PostgresStore) CreateWithEmail(ctx context.Context, phone, email, guid string) (*directory.UserIdentity, error) {
	id := util.GenerateUserID()
	insertCtx, cancel := callCtx(ctx)
	defer cancel()
	_, err := s.db.ExecContext(insertCtx,
		`INSERT INTO user_identities (id, phone_number, guid, email) VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
		id, phone, nilIfEmpty(guid), nilIfEmpty(email))
	if err != nil {
		slog.Error("PostgresStore.CreateWithEmail: insert failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}
	user, err := s.FindByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if user == nil && email != "" {
		user, err = s.FindByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
	}
	if user == nil {
		return nil, fmt.Errorf("identity not found after create: phone %s", phone)
	}
	return user, nil
}

// ConditionalUpdate applies updates iff every expected field still holds its
// expected value. It returns false when the precondition no longer held.
func (s *PostgresStore) ConditionalUpdate(ctx context.Context, id string, expected, updates directory.Fields) (bool, error) {
	set, where, args, err := buildConditionalUpdate(id, expected, updates, postgresPlaceholder)
	if err != nil {
		return false, err
	}
	ctx, cancel := callCtx(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_identities SET `+set+`, updated_at = NOW() WHERE `+where, args...)
	if err != nil {
		slog.Error("PostgresStore.ConditionalUpdate: update failed", "error", err, "id", id)
		return false, fmt.Errorf("conditional update failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetTranscript returns the stored conversation transcript blob.
func (s *PostgresStore) GetTranscript(ctx context.Context, id string) (string, error) {
	ctx, cancel := callCtx(ctx)
	defer cancel()
	var transcript string
	err := s.db.QueryRowContext(ctx,
		`SELECT transcript FROM user_identities WHERE id = $1`, id).Scan(&transcript)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("identity %s not found", id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load transcript: %w", err)
	}
	return transcript, nil
}

// SetTranscript replaces the stored conversation transcript blob.
func (s *PostgresStore) SetTranscript(ctx context.Context, id string, transcript string) error {
	ctx, cancel := callCtx(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_identities SET transcript = $1, updated_at = NOW() WHERE id = $2`, transcript, id)
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
// the first to record it.
func (s *PostgresStore) RecordEvent(eventID, eventType string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT INTO inbound_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT DO NOTHING`, eventID, eventType)
	if err != nil {
		slog.Error("PostgresStore.RecordEvent: insert failed", "error", err, "event_id", eventID)
		return false, fmt.Errorf("failed to record event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkProcessed stamps an inbound event as fully handled.
func (s *PostgresStore) MarkProcessed(eventID string) error {
	_, err := s.db.Exec(
		`UPDATE inbound_events SET processed_at = NOW() WHERE event_id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

func postgresPlaceholder(i int) string { return "$" + strconv.Itoa(i) }
