package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/conciergelabs/concierge/internal/directory"
	"github.com/conciergelabs/concierge/internal/models"
)

// callCtx derives the bounded per-call context for one directory operation.
func callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, directory.CallTimeout)
}

// identityColumns is the column list used by every identity select, in the
// order scanIdentity expects.
const identityColumns = `id, phone_number, email, email_verified, onboarding_state, onboarding_completed, mail_linked, calendar_linked, pending_intent, created_at, updated_at`

// columnFor maps a directory field to its column name, rejecting anything
// outside the mutable whitelist so callers cannot smuggle arbitrary SQL.
func columnFor(f directory.Field) (string, error) {
	switch f {
	case directory.FieldEmail, directory.FieldEmailVerified, directory.FieldOnboardingState,
		directory.FieldOnboardingCompleted, directory.FieldPendingIntent:
		return string(f), nil
	default:
		return "", fmt.Errorf("unknown identity field %q", f)
	}
}

// scanIdentity scans a UserIdentity from a single row.
func scanIdentity(row *sql.Row) (*directory.UserIdentity, error) {
	var u directory.UserIdentity
	var email, pendingIntent sql.NullString
	var state string
	err := row.Scan(
		&u.ID, &u.PhoneNumber, &email, &u.EmailVerified, &state, &u.OnboardingCompleted,
		&u.MailLinked, &u.CalendarLinked, &pendingIntent, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan identity failed: %w", err)
	}
	u.Email = email.String
	u.PendingIntent = pendingIntent.String
	u.OnboardingState = models.OnboardingState(state)
	return &u, nil
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
