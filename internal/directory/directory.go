// Package directory defines the User Directory boundary: lookup, creation,
// and conditional update of user identities, plus transcript persistence.
//
// The directory owns every UserIdentity record. The rest of the service only
// reads records and requests updates through this interface; it never holds a
// private copy across calls that might race with a concurrent webhook.
package directory

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/conciergelabs/concierge/internal/models"
)

// Field names a mutable column of a UserIdentity record. Conditional updates
// express both their precondition and their changes as Field-keyed maps so
// the storage layer can compile them into a single guarded write.
type Field string

const (
	FieldEmail               Field = "email"
	FieldEmailVerified       Field = "email_verified"
	FieldOnboardingState     Field = "onboarding_state"
	FieldOnboardingCompleted Field = "onboarding_completed"
	FieldPendingIntent       Field = "pending_intent"
)

// Fields maps field names to desired (or expected) values.
type Fields map[Field]any

// UserIdentity is one authenticated end user as stored by the directory.
type UserIdentity struct {
	ID                  string                 `json:"id"`
	PhoneNumber         string                 `json:"phone_number"`
	Email               string                 `json:"email,omitempty"`
	EmailVerified       bool                   `json:"email_verified"`
	OnboardingState     models.OnboardingState `json:"onboarding_state"`
	OnboardingCompleted bool                   `json:"onboarding_completed"`
	MailLinked          bool                   `json:"mail_linked"`
	CalendarLinked      bool                   `json:"calendar_linked"`
	PendingIntent       string                 `json:"pending_intent,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
	UpdatedAt           time.Time              `json:"updated_at"`
}

// IntegrationsLinked reports whether both required external integrations have
// been connected. The flags are written by the dashboard, never derived here.
func (u *UserIdentity) IntegrationsLinked() bool {
	return u.MailLinked && u.CalendarLinked
}

// Verified reports whether the user may be routed to the conversation flow.
func (u *UserIdentity) Verified() bool {
	return u.EmailVerified && u.OnboardingCompleted
}

// Directory is the external auth+profile store consumed by the core.
type Directory interface {
	// FindByPhone returns the identity for a phone number, or nil if absent.
	FindByPhone(ctx context.Context, phone string) (*UserIdentity, error)

	// FindByEmail returns the identity for a verification email, or nil if absent.
	FindByEmail(ctx context.Context, email string) (*UserIdentity, error)

	// CreateWithEmail creates an identity keyed by phone. It is idempotent:
	// if the phone or email already exists, the existing identity is returned
	// rather than an error, so concurrent first-contact webhooks converge on
	// one record.
	CreateWithEmail(ctx context.Context, phone, email, guid string) (*UserIdentity, error)

	// ConditionalUpdate applies updates iff every expected field still holds
	// its expected value. It returns false, without error, when the
	// precondition did not hold.
	ConditionalUpdate(ctx context.Context, id string, expected, updates Fields) (bool, error)

	// GetTranscript returns the stored conversation transcript blob.
	GetTranscript(ctx context.Context, id string) (string, error)

	// SetTranscript replaces the stored conversation transcript blob.
	SetTranscript(ctx context.Context, id string, transcript string) error
}

// CallTimeout bounds any single directory call. Storage backends derive a
// per-call context from it so a stalled database never blocks a webhook for
// longer than the budget.
const CallTimeout = 10 * time.Second

// Retry parameters for phone lookups issued immediately after identity
// creation, which may observe read-after-write lag in the backing store.
const (
	LookupRetryAttempts  = 3
	LookupRetryBaseDelay = 100 * time.Millisecond
)

// FindByPhoneRetry looks up a phone number with bounded exponential backoff,
// absorbing read-after-write lag. It returns models.ErrUserNotFound once the
// attempts are exhausted.
func FindByPhoneRetry(ctx context.Context, dir Directory, phone string) (*UserIdentity, error) {
	delay := LookupRetryBaseDelay
	var lastErr error
	for attempt := 1; attempt <= LookupRetryAttempts; attempt++ {
		user, err := dir.FindByPhone(ctx, phone)
		if err == nil && user != nil {
			return user, nil
		}
		lastErr = err
		slog.Debug("directory.FindByPhoneRetry: lookup missed", "phone", phone, "attempt", attempt, "error", err)
		if attempt == LookupRetryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	if lastErr != nil {
		return nil, errors.Join(models.ErrUserNotFound, lastErr)
	}
	return nil, models.ErrUserNotFound
}
