package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/conciergelabs/concierge/internal/directory"
	"github.com/conciergelabs/concierge/internal/models"
	"github.com/conciergelabs/concierge/internal/util"
)

// InMemoryStore implements directory.Directory and EventRepo entirely in
// memory. It backs tests and local development runs where no database file
// is wanted.
type InMemoryStore struct {
	mu          sync.Mutex
	identities  map[string]*directory.UserIdentity // keyed by identity id
	transcripts map[string]string
	events      map[string]EventRecord
}

var _ directory.Directory = (*InMemoryStore)(nil)
var _ EventRepo = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		identities:  make(map[string]*directory.UserIdentity),
		transcripts: make(map[string]string),
		events:      make(map[string]EventRecord),
	}
}

// FindByPhone returns the identity for a phone number, or nil if absent.
func (s *InMemoryStore) FindByPhone(_ context.Context, phone string) (*directory.UserIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.identities {
		if u.PhoneNumber == phone {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

// FindByEmail returns the identity for a verification email, or nil if absent.
func (s *InMemoryStore) FindByEmail(_ context.Context, email string) (*directory.UserIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if email == "" {
		return nil, nil
	}
	for _, u := range s.identities {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

// CreateWithEmail creates an identity keyed by phone number. Concurrent calls
// for the same phone or email converge on a single record.
func (s *InMemoryStore) CreateWithEmail(_ context.Context, phone, email, guid string) (*directory.UserIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.identities {
		if u.PhoneNumber == phone || (email != "" && u.Email == email) {
			cp := *u
			return &cp, nil
		}
	}
	_ = guid
	now := time.Now().UTC()
	u := &directory.UserIdentity{
		ID:              util.GenerateUserID(),
		PhoneNumber:     phone,
		Email:           email,
		OnboardingState: models.StateNotStarted,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.identities[u.ID] = u
	s.transcripts[u.ID] = ""
	cp := *u
	return &cp, nil
}

// ConditionalUpdate applies updates iff every expected field still holds its
// expected value.
func (s *InMemoryStore) ConditionalUpdate(_ context.Context, id string, expected, updates directory.Fields) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.identities[id]
	if !ok {
		return false, nil
	}
	for f, want := range expected {
		got, err := fieldValue(u, f)
		if err != nil {
			return false, err
		}
		if !fieldEqual(got, want) {
			return false, nil
		}
	}
	for f, v := range updates {
		if err := setField(u, f, v); err != nil {
			return false, err
		}
	}
	u.UpdatedAt = time.Now().UTC()
	return true, nil
}

// GetTranscript returns the stored conversation transcript blob.
func (s *InMemoryStore) GetTranscript(_ context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.identities[id]; !ok {
		return "", fmt.Errorf("identity %s not found", id)
	}
	return s.transcripts[id], nil
}

// SetTranscript replaces the stored conversation transcript blob.
func (s *InMemoryStore) SetTranscript(_ context.Context, id string, transcript string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.identities[id]; !ok {
		return fmt.Errorf("identity %s not found", id)
	}
	s.transcripts[id] = transcript
	return nil
}

// SetIntegrationFlags writes the dashboard-owned integration flags. The real
// directory never writes these from the message path; this exists for local
// development and tests.
func (s *InMemoryStore) SetIntegrationFlags(id string, mail, calendar bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.identities[id]
	if !ok {
		return fmt.Errorf("identity %s not found", id)
	}
	u.MailLinked = mail
	u.CalendarLinked = calendar
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordEvent inserts an inbound event id, reporting whether this call was
// the first to record it.
func (s *InMemoryStore) RecordEvent(eventID, eventType string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[eventID]; ok {
		return false, nil
	}
	s.events[eventID] = EventRecord{
		EventID:    eventID,
		EventType:  eventType,
		ReceivedAt: time.Now().UTC(),
	}
	return true, nil
}

// MarkProcessed stamps an inbound event as fully handled.
func (s *InMemoryStore) MarkProcessed(eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.events[eventID]
	if !ok {
		return fmt.Errorf("event %s not found", eventID)
	}
	now := time.Now().UTC()
	rec.ProcessedAt = &now
	s.events[eventID] = rec
	return nil
}

func fieldValue(u *directory.UserIdentity, f directory.Field) (any, error) {
	switch f {
	case directory.FieldEmail:
		return u.Email, nil
	case directory.FieldEmailVerified:
		return u.EmailVerified, nil
	case directory.FieldOnboardingState:
		return string(u.OnboardingState), nil
	case directory.FieldOnboardingCompleted:
		return u.OnboardingCompleted, nil
	case directory.FieldPendingIntent:
		return u.PendingIntent, nil
	default:
		return nil, fmt.Errorf("unknown identity field %q", f)
	}
}

func setField(u *directory.UserIdentity, f directory.Field, v any) error {
	switch f {
	case directory.FieldEmail:
		s, err := asString(v)
		if err != nil {
			return err
		}
		u.Email = s
	case directory.FieldEmailVerified:
		b, err := asBool(v)
		if err != nil {
			return err
		}
		u.EmailVerified = b
	case directory.FieldOnboardingState:
		s, err := asString(v)
		if err != nil {
			return err
		}
		u.OnboardingState = models.OnboardingState(s)
	case directory.FieldOnboardingCompleted:
		b, err := asBool(v)
		if err != nil {
			return err
		}
		u.OnboardingCompleted = b
	case directory.FieldPendingIntent:
		s, err := asString(v)
		if err != nil {
			return err
		}
		u.PendingIntent = s
	default:
		return fmt.Errorf("unknown identity field %q", f)
	}
	return nil
}

// fieldEqual compares a stored value against an expected one, treating nil
// as "empty": callers express "no email yet" as either nil or "".
func fieldEqual(got, want any) bool {
	if want == nil {
		return got == "" || got == false
	}
	if s, err := asString(want); err == nil {
		g, ok := got.(string)
		return ok && g == s
	}
	if b, err := asBool(want); err == nil {
		g, ok := got.(bool)
		return ok && g == b
	}
	return got == want
}

func asString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case models.OnboardingState:
		return string(t), nil
	default:
		return "", fmt.Errorf("expected string value, got %T", v)
	}
}

func asBool(v any) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return false, fmt.Errorf("expected bool value, got %T", v)
}
