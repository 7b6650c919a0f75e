package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/conciergelabs/concierge/internal/models"
)

// lagDirectory misses the first n lookups, simulating read-after-write lag.
type lagDirectory struct {
	Directory
	misses int
	calls  int
	user   *UserIdentity
}

func (d *lagDirectory) FindByPhone(ctx context.Context, phone string) (*UserIdentity, error) {
	d.calls++
	if d.calls <= d.misses {
		return nil, nil
	}
	return d.user, nil
}

func TestFindByPhoneRetryAbsorbsLag(t *testing.T) {
	dir := &lagDirectory{misses: 2, user: &UserIdentity{ID: "u_1", PhoneNumber: "+15551234567"}}
	got, err := FindByPhoneRetry(context.Background(), dir, "+15551234567")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "u_1" {
		t.Errorf("unexpected user: %+v", got)
	}
	if dir.calls != 3 {
		t.Errorf("expected 3 lookups, got %d", dir.calls)
	}
}

func TestFindByPhoneRetryExhausted(t *testing.T) {
	dir := &lagDirectory{misses: 10}
	_, err := FindByPhoneRetry(context.Background(), dir, "+15551234567")
	if !errors.Is(err, models.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
	if dir.calls != LookupRetryAttempts {
		t.Errorf("expected %d attempts, got %d", LookupRetryAttempts, dir.calls)
	}
}

func TestIntegrationsLinked(t *testing.T) {
	u := &UserIdentity{MailLinked: true}
	if u.IntegrationsLinked() {
		t.Error("one linked integration should not satisfy the predicate")
	}
	u.CalendarLinked = true
	if !u.IntegrationsLinked() {
		t.Error("both linked integrations should satisfy the predicate")
	}
}
