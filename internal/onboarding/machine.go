package onboarding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/conciergelabs/concierge/internal/auth"
	"github.com/conciergelabs/concierge/internal/directory"
	"github.com/conciergelabs/concierge/internal/models"
)

// User-facing onboarding replies.
const (
	welcomePrompt = "👋 Welcome! To get started, I need to verify your email address.\n\n" +
		"Please reply with your email address and I'll send you a verification code."
	invalidEmailPrompt = "❌ Please provide a valid email address. Example: your.email@example.com"
	invalidCodePrompt  = "❌ Please enter the 6-digit verification code from your email. Example: 123456"
	wrongCodePrompt    = "❌ Invalid verification code. Please check your email and try again."
	otpSendFailed      = "❌ Sorry, I couldn't send the verification email. Please try again later."
	otpVerifyFailed    = "❌ Sorry, there was an error verifying your code. Please try again."
	restartedPrompt    = "🔄 Verification restarted.\n\n" + welcomePrompt
)

// Opts holds configuration for the onboarding machine.
type Opts struct {
	DashboardBaseURL string
}

// Option configures the onboarding machine.
type Option func(*Opts)

// WithDashboardBaseURL sets the integrations dashboard base URL used in
// post-verification prompts.
func WithDashboardBaseURL(url string) Option {
	return func(o *Opts) { o.DashboardBaseURL = strings.TrimRight(url, "/") }
}

// Machine advances one user through email verification. Every state write
// goes through a conditional update so concurrent webhooks for the same user
// cannot double-apply a transition.
type Machine struct {
	dir  directory.Directory
	otp  auth.Provider
	opts Opts
}

// NewMachine creates an onboarding machine.
func NewMachine(dir directory.Directory, otp auth.Provider, opts ...Option) *Machine {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Machine{dir: dir, otp: otp, opts: cfg}
}

// Handle processes one message from an unverified user and returns the
// replies to send.
func (m *Machine) Handle(ctx context.Context, user *directory.UserIdentity, text string) ([]string, error) {
	if IsRestart(text) {
		return m.restart(ctx, user)
	}

	switch user.OnboardingState {
	case models.StateNotStarted:
		return m.handleNotStarted(ctx, user, text)
	case models.StateAwaitingEmail:
		return m.handleAwaitingEmail(ctx, user, text)
	case models.StateAwaitingEmailOTP:
		return m.handleAwaitingOTP(ctx, user, text)
	case models.StateAwaitingIntegrations:
		return m.handleAwaitingIntegrations(ctx, user)
	case models.StateCompleted:
		return []string{m.dashboardPrompt(user)}, nil
	default:
		slog.Warn("Machine.Handle: unknown onboarding state, restarting", "user_id", user.ID, "state", user.OnboardingState)
		return m.restart(ctx, user)
	}
}

func (m *Machine) handleNotStarted(ctx context.Context, user *directory.UserIdentity, text string) ([]string, error) {
	if email, ok := ExtractEmail(text); ok {
		return m.sendCodeAndAdvance(ctx, user, email)
	}
	if err := m.transition(ctx, user, models.StateAwaitingEmail, nil); err != nil {
		return nil, err
	}
	return []string{welcomePrompt}, nil
}

func (m *Machine) handleAwaitingEmail(ctx context.Context, user *directory.UserIdentity, text string) ([]string, error) {
	email, ok := ExtractEmail(text)
	if !ok {
		return []string{invalidEmailPrompt}, nil
	}
	return m.sendCodeAndAdvance(ctx, user, email)
}

func (m *Machine) handleAwaitingOTP(ctx context.Context, user *directory.UserIdentity, text string) ([]string, error) {
	// A fresh email overrides the pending code.
	if email, ok := ExtractEmail(text); ok {
		return m.sendCodeAndAdvance(ctx, user, email)
	}
	if user.Email == "" {
		// Should not happen, but recoverable: start over.
		slog.Error("Machine.handleAwaitingOTP: no stored email, restarting", "user_id", user.ID)
		return m.restart(ctx, user)
	}
	if IsResend(text) {
		if err := m.otp.SendEmailOTP(ctx, user.Email); err != nil {
			slog.Error("Machine.handleAwaitingOTP: resend failed", "user_id", user.ID, "error", err)
			return []string{otpSendFailed}, nil
		}
		return []string{fmt.Sprintf("📧 I've sent a new verification code to %s.", user.Email)}, nil
	}

	code, ok := ExtractOTP(text)
	if !ok {
		return []string{invalidCodePrompt}, nil
	}
	verified, err := m.otp.VerifyEmailOTP(ctx, user.Email, code)
	if err != nil {
		slog.Error("Machine.handleAwaitingOTP: verify failed", "user_id", user.ID, "error", err)
		return []string{otpVerifyFailed}, nil
	}
	if !verified {
		return []string{wrongCodePrompt}, nil
	}

	err = m.transitionExpecting(ctx, user,
		directory.Fields{
			directory.FieldOnboardingState: string(models.StateAwaitingEmailOTP),
			directory.FieldEmailVerified:   false,
		},
		directory.Fields{
			directory.FieldOnboardingState: string(models.StateAwaitingIntegrations),
			directory.FieldEmailVerified:   true,
		},
		models.StateAwaitingIntegrations)
	if err != nil {
		return nil, err
	}
	return []string{
		"✅ Email verified successfully! Your account is now active.",
		fmt.Sprintf("🔗 Access your integrations dashboard: %s\n\nComplete your setup there to start using the service.", m.dashboardURL(user)),
	}, nil
}

func (m *Machine) handleAwaitingIntegrations(ctx context.Context, user *directory.UserIdentity) ([]string, error) {
	if !user.IntegrationsLinked() {
		return []string{m.dashboardPrompt(user)}, nil
	}
	err := m.transitionExpecting(ctx, user,
		directory.Fields{directory.FieldOnboardingState: string(models.StateAwaitingIntegrations)},
		directory.Fields{
			directory.FieldOnboardingState:     string(models.StateCompleted),
			directory.FieldOnboardingCompleted: true,
		},
		models.StateCompleted)
	if err != nil {
		return nil, err
	}
	return []string{"🎉 You're all set! Your integrations are connected — ask me anything."}, nil
}

// sendCodeAndAdvance stores the email and moves to awaiting_email_otp, but
// only after the code actually went out. A failed send leaves state alone so
// the next message retries.
func (m *Machine) sendCodeAndAdvance(ctx context.Context, user *directory.UserIdentity, email string) ([]string, error) {
	if err := m.otp.SendEmailOTP(ctx, email); err != nil {
		slog.Error("Machine.sendCodeAndAdvance: otp send failed", "user_id", user.ID, "error", err)
		return []string{otpSendFailed}, nil
	}
	err := m.transition(ctx, user, models.StateAwaitingEmailOTP, directory.Fields{
		directory.FieldEmail:         email,
		directory.FieldEmailVerified: false,
	})
	if err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf("📧 Perfect! I've sent a verification code to %s.\n\n"+
		"Please check your email and reply with the 6-digit code you received.", email)}, nil
}

func (m *Machine) restart(ctx context.Context, user *directory.UserIdentity) ([]string, error) {
	err := m.transitionExpecting(ctx, user,
		directory.Fields{directory.FieldOnboardingState: string(user.OnboardingState)},
		directory.Fields{
			directory.FieldOnboardingState: string(models.StateAwaitingEmail),
			directory.FieldEmail:           "",
			directory.FieldEmailVerified:   false,
		},
		models.StateAwaitingEmail)
	if err != nil {
		return nil, err
	}
	return []string{restartedPrompt}, nil
}

// transition moves the user from their observed state to next, carrying any
// extra field updates.
func (m *Machine) transition(ctx context.Context, user *directory.UserIdentity, next models.OnboardingState, extra directory.Fields) error {
	updates := directory.Fields{directory.FieldOnboardingState: string(next)}
	for f, v := range extra {
		updates[f] = v
	}
	return m.transitionExpecting(ctx, user,
		directory.Fields{directory.FieldOnboardingState: string(user.OnboardingState)},
		updates, next)
}

// transitionExpecting performs the conditional update and reconciles a
// refused write by re-reading: a record already in the post-state means a
// concurrent webhook beat us and the transition is a no-op; anything else is
// a real conflict.
func (m *Machine) transitionExpecting(ctx context.Context, user *directory.UserIdentity, expected, updates directory.Fields, next models.OnboardingState) error {
	applied, err := m.dir.ConditionalUpdate(ctx, user.ID, expected, updates)
	if err != nil {
		return fmt.Errorf("transition to %s failed: %w", next, err)
	}
	if applied {
		slog.Debug("Machine.transitionExpecting: transition applied", "user_id", user.ID, "next", next)
		return nil
	}
	current, err := m.dir.FindByPhone(ctx, user.PhoneNumber)
	if err != nil {
		return fmt.Errorf("transition to %s re-read failed: %w", next, err)
	}
	if current == nil {
		return fmt.Errorf("transition to %s re-read: %w", next, models.ErrUserNotFound)
	}
	if current.OnboardingState == next {
		slog.Debug("Machine.transitionExpecting: transition already applied", "user_id", user.ID, "next", next)
		return nil
	}
	slog.Warn("Machine.transitionExpecting: state conflict", "user_id", user.ID, "observed", user.OnboardingState, "stored", current.OnboardingState, "next", next)
	return fmt.Errorf("expected %s, found %s: %w", next, current.OnboardingState, models.ErrStateConflict)
}

func (m *Machine) dashboardURL(user *directory.UserIdentity) string {
	if m.opts.DashboardBaseURL == "" {
		return ""
	}
	return m.opts.DashboardBaseURL + "/" + user.ID
}

func (m *Machine) dashboardPrompt(user *directory.UserIdentity) string {
	if url := m.dashboardURL(user); url != "" {
		return "🔗 Almost there! Connect your mail and calendar here:\n\n" + url
	}
	return "🔗 Almost there! Connect your mail and calendar from your integrations dashboard."
}
