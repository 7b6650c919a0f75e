// Package models defines onboarding state structures for Concierge.
package models

// OnboardingState represents a user's position in the verification workflow.
type OnboardingState string

const (
	// StateNotStarted means the user has never been prompted for an email.
	StateNotStarted OnboardingState = "not_started"
	// StateAwaitingEmail means the user has been asked for their email address.
	StateAwaitingEmail OnboardingState = "awaiting_email"
	// StateAwaitingEmailOTP means a verification code was sent and is pending.
	StateAwaitingEmailOTP OnboardingState = "awaiting_email_otp"
	// StateAwaitingIntegrations means the email is verified but the external
	// integrations have not both been linked yet.
	StateAwaitingIntegrations OnboardingState = "awaiting_integrations"
	// StateCompleted means onboarding is finished and conversation is unlocked.
	StateCompleted OnboardingState = "completed"
)

// IsValidOnboardingState checks if the given state is one of the workflow states.
func IsValidOnboardingState(s OnboardingState) bool {
	switch s {
	case StateNotStarted, StateAwaitingEmail, StateAwaitingEmailOTP, StateAwaitingIntegrations, StateCompleted:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the state accepts no further onboarding input.
func (s OnboardingState) IsTerminal() bool {
	return s == StateCompleted
}
