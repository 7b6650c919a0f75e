// Package onboarding drives the email-verification state machine for users
// who have not finished setup.
package onboarding

import (
	"regexp"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	otpPattern   = regexp.MustCompile(`\b(\d{6})\b`)

	// intentPattern marks messages that are asking for an action rather
	// than answering an onboarding prompt; an email address inside such a
	// message ("draft an email to bob@x.com") is not an onboarding reply.
	intentPattern = regexp.MustCompile(`(?i)\b(draft|send|schedule|calendar|meeting)\b`)
)

// ExtractEmail finds an email address in free text. It refuses to match when
// the message reads like an action request, so function-call phrasing never
// gets captured as a verification email.
func ExtractEmail(text string) (string, bool) {
	if intentPattern.MatchString(text) {
		return "", false
	}
	m := emailPattern.FindString(text)
	if m == "" {
		return "", false
	}
	return strings.ToLower(m), true
}

// ExtractOTP finds a six-digit verification code in free text.
func ExtractOTP(text string) (string, bool) {
	m := otpPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// IsRestart reports whether the message asks to restart verification.
func IsRestart(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), "restart")
}

// IsResend reports whether the message asks for a new verification code.
func IsResend(text string) bool {
	return strings.Contains(strings.ToLower(text), "resend")
}
