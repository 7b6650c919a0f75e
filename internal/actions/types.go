// Package actions parses function-call directives out of model output and
// dispatches them to the external action provider.
package actions

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Supported function names. Anything else in a directive block is ignored.
const (
	FunctionDraftEmail          = "DRAFT_EMAIL"
	FunctionSendEmail           = "SEND_EMAIL"
	FunctionCreateCalendarEvent = "CREATE_CALENDAR_EVENT"
)

// FunctionCall is one parsed directive: a known function name plus its raw
// params object. Params stay undecoded until dispatch so that interpretation
// never fails on bad arguments, only on bad JSON.
type FunctionCall struct {
	Function string          `json:"function"`
	Params   json.RawMessage `json:"params"`
}

// DraftEmailParams are the arguments for DRAFT_EMAIL.
type DraftEmailParams struct {
	To      []string `json:"to" validate:"required,min=1,dive,email"`
	Subject string   `json:"subject" validate:"required"`
	Body    string   `json:"body" validate:"required"`
}

// SendEmailParams are the arguments for SEND_EMAIL.
type SendEmailParams struct {
	To      []string `json:"to" validate:"required,min=1,dive,email"`
	Subject string   `json:"subject" validate:"required"`
	Body    string   `json:"body" validate:"required"`
}

// CreateCalendarEventParams are the arguments for CREATE_CALENDAR_EVENT.
// StartTime and Duration hold natural-language expressions resolved at
// dispatch time.
type CreateCalendarEventParams struct {
	Title     string `json:"title" validate:"required"`
	StartTime string `json:"start_time"`
	Duration  string `json:"duration"`
}

// Outcome is the user-visible result of executing one function call.
type Outcome struct {
	Success bool
	Summary string
	Data    json.RawMessage
}

// decodeParams decodes raw params into dst, rejecting unknown fields so a
// misspelled argument is caught rather than silently dropped.
func decodeParams(raw json.RawMessage, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}
