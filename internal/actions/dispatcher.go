package actions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Dispatcher validates parsed function calls and executes them through the
// action provider. Failures are folded into the Outcome summary; a bad
// directive or an unhappy provider never escalates past the reply text.
type Dispatcher struct {
	provider Provider
	validate *validator.Validate
	now      func() time.Time
}

// NewDispatcher creates a dispatcher over the given action provider.
func NewDispatcher(provider Provider) *Dispatcher {
	return &Dispatcher{
		provider: provider,
		validate: validator.New(),
		now:      time.Now,
	}
}

// Dispatch executes one function call on behalf of the given account.
func (d *Dispatcher) Dispatch(ctx context.Context, accountID string, call *FunctionCall) Outcome {
	slog.Info("Dispatcher.Dispatch: executing function call", "function", call.Function, "account_id", accountID)
	switch call.Function {
	case FunctionDraftEmail:
		return d.draftEmail(ctx, accountID, call)
	case FunctionSendEmail:
		return d.sendEmail(ctx, accountID, call)
	case FunctionCreateCalendarEvent:
		return d.createCalendarEvent(ctx, accountID, call)
	default:
		return failure(fmt.Sprintf("I don't know how to do that (%s)", call.Function))
	}
}

func (d *Dispatcher) draftEmail(ctx context.Context, accountID string, call *FunctionCall) Outcome {
	var p DraftEmailParams
	if err := d.decodeAndValidate(call, &p); err != nil {
		return failure(fmt.Sprintf("I couldn't draft that email: %v", err))
	}
	msg, err := d.provider.CreateDraft(ctx, accountID, p.To, p.Subject, p.Body)
	if err != nil {
		return failure(fmt.Sprintf("I couldn't create the draft: %v", err))
	}
	if msg == "" {
		msg = fmt.Sprintf("Email draft created to %s with subject '%s'", strings.Join(p.To, ", "), p.Subject)
	}
	return success(msg)
}

func (d *Dispatcher) sendEmail(ctx context.Context, accountID string, call *FunctionCall) Outcome {
	var p SendEmailParams
	if err := d.decodeAndValidate(call, &p); err != nil {
		return failure(fmt.Sprintf("I couldn't send that email: %v", err))
	}
	msg, err := d.provider.SendEmail(ctx, accountID, p.To, p.Subject, p.Body)
	if err != nil {
		return failure(fmt.Sprintf("I couldn't send the email: %v", err))
	}
	if msg == "" {
		msg = fmt.Sprintf("Email sent to %s with subject '%s'", strings.Join(p.To, ", "), p.Subject)
	}
	return success(msg)
}

func (d *Dispatcher) createCalendarEvent(ctx context.Context, accountID string, call *FunctionCall) Outcome {
	var p CreateCalendarEventParams
	if err := d.decodeAndValidate(call, &p); err != nil {
		return failure(fmt.Sprintf("I couldn't schedule that: %v", err))
	}
	start, dur := ResolveEventTime(p.StartTime, p.Duration, d.now())
	msg, err := d.provider.CreateCalendarEvent(ctx, accountID, p.Title, start, start.Add(dur))
	if err != nil {
		return failure(fmt.Sprintf("I couldn't create the event: %v", err))
	}
	if msg == "" {
		msg = fmt.Sprintf("Calendar event '%s' created for %s", p.Title, start.Format("January 2 at 3:04 PM"))
	}
	return success(msg)
}

func (d *Dispatcher) decodeAndValidate(call *FunctionCall, dst any) error {
	if err := decodeParams(call.Params, dst); err != nil {
		return err
	}
	if err := d.validate.Struct(dst); err != nil {
		return fmt.Errorf("missing or invalid arguments: %w", err)
	}
	return nil
}

func success(summary string) Outcome {
	return Outcome{Success: true, Summary: summary}
}

func failure(summary string) Outcome {
	slog.Warn("Dispatcher: function call failed", "summary", summary)
	return Outcome{Success: false, Summary: summary}
}
