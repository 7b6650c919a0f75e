package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/conciergelabs/concierge/internal/actions"
	"github.com/conciergelabs/concierge/internal/directory"
	"github.com/conciergelabs/concierge/internal/genai"
)

// DefaultTokenBudget bounds the transcript sent to the model. Once exceeded,
// the oldest turns are dropped until the total falls to 70% of the budget,
// keeping at least the two most recent turns.
const DefaultTokenBudget = 5000

const truncateTarget = 0.7

// FallbackReply is sent when the model call fails. The user turn stays
// persisted so context survives a transient outage.
const FallbackReply = "I'm sorry, I'm having trouble processing your message right now. Please try again."

// systemPrompt is fixed for every model call. It defines the assistant
// persona and the directive contract the interpreter parses.
const systemPrompt = `You are Concierge, a personal assistant that lives in the user's messages.

You help with email and calendar tasks and with everyday questions. Keep
replies short and conversational: one to three sentences, no markdown
formatting, no bullet lists. Never claim an action happened unless you
requested it with a directive as described below.

When the user asks you to draft an email, send an email, or schedule a
calendar event, reply with your normal short confirmation text followed by
exactly one fenced directive block:

` + "```json" + `
{"function": "DRAFT_EMAIL", "params": {"to": ["a@example.com"], "subject": "...", "body": "..."}}
` + "```" + `

Supported functions:
- DRAFT_EMAIL: params to (list of addresses), subject, body.
- SEND_EMAIL: same params; sends immediately, so only use it when the user clearly asked to send.
- CREATE_CALENDAR_EVENT: params title, start_time (natural language such as "tomorrow at 3pm"), optional duration ("30 minutes", "1 hour").

Emit the block only when the user asked for one of these actions. Never emit
more than one block in a reply.`

// dashboardKeywords trigger the integrations-dashboard shortcut without a
// model call.
var dashboardKeywords = []string{
	"dashboard",
	"integrations",
	"integration link",
	"manage integrations",
	"connect google",
	"connect calendar",
	"link google",
	"link calendar",
}

// ModelClient produces one assistant response for a transcript.
type ModelClient interface {
	Complete(ctx context.Context, systemPrompt string, history []genai.Message) (string, error)
}

// TokenCounter counts model tokens in text.
type TokenCounter interface {
	Count(text string) int
}

// ActionRunner executes a parsed function call.
type ActionRunner interface {
	Dispatch(ctx context.Context, accountID string, call *actions.FunctionCall) actions.Outcome
}

// Opts holds configuration for the conversation manager.
type Opts struct {
	TokenBudget      int
	DashboardBaseURL string
}

// Option configures the conversation manager.
type Option func(*Opts)

// WithTokenBudget overrides the transcript token budget.
func WithTokenBudget(budget int) Option {
	return func(o *Opts) { o.TokenBudget = budget }
}

// WithDashboardBaseURL enables the dashboard-link shortcut.
func WithDashboardBaseURL(url string) Option {
	return func(o *Opts) { o.DashboardBaseURL = strings.TrimRight(url, "/") }
}

// Manager drives one conversation turn for a verified user: transcript
// load, budget truncation, model call, directive dispatch, persistence.
type Manager struct {
	dir     directory.Directory
	model   ModelClient
	counter TokenCounter
	runner  ActionRunner
	opts    Opts
}

// NewManager creates a conversation manager.
func NewManager(dir directory.Directory, model ModelClient, counter TokenCounter, runner ActionRunner, opts ...Option) *Manager {
	cfg := Opts{TokenBudget: DefaultTokenBudget}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Manager{dir: dir, model: model, counter: counter, runner: runner, opts: cfg}
}

// Converse handles one user message and returns the reply texts to send, in
// order. External failures degrade into apology replies rather than errors;
// the error return is reserved for a cancelled context.
func (m *Manager) Converse(ctx context.Context, user *directory.UserIdentity, message string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.opts.DashboardBaseURL != "" && isDashboardRequest(message) {
		return []string{
			fmt.Sprintf("Here's your integrations dashboard: %s/%s", m.opts.DashboardBaseURL, user.ID),
			"You can manage your integrations there",
		}, nil
	}

	turns := m.loadTranscript(ctx, user.ID)
	turns = append(turns, Turn{Role: genai.RoleUser, Content: message})
	m.persist(ctx, user.ID, turns)
	turns = m.truncate(ctx, user.ID, turns)

	history := make([]genai.Message, len(turns))
	for i, t := range turns {
		history[i] = genai.Message{Role: t.Role, Content: t.Content}
	}
	raw, err := m.model.Complete(ctx, systemPrompt, history)
	if err != nil {
		slog.Error("Manager.Converse: model call failed", "user_id", user.ID, "error", err)
		return []string{FallbackReply}, nil
	}

	cleaned, call := actions.Interpret(raw)
	var replies []string
	if cleaned != "" {
		replies = append(replies, cleaned)
	}
	assistantContent := raw
	if call != nil {
		outcome := m.runner.Dispatch(ctx, user.ID, call)
		if outcome.Summary != "" {
			replies = append(replies, outcome.Summary)
			assistantContent = raw + "\n" + outcome.Summary
		}
	}

	turns = append(turns, Turn{Role: genai.RoleAssistant, Content: assistantContent})
	m.persist(ctx, user.ID, turns)

	if len(replies) == 0 {
		slog.Warn("Manager.Converse: model returned empty reply", "user_id", user.ID)
		return []string{FallbackReply}, nil
	}
	return replies, nil
}

// loadTranscript re-reads the durable transcript; a read failure starts the
// turn from an empty history rather than failing the message.
func (m *Manager) loadTranscript(ctx context.Context, userID string) []Turn {
	stored, err := m.dir.GetTranscript(ctx, userID)
	if err != nil {
		slog.Warn("Manager.loadTranscript: read failed, starting empty", "user_id", userID, "error", err)
		return nil
	}
	return Parse(stored)
}

// persist writes the transcript back. Persistence is best effort per turn;
// a failed write costs at most one turn of context.
func (m *Manager) persist(ctx context.Context, userID string, turns []Turn) {
	if err := m.dir.SetTranscript(ctx, userID, Serialize(turns)); err != nil {
		slog.Error("Manager.persist: transcript write failed", "user_id", userID, "error", err)
	}
}

// truncate drops oldest turns once the budget is exceeded, down to 70% of
// the budget but never below the two most recent turns, and persists the
// truncated transcript before the model call.
func (m *Manager) truncate(ctx context.Context, userID string, turns []Turn) []Turn {
	total := 0
	for _, t := range turns {
		total += m.counter.Count(t.Content)
	}
	if total <= m.opts.TokenBudget {
		return turns
	}
	target := int(float64(m.opts.TokenBudget) * truncateTarget)
	dropped := 0
	for total > target && len(turns) > 2 {
		total -= m.counter.Count(turns[0].Content)
		turns = turns[1:]
		dropped++
	}
	slog.Info("Manager.truncate: transcript truncated", "user_id", userID, "dropped_turns", dropped, "remaining_tokens", total)
	m.persist(ctx, userID, turns)
	return turns
}

func isDashboardRequest(message string) bool {
	lower := strings.ToLower(strings.TrimSpace(message))
	for _, kw := range dashboardKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
