package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/conciergelabs/concierge/internal/directory"
	"github.com/conciergelabs/concierge/internal/models"
	"github.com/conciergelabs/concierge/internal/onboarding"
)

// User-facing router replies.
const (
	accountNotFoundReply = "Sorry, I couldn't find your account. Please try again in a moment."
	genericFailureReply  = "Sorry, something went wrong on my end. Please try again."
)

// Onboarder handles messages from users who have not finished verification.
type Onboarder interface {
	Handle(ctx context.Context, user *directory.UserIdentity, text string) ([]string, error)
}

// Conversationalist handles messages from verified users.
type Conversationalist interface {
	Converse(ctx context.Context, user *directory.UserIdentity, message string) ([]string, error)
}

// Router resolves each inbound event to a user and hands it to onboarding or
// conversation, then delivers the replies in order over the transport.
type Router struct {
	dir          directory.Directory
	transport    Transport
	onboarding   Onboarder
	conversation Conversationalist
}

// NewRouter creates a message router.
func NewRouter(dir directory.Directory, transport Transport, ob Onboarder, conv Conversationalist) *Router {
	return &Router{dir: dir, transport: transport, onboarding: ob, conversation: conv}
}

// Route processes one inbound event end to end. Events that are not
// routable (self-originated, wrong type, no sender) are dropped silently;
// handler failures produce an apology reply before the error is returned.
func (r *Router) Route(ctx context.Context, evt models.InboundEvent) error {
	if evt.IsFromSelf {
		slog.Debug("Router.Route: skipping self-originated event", "event_id", evt.EventID)
		return nil
	}
	if evt.EventType != models.EventTypeNewMessage {
		slog.Debug("Router.Route: skipping event type", "event_id", evt.EventID, "event_type", evt.EventType)
		return nil
	}
	if evt.SenderAddress == "" {
		slog.Warn("Router.Route: event has no sender address", "event_id", evt.EventID)
		return nil
	}

	user, err := r.resolveUser(ctx, evt)
	if err != nil {
		slog.Error("Router.Route: failed to resolve user", "event_id", evt.EventID, "error", err)
		r.sendReplies(ctx, evt.ChatRoute, []string{accountNotFoundReply})
		return err
	}

	var replies []string
	if user.Verified() {
		replies, err = r.conversation.Converse(ctx, user, evt.Text)
	} else {
		replies, err = r.onboarding.Handle(ctx, user, evt.Text)
	}
	if err != nil {
		slog.Error("Router.Route: handler failed", "event_id", evt.EventID, "user_id", user.ID, "error", err)
		r.sendReplies(ctx, evt.ChatRoute, []string{genericFailureReply})
		return err
	}
	return r.sendReplies(ctx, evt.ChatRoute, replies)
}

// resolveUser finds the sender's identity, creating one on first contact.
// When the first message already carries an email address it is stored with
// the new identity so onboarding can skip straight to verification.
func (r *Router) resolveUser(ctx context.Context, evt models.InboundEvent) (*directory.UserIdentity, error) {
	user, err := r.dir.FindByPhone(ctx, evt.SenderAddress)
	if err == nil && user != nil {
		return user, nil
	}

	email, _ := onboarding.ExtractEmail(evt.Text)
	if _, err := r.dir.CreateWithEmail(ctx, evt.SenderAddress, email, evt.ChatRoute); err != nil {
		return nil, fmt.Errorf("identity create failed: %w", err)
	}
	// The backing store may lag its own write; retry the lookup.
	return directory.FindByPhoneRetry(ctx, r.dir, evt.SenderAddress)
}

// sendReplies delivers each reply as its own transport call, in order,
// stopping at the first failure. Already-sent replies are not rolled back.
func (r *Router) sendReplies(ctx context.Context, chatRoute string, replies []string) error {
	for i, reply := range replies {
		if reply == "" {
			continue
		}
		if len(reply) > models.MaxReplyTextLength {
			slog.Warn("Router.sendReplies: truncating oversized reply", "length", len(reply))
			reply = reply[:models.MaxReplyTextLength]
		}
		if err := r.transport.SendText(ctx, chatRoute, reply); err != nil {
			return fmt.Errorf("failed to send reply %d of %d: %w", i+1, len(replies), err)
		}
	}
	return nil
}
