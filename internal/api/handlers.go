// Package api provides HTTP handlers for Concierge endpoints.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/conciergelabs/concierge/internal/event"
	"github.com/conciergelabs/concierge/internal/models"
)

// maxWebhookBodyBytes bounds how much of a webhook body is read. Bridge
// deliveries are small; anything larger is not a message we handle.
const maxWebhookBodyBytes = 1 << 20

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"service": "concierge"}))
}

// webhookHandler receives one bridge delivery. The raw body bytes are hashed
// before parsing so redeliveries dedupe on exactly what arrived on the wire.
// Fresh events are acknowledged immediately and processed asynchronously;
// the bridge retries on non-2xx, so processing failures still return 200
// once the event is recorded.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if !s.authorized(r) {
		slog.Warn("Server.webhookHandler: shared secret mismatch", "remote", r.RemoteAddr)
		writeJSONResponse(w, http.StatusUnauthorized, models.Error(models.ErrUnauthorized.Error()))
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		slog.Warn("Server.webhookHandler: failed to read body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrInvalidPayload.Error()))
		return
	}

	eventID, err := event.Identify(raw)
	if err != nil {
		slog.Warn("Server.webhookHandler: empty body")
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrInvalidPayload.Error()))
		return
	}

	var payload models.WebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		slog.Warn("Server.webhookHandler: invalid JSON", "error", err, "event_id", eventID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrInvalidPayload.Error()))
		return
	}

	fresh, err := s.events.RecordEvent(eventID, payload.Type)
	if err != nil {
		slog.Error("Server.webhookHandler: failed to record event", "error", err, "event_id", eventID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to record event"))
		return
	}
	if !fresh {
		slog.Debug("Server.webhookHandler: duplicate delivery", "event_id", eventID)
		writeJSONResponse(w, http.StatusOK, models.Duplicate(eventID))
		return
	}

	evt := models.NewInboundEvent(eventID, payload, time.Now())
	s.wg.Add(1)
	go s.processEvent(evt)

	writeJSONResponse(w, http.StatusOK, models.Accepted(eventID, "event accepted"))
}

// processEvent runs the router for one recorded event. Failures are logged;
// the event stays recorded so the bridge's redelivery of the same payload is
// acknowledged as a duplicate rather than processed twice.
func (s *Server) processEvent(evt models.InboundEvent) {
	defer s.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), ProcessTimeout)
	defer cancel()

	if err := s.router.Route(ctx, evt); err != nil {
		slog.Error("Server.processEvent: routing failed", "error", err, "event_id", evt.EventID)
		return
	}
	if err := s.events.MarkProcessed(evt.EventID); err != nil {
		slog.Error("Server.processEvent: failed to mark processed", "error", err, "event_id", evt.EventID)
	}
}

// authorized checks the shared-secret header when a secret is configured.
func (s *Server) authorized(r *http.Request) bool {
	if s.opts.SharedSecret == "" {
		return true
	}
	got := r.Header.Get(SharedSecretHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.SharedSecret)) == 1
}
