// Package api provides the HTTP surface of Concierge.
//
// It exposes the bridge webhook endpoint and a health check. The webhook
// handler authenticates the delivery, records it in the idempotency ledger,
// and hands fresh events to the message router asynchronously so the bridge
// never waits on model or transport calls.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/conciergelabs/concierge/internal/models"
	"github.com/conciergelabs/concierge/internal/store"
)

const (
	// DefaultAddr is the default listen address for the API server.
	DefaultAddr = ":8080"

	// ReadHeaderTimeout bounds how long a client may take to send headers.
	ReadHeaderTimeout = 10 * time.Second

	// ProcessTimeout bounds the asynchronous handling of one inbound event,
	// covering the model call, action dispatch, and reply delivery.
	ProcessTimeout = 2 * time.Minute

	// SharedSecretHeader carries the webhook shared secret when one is
	// configured.
	SharedSecretHeader = "X-Shared-Secret"
)

// EventRouter processes one normalized inbound event end to end.
type EventRouter interface {
	Route(ctx context.Context, evt models.InboundEvent) error
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr         string
	SharedSecret string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithSharedSecret requires the given secret in the webhook's
// X-Shared-Secret header. An empty secret disables the check.
func WithSharedSecret(secret string) Option {
	return func(o *Opts) { o.SharedSecret = secret }
}

// Server is the Concierge HTTP server.
type Server struct {
	opts   Opts
	events store.EventRepo
	router EventRouter

	httpSrv *http.Server
	wg      sync.WaitGroup
}

// NewServer creates an API server over the given idempotency ledger and
// event router.
func NewServer(events store.EventRepo, router EventRouter, opts ...Option) *Server {
	var o Opts
	for _, opt := range opts {
		opt(&o)
	}
	if o.Addr == "" {
		o.Addr = DefaultAddr
	}
	s := &Server{opts: o, events: events, router: router}
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Get("/healthz", s.healthHandler)
	mux.Post("/webhook", s.webhookHandler)
	s.httpSrv = &http.Server{
		Addr:              o.Addr,
		Handler:           mux,
		ReadHeaderTimeout: ReadHeaderTimeout,
	}
	return s
}

// Run starts the server and blocks until the context is cancelled or the
// listener fails. On cancellation it drains in-flight event processing
// before returning.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.opts.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server.Run: shutdown failed", "error", err)
	}
	s.wg.Wait()
	return nil
}

// Handler returns the server's HTTP handler, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}
