package api

import (
	"net/http"
	"time"

	"github.com/BTreeMap/NudgePipe/internal/flow"
	"github.com/BTreeMap/NudgePipe/internal/messaging"
	"github.com/BTreeMap/NudgePipe/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// requestTimeout bounds a single API request, including any coach call.
const requestTimeout = 60 * time.Second

// recipientValidator canonicalizes user IDs the way the transport does, so
// API calls and chat messages address the same records.
type recipientValidator interface {
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)
}

// Server serves the HTTP API on top of the engine.
type Server struct {
	engine     *flow.Engine
	recipients recipientValidator
	metrics    *metrics.Metrics
	twilio     *messaging.TwilioService
	now        func() time.Time
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithTwilioService mounts the Twilio inbound webhook. A nil service is ignored.
func WithTwilioService(svc *messaging.TwilioService) ServerOption {
	return func(s *Server) { s.twilio = svc }
}

// NewServer creates a Server.
func NewServer(engine *flow.Engine, recipients recipientValidator, m *metrics.Metrics, opts ...ServerOption) *Server {
	s := &Server{
		engine:     engine,
		recipients: recipients,
		metrics:    m,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.healthHandler)
	if s.twilio != nil {
		r.Post("/webhooks/twilio", s.twilio.WebhookHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Route("/users/{id}", func(r chi.Router) {
			r.Post("/goals", s.setGoalHandler)
			r.Put("/active-goal", s.setActiveGoalHandler)
			r.Put("/checkin-hour", s.setCheckinHourHandler)
			r.Post("/checkins", s.checkinHandler)
			r.Post("/sessions", s.startSessionHandler)
			r.Post("/sessions/finish", s.finishSessionHandler)
			r.Post("/override", s.overrideHandler)
			r.Post("/messages", s.messageHandler)
			r.Get("/stats", s.statsHandler)
		})

		r.Get("/metrics", s.metricsHandler)
		r.Post("/metrics/reset", s.metricsResetHandler)
	})

	// Ticks scan every user and run to completion even if the caller leaves.
	r.Post("/ticks/{kind}", s.tickHandler)
	return r
}
