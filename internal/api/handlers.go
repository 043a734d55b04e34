package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/NudgePipe/internal/flow"
	"github.com/BTreeMap/NudgePipe/internal/models"
	"github.com/go-chi/chi/v5"
)

type setGoalRequest struct {
	Goal string `json:"goal"`
	Why  string `json:"why"`
}

type goalRequest struct {
	Goal string `json:"goal"`
}

type checkinHourRequest struct {
	Hour *int `json:"hour"`
}

type startSessionRequest struct {
	Minutes int    `json:"minutes"`
	Goal    string `json:"goal,omitempty"`
}

type finishSessionRequest struct {
	State string `json:"state,omitempty"`
}

type messageRequest struct {
	Text string `json:"text"`
	Name string `json:"name,omitempty"`
}

// userID returns the canonical user ID from the path, writing a 400 when it
// is not a valid recipient.
func (s *Server) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := chi.URLParam(r, "id")
	id, err := s.recipients.ValidateAndCanonicalizeRecipient(raw)
	if err != nil {
		slog.Warn("Server.userID: invalid user id", "id", raw, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return "", false
	}
	return id, true
}

// decodeBody decodes the JSON body, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := decodeJSON(r, v); err != nil {
		slog.Warn("Server.decodeBody: failed to decode JSON", "path", r.URL.Path, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return false
	}
	return true
}

// replyOp runs an engine operation and writes its reply as the result.
func (s *Server) replyOp(w http.ResponseWriter, op string, fn func() (models.Reply, error)) {
	reply, err := fn()
	if err != nil {
		writeEngineError(w, op, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(reply))
}

func (s *Server) setGoalHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	var req setGoalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.replyOp(w, "set_goal", func() (models.Reply, error) {
		return s.engine.SetGoal(r.Context(), userID, req.Goal, req.Why)
	})
}

func (s *Server) setActiveGoalHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	var req goalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.replyOp(w, "set_active_goal", func() (models.Reply, error) {
		return s.engine.SetActiveGoal(r.Context(), userID, req.Goal)
	})
}

func (s *Server) setCheckinHourHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	var req checkinHourRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Hour == nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: hour"))
		return
	}
	s.replyOp(w, "set_checkin_hour", func() (models.Reply, error) {
		return s.engine.SetCheckinHour(r.Context(), userID, *req.Hour)
	})
}

func (s *Server) checkinHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	s.replyOp(w, "manual_checkin", func() (models.Reply, error) {
		return s.engine.ManualCheckin(r.Context(), userID)
	})
}

func (s *Server) startSessionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	var req startSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.replyOp(w, "start_session", func() (models.Reply, error) {
		return s.engine.StartSession(r.Context(), userID, req.Minutes, req.Goal)
	})
}

func (s *Server) finishSessionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	var req finishSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	state, valid := models.ParseTerminalState(req.State)
	if !valid {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("state must be done, timeout or abort"))
		return
	}
	s.replyOp(w, "finish_session", func() (models.Reply, error) {
		return s.engine.FinishSession(r.Context(), userID, state)
	})
}

func (s *Server) overrideHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	var req goalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.replyOp(w, "override", func() (models.Reply, error) {
		return s.engine.Override(r.Context(), userID, req.Goal)
	})
}

// messageHandler accepts chat text, commands or choice tokens, exactly as a
// transport would deliver them.
func (s *Server) messageHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	in := models.Inbound{UserID: userID, Name: req.Name, Action: models.Decode(req.Text)}
	s.replyOp(w, "message", func() (models.Reply, error) {
		return s.engine.Handle(r.Context(), in)
	})
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	stats, err := s.engine.Stats(r.Context(), userID)
	if err != nil {
		writeEngineError(w, "stats", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(stats))
}

func (s *Server) tickHandler(w http.ResponseWriter, r *http.Request) {
	kind, err := flow.ParseTickKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeEngineError(w, "tick", err)
		return
	}
	res, err := s.engine.Tick(context.WithoutCancel(r.Context()), kind)
	if err != nil {
		writeEngineError(w, "tick", err)
		return
	}
	if res.Skipped {
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Tick already running", res))
		return
	}
	slog.Info("Server.tickHandler: tick completed", "kind", kind, "sent", res.Sent, "failed", res.Failed)
	writeJSONResponse(w, http.StatusOK, models.Success(res))
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(s.metrics.Snapshot()))
}

// metricsResetHandler zeroes the counters and returns their values before the reset.
func (s *Server) metricsResetHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Metrics reset", s.metrics.Reset()))
}

// healthHandler provides a health check endpoint for monitoring and load balancing.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"timezone":  s.engine.Location().String(),
	})
}
