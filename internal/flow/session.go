package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/BTreeMap/NudgePipe/internal/models"
	"github.com/google/uuid"
)

// StartSession opens a timeboxed focus session. An ACTIVE session already
// running for the user is aborted first.
func (e *Engine) StartSession(ctx context.Context, userID string, minutes int, goal string) (models.Reply, error) {
	defer e.lockUser(userID)()
	if minutes < MinTimeboxMinutes || minutes > MaxTimeboxMinutes {
		return models.Reply{}, models.NewValidationError("minutes", msgUsageFocus)
	}
	goal = models.NormalizeGoalName(goal)
	if goal == "" {
		p, err := e.profile(userID)
		if err != nil {
			return models.Reply{}, err
		}
		g, err := e.activeGoal(p)
		if err != nil {
			return models.Reply{}, err
		}
		if g == nil {
			return models.Reply{}, models.NewValidationError("goal", msgSetGoalFirst)
		}
		goal = g.Name
	}

	prev, err := e.store.ActiveSession(userID)
	if err != nil {
		return models.Reply{}, fmt.Errorf("failed to load active session: %w", err)
	}
	if prev != nil {
		if err := e.closeSession(prev, models.SessionAborted, "superseded"); err != nil {
			return models.Reply{}, err
		}
		slog.Info("Engine.StartSession: previous session aborted", "userID", userID, "sessionID", prev.ID)
	}

	now := e.now().UTC()
	next := now.Add(StartCheckInterval)
	s := models.Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		Goal:           goal,
		State:          models.SessionActive,
		TimeboxMinutes: minutes,
		StartedAt:      now,
		EndsAt:         now.Add(time.Duration(minutes) * time.Minute),
		NextCheckAt:    &next,
		UpdatedAt:      now,
	}
	if err := e.store.SaveSession(s); err != nil {
		return models.Reply{}, fmt.Errorf("failed to save session: %w", err)
	}
	if err := e.logEvent(userID, models.EventSessionStart, map[string]string{
		"session_id": s.ID,
		"goal":       goal,
		"minutes":    strconv.Itoa(minutes),
	}); err != nil {
		return models.Reply{}, err
	}
	slog.Info("Engine.StartSession: session started", "userID", userID, "sessionID", s.ID, "goal", goal, "minutes", minutes)
	return models.TextReply(sessionStartedText(s, e.loc)), nil
}

// FinishSession ends the active session in the given terminal state.
func (e *Engine) FinishSession(ctx context.Context, userID string, state models.SessionState) (models.Reply, error) {
	defer e.lockUser(userID)()
	if !state.IsTerminal() {
		return models.Reply{}, models.NewValidationError("state", msgUsageFinish)
	}
	s, err := e.requireActiveSession(userID)
	if err != nil {
		return models.Reply{}, err
	}
	if err := e.closeSession(s, state, ""); err != nil {
		return models.Reply{}, err
	}
	return models.TextReply(sessionFinishedText(*s)), nil
}

// SessionReply applies an answer to one of the session prompts.
func (e *Engine) SessionReply(ctx context.Context, userID string, reply models.SessionReply) (models.Reply, error) {
	defer e.lockUser(userID)()
	s, err := e.requireActiveSession(userID)
	if err != nil {
		return models.Reply{}, err
	}
	if err := e.logEvent(userID, models.EventGeneric, map[string]string{
		"session": s.ID,
		"reply":   string(reply),
	}); err != nil {
		return models.Reply{}, err
	}

	now := e.now().UTC()
	var text string
	switch reply {
	case models.SessionStartYes:
		s.StartedConfirmed = true
		s.NextCheckAt = timePtr(now.Add(NudgeInterval))
		text = msgSessionStartYes
	case models.SessionStartNo:
		s.NextCheckAt = timePtr(now.Add(StartCheckInterval))
		text = msgSessionStartNo
	case models.SessionStillYes:
		s.StartedConfirmed = true
		s.NextCheckAt = timePtr(now.Add(NudgeInterval))
		text = msgSessionStillYes
	case models.SessionStillNo:
		s.NextCheckAt = timePtr(now.Add(StartCheckInterval))
		text = fmt.Sprintf(msgSessionStillNo, s.Goal)
	case models.SessionCompleteYes:
		if err := e.closeSession(s, models.SessionDone, ""); err != nil {
			return models.Reply{}, err
		}
		return models.TextReply(sessionFinishedText(*s)), nil
	case models.SessionCompleteNo:
		s.AskedCompletion = true
		s.NextCheckAt = timePtr(now.Add(StartCheckInterval))
		text = msgSessionCompleteNo
	default:
		return models.Reply{}, fmt.Errorf("%w: session reply %q", models.ErrUnknownToken, reply)
	}
	s.UpdatedAt = now
	if err := e.store.SaveSession(*s); err != nil {
		return models.Reply{}, fmt.Errorf("failed to save session %s: %w", s.ID, err)
	}
	return models.TextReply(text), nil
}

func (e *Engine) requireActiveSession(userID string) (*models.Session, error) {
	s, err := e.store.ActiveSession(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active session: %w", err)
	}
	if s == nil {
		return nil, models.NewNotFoundError("session", "", msgNoActiveSession)
	}
	return s, nil
}

// closeSession moves s to a terminal state, saves it and logs session_finish.
// DONE also pulls EndsAt back to now.
func (e *Engine) closeSession(s *models.Session, state models.SessionState, reason string) error {
	now := e.now().UTC()
	s.State = state
	if state == models.SessionDone {
		s.EndsAt = now
	}
	s.NextCheckAt = nil
	s.UpdatedAt = now
	if err := e.store.SaveSession(*s); err != nil {
		return fmt.Errorf("failed to save session %s: %w", s.ID, err)
	}
	payload := map[string]string{
		"session_id": s.ID,
		"goal":       s.Goal,
		"state":      string(state),
	}
	if reason != "" {
		payload["reason"] = reason
	}
	return e.logEvent(s.UserID, models.EventSessionFinish, payload)
}

func timePtr(t time.Time) *time.Time {
	return &t
}
