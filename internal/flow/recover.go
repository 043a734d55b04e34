package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/NudgePipe/internal/models"
)

// SessionRecovery summarizes a startup pass over active sessions.
type SessionRecovery struct {
	Scanned int `json:"scanned"`
	Aborted int `json:"aborted"`
	Due     int `json:"due"`
}

// RecoverSessions inspects the ACTIVE sessions left behind by a previous
// process. Sessions whose user profile is gone are aborted. Sessions whose
// next check passed while the process was down are counted as due; the caller
// decides whether to run a session tick right away.
func (e *Engine) RecoverSessions(ctx context.Context) (SessionRecovery, error) {
	var rec SessionRecovery
	sessions, err := e.store.ListActiveSessions()
	if err != nil {
		return rec, fmt.Errorf("failed to list active sessions: %w", err)
	}
	rec.Scanned = len(sessions)

	now := e.now().UTC()
	for i := range sessions {
		if err := ctx.Err(); err != nil {
			return rec, err
		}
		s := sessions[i]
		orphan, err := e.recoverSession(&s)
		if err != nil {
			return rec, err
		}
		if orphan {
			rec.Aborted++
			continue
		}
		if s.NextCheckAt == nil || !now.Before(*s.NextCheckAt) {
			rec.Due++
		}
	}
	slog.Info("Engine.RecoverSessions: done", "scanned", rec.Scanned, "aborted", rec.Aborted, "due", rec.Due)
	return rec, nil
}

// recoverSession aborts s when its owner no longer exists.
func (e *Engine) recoverSession(s *models.Session) (bool, error) {
	defer e.lockUser(s.UserID)()
	profile, err := e.store.GetUser(s.UserID)
	if err != nil {
		return false, fmt.Errorf("failed to load user %s: %w", s.UserID, err)
	}
	if profile != nil {
		return false, nil
	}
	slog.Warn("Engine.RecoverSessions: aborting session without a user", "userID", s.UserID, "sessionID", s.ID)
	if err := e.closeSession(s, models.SessionAborted, "recovered_orphan"); err != nil {
		return false, err
	}
	return true, nil
}
