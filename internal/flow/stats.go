package flow

import (
	"context"
	"fmt"

	"github.com/BTreeMap/NudgePipe/internal/models"
)

// Stats builds the progress read model for a user.
func (e *Engine) Stats(ctx context.Context, userID string) (*models.Stats, error) {
	p, err := e.profile(userID)
	if err != nil {
		return nil, err
	}
	goals, err := e.store.CountGoals(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count goals: %w", err)
	}
	st, err := e.userState(userID)
	if err != nil {
		return nil, err
	}
	active, err := e.store.ActiveSession(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active session: %w", err)
	}
	recent, err := e.store.RecentEvents(userID, StatsRecentLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent events: %w", err)
	}
	now := e.now()
	return &models.Stats{
		UserID:         userID,
		Goals:          goals,
		Streak:         p.Streak,
		MissedDays:     p.MissedDays,
		LastMood:       st.Mood,
		CooldownActive: st.CooldownActive(now),
		ActiveSession:  active,
		Recent:         recent,
		GeneratedAt:    now.UTC(),
	}, nil
}

// StatsReply renders Stats as chat text.
func (e *Engine) StatsReply(ctx context.Context, userID string) (models.Reply, error) {
	st, err := e.Stats(ctx, userID)
	if err != nil {
		return models.Reply{}, err
	}
	return models.TextReply(statsText(st, e.loc)), nil
}
