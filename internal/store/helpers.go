package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/NudgePipe/internal/models"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

const profileColumns = `user_id, name, streak, missed_days, checkin_hour, active_goal, last_checkin_key, last_insight_key, created_at, updated_at`

func scanProfile(row rowScanner) (models.UserProfile, error) {
	var p models.UserProfile
	var activeGoal, checkinKey, insightKey sql.NullString
	err := row.Scan(&p.UserID, &p.Name, &p.Streak, &p.MissedDays, &p.CheckinHour,
		&activeGoal, &checkinKey, &insightKey, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return p, err
	}
	p.ActiveGoal = activeGoal.String
	p.LastCheckinKey = checkinKey.String
	p.LastInsightKey = insightKey.String
	return p, nil
}

const goalColumns = `user_id, name, why, created_at, updated_at`

func scanGoal(row rowScanner) (models.Goal, error) {
	var g models.Goal
	err := row.Scan(&g.UserID, &g.Name, &g.Why, &g.CreatedAt, &g.UpdatedAt)
	return g, err
}

const stateColumns = `user_id, mood, cooldown_until, last_checkin, pending_reason_goal, updated_at`

func scanUserState(row rowScanner) (models.UserState, error) {
	var s models.UserState
	var mood, pending sql.NullString
	var cooldown, lastCheckin sql.NullTime
	err := row.Scan(&s.UserID, &mood, &cooldown, &lastCheckin, &pending, &s.UpdatedAt)
	if err != nil {
		return s, err
	}
	s.Mood = models.Mood(mood.String)
	s.PendingReasonGoal = pending.String
	if cooldown.Valid {
		t := cooldown.Time
		s.CooldownUntil = &t
	}
	if lastCheckin.Valid {
		t := lastCheckin.Time
		s.LastCheckin = &t
	}
	return s, nil
}

const sessionColumns = `id, user_id, goal, state, timebox_minutes, started_at, ends_at, nudges_sent, started_confirmed, next_check_at, asked_completion, updated_at`

func scanSession(row rowScanner) (models.Session, error) {
	var s models.Session
	var state string
	var nextCheck sql.NullTime
	err := row.Scan(&s.ID, &s.UserID, &s.Goal, &state, &s.TimeboxMinutes, &s.StartedAt, &s.EndsAt,
		&s.NudgesSent, &s.StartedConfirmed, &nextCheck, &s.AskedCompletion, &s.UpdatedAt)
	if err != nil {
		return s, err
	}
	s.State = models.SessionState(state)
	if nextCheck.Valid {
		t := nextCheck.Time
		s.NextCheckAt = &t
	}
	return s, nil
}

func collectSessions(rows *sql.Rows) ([]models.Session, error) {
	defer rows.Close()
	var sessions []models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	return sessions, nil
}

const eventColumns = `id, user_id, at, kind, payload`

func scanEvent(row rowScanner) (models.Event, error) {
	var e models.Event
	var kind string
	var payload sql.NullString
	if err := row.Scan(&e.ID, &e.UserID, &e.At, &kind, &payload); err != nil {
		return e, err
	}
	e.Kind = models.EventKind(kind)
	if payload.Valid && payload.String != "" {
		if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
			return e, fmt.Errorf("failed to decode payload of event %s: %w", e.ID, err)
		}
	}
	return e, nil
}

func collectEvents(rows *sql.Rows) ([]models.Event, error) {
	defer rows.Close()
	var events []models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate event rows: %w", err)
	}
	return events, nil
}

// encodePayload marshals an event payload; empty payloads are stored as NULL.
func encodePayload(payload map[string]string) (interface{}, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event payload: %w", err)
	}
	return string(b), nil
}
