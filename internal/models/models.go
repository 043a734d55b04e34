// Package models defines the core data structures shared across NudgePipe.
//
// It covers the per-user accountability records (profiles, goals, state,
// focus sessions, events), the typed actions decoded from chat input, and
// the transport and API envelope types.
package models

import (
	"strings"
	"time"
)

// DefaultUserName is used when the transport does not supply a display name.
const DefaultUserName = "human"

// NoWhy is shown wherever a goal has no stored rationale.
const NoWhy = "—"

// Mood is the self-reported state captured during a check-in.
type Mood string

const (
	MoodNone       Mood = ""
	MoodTired      Mood = "tired"
	MoodDistracted Mood = "distracted"
	MoodAnxious    Mood = "anxious"
	MoodFine       Mood = "fine"
)

// Moods lists the selectable moods in display order.
var Moods = []Mood{MoodTired, MoodDistracted, MoodAnxious, MoodFine}

// IsValid reports whether m is one of the selectable moods.
func (m Mood) IsValid() bool {
	switch m {
	case MoodTired, MoodDistracted, MoodAnxious, MoodFine:
		return true
	}
	return false
}

// SessionState is the lifecycle state of a focus session.
type SessionState string

const (
	SessionActive  SessionState = "ACTIVE"
	SessionDone    SessionState = "DONE"
	SessionTimeout SessionState = "TIMEOUT"
	SessionAborted SessionState = "ABORTED"
)

// IsTerminal reports whether the state ends a session.
func (s SessionState) IsTerminal() bool {
	return s == SessionDone || s == SessionTimeout || s == SessionAborted
}

// ParseTerminalState maps user input such as "done" or "abort" to a terminal state.
func ParseTerminalState(s string) (SessionState, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "done", "complete", "completed":
		return SessionDone, true
	case "timeout", "timed_out", "timedout":
		return SessionTimeout, true
	case "abort", "aborted", "cancel":
		return SessionAborted, true
	}
	return "", false
}

// EventKind classifies an entry in the event log.
type EventKind string

const (
	EventCheckin       EventKind = "checkin"
	EventMood          EventKind = "mood"
	EventDone          EventKind = "done"
	EventSkip          EventKind = "skip"
	EventReason        EventKind = "reason"
	EventOverride      EventKind = "override"
	EventInsight       EventKind = "insight"
	EventSessionStart  EventKind = "session_start"
	EventSessionFinish EventKind = "session_finish"
	EventGeneric       EventKind = "event"
	EventWhy           EventKind = "why"
)

// UserProfile is the persistent per-user record.
type UserProfile struct {
	UserID         string    `json:"user_id"`
	Name           string    `json:"name"`
	Streak         int       `json:"streak"`
	MissedDays     int       `json:"missed_days"`
	CheckinHour    int       `json:"checkin_hour"`
	ActiveGoal     string    `json:"active_goal,omitempty"`
	LastCheckinKey string    `json:"last_checkin_key,omitempty"`
	LastInsightKey string    `json:"last_insight_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Goal is a named goal with the user's motivation for it.
type Goal struct {
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Why       string    `json:"why"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NormalizeGoalName lowercases and trims a goal name so it can be used as a key.
func NormalizeGoalName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// UserState holds the volatile check-in fields for a user.
type UserState struct {
	UserID            string     `json:"user_id"`
	Mood              Mood       `json:"mood,omitempty"`
	CooldownUntil     *time.Time `json:"cooldown_until,omitempty"`
	LastCheckin       *time.Time `json:"last_checkin,omitempty"`
	PendingReasonGoal string     `json:"pending_reason_goal,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// CooldownActive reports whether free text is gated at the given time.
func (s *UserState) CooldownActive(now time.Time) bool {
	return s != nil && s.CooldownUntil != nil && now.Before(*s.CooldownUntil)
}

// Session is a timeboxed focus block.
type Session struct {
	ID               string       `json:"id"`
	UserID           string       `json:"user_id"`
	Goal             string       `json:"goal"`
	State            SessionState `json:"state"`
	TimeboxMinutes   int          `json:"timebox_minutes"`
	StartedAt        time.Time    `json:"started_at"`
	EndsAt           time.Time    `json:"ends_at"`
	NudgesSent       int          `json:"nudges_sent"`
	StartedConfirmed bool         `json:"started_confirmed"`
	NextCheckAt      *time.Time   `json:"next_check_at,omitempty"`
	AskedCompletion  bool         `json:"asked_completion"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// Event is an append-only log entry.
type Event struct {
	ID      string            `json:"id"`
	UserID  string            `json:"user_id"`
	At      time.Time         `json:"at"`
	Kind    EventKind         `json:"kind"`
	Payload map[string]string `json:"payload,omitempty"`
}

// Stats is the read model behind the /stats command.
type Stats struct {
	UserID         string    `json:"user_id"`
	Goals          int       `json:"goals"`
	Streak         int       `json:"streak"`
	MissedDays     int       `json:"missed_days"`
	LastMood       Mood      `json:"last_mood,omitempty"`
	CooldownActive bool      `json:"cooldown_active"`
	ActiveSession  *Session  `json:"active_session,omitempty"`
	Recent         []Event   `json:"recent"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// Choice is one selectable option attached to an outbound message.
type Choice struct {
	Label string `json:"label"`
	Token string `json:"token"`
}

// Reply is what the bot sends back: text plus optional choices.
type Reply struct {
	Text    string   `json:"text"`
	Choices []Choice `json:"choices,omitempty"`
}

// TextReply builds a reply without choices.
func TextReply(text string) Reply {
	return Reply{Text: text}
}

// IsEmpty reports whether there is nothing to deliver.
func (r Reply) IsEmpty() bool {
	return strings.TrimSpace(r.Text) == "" && len(r.Choices) == 0
}

// Inbound is a decoded user action addressed to the bot.
type Inbound struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Action Action `json:"action"`
}
