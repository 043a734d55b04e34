// Package store provides storage backends for NudgePipe.
//
// This file implements an SQLite-backed store.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/NudgePipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (and migrates) the SQLite database at the configured DSN.
// The parent directory is created if needed.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	if dsn != ":memory:" {
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			slog.Error("Failed to create database directory", "error", err, "dir", dir)
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite has a single writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) EnsureUser(userID, name string, defaultHour int) (*models.UserProfile, error) {
	now := time.Now().UTC()
	if _, err := s.db.Exec(
		`INSERT OR IGNORE INTO users (user_id, name, checkin_hour, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		userID, name, defaultHour, now, now,
	); err != nil {
		slog.Error("SQLiteStore EnsureUser insert failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to ensure user %s: %w", userID, err)
	}
	if _, err := s.db.Exec(
		`INSERT OR IGNORE INTO user_states (user_id, updated_at) VALUES (?, ?)`,
		userID, now,
	); err != nil {
		slog.Error("SQLiteStore EnsureUser state insert failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to ensure state for %s: %w", userID, err)
	}
	return s.GetUser(userID)
}

func (s *SQLiteStore) GetUser(userID string) (*models.UserProfile, error) {
	p, err := scanProfile(s.db.QueryRow(`SELECT `+profileColumns+` FROM users WHERE user_id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetUser failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	return &p, nil
}

func (s *SQLiteStore) ListUsers() ([]models.UserProfile, error) {
	rows, err := s.db.Query(`SELECT ` + profileColumns + ` FROM users ORDER BY user_id`)
	if err != nil {
		slog.Error("SQLiteStore ListUsers query failed", "error", err)
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()
	var users []models.UserProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user rows: %w", err)
	}
	slog.Debug("SQLiteStore ListUsers succeeded", "count", len(users))
	return users, nil
}

func (s *SQLiteStore) updateUser(op, userID, setClause string, args ...interface{}) error {
	args = append(args, time.Now().UTC(), userID)
	result, err := s.db.Exec(`UPDATE users SET `+setClause+`, updated_at = ? WHERE user_id = ?`, args...)
	if err != nil {
		slog.Error("SQLiteStore "+op+" failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to update user %s: %w", userID, err)
	}
	return requireRow(result, userID)
}

func (s *SQLiteStore) SetCheckinHour(userID string, hour int) error {
	return s.updateUser("SetCheckinHour", userID, `checkin_hour = ?`, hour)
}

func (s *SQLiteStore) SetActiveGoal(userID, goal string) error {
	return s.updateUser("SetActiveGoal", userID, `active_goal = ?`, nilIfEmpty(goal))
}

func (s *SQLiteStore) SetLastCheckinKey(userID, key string) error {
	return s.updateUser("SetLastCheckinKey", userID, `last_checkin_key = ?`, nilIfEmpty(key))
}

func (s *SQLiteStore) SetLastInsightKey(userID, key string) error {
	return s.updateUser("SetLastInsightKey", userID, `last_insight_key = ?`, nilIfEmpty(key))
}

func (s *SQLiteStore) BumpStreak(userID string, delta int) (*models.UserProfile, error) {
	if err := s.updateUser("BumpStreak", userID, `streak = streak + ?, missed_days = 0`, delta); err != nil {
		return nil, err
	}
	slog.Debug("SQLiteStore BumpStreak succeeded", "userID", userID, "delta", delta)
	return s.GetUser(userID)
}

func (s *SQLiteStore) BumpMissed(userID string, delta int) (*models.UserProfile, error) {
	if err := s.updateUser("BumpMissed", userID, `missed_days = missed_days + ?`, delta); err != nil {
		return nil, err
	}
	slog.Debug("SQLiteStore BumpMissed succeeded", "userID", userID, "delta", delta)
	return s.GetUser(userID)
}

func (s *SQLiteStore) UpsertGoal(goal models.Goal) error {
	_, err := s.db.Exec(`
		INSERT INTO goals (user_id, name, why, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, name) DO UPDATE SET why = excluded.why, updated_at = excluded.updated_at`,
		goal.UserID, goal.Name, goal.Why, goal.CreatedAt.UTC(), goal.UpdatedAt.UTC(),
	)
	if err != nil {
		slog.Error("SQLiteStore UpsertGoal failed", "error", err, "userID", goal.UserID, "goal", goal.Name)
		return fmt.Errorf("failed to upsert goal %s for %s: %w", goal.Name, goal.UserID, err)
	}
	slog.Debug("SQLiteStore UpsertGoal succeeded", "userID", goal.UserID, "goal", goal.Name)
	return nil
}

func (s *SQLiteStore) GetGoal(userID, name string) (*models.Goal, error) {
	g, err := scanGoal(s.db.QueryRow(`SELECT `+goalColumns+` FROM goals WHERE user_id = ? AND name = ?`, userID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get goal %s for %s: %w", name, userID, err)
	}
	return &g, nil
}

func (s *SQLiteStore) FirstGoal(userID string) (*models.Goal, error) {
	g, err := scanGoal(s.db.QueryRow(
		`SELECT `+goalColumns+` FROM goals WHERE user_id = ? ORDER BY created_at ASC, name ASC LIMIT 1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get first goal for %s: %w", userID, err)
	}
	return &g, nil
}

func (s *SQLiteStore) CountGoals(userID string) (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM goals WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count goals for %s: %w", userID, err)
	}
	return n, nil
}

func (s *SQLiteStore) GetUserState(userID string) (*models.UserState, error) {
	st, err := scanUserState(s.db.QueryRow(`SELECT `+stateColumns+` FROM user_states WHERE user_id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state for %s: %w", userID, err)
	}
	return &st, nil
}

func (s *SQLiteStore) SaveUserState(st models.UserState) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO user_states (user_id, mood, cooldown_until, last_checkin, pending_reason_goal, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		st.UserID, nilIfEmpty(string(st.Mood)), utcPtr(st.CooldownUntil), utcPtr(st.LastCheckin),
		nilIfEmpty(st.PendingReasonGoal), time.Now().UTC(),
	)
	if err != nil {
		slog.Error("SQLiteStore SaveUserState failed", "error", err, "userID", st.UserID)
		return fmt.Errorf("failed to save state for %s: %w", st.UserID, err)
	}
	return nil
}

func (s *SQLiteStore) SaveSession(session models.Session) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin session transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if session.State == models.SessionActive {
		if _, err := tx.Exec(
			`UPDATE sessions SET state = ?, updated_at = ? WHERE user_id = ? AND state = ? AND id <> ?`,
			models.SessionAborted, now, session.UserID, models.SessionActive, session.ID,
		); err != nil {
			return fmt.Errorf("failed to abort previous sessions for %s: %w", session.UserID, err)
		}
	}
	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.UserID, session.Goal, session.State, session.TimeboxMinutes,
		session.StartedAt.UTC(), session.EndsAt.UTC(), session.NudgesSent, session.StartedConfirmed,
		utcPtr(session.NextCheckAt), session.AskedCompletion, now,
	); err != nil {
		slog.Error("SQLiteStore SaveSession failed", "error", err, "sessionID", session.ID)
		return fmt.Errorf("failed to save session %s: %w", session.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session %s: %w", session.ID, err)
	}
	slog.Debug("SQLiteStore SaveSession succeeded", "sessionID", session.ID, "state", session.State)
	return nil
}

func (s *SQLiteStore) GetSession(id string) (*models.Session, error) {
	sess, err := scanSession(s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *SQLiteStore) ActiveSession(userID string) (*models.Session, error) {
	sess, err := scanSession(s.db.QueryRow(
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? AND state = ? ORDER BY started_at DESC LIMIT 1`,
		userID, models.SessionActive))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active session for %s: %w", userID, err)
	}
	return &sess, nil
}

func (s *SQLiteStore) ListActiveSessions() ([]models.Session, error) {
	rows, err := s.db.Query(`SELECT `+sessionColumns+` FROM sessions WHERE state = ? ORDER BY started_at ASC`, models.SessionActive)
	if err != nil {
		slog.Error("SQLiteStore ListActiveSessions query failed", "error", err)
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	return collectSessions(rows)
}

func (s *SQLiteStore) AppendEvent(event models.Event) error {
	payload, err := encodePayload(event.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO events (id, user_id, at, kind, payload) VALUES (?, ?, ?, ?, ?)`,
		event.ID, event.UserID, event.At.UTC(), event.Kind, payload)
	if err != nil {
		slog.Error("SQLiteStore AppendEvent failed", "error", err, "userID", event.UserID, "kind", event.Kind)
		return fmt.Errorf("failed to append %s event for %s: %w", event.Kind, event.UserID, err)
	}
	slog.Debug("SQLiteStore AppendEvent succeeded", "userID", event.UserID, "kind", event.Kind)
	return nil
}

func (s *SQLiteStore) ListEvents(userID string, since time.Time) ([]models.Event, error) {
	rows, err := s.db.Query(
		`SELECT `+eventColumns+` FROM events WHERE user_id = ? AND at >= ? ORDER BY at ASC, seq ASC`,
		userID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query events for %s: %w", userID, err)
	}
	return collectEvents(rows)
}

func (s *SQLiteStore) RecentEvents(userID string, limit int) ([]models.Event, error) {
	rows, err := s.db.Query(
		`SELECT `+eventColumns+` FROM events WHERE user_id = ? ORDER BY at DESC, seq DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events for %s: %w", userID, err)
	}
	return collectEvents(rows)
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	if err := s.db.Close(); err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
		return err
	}
	return nil
}

// requireRow turns a zero-row update into a NotFoundError.
func requireRow(result sql.Result, userID string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return models.NewNotFoundError("user", userID, "")
	}
	return nil
}
