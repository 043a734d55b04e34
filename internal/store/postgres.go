// Package store provides storage backends for NudgePipe.
//
// This file implements a PostgreSQL-backed store.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/NudgePipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) EnsureUser(userID, name string, defaultHour int) (*models.UserProfile, error) {
	now := time.Now().UTC()
	if _, err := s.db.Exec(
		`INSERT INTO users (user_id, name, checkin_hour, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, name, defaultHour, now,
	); err != nil {
		slog.Error("PostgresStore EnsureUser insert failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to ensure user %s: %w", userID, err)
	}
	if _, err := s.db.Exec(
		`INSERT INTO user_states (user_id, updated_at) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING`,
		userID, now,
	); err != nil {
		slog.Error("PostgresStore EnsureUser state insert failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to ensure state for %s: %w", userID, err)
	}
	return s.GetUser(userID)
}

func (s *PostgresStore) GetUser(userID string) (*models.UserProfile, error) {
	p, err := scanProfile(s.db.QueryRow(`SELECT `+profileColumns+` FROM users WHERE user_id = $1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetUser failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	return &p, nil
}

func (s *PostgresStore) ListUsers() ([]models.UserProfile, error) {
	rows, err := s.db.Query(`SELECT ` + profileColumns + ` FROM users ORDER BY user_id`)
	if err != nil {
		slog.Error("PostgresStore ListUsers query failed", "error", err)
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
	slog.Debug("PostgresStore ListUsers succeeded", "count", len(users))
	return users, nil
}

// updateUser runs an UPDATE whose set clause uses $1..$n; updated_at and
// user_id take the next two positions.
func (s *PostgresStore) updateUser(op, userID, setClause string, args ...interface{}) error {
	n := len(args)
	query := fmt.Sprintf(`UPDATE users SET %s, updated_at = $%d WHERE user_id = $%d`, setClause, n+1, n+2)
	args = append(args, time.Now().UTC(), userID)
	result, err := s.db.Exec(query, args...)
	if err != nil {
		slog.Error("PostgresStore "+op+" failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to update user %s: %w", userID, err)
	}
	return requireRow(result, userID)
}

func (s *PostgresStore) SetCheckinHour(userID string, hour int) error {
	return s.updateUser("SetCheckinHour", userID, `checkin_hour = $1`, hour)
}

func (s *PostgresStore) SetActiveGoal(userID, goal string) error {
	return s.updateUser("SetActiveGoal", userID, `active_goal = $1`, nilIfEmpty(goal))
}

func (s *PostgresStore) SetLastCheckinKey(userID, key string) error {
	return s.updateUser("SetLastCheckinKey", userID, `last_checkin_key = $1`, nilIfEmpty(key))
}

func (s *PostgresStore) SetLastInsightKey(userID, key string) error {
	return s.updateUser("SetLastInsightKey", userID, `last_insight_key = $1`, nilIfEmpty(key))
}

func (s *PostgresStore) BumpStreak(userID string, delta int) (*models.UserProfile, error) {
	if err := s.updateUser("BumpStreak", userID, `streak = streak + $1, missed_days = 0`, delta); err != nil {
		return nil, err
	}
	slog.Debug("PostgresStore BumpStreak succeeded", "userID", userID, "delta", delta)
	return s.GetUser(userID)
}

func (s *PostgresStore) BumpMissed(userID string, delta int) (*models.UserProfile, error) {
	if err := s.updateUser("BumpMissed", userID, `missed_days = missed_days + $1`, delta); err != nil {
		return nil, err
	}
	slog.Debug("PostgresStore BumpMissed succeeded", "userID", userID, "delta", delta)
	return s.GetUser(userID)
}

func (s *PostgresStore) UpsertGoal(goal models.Goal) error {
	_, err := s.db.Exec(`
		INSERT INTO goals (user_id, name, why, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, name) DO UPDATE SET why = EXCLUDED.why, updated_at = EXCLUDED.updated_at`,
		goal.UserID, goal.Name, goal.Why, goal.CreatedAt.UTC(), goal.UpdatedAt.UTC(),
	)
	if err != nil {
		slog.Error("PostgresStore UpsertGoal failed", "error", err, "userID", goal.UserID, "goal", goal.Name)
		return fmt.Errorf("failed to upsert goal %s for %s: %w", goal.Name, goal.UserID, err)
	}
	slog.Debug("PostgresStore UpsertGoal succeeded", "userID", goal.UserID, "goal", goal.Name)
	return nil
}

func (s *PostgresStore) GetGoal(userID, name string) (*models.Goal, error) {
	g, err := scanGoal(s.db.QueryRow(`SELECT `+goalColumns+` FROM goals WHERE user_id = $1 AND name = $2`, userID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get goal %s for %s: %w", name, userID, err)
	}
	return &g, nil
}

func (s *PostgresStore) FirstGoal(userID string) (*models.Goal, error) {
	g, err := scanGoal(s.db.QueryRow(
		`SELECT `+goalColumns+` FROM goals WHERE user_id = $1 ORDER BY created_at ASC, name ASC LIMIT 1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get first goal for %s: %w", userID, err)
	}
	return &g, nil
}

func (s *PostgresStore) CountGoals(userID string) (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM goals WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count goals for %s: %w", userID, err)
	}
	return n, nil
}

func (s *PostgresStore) GetUserState(userID string) (*models.UserState, error) {
	st, err := scanUserState(s.db.QueryRow(`SELECT `+stateColumns+` FROM user_states WHERE user_id = $1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state for %s: %w", userID, err)
	}
	return &st, nil
}

func (s *PostgresStore) SaveUserState(st models.UserState) error {
	_, err := s.db.Exec(`
		INSERT INTO user_states (user_id, mood, cooldown_until, last_checkin, pending_reason_goal, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			mood = EXCLUDED.mood,
			cooldown_until = EXCLUDED.cooldown_until,
			last_checkin = EXCLUDED.last_checkin,
			pending_reason_goal = EXCLUDED.pending_reason_goal,
			updated_at = EXCLUDED.updated_at`,
		st.UserID, nilIfEmpty(string(st.Mood)), utcPtr(st.CooldownUntil), utcPtr(st.LastCheckin),
		nilIfEmpty(st.PendingReasonGoal), time.Now().UTC(),
	)
	if err != nil {
		slog.Error("PostgresStore SaveUserState failed", "error", err, "userID", st.UserID)
		return fmt.Errorf("failed to save state for %s: %w", st.UserID, err)
	}
	return nil
}

func (s *PostgresStore) SaveSession(session models.Session) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin session transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if session.State == models.SessionActive {
		if _, err := tx.Exec(
			`UPDATE sessions SET state = $1, updated_at = $2 WHERE user_id = $3 AND state = $4 AND id <> $5`,
			models.SessionAborted, now, session.UserID, models.SessionActive, session.ID,
		); err != nil {
			return fmt.Errorf("failed to abort previous sessions for %s: %w", session.UserID, err)
		}
	}
	if _, err := tx.Exec(`
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			goal = EXCLUDED.goal,
			state = EXCLUDED.state,
			timebox_minutes = EXCLUDED.timebox_minutes,
			ends_at = EXCLUDED.ends_at,
			nudges_sent = EXCLUDED.nudges_sent,
			started_confirmed = EXCLUDED.started_confirmed,
			next_check_at = EXCLUDED.next_check_at,
			asked_completion = EXCLUDED.asked_completion,
			updated_at = EXCLUDED.updated_at`,
		session.ID, session.UserID, session.Goal, session.State, session.TimeboxMinutes,
		session.StartedAt.UTC(), session.EndsAt.UTC(), session.NudgesSent, session.StartedConfirmed,
		utcPtr(session.NextCheckAt), session.AskedCompletion, now,
	); err != nil {
		slog.Error("PostgresStore SaveSession failed", "error", err, "sessionID", session.ID)
		return fmt.Errorf("failed to save session %s: %w", session.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session %s: %w", session.ID, err)
	}
	slog.Debug("PostgresStore SaveSession succeeded", "sessionID", session.ID, "state", session.State)
	return nil
}

func (s *PostgresStore) GetSession(id string) (*models.Session, error) {
	sess, err := scanSession(s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *PostgresStore) ActiveSession(userID string) (*models.Session, error) {
	sess, err := scanSession(s.db.QueryRow(
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = $1 AND state = $2 ORDER BY started_at DESC LIMIT 1`,
		userID, models.SessionActive))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active session for %s: %w", userID, err)
	}
	return &sess, nil
}

func (s *PostgresStore) ListActiveSessions() ([]models.Session, error) {
	rows, err := s.db.Query(`SELECT `+sessionColumns+` FROM sessions WHERE state = $1 ORDER BY started_at ASC`, models.SessionActive)
	if err != nil {
		slog.Error("PostgresStore ListActiveSessions query failed", "error", err)
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	return collectSessions(rows)
}

func (s *PostgresStore) AppendEvent(event models.Event) error {
	payload, err := encodePayload(event.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO events (id, user_id, at, kind, payload) VALUES ($1, $2, $3, $4, $5)`,
		event.ID, event.UserID, event.At.UTC(), event.Kind, payload)
	if err != nil {
		slog.Error("PostgresStore AppendEvent failed", "error", err, "userID", event.UserID, "kind", event.Kind)
		return fmt.Errorf("failed to append %s event for %s: %w", event.Kind, event.UserID, err)
	}
	slog.Debug("PostgresStore AppendEvent succeeded", "userID", event.UserID, "kind", event.Kind)
	return nil
}

func (s *PostgresStore) ListEvents(userID string, since time.Time) ([]models.Event, error) {
	rows, err := s.db.Query(
		`SELECT `+eventColumns+` FROM events WHERE user_id = $1 AND at >= $2 ORDER BY at ASC, seq ASC`,
		userID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query events for %s: %w", userID, err)
	}
	return collectEvents(rows)
}

func (s *PostgresStore) RecentEvents(userID string, limit int) ([]models.Event, error) {
	rows, err := s.db.Query(
		`SELECT `+eventColumns+` FROM events WHERE user_id = $1 ORDER BY at DESC, seq DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events for %s: %w", userID, err)
	}
	return collectEvents(rows)
}

// Close closes the PostgreSQL connection pool.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	if err := s.db.Close(); err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
		return err
	}
	return nil
}
