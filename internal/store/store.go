// Package store provides storage backends for NudgePipe.
//
// Three implementations share the Store interface: an in-memory store for
// tests, an SQLite store for single-host deployments and a PostgreSQL store.
package store

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/NudgePipe/internal/models"
)

// Store persists the five accountability entities. All methods are
// synchronous point operations; missing rows are reported as nil, nil.
type Store interface {
	// EnsureUser inserts a profile and its state row if absent and returns the stored profile.
	EnsureUser(userID, name string, defaultHour int) (*models.UserProfile, error)
	GetUser(userID string) (*models.UserProfile, error)
	ListUsers() ([]models.UserProfile, error)
	SetCheckinHour(userID string, hour int) error
	SetActiveGoal(userID, goal string) error
	SetLastCheckinKey(userID, key string) error
	SetLastInsightKey(userID, key string) error
	// BumpStreak adds delta to the streak and resets missed days.
	BumpStreak(userID string, delta int) (*models.UserProfile, error)
	// BumpMissed adds delta to missed days, leaving the streak alone.
	BumpMissed(userID string, delta int) (*models.UserProfile, error)

	UpsertGoal(goal models.Goal) error
	GetGoal(userID, name string) (*models.Goal, error)
	// FirstGoal returns the earliest created goal for the user.
	FirstGoal(userID string) (*models.Goal, error)
	CountGoals(userID string) (int, error)

	GetUserState(userID string) (*models.UserState, error)
	SaveUserState(state models.UserState) error

	// SaveSession upserts a session. Saving an ACTIVE session aborts any
	// other ACTIVE session of the same user.
	SaveSession(session models.Session) error
	GetSession(id string) (*models.Session, error)
	ActiveSession(userID string) (*models.Session, error)
	ListActiveSessions() ([]models.Session, error)

	AppendEvent(event models.Event) error
	// ListEvents returns events at or after since, oldest first.
	ListEvents(userID string, since time.Time) ([]models.Event, error)
	// RecentEvents returns the newest events first.
	RecentEvents(userID string, limit int) ([]models.Event, error)

	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store implementations.
type Option func(*Opts)

// WithPostgresDSN sets the DSN for a PostgreSQL store.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the DSN (file path) for an SQLite store.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	if strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://") ||
		strings.Contains(d, "host=") || strings.Contains(d, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// Backend is a Store that can also deduplicate inbound messages.
type Backend interface {
	Store
	DedupRepo
}

// New opens the backend matching the configured DSN.
func New(opts ...Option) (Backend, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}
	if DetectDSNType(cfg.DSN) == "postgres" {
		slog.Debug("store.New: using PostgreSQL backend")
		return NewPostgresStore(opts...)
	}
	slog.Debug("store.New: using SQLite backend")
	return NewSQLiteStore(opts...)
}

// utcPtr converts an optional timestamp into a nullable UTC column value.
func utcPtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
