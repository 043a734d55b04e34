// Package flow implements the check-in and focus-session state machine, the
// timer tick that drives scheduled prompts, and the coach wrapper around the
// text generator.
package flow

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/NudgePipe/internal/flavor"
	"github.com/BTreeMap/NudgePipe/internal/metrics"
	"github.com/BTreeMap/NudgePipe/internal/models"
	"github.com/BTreeMap/NudgePipe/internal/store"
	"github.com/BTreeMap/NudgePipe/internal/ticklock"
	"github.com/BTreeMap/NudgePipe/internal/tone"
	"github.com/BTreeMap/NudgePipe/internal/util"
)

// Defaults for the engine's timing rules.
const (
	DefaultTimezone    = "America/Toronto"
	DefaultCheckinHour = 8
	DefaultCooldown    = 10 * time.Minute
	DefaultTickLockTTL = 5 * time.Minute

	// StartCheckInterval is the nudge cadence before the user confirms a start.
	StartCheckInterval = 5 * time.Minute
	// NudgeInterval is the nudge cadence once the user confirmed.
	NudgeInterval = 15 * time.Minute
	// MaxSessionNudges caps "still working?" prompts for a confirmed session.
	MaxSessionNudges = 4

	MinTimeboxMinutes = 1
	MaxTimeboxMinutes = 240

	// StatsRecentLimit is the number of events shown by /stats.
	StatsRecentLimit = 10
)

// Notifier delivers outbound messages. The engine only uses it from the
// timer tick; inbound actions return their reply to the caller.
type Notifier interface {
	Deliver(ctx context.Context, userID string, reply models.Reply) error
}

// Engine applies user actions and timer ticks to the store.
type Engine struct {
	store    store.Store
	notifier Notifier
	coach    *Coach
	flavors  *flavor.Tables
	rng      flavor.Rand
	metrics  *metrics.Metrics
	locker   ticklock.Locker

	now         func() time.Time
	loc         *time.Location
	cooldown    time.Duration
	defaultHour int
	tickLockTTL time.Duration

	userLocks [userLockStripes]sync.Mutex
}

// userLockStripes bounds per-user locking memory; users hashing to the same
// stripe serialize with each other. No engine path holds two user locks.
const userLockStripes = 256

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLocation sets the time zone used for check-in hours, week keys and stats.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithRand pins flavor selection.
func WithRand(r flavor.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

// WithMetrics attaches counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLocker replaces the in-process tick locker.
func WithLocker(l ticklock.Locker) Option {
	return func(e *Engine) {
		if l != nil {
			e.locker = l
		}
	}
}

// WithCooldown overrides the skip cooldown.
func WithCooldown(d time.Duration) Option {
	return func(e *Engine) { e.cooldown = d }
}

// WithDefaultCheckinHour sets the hour given to new users.
func WithDefaultCheckinHour(hour int) Option {
	return func(e *Engine) { e.defaultHour = hour }
}

// WithTickLockTTL bounds how long a crashed tick can hold its lock.
func WithTickLockTTL(d time.Duration) Option {
	return func(e *Engine) { e.tickLockTTL = d }
}

// NewEngine creates an Engine. notifier and coach may be nil in tests that
// do not exercise ticks or free text.
func NewEngine(st store.Store, notifier Notifier, coach *Coach, flavors *flavor.Tables, opts ...Option) *Engine {
	if flavors == nil {
		flavors = flavor.Default()
	}
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		slog.Warn("NewEngine: failed to load default timezone, using UTC", "tz", DefaultTimezone, "error", err)
		loc = time.UTC
	}
	e := &Engine{
		store:       st,
		notifier:    notifier,
		coach:       coach,
		flavors:     flavors,
		rng:         flavor.DefaultRand,
		locker:      ticklock.NewLocal(),
		now:         time.Now,
		loc:         loc,
		cooldown:    DefaultCooldown,
		defaultHour: DefaultCheckinHour,
		tickLockTTL: DefaultTickLockTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.coach == nil {
		e.coach = NewCoach(nil, WithCoachMetrics(e.metrics))
	}
	slog.Debug("NewEngine: engine created", "tz", e.loc.String(), "defaultHour", e.defaultHour, "cooldown", e.cooldown)
	return e
}

// Location returns the engine's time zone.
func (e *Engine) Location() *time.Location {
	return e.loc
}

// lockUser serializes work on one user's records within this process and
// returns the unlock func.
func (e *Engine) lockUser(userID string) func() {
	mu := &e.userLocks[userLockStripe(userID)]
	mu.Lock()
	return mu.Unlock
}

func userLockStripe(userID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return h.Sum32() % userLockStripes
}

// Handle applies one decoded inbound action and returns the reply to send.
func (e *Engine) Handle(ctx context.Context, in models.Inbound) (models.Reply, error) {
	slog.Debug("Engine.Handle: inbound action", "userID", in.UserID, "kind", in.Action.Kind, "command", in.Action.Command)
	if strings.TrimSpace(in.UserID) == "" {
		return models.Reply{}, models.NewValidationError("user_id", "missing user id")
	}
	if _, err := e.EnsureUser(ctx, in.UserID, in.Name); err != nil {
		return models.Reply{}, err
	}

	a := in.Action
	switch a.Kind {
	case models.ActionCommand:
		return e.handleCommand(ctx, in.UserID, a)
	case models.ActionMood:
		return e.SelectMood(ctx, in.UserID, a.Mood)
	case models.ActionDone:
		return e.MarkDone(ctx, in.UserID, a.Goal)
	case models.ActionSkip:
		return e.Skip(ctx, in.UserID, a.Goal)
	case models.ActionOverride:
		return e.Override(ctx, in.UserID, a.Goal)
	case models.ActionCancelReason:
		return e.CancelReason(ctx, in.UserID)
	case models.ActionSession:
		return e.SessionReply(ctx, in.UserID, a.Reply)
	case models.ActionText:
		return e.HandleText(ctx, in.UserID, a.Text)
	default:
		return models.Reply{}, fmt.Errorf("%w: action kind %q", models.ErrUnknownToken, a.Kind)
	}
}

func (e *Engine) handleCommand(ctx context.Context, userID string, a models.Action) (models.Reply, error) {
	args := a.Args
	switch a.Command {
	case models.CmdStart:
		return models.TextReply(welcomeText(e.defaultHour)), nil
	case models.CmdHelp:
		return models.TextReply(helpText), nil
	case models.CmdSetGoal:
		if len(args) < 2 {
			return models.Reply{}, models.NewValidationError("goal", msgUsageSetGoal)
		}
		return e.SetGoal(ctx, userID, args[0], strings.Join(args[1:], " "))
	case models.CmdActiveGoal:
		if len(args) < 1 {
			return models.Reply{}, models.NewValidationError("goal", msgUsageActiveGoal)
		}
		return e.SetActiveGoal(ctx, userID, args[0])
	case models.CmdCheckinTime:
		if len(args) < 1 {
			return models.Reply{}, models.NewValidationError("hour", msgUsageCheckinTime)
		}
		hour, err := strconv.Atoi(args[0])
		if err != nil {
			return models.Reply{}, models.NewValidationError("hour", msgInvalidHour)
		}
		return e.SetCheckinHour(ctx, userID, hour)
	case models.CmdCheckin:
		return e.ManualCheckin(ctx, userID)
	case models.CmdFocus:
		if len(args) < 1 {
			return models.Reply{}, models.NewValidationError("minutes", msgUsageFocus)
		}
		minutes, err := strconv.Atoi(args[0])
		if err != nil {
			return models.Reply{}, models.NewValidationError("minutes", msgUsageFocus)
		}
		goal := ""
		if len(args) > 1 {
			goal = args[1]
		}
		return e.StartSession(ctx, userID, minutes, goal)
	case models.CmdFinish:
		arg := ""
		if len(args) > 0 {
			arg = args[0]
		}
		state, ok := models.ParseTerminalState(arg)
		if !ok {
			return models.Reply{}, models.NewValidationError("state", msgUsageFinish)
		}
		return e.FinishSession(ctx, userID, state)
	case models.CmdStats:
		return e.StatsReply(ctx, userID)
	case models.CmdOverride:
		goal := ""
		if len(args) > 0 {
			goal = args[0]
		}
		return e.Override(ctx, userID, goal)
	default:
		return models.TextReply(fmt.Sprintf("Unknown command /%s. Try /help.", a.Command)), nil
	}
}

// EnsureUser creates the user's profile and state on first contact.
func (e *Engine) EnsureUser(ctx context.Context, userID, name string) (*models.UserProfile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = models.DefaultUserName
	}
	p, err := e.store.EnsureUser(userID, name, e.defaultHour)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure user %s: %w", userID, err)
	}
	return p, nil
}

// profile loads a profile that must exist.
func (e *Engine) profile(userID string) (*models.UserProfile, error) {
	p, err := e.store.GetUser(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	if p == nil {
		p, err = e.store.EnsureUser(userID, models.DefaultUserName, e.defaultHour)
		if err != nil {
			return nil, fmt.Errorf("failed to ensure user %s: %w", userID, err)
		}
	}
	return p, nil
}

// userState loads the state row, defaulting to an empty one.
func (e *Engine) userState(userID string) (models.UserState, error) {
	st, err := e.store.GetUserState(userID)
	if err != nil {
		return models.UserState{}, fmt.Errorf("failed to load state for %s: %w", userID, err)
	}
	if st == nil {
		return models.UserState{UserID: userID}, nil
	}
	return *st, nil
}

// activeGoal resolves the profile's active goal, falling back to the first
// created goal. It returns nil when the user has no goals.
func (e *Engine) activeGoal(p *models.UserProfile) (*models.Goal, error) {
	if p.ActiveGoal != "" {
		g, err := e.store.GetGoal(p.UserID, p.ActiveGoal)
		if err != nil {
			return nil, fmt.Errorf("failed to load goal %s: %w", p.ActiveGoal, err)
		}
		if g != nil {
			return g, nil
		}
		slog.Debug("Engine.activeGoal: active goal missing, using first goal", "userID", p.UserID, "goal", p.ActiveGoal)
	}
	g, err := e.store.FirstGoal(p.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load first goal for %s: %w", p.UserID, err)
	}
	return g, nil
}

// requireActiveGoal is activeGoal with a NotFoundError when nothing resolves.
func (e *Engine) requireActiveGoal(p *models.UserProfile) (*models.Goal, error) {
	g, err := e.activeGoal(p)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, models.NewNotFoundError("goal", "", msgSetGoalFirst)
	}
	return g, nil
}

// ResolveActiveGoal returns the goal check-ins and sessions use for a user.
func (e *Engine) ResolveActiveGoal(ctx context.Context, userID string) (*models.Goal, error) {
	p, err := e.profile(userID)
	if err != nil {
		return nil, err
	}
	return e.requireActiveGoal(p)
}

// goalWhy returns the stored rationale for a goal or the placeholder.
func (e *Engine) goalWhy(userID, goal string) (string, error) {
	g, err := e.store.GetGoal(userID, goal)
	if err != nil {
		return "", fmt.Errorf("failed to load goal %s: %w", goal, err)
	}
	return whyOrPlaceholder(g), nil
}

func (e *Engine) logEvent(userID string, kind models.EventKind, payload map[string]string) error {
	ev := models.Event{
		ID:      util.GenerateEventID(),
		UserID:  userID,
		At:      e.now().UTC(),
		Kind:    kind,
		Payload: payload,
	}
	if err := e.store.AppendEvent(ev); err != nil {
		slog.Error("Engine.logEvent: append failed", "userID", userID, "kind", kind, "error", err)
		return fmt.Errorf("failed to log %s event: %w", kind, err)
	}
	return nil
}

func (e *Engine) toneFor(p *models.UserProfile) tone.Tone {
	return tone.For(p.Streak, p.MissedDays)
}
