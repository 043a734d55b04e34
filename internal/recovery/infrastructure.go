package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/NudgePipe/internal/flow"
)

// SessionRecoverer is implemented by *flow.Engine.
type SessionRecoverer interface {
	RecoverSessions(ctx context.Context) (flow.SessionRecovery, error)
}

// SessionRecovery cleans up focus sessions left by the previous process and,
// when some of them are overdue, runs a session tick so their prompts go out
// without waiting for the next scheduled minute.
type SessionRecovery struct {
	engine SessionRecoverer
}

// NewSessionRecovery wraps engine.
func NewSessionRecovery(engine SessionRecoverer) *SessionRecovery {
	return &SessionRecovery{engine: engine}
}

func (s *SessionRecovery) Name() string { return "sessions" }

func (s *SessionRecovery) RecoverState(ctx context.Context, registry *Registry) error {
	rec, err := s.engine.RecoverSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover sessions: %w", err)
	}
	if rec.Due == 0 {
		return nil
	}
	res, err := registry.RunTick(ctx, flow.TickSession)
	if err != nil {
		return fmt.Errorf("failed to run catch-up session tick: %w", err)
	}
	slog.Info("SessionRecovery: catch-up tick finished", "due", rec.Due, "sent", res.Sent, "failed", res.Failed, "skipped", res.Skipped)
	return nil
}

// Func adapts a plain function to Recoverable.
type Func struct {
	name string
	fn   func(ctx context.Context, registry *Registry) error
}

// NewFunc creates a named Recoverable from fn.
func NewFunc(name string, fn func(ctx context.Context, registry *Registry) error) *Func {
	return &Func{name: name, fn: fn}
}

func (f *Func) Name() string { return f.name }

func (f *Func) RecoverState(ctx context.Context, registry *Registry) error {
	if f.fn == nil {
		return fmt.Errorf("recoverable %s has no function", f.name)
	}
	return f.fn(ctx, registry)
}
