// Package recovery runs the startup checks that bring persisted state back in
// line after a restart. Components register a Recoverable; the manager runs
// them in order before the bot starts accepting messages.
package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/NudgePipe/internal/flow"
	"github.com/BTreeMap/NudgePipe/internal/store"
)

// Recoverable defines the interface for components that can recover their state
type Recoverable interface {
	// RecoverState is called during application startup to restore component state
	RecoverState(ctx context.Context, registry *Registry) error
}

// TickFunc runs one scheduled job out of band.
type TickFunc func(ctx context.Context, kind flow.TickKind) (flow.TickResult, error)

// Registry provides services that components can use during recovery
type Registry struct {
	store    store.Store
	tickFunc TickFunc
}

// NewRegistry creates a new recovery registry
func NewRegistry(st store.Store) *Registry {
	return &Registry{store: st}
}

// RegisterTickRecovery registers the callback used to catch up on missed ticks.
func (r *Registry) RegisterTickRecovery(fn TickFunc) {
	r.tickFunc = fn
}

// RunTick requests an immediate tick of the given kind.
func (r *Registry) RunTick(ctx context.Context, kind flow.TickKind) (flow.TickResult, error) {
	if r.tickFunc == nil {
		return flow.TickResult{Kind: kind}, fmt.Errorf("no tick recovery handler registered")
	}
	return r.tickFunc(ctx, kind)
}

// Store provides access to the store for recovery operations
func (r *Registry) Store() store.Store {
	return r.store
}

// Manager orchestrates recovery of all registered components
type Manager struct {
	registry     *Registry
	recoverables []Recoverable
}

// NewManager creates a new recovery manager
func NewManager(st store.Store) *Manager {
	return &Manager{
		registry:     NewRegistry(st),
		recoverables: make([]Recoverable, 0),
	}
}

// RegisterRecoverable adds a component that can be recovered
func (rm *Manager) RegisterRecoverable(r Recoverable) {
	rm.recoverables = append(rm.recoverables, r)
}

// RegisterTickRecovery registers the tick catch-up infrastructure
func (rm *Manager) RegisterTickRecovery(fn TickFunc) {
	rm.registry.RegisterTickRecovery(fn)
}

// RecoverAll performs recovery of all registered components. A failing
// component does not stop the others.
func (rm *Manager) RecoverAll(ctx context.Context) error {
	slog.Info("Starting application recovery", "components", len(rm.recoverables))

	recoveredCount := 0
	errorCount := 0

	for _, recoverable := range rm.recoverables {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := recoverable.RecoverState(ctx, rm.registry); err != nil {
			slog.Error("Component recovery failed", "error", err, "component", componentName(recoverable))
			errorCount++
			continue
		}
		recoveredCount++
	}

	slog.Info("Application recovery completed", "recovered", recoveredCount, "errors", errorCount)

	if errorCount > 0 {
		return fmt.Errorf("recovery completed with %d errors out of %d components", errorCount, len(rm.recoverables))
	}
	return nil
}

// Registry provides access to the recovery registry for infrastructure setup
func (rm *Manager) Registry() *Registry {
	return rm.registry
}

func componentName(r Recoverable) string {
	if n, ok := r.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", r)
}
