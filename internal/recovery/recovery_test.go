package recovery

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/NudgePipe/internal/flow"
	"github.com/BTreeMap/NudgePipe/internal/store"
)

// mockRecoverable records calls and optionally fails.
type mockRecoverable struct {
	calls int
	err   error
}

func (m *mockRecoverable) RecoverState(ctx context.Context, registry *Registry) error {
	m.calls++
	return m.err
}

func TestManagerRecoverAll(t *testing.T) {
	rm := NewManager(store.NewInMemoryStore())
	ok1 := &mockRecoverable{}
	bad := &mockRecoverable{err: errors.New("boom")}
	ok2 := &mockRecoverable{}
	rm.RegisterRecoverable(ok1)
	rm.RegisterRecoverable(bad)
	rm.RegisterRecoverable(ok2)

	err := rm.RecoverAll(context.Background())
	if err == nil || !strings.Contains(err.Error(), "1 errors out of 3") {
		t.Fatalf("RecoverAll error = %v", err)
	}
	for i, m := range []*mockRecoverable{ok1, bad, ok2} {
		if m.calls != 1 {
			t.Errorf("recoverable %d called %d times", i, m.calls)
		}
	}
}

func TestManagerRecoverAllSuccess(t *testing.T) {
	rm := NewManager(store.NewInMemoryStore())
	rm.RegisterRecoverable(&mockRecoverable{})
	if err := rm.RecoverAll(context.Background()); err != nil {
		t.Errorf("RecoverAll failed: %v", err)
	}
}

func TestManagerRecoverAllCancelled(t *testing.T) {
	rm := NewManager(store.NewInMemoryStore())
	m := &mockRecoverable{}
	rm.RegisterRecoverable(m)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rm.RecoverAll(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("RecoverAll error = %v, want context.Canceled", err)
	}
	if m.calls != 0 {
		t.Error("recoverable ran after cancellation")
	}
}

func TestRegistryRunTick(t *testing.T) {
	st := store.NewInMemoryStore()
	r := NewRegistry(st)
	if r.Store() != st {
		t.Error("Store() did not return the registry store")
	}
	if _, err := r.RunTick(context.Background(), flow.TickSession); err == nil {
		t.Error("expected error without a tick handler")
	}

	var got flow.TickKind
	r.RegisterTickRecovery(func(ctx context.Context, kind flow.TickKind) (flow.TickResult, error) {
		got = kind
		return flow.TickResult{Kind: kind, Sent: 2}, nil
	})
	res, err := r.RunTick(context.Background(), flow.TickDaily)
	if err != nil || res.Sent != 2 || got != flow.TickDaily {
		t.Errorf("RunTick = %+v, %v (kind %s)", res, err, got)
	}
}

func TestComponentName(t *testing.T) {
	if got := componentName(NewFunc("dedup", nil)); got != "dedup" {
		t.Errorf("componentName = %q", got)
	}
	if got := componentName(&mockRecoverable{}); got != "*recovery.mockRecoverable" {
		t.Errorf("componentName = %q", got)
	}
}
