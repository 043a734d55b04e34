package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/NudgePipe/internal/metrics"
	"github.com/BTreeMap/NudgePipe/internal/models"
	"github.com/BTreeMap/NudgePipe/internal/store"
	"github.com/BTreeMap/NudgePipe/internal/testutil"
)

const testUser = "u1"

// firstRand always selects the first weighted entry.
type firstRand struct{}

func (firstRand) IntN(int) int { return 0 }

type delivery struct {
	UserID string
	Reply  models.Reply
}

// recordingNotifier captures deliveries and can be told to fail.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []delivery
	err  error
}

func (n *recordingNotifier) Deliver(ctx context.Context, userID string, reply models.Reply) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return errors.Join(models.ErrTransportFailure, n.err)
	}
	n.sent = append(n.sent, delivery{UserID: userID, Reply: reply})
	return nil
}

func (n *recordingNotifier) Sent() []delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]delivery(nil), n.sent...)
}

// fakeGenerator returns a canned reply or error.
type fakeGenerator struct {
	out    string
	err    error
	calls  int
	system string
	user   string
}

func (f *fakeGenerator) GeneratePrompt(ctx context.Context, system, user string) (string, error) {
	f.calls++
	f.system, f.user = system, user
	return f.out, f.err
}

// Wednesday noon UTC.
var testStart = time.Date(2024, time.January, 3, 12, 0, 0, 0, time.UTC)

type harness struct {
	engine   *Engine
	store    *store.InMemoryStore
	clock    *testutil.FixedClock
	notifier *recordingNotifier
	metrics  *metrics.Metrics
}

func newHarness(t *testing.T, coach *Coach, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store:    store.NewInMemoryStore(),
		clock:    testutil.NewFixedClock(testStart),
		notifier: &recordingNotifier{},
		metrics:  metrics.New(),
	}
	base := []Option{
		WithClock(h.clock.Now),
		WithLocation(time.UTC),
		WithRand(firstRand{}),
		WithMetrics(h.metrics),
	}
	h.engine = NewEngine(h.store, h.notifier, coach, nil, append(base, opts...)...)
	if _, err := h.engine.EnsureUser(context.Background(), testUser, "Sam"); err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}
	return h
}

func (h *harness) mustSetGoal(t *testing.T, goal, why string) {
	t.Helper()
	if _, err := h.engine.SetGoal(context.Background(), testUser, goal, why); err != nil {
		t.Fatalf("SetGoal(%s) failed: %v", goal, err)
	}
}

func (h *harness) profile(t *testing.T) *models.UserProfile {
	t.Helper()
	p, err := h.store.GetUser(testUser)
	if err != nil || p == nil {
		t.Fatalf("GetUser failed: %v (%v)", err, p)
	}
	return p
}

func (h *harness) state(t *testing.T) *models.UserState {
	t.Helper()
	st, err := h.store.GetUserState(testUser)
	if err != nil || st == nil {
		t.Fatalf("GetUserState failed: %v (%v)", err, st)
	}
	return st
}

func (h *harness) events(t *testing.T) []models.Event {
	t.Helper()
	evs, err := h.store.ListEvents(testUser, time.Time{})
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	return evs
}

func (h *harness) activeSession(t *testing.T) *models.Session {
	t.Helper()
	s, err := h.store.ActiveSession(testUser)
	if err != nil {
		t.Fatalf("ActiveSession failed: %v", err)
	}
	return s
}

func lastEvent(t *testing.T, evs []models.Event) models.Event {
	t.Helper()
	if len(evs) == 0 {
		t.Fatal("expected at least one event")
	}
	return evs[len(evs)-1]
}
