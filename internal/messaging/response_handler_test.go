package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/NudgePipe/internal/models"
	"github.com/BTreeMap/NudgePipe/internal/store"
	"github.com/BTreeMap/NudgePipe/internal/testutil"
)

type fakeBot struct {
	mu      sync.Mutex
	inbound []models.Inbound
	reply   models.Reply
	err     error
}

func (b *fakeBot) Handle(ctx context.Context, in models.Inbound) (models.Reply, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inbound = append(b.inbound, in)
	return b.reply, b.err
}

func (b *fakeBot) calls() []models.Inbound {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Inbound(nil), b.inbound...)
}

func newTestHandler(bot Bot) (*ResponseHandler, *testutil.MockService, *store.InMemoryStore) {
	svc := testutil.NewMockService()
	st := store.NewInMemoryStore()
	return NewResponseHandler(bot, NewMessenger(svc, nil), st), svc, st
}

func TestResponseHandlerDecode(t *testing.T) {
	rh, _, _ := newTestHandler(&fakeBot{})
	rh.messenger.Choices().Remember("u1", models.GoalActionChoices("gym"))

	tests := []struct {
		name string
		body string
		want models.Action
	}{
		{"command wins", "/focus 25", models.CommandAction("focus", "25")},
		{"numeric choice", "2", models.SkipAction("gym")},
		{"number out of range is text", "7", models.TextAction("7")},
		{"raw token", "mood:tired", models.MoodAction(models.MoodTired)},
		{"free text", "  I'm stuck ", models.TextAction("I'm stuck")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rh.Decode("u1", tt.body)
			if got.Kind != tt.want.Kind || got.Token() != tt.want.Token() || got.Text != tt.want.Text || got.Command != tt.want.Command {
				t.Errorf("Decode(%q) = %+v, want %+v", tt.body, got, tt.want)
			}
		})
	}
}

func TestProcessResponseDeliversReply(t *testing.T) {
	bot := &fakeBot{reply: models.Reply{Text: "How do you feel?", Choices: models.MoodChoices()}}
	rh, svc, _ := newTestHandler(bot)

	err := rh.ProcessResponse(context.Background(), models.Response{MessageID: "m1", From: "u1", Name: "Ana", Body: "/checkin"})
	if err != nil {
		t.Fatalf("ProcessResponse failed: %v", err)
	}
	calls := bot.calls()
	if len(calls) != 1 || calls[0].UserID != "u1" || calls[0].Name != "Ana" || calls[0].Action.Command != models.CmdCheckin {
		t.Fatalf("bot calls = %+v", calls)
	}
	if got := svc.Last(); got.To != "u1" || got.Body != RenderReply(bot.reply) {
		t.Errorf("sent = %+v", got)
	}

	// The numbered reply resolves against the choices just delivered.
	if err := rh.ProcessResponse(context.Background(), models.Response{From: "u1", Body: "1"}); err != nil {
		t.Fatal(err)
	}
	if a := bot.calls()[1].Action; a.Kind != models.ActionMood || a.Mood != models.MoodTired {
		t.Errorf("numeric reply decoded as %+v", a)
	}
}

func TestProcessResponseDropsDuplicates(t *testing.T) {
	bot := &fakeBot{reply: models.TextReply("ok")}
	rh, svc, st := newTestHandler(bot)
	resp := models.Response{MessageID: "wamid.1", From: "u1", Body: "hello"}

	for i := 0; i < 3; i++ {
		if err := rh.ProcessResponse(context.Background(), resp); err != nil {
			t.Fatalf("ProcessResponse #%d failed: %v", i, err)
		}
	}
	if n := len(bot.calls()); n != 1 {
		t.Errorf("bot called %d times, want 1", n)
	}
	if n := len(svc.Sent()); n != 1 {
		t.Errorf("sent %d replies, want 1", n)
	}
	if dup, _ := st.IsDuplicate("wamid.1"); !dup {
		t.Error("message not recorded in dedup store")
	}
}

func TestProcessResponseErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"validation", models.NewValidationError("minutes", "Usage: /focus <minutes>"), "Usage: /focus <minutes>"},
		{"not found", models.NewNotFoundError("goal", "", "Set a goal first"), "Set a goal first"},
		{"internal", errors.New("db locked"), msgGenericFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rh, svc, _ := newTestHandler(&fakeBot{err: tt.err})
			if err := rh.ProcessResponse(context.Background(), models.Response{From: "u1", Body: "/focus"}); err != nil {
				t.Fatalf("ProcessResponse failed: %v", err)
			}
			if got := svc.Last().Body; got != tt.want {
				t.Errorf("reply = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProcessResponseTransportFailure(t *testing.T) {
	rh, svc, st := newTestHandler(&fakeBot{reply: models.TextReply("ok")})
	svc.FailWith(errors.New("offline"))
	err := rh.ProcessResponse(context.Background(), models.Response{MessageID: "m9", From: "u1", Body: "hi"})
	if !errors.Is(err, models.ErrTransportFailure) {
		t.Fatalf("expected ErrTransportFailure, got %v", err)
	}
	if dup, _ := st.IsDuplicate("m9"); !dup {
		t.Error("inbound should still be recorded")
	}
}

func TestProcessResponseRetriesUnansweredRedelivery(t *testing.T) {
	bot := &fakeBot{reply: models.TextReply("ok")}
	rh, svc, st := newTestHandler(bot)
	resp := models.Response{MessageID: "m10", From: "u1", Body: "hi"}

	svc.FailWith(errors.New("offline"))
	if err := rh.ProcessResponse(context.Background(), resp); err == nil {
		t.Fatal("expected delivery failure")
	}
	if done, _ := st.IsProcessed("m10"); done {
		t.Fatal("failed delivery should not mark the message processed")
	}

	svc.FailWith(nil)
	if err := rh.ProcessResponse(context.Background(), resp); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if n := len(bot.calls()); n != 2 {
		t.Errorf("bot called %d times, want 2", n)
	}
	if got := svc.Last().Body; got != "ok" {
		t.Errorf("reply = %q, want ok", got)
	}
	if done, _ := st.IsProcessed("m10"); !done {
		t.Error("answered redelivery should be marked processed")
	}

	// Once answered, further redeliveries are dropped.
	if err := rh.ProcessResponse(context.Background(), resp); err != nil {
		t.Fatal(err)
	}
	if n := len(bot.calls()); n != 2 {
		t.Errorf("bot called %d times after processed, want 2", n)
	}
}

func TestProcessResponseInvalidSender(t *testing.T) {
	bot := &fakeBot{}
	rh, _, _ := newTestHandler(bot)
	if err := rh.ProcessResponse(context.Background(), models.Response{From: "", Body: "hi"}); err == nil {
		t.Error("expected error for empty sender")
	}
	if len(bot.calls()) != 0 {
		t.Error("bot called for invalid sender")
	}
}

func TestResponseHandlerStart(t *testing.T) {
	bot := &fakeBot{reply: models.TextReply("pong")}
	rh, svc, _ := newTestHandler(bot)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rh.Start(ctx)
	svc.Inject(models.Response{From: "u1", Body: "ping"})

	deadline := time.Now().Add(2 * time.Second)
	for len(svc.Sent()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := svc.Last().Body; got != "pong" {
		t.Errorf("reply = %q, want pong", got)
	}
}
