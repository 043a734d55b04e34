package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/NudgePipe/internal/metrics"
	"github.com/BTreeMap/NudgePipe/internal/tone"
)

// blockingGenerator waits for its context to end.
type blockingGenerator struct{}

func (blockingGenerator) GeneratePrompt(ctx context.Context, system, user string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestCoachReply(t *testing.T) {
	tests := []struct {
		name     string
		gen      *fakeGenerator
		want     string
		failures int64
	}{
		{"success", &fakeGenerator{out: "Open the editor."}, "Open the editor.", 0},
		{"error", &fakeGenerator{err: errors.New("boom")}, "(Local coach) prompt", 1},
		{"empty", &fakeGenerator{out: "   "}, "(Local coach) prompt", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New()
			c := NewCoach(tt.gen, WithCoachMetrics(m))
			if got := c.Reply(context.Background(), "prompt", tone.Tough); got != tt.want {
				t.Errorf("Reply = %q, want %q", got, tt.want)
			}
			snap := m.Snapshot()
			if snap.GeneratorCalls != 1 || snap.GeneratorFailures != tt.failures {
				t.Errorf("metrics = %+v", snap)
			}
			if !strings.Contains(tt.gen.system, "<TONE POLICY>") || !strings.Contains(tt.gen.system, "direct and firm") {
				t.Errorf("system prompt missing tone guide: %q", tt.gen.system)
			}
		})
	}
}

func TestCoachWithoutGenerator(t *testing.T) {
	c := NewCoach(nil)
	if got := c.Reply(context.Background(), "hi", tone.Neutral); got != "(Local coach) hi" {
		t.Errorf("Reply = %q", got)
	}
}

func TestCoachTimeout(t *testing.T) {
	c := NewCoach(blockingGenerator{}, WithCoachTimeout(20*time.Millisecond))
	start := time.Now()
	if got := c.Reply(context.Background(), "hi", tone.Neutral); got != "(Local coach) hi" {
		t.Errorf("Reply = %q", got)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout not applied, took %v", elapsed)
	}
}

func TestCoachSlotsExhausted(t *testing.T) {
	c := NewCoach(&fakeGenerator{out: "ok"}, WithCoachSlots(1), WithCoachTimeout(20*time.Millisecond))
	c.slots <- struct{}{} // occupy the only slot
	if got := c.Reply(context.Background(), "hi", tone.Neutral); got != "(Local coach) hi" {
		t.Errorf("Reply = %q", got)
	}
	<-c.slots
	if got := c.Reply(context.Background(), "hi", tone.Neutral); got != "ok" {
		t.Errorf("Reply after slot freed = %q", got)
	}
}
