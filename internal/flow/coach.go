package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/NudgePipe/internal/genai"
	"github.com/BTreeMap/NudgePipe/internal/metrics"
	"github.com/BTreeMap/NudgePipe/internal/models"
	"github.com/BTreeMap/NudgePipe/internal/tone"
)

// Coach defaults.
const (
	DefaultCoachTimeout = 20 * time.Second
	DefaultCoachSlots   = 4
)

// Coach wraps a text generator with a timeout, a bounded number of
// concurrent calls and a local fallback. Reply never fails.
type Coach struct {
	gen     genai.Generator
	timeout time.Duration
	slots   chan struct{}
	metrics *metrics.Metrics
}

// CoachOption configures a Coach.
type CoachOption func(*Coach)

// WithCoachTimeout bounds a single generator call.
func WithCoachTimeout(d time.Duration) CoachOption {
	return func(c *Coach) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCoachSlots sets how many generator calls may run at once.
func WithCoachSlots(n int) CoachOption {
	return func(c *Coach) {
		if n > 0 {
			c.slots = make(chan struct{}, n)
		}
	}
}

// WithCoachMetrics attaches counters.
func WithCoachMetrics(m *metrics.Metrics) CoachOption {
	return func(c *Coach) { c.metrics = m }
}

// NewCoach creates a Coach. A nil generator always answers locally.
func NewCoach(gen genai.Generator, opts ...CoachOption) *Coach {
	c := &Coach{
		gen:     gen,
		timeout: DefaultCoachTimeout,
		slots:   make(chan struct{}, DefaultCoachSlots),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reply asks the generator for coaching text in the given tone. On any
// failure, empty output or a full slot pool past the deadline it returns
// the local fallback.
func (c *Coach) Reply(ctx context.Context, prompt string, t tone.Tone) string {
	out, err := c.generate(ctx, prompt, t)
	if err != nil {
		c.metrics.GeneratorFailure()
		slog.Warn("Coach.Reply: using local fallback", "error", err)
		return msgLocalCoachPrefix + prompt
	}
	return out
}

func (c *Coach) generate(ctx context.Context, prompt string, t tone.Tone) (string, error) {
	if c.gen == nil {
		return "", fmt.Errorf("%w: no generator configured", models.ErrGeneratorFailure)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	select {
	case c.slots <- struct{}{}:
		defer func() { <-c.slots }()
	case <-ctx.Done():
		return "", fmt.Errorf("%w: waiting for a slot: %w", models.ErrGeneratorFailure, ctx.Err())
	}

	c.metrics.GeneratorCall()
	system := coachSystemPrompt + "\n\n" + tone.Guide(t)
	out, err := c.gen.GeneratePrompt(ctx, system, prompt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			slog.Debug("Coach.generate: generator timed out", "timeout", c.timeout)
		}
		return "", fmt.Errorf("%w: %w", models.ErrGeneratorFailure, err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("%w: empty output", models.ErrGeneratorFailure)
	}
	return out, nil
}
