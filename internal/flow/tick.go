package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/NudgePipe/internal/models"
)

// TickKind selects which scheduled job a tick runs.
type TickKind string

const (
	TickDaily   TickKind = "daily"
	TickWeekly  TickKind = "weekly"
	TickSession TickKind = "session"
)

// TickKinds lists every kind in the order the CLI documents them.
var TickKinds = []TickKind{TickDaily, TickWeekly, TickSession}

// ParseTickKind validates a tick kind from user input.
func ParseTickKind(s string) (TickKind, error) {
	k := TickKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case TickDaily, TickWeekly, TickSession:
		return k, nil
	}
	return "", models.NewValidationError("kind", fmt.Sprintf("unknown tick kind %q (want daily, weekly or session)", s))
}

// TickResult summarizes one tick run.
type TickResult struct {
	Kind       TickKind  `json:"kind"`
	Skipped    bool      `json:"skipped"`
	Scanned    int       `json:"scanned"`
	Sent       int       `json:"sent"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Tick runs one scheduled job. Ticks of the same kind never overlap; a tick
// that finds its lock taken returns a skipped result. Per-user failures are
// logged and counted, never returned.
func (e *Engine) Tick(ctx context.Context, kind TickKind) (TickResult, error) {
	res := TickResult{Kind: kind, StartedAt: e.now().UTC()}
	if _, err := ParseTickKind(string(kind)); err != nil {
		return res, err
	}
	e.metrics.Tick()

	release, ok, err := e.locker.TryLock(ctx, string(kind), e.tickLockTTL)
	if err != nil {
		return res, fmt.Errorf("failed to take %s tick lock: %w", kind, err)
	}
	if !ok {
		slog.Info("Engine.Tick: lock held elsewhere, skipping", "kind", kind)
		res.Skipped = true
		res.FinishedAt = e.now().UTC()
		return res, nil
	}
	defer release()

	switch kind {
	case TickDaily:
		err = e.tickDaily(ctx, &res)
	case TickWeekly:
		err = e.tickWeekly(ctx, &res)
	case TickSession:
		err = e.tickSessions(ctx, &res)
	}
	res.FinishedAt = e.now().UTC()
	if err != nil {
		return res, err
	}
	slog.Info("Engine.Tick: done", "kind", kind, "scanned", res.Scanned, "sent", res.Sent, "failed", res.Failed,
		"duration", res.FinishedAt.Sub(res.StartedAt))
	return res, nil
}

// count folds a per-user outcome into the result.
func (res *TickResult) count(sent bool, err error) {
	switch {
	case err != nil:
		res.Failed++
	case sent:
		res.Sent++
	}
}

func (e *Engine) deliver(ctx context.Context, userID string, reply models.Reply) error {
	if e.notifier == nil {
		return fmt.Errorf("%w: no notifier configured", models.ErrTransportFailure)
	}
	return e.notifier.Deliver(ctx, userID, reply)
}

func (e *Engine) tickDaily(ctx context.Context, res *TickResult) error {
	users, err := e.store.ListUsers()
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		res.Scanned++
		sent, err := e.dailyCheckin(ctx, u.UserID)
		if err != nil {
			slog.Error("Engine.tickDaily: check-in failed", "userID", u.UserID, "error", err)
		}
		res.count(sent, err)
	}
	return nil
}

// DailyKey identifies the local hour a daily check-in belongs to.
func DailyKey(local time.Time) string {
	return local.Format("2006-01-02-15")
}

// WeekKey identifies the ISO week of t.
func WeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

func (e *Engine) dailyCheckin(ctx context.Context, userID string) (bool, error) {
	defer e.lockUser(userID)()
	p, err := e.profile(userID)
	if err != nil {
		return false, err
	}
	local := e.now().In(e.loc)
	if local.Hour() != p.CheckinHour {
		return false, nil
	}
	key := DailyKey(local)
	if key == p.LastCheckinKey {
		return false, nil
	}
	g, err := e.activeGoal(p)
	if err != nil {
		return false, err
	}
	if g == nil {
		slog.Debug("Engine.dailyCheckin: no goal, skipping", "userID", userID)
		return false, nil
	}
	if err := e.deliver(ctx, userID, models.Reply{Text: dailyCheckinText(g.Name), Choices: models.MoodChoices()}); err != nil {
		return false, err
	}
	if err := e.store.SetLastCheckinKey(userID, key); err != nil {
		return true, fmt.Errorf("failed to store check-in key: %w", err)
	}
	if err := e.stampCheckin(userID); err != nil {
		return true, err
	}
	e.metrics.CheckinSent()
	return true, e.logEvent(userID, models.EventCheckin, map[string]string{"goal": g.Name, "auto": "true"})
}

func (e *Engine) tickWeekly(ctx context.Context, res *TickResult) error {
	users, err := e.store.ListUsers()
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		res.Scanned++
		sent, err := e.weeklyInsight(ctx, u.UserID)
		if err != nil {
			slog.Error("Engine.tickWeekly: insight failed", "userID", u.UserID, "error", err)
		}
		res.count(sent, err)
	}
	return nil
}

func (e *Engine) weeklyInsight(ctx context.Context, userID string) (bool, error) {
	defer e.lockUser(userID)()
	p, err := e.profile(userID)
	if err != nil {
		return false, err
	}
	now := e.now()
	key := WeekKey(now.In(e.loc))
	if key == p.LastInsightKey {
		return false, nil
	}
	events, err := e.store.ListEvents(userID, now.UTC().Add(-7*24*time.Hour))
	if err != nil {
		return false, fmt.Errorf("failed to list events: %w", err)
	}
	in := AggregateWeek(events)
	if err := e.deliver(ctx, userID, models.TextReply(insightText(in))); err != nil {
		return false, err
	}
	if err := e.store.SetLastInsightKey(userID, key); err != nil {
		return true, fmt.Errorf("failed to store insight key: %w", err)
	}
	e.metrics.InsightSent()
	return true, e.logEvent(userID, models.EventInsight, map[string]string{
		"done":     strconv.Itoa(in.Done),
		"skip":     strconv.Itoa(in.Skip),
		"top_mood": in.TopMood,
	})
}

func (e *Engine) tickSessions(ctx context.Context, res *TickResult) error {
	sessions, err := e.store.ListActiveSessions()
	if err != nil {
		return fmt.Errorf("failed to list active sessions: %w", err)
	}
	for _, s := range sessions {
		if err := ctx.Err(); err != nil {
			return err
		}
		res.Scanned++
		sent, err := e.advanceSession(ctx, s.UserID, s.ID)
		if err != nil {
			slog.Error("Engine.tickSessions: session step failed", "userID", s.UserID, "sessionID", s.ID, "error", err)
		}
		res.count(sent, err)
	}
	return nil
}

var errNothingDue = errors.New("nothing due")

// advanceSession sends whichever session prompt is due and records it.
// When the send fails the session is left as is so the next tick retries.
func (e *Engine) advanceSession(ctx context.Context, userID, sessionID string) (bool, error) {
	defer e.lockUser(userID)()
	s, err := e.store.GetSession(sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to reload session: %w", err)
	}
	if s == nil || s.State != models.SessionActive {
		return false, nil
	}
	now := e.now().UTC()

	reply, nudge, err := e.sessionStep(s, now)
	if errors.Is(err, errNothingDue) {
		return false, nil
	}
	if !reply.IsEmpty() {
		if err := e.deliver(ctx, userID, reply); err != nil {
			return false, err
		}
	}
	s.UpdatedAt = now
	if err := e.store.SaveSession(*s); err != nil {
		return !reply.IsEmpty(), fmt.Errorf("failed to save session %s: %w", s.ID, err)
	}
	if nudge {
		e.metrics.NudgeSent()
	}
	return !reply.IsEmpty(), nil
}

// sessionStep mutates s for the prompt due at now and returns it. The reply
// is empty when the nudge cap is reached and only the next check moves.
func (e *Engine) sessionStep(s *models.Session, now time.Time) (models.Reply, bool, error) {
	ended := !now.Before(s.EndsAt)
	due := s.NextCheckAt == nil || !now.Before(*s.NextCheckAt)

	switch {
	case ended && (!s.AskedCompletion || due):
		s.AskedCompletion = true
		s.NextCheckAt = timePtr(now.Add(StartCheckInterval))
		return models.Reply{
			Text:    fmt.Sprintf(msgSessionCompletePrompt, s.Goal),
			Choices: models.SessionChoices("✅ Yes, done", models.SessionCompleteYes, "⏳ Not yet", models.SessionCompleteNo),
		}, false, nil
	case !due:
		return models.Reply{}, false, errNothingDue
	case !s.StartedConfirmed:
		s.NudgesSent++
		s.NextCheckAt = timePtr(now.Add(StartCheckInterval))
		return models.Reply{
			Text:    fmt.Sprintf(msgSessionStartPrompt, s.Goal),
			Choices: models.SessionChoices("✅ Started", models.SessionStartYes, "❌ Not yet", models.SessionStartNo),
		}, true, nil
	case s.NudgesSent < MaxSessionNudges:
		s.NudgesSent++
		s.NextCheckAt = timePtr(now.Add(NudgeInterval))
		return models.Reply{
			Text:    fmt.Sprintf(msgSessionStillPrompt, s.Goal),
			Choices: models.SessionChoices("💪 Yes", models.SessionStillYes, "😵 Drifted", models.SessionStillNo),
		}, true, nil
	default:
		s.NextCheckAt = timePtr(now.Add(NudgeInterval))
		return models.Reply{}, false, nil
	}
}
