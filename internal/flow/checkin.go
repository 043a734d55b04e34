package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/BTreeMap/NudgePipe/internal/models"
	"github.com/BTreeMap/NudgePipe/internal/tone"
)

// SetGoal creates or overwrites a goal and its rationale.
func (e *Engine) SetGoal(ctx context.Context, userID, name, why string) (models.Reply, error) {
	defer e.lockUser(userID)()
	goal := models.NormalizeGoalName(name)
	why = strings.TrimSpace(why)
	if goal == "" || why == "" || strings.ContainsAny(goal, " :") {
		return models.Reply{}, models.NewValidationError("goal", msgUsageSetGoal)
	}
	if _, err := e.profile(userID); err != nil {
		return models.Reply{}, err
	}
	now := e.now().UTC()
	if err := e.store.UpsertGoal(models.Goal{UserID: userID, Name: goal, Why: why, CreatedAt: now, UpdatedAt: now}); err != nil {
		return models.Reply{}, fmt.Errorf("failed to save goal %s: %w", goal, err)
	}
	if err := e.logEvent(userID, models.EventWhy, map[string]string{"goal": goal}); err != nil {
		return models.Reply{}, err
	}
	slog.Info("Engine.SetGoal: goal saved", "userID", userID, "goal", goal)
	return models.TextReply(goalSavedText(goal, why)), nil
}

// SetActiveGoal points check-ins and sessions at an existing goal.
func (e *Engine) SetActiveGoal(ctx context.Context, userID, name string) (models.Reply, error) {
	defer e.lockUser(userID)()
	goal := models.NormalizeGoalName(name)
	if goal == "" {
		return models.Reply{}, models.NewValidationError("goal", msgUsageActiveGoal)
	}
	if _, err := e.profile(userID); err != nil {
		return models.Reply{}, err
	}
	g, err := e.store.GetGoal(userID, goal)
	if err != nil {
		return models.Reply{}, fmt.Errorf("failed to load goal %s: %w", goal, err)
	}
	if g == nil {
		return models.Reply{}, models.NewNotFoundError("goal", goal,
			fmt.Sprintf("No goal named %q. Add it with /setgoal %s <why>", goal, goal))
	}
	if err := e.store.SetActiveGoal(userID, goal); err != nil {
		return models.Reply{}, fmt.Errorf("failed to set active goal: %w", err)
	}
	if err := e.logEvent(userID, models.EventGeneric, map[string]string{"field": "active_goal", "goal": goal}); err != nil {
		return models.Reply{}, err
	}
	return models.TextReply(fmt.Sprintf("Active goal: %s → “%s”.", goal, whyOrPlaceholder(g))), nil
}

// SetCheckinHour changes the local hour of the daily check-in.
func (e *Engine) SetCheckinHour(ctx context.Context, userID string, hour int) (models.Reply, error) {
	defer e.lockUser(userID)()
	if hour < 0 || hour > 23 {
		return models.Reply{}, models.NewValidationError("hour", msgInvalidHour)
	}
	if _, err := e.profile(userID); err != nil {
		return models.Reply{}, err
	}
	if err := e.store.SetCheckinHour(userID, hour); err != nil {
		return models.Reply{}, fmt.Errorf("failed to set check-in hour: %w", err)
	}
	if err := e.logEvent(userID, models.EventGeneric, map[string]string{"field": "checkin_hour", "hour": strconv.Itoa(hour)}); err != nil {
		return models.Reply{}, err
	}
	return models.TextReply(checkinHourText(hour, e.loc)), nil
}

// ManualCheckin starts a check-in for the active goal right away.
func (e *Engine) ManualCheckin(ctx context.Context, userID string) (models.Reply, error) {
	defer e.lockUser(userID)()
	p, err := e.profile(userID)
	if err != nil {
		return models.Reply{}, err
	}
	g, err := e.requireActiveGoal(p)
	if err != nil {
		return models.Reply{}, err
	}
	if err := e.stampCheckin(userID); err != nil {
		return models.Reply{}, err
	}
	if err := e.logEvent(userID, models.EventCheckin, map[string]string{"goal": g.Name, "manual": "true"}); err != nil {
		return models.Reply{}, err
	}
	return models.Reply{Text: manualCheckinText(g.Name), Choices: models.MoodChoices()}, nil
}

func (e *Engine) stampCheckin(userID string) error {
	st, err := e.userState(userID)
	if err != nil {
		return err
	}
	now := e.now().UTC()
	st.LastCheckin = &now
	if err := e.store.SaveUserState(st); err != nil {
		return fmt.Errorf("failed to save state for %s: %w", userID, err)
	}
	return nil
}

// SelectMood records the mood and answers with a tiny step for the active goal.
func (e *Engine) SelectMood(ctx context.Context, userID string, mood models.Mood) (models.Reply, error) {
	defer e.lockUser(userID)()
	if !mood.IsValid() {
		return models.Reply{}, models.NewValidationError("mood", "Pick one of: tired, distracted, anxious, fine.")
	}
	p, err := e.profile(userID)
	if err != nil {
		return models.Reply{}, err
	}
	g, err := e.requireActiveGoal(p)
	if err != nil {
		return models.Reply{}, err
	}
	st, err := e.userState(userID)
	if err != nil {
		return models.Reply{}, err
	}
	st.Mood = mood
	if err := e.store.SaveUserState(st); err != nil {
		return models.Reply{}, fmt.Errorf("failed to save mood: %w", err)
	}
	if err := e.logEvent(userID, models.EventMood, map[string]string{"mood": string(mood)}); err != nil {
		return models.Reply{}, err
	}
	step := e.flavors.TinyStep(e.rng, mood, g.Name)
	text := tone.Style(e.toneFor(p), tinyStepText(step, whyOrPlaceholder(g)))
	return models.Reply{Text: text, Choices: models.GoalActionChoices(g.Name)}, nil
}

// goalOrActive normalizes goal, resolving the active goal when it is empty.
func (e *Engine) goalOrActive(userID, goal string) (string, error) {
	goal = models.NormalizeGoalName(goal)
	if goal != "" {
		return goal, nil
	}
	p, err := e.profile(userID)
	if err != nil {
		return "", err
	}
	g, err := e.requireActiveGoal(p)
	if err != nil {
		return "", err
	}
	return g.Name, nil
}

// MarkDone bumps the streak, resets missed days and praises the user.
func (e *Engine) MarkDone(ctx context.Context, userID, goal string) (models.Reply, error) {
	defer e.lockUser(userID)()
	goal, err := e.goalOrActive(userID, goal)
	if err != nil {
		return models.Reply{}, err
	}
	p, err := e.store.BumpStreak(userID, 1)
	if err != nil {
		return models.Reply{}, fmt.Errorf("failed to bump streak: %w", err)
	}
	if err := e.logEvent(userID, models.EventDone, map[string]string{"goal": goal}); err != nil {
		return models.Reply{}, err
	}
	slog.Info("Engine.MarkDone: streak bumped", "userID", userID, "goal", goal, "streak", p.Streak)
	return models.TextReply(doneText(goal, e.flavors.PickPraise(e.rng, p.Streak))), nil
}

// Skip imposes the cooldown, counts a missed day and asks for a reason.
func (e *Engine) Skip(ctx context.Context, userID, goal string) (models.Reply, error) {
	defer e.lockUser(userID)()
	goal, err := e.goalOrActive(userID, goal)
	if err != nil {
		return models.Reply{}, err
	}
	st, err := e.userState(userID)
	if err != nil {
		return models.Reply{}, err
	}
	until := e.now().UTC().Add(e.cooldown)
	st.CooldownUntil = &until
	st.PendingReasonGoal = goal
	if err := e.store.SaveUserState(st); err != nil {
		return models.Reply{}, fmt.Errorf("failed to save cooldown: %w", err)
	}
	if _, err := e.store.BumpMissed(userID, 1); err != nil {
		return models.Reply{}, fmt.Errorf("failed to bump missed days: %w", err)
	}
	if err := e.logEvent(userID, models.EventSkip, map[string]string{"goal": goal}); err != nil {
		return models.Reply{}, err
	}
	return models.Reply{
		Text:    fmt.Sprintf(msgSkipNoted, int(e.cooldown.Minutes())),
		Choices: models.CancelReasonChoices(),
	}, nil
}

// CancelReason drops a pending skip reason.
func (e *Engine) CancelReason(ctx context.Context, userID string) (models.Reply, error) {
	defer e.lockUser(userID)()
	st, err := e.userState(userID)
	if err != nil {
		return models.Reply{}, err
	}
	if st.PendingReasonGoal != "" {
		st.PendingReasonGoal = ""
		if err := e.store.SaveUserState(st); err != nil {
			return models.Reply{}, fmt.Errorf("failed to clear pending reason: %w", err)
		}
	}
	return models.TextReply(msgReasonCanceled), nil
}

// Override sends the grounding script. It ignores the cooldown.
func (e *Engine) Override(ctx context.Context, userID, goal string) (models.Reply, error) {
	defer e.lockUser(userID)()
	goal, err := e.goalOrActive(userID, goal)
	if err != nil {
		return models.Reply{}, err
	}
	why, err := e.goalWhy(userID, goal)
	if err != nil {
		return models.Reply{}, err
	}
	if err := e.logEvent(userID, models.EventOverride, map[string]string{"goal": goal}); err != nil {
		return models.Reply{}, err
	}
	return models.TextReply(overrideText(goal, why)), nil
}

// HandleText routes free text: cooldown gate, pending skip reason, then coach.
func (e *Engine) HandleText(ctx context.Context, userID, text string) (models.Reply, error) {
	defer e.lockUser(userID)()
	text = strings.TrimSpace(text)
	st, err := e.userState(userID)
	if err != nil {
		return models.Reply{}, err
	}
	if st.CooldownActive(e.now()) {
		slog.Debug("Engine.HandleText: cooldown active", "userID", userID, "until", st.CooldownUntil)
		return models.TextReply(msgCooldownRefusal), nil
	}
	if text == "" {
		return models.TextReply(helpText), nil
	}

	if goal := st.PendingReasonGoal; goal != "" {
		st.PendingReasonGoal = ""
		if err := e.store.SaveUserState(st); err != nil {
			return models.Reply{}, fmt.Errorf("failed to clear pending reason: %w", err)
		}
		if err := e.logEvent(userID, models.EventReason, map[string]string{"goal": goal, "reason": text}); err != nil {
			return models.Reply{}, err
		}
		why, err := e.goalWhy(userID, goal)
		if err != nil {
			return models.Reply{}, err
		}
		step := e.flavors.TinyStep(e.rng, models.MoodDistracted, goal)
		return models.TextReply(reasonNudgeText(why, step)), nil
	}

	p, err := e.profile(userID)
	if err != nil {
		return models.Reply{}, err
	}
	g, err := e.activeGoal(p)
	if err != nil {
		return models.Reply{}, err
	}
	goal := models.NoWhy
	if g != nil {
		goal = g.Name
	}
	return models.TextReply(e.coach.Reply(ctx, coachPrompt(text, goal), e.toneFor(p))), nil
}
