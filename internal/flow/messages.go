package flow

import (
	"fmt"
	"strings"
	"time"

	"github.com/BTreeMap/NudgePipe/internal/models"
)

// Fixed reply texts.
const (
	msgUsageSetGoal     = "Usage: /setgoal <goal> <your reason>"
	msgUsageActiveGoal  = "Usage: /goal <name>"
	msgUsageCheckinTime = "Usage: /checkintime <hour 0-23>"
	msgInvalidHour      = "Enter an hour 0–23."
	msgUsageFocus       = "Usage: /focus <minutes 1-240> [goal]"
	msgUsageFinish      = "Usage: /finish [done|timeout|abort]"
	msgSetGoalFirst     = "Set a goal first: /setgoal <goal> <why>"
	msgNoActiveSession  = "No active focus session. Start one with /focus <minutes> [goal]"
	msgCooldownRefusal  = "Cooldown active. Back to work; try again later."
	msgSkipNoted        = "Skip noted. Entertainment cooldown: %d min.\nWhat’s the reason?"
	msgReasonCanceled   = "Reason entry canceled."
	msgLocalCoachPrefix = "(Local coach) "

	msgGrounding = "Grounding: 6 cycles, inhale 4, hold 4, exhale 6. Drink water. Stand up and shake arms."

	msgInsightSuggestion = "stack your hardest task right after your natural energy peak."

	coachSystemPrompt = "You are NudgePipe, a concise, no-nonsense accountability coach. " +
		"Answer in at most three short sentences and always end with one concrete next step the user can take in under two minutes."
)

// Session prompt texts.
const (
	msgSessionStartPrompt    = "⏱️ Did you start **%s**?"
	msgSessionStillPrompt    = "Still working on **%s**?"
	msgSessionCompletePrompt = "⌛ Time’s up for **%s**. Did you finish?"
	msgSessionStartYes       = "Locked in. I’ll check back in 15 min."
	msgSessionStartNo        = "Open it now. Two minutes, that’s all. I’ll ask again in 5 min."
	msgSessionStillYes       = "Keep going. Next check in 15 min."
	msgSessionStillNo        = "Drift happens. Close the distraction and restart **%s**. I’ll ask again in 5 min."
	msgSessionCompleteYes    = "✅ Session done: **%s**. Nice work."
	msgSessionCompleteNo     = "Finish the last piece. I’ll ask again in 5 min."
)

func welcomeText(defaultHour int) string {
	return fmt.Sprintf("NudgePipe online, your state-aware coach.\n\n"+
		"Add a goal with a personal reason:\n"+
		"• /setgoal gym I want energy and consistency\n"+
		"• /setgoal code Freedom via skills\n\n"+
		"Daily check-in at %02d:00 by default. Change: /checkintime 7  (0–23)\n"+
		"Run the loop anytime: /checkin\n"+
		"Focus block: /focus 25 [goal]\n"+
		"See progress: /stats", defaultHour)
}

const helpText = "Commands:\n" +
	"/setgoal <goal> <why> - add or update a goal\n" +
	"/goal <name> - pick the active goal\n" +
	"/checkintime <hour> - daily check-in hour (0–23)\n" +
	"/checkin - check in now\n" +
	"/focus <minutes> [goal] - start a focus session\n" +
	"/finish [done|timeout|abort] - end the focus session\n" +
	"/override [goal] - emergency override\n" +
	"/stats - progress and recent events"

func whyOrPlaceholder(g *models.Goal) string {
	if g == nil || strings.TrimSpace(g.Why) == "" {
		return models.NoWhy
	}
	return g.Why
}

func goalSavedText(goal, why string) string {
	return fmt.Sprintf("Saved: %s → “%s”. Use /checkin to start.", goal, why)
}

func checkinHourText(hour int, loc *time.Location) string {
	return fmt.Sprintf("Daily check-in set to %02d:00 %s.", hour, loc.String())
}

func manualCheckinText(goal string) string {
	return fmt.Sprintf("Check-in for **%s**. How are you right now?", goal)
}

func dailyCheckinText(goal string) string {
	return fmt.Sprintf("Daily check-in for **%s**. How are you right now?", goal)
}

func tinyStepText(step, why string) string {
	return fmt.Sprintf("%s\n\nYour why: “%s”.", step, why)
}

func doneText(goal, praise string) string {
	return fmt.Sprintf("✅ Logged: %s. %s", goal, praise)
}

func reasonNudgeText(why, step string) string {
	return fmt.Sprintf("You said “%s”. Is this reason stronger than that?\nNext tiny step: %s", why, step)
}

func coachPrompt(text, goal string) string {
	return fmt.Sprintf("User said: '%s'.\nCurrent focus goal: '%s'.\n"+
		"Reply as a concise, no-nonsense accountability coach. Offer a smallest next step.", text, goal)
}

func overrideText(goal, why string) string {
	step2 := fmt.Sprintf("Your why: “%s”.", why)
	step3 := fmt.Sprintf("Smallest action: open the tool for %s (code → open your editor; gym → put on shoes). 90-second rule.", goal)
	return msgGrounding + "\n\n" + step2 + "\n\n" + step3
}

func insightText(in WeeklyInsight) string {
	return fmt.Sprintf("📊 Weekly Insight\n"+
		"• Done: %d | Skips: %d\n"+
		"• Most frequent state: %s\n"+
		"• Suggestion: %s\n"+
		"Reply /stats for last events.", in.Done, in.Skip, in.TopMood, msgInsightSuggestion)
}

func sessionStartedText(s models.Session, loc *time.Location) string {
	return fmt.Sprintf("🎯 Focus on **%s** for %d min (until %s). I’ll check in within 5 min.",
		s.Goal, s.TimeboxMinutes, s.EndsAt.In(loc).Format("15:04"))
}

func sessionFinishedText(s models.Session) string {
	switch s.State {
	case models.SessionDone:
		return fmt.Sprintf(msgSessionCompleteYes, s.Goal)
	case models.SessionTimeout:
		return fmt.Sprintf("⌛ Session timed out: **%s**. Start a shorter one when ready.", s.Goal)
	default:
		return fmt.Sprintf("Session aborted: **%s**.", s.Goal)
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// statsText renders the /stats reply.
func statsText(st *models.Stats, loc *time.Location) string {
	mood := string(st.LastMood)
	if mood == "" {
		mood = "n/a"
	}
	lines := []string{
		fmt.Sprintf("Goals: %d | Streak: %d | MissedDays: %d", st.Goals, st.Streak, st.MissedDays),
		fmt.Sprintf("Last mood: %s | Cooldown: %s", mood, onOff(st.CooldownActive)),
	}
	if s := st.ActiveSession; s != nil {
		lines = append(lines, fmt.Sprintf("Focus: %s until %s (nudges: %d)", s.Goal, s.EndsAt.In(loc).Format("15:04"), s.NudgesSent))
	}
	lines = append(lines, "Recent:")
	for _, e := range st.Recent {
		lines = append(lines, fmt.Sprintf("• %s – %s", e.At.In(loc).Format("Jan 02 15:04"), e.Kind))
	}
	return strings.Join(lines, "\n")
}
