package models

import (
	"fmt"
	"strings"
)

// ActionKind tags the variant held by an Action.
type ActionKind string

const (
	ActionText         ActionKind = "text"
	ActionCommand      ActionKind = "command"
	ActionMood         ActionKind = "mood"
	ActionDone         ActionKind = "done"
	ActionSkip         ActionKind = "skip"
	ActionOverride     ActionKind = "override"
	ActionCancelReason ActionKind = "cancel_reason"
	ActionSession      ActionKind = "session"
)

// SessionReply is the answer to a focus-session prompt.
type SessionReply string

const (
	SessionStartYes    SessionReply = "start_yes"
	SessionStartNo     SessionReply = "start_no"
	SessionStillYes    SessionReply = "still_yes"
	SessionStillNo     SessionReply = "still_no"
	SessionCompleteYes SessionReply = "complete_yes"
	SessionCompleteNo  SessionReply = "complete_no"
)

func (r SessionReply) valid() bool {
	switch r {
	case SessionStartYes, SessionStartNo, SessionStillYes, SessionStillNo, SessionCompleteYes, SessionCompleteNo:
		return true
	}
	return false
}

// Command names understood by the bot.
const (
	CmdStart       = "start"
	CmdHelp        = "help"
	CmdSetGoal     = "setgoal"
	CmdActiveGoal  = "goal"
	CmdCheckinTime = "checkintime"
	CmdCheckin     = "checkin"
	CmdFocus       = "focus"
	CmdFinish      = "finish"
	CmdStats       = "stats"
	CmdOverride    = "override"
)

const (
	tokenCancelReason = "cancel_reason"
	prefixMood        = "mood:"
	prefixDone        = "done:"
	prefixSkip        = "skip:"
	prefixOverride    = "override:"
	prefixSession     = "sess:"
)

// Action is a typed user action. Only the fields relevant to Kind are set.
type Action struct {
	Kind    ActionKind   `json:"kind"`
	Mood    Mood         `json:"mood,omitempty"`
	Goal    string       `json:"goal,omitempty"`
	Reply   SessionReply `json:"reply,omitempty"`
	Text    string       `json:"text,omitempty"`
	Command string       `json:"command,omitempty"`
	Args    []string     `json:"args,omitempty"`
}

func TextAction(text string) Action { return Action{Kind: ActionText, Text: text} }
func MoodAction(m Mood) Action      { return Action{Kind: ActionMood, Mood: m} }
func DoneAction(goal string) Action { return Action{Kind: ActionDone, Goal: goal} }
func SkipAction(goal string) Action { return Action{Kind: ActionSkip, Goal: goal} }

func OverrideAction(goal string) Action {
	return Action{Kind: ActionOverride, Goal: goal}
}

func CancelReasonAction() Action {
	return Action{Kind: ActionCancelReason}
}

func SessionAction(r SessionReply) Action {
	return Action{Kind: ActionSession, Reply: r}
}

func CommandAction(name string, args ...string) Action {
	return Action{Kind: ActionCommand, Command: name, Args: args}
}

// Token encodes a choice action back to its wire token. Text and command
// actions have no token and return "".
func (a Action) Token() string {
	switch a.Kind {
	case ActionMood:
		return prefixMood + string(a.Mood)
	case ActionDone:
		return prefixDone + a.Goal
	case ActionSkip:
		return prefixSkip + a.Goal
	case ActionOverride:
		return prefixOverride + a.Goal
	case ActionCancelReason:
		return tokenCancelReason
	case ActionSession:
		return prefixSession + string(a.Reply)
	}
	return ""
}

// ParseToken decodes a choice token such as "mood:tired" or "sess:start_yes".
func ParseToken(token string) (Action, error) {
	token = strings.TrimSpace(token)
	switch {
	case token == tokenCancelReason:
		return CancelReasonAction(), nil
	case strings.HasPrefix(token, prefixMood):
		m := Mood(strings.TrimPrefix(token, prefixMood))
		if !m.IsValid() {
			return Action{}, fmt.Errorf("%w: invalid mood in %q", ErrUnknownToken, token)
		}
		return MoodAction(m), nil
	case strings.HasPrefix(token, prefixDone):
		return goalToken(ActionDone, token, prefixDone)
	case strings.HasPrefix(token, prefixSkip):
		return goalToken(ActionSkip, token, prefixSkip)
	case strings.HasPrefix(token, prefixOverride):
		return goalToken(ActionOverride, token, prefixOverride)
	case strings.HasPrefix(token, prefixSession):
		r := SessionReply(strings.TrimPrefix(token, prefixSession))
		if !r.valid() {
			return Action{}, fmt.Errorf("%w: invalid session reply in %q", ErrUnknownToken, token)
		}
		return SessionAction(r), nil
	}
	return Action{}, fmt.Errorf("%w: %q", ErrUnknownToken, token)
}

func goalToken(kind ActionKind, token, prefix string) (Action, error) {
	goal := NormalizeGoalName(strings.TrimPrefix(token, prefix))
	if goal == "" {
		return Action{}, fmt.Errorf("%w: missing goal in %q", ErrUnknownToken, token)
	}
	return Action{Kind: kind, Goal: goal}, nil
}

// ParseCommand decodes a slash command. The bool is false when text is not a command.
func ParseCommand(text string) (Action, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return Action{}, false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return Action{}, false
	}
	name := strings.ToLower(fields[0])
	// Telegram-style "/cmd@botname".
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return CommandAction(name, fields[1:]...), true
}

// Decode turns raw inbound text into an action: command, choice token, or free text.
func Decode(text string) Action {
	if a, ok := ParseCommand(text); ok {
		return a
	}
	if a, err := ParseToken(text); err == nil {
		return a
	}
	return TextAction(strings.TrimSpace(text))
}

// MoodChoices are attached to every check-in prompt.
func MoodChoices() []Choice {
	return []Choice{
		{Label: "😴 Tired", Token: MoodAction(MoodTired).Token()},
		{Label: "🐒 Distracted", Token: MoodAction(MoodDistracted).Token()},
		{Label: "⚡ Anxious", Token: MoodAction(MoodAnxious).Token()},
		{Label: "✅ Fine", Token: MoodAction(MoodFine).Token()},
	}
}

// GoalActionChoices are offered after a mood is captured.
func GoalActionChoices(goal string) []Choice {
	return []Choice{
		{Label: "✅ I did " + goal, Token: DoneAction(goal).Token()},
		{Label: "🙅 Skip (give reason)", Token: SkipAction(goal).Token()},
		{Label: "🆘 Emergency Override", Token: OverrideAction(goal).Token()},
	}
}

// CancelReasonChoices lets the user back out of the skip-reason prompt.
func CancelReasonChoices() []Choice {
	return []Choice{{Label: "Cancel", Token: CancelReasonAction().Token()}}
}

// SessionChoices pairs a positive and negative session answer.
func SessionChoices(yesLabel string, yes SessionReply, noLabel string, no SessionReply) []Choice {
	return []Choice{
		{Label: yesLabel, Token: SessionAction(yes).Token()},
		{Label: noLabel, Token: SessionAction(no).Token()},
	}
}
