package models

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestParseTokenRoundTrip(t *testing.T) {
	tests := []struct {
		token string
		want  Action
	}{
		{"mood:tired", MoodAction(MoodTired)},
		{"mood:fine", MoodAction(MoodFine)},
		{"done:gym", DoneAction("gym")},
		{"skip:code", SkipAction("code")},
		{"override:gym", OverrideAction("gym")},
		{"cancel_reason", CancelReasonAction()},
		{"sess:start_yes", SessionAction(SessionStartYes)},
		{"sess:complete_no", SessionAction(SessionCompleteNo)},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, err := ParseToken(tt.token)
			if err != nil {
				t.Fatalf("ParseToken(%q) error: %v", tt.token, err)
			}
			if got.Kind != tt.want.Kind || got.Mood != tt.want.Mood || got.Goal != tt.want.Goal || got.Reply != tt.want.Reply {
				t.Errorf("ParseToken(%q) = %+v, want %+v", tt.token, got, tt.want)
			}
			if got.Token() != tt.token {
				t.Errorf("Token() = %q, want %q", got.Token(), tt.token)
			}
		})
	}
}

func TestParseTokenRejectsUnknown(t *testing.T) {
	for _, token := range []string{"", "mood:sleepy", "done:", "sess:maybe", "hello"} {
		if _, err := ParseToken(token); !errors.Is(err, ErrUnknownToken) {
			t.Errorf("ParseToken(%q) error = %v, want ErrUnknownToken", token, err)
		}
	}
}

func TestParseTokenNormalizesGoal(t *testing.T) {
	a, err := ParseToken("done: Gym ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Goal != "gym" {
		t.Errorf("goal = %q, want gym", a.Goal)
	}
}

func TestParseCommand(t *testing.T) {
	a, ok := ParseCommand("/SetGoal gym I want energy")
	if !ok {
		t.Fatal("expected command")
	}
	if a.Command != CmdSetGoal {
		t.Errorf("command = %q, want %q", a.Command, CmdSetGoal)
	}
	if len(a.Args) != 4 || a.Args[0] != "gym" || a.Args[3] != "energy" {
		t.Errorf("args = %v", a.Args)
	}

	a, ok = ParseCommand("/stats@nudgebot")
	if !ok || a.Command != CmdStats {
		t.Errorf("ParseCommand with bot suffix = %+v, %v", a, ok)
	}

	if _, ok := ParseCommand("just text"); ok {
		t.Error("plain text should not parse as a command")
	}
	if _, ok := ParseCommand("/"); ok {
		t.Error("bare slash should not parse as a command")
	}
}

func TestDecode(t *testing.T) {
	if a := Decode("/checkin"); a.Kind != ActionCommand || a.Command != CmdCheckin {
		t.Errorf("Decode(/checkin) = %+v", a)
	}
	if a := Decode("mood:anxious"); a.Kind != ActionMood || a.Mood != MoodAnxious {
		t.Errorf("Decode(mood:anxious) = %+v", a)
	}
	if a := Decode("  too tired today "); a.Kind != ActionText || a.Text != "too tired today" {
		t.Errorf("Decode(text) = %+v", a)
	}
}

func TestParseTerminalState(t *testing.T) {
	tests := map[string]SessionState{
		"":        SessionDone,
		"done":    SessionDone,
		"TIMEOUT": SessionTimeout,
		"abort":   SessionAborted,
	}
	for in, want := range tests {
		got, ok := ParseTerminalState(in)
		if !ok || got != want {
			t.Errorf("ParseTerminalState(%q) = %q, %v; want %q", in, got, ok, want)
		}
	}
	if _, ok := ParseTerminalState("paused"); ok {
		t.Error("expected paused to be rejected")
	}
}

func TestCooldownActive(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)
	until := now.Add(10 * time.Minute)
	s := &UserState{CooldownUntil: &until}
	if !s.CooldownActive(now) {
		t.Error("expected cooldown to be active before deadline")
	}
	if s.CooldownActive(until) {
		t.Error("expected cooldown to be over at deadline")
	}
	var nilState *UserState
	if nilState.CooldownActive(now) {
		t.Error("nil state should not be in cooldown")
	}
}

func TestUserMessage(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewValidationError("hour", "Enter an hour 0–23."))
	msg, ok := UserMessage(err)
	if !ok || msg != "Enter an hour 0–23." {
		t.Errorf("UserMessage = %q, %v", msg, ok)
	}
	if !IsValidation(err) {
		t.Error("expected IsValidation to be true")
	}

	nf := NewNotFoundError("goal", "gym", "Set a goal first: /setgoal <goal> <why>")
	if !IsNotFound(nf) {
		t.Error("expected IsNotFound to be true")
	}
	if msg, _ := UserMessage(nf); msg != "Set a goal first: /setgoal <goal> <why>" {
		t.Errorf("NotFound UserMessage = %q", msg)
	}

	if _, ok := UserMessage(errors.New("boom")); ok {
		t.Error("plain errors should not be user facing")
	}
}
