// Package tone derives the coaching tone from a user's streak counters and
// turns it into message styling and prompt-guide text for the LLM coach.
package tone

import (
	"strings"
)

// Tone is the coaching register used for a user.
type Tone string

const (
	Supportive Tone = "supportive"
	Tough      Tone = "tough"
	Neutral    Tone = "neutral"
)

// ---- Thresholds ----

const (
	// SupportiveStreak is the streak at which praise takes over.
	SupportiveStreak = 5
	// ToughMissedDays is the missed-day count at which the coach gets firm.
	ToughMissedDays = 3
)

// For returns the tone for the given counters. A long streak wins over
// missed days.
func For(streak, missedDays int) Tone {
	switch {
	case streak >= SupportiveStreak:
		return Supportive
	case missedDays >= ToughMissedDays:
		return Tough
	default:
		return Neutral
	}
}

// Prefix returns the marker placed in front of styled messages.
func (t Tone) Prefix() string {
	switch t {
	case Supportive:
		return "🔥 "
	case Tough:
		return "⚠️ "
	default:
		return "➡️ "
	}
}

// Style prefixes text with the tone marker.
func Style(t Tone, text string) string {
	return t.Prefix() + text
}

// Guide produces a compact instruction snippet for injection into LLM system
// prompts.
func Guide(t Tone) string {
	var b strings.Builder
	b.WriteString("\n<TONE POLICY>\n")
	switch t {
	case Supportive:
		b.WriteString("- The user is on a strong streak. Be warm and encouraging, then push for the next rep.\n")
	case Tough:
		b.WriteString("- The user has missed several days. Be direct and firm. No lectures, just the next action.\n")
	default:
		b.WriteString("- Keep a neutral, matter-of-fact stance.\n")
	}
	b.WriteString("- Be concise: two or three short sentences.\n")
	b.WriteString("- NEVER mirror hostility, sarcasm, insults, or unsafe language.\n")
	b.WriteString("</TONE POLICY>\n")
	return b.String()
}
