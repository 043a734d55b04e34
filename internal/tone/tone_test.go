package tone

import (
	"strings"
	"testing"
)

func TestFor(t *testing.T) {
	tests := []struct {
		streak, missed int
		want           Tone
	}{
		{0, 0, Neutral},
		{4, 0, Neutral},
		{5, 0, Supportive},
		{12, 0, Supportive},
		{0, 2, Neutral},
		{0, 3, Tough},
		{0, 9, Tough},
		{5, 3, Supportive},
		{4, 3, Tough},
	}
	for _, tt := range tests {
		if got := For(tt.streak, tt.missed); got != tt.want {
			t.Errorf("For(%d, %d) = %s, want %s", tt.streak, tt.missed, got, tt.want)
		}
	}
}

func TestForIsPure(t *testing.T) {
	for s := 0; s < 10; s++ {
		for m := 0; m < 10; m++ {
			if For(s, m) != For(s, m) {
				t.Fatalf("For(%d, %d) not deterministic", s, m)
			}
		}
	}
}

func TestStyle(t *testing.T) {
	tests := map[Tone]string{
		Supportive: "🔥 go",
		Tough:      "⚠️ go",
		Neutral:    "➡️ go",
	}
	for tn, want := range tests {
		if got := Style(tn, "go"); got != want {
			t.Errorf("Style(%s) = %q, want %q", tn, got, want)
		}
	}
}

func TestGuide(t *testing.T) {
	g := Guide(Tough)
	if !strings.Contains(g, "<TONE POLICY>") || !strings.Contains(g, "direct and firm") {
		t.Errorf("unexpected tough guide: %q", g)
	}
	if strings.Contains(Guide(Neutral), "firm") {
		t.Error("neutral guide should not be firm")
	}
}
