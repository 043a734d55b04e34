package util

import (
	"strings"
	"testing"
)

func onlyFrom(s, charset string) bool {
	return strings.Trim(s, charset) == ""
}

func TestGenerateRandomHex(t *testing.T) {
	for _, n := range []int{1, 8, 24} {
		got := GenerateRandomHex(n)
		if len(got) != n || !onlyFrom(got, hexDigits) {
			t.Errorf("GenerateRandomHex(%d) = %q", n, got)
		}
	}
	for _, n := range []int{0, -3} {
		if got := GenerateRandomHex(n); got != "" {
			t.Errorf("GenerateRandomHex(%d) = %q, want empty", n, got)
		}
	}
}

func TestGenerateEventID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		id := GenerateEventID()
		if !strings.HasPrefix(id, "evt_") || len(id) != 28 || !onlyFrom(id[4:], hexDigits) {
			t.Fatalf("GenerateEventID() = %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate event ID %q", id)
		}
		seen[id] = true
	}
}

func TestGenerateLockToken(t *testing.T) {
	a, b := GenerateLockToken(), GenerateLockToken()
	if len(a) != 32 || !onlyFrom(a, alnumSymbols) {
		t.Errorf("GenerateLockToken() = %q", a)
	}
	if a == b {
		t.Error("two lock tokens should differ")
	}
}
