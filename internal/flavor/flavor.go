// Package flavor holds the weighted text tables (praise lines, tiny steps)
// that give replies some variety. Selection goes through an injected Rand so
// callers can pin it.
package flavor

import (
	_ "embed"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/BTreeMap/NudgePipe/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultTables []byte

// GoalPlaceholder is replaced with the goal name in tiny steps.
const GoalPlaceholder = "{goal}"

// Rand is the random source used to pick entries.
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// DefaultRand draws from the process-wide math/rand/v2 source.
var DefaultRand Rand = globalRand{}

// Entry is one weighted line.
type Entry struct {
	Text      string `yaml:"text"`
	Weight    int    `yaml:"weight,omitempty"`
	MinStreak int    `yaml:"min_streak,omitempty"`
}

// Tables is the parsed flavor file.
type Tables struct {
	Praise    []Entry            `yaml:"praise"`
	TinySteps map[string][]Entry `yaml:"tiny_steps"`
}

// Parse decodes and validates a YAML flavor document.
func Parse(data []byte) (*Tables, error) {
	var t Tables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal flavor tables: %w", err)
	}
	if err := t.normalize(); err != nil {
		return nil, err
	}
	return &t, nil
}

// LoadFile reads a flavor document from disk.
func LoadFile(path string) (*Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flavor file %s: %w", path, err)
	}
	return Parse(data)
}

// Default returns the built-in tables.
func Default() *Tables {
	t, err := Parse(defaultTables)
	if err != nil {
		panic(fmt.Sprintf("flavor: invalid built-in tables: %v", err))
	}
	return t
}

func (t *Tables) normalize() error {
	baseline := false
	for i := range t.Praise {
		if err := normalizeEntry(&t.Praise[i]); err != nil {
			return fmt.Errorf("praise[%d]: %w", i, err)
		}
		if t.Praise[i].MinStreak <= 0 {
			baseline = true
		}
	}
	if !baseline {
		return fmt.Errorf("praise table needs at least one entry with min_streak 0")
	}
	for _, m := range models.Moods {
		entries := t.TinySteps[string(m)]
		if len(entries) == 0 {
			return fmt.Errorf("tiny_steps missing mood %q", m)
		}
		for i := range entries {
			if err := normalizeEntry(&entries[i]); err != nil {
				return fmt.Errorf("tiny_steps.%s[%d]: %w", m, i, err)
			}
		}
	}
	return nil
}

func normalizeEntry(e *Entry) error {
	if strings.TrimSpace(e.Text) == "" {
		return fmt.Errorf("empty text")
	}
	if e.Weight < 0 {
		return fmt.Errorf("negative weight %d", e.Weight)
	}
	if e.Weight == 0 {
		e.Weight = 1
	}
	return nil
}

// PickPraise picks a praise line eligible for the given streak.
func (t *Tables) PickPraise(rng Rand, streak int) string {
	var eligible []Entry
	for _, e := range t.Praise {
		if streak >= e.MinStreak {
			eligible = append(eligible, e)
		}
	}
	return pick(rng, eligible)
}

// TinyStep picks a mood-specific first action for goal. Unknown moods use
// the "fine" table.
func (t *Tables) TinyStep(rng Rand, mood models.Mood, goal string) string {
	entries, ok := t.TinySteps[string(mood)]
	if !ok {
		entries = t.TinySteps[string(models.MoodFine)]
	}
	return strings.ReplaceAll(pick(rng, entries), GoalPlaceholder, goal)
}

func pick(rng Rand, entries []Entry) string {
	if len(entries) == 0 {
		return ""
	}
	if rng == nil {
		rng = DefaultRand
	}
	total := 0
	for _, e := range entries {
		total += e.Weight
	}
	r := rng.IntN(total)
	for _, e := range entries {
		if r < e.Weight {
			return e.Text
		}
		r -= e.Weight
	}
	return entries[len(entries)-1].Text
}
