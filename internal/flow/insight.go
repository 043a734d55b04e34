package flow

import (
	"sort"

	"github.com/BTreeMap/NudgePipe/internal/models"
)

// WeeklyInsight summarizes a week of events.
type WeeklyInsight struct {
	Done    int    `json:"done"`
	Skip    int    `json:"skip"`
	TopMood string `json:"top_mood"`
}

// AggregateWeek counts done and skip events and finds the most frequent
// mood. Ties go to the lexically smallest mood; "n/a" when no mood was logged.
func AggregateWeek(events []models.Event) WeeklyInsight {
	var in WeeklyInsight
	moods := make(map[string]int)
	for _, ev := range events {
		switch ev.Kind {
		case models.EventDone:
			in.Done++
		case models.EventSkip:
			in.Skip++
		case models.EventMood:
			if m := ev.Payload["mood"]; m != "" {
				moods[m]++
			}
		}
	}
	in.TopMood = "n/a"
	names := make([]string, 0, len(moods))
	for m := range moods {
		names = append(names, m)
	}
	sort.Strings(names)
	best := 0
	for _, m := range names {
		if moods[m] > best {
			best = moods[m]
			in.TopMood = m
		}
	}
	return in
}
