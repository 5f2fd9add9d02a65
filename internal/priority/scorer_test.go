package priority

import (
	"strings"
	"testing"

	"civic-voice-go/internal/rules"
	"civic-voice-go/internal/types"
)

var defaults = rules.MustCompile(rules.Default())

func TestScoreRules(t *testing.T) {
	cases := []struct {
		name     string
		text     string
		duration int
		want     types.Priority
		reason   string
	}{
		{"urgent keyword", "fire spreading through the building", 30, types.PriorityUrgent, "urgent keyword: fire"},
		{"high keyword", "a serious leak on main street", 30, types.PriorityHigh, "high keyword: serious"},
		{"long call", "the streetlight is out", 301, types.PriorityHigh, "long call"},
		{"threshold is exclusive", "the streetlight is out", 300, types.PriorityLow, "no rule matched"},
		{"medium keyword", "a huge pothole blocking the road", 90, types.PriorityMedium, "medium keyword: blocking"},
		{"default low", "the streetlight is out", 90, types.PriorityLow, "no rule matched"},
	}
	for _, tc := range cases {
		got := Score(tc.text, tc.duration, defaults)
		if got.Priority != tc.want {
			t.Errorf("%s: expected %s, got %s (%s)", tc.name, tc.want, got.Priority, got.Reason)
		}
		if !strings.HasPrefix(got.Reason, tc.reason) {
			t.Errorf("%s: expected reason %q, got %q", tc.name, tc.reason, got.Reason)
		}
	}
}

func TestScoreUrgentBeatsWeakerKeywords(t *testing.T) {
	texts := []string{
		"minor issue but there is a serious emergency here",
		"major concern: someone is injured",
		"a moderate problem, actually the bridge may collapse",
	}
	for _, text := range texts {
		if got := Score(text, 1000, defaults); got.Priority != types.PriorityUrgent {
			t.Errorf("%q: expected urgent, got %s", text, got.Priority)
		}
	}
}

func TestScoreReportsEarliestKeyword(t *testing.T) {
	got := Score("danger! there is a fire", 0, defaults)
	if got.Reason != "urgent keyword: danger" {
		t.Fatalf("expected earliest keyword in reason, got %q", got.Reason)
	}
}

func TestScoreDeterministic(t *testing.T) {
	text := "important: the hospital is flooding"
	first := Score(text, 45, defaults)
	for i := 0; i < 10; i++ {
		if got := Score(text, 45, defaults); got != first {
			t.Fatalf("score changed between calls: %+v vs %+v", first, got)
		}
	}
}
