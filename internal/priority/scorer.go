package priority

import (
	"fmt"

	"civic-voice-go/internal/rules"
	"civic-voice-go/internal/types"
)

// Score assigns an urgency level. Rules are evaluated in order and the
// first one that fires wins: urgent keyword, high keyword or long call,
// medium keyword, otherwise low.
func Score(text string, callDurationSeconds int, r *rules.Compiled) types.PriorityResult {
	if kw, ok := firstMatch(text, r.Urgent); ok {
		return types.PriorityResult{Priority: types.PriorityUrgent, Reason: "urgent keyword: " + kw}
	}
	if kw, ok := firstMatch(text, r.High); ok {
		return types.PriorityResult{Priority: types.PriorityHigh, Reason: "high keyword: " + kw}
	}
	if r.LongCallSeconds > 0 && callDurationSeconds > r.LongCallSeconds {
		return types.PriorityResult{
			Priority: types.PriorityHigh,
			Reason:   fmt.Sprintf("long call: %ds > %ds", callDurationSeconds, r.LongCallSeconds),
		}
	}
	if kw, ok := firstMatch(text, r.Medium); ok {
		return types.PriorityResult{Priority: types.PriorityMedium, Reason: "medium keyword: " + kw}
	}
	return types.PriorityResult{Priority: types.PriorityLow, Reason: "no rule matched"}
}

// firstMatch returns the keyword occurring earliest in text.
func firstMatch(text string, kws []rules.Keyword) (string, bool) {
	word, pos := "", -1
	for _, kw := range kws {
		locs := kw.Find(text)
		if len(locs) == 0 {
			continue
		}
		if pos == -1 || locs[0][0] < pos {
			word, pos = kw.Word, locs[0][0]
		}
	}
	return word, pos >= 0
}
