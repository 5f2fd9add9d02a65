// Package actionable turns analytics counters into short recommendations
// for the operations desk.
package actionable

import (
	"fmt"

	"civic-voice-go/internal/types"
)

type ActionCard struct {
	Insight string `json:"insight"`
	Action  string `json:"action"`
	Impact  string `json:"impact"`
}

const (
	hotspotShare = 0.35
	urgentShare  = 0.20
	minReports   = 5
)

var categoryActions = map[types.Category]string{
	types.CategoryInfrastructure: "Schedule a road and utilities inspection crew for the reported areas",
	types.CategorySecurity:       "Share the report list with the police liaison and raise patrol frequency",
	types.CategoryHealth:         "Alert the primary health care desk and check clinic supplies",
	types.CategoryEducation:      "Forward reports to the education board for school visits",
	types.CategoryWaste:          "Add collection runs and clear drainage in the affected wards",
	types.CategoryOther:          "Review uncategorised calls and extend the keyword rules",
}

// Generate inspects snap and returns the cards that apply, most pressing
// first. With too few reports it returns a single monitoring card.
func Generate(snap types.AnalyticsAggregate) []ActionCard {
	var cards []ActionCard

	if snap.Notify.Failed > 0 {
		cards = append(cards, ActionCard{
			Insight: fmt.Sprintf("%d report notification(s) failed to reach the channel", snap.Notify.Failed),
			Action:  "Check the Telegram bot credentials and redeliver failed reports",
			Impact:  "Field teams are not yet aware of these issues",
		})
	}

	if snap.TotalReports < minReports {
		return append(cards, ActionCard{
			Insight: "Not enough reports to detect a pattern",
			Action:  "Monitor and collect more data",
			Impact:  "Low immediate intervention",
		})
	}

	total := float64(snap.TotalReports)
	if urgent := snap.ByPriority[types.PriorityUrgent]; float64(urgent)/total >= urgentShare {
		cards = append(cards, ActionCard{
			Insight: fmt.Sprintf("%.0f%% of reports are urgent (%d of %d)", float64(urgent)/total*100, urgent, snap.TotalReports),
			Action:  "Put an emergency response officer on standby for the reporting line",
			Impact:  "Shorter response time on life-threatening incidents",
		})
	}

	worst, highest := types.Category(""), 0
	for _, c := range types.Categories {
		if n := snap.ByCategory[c]; n > highest {
			worst, highest = c, n
		}
	}
	if share := float64(highest) / total; worst != "" && share >= hotspotShare {
		cards = append(cards, ActionCard{
			Insight: fmt.Sprintf("High volume of %s reports (%.0f%%)", worst, share*100),
			Action:  categoryActions[worst],
			Impact:  "Reduce repeat calls about the same issue",
		})
	}

	if len(cards) == 0 {
		cards = append(cards, ActionCard{
			Insight: "No strong pattern detected",
			Action:  "Monitor and collect more data",
			Impact:  "Low immediate intervention",
		})
	}
	return cards
}
