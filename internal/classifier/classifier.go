package classifier

import (
	"sort"

	"civic-voice-go/internal/rules"
	"civic-voice-go/internal/types"
)

// Classify maps transcript text to a category. The category with the most
// keyword occurrences wins; ties go to the earlier category in
// types.Categories and text with no matches is "other".
func Classify(text string, r *rules.Compiled) types.ClassificationResult {
	best := types.CategoryOther
	bestCount := 0
	var bestHits []hit

	for _, set := range r.Categories {
		count := 0
		var hits []hit
		for _, kw := range set.Keywords {
			locs := kw.Find(text)
			if len(locs) == 0 {
				continue
			}
			count += len(locs)
			hits = append(hits, hit{word: kw.Word, first: locs[0][0]})
		}
		// strictly greater keeps the earlier category on ties
		if count > bestCount {
			best, bestCount, bestHits = set.Category, count, hits
		}
	}

	sort.SliceStable(bestHits, func(i, j int) bool { return bestHits[i].first < bestHits[j].first })
	matched := make([]string, 0, len(bestHits))
	for _, h := range bestHits {
		matched = append(matched, h.word)
	}
	return types.ClassificationResult{Category: best, MatchedKeywords: matched}
}

type hit struct {
	word  string
	first int
}
