package classify

import (
	"strings"

	"curator/api/internal/prompts"
)

// CoerceCategory repairs an out-of-vocabulary classification by matching the
// reasoning table's category excerpts back to the category definitions. A
// category scores the length of the longest excerpt found verbatim in its
// definition; the unique best scorer wins. No match, or a tie at the best
// nonzero score, means the result cannot be repaired.
func CoerceCategory(insight Insight, categories []prompts.CategoryDefinition) (string, bool) {
	if len(insight.ReasoningTable) == 0 {
		return "", false
	}

	bestCategory := ""
	bestScore := 0
	tie := false

	for _, category := range categories {
		if category.Definition == "" {
			continue
		}

		score := 0
		for _, row := range insight.ReasoningTable {
			excerpt := strings.TrimSpace(row.CategoryExcerpt)
			if excerpt == "" {
				continue
			}
			if strings.Contains(category.Definition, excerpt) && len(excerpt) > score {
				score = len(excerpt)
			}
		}

		if score > bestScore {
			bestScore = score
			bestCategory = category.Name
			tie = false
		} else if score == bestScore && score != 0 {
			tie = true
		}
	}

	if tie || bestScore == 0 {
		return "", false
	}
	return bestCategory, true
}
