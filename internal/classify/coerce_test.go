package classify

import (
	"testing"

	"curator/api/internal/prompts"
)

func definitions() []prompts.CategoryDefinition {
	return []prompts.CategoryDefinition{
		{Name: "A", Definition: "coverage of financial markets and corporate earnings"},
		{Name: "B", Definition: "reports about weather events and natural disasters"},
	}
}

func insightWith(category string, excerpts ...string) Insight {
	rows := make([]ReasoningRow, 0, len(excerpts))
	for _, excerpt := range excerpts {
		rows = append(rows, ReasoningRow{CategoryExcerpt: excerpt})
	}
	return Insight{Category: category, ReasoningTable: rows}
}

func TestCoerceMatchesSingleDefinition(t *testing.T) {
	insight := insightWith("X", "weather events and natural disasters")
	got, ok := CoerceCategory(insight, definitions())
	if !ok {
		t.Fatal("expected coercion to succeed")
	}
	if got != "B" {
		t.Errorf("expected category B, got %q", got)
	}
}

func TestCoercePicksLongestMatch(t *testing.T) {
	// Both excerpts match, but the longer one matches A.
	insight := insightWith("X",
		"weather events",
		"coverage of financial markets and corporate earnings",
	)
	got, ok := CoerceCategory(insight, definitions())
	if !ok {
		t.Fatal("expected coercion to succeed")
	}
	if got != "A" {
		t.Errorf("expected category A, got %q", got)
	}
}

func TestCoerceFailsOnTie(t *testing.T) {
	categories := []prompts.CategoryDefinition{
		{Name: "A", Definition: "exactly ten!"},
		{Name: "B", Definition: "another ok"},
	}
	// Each excerpt fully matches one definition; both are 10 runes long.
	insight := insightWith("X", "exactly te", "another ok")
	if _, ok := CoerceCategory(insight, categories); ok {
		t.Error("expected tie to fail coercion")
	}
}

func TestCoerceFailsWithoutMatch(t *testing.T) {
	insight := insightWith("X", "completely unrelated text")
	if _, ok := CoerceCategory(insight, definitions()); ok {
		t.Error("expected coercion to fail when no excerpt matches")
	}
}

func TestCoerceIgnoresEmptyExcerptsAndDefinitions(t *testing.T) {
	categories := append(definitions(), prompts.CategoryDefinition{Name: "C", Definition: ""})
	insight := insightWith("X", "   ", "", "natural disasters")
	got, ok := CoerceCategory(insight, categories)
	if !ok {
		t.Fatal("expected coercion to succeed")
	}
	if got != "B" {
		t.Errorf("expected category B, got %q", got)
	}
}

func TestCoerceFailsWithEmptyReasoningTable(t *testing.T) {
	if _, ok := CoerceCategory(Insight{Category: "X"}, definitions()); ok {
		t.Error("expected coercion to fail with no reasoning rows")
	}
}
