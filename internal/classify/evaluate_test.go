package classify

import (
	"context"
	"strings"
	"testing"
)

func negativeCase() FeedbackCase {
	return FeedbackCase{
		ID:              "fb-1",
		ArticleTitle:    "Stocks rally",
		ArticleContent:  "Markets rose sharply after the earnings season.",
		ThumbsUp:        false,
		CorrectCategory: "A",
		Reasoning:       "This is clearly about earnings, not weather.",
		Insight: Insight{
			Category:   "B",
			Confidence: 0.6,
			ReasoningTable: []ReasoningRow{
				{CategoryExcerpt: "weather events", NewsExcerpt: "rose sharply", Reasoning: "misread"},
			},
		},
	}
}

func TestEvaluateParsesReport(t *testing.T) {
	client := &fakeChatClient{content: `{
		"diagnosis": "The model keyed on storm-like language.",
		"prompt_gaps": [{"location": "B", "issue": "too broad", "suggestion": "restrict to physical weather events"}],
		"few_shot_gaps": [{"example_id": "ex-1", "issue": "ambiguous", "suggestion": "pick a clearer article"}],
		"summary": "Tighten the B definition."
	}`}
	agent := newAgentWithClient(client, "test-model")

	report, err := agent.Evaluate(context.Background(), negativeCase(), definitions(), nil)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !strings.HasPrefix(report.ID, "rpt-") {
		t.Errorf("unexpected report id %q", report.ID)
	}
	if report.FeedbackID != "fb-1" {
		t.Errorf("report must reference the evaluated feedback, got %q", report.FeedbackID)
	}
	if len(report.PromptGaps) != 1 || report.PromptGaps[0].Location != "B" {
		t.Errorf("prompt gaps not parsed: %+v", report.PromptGaps)
	}
	if len(report.FewShotGaps) != 1 || report.FewShotGaps[0].ExampleID != "ex-1" {
		t.Errorf("few-shot gaps not parsed: %+v", report.FewShotGaps)
	}
	if report.Summary != "Tighten the B definition." {
		t.Errorf("summary not parsed: %q", report.Summary)
	}
}

func TestEvaluatePromptCarriesVerdictAndConfig(t *testing.T) {
	client := &fakeChatClient{content: `{"diagnosis": "d", "summary": "s"}`}
	agent := newAgentWithClient(client, "test-model")

	if _, err := agent.Evaluate(context.Background(), negativeCase(), definitions(), nil); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	userPrompt := client.request.Messages[1].Content
	for _, want := range []string{
		"Thumbs up: false",
		"AI predicted: B",
		"Correct category: A",
		"This is clearly about earnings",
		"### A",
		"### B",
	} {
		if !strings.Contains(userPrompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestEvaluateStripsCodeFences(t *testing.T) {
	client := &fakeChatClient{content: "```json\n{\"diagnosis\": \"d\", \"summary\": \"s\"}\n```"}
	agent := newAgentWithClient(client, "test-model")

	report, err := agent.Evaluate(context.Background(), negativeCase(), definitions(), nil)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if report.Diagnosis != "d" {
		t.Errorf("diagnosis not parsed: %q", report.Diagnosis)
	}
}
