package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"curator/api/internal/prompts"
	"curator/api/internal/util"
)

const evaluationSystemPrompt = `You are a prompt evaluation expert. Your task is to analyze why an AI classification was correct or incorrect, and identify gaps in the prompt configuration.

Analyze the provided feedback and identify:
1. What caused the correct/incorrect classification
2. Gaps or issues in category definitions
3. Gaps or issues in few-shot examples

Respond with a JSON object containing:
- diagnosis: string explaining what went right/wrong
- prompt_gaps: array of {location, issue, suggestion}
- few_shot_gaps: array of {example_id, issue, suggestion}
- summary: concise actionable summary for the user
`

// FeedbackCase is one reviewer verdict joined with its article, the shape the
// evaluation and improvement prompts are built from.
type FeedbackCase struct {
	ID              string  `json:"id"`
	ArticleTitle    string  `json:"articleTitle"`
	ArticleContent  string  `json:"articleContent"`
	ThumbsUp        bool    `json:"thumbsUp"`
	CorrectCategory string  `json:"correctCategory"`
	Reasoning       string  `json:"reasoning"`
	Insight         Insight `json:"insight"`
}

// PromptGap flags a weakness in a category definition.
type PromptGap struct {
	Location   string `json:"location"`
	Issue      string `json:"issue"`
	Suggestion string `json:"suggestion"`
}

// FewShotGap flags a weakness in a few-shot example.
type FewShotGap struct {
	ExampleID  string `json:"example_id"`
	Issue      string `json:"issue"`
	Suggestion string `json:"suggestion"`
}

// EvaluationReport is the model's diagnosis of a single verdict.
type EvaluationReport struct {
	ID          string       `json:"id"`
	FeedbackID  string       `json:"feedback_id"`
	Diagnosis   string       `json:"diagnosis"`
	PromptGaps  []PromptGap  `json:"prompt_gaps"`
	FewShotGaps []FewShotGap `json:"few_shot_gaps"`
	Summary     string       `json:"summary"`
}

// Evaluate asks the model why a classification earned the given verdict and
// where the configuration falls short.
func (a *Agent) Evaluate(ctx context.Context, feedback FeedbackCase, categories []prompts.CategoryDefinition, fewShots []prompts.FewShotExample) (EvaluationReport, error) {
	content, err := a.complete(ctx, evaluationSystemPrompt, buildEvaluationPrompt(feedback, categories, fewShots))
	if err != nil {
		return EvaluationReport{}, err
	}

	var report EvaluationReport
	if err := json.Unmarshal([]byte(content), &report); err != nil {
		return EvaluationReport{}, fmt.Errorf("decode evaluation report: %w", err)
	}
	report.ID = util.ShortID("rpt")
	report.FeedbackID = feedback.ID
	return report, nil
}

func buildEvaluationPrompt(feedback FeedbackCase, categories []prompts.CategoryDefinition, fewShots []prompts.FewShotExample) string {
	var b strings.Builder
	b.WriteString("## Feedback Details\n")
	fmt.Fprintf(&b, "- Thumbs up: %t\n", feedback.ThumbsUp)
	fmt.Fprintf(&b, "- AI predicted: %s\n", feedback.Insight.Category)
	fmt.Fprintf(&b, "- Correct category: %s\n", feedback.CorrectCategory)
	fmt.Fprintf(&b, "- User reasoning: %s\n\n", feedback.Reasoning)

	b.WriteString("## Current Category Definitions\n")
	for _, category := range categories {
		fmt.Fprintf(&b, "### %s\n%s\n\n", category.Name, category.Definition)
	}

	if len(fewShots) > 0 {
		b.WriteString("## Current Few-Shot Examples\n")
		for _, example := range fewShots {
			fmt.Fprintf(&b, "- ID: %s, Category: %s\n", example.ID, example.Category)
			fmt.Fprintf(&b, "  Content: %s...\n\n", truncate(example.NewsContent, 100))
		}
	}
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
