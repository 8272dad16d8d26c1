package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"curator/api/internal/prompts"
)

const improvementSystemPrompt = `You are a prompt optimization expert. Analyze user feedback and suggest improvements to category definitions and few-shot examples.

CRITICAL: User feedback reasoning is AUTHORITATIVE. Your suggestions MUST directly address what the user explained. Do not override or reinterpret user reasoning with your own judgment.

For each suggestion, you MUST:
1. Reference which feedback ID(s) it addresses
2. Quote the specific user reasoning that drives this suggestion
3. Explain how your suggestion fixes the issue the user identified

When a user marks a classification as incorrect (thumbs down):
- Their correct_category IS the correct answer
- Their reasoning explains WHY - use this to improve definitions
- Consider proposing their article as a new few-shot example (source: "user_article")

You may also suggest synthetic few-shot examples (source: "synthetic") when you identify gaps that user articles don't cover.

Respond with a JSON object containing:
- category_suggestions: array of {category, current, suggested, rationale, based_on_feedback_ids, user_reasoning_quotes}
- few_shot_suggestions: array of {action: "add"|"modify"|"remove", source: "user_article"|"synthetic", based_on_feedback_id, details}
- priority_order: array of impact-based rankings with feedback counts
- updated_few_shots: array of {action, source, based_on_feedback_id, example} for changed items only

Do NOT include updated_categories - it will be derived from category_suggestions.

PRIORITY_ORDER FORMAT (impact-based ranking):
Each item must indicate impact level and how many feedbacks it addresses.
- High impact: Issues affecting 3+ feedbacks or causing systematic misclassification
- Medium impact: Issues affecting 1-2 feedbacks
- Low impact: Minor improvements or edge cases

UPDATED_FEW_SHOTS FORMAT:
For each updated few-shot example:
- action: "add", "modify", or "remove"
- source: "user_article" or "synthetic"
- based_on_feedback_id: The feedback ID this suggestion is based on (REQUIRED for user_article, optional for synthetic)
- example: {id, news_content, category, reasoning}

IMPORTANT for news_content in updated_few_shots:
- For source "user_article": Set news_content to null (it will be populated from the feedback's article content)
- For source "synthetic": You MUST generate appropriate news_content that illustrates the category

Rules:
- Return ONLY valid JSON (no markdown).
- Every suggestion MUST have based_on_feedback_ids populated
- Every suggestion MUST quote relevant user reasoning
- For "user_article" few-shots, use the actual article content and user's correct category
`

type CategorySuggestion struct {
	Category            string   `json:"category"`
	Current             string   `json:"current"`
	Suggested           string   `json:"suggested"`
	Rationale           string   `json:"rationale"`
	BasedOnFeedbackIDs  []string `json:"based_on_feedback_ids"`
	UserReasoningQuotes []string `json:"user_reasoning_quotes"`
}

type FewShotSuggestion struct {
	Action            string `json:"action"`
	Source            string `json:"source"`
	BasedOnFeedbackID string `json:"based_on_feedback_id"`
	Details           string `json:"details"`
}

// UpdatedCategory is derived from CategorySuggestion rather than taken from
// the model, so every rewrite traces back to the feedback that drove it.
type UpdatedCategory struct {
	Category           string   `json:"category"`
	UpdatedDefinition  string   `json:"updated_definition"`
	BasedOnFeedbackIDs []string `json:"based_on_feedback_ids"`
	Rationale          string   `json:"rationale"`
}

type FewShotChange struct {
	Action            string                 `json:"action"`
	Source            string                 `json:"source"`
	BasedOnFeedbackID string                 `json:"based_on_feedback_id"`
	Example           prompts.FewShotExample `json:"example"`
}

type ImprovementSuggestion struct {
	CategorySuggestions []CategorySuggestion `json:"category_suggestions"`
	FewShotSuggestions  []FewShotSuggestion  `json:"few_shot_suggestions"`
	PriorityOrder       []string             `json:"priority_order"`
	UpdatedCategories   []UpdatedCategory    `json:"updated_categories"`
	UpdatedFewShots     []FewShotChange      `json:"updated_few_shots"`
}

// SuggestImprovements turns the accumulated verdicts into concrete edits to
// the category definitions and few-shot examples.
func (a *Agent) SuggestImprovements(ctx context.Context, cases []FeedbackCase, categories []prompts.CategoryDefinition, fewShots []prompts.FewShotExample) (ImprovementSuggestion, error) {
	content, err := a.complete(ctx, improvementSystemPrompt, buildImprovementPrompt(cases, categories, fewShots))
	if err != nil {
		return ImprovementSuggestion{}, err
	}

	var suggestion ImprovementSuggestion
	if err := json.Unmarshal([]byte(content), &suggestion); err != nil {
		return ImprovementSuggestion{}, fmt.Errorf("decode improvement suggestion: %w", err)
	}

	suggestion.UpdatedCategories = deriveUpdatedCategories(suggestion.CategorySuggestions)
	fillUserArticleContent(suggestion.UpdatedFewShots, cases)
	return suggestion, nil
}

func buildImprovementPrompt(cases []FeedbackCase, categories []prompts.CategoryDefinition, fewShots []prompts.FewShotExample) string {
	var b strings.Builder
	b.WriteString("## User Feedback (AUTHORITATIVE)\n\n")
	for _, c := range cases {
		fmt.Fprintf(&b, "### Feedback %s\n", c.ID)
		fmt.Fprintf(&b, "**Article Headline:** %s\n", c.ArticleTitle)
		fmt.Fprintf(&b, "**Article Content:**\n%s\n\n", c.ArticleContent)
		verdict := "Incorrect"
		if c.ThumbsUp {
			verdict = "Correct"
		}
		fmt.Fprintf(&b, "**User Verdict:** %s\n", verdict)
		if !c.ThumbsUp {
			fmt.Fprintf(&b, "**User's Correct Category:** %s\n", c.CorrectCategory)
		}
		fmt.Fprintf(&b, "**User's Reasoning (AUTHORITATIVE):** %s\n", c.Reasoning)
		fmt.Fprintf(&b, "**AI Predicted:** %s (%.0f%% confidence)\n", c.Insight.Category, c.Insight.Confidence*100)
		if len(c.Insight.ReasoningTable) > 0 {
			b.WriteString("**AI Reasoning Table:**\n")
			for _, row := range c.Insight.ReasoningTable {
				fmt.Fprintf(&b, "  - %s | %s | %s\n", row.CategoryExcerpt, row.NewsExcerpt, row.Reasoning)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("## Current Category Definitions\n")
	for _, category := range categories {
		fmt.Fprintf(&b, "### %s\n%s\n\n", category.Name, category.Definition)
	}

	if len(fewShots) > 0 {
		b.WriteString("## Current Few-Shot Examples\n")
		for _, example := range fewShots {
			fmt.Fprintf(&b, "### %s\n", example.ID)
			fmt.Fprintf(&b, "- Category: %s\n", example.Category)
			fmt.Fprintf(&b, "- Content: %s\n", example.NewsContent)
			fmt.Fprintf(&b, "- Reasoning: %s\n\n", example.Reasoning)
		}
	}
	return b.String()
}

func deriveUpdatedCategories(suggestions []CategorySuggestion) []UpdatedCategory {
	updated := make([]UpdatedCategory, 0, len(suggestions))
	for _, s := range suggestions {
		if s.Category == "" || s.Suggested == "" {
			continue
		}
		updated = append(updated, UpdatedCategory{
			Category:           s.Category,
			UpdatedDefinition:  s.Suggested,
			BasedOnFeedbackIDs: s.BasedOnFeedbackIDs,
			Rationale:          s.Rationale,
		})
	}
	return updated
}

// fillUserArticleContent replaces the model's null news_content on
// user_article changes with the actual article text from the feedback.
func fillUserArticleContent(changes []FewShotChange, cases []FeedbackCase) {
	byID := make(map[string]FeedbackCase, len(cases))
	for _, c := range cases {
		byID[c.ID] = c
	}
	for i := range changes {
		if changes[i].Source != "user_article" || changes[i].Example.NewsContent != "" {
			continue
		}
		if c, ok := byID[changes[i].BasedOnFeedbackID]; ok {
			changes[i].Example.NewsContent = c.ArticleContent
		}
	}
}
