// Package classify runs the news-classification agent against the curated
// prompt configuration and repairs out-of-vocabulary results when the model's
// own reasoning identifies the intended category.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"curator/api/internal/prompts"

	openai "github.com/sashabaranov/go-openai"
)

// ReasoningRow is one row of the model's reasoning table. The category
// excerpt is required to be verbatim from the chosen definition, which is
// what makes coercion possible.
type ReasoningRow struct {
	CategoryExcerpt string `json:"category_excerpt"`
	NewsExcerpt     string `json:"news_excerpt"`
	Reasoning       string `json:"reasoning"`
}

// Insight is the structured classification result.
type Insight struct {
	Category       string         `json:"category"`
	ReasoningTable []ReasoningRow `json:"reasoning_table"`
	Confidence     float64        `json:"confidence"`
}

// CategoryNotAllowedError reports a classification whose category is not in
// the configured set and could not be repaired.
type CategoryNotAllowedError struct {
	Category string
}

func (e *CategoryNotAllowedError) Error() string {
	return fmt.Sprintf("model returned category %q not in allowed set", e.Category)
}

type chatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Agent classifies articles with a chat-completion model.
type Agent struct {
	client chatClient
	model  string
}

func NewAgent(apiKey, baseURL, model string) *Agent {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Agent{client: openai.NewClientWithConfig(cfg), model: model}
}

func newAgentWithClient(client chatClient, model string) *Agent {
	return &Agent{client: client, model: model}
}

// complete sends one system+user exchange and returns the fence-stripped
// response body. Every agent call expects a JSON object back.
func (a *Agent) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return stripFences(resp.Choices[0].Message.Content), nil
}

// Analyze classifies an article against the live configuration. If the model
// returns a category outside the allowed set, the coercion heuristic is tried
// before the error is surfaced.
func (a *Agent) Analyze(ctx context.Context, categories []prompts.CategoryDefinition, fewShots []prompts.FewShotExample, systemPrompt, articleContent string) (Insight, error) {
	content, err := a.complete(ctx, systemPrompt, buildPrompt(categories, fewShots, articleContent))
	if err != nil {
		return Insight{}, err
	}

	var insight Insight
	if err := json.Unmarshal([]byte(content), &insight); err != nil {
		return Insight{}, fmt.Errorf("decode insight: %w", err)
	}

	allowed := make(map[string]struct{}, len(categories))
	for _, category := range categories {
		allowed[category.Name] = struct{}{}
	}
	if _, ok := allowed[insight.Category]; !ok {
		coerced, ok := CoerceCategory(insight, categories)
		if !ok {
			return Insight{}, &CategoryNotAllowedError{Category: insight.Category}
		}
		insight.Category = coerced
	}

	return insight, nil
}

func buildPrompt(categories []prompts.CategoryDefinition, fewShots []prompts.FewShotExample, articleContent string) string {
	var b strings.Builder
	b.WriteString("## Category Definitions\n")
	b.WriteString(
		"CRITICAL: Category names may be arbitrary or misleading. " +
			"You MUST classify based ONLY on the definition text, NOT the category name. " +
			"Match the news content against each definition and select the category " +
			"whose DEFINITION best describes the content.\n\n")

	for _, category := range categories {
		fmt.Fprintf(&b, "### %s\n", category.Name)
		fmt.Fprintf(&b, "**Definition (use this for classification):** %s\n\n", category.Definition)
	}

	b.WriteString("Allowed category names for output (must match exactly):\n")
	for _, category := range categories {
		fmt.Fprintf(&b, "- %s\n", category.Name)
	}

	if len(fewShots) > 0 {
		b.WriteString("\n## Examples\n")
		for _, example := range fewShots {
			fmt.Fprintf(&b, "**News:** %s\n", example.NewsContent)
			fmt.Fprintf(&b, "**Category:** %s\n", example.Category)
			fmt.Fprintf(&b, "**Reasoning:** %s\n\n", example.Reasoning)
		}
	}

	b.WriteString("\n## Article to Analyze\n")
	b.WriteString(articleContent)
	b.WriteString("\n\n## Instructions\n")
	b.WriteString("Respond with a JSON object containing:\n")
	b.WriteString("- category: the category name\n")
	b.WriteString("- reasoning_table: array of {category_excerpt, news_excerpt, reasoning}\n")
	b.WriteString("- confidence: float between 0 and 1\n")
	b.WriteString(
		"\nRules:\n" +
			"- IGNORE category names when deciding classification - use ONLY the definition text\n" +
			"- category MUST be one of the Allowed category names listed above (exact match)\n" +
			"- category_excerpt MUST be verbatim from the chosen category definition\n" +
			"- If the news is semantically neutral but a category is DEFINED as 'neutral news', " +
			"select that category regardless of what the category is named\n")

	return b.String()
}

func stripFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
	}
	return strings.TrimSpace(trimmed)
}
