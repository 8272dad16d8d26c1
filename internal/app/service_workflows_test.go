package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"curator/api/internal/classify"
	"curator/api/internal/prompts"
	"curator/api/internal/store"
)

type fakeAgent struct {
	insight    classify.Insight
	report     classify.EvaluationReport
	suggestion classify.ImprovementSuggestion
	err        error

	evaluated []classify.FeedbackCase
	improved  []classify.FeedbackCase
}

func (f *fakeAgent) Analyze(_ context.Context, _ []prompts.CategoryDefinition, _ []prompts.FewShotExample, _, _ string) (classify.Insight, error) {
	return f.insight, f.err
}

func (f *fakeAgent) Evaluate(_ context.Context, c classify.FeedbackCase, _ []prompts.CategoryDefinition, _ []prompts.FewShotExample) (classify.EvaluationReport, error) {
	f.evaluated = append(f.evaluated, c)
	if f.err != nil {
		return classify.EvaluationReport{}, f.err
	}
	report := f.report
	report.ID = "rpt-test"
	report.FeedbackID = c.ID
	return report, nil
}

func (f *fakeAgent) SuggestImprovements(_ context.Context, cases []classify.FeedbackCase, _ []prompts.CategoryDefinition, _ []prompts.FewShotExample) (classify.ImprovementSuggestion, error) {
	f.improved = cases
	return f.suggestion, f.err
}

func seedArticleWithFeedback(t *testing.T, memory *store.MemoryStore, articleID, feedbackID string) {
	t.Helper()
	err := memory.InsertArticle(context.Background(), store.Article{
		ID:      articleID,
		Title:   "Stocks rally",
		Content: "Markets rose sharply today.",
	})
	if err != nil {
		t.Fatalf("seed article: %v", err)
	}
	err = memory.InsertFeedback(context.Background(), store.Feedback{
		ID:              feedbackID,
		ArticleID:       articleID,
		ThumbsUp:        false,
		CorrectCategory: "Finance",
		Reasoning:       "earnings coverage",
		Insight:         json.RawMessage(`{"category":"Weather","confidence":0.5}`),
		CreatedBy:       "alice",
	})
	if err != nil {
		t.Fatalf("seed feedback: %v", err)
	}
}

func TestEvaluateFeedbackStoresReport(t *testing.T) {
	service, memory, _, _ := newTestService(t)
	agent := &fakeAgent{report: classify.EvaluationReport{Diagnosis: "keyed on storm language", Summary: "tighten Weather"}}
	service.SetAgent(agent)
	seedArticleWithFeedback(t, memory, "art-1", "fb-1")

	report, err := service.EvaluateFeedback(context.Background(), "fb-1")
	if err != nil {
		t.Fatalf("EvaluateFeedback failed: %v", err)
	}
	if report.FeedbackID != "fb-1" || report.Diagnosis != "keyed on storm language" {
		t.Errorf("unexpected report: %+v", report)
	}

	// The agent sees the verdict joined with its article.
	if len(agent.evaluated) != 1 {
		t.Fatalf("expected 1 evaluation, got %d", len(agent.evaluated))
	}
	evaluated := agent.evaluated[0]
	if evaluated.ArticleTitle != "Stocks rally" || evaluated.Insight.Category != "Weather" {
		t.Errorf("feedback not joined with article: %+v", evaluated)
	}

	stored, err := service.ListEvaluations(context.Background())
	if err != nil {
		t.Fatalf("ListEvaluations failed: %v", err)
	}
	if len(stored) != 1 || stored[0].FeedbackID != "fb-1" {
		t.Fatalf("report not persisted: %+v", stored)
	}
	var persisted classify.EvaluationReport
	if err := json.Unmarshal(stored[0].Report, &persisted); err != nil {
		t.Fatalf("stored report not valid JSON: %v", err)
	}
	if persisted.Summary != "tighten Weather" {
		t.Errorf("stored report body wrong: %+v", persisted)
	}
}

func TestEvaluateFeedbackGuards(t *testing.T) {
	service, _, _, _ := newTestService(t)

	// No agent configured.
	_, err := service.EvaluateFeedback(context.Background(), "fb-1")
	if code := domainCode(t, err); code != "CLASSIFIER_UNAVAILABLE" {
		t.Errorf("expected CLASSIFIER_UNAVAILABLE, got %s", code)
	}

	service.SetAgent(&fakeAgent{})
	_, err = service.EvaluateFeedback(context.Background(), "fb-missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected not found for unknown feedback, got %v", err)
	}
}

func TestSuggestImprovementsRequiresFeedback(t *testing.T) {
	service, _, _, _ := newTestService(t)
	service.SetAgent(&fakeAgent{})

	_, _, err := service.SuggestImprovements(context.Background())
	if code := domainCode(t, err); code != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR without feedback, got %s", code)
	}
}

func TestSuggestImprovementsJoinsArticles(t *testing.T) {
	service, memory, _, _ := newTestService(t)
	agent := &fakeAgent{suggestion: classify.ImprovementSuggestion{
		PriorityOrder: []string{"High impact: fix Weather (affects 1 feedback)"},
	}}
	service.SetAgent(agent)

	seedArticleWithFeedback(t, memory, "art-1", "fb-1")
	// A verdict whose article has since disappeared still participates.
	err := memory.InsertFeedback(context.Background(), store.Feedback{
		ID:              "fb-2",
		ArticleID:       "art-gone",
		ThumbsUp:        true,
		CorrectCategory: "Finance",
		Note:            "fine as is",
		CreatedBy:       "bob",
	})
	if err != nil {
		t.Fatalf("seed feedback: %v", err)
	}

	suggestion, cases, err := service.SuggestImprovements(context.Background())
	if err != nil {
		t.Fatalf("SuggestImprovements failed: %v", err)
	}
	if len(suggestion.PriorityOrder) != 1 {
		t.Errorf("suggestion not passed through: %+v", suggestion)
	}
	if len(cases) != 2 || len(agent.improved) != 2 {
		t.Fatalf("expected 2 cases, got %d given to agent %d", len(cases), len(agent.improved))
	}

	byID := make(map[string]classify.FeedbackCase, len(cases))
	for _, c := range cases {
		byID[c.ID] = c
	}
	if byID["fb-1"].ArticleContent != "Markets rose sharply today." {
		t.Errorf("article content not joined: %+v", byID["fb-1"])
	}
	if !strings.Contains(byID["fb-2"].ArticleTitle, "not found") {
		t.Errorf("missing article should get a placeholder headline: %+v", byID["fb-2"])
	}
	// The note stands in when no reasoning was given.
	if byID["fb-2"].Reasoning != "fine as is" {
		t.Errorf("note fallback missing: %+v", byID["fb-2"])
	}
}
