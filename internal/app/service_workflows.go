package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"curator/api/internal/classify"
	"curator/api/internal/store"
)

// EvaluateFeedback diagnoses one reviewer verdict against the live prompt
// configuration and stores the resulting report.
func (s *Service) EvaluateFeedback(ctx context.Context, feedbackID string) (classify.EvaluationReport, error) {
	if s.agent == nil {
		return classify.EvaluationReport{}, errClassifierUnavailable()
	}

	item, err := s.store.GetFeedback(ctx, feedbackID)
	if err != nil {
		return classify.EvaluationReport{}, err
	}

	categories, fewShots, _, err := s.liveClassifierConfig(ctx)
	if err != nil {
		return classify.EvaluationReport{}, err
	}

	report, err := s.agent.Evaluate(ctx, s.feedbackCase(ctx, item), categories.Categories, fewShots.Examples)
	if err != nil {
		return classify.EvaluationReport{}, err
	}

	raw, err := json.Marshal(report)
	if err != nil {
		return classify.EvaluationReport{}, err
	}
	if err := s.store.InsertEvaluationReport(ctx, store.EvaluationReport{
		ID:         report.ID,
		FeedbackID: item.ID,
		Report:     raw,
		CreatedAt:  time.Now(),
	}); err != nil {
		return classify.EvaluationReport{}, err
	}
	return report, nil
}

// SuggestImprovements feeds every recorded verdict to the improvement agent
// and returns its proposed edits to the prompt configuration, together with
// the enriched feedback it reasoned over.
func (s *Service) SuggestImprovements(ctx context.Context) (classify.ImprovementSuggestion, []classify.FeedbackCase, error) {
	if s.agent == nil {
		return classify.ImprovementSuggestion{}, nil, errClassifierUnavailable()
	}

	items, err := s.store.ListFeedback(ctx)
	if err != nil {
		return classify.ImprovementSuggestion{}, nil, err
	}
	if len(items) == 0 {
		return classify.ImprovementSuggestion{}, nil, errValidation("no feedback recorded yet")
	}

	cases := make([]classify.FeedbackCase, 0, len(items))
	for _, item := range items {
		cases = append(cases, s.feedbackCase(ctx, item))
	}

	categories, fewShots, _, err := s.liveClassifierConfig(ctx)
	if err != nil {
		return classify.ImprovementSuggestion{}, nil, err
	}

	suggestion, err := s.agent.SuggestImprovements(ctx, cases, categories.Categories, fewShots.Examples)
	if err != nil {
		return classify.ImprovementSuggestion{}, nil, err
	}
	return suggestion, cases, nil
}

func (s *Service) ListEvaluations(ctx context.Context) ([]store.EvaluationReport, error) {
	return s.store.ListEvaluationReports(ctx)
}

// feedbackCase joins a verdict with its article. A deleted article keeps the
// verdict usable with a placeholder headline.
func (s *Service) feedbackCase(ctx context.Context, item store.Feedback) classify.FeedbackCase {
	c := classify.FeedbackCase{
		ID:              item.ID,
		ThumbsUp:        item.ThumbsUp,
		CorrectCategory: item.CorrectCategory,
		Reasoning:       item.Reasoning,
	}
	if c.Reasoning == "" {
		c.Reasoning = item.Note
	}
	if len(item.Insight) > 0 {
		_ = json.Unmarshal(item.Insight, &c.Insight)
	}

	article, err := s.store.GetArticle(ctx, item.ArticleID)
	if err != nil {
		c.ArticleTitle = fmt.Sprintf("Article %s (not found)", item.ArticleID)
		return c
	}
	c.ArticleTitle = article.Title
	c.ArticleContent = article.Content
	return c
}
