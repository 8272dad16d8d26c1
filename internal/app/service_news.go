package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"curator/api/internal/classify"
	"curator/api/internal/news"
	"curator/api/internal/prompts"
	"curator/api/internal/search"
	"curator/api/internal/store"
	"curator/api/internal/util"
)

// UploadNewsCSV ingests a title,content CSV, archives the raw upload and
// indexes each article for search.
func (s *Service) UploadNewsCSV(ctx context.Context, session Session, data []byte) ([]store.Article, error) {
	inputs, err := news.ParseCSV(bytes.NewReader(data))
	if err != nil {
		return nil, errValidation(err.Error())
	}

	// The archive is best-effort; ingestion proceeds if object storage is down.
	if s.archive != nil {
		if _, err := s.archive.StoreUpload(ctx, session.UserID, data); err != nil {
			log.Printf("news: archive upload: %v", err)
		}
	}

	articles := make([]store.Article, 0, len(inputs))
	for _, input := range inputs {
		article := store.Article{
			ID:         util.NewID("art"),
			Title:      input.Title,
			Content:    input.Content,
			UploadedBy: session.UserID,
			CreatedAt:  time.Now(),
		}
		if err := s.store.InsertArticle(ctx, article); err != nil {
			return nil, err
		}
		if s.search != nil {
			s.search.IndexArticle(search.ArticleRecord{
				ID:      article.ID,
				Title:   article.Title,
				Content: article.Content,
			})
		}
		articles = append(articles, article)
	}
	return articles, nil
}

func (s *Service) GetArticle(ctx context.Context, articleID string) (store.Article, error) {
	return s.store.GetArticle(ctx, articleID)
}

func (s *Service) ListArticles(ctx context.Context) ([]store.Article, error) {
	return s.store.ListArticles(ctx)
}

// SearchNews queries the search facade; without one it scans the store.
func (s *Service) SearchNews(ctx context.Context, query string, limit int) (search.Response, error) {
	if s.search != nil {
		return s.search.Search(search.Query{Text: query, Limit: limit}), nil
	}

	articles, err := s.store.ListArticles(ctx)
	if err != nil {
		return search.Response{}, err
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	results := make([]search.Result, 0)
	for _, article := range articles {
		if needle == "" {
			break
		}
		if strings.Contains(strings.ToLower(article.Title), needle) ||
			strings.Contains(strings.ToLower(article.Content), needle) {
			results = append(results, search.Result{
				ID:      article.ID,
				Title:   article.Title,
				Snippet: snippet(article.Content),
			})
		}
	}
	return search.Response{Results: results, Total: len(results), Query: query}, nil
}

// ClassifyArticle runs the classification agent against the live prompt
// configuration and stores the resulting insight on the article.
func (s *Service) ClassifyArticle(ctx context.Context, articleID string) (classify.Insight, error) {
	if s.agent == nil {
		return classify.Insight{}, errClassifierUnavailable()
	}

	article, err := s.store.GetArticle(ctx, articleID)
	if err != nil {
		return classify.Insight{}, err
	}

	categories, fewShots, systemPrompt, err := s.liveClassifierConfig(ctx)
	if err != nil {
		return classify.Insight{}, err
	}
	if len(categories.Categories) == 0 {
		return classify.Insight{}, domainError(400, "NO_CATEGORIES", "No category definitions have been approved yet", nil)
	}

	insight, err := s.agent.Analyze(ctx, categories.Categories, fewShots.Examples, systemPrompt.Content, article.Content)
	if err != nil {
		var notAllowed *classify.CategoryNotAllowedError
		if errors.As(err, &notAllowed) {
			return classify.Insight{}, domainError(422, "CATEGORY_NOT_ALLOWED",
				"The classifier returned a category outside the allowed set",
				map[string]any{"category": notAllowed.Category})
		}
		return classify.Insight{}, err
	}

	raw, err := json.Marshal(insight)
	if err != nil {
		return classify.Insight{}, err
	}
	if err := s.store.SetArticleInsight(ctx, articleID, raw); err != nil {
		return classify.Insight{}, err
	}
	if s.search != nil {
		s.search.IndexArticle(search.ArticleRecord{
			ID:       article.ID,
			Title:    article.Title,
			Content:  article.Content,
			Category: insight.Category,
		})
	}
	return insight, nil
}

func (s *Service) liveClassifierConfig(ctx context.Context) (prompts.CategoryConfig, prompts.FewShotConfig, prompts.SystemPromptConfig, error) {
	var categories prompts.CategoryConfig
	var fewShots prompts.FewShotConfig
	var systemPrompt prompts.SystemPromptConfig

	raw, err := s.store.ReadDocument(ctx, prompts.ContentCategoryDefinitions)
	if err != nil {
		return categories, fewShots, systemPrompt, err
	}
	if err := json.Unmarshal(raw, &categories); err != nil {
		return categories, fewShots, systemPrompt, err
	}

	raw, err = s.store.ReadDocument(ctx, prompts.ContentFewShots)
	if err != nil {
		return categories, fewShots, systemPrompt, err
	}
	if err := json.Unmarshal(raw, &fewShots); err != nil {
		return categories, fewShots, systemPrompt, err
	}

	raw, err = s.store.ReadDocument(ctx, prompts.ContentSystemPrompt)
	if err != nil {
		return categories, fewShots, systemPrompt, err
	}
	if err := json.Unmarshal(raw, &systemPrompt); err != nil {
		return categories, fewShots, systemPrompt, err
	}
	return categories, fewShots, systemPrompt, nil
}

type FeedbackInput struct {
	ThumbsUp        bool   `json:"thumbsUp"`
	CorrectCategory string `json:"correctCategory"`
	Reasoning       string `json:"reasoning"`
	Note            string `json:"note"`
}

// AddFeedback records a reviewer's verdict on an article's classification.
func (s *Service) AddFeedback(ctx context.Context, session Session, articleID string, input FeedbackInput) (store.Feedback, error) {
	if strings.TrimSpace(input.CorrectCategory) == "" {
		return store.Feedback{}, errValidation("correctCategory is required")
	}

	article, err := s.store.GetArticle(ctx, articleID)
	if err != nil {
		return store.Feedback{}, err
	}

	feedback := store.Feedback{
		ID:              util.NewID("fb"),
		ArticleID:       article.ID,
		ThumbsUp:        input.ThumbsUp,
		CorrectCategory: strings.TrimSpace(input.CorrectCategory),
		Reasoning:       input.Reasoning,
		Note:            input.Note,
		Insight:         article.Insight,
		CreatedBy:       session.UserID,
		CreatedAt:       time.Now(),
	}
	if err := s.store.InsertFeedback(ctx, feedback); err != nil {
		return store.Feedback{}, err
	}
	return feedback, nil
}

func (s *Service) ListFeedback(ctx context.Context) ([]store.Feedback, error) {
	return s.store.ListFeedback(ctx)
}

func snippet(content string) string {
	const max = 160
	if len(content) <= max {
		return content
	}
	return content[:max] + "…"
}
