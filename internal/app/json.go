package app

import (
	"encoding/json"

	"curator/api/internal/classify"
	"curator/api/internal/prompts"
	"curator/api/internal/store"
)

func promptSlug(slug string) (prompts.ContentType, bool) {
	switch slug {
	case "categories":
		return prompts.ContentCategoryDefinitions, true
	case "few-shots":
		return prompts.ContentFewShots, true
	case "system-prompt":
		return prompts.ContentSystemPrompt, true
	default:
		return "", false
	}
}

func sessionJSON(session Session) map[string]any {
	return map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"email":        session.Email,
		"displayName":  session.DisplayName,
		"role":         session.Role,
		"expiresAt":    session.ExpiresAt,
	}
}

func userJSON(user store.User) map[string]any {
	return map[string]any{
		"id":          user.ID,
		"email":       user.Email,
		"displayName": user.DisplayName,
		"role":        user.Role,
		"createdAt":   user.CreatedAt,
	}
}

func changeRequestJSON(request store.ChangeRequest) map[string]any {
	payload := map[string]any{
		"id":              request.ID,
		"workspaceId":     request.WorkspaceID,
		"contentType":     string(request.ContentType),
		"submittedBy":     request.SubmittedBy,
		"submittedAt":     request.SubmittedAt,
		"status":          request.Status,
		"currentContent":  json.RawMessage(request.CurrentContent),
		"proposedContent": json.RawMessage(request.ProposedContent),
	}
	if request.Description != nil {
		payload["description"] = *request.Description
	}
	if request.ReviewedBy != nil {
		payload["reviewedBy"] = *request.ReviewedBy
	}
	if request.ReviewedAt != nil {
		payload["reviewedAt"] = *request.ReviewedAt
	}
	if request.ReviewFeedback != nil {
		payload["reviewFeedback"] = *request.ReviewFeedback
	}
	return payload
}

func articleJSON(article store.Article) map[string]any {
	payload := map[string]any{
		"id":         article.ID,
		"title":      article.Title,
		"content":    article.Content,
		"uploadedBy": article.UploadedBy,
		"createdAt":  article.CreatedAt,
	}
	if len(article.Insight) > 0 {
		payload["insight"] = json.RawMessage(article.Insight)
	}
	return payload
}

func feedbackJSON(feedback store.Feedback) map[string]any {
	payload := map[string]any{
		"id":              feedback.ID,
		"articleId":       feedback.ArticleID,
		"thumbsUp":        feedback.ThumbsUp,
		"correctCategory": feedback.CorrectCategory,
		"reasoning":       feedback.Reasoning,
		"note":            feedback.Note,
		"createdBy":       feedback.CreatedBy,
		"createdAt":       feedback.CreatedAt,
	}
	if len(feedback.Insight) > 0 {
		payload["insight"] = json.RawMessage(feedback.Insight)
	}
	return payload
}

func feedbackCaseJSON(c classify.FeedbackCase) map[string]any {
	return map[string]any{
		"id":              c.ID,
		"articleTitle":    c.ArticleTitle,
		"articleContent":  c.ArticleContent,
		"thumbsUp":        c.ThumbsUp,
		"correctCategory": c.CorrectCategory,
		"reasoning":       c.Reasoning,
		"insight":         c.Insight,
	}
}

func evaluationJSON(report store.EvaluationReport) map[string]any {
	return map[string]any{
		"id":         report.ID,
		"feedbackId": report.FeedbackID,
		"report":     json.RawMessage(report.Report),
		"createdAt":  report.CreatedAt,
	}
}
