package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	service, _, _, _ := newTestService(t)
	return NewHTTPServer(service, "*").Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	var payload map[string]any
	_ = json.Unmarshal(recorder.Body.Bytes(), &payload)
	return recorder, payload
}

func signUpUser(t *testing.T, handler http.Handler, email string) (token string, userID string) {
	t.Helper()
	recorder, payload := doJSON(t, handler, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email":    email,
		"password": "password123",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("signup %s: status %d body %s", email, recorder.Code, recorder.Body.String())
	}
	return payload["token"].(string), payload["userId"].(string)
}

func TestHealthAndAuthFlow(t *testing.T) {
	handler := newTestHandler(t)

	recorder, payload := doJSON(t, handler, http.MethodGet, "/api/health", "", nil)
	if recorder.Code != http.StatusOK || payload["ok"] != true {
		t.Fatalf("health check failed: %d %s", recorder.Code, recorder.Body.String())
	}

	token, _ := signUpUser(t, handler, "founder@example.com")

	recorder, payload = doJSON(t, handler, http.MethodGet, "/api/auth/me", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("me failed: %d", recorder.Code)
	}
	if payload["role"] != "APPROVER" {
		t.Errorf("first account should be APPROVER, got %v", payload["role"])
	}

	recorder, _ = doJSON(t, handler, http.MethodGet, "/api/auth/me", "not-a-token", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad token, got %d", recorder.Code)
	}

	recorder, payload = doJSON(t, handler, http.MethodPost, "/api/auth/signin", "", map[string]any{
		"email":    "founder@example.com",
		"password": "wrong-password",
	})
	if recorder.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong password, got %d", recorder.Code)
	}
	_ = payload
}

func TestChangeRequestLifecycleOverHTTP(t *testing.T) {
	handler := newTestHandler(t)
	approverToken, _ := signUpUser(t, handler, "founder@example.com")
	userToken, _ := signUpUser(t, handler, "editor@example.com")

	proposed := map[string]any{
		"categories": []map[string]any{
			{"name": "Finance", "definition": "coverage of financial markets"},
		},
	}

	// Create as the regular user.
	recorder, payload := doJSON(t, handler, http.MethodPost, "/api/change-requests", userToken, map[string]any{
		"contentType":     "CATEGORY_DEFINITIONS",
		"proposedContent": proposed,
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create failed: %d %s", recorder.Code, recorder.Body.String())
	}
	requestID := payload["id"].(string)
	if !strings.HasPrefix(requestID, "cr-") {
		t.Errorf("unexpected request id %q", requestID)
	}

	// Duplicate pending for the same pair is refused.
	recorder, payload = doJSON(t, handler, http.MethodPost, "/api/change-requests", userToken, map[string]any{
		"contentType":     "CATEGORY_DEFINITIONS",
		"proposedContent": proposed,
	})
	if recorder.Code != http.StatusConflict || payload["code"] != "DUPLICATE_PENDING" {
		t.Errorf("expected 409 DUPLICATE_PENDING, got %d %v", recorder.Code, payload["code"])
	}

	// A plain user may not approve.
	recorder, _ = doJSON(t, handler, http.MethodPost, "/api/change-requests/"+requestID+"/approve", userToken, map[string]any{})
	if recorder.Code != http.StatusForbidden {
		t.Errorf("expected 403 for user approval, got %d", recorder.Code)
	}

	recorder, payload = doJSON(t, handler, http.MethodGet, "/api/change-requests/pending-count", approverToken, nil)
	if recorder.Code != http.StatusOK || payload["pendingCount"].(float64) != 1 {
		t.Errorf("expected pending count 1, got %v", payload["pendingCount"])
	}

	// Approve as the approver with feedback.
	recorder, payload = doJSON(t, handler, http.MethodPost, "/api/change-requests/"+requestID+"/approve", approverToken, map[string]any{
		"feedback": "looks good",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("approve failed: %d %s", recorder.Code, recorder.Body.String())
	}
	if payload["status"] != "APPROVED" || payload["reviewFeedback"] != "looks good" {
		t.Errorf("unexpected approval payload: %v", payload)
	}

	// The live document now serves the approved content.
	recorder, payload = doJSON(t, handler, http.MethodGet, "/api/prompts/categories", userToken, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("prompt read failed: %d", recorder.Code)
	}
	content := payload["content"].(map[string]any)
	categories := content["categories"].([]any)
	if len(categories) != 1 {
		t.Errorf("expected 1 approved category, got %v", content)
	}

	// Approving again is an invalid state, reported as a bad request.
	recorder, payload = doJSON(t, handler, http.MethodPost, "/api/change-requests/"+requestID+"/approve", approverToken, map[string]any{})
	if recorder.Code != http.StatusBadRequest || payload["code"] != "INVALID_STATE" {
		t.Errorf("expected 400 INVALID_STATE, got %d %v", recorder.Code, payload["code"])
	}

	recorder, _ = doJSON(t, handler, http.MethodGet, "/api/change-requests/cr-missing", approverToken, nil)
	if recorder.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown request, got %d", recorder.Code)
	}
}

func TestSelfApprovalForbiddenOverHTTP(t *testing.T) {
	handler := newTestHandler(t)
	approverToken, _ := signUpUser(t, handler, "founder@example.com")

	recorder, payload := doJSON(t, handler, http.MethodPost, "/api/change-requests", approverToken, map[string]any{
		"contentType":     "SYSTEM_PROMPT",
		"proposedContent": map[string]any{"content": "You are a news classifier."},
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create failed: %d", recorder.Code)
	}
	requestID := payload["id"].(string)

	recorder, _ = doJSON(t, handler, http.MethodPost, "/api/change-requests/"+requestID+"/approve", approverToken, map[string]any{})
	if recorder.Code != http.StatusForbidden {
		t.Errorf("expected 403 for self-approval, got %d", recorder.Code)
	}
}

func TestWithdrawSubmitterOnlyOverHTTP(t *testing.T) {
	handler := newTestHandler(t)
	_, _ = signUpUser(t, handler, "founder@example.com")
	aliceToken, _ := signUpUser(t, handler, "alice@example.com")
	bobToken, _ := signUpUser(t, handler, "bob@example.com")

	recorder, payload := doJSON(t, handler, http.MethodPost, "/api/change-requests", aliceToken, map[string]any{
		"contentType":     "FEW_SHOTS",
		"proposedContent": map[string]any{"examples": []any{}},
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create failed: %d", recorder.Code)
	}
	requestID := payload["id"].(string)

	recorder, _ = doJSON(t, handler, http.MethodDelete, "/api/change-requests/"+requestID, bobToken, nil)
	if recorder.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-submitter withdraw, got %d", recorder.Code)
	}

	recorder, _ = doJSON(t, handler, http.MethodDelete, "/api/change-requests/"+requestID, aliceToken, nil)
	if recorder.Code != http.StatusOK {
		t.Errorf("withdraw by submitter failed: %d", recorder.Code)
	}
}

func TestNewsUploadAndFeedbackOverHTTP(t *testing.T) {
	handler := newTestHandler(t)
	token, _ := signUpUser(t, handler, "founder@example.com")

	csv := "title,content\nStocks rally,Markets rose sharply today.\n"
	request := httptest.NewRequest(http.MethodPost, "/api/news/upload", strings.NewReader(csv))
	request.Header.Set("Content-Type", "text/csv")
	request.Header.Set("Authorization", "Bearer "+token)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("upload failed: %d %s", recorder.Code, recorder.Body.String())
	}
	var uploadPayload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &uploadPayload); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	articles := uploadPayload["articles"].([]any)
	if len(articles) != 1 {
		t.Fatalf("expected 1 article, got %d", len(articles))
	}
	articleID := articles[0].(map[string]any)["id"].(string)

	recorder2, listPayload := doJSON(t, handler, http.MethodGet, "/api/news", token, nil)
	if recorder2.Code != http.StatusOK || len(listPayload["articles"].([]any)) != 1 {
		t.Errorf("list articles failed: %d %v", recorder2.Code, listPayload)
	}

	recorder2, feedbackPayload := doJSON(t, handler, http.MethodPost, "/api/news/"+articleID+"/feedback", token, map[string]any{
		"thumbsUp":        false,
		"correctCategory": "Finance",
		"note":            "should be finance",
	})
	if recorder2.Code != http.StatusCreated {
		t.Fatalf("feedback failed: %d %s", recorder2.Code, recorder2.Body.String())
	}
	if feedbackPayload["correctCategory"] != "Finance" {
		t.Errorf("unexpected feedback payload: %v", feedbackPayload)
	}

	// Classification is not configured in tests, so every agent-backed
	// route reports unavailable.
	recorder2, errPayload := doJSON(t, handler, http.MethodPost, "/api/news/"+articleID+"/classify", token, nil)
	if recorder2.Code != http.StatusServiceUnavailable || errPayload["code"] != "CLASSIFIER_UNAVAILABLE" {
		t.Errorf("expected 503 CLASSIFIER_UNAVAILABLE, got %d %v", recorder2.Code, errPayload["code"])
	}

	feedbackID := feedbackPayload["id"].(string)
	recorder2, errPayload = doJSON(t, handler, http.MethodPost, "/api/feedback/"+feedbackID+"/evaluate", token, nil)
	if recorder2.Code != http.StatusServiceUnavailable || errPayload["code"] != "CLASSIFIER_UNAVAILABLE" {
		t.Errorf("evaluate: expected 503 CLASSIFIER_UNAVAILABLE, got %d %v", recorder2.Code, errPayload["code"])
	}

	recorder2, errPayload = doJSON(t, handler, http.MethodPost, "/api/feedback/suggest-improvements", token, nil)
	if recorder2.Code != http.StatusServiceUnavailable || errPayload["code"] != "CLASSIFIER_UNAVAILABLE" {
		t.Errorf("suggest: expected 503 CLASSIFIER_UNAVAILABLE, got %d %v", recorder2.Code, errPayload["code"])
	}

	recorder2, evalPayload := doJSON(t, handler, http.MethodGet, "/api/evaluations", token, nil)
	if recorder2.Code != http.StatusOK || len(evalPayload["evaluations"].([]any)) != 0 {
		t.Errorf("list evaluations failed: %d %v", recorder2.Code, evalPayload)
	}
}
