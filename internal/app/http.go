package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"curator/api/internal/auth"
	"curator/api/internal/store"
)

// Uploaded CSVs are small curation batches, not bulk imports.
const maxUploadBytes = 8 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleSignUp(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleSignIn(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/refresh" {
		s.handleRefresh(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signout" {
		s.handleSignOut(w, r)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/auth/me" {
		writeJSON(w, http.StatusOK, map[string]any{
			"userId":      session.UserID,
			"email":       session.Email,
			"displayName": session.DisplayName,
			"role":        session.Role,
		})
		return
	}

	parts := splitPath(r.URL.Path)

	// Users
	if r.Method == http.MethodGet && r.URL.Path == "/api/users" {
		users, err := s.service.ListUsers(r.Context())
		if err != nil {
			writeMappedError(w, err)
			return
		}
		items := make([]map[string]any, 0, len(users))
		for _, user := range users {
			items = append(items, userJSON(user))
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": items})
		return
	}
	if r.Method == http.MethodPut && len(parts) == 4 && parts[0] == "api" && parts[1] == "users" && parts[3] == "role" {
		var body struct {
			Role string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		user, err := s.service.UpdateUserRole(r.Context(), session, parts[2], body.Role)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, userJSON(user))
		return
	}

	// Live prompt documents
	if r.Method == http.MethodGet && len(parts) == 3 && parts[0] == "api" && parts[1] == "prompts" {
		contentType, ok := promptSlug(parts[2])
		if !ok {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		document, err := s.service.ReadPromptDocument(r.Context(), contentType)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"contentType": string(contentType),
			"content":     json.RawMessage(document),
		})
		return
	}

	// Change requests
	if r.URL.Path == "/api/change-requests" {
		switch r.Method {
		case http.MethodPost:
			s.handleCreateChangeRequest(w, r, session)
		case http.MethodGet:
			requests, err := s.service.ListChangeRequests(r.Context(), r.URL.Query().Get("status"))
			if err != nil {
				writeMappedError(w, err)
				return
			}
			items := make([]map[string]any, 0, len(requests))
			for _, request := range requests {
				items = append(items, changeRequestJSON(request))
			}
			writeJSON(w, http.StatusOK, map[string]any{"changeRequests": items})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}
	if r.Method == http.MethodGet && r.URL.Path == "/api/change-requests/pending-count" {
		count, err := s.service.CountPendingRequests(r.Context())
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"pendingCount": count})
		return
	}
	if r.Method == http.MethodGet && r.URL.Path == "/api/change-requests/history" {
		limit := queryInt(r, "limit", 50)
		commits, err := s.service.ConfigHistory(limit)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		items := make([]map[string]any, 0, len(commits))
		for _, commit := range commits {
			items = append(items, map[string]any{
				"hash":      commit.Hash,
				"message":   strings.TrimSpace(commit.Message),
				"author":    commit.Author,
				"createdAt": commit.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"commits": items})
		return
	}
	if len(parts) == 3 && parts[0] == "api" && parts[1] == "change-requests" {
		requestID := parts[2]
		switch r.Method {
		case http.MethodGet:
			request, err := s.service.GetChangeRequest(r.Context(), requestID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, changeRequestJSON(request))
		case http.MethodDelete:
			if err := s.service.WithdrawChangeRequest(r.Context(), session, requestID); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}
	if r.Method == http.MethodPost && len(parts) == 4 && parts[0] == "api" && parts[1] == "change-requests" {
		s.handleReviewChangeRequest(w, r, session, parts[2], parts[3])
		return
	}

	// News
	if r.Method == http.MethodPost && r.URL.Path == "/api/news/upload" {
		s.handleNewsUpload(w, r, session)
		return
	}
	if r.Method == http.MethodGet && r.URL.Path == "/api/news" {
		if query := strings.TrimSpace(r.URL.Query().Get("q")); query != "" {
			response, err := s.service.SearchNews(r.Context(), query, queryInt(r, "limit", 20))
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, response)
			return
		}
		articles, err := s.service.ListArticles(r.Context())
		if err != nil {
			writeMappedError(w, err)
			return
		}
		items := make([]map[string]any, 0, len(articles))
		for _, article := range articles {
			items = append(items, articleJSON(article))
		}
		writeJSON(w, http.StatusOK, map[string]any{"articles": items})
		return
	}
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "news" {
		articleID := parts[2]
		if r.Method == http.MethodGet && len(parts) == 3 {
			article, err := s.service.GetArticle(r.Context(), articleID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, articleJSON(article))
			return
		}
		if r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "classify" {
			insight, err := s.service.ClassifyArticle(r.Context(), articleID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, insight)
			return
		}
		if r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "feedback" {
			var body FeedbackInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			feedback, err := s.service.AddFeedback(r.Context(), session, articleID, body)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, feedbackJSON(feedback))
			return
		}
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/feedback" {
		items, err := s.service.ListFeedback(r.Context())
		if err != nil {
			writeMappedError(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(items))
		for _, item := range items {
			payload = append(payload, feedbackJSON(item))
		}
		writeJSON(w, http.StatusOK, map[string]any{"feedback": payload})
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/feedback/suggest-improvements" {
		suggestion, cases, err := s.service.SuggestImprovements(r.Context())
		if err != nil {
			writeMappedError(w, err)
			return
		}
		items := make([]map[string]any, 0, len(cases))
		for _, c := range cases {
			items = append(items, feedbackCaseJSON(c))
		}
		writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestion, "feedback": items})
		return
	}
	if r.Method == http.MethodPost && len(parts) == 4 && parts[0] == "api" && parts[1] == "feedback" && parts[3] == "evaluate" {
		report, err := s.service.EvaluateFeedback(r.Context(), parts[2])
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, report)
		return
	}
	if r.Method == http.MethodGet && r.URL.Path == "/api/evaluations" {
		reports, err := s.service.ListEvaluations(r.Context())
		if err != nil {
			writeMappedError(w, err)
			return
		}
		items := make([]map[string]any, 0, len(reports))
		for _, report := range reports {
			items = append(items, evaluationJSON(report))
		}
		writeJSON(w, http.StatusOK, map[string]any{"evaluations": items})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.SignUp(r.Context(), body.Email, body.Password, body.DisplayName)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionJSON(session))
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionJSON(session))
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
		return
	}
	writeJSON(w, http.StatusOK, sessionJSON(session))
}

func (s *HTTPServer) handleSignOut(w http.ResponseWriter, r *http.Request) {
	session := Session{}
	if token := bearerToken(r); token != "" {
		if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
			session = parsed
		}
	}
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = decodeBody(r, &body)
	_ = s.service.SignOut(r.Context(), session, body.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleCreateChangeRequest(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		ContentType     string          `json:"contentType"`
		ProposedContent json.RawMessage `json:"proposedContent"`
		Description     *string         `json:"description"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	request, err := s.service.CreateChangeRequest(r.Context(), session, body.ContentType, body.ProposedContent, body.Description)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, changeRequestJSON(request))
}

func (s *HTTPServer) handleReviewChangeRequest(w http.ResponseWriter, r *http.Request, session Session, requestID, action string) {
	switch action {
	case "approve", "reject":
		var body struct {
			Feedback *string `json:"feedback"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		var request store.ChangeRequest
		var err error
		if action == "approve" {
			request, err = s.service.ApproveChangeRequest(r.Context(), session, requestID, body.Feedback)
		} else {
			request, err = s.service.RejectChangeRequest(r.Context(), session, requestID, body.Feedback)
		}
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, changeRequestJSON(request))
	case "revise":
		var body struct {
			ProposedContent json.RawMessage `json:"proposedContent"`
			Description     *string         `json:"description"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		request, err := s.service.ReviseChangeRequest(r.Context(), session, requestID, body.ProposedContent, body.Description)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, changeRequestJSON(request))
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleNewsUpload(w http.ResponseWriter, r *http.Request, session Session) {
	data, err := readUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	articles, err := s.service.UploadNewsCSV(r.Context(), session, data)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	items := make([]map[string]any, 0, len(articles))
	for _, article := range articles {
		items = append(items, articleJSON(article))
	}
	writeJSON(w, http.StatusCreated, map[string]any{"articles": items, "count": len(items)})
}

// readUpload accepts either a multipart form with a "file" field or a raw
// CSV body.
func readUpload(r *http.Request) ([]byte, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("missing file field")
		}
		defer file.Close()
		return io.ReadAll(io.LimitReader(file, maxUploadBytes))
	}
	if r.Body == nil {
		return nil, fmt.Errorf("empty body")
	}
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(r *http.Request, key string, fallback int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, store.ErrDuplicatePending) {
		return http.StatusConflict, "DUPLICATE_PENDING", "A pending change request for this content type already exists", nil
	}
	if errors.Is(err, store.ErrConflict) {
		return http.StatusConflict, "CONFLICT", "The live content changed since this request was submitted", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
