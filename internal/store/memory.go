package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"curator/api/internal/prompts"
)

// MemoryStore is an in-process store with the same semantics as the Postgres
// store. It backs the unit tests and keeps the approval check-then-act atomic
// under its mutex.
type MemoryStore struct {
	mu              sync.Mutex
	users           map[string]User
	refreshSessions map[string]memorySession
	revokedTokens   map[string]time.Time
	documents       map[string]json.RawMessage
	changeRequests  map[string]ChangeRequest
	articles        map[string]Article
	feedback        map[string]Feedback
	reports         map[string]EvaluationReport
	articleSeq      []string
	feedbackSeq     []string
	reportSeq       []string
}

type memorySession struct {
	userID    string
	expiresAt time.Time
	revoked   bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:           make(map[string]User),
		refreshSessions: make(map[string]memorySession),
		revokedTokens:   make(map[string]time.Time),
		documents:       make(map[string]json.RawMessage),
		changeRequests:  make(map[string]ChangeRequest),
		articles:        make(map[string]Article),
		feedback:        make(map[string]Feedback),
		reports:         make(map[string]EvaluationReport),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}

func cloneRequest(request ChangeRequest) ChangeRequest {
	out := request
	out.CurrentContent = cloneRaw(request.CurrentContent)
	out.ProposedContent = cloneRaw(request.ProposedContent)
	if request.Description != nil {
		value := *request.Description
		out.Description = &value
	}
	if request.ReviewedBy != nil {
		value := *request.ReviewedBy
		out.ReviewedBy = &value
	}
	if request.ReviewedAt != nil {
		value := *request.ReviewedAt
		out.ReviewedAt = &value
	}
	if request.ReviewFeedback != nil {
		value := *request.ReviewFeedback
		out.ReviewFeedback = &value
	}
	return out
}

// ---- users ----

func (s *MemoryStore) CreateUser(_ context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	s.users[user.ID] = user
	return nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.Email == email {
			return user, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *MemoryStore) GetUserByID(_ context.Context, userID string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (s *MemoryStore) ListUsers(context.Context) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]User, 0, len(s.users))
	for _, user := range s.users {
		items = append(items, user)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

func (s *MemoryStore) UpdateUserRole(_ context.Context, userID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	user.Role = role
	s.users[userID] = user
	return nil
}

func (s *MemoryStore) CountApprovers(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, user := range s.users {
		if user.Role == RoleApprover {
			count++
		}
	}
	return count, nil
}

// ---- sessions ----

func (s *MemoryStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshSessions[tokenHash] = memorySession{userID: userID, expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) LookupRefreshSession(_ context.Context, tokenHash string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.refreshSessions[tokenHash]
	if !ok || session.revoked || time.Now().After(session.expiresAt) {
		return User{}, ErrNotFound
	}
	user, ok := s.users[session.userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (s *MemoryStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.refreshSessions[tokenHash]
	if ok {
		session.revoked = true
		s.refreshSessions[tokenHash] = session
	}
	return nil
}

func (s *MemoryStore) RevokeAccessToken(_ context.Context, jti string, exp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokedTokens[jti] = exp
	return nil
}

func (s *MemoryStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, revoked := s.revokedTokens[jti]
	return revoked, nil
}

// ---- prompt documents ----

func (s *MemoryStore) ReadDocument(_ context.Context, contentType prompts.ContentType) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readDocumentLocked(contentType), nil
}

func (s *MemoryStore) readDocumentLocked(contentType prompts.ContentType) json.RawMessage {
	content, ok := s.documents[contentType.StorageKey()]
	if !ok {
		return contentType.EmptyDocument()
	}
	return cloneRaw(content)
}

func (s *MemoryStore) WriteDocument(_ context.Context, contentType prompts.ContentType, content json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[contentType.StorageKey()] = cloneRaw(content)
	return nil
}

// ---- change requests ----

func (s *MemoryStore) InsertChangeRequest(_ context.Context, request ChangeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.changeRequests {
		if existing.SubmittedBy == request.SubmittedBy &&
			existing.ContentType == request.ContentType &&
			existing.Status == StatusPending {
			return ErrDuplicatePending
		}
	}
	s.changeRequests[request.ID] = cloneRequest(request)
	return nil
}

func (s *MemoryStore) GetChangeRequest(_ context.Context, requestID string) (ChangeRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	request, ok := s.changeRequests[requestID]
	if !ok {
		return ChangeRequest{}, ErrNotFound
	}
	return cloneRequest(request), nil
}

func (s *MemoryStore) ListChangeRequests(_ context.Context, status string) ([]ChangeRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]ChangeRequest, 0, len(s.changeRequests))
	for _, request := range s.changeRequests {
		if status != "" && request.Status != status {
			continue
		}
		items = append(items, cloneRequest(request))
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].SubmittedAt.Equal(items[j].SubmittedAt) {
			return items[i].SubmittedAt.After(items[j].SubmittedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (s *MemoryStore) UpdateChangeRequest(_ context.Context, request ChangeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.changeRequests[request.ID]; !ok {
		return ErrNotFound
	}
	s.changeRequests[request.ID] = cloneRequest(request)
	return nil
}

func (s *MemoryStore) DeleteChangeRequest(_ context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.changeRequests[requestID]; !ok {
		return ErrNotFound
	}
	delete(s.changeRequests, requestID)
	return nil
}

func (s *MemoryStore) HasPendingRequest(_ context.Context, userID string, contentType prompts.ContentType) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, request := range s.changeRequests {
		if request.SubmittedBy == userID &&
			request.ContentType == contentType &&
			request.Status == StatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) CountPendingRequests(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, request := range s.changeRequests {
		if request.Status == StatusPending {
			count++
		}
	}
	return count, nil
}

// ApproveChangeRequest mirrors the Postgres transaction: the conflict check
// and the document write happen under one lock.
func (s *MemoryStore) ApproveChangeRequest(_ context.Context, requestID, reviewerID string, feedback *string) (ChangeRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	request, ok := s.changeRequests[requestID]
	if !ok {
		return ChangeRequest{}, ErrNotFound
	}

	live := s.readDocumentLocked(request.ContentType)
	if !prompts.Equal(live, request.CurrentContent) {
		return ChangeRequest{}, ErrConflict
	}

	s.documents[request.ContentType.StorageKey()] = cloneRaw(request.ProposedContent)

	now := time.Now().UTC()
	request.Status = StatusApproved
	request.ReviewedBy = &reviewerID
	request.ReviewedAt = &now
	request.ReviewFeedback = feedback
	s.changeRequests[requestID] = cloneRequest(request)
	return cloneRequest(request), nil
}

// ---- news articles ----

func (s *MemoryStore) InsertArticle(_ context.Context, article Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if article.CreatedAt.IsZero() {
		article.CreatedAt = time.Now()
	}
	s.articles[article.ID] = article
	s.articleSeq = append(s.articleSeq, article.ID)
	return nil
}

func (s *MemoryStore) GetArticle(_ context.Context, articleID string) (Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	article, ok := s.articles[articleID]
	if !ok {
		return Article{}, ErrNotFound
	}
	return article, nil
}

func (s *MemoryStore) ListArticles(context.Context) ([]Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]Article, 0, len(s.articleSeq))
	for i := len(s.articleSeq) - 1; i >= 0; i-- {
		if article, ok := s.articles[s.articleSeq[i]]; ok {
			items = append(items, article)
		}
	}
	return items, nil
}

func (s *MemoryStore) SetArticleInsight(_ context.Context, articleID string, insight json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	article, ok := s.articles[articleID]
	if !ok {
		return ErrNotFound
	}
	article.Insight = cloneRaw(insight)
	s.articles[articleID] = article
	return nil
}

// ---- feedback ----

func (s *MemoryStore) InsertFeedback(_ context.Context, item Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	s.feedback[item.ID] = item
	s.feedbackSeq = append(s.feedbackSeq, item.ID)
	return nil
}

func (s *MemoryStore) GetFeedback(_ context.Context, feedbackID string) (Feedback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.feedback[feedbackID]
	if !ok {
		return Feedback{}, ErrNotFound
	}
	return item, nil
}

func (s *MemoryStore) ListFeedback(context.Context) ([]Feedback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]Feedback, 0, len(s.feedbackSeq))
	for i := len(s.feedbackSeq) - 1; i >= 0; i-- {
		if item, ok := s.feedback[s.feedbackSeq[i]]; ok {
			items = append(items, item)
		}
	}
	return items, nil
}

// ---- evaluation reports ----

func (s *MemoryStore) InsertEvaluationReport(_ context.Context, report EvaluationReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now()
	}
	report.Report = cloneRaw(report.Report)
	s.reports[report.ID] = report
	s.reportSeq = append(s.reportSeq, report.ID)
	return nil
}

func (s *MemoryStore) ListEvaluationReports(context.Context) ([]EvaluationReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]EvaluationReport, 0, len(s.reportSeq))
	for i := len(s.reportSeq) - 1; i >= 0; i-- {
		if report, ok := s.reports[s.reportSeq[i]]; ok {
			items = append(items, report)
		}
	}
	return items, nil
}
