package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"curator/api/internal/auth"
	"curator/api/internal/authpw"
	"curator/api/internal/classify"
	"curator/api/internal/config"
	"curator/api/internal/confighistory"
	"curator/api/internal/prompts"
	"curator/api/internal/search"
	"curator/api/internal/store"
	"curator/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Email        string
	DisplayName  string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error

	CreateUser(context.Context, store.User) error
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	ListUsers(context.Context) ([]store.User, error)
	UpdateUserRole(context.Context, string, string) error
	CountApprovers(context.Context) (int, error)

	// The primary store also backs refresh tokens until a Redis store is
	// swapped in via SetSessionStore.
	refreshStore

	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	ReadDocument(context.Context, prompts.ContentType) (json.RawMessage, error)
	WriteDocument(context.Context, prompts.ContentType, json.RawMessage) error

	InsertChangeRequest(context.Context, store.ChangeRequest) error
	GetChangeRequest(context.Context, string) (store.ChangeRequest, error)
	ListChangeRequests(context.Context, string) ([]store.ChangeRequest, error)
	UpdateChangeRequest(context.Context, store.ChangeRequest) error
	DeleteChangeRequest(context.Context, string) error
	HasPendingRequest(context.Context, string, prompts.ContentType) (bool, error)
	CountPendingRequests(context.Context) (int, error)
	ApproveChangeRequest(context.Context, string, string, *string) (store.ChangeRequest, error)

	InsertArticle(context.Context, store.Article) error
	GetArticle(context.Context, string) (store.Article, error)
	ListArticles(context.Context) ([]store.Article, error)
	SetArticleInsight(context.Context, string, json.RawMessage) error
	InsertFeedback(context.Context, store.Feedback) error
	GetFeedback(context.Context, string) (store.Feedback, error)
	ListFeedback(context.Context) ([]store.Feedback, error)
	InsertEvaluationReport(context.Context, store.EvaluationReport) error
	ListEvaluationReports(context.Context) ([]store.EvaluationReport, error)
}

// refreshStore holds opaque refresh tokens. Backed by the primary store by
// default, or by Redis when configured.
type refreshStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type historyService interface {
	RecordApproval(prompts.ContentType, json.RawMessage, string, string) (confighistory.Commit, error)
	History(int) ([]confighistory.Commit, error)
}

type analyzer interface {
	Analyze(ctx context.Context, categories []prompts.CategoryDefinition, fewShots []prompts.FewShotExample, systemPrompt, articleContent string) (classify.Insight, error)
	Evaluate(ctx context.Context, feedback classify.FeedbackCase, categories []prompts.CategoryDefinition, fewShots []prompts.FewShotExample) (classify.EvaluationReport, error)
	SuggestImprovements(ctx context.Context, cases []classify.FeedbackCase, categories []prompts.CategoryDefinition, fewShots []prompts.FewShotExample) (classify.ImprovementSuggestion, error)
}

type mailer interface {
	IsConfigured() bool
	SendReviewOutcome(to, userName, requestID, contentType, outcome, reviewer, feedback string) error
}

type uploadArchive interface {
	StoreUpload(ctx context.Context, uploadedBy string, data []byte) (string, error)
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  refreshStore
	passwords *authpw.Service
	history   historyService
	search    *search.Service
	mail      mailer
	agent     analyzer
	archive   uploadArchive
}

func New(cfg config.Config, st dataStore, history historyService) *Service {
	return &Service{
		cfg:       cfg,
		store:     st,
		sessions:  st,
		passwords: authpw.NewService(st),
		history:   history,
	}
}

// SetSessionStore swaps the refresh token store, e.g. for Redis.
func (s *Service) SetSessionStore(sessions refreshStore) { s.sessions = sessions }

func (s *Service) SetSearch(svc *search.Service) { s.search = svc }

func (s *Service) SetMail(mail mailer) { s.mail = mail }

func (s *Service) SetAgent(agent analyzer) { s.agent = agent }

func (s *Service) SetArchive(archive uploadArchive) { s.archive = archive }

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// SignUp registers an account. The first account of a deployment is promoted
// to APPROVER so the review workflow can operate from the start.
func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (Session, error) {
	approvers, err := s.store.CountApprovers(ctx)
	if err != nil {
		return Session{}, err
	}

	user, err := s.passwords.SignUp(ctx, authpw.SignUpRequest{
		Email:       email,
		Password:    password,
		DisplayName: displayName,
	})
	if err != nil {
		if errors.Is(err, authpw.ErrEmailTaken) {
			return Session{}, domainError(409, "EMAIL_EXISTS", "Email already registered", nil)
		}
		return Session{}, errValidation(err.Error())
	}

	if approvers == 0 {
		if err := s.store.UpdateUserRole(ctx, user.ID, store.RoleApprover); err != nil {
			return Session{}, err
		}
		user.Role = store.RoleApprover
	}

	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.passwords.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, domainError(401, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		Role:  user.Role,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Email:        user.Email,
		DisplayName:  user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates an access token and resolves the user's current
// role, so a promotion or demotion takes effect on the next request.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:       token,
		UserID:      user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Role:        user.Role,
		JTI:         claims.JTI,
		ExpiresAt:   time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) SignOut(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ReadPromptDocument returns the live document for a content type, or its
// typed empty default if none has been approved yet.
func (s *Service) ReadPromptDocument(ctx context.Context, contentType prompts.ContentType) (json.RawMessage, error) {
	return s.store.ReadDocument(ctx, contentType)
}
