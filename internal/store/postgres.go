package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"curator/api/internal/prompts"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.Email, user.DisplayName, user.PasswordHash, user.Role)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, role, created_at
		FROM users WHERE email=$1
	`, email))
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, role, created_at
		FROM users WHERE id=$1
	`, userID))
}

func (s *PostgresStore) scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, display_name, password_hash, role, created_at
		FROM users
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.Role, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateUserRole(ctx context.Context, userID, role string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET role=$2 WHERE id=$1`, userID, role)
	if err != nil {
		return fmt.Errorf("update user role: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user role: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CountApprovers(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE role=$1`, RoleApprover).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count approvers: %w", err)
	}
	return count, nil
}

// ---- sessions (Postgres fallback when Redis is not configured) ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.email, u.display_name, u.password_hash, u.role, u.created_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, tokenHash))
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- prompt documents ----

// ReadDocument returns the live document for a content type, or its typed
// empty default when no row exists.
func (s *PostgresStore) ReadDocument(ctx context.Context, contentType prompts.ContentType) (json.RawMessage, error) {
	var content json.RawMessage
	err := s.db.QueryRowContext(ctx, `
		SELECT content FROM prompt_documents WHERE doc_key=$1
	`, contentType.StorageKey()).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return contentType.EmptyDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read document %s: %w", contentType, err)
	}
	return content, nil
}

func (s *PostgresStore) WriteDocument(ctx context.Context, contentType prompts.ContentType, content json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prompt_documents (doc_key, content, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (doc_key) DO UPDATE SET content=EXCLUDED.content, updated_at=NOW()
	`, contentType.StorageKey(), []byte(content))
	if err != nil {
		return fmt.Errorf("write document %s: %w", contentType, err)
	}
	return nil
}

// ---- change requests ----

func (s *PostgresStore) InsertChangeRequest(ctx context.Context, request ChangeRequest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO change_requests
			(id, workspace_id, content_type, submitted_by, submitted_at, status,
			 current_content, proposed_content, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, request.ID, request.WorkspaceID, string(request.ContentType), request.SubmittedBy,
		request.SubmittedAt, request.Status, []byte(request.CurrentContent),
		[]byte(request.ProposedContent), request.Description)
	if err != nil {
		// The partial unique index on (submitted_by, content_type) for
		// PENDING rows is the real duplicate guard; the service-level check
		// is best effort.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicatePending
		}
		return fmt.Errorf("insert change request: %w", err)
	}
	return nil
}

const changeRequestColumns = `
	id, workspace_id, content_type, submitted_by, submitted_at, status,
	current_content, proposed_content, description,
	reviewed_by, reviewed_at, review_feedback
`

func (s *PostgresStore) GetChangeRequest(ctx context.Context, requestID string) (ChangeRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+changeRequestColumns+` FROM change_requests WHERE id=$1
	`, requestID)
	return scanChangeRequest(row.Scan)
}

func scanChangeRequest(scan func(...any) error) (ChangeRequest, error) {
	var request ChangeRequest
	var contentType string
	var current, proposed []byte
	err := scan(
		&request.ID, &request.WorkspaceID, &contentType, &request.SubmittedBy,
		&request.SubmittedAt, &request.Status, &current, &proposed,
		&request.Description, &request.ReviewedBy, &request.ReviewedAt,
		&request.ReviewFeedback,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ChangeRequest{}, ErrNotFound
	}
	if err != nil {
		return ChangeRequest{}, fmt.Errorf("scan change request: %w", err)
	}
	request.ContentType = prompts.ContentType(contentType)
	request.CurrentContent = json.RawMessage(current)
	request.ProposedContent = json.RawMessage(proposed)
	return request, nil
}

// ListChangeRequests returns requests sorted most recent first, optionally
// filtered by status.
func (s *PostgresStore) ListChangeRequests(ctx context.Context, status string) ([]ChangeRequest, error) {
	query := `SELECT ` + changeRequestColumns + ` FROM change_requests`
	args := []any{}
	if status != "" {
		query += ` WHERE status=$1`
		args = append(args, status)
	}
	query += ` ORDER BY submitted_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list change requests: %w", err)
	}
	defer rows.Close()

	items := make([]ChangeRequest, 0)
	for rows.Next() {
		request, err := scanChangeRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, request)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate change requests: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateChangeRequest(ctx context.Context, request ChangeRequest) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE change_requests
		SET status=$2, submitted_at=$3, current_content=$4, proposed_content=$5,
			description=$6, reviewed_by=$7, reviewed_at=$8, review_feedback=$9
		WHERE id=$1
	`, request.ID, request.Status, request.SubmittedAt, []byte(request.CurrentContent),
		[]byte(request.ProposedContent), request.Description, request.ReviewedBy,
		request.ReviewedAt, request.ReviewFeedback)
	if err != nil {
		return fmt.Errorf("update change request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update change request: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteChangeRequest(ctx context.Context, requestID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM change_requests WHERE id=$1`, requestID)
	if err != nil {
		return fmt.Errorf("delete change request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete change request: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) HasPendingRequest(ctx context.Context, userID string, contentType prompts.ContentType) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM change_requests
			WHERE submitted_by=$1 AND content_type=$2 AND status=$3
		)
	`, userID, string(contentType), StatusPending).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check pending request: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) CountPendingRequests(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM change_requests WHERE status=$1`, StatusPending).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending requests: %w", err)
	}
	return count, nil
}

// ApproveChangeRequest runs the optimistic-concurrency check and, on success,
// applies the proposed content and review metadata in a single transaction.
// The document row is locked for the duration, so two approvals for the same
// content type cannot both pass the check against a stale snapshot.
func (s *PostgresStore) ApproveChangeRequest(ctx context.Context, requestID, reviewerID string, feedback *string) (ChangeRequest, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ChangeRequest{}, fmt.Errorf("begin approval tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT `+changeRequestColumns+` FROM change_requests WHERE id=$1
	`, requestID)
	request, err := scanChangeRequest(row.Scan)
	if err != nil {
		return ChangeRequest{}, err
	}

	docKey := request.ContentType.StorageKey()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO prompt_documents (doc_key, content)
		VALUES ($1, $2)
		ON CONFLICT (doc_key) DO NOTHING
	`, docKey, []byte(request.ContentType.EmptyDocument())); err != nil {
		return ChangeRequest{}, fmt.Errorf("seed document row: %w", err)
	}

	var live json.RawMessage
	if err := tx.QueryRowContext(ctx, `
		SELECT content FROM prompt_documents WHERE doc_key=$1 FOR UPDATE
	`, docKey).Scan(&live); err != nil {
		return ChangeRequest{}, fmt.Errorf("lock document row: %w", err)
	}

	if !prompts.Equal(live, request.CurrentContent) {
		return ChangeRequest{}, ErrConflict
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE prompt_documents SET content=$2, updated_at=NOW() WHERE doc_key=$1
	`, docKey, []byte(request.ProposedContent)); err != nil {
		return ChangeRequest{}, fmt.Errorf("apply proposed content: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE change_requests
		SET status=$2, reviewed_by=$3, reviewed_at=$4, review_feedback=$5
		WHERE id=$1
	`, requestID, StatusApproved, reviewerID, now, feedback); err != nil {
		return ChangeRequest{}, fmt.Errorf("mark request approved: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ChangeRequest{}, fmt.Errorf("commit approval tx: %w", err)
	}

	request.Status = StatusApproved
	request.ReviewedBy = &reviewerID
	request.ReviewedAt = &now
	request.ReviewFeedback = feedback
	return request, nil
}

// ---- news articles ----

func (s *PostgresStore) InsertArticle(ctx context.Context, article Article) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO news_articles (id, title, content, uploaded_by)
		VALUES ($1, $2, $3, $4)
	`, article.ID, article.Title, article.Content, article.UploadedBy)
	if err != nil {
		return fmt.Errorf("insert article: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetArticle(ctx context.Context, articleID string) (Article, error) {
	var article Article
	var insight []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, uploaded_by, insight, created_at
		FROM news_articles WHERE id=$1
	`, articleID).Scan(&article.ID, &article.Title, &article.Content, &article.UploadedBy, &insight, &article.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Article{}, ErrNotFound
	}
	if err != nil {
		return Article{}, fmt.Errorf("get article: %w", err)
	}
	article.Insight = json.RawMessage(insight)
	return article, nil
}

func (s *PostgresStore) ListArticles(ctx context.Context) ([]Article, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, content, uploaded_by, insight, created_at
		FROM news_articles
		ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()

	items := make([]Article, 0)
	for rows.Next() {
		var article Article
		var insight []byte
		if err := rows.Scan(&article.ID, &article.Title, &article.Content, &article.UploadedBy, &insight, &article.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		article.Insight = json.RawMessage(insight)
		items = append(items, article)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate articles: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SetArticleInsight(ctx context.Context, articleID string, insight json.RawMessage) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE news_articles SET insight=$2 WHERE id=$1
	`, articleID, []byte(insight))
	if err != nil {
		return fmt.Errorf("set article insight: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set article insight: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- feedback ----

func (s *PostgresStore) InsertFeedback(ctx context.Context, feedback Feedback) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback (id, article_id, thumbs_up, correct_category, reasoning, note, insight, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, feedback.ID, feedback.ArticleID, feedback.ThumbsUp, feedback.CorrectCategory,
		feedback.Reasoning, feedback.Note, []byte(feedback.Insight), feedback.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetFeedback(ctx context.Context, feedbackID string) (Feedback, error) {
	var item Feedback
	var insight []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, article_id, thumbs_up, correct_category, reasoning, note, insight, created_by, created_at
		FROM feedback WHERE id=$1
	`, feedbackID).Scan(&item.ID, &item.ArticleID, &item.ThumbsUp, &item.CorrectCategory,
		&item.Reasoning, &item.Note, &insight, &item.CreatedBy, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Feedback{}, ErrNotFound
	}
	if err != nil {
		return Feedback{}, fmt.Errorf("get feedback: %w", err)
	}
	item.Insight = json.RawMessage(insight)
	return item, nil
}

func (s *PostgresStore) ListFeedback(ctx context.Context) ([]Feedback, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, article_id, thumbs_up, correct_category, reasoning, note, insight, created_by, created_at
		FROM feedback
		ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	items := make([]Feedback, 0)
	for rows.Next() {
		var item Feedback
		var insight []byte
		if err := rows.Scan(&item.ID, &item.ArticleID, &item.ThumbsUp, &item.CorrectCategory,
			&item.Reasoning, &item.Note, &insight, &item.CreatedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		item.Insight = json.RawMessage(insight)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feedback: %w", err)
	}
	return items, nil
}

// ---- evaluation reports ----

func (s *PostgresStore) InsertEvaluationReport(ctx context.Context, report EvaluationReport) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evaluation_reports (id, feedback_id, report)
		VALUES ($1, $2, $3)
	`, report.ID, report.FeedbackID, []byte(report.Report))
	if err != nil {
		return fmt.Errorf("insert evaluation report: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListEvaluationReports(ctx context.Context) ([]EvaluationReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, feedback_id, report, created_at
		FROM evaluation_reports
		ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list evaluation reports: %w", err)
	}
	defer rows.Close()

	items := make([]EvaluationReport, 0)
	for rows.Next() {
		var report EvaluationReport
		var body []byte
		if err := rows.Scan(&report.ID, &report.FeedbackID, &body, &report.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan evaluation report: %w", err)
		}
		report.Report = json.RawMessage(body)
		items = append(items, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evaluation reports: %w", err)
	}
	return items, nil
}
