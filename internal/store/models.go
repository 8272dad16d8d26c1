package store

import (
	"encoding/json"
	"errors"
	"time"

	"curator/api/internal/prompts"
)

// Roles of the two-tier review model. The system must always retain at least
// one approver.
const (
	RoleUser     = "USER"
	RoleApprover = "APPROVER"
)

// Change request lifecycle states. Withdrawal deletes the record instead of
// adding a state.
const (
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusRejected = "REJECTED"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicatePending is returned when a user already has a pending
	// change request for the same content type.
	ErrDuplicatePending = errors.New("duplicate pending change request")
	// ErrConflict is returned by approval when the live document no longer
	// matches the request's snapshot.
	ErrConflict = errors.New("content changed since snapshot")
)

type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

type ChangeRequest struct {
	ID              string
	WorkspaceID     string
	ContentType     prompts.ContentType
	SubmittedBy     string
	SubmittedAt     time.Time
	Status          string
	CurrentContent  json.RawMessage
	ProposedContent json.RawMessage
	Description     *string
	ReviewedBy      *string
	ReviewedAt      *time.Time
	ReviewFeedback  *string
}

type Article struct {
	ID         string
	Title      string
	Content    string
	UploadedBy string
	Insight    json.RawMessage
	CreatedAt  time.Time
}

type Feedback struct {
	ID              string
	ArticleID       string
	ThumbsUp        bool
	CorrectCategory string
	Reasoning       string
	Note            string
	Insight         json.RawMessage
	CreatedBy       string
	CreatedAt       time.Time
}

// EvaluationReport stores the diagnosis the evaluation agent produced for one
// feedback row. The report body is kept as the agent's JSON.
type EvaluationReport struct {
	ID         string
	FeedbackID string
	Report     json.RawMessage
	CreatedAt  time.Time
}
