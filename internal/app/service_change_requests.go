package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"curator/api/internal/confighistory"
	"curator/api/internal/prompts"
	"curator/api/internal/store"
	"curator/api/internal/util"
)

// The single shared workspace every change request targets.
const organizationWorkspace = "organization"

// CreateChangeRequest opens a PENDING request carrying a snapshot of the live
// document, taken now so approval can detect intervening edits.
func (s *Service) CreateChangeRequest(ctx context.Context, session Session, contentTypeValue string, proposed json.RawMessage, description *string) (store.ChangeRequest, error) {
	contentType, err := prompts.Parse(contentTypeValue)
	if err != nil {
		return store.ChangeRequest{}, errValidation(err.Error())
	}
	if err := validateProposed(contentType, proposed); err != nil {
		return store.ChangeRequest{}, err
	}

	pending, err := s.store.HasPendingRequest(ctx, session.UserID, contentType)
	if err != nil {
		return store.ChangeRequest{}, err
	}
	if pending {
		return store.ChangeRequest{}, errDuplicatePending(string(contentType))
	}

	snapshot, err := s.store.ReadDocument(ctx, contentType)
	if err != nil {
		return store.ChangeRequest{}, err
	}

	request := store.ChangeRequest{
		ID:              util.ShortID("cr"),
		WorkspaceID:     organizationWorkspace,
		ContentType:     contentType,
		SubmittedBy:     session.UserID,
		SubmittedAt:     time.Now(),
		Status:          store.StatusPending,
		CurrentContent:  snapshot,
		ProposedContent: proposed,
		Description:     description,
	}
	if err := s.store.InsertChangeRequest(ctx, request); err != nil {
		if err == store.ErrDuplicatePending {
			return store.ChangeRequest{}, errDuplicatePending(string(contentType))
		}
		return store.ChangeRequest{}, err
	}
	return request, nil
}

func (s *Service) GetChangeRequest(ctx context.Context, requestID string) (store.ChangeRequest, error) {
	return s.store.GetChangeRequest(ctx, requestID)
}

// ListChangeRequests returns requests newest first, optionally filtered by status.
func (s *Service) ListChangeRequests(ctx context.Context, status string) ([]store.ChangeRequest, error) {
	switch status {
	case "", store.StatusPending, store.StatusApproved, store.StatusRejected:
	default:
		return nil, errValidation("unknown status filter: " + status)
	}
	return s.store.ListChangeRequests(ctx, status)
}

// ApproveChangeRequest commits the proposed content as the new live document.
// The storage layer performs the snapshot conflict check and the document
// write atomically; a mismatch surfaces as a conflict and mutates nothing.
func (s *Service) ApproveChangeRequest(ctx context.Context, session Session, requestID string, feedback *string) (store.ChangeRequest, error) {
	if session.Role != store.RoleApprover {
		return store.ChangeRequest{}, errForbidden("Only approvers may approve change requests")
	}

	request, err := s.store.GetChangeRequest(ctx, requestID)
	if err != nil {
		return store.ChangeRequest{}, err
	}
	if request.SubmittedBy == session.UserID {
		return store.ChangeRequest{}, errForbidden("You cannot approve your own change request")
	}
	if request.Status != store.StatusPending {
		return store.ChangeRequest{}, errInvalidState("approve", request.Status)
	}

	approved, err := s.store.ApproveChangeRequest(ctx, requestID, session.UserID, feedback)
	if err != nil {
		if err == store.ErrConflict {
			return store.ChangeRequest{}, errConflict()
		}
		return store.ChangeRequest{}, err
	}

	if s.history != nil {
		message := fmt.Sprintf("Approve %s (%s)", approved.ID, approved.ContentType)
		if _, err := s.history.RecordApproval(approved.ContentType, approved.ProposedContent, session.DisplayName, message); err != nil {
			log.Printf("history: record approval %s: %v", approved.ID, err)
		}
	}
	s.notifyReviewOutcome(ctx, approved, session, store.StatusApproved, feedback)

	return approved, nil
}

// RejectChangeRequest records the rejection. The live document is untouched,
// so no conflict check applies.
func (s *Service) RejectChangeRequest(ctx context.Context, session Session, requestID string, feedback *string) (store.ChangeRequest, error) {
	if session.Role != store.RoleApprover {
		return store.ChangeRequest{}, errForbidden("Only approvers may reject change requests")
	}

	request, err := s.store.GetChangeRequest(ctx, requestID)
	if err != nil {
		return store.ChangeRequest{}, err
	}
	if request.Status != store.StatusPending {
		return store.ChangeRequest{}, errInvalidState("reject", request.Status)
	}

	now := time.Now()
	request.Status = store.StatusRejected
	request.ReviewedBy = &session.UserID
	request.ReviewedAt = &now
	request.ReviewFeedback = feedback
	if err := s.store.UpdateChangeRequest(ctx, request); err != nil {
		return store.ChangeRequest{}, err
	}

	s.notifyReviewOutcome(ctx, request, session, store.StatusRejected, feedback)
	return request, nil
}

// ReviseChangeRequest reopens a REJECTED request with new proposed content.
// The snapshot is retaken so the next approval is checked against the current
// document, and the previous review verdict is cleared.
func (s *Service) ReviseChangeRequest(ctx context.Context, session Session, requestID string, proposed json.RawMessage, description *string) (store.ChangeRequest, error) {
	request, err := s.store.GetChangeRequest(ctx, requestID)
	if err != nil {
		return store.ChangeRequest{}, err
	}
	if request.SubmittedBy != session.UserID {
		return store.ChangeRequest{}, errForbidden("Only the submitter may revise a change request")
	}
	if request.Status != store.StatusRejected {
		return store.ChangeRequest{}, errInvalidState("revise", request.Status)
	}
	if err := validateProposed(request.ContentType, proposed); err != nil {
		return store.ChangeRequest{}, err
	}

	pending, err := s.store.HasPendingRequest(ctx, session.UserID, request.ContentType)
	if err != nil {
		return store.ChangeRequest{}, err
	}
	if pending {
		return store.ChangeRequest{}, errDuplicatePending(string(request.ContentType))
	}

	snapshot, err := s.store.ReadDocument(ctx, request.ContentType)
	if err != nil {
		return store.ChangeRequest{}, err
	}

	request.Status = store.StatusPending
	request.SubmittedAt = time.Now()
	request.CurrentContent = snapshot
	request.ProposedContent = proposed
	request.Description = description
	request.ReviewedBy = nil
	request.ReviewedAt = nil
	request.ReviewFeedback = nil
	if err := s.store.UpdateChangeRequest(ctx, request); err != nil {
		return store.ChangeRequest{}, err
	}
	return request, nil
}

// WithdrawChangeRequest deletes a PENDING request permanently.
func (s *Service) WithdrawChangeRequest(ctx context.Context, session Session, requestID string) error {
	request, err := s.store.GetChangeRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if request.SubmittedBy != session.UserID {
		return errForbidden("Only the submitter may withdraw a change request")
	}
	if request.Status != store.StatusPending {
		return errInvalidState("withdraw", request.Status)
	}
	return s.store.DeleteChangeRequest(ctx, requestID)
}

func (s *Service) HasPendingRequest(ctx context.Context, session Session, contentTypeValue string) (bool, error) {
	contentType, err := prompts.Parse(contentTypeValue)
	if err != nil {
		return false, errValidation(err.Error())
	}
	return s.store.HasPendingRequest(ctx, session.UserID, contentType)
}

func (s *Service) CountPendingRequests(ctx context.Context) (int, error) {
	return s.store.CountPendingRequests(ctx)
}

// ConfigHistory lists the commit log of approved configuration changes.
func (s *Service) ConfigHistory(limit int) ([]confighistory.Commit, error) {
	if s.history == nil {
		return []confighistory.Commit{}, nil
	}
	return s.history.History(limit)
}

func (s *Service) notifyReviewOutcome(ctx context.Context, request store.ChangeRequest, reviewer Session, outcome string, feedback *string) {
	if s.mail == nil || !s.mail.IsConfigured() {
		return
	}
	submitter, err := s.store.GetUserByID(ctx, request.SubmittedBy)
	if err != nil {
		log.Printf("notify: lookup submitter %s: %v", request.SubmittedBy, err)
		return
	}
	feedbackText := ""
	if feedback != nil {
		feedbackText = *feedback
	}
	if err := s.mail.SendReviewOutcome(submitter.Email, submitter.DisplayName,
		request.ID, string(request.ContentType), outcome, reviewer.DisplayName, feedbackText); err != nil {
		log.Printf("notify: send review outcome for %s: %v", request.ID, err)
	}
}

// validateProposed checks the proposed document parses into the typed shape
// for its content type.
func validateProposed(contentType prompts.ContentType, proposed json.RawMessage) error {
	if len(proposed) == 0 || !json.Valid(proposed) {
		return errValidation("proposedContent must be a JSON document")
	}
	var err error
	switch contentType {
	case prompts.ContentCategoryDefinitions:
		err = json.Unmarshal(proposed, &prompts.CategoryConfig{})
	case prompts.ContentFewShots:
		err = json.Unmarshal(proposed, &prompts.FewShotConfig{})
	case prompts.ContentSystemPrompt:
		err = json.Unmarshal(proposed, &prompts.SystemPromptConfig{})
	}
	if err != nil {
		return errValidation(fmt.Sprintf("proposedContent does not match the %s shape: %v", contentType, err))
	}
	return nil
}
