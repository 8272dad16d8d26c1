package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"curator/api/internal/prompts"
)

func pendingRequest(id, userID string, contentType prompts.ContentType, snapshot, proposed string) ChangeRequest {
	return ChangeRequest{
		ID:              id,
		WorkspaceID:     "organization",
		ContentType:     contentType,
		SubmittedBy:     userID,
		SubmittedAt:     time.Now(),
		Status:          StatusPending,
		CurrentContent:  json.RawMessage(snapshot),
		ProposedContent: json.RawMessage(proposed),
	}
}

func TestInsertEnforcesOnePendingPerPair(t *testing.T) {
	memory := NewMemoryStore()
	ctx := context.Background()

	first := pendingRequest("cr-1", "alice", prompts.ContentSystemPrompt, `{"content":""}`, `{"content":"v1"}`)
	if err := memory.InsertChangeRequest(ctx, first); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	second := pendingRequest("cr-2", "alice", prompts.ContentSystemPrompt, `{"content":""}`, `{"content":"v2"}`)
	if err := memory.InsertChangeRequest(ctx, second); !errors.Is(err, ErrDuplicatePending) {
		t.Errorf("expected ErrDuplicatePending, got %v", err)
	}

	// Other users and other content types are unaffected.
	other := pendingRequest("cr-3", "bob", prompts.ContentSystemPrompt, `{"content":""}`, `{"content":"v3"}`)
	if err := memory.InsertChangeRequest(ctx, other); err != nil {
		t.Errorf("different submitter should be allowed: %v", err)
	}
	fewShots := pendingRequest("cr-4", "alice", prompts.ContentFewShots, `{"examples":[]}`, `{"examples":[]}`)
	if err := memory.InsertChangeRequest(ctx, fewShots); err != nil {
		t.Errorf("different content type should be allowed: %v", err)
	}
}

func TestApproveCommitsProposedContent(t *testing.T) {
	memory := NewMemoryStore()
	ctx := context.Background()

	request := pendingRequest("cr-1", "alice", prompts.ContentSystemPrompt, `{"content":""}`, `{"content":"You classify news."}`)
	if err := memory.InsertChangeRequest(ctx, request); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	feedback := "ship it"
	approved, err := memory.ApproveChangeRequest(ctx, "cr-1", "bob", &feedback)
	if err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if approved.Status != StatusApproved {
		t.Errorf("expected APPROVED, got %s", approved.Status)
	}
	if approved.ReviewedBy == nil || *approved.ReviewedBy != "bob" {
		t.Error("reviewer not recorded")
	}

	live, err := memory.ReadDocument(ctx, prompts.ContentSystemPrompt)
	if err != nil {
		t.Fatalf("ReadDocument failed: %v", err)
	}
	if !prompts.Equal(live, json.RawMessage(`{"content":"You classify news."}`)) {
		t.Errorf("live document not updated: %s", live)
	}
}

func TestApproveDetectsStaleSnapshot(t *testing.T) {
	memory := NewMemoryStore()
	ctx := context.Background()

	// Both requests snapshot the empty default.
	first := pendingRequest("cr-1", "alice", prompts.ContentSystemPrompt, `{"content":""}`, `{"content":"v1"}`)
	second := pendingRequest("cr-2", "bob", prompts.ContentSystemPrompt, `{"content":""}`, `{"content":"v2"}`)
	if err := memory.InsertChangeRequest(ctx, first); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := memory.InsertChangeRequest(ctx, second); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	if _, err := memory.ApproveChangeRequest(ctx, "cr-1", "carol", nil); err != nil {
		t.Fatalf("first approve failed: %v", err)
	}

	// The second approval now races a stale snapshot and must not mutate.
	if _, err := memory.ApproveChangeRequest(ctx, "cr-2", "carol", nil); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	live, _ := memory.ReadDocument(ctx, prompts.ContentSystemPrompt)
	if !prompts.Equal(live, json.RawMessage(`{"content":"v1"}`)) {
		t.Errorf("conflicting approval mutated the document: %s", live)
	}
	stale, err := memory.GetChangeRequest(ctx, "cr-2")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stale.Status != StatusPending {
		t.Errorf("conflicting approval changed status: %s", stale.Status)
	}
}

func TestApproveTreatsFormattingAsEqual(t *testing.T) {
	memory := NewMemoryStore()
	ctx := context.Background()

	if err := memory.WriteDocument(ctx, prompts.ContentCategoryDefinitions,
		json.RawMessage(`{"categories": [{"name": "A", "definition": "x"}]}`)); err != nil {
		t.Fatalf("WriteDocument failed: %v", err)
	}

	// Snapshot differs only in whitespace and key spacing.
	request := pendingRequest("cr-1", "alice", prompts.ContentCategoryDefinitions,
		`{"categories":[{"name":"A","definition":"x"}]}`,
		`{"categories":[]}`)
	if err := memory.InsertChangeRequest(ctx, request); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	if _, err := memory.ApproveChangeRequest(ctx, "cr-1", "bob", nil); err != nil {
		t.Errorf("structural equality should tolerate formatting, got %v", err)
	}
}

func TestReadDocumentReturnsTypedDefault(t *testing.T) {
	memory := NewMemoryStore()
	ctx := context.Background()

	for contentType, want := range map[prompts.ContentType]string{
		prompts.ContentCategoryDefinitions: `{"categories":[]}`,
		prompts.ContentFewShots:            `{"examples":[]}`,
		prompts.ContentSystemPrompt:        `{"content":""}`,
	} {
		raw, err := memory.ReadDocument(ctx, contentType)
		if err != nil {
			t.Fatalf("ReadDocument %s failed: %v", contentType, err)
		}
		if !prompts.Equal(raw, json.RawMessage(want)) {
			t.Errorf("%s: expected %s, got %s", contentType, want, raw)
		}
	}
}
