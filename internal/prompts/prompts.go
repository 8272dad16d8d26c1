// Package prompts defines the three editable prompt-configuration documents
// of the organization workspace and the content-type dispatch around them.
package prompts

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// ContentType identifies one of the editable prompt artifacts.
type ContentType string

const (
	ContentCategoryDefinitions ContentType = "CATEGORY_DEFINITIONS"
	ContentFewShots            ContentType = "FEW_SHOTS"
	ContentSystemPrompt        ContentType = "SYSTEM_PROMPT"
)

// Parse validates a content type received from a client.
func Parse(value string) (ContentType, error) {
	switch ContentType(value) {
	case ContentCategoryDefinitions, ContentFewShots, ContentSystemPrompt:
		return ContentType(value), nil
	default:
		return "", fmt.Errorf("unknown content type: %q", value)
	}
}

// StorageKey returns the fixed document key for a content type.
func (t ContentType) StorageKey() string {
	switch t {
	case ContentCategoryDefinitions:
		return "category_definitions"
	case ContentFewShots:
		return "few_shot_examples"
	case ContentSystemPrompt:
		return "system_prompt"
	default:
		return string(t)
	}
}

// EmptyDocument returns the typed empty default for a content type, used
// when the live document has never been written.
func (t ContentType) EmptyDocument() json.RawMessage {
	switch t {
	case ContentCategoryDefinitions:
		return json.RawMessage(`{"categories":[]}`)
	case ContentFewShots:
		return json.RawMessage(`{"examples":[]}`)
	case ContentSystemPrompt:
		return json.RawMessage(`{"content":""}`)
	default:
		return json.RawMessage(`{}`)
	}
}

type CategoryDefinition struct {
	Name       string `json:"name"`
	Definition string `json:"definition"`
}

type CategoryConfig struct {
	Categories []CategoryDefinition `json:"categories"`
}

type FewShotExample struct {
	ID          string `json:"id"`
	NewsContent string `json:"news_content"`
	Category    string `json:"category"`
	Reasoning   string `json:"reasoning"`
}

type FewShotConfig struct {
	Examples []FewShotExample `json:"examples"`
}

type SystemPromptConfig struct {
	Content string `json:"content"`
}

// Equal reports whether two documents are structurally equal. Conflict
// detection in the approval flow compares full content rather than a version
// counter, so formatting and key order must not matter.
func Equal(a, b json.RawMessage) bool {
	var left, right any
	if err := json.Unmarshal(normalize(a), &left); err != nil {
		return false
	}
	if err := json.Unmarshal(normalize(b), &right); err != nil {
		return false
	}
	return reflect.DeepEqual(left, right)
}

func normalize(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`null`)
	}
	return raw
}
