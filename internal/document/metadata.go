package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"gemcast/internal/agents"
)

// Status is the lifecycle state of a document.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

func ParseStatus(value string) (Status, error) {
	switch Status(value) {
	case StatusActive, StatusArchived:
		return Status(value), nil
	}
	return "", fmt.Errorf("unknown status %q", value)
}

var typeTag = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Metadata is the structured record attached to every revision. Status is
// optional and defaults to active; Type is a category tag such as
// podcast_brief or guest_dossier; AgentID names the agent that wrote the
// revision.
type Metadata struct {
	Status  Status `json:"status,omitempty"`
	Type    string `json:"type,omitempty"`
	AgentID string `json:"agentId,omitempty"`
}

func (m Metadata) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Status, validation.In(StatusActive, StatusArchived)),
		validation.Field(&m.Type, validation.Length(0, 64), validation.Match(typeTag)),
		validation.Field(&m.AgentID, validation.By(func(value any) error {
			id, _ := value.(string)
			if id != "" && !agents.Valid(id) {
				return fmt.Errorf("unknown agent %q", id)
			}
			return nil
		})),
	)
}

// EffectiveStatus returns the status, treating an absent one as active.
func (m Metadata) EffectiveStatus() Status {
	if m.Status == "" {
		return StatusActive
	}
	return m.Status
}

// ParseMetadata decodes and validates metadata from a write request. Unknown
// keys are rejected. An empty or null body yields zero metadata.
func ParseMetadata(raw json.RawMessage) (Metadata, error) {
	var m Metadata
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return m, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return Metadata{}, fmt.Errorf("decode metadata: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Metadata{}, err
	}
	return m, nil
}
