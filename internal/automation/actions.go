package automation

import (
	"encoding/json"
	"fmt"

	"github.com/omnidesk-io/omnidesk/internal/store"
)

// errMissingConfig marks an action whose required configuration is absent.
// Such actions are skipped, not failed.
var errMissingConfig = fmt.Errorf("required action config missing")

// ActionConfig is the typed configuration of one action.
type ActionConfig interface {
	// Validate reports errMissingConfig when a required field is absent.
	Validate() error
}

// SendMessageConfig sends a canned reply on the client's channel.
type SendMessageConfig struct {
	Content string `json:"content"`
	Subject string `json:"subject,omitempty"` // email only
}

func (c SendMessageConfig) Validate() error {
	if c.Content == "" {
		return errMissingConfig
	}
	return nil
}

// AddTagConfig upserts a tag on the client.
type AddTagConfig struct {
	Tag string `json:"tag"`
}

func (c AddTagConfig) Validate() error {
	if c.Tag == "" {
		return errMissingConfig
	}
	return nil
}

// UpdateStatusConfig writes the client status directly. Unlike a
// user-initiated change this records no status-history row.
type UpdateStatusConfig struct {
	Status store.ClientStatus `json:"status"`
}

func (c UpdateStatusConfig) Validate() error {
	if c.Status == "" {
		return errMissingConfig
	}
	return nil
}

// AssignAgentConfig assigns a fixed agent, bypassing round robin.
type AssignAgentConfig struct {
	AgentID string `json:"agent_id"`
}

func (c AssignAgentConfig) Validate() error {
	if c.AgentID == "" {
		return errMissingConfig
	}
	return nil
}

// CreateOpportunityConfig inserts a pipeline record at the given stage.
type CreateOpportunityConfig struct {
	StageID string `json:"stage_id"`
	Title   string `json:"title,omitempty"`
}

func (c CreateOpportunityConfig) Validate() error {
	if c.StageID == "" {
		return errMissingConfig
	}
	return nil
}

// AIReplyConfig drafts a reply from recent conversation history and sends
// it under the same contract as send_message.
type AIReplyConfig struct {
	SystemPrompt string `json:"system_prompt,omitempty"`
}

func (AIReplyConfig) Validate() error { return nil }

// ParseActionConfig decodes the raw per-action JSON into its typed variant.
func ParseActionConfig(t store.ActionType, raw json.RawMessage) (ActionConfig, error) {
	switch t {
	case store.ActionSendMessage:
		var c SendMessageConfig
		if err := decodeStrict(raw, &c); err != nil {
			return nil, err
		}
		return c, nil
	case store.ActionAddTag:
		var c AddTagConfig
		if err := decodeStrict(raw, &c); err != nil {
			return nil, err
		}
		return c, nil
	case store.ActionUpdateStatus:
		var c UpdateStatusConfig
		if err := decodeStrict(raw, &c); err != nil {
			return nil, err
		}
		return c, nil
	case store.ActionAssignAgent:
		var c AssignAgentConfig
		if err := decodeStrict(raw, &c); err != nil {
			return nil, err
		}
		return c, nil
	case store.ActionCreateOpportunity:
		var c CreateOpportunityConfig
		if err := decodeStrict(raw, &c); err != nil {
			return nil, err
		}
		return c, nil
	case store.ActionAIReply:
		var c AIReplyConfig
		if err := decodeStrict(raw, &c); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown action type %q", t)
	}
}
