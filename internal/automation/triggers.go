package automation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/omnidesk-io/omnidesk/internal/store"
)

// TriggerConfig is the typed predicate configuration of one trigger.
type TriggerConfig interface {
	// Matches evaluates the predicate against an event of the trigger's type.
	Matches(ev Event) bool
}

// ClientCreatedConfig has no predicate: every client_created event matches.
type ClientCreatedConfig struct{}

func (ClientCreatedConfig) Matches(Event) bool { return true }

// StatusChangeConfig matches a status_change event, optionally narrowed to
// one target status.
type StatusChangeConfig struct {
	Status store.ClientStatus `json:"status,omitempty"`
}

func (c StatusChangeConfig) Matches(ev Event) bool {
	return c.Status == "" || ev.ToStatus == c.Status
}

// MessageReceivedConfig matches a message_received event, optionally
// narrowed to messages containing a keyword (case-insensitive).
type MessageReceivedConfig struct {
	Keyword string `json:"keyword,omitempty"`
}

func (c MessageReceivedConfig) Matches(ev Event) bool {
	if c.Keyword == "" {
		return true
	}
	if ev.Message == nil {
		return false
	}
	return strings.Contains(strings.ToLower(ev.Message.Content), strings.ToLower(c.Keyword))
}

// StageChangeConfig matches a stage_change event, optionally narrowed to
// one stage.
type StageChangeConfig struct {
	StageID string `json:"stage_id,omitempty"`
}

func (c StageChangeConfig) Matches(ev Event) bool {
	return c.StageID == "" || ev.StageID == c.StageID
}

// ParseTriggerConfig decodes the raw per-trigger JSON into its typed
// variant. Unknown trigger types and unknown fields are errors so broken
// workflow definitions surface at load time, not silently at runtime.
func ParseTriggerConfig(t store.TriggerType, raw json.RawMessage) (TriggerConfig, error) {
	switch t {
	case store.TriggerClientCreated:
		var c ClientCreatedConfig
		if err := decodeStrict(raw, &c); err != nil {
			return nil, err
		}
		return c, nil
	case store.TriggerStatusChange:
		var c StatusChangeConfig
		if err := decodeStrict(raw, &c); err != nil {
			return nil, err
		}
		return c, nil
	case store.TriggerMessageReceived:
		var c MessageReceivedConfig
		if err := decodeStrict(raw, &c); err != nil {
			return nil, err
		}
		return c, nil
	case store.TriggerStageChange:
		var c StageChangeConfig
		if err := decodeStrict(raw, &c); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown trigger type %q", t)
	}
}

// decodeStrict unmarshals raw into v, rejecting unknown fields. Empty raw
// means "no predicate configured" and leaves v zero.
func decodeStrict(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}
