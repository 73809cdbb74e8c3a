package relay

import (
	"encoding/json"
	"fmt"
)

// Message is the payload of the relay topic: {"type": "...", "action": {...}}.
type Message struct {
	Action Action
}

type wireMessage struct {
	Type   string          `json:"type"`
	Action json.RawMessage `json:"action"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	if m.Action == nil {
		return nil, ErrMissingAction
	}
	body, err := json.Marshal(m.Action)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessage{Type: m.Action.Type(), Action: body})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var a Action
	switch w.Type {
	case TypeCreate:
		a = &CreateAction{}
	case TypeBind:
		a = &BindAction{}
	case TypeInvite:
		a = &InviteAction{}
	case TypeVote:
		a = &VoteAction{}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, w.Type)
	}
	if len(w.Action) == 0 {
		return ErrMissingAction
	}
	if err := json.Unmarshal(w.Action, a); err != nil {
		return fmt.Errorf("decode %s action: %w", w.Type, err)
	}
	m.Action = a
	return nil
}

// Validate lets the consumer treat structurally broken actions as poison.
func (m *Message) Validate() error {
	if m.Action == nil {
		return ErrMissingAction
	}
	return m.Action.validate()
}
