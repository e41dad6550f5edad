package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role represents the role of a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	default:
		return false
	}
}

// ToolCall is a request from the model to invoke a named function.
// CallID correlates the request with the tool message carrying its result.
type ToolCall struct {
	CallID    string         `json:"call_id"`
	Function  string         `json:"function"`
	Arguments map[string]any `json:"arguments"`
}

// String renders the call as "function: {json arguments}".
func (tc ToolCall) String() string {
	return tc.Function + ": " + tc.ArgumentsJSON()
}

// ArgumentsJSON returns the arguments encoded as a compact JSON object.
func (tc ToolCall) ArgumentsJSON() string {
	if tc.Arguments == nil {
		return "{}"
	}
	b, err := json.Marshal(tc.Arguments)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Message is a single provider-neutral conversation turn.
// Content and Model are nil when absent.
type Message struct {
	Role      Role       `json:"role"`
	Content   *string    `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Model     *string    `json:"model,omitempty"`
}

// NewMessage validates and builds a message.
//
// An assistant message whose content or tool calls are set must name the
// model that produced it. An assistant message with neither is a placeholder
// awaiting streamed content and may omit the model.
func NewMessage(role Role, content *string, toolCalls []ToolCall, model *string) (*Message, error) {
	if !role.Valid() {
		return nil, &ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %q", role)}
	}
	if role == RoleAssistant && model == nil && (content != nil || len(toolCalls) > 0) {
		return nil, &ValidationError{Field: "model", Reason: "assistant message with content or tool calls must record its model"}
	}
	if role == RoleTool && len(toolCalls) == 0 {
		return nil, &ValidationError{Field: "tool_calls", Reason: "tool message must carry the call it answers"}
	}
	m := &Message{Role: role, Content: content, Model: model}
	if len(toolCalls) > 0 {
		m.ToolCalls = append([]ToolCall(nil), toolCalls...)
	}
	return m, nil
}

// Update merges a streamed piece into the message: content is concatenated
// and tool calls are appended.
func (m *Message) Update(content *string, toolCalls []ToolCall) {
	if content != nil && *content != "" {
		merged := m.Text() + *content
		m.Content = &merged
	}
	if len(toolCalls) > 0 {
		m.ToolCalls = append(m.ToolCalls, toolCalls...)
	}
}

// Edit overwrites the fields that are provided and leaves the others as-is.
func (m *Message) Edit(content *string, toolCalls []ToolCall) {
	if content != nil {
		c := *content
		m.Content = &c
	}
	if toolCalls != nil {
		m.ToolCalls = append([]ToolCall(nil), toolCalls...)
	}
}

// Text returns the content, or "" when absent.
func (m *Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// ModelName returns the producing model, or "" when absent.
func (m *Message) ModelName() string {
	if m.Model == nil {
		return ""
	}
	return *m.Model
}

// HasToolCalls reports whether the message carries tool calls.
func (m *Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// Displayed reports whether the message is meant for the end user.
// Tool messages and tool-bearing assistant messages are not.
func (m *Message) Displayed() bool {
	switch m.Role {
	case RoleUser:
		return true
	case RoleAssistant:
		return !m.HasToolCalls()
	default:
		return false
	}
}

// ToolCallID returns the call id a tool message answers.
func (m *Message) ToolCallID() string {
	if len(m.ToolCalls) == 0 {
		return ""
	}
	return m.ToolCalls[0].CallID
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	out := &Message{Role: m.Role}
	if m.Content != nil {
		c := *m.Content
		out.Content = &c
	}
	if m.Model != nil {
		mm := *m.Model
		out.Model = &mm
	}
	for _, tc := range m.ToolCalls {
		args := make(map[string]any, len(tc.Arguments))
		for k, v := range tc.Arguments {
			args[k] = v
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{CallID: tc.CallID, Function: tc.Function, Arguments: args})
	}
	return out
}

func (m *Message) String() string {
	calls := make([]string, len(m.ToolCalls))
	for i, tc := range m.ToolCalls {
		calls[i] = tc.String()
	}
	return fmt.Sprintf("{ role: %s, content: '%s', tool_calls: [%s]}", m.Role, m.Text(), strings.Join(calls, ", "))
}

// UnmarshalJSON validates the decoded message.
func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if !p.Role.Valid() {
		return &ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %q", p.Role)}
	}
	*m = Message(p)
	return nil
}

// String returns a pointer to s. Used for optional message fields.
func String(s string) *string {
	return &s
}
