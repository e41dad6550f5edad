package llm

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEmptyConversation is returned when an operation needs at least one message.
var ErrEmptyConversation = errors.New("conversation has no messages")

// Conversation is an ordered, mutable sequence of messages. Insertion order is
// wire order. Only index 0 may hold a system message.
//
// A Conversation is owned by exactly one engine and is not safe for
// concurrent mutation.
type Conversation struct {
	messages []*Message
}

// NewConversation returns an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{}
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// Empty reports whether the conversation has no messages.
func (c *Conversation) Empty() bool {
	return len(c.messages) == 0
}

// At returns the message at index i. The returned message is live.
func (c *Conversation) At(i int) (*Message, error) {
	if i < 0 || i >= len(c.messages) {
		return nil, fmt.Errorf("message index %d out of range [0,%d)", i, len(c.messages))
	}
	return c.messages[i], nil
}

// Messages returns a deep copy of the messages.
func (c *Conversation) Messages() []*Message {
	out := make([]*Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = m.Clone()
	}
	return out
}

// LastIndex returns the index of the last message.
func (c *Conversation) LastIndex() (int, error) {
	if c.Empty() {
		return 0, ErrEmptyConversation
	}
	return len(c.messages) - 1, nil
}

// Last returns the last message, or nil when empty.
func (c *Conversation) Last() *Message {
	if c.Empty() {
		return nil
	}
	return c.messages[len(c.messages)-1]
}

// SystemPrompt returns the content of message 0 when it is a system message.
func (c *Conversation) SystemPrompt() (string, bool) {
	if c.Empty() || c.messages[0].Role != RoleSystem {
		return "", false
	}
	return c.messages[0].Text(), true
}

// Append validates and appends a new message.
func (c *Conversation) Append(role Role, content *string, toolCalls []ToolCall, model *string) error {
	m, err := NewMessage(role, content, toolCalls, model)
	if err != nil {
		return err
	}
	return c.AppendMessage(m)
}

// AppendMessage appends an already built message.
func (c *Conversation) AppendMessage(m *Message) error {
	if m.Role == RoleSystem && !c.Empty() {
		return &ValidationError{Field: "role", Reason: "system message is only allowed at index 0"}
	}
	c.messages = append(c.messages, m)
	return nil
}

// Update merges content and tool calls into the message at index i.
func (c *Conversation) Update(i int, content *string, toolCalls []ToolCall) error {
	m, err := c.At(i)
	if err != nil {
		return err
	}
	m.Update(content, toolCalls)
	return nil
}

// Edit replaces content and/or tool calls of the message at index i.
func (c *Conversation) Edit(i int, content *string, toolCalls []ToolCall) error {
	m, err := c.At(i)
	if err != nil {
		return err
	}
	m.Edit(content, toolCalls)
	return nil
}

// Delete removes the message at index i.
func (c *Conversation) Delete(i int) error {
	if _, err := c.At(i); err != nil {
		return err
	}
	c.messages = append(c.messages[:i], c.messages[i+1:]...)
	return nil
}

// DeleteLast removes the last message.
func (c *Conversation) DeleteLast() error {
	if c.Empty() {
		return ErrEmptyConversation
	}
	c.messages = c.messages[:len(c.messages)-1]
	return nil
}

// TrimNonDisplayed pops trailing messages that are not displayed, stopping at
// a displayed message or at a lone system message. It returns how many
// messages were removed.
func (c *Conversation) TrimNonDisplayed() int {
	removed := 0
	for !c.Empty() {
		last := c.Last()
		if last.Displayed() || (last.Role == RoleSystem && len(c.messages) == 1) {
			break
		}
		c.messages = c.messages[:len(c.messages)-1]
		removed++
	}
	return removed
}

// SetSystemPrompt sets the system message at index 0, inserting one if
// needed. An empty prompt removes an existing system message.
func (c *Conversation) SetSystemPrompt(prompt string) {
	_, hasSystem := c.SystemPrompt()
	switch {
	case prompt == "" && hasSystem:
		c.messages = c.messages[1:]
	case prompt == "":
	case hasSystem:
		c.messages[0].Edit(&prompt, nil)
	default:
		m := &Message{Role: RoleSystem, Content: &prompt}
		c.messages = append([]*Message{m}, c.messages...)
	}
}

// Reset drops every message.
func (c *Conversation) Reset() {
	c.messages = nil
}

// Clone returns a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	return &Conversation{messages: c.Messages()}
}

// MarshalJSON encodes the conversation as an array of messages.
func (c *Conversation) MarshalJSON() ([]byte, error) {
	if c.messages == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.messages)
}

// UnmarshalJSON decodes an array of messages, enforcing the system placement rule.
func (c *Conversation) UnmarshalJSON(data []byte) error {
	var msgs []*Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return err
	}
	for i, m := range msgs {
		if m.Role == RoleSystem && i != 0 {
			return &ValidationError{Field: "role", Reason: fmt.Sprintf("system message at index %d", i)}
		}
	}
	c.messages = msgs
	return nil
}
