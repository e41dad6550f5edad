package openai

import (
	"fmt"

	"github.com/aschepis/backscratcher/polychat/llm"
	"github.com/samber/lo"
	openai "github.com/sashabaranov/go-openai"
)

// ToOpenAIMessages projects a conversation to OpenAI chat messages.
// The system prompt travels in-band as the first message.
func ToOpenAIMessages(conv *llm.Conversation) []openai.ChatCompletionMessage {
	return lo.Map(conv.Messages(), func(m *llm.Message, _ int) openai.ChatCompletionMessage {
		return ToOpenAIMessage(m)
	})
}

// ToOpenAIMessage projects a single message. Tool messages carry the id of
// the call they answer; assistant tool calls carry string-encoded arguments.
func ToOpenAIMessage(m *llm.Message) openai.ChatCompletionMessage {
	msg := openai.ChatCompletionMessage{Content: m.Text()}

	switch m.Role {
	case llm.RoleSystem:
		msg.Role = openai.ChatMessageRoleSystem
	case llm.RoleUser:
		msg.Role = openai.ChatMessageRoleUser
	case llm.RoleAssistant:
		msg.Role = openai.ChatMessageRoleAssistant
		msg.ToolCalls = lo.Map(m.ToolCalls, func(tc llm.ToolCall, _ int) openai.ToolCall {
			return openai.ToolCall{
				ID:   tc.CallID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function,
					Arguments: tc.ArgumentsJSON(),
				},
			}
		})
	case llm.RoleTool:
		msg.Role = openai.ChatMessageRoleTool
		msg.ToolCallID = m.ToolCallID()
	}

	return msg
}

// FromOpenAIMessage converts an OpenAI chat message back to the canonical form.
// Tool messages keep only the call id since the wire form drops the name.
func FromOpenAIMessage(msg openai.ChatCompletionMessage, model string) (*llm.Message, error) {
	var content *string
	if msg.Content != "" {
		content = llm.String(msg.Content)
	}

	switch msg.Role {
	case openai.ChatMessageRoleSystem:
		return llm.NewMessage(llm.RoleSystem, content, nil, nil)
	case openai.ChatMessageRoleUser:
		return llm.NewMessage(llm.RoleUser, content, nil, nil)
	case openai.ChatMessageRoleAssistant:
		calls := make([]llm.ToolCall, 0, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			call, err := FromOpenAIToolCall(tc)
			if err != nil {
				return nil, err
			}
			calls = append(calls, call)
		}
		return llm.NewMessage(llm.RoleAssistant, content, calls, llm.String(model))
	case openai.ChatMessageRoleTool:
		return llm.NewMessage(llm.RoleTool, content, []llm.ToolCall{{CallID: msg.ToolCallID}}, nil)
	default:
		return nil, &llm.ValidationError{Field: "role", Reason: fmt.Sprintf("unsupported openai role %q", msg.Role)}
	}
}

// ToOpenAITools converts tool schemas to OpenAI function tools.
func ToOpenAITools(schemas []llm.ToolSchema) []openai.Tool {
	return lo.Map(schemas, func(s llm.ToolSchema, _ int) openai.Tool {
		return openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.Parameters,
			},
		}
	})
}

// FromOpenAIToolCall converts a complete OpenAI tool call.
func FromOpenAIToolCall(tc openai.ToolCall) (llm.ToolCall, error) {
	args, err := llm.ParseArguments(tc.Function.Arguments)
	if err != nil {
		return llm.ToolCall{}, fmt.Errorf("tool call %s: %w", tc.Function.Name, err)
	}
	return llm.ToolCall{
		CallID:    tc.ID,
		Function:  tc.Function.Name,
		Arguments: args,
	}, nil
}
