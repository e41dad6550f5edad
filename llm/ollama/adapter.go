package ollama

import (
	"fmt"

	"github.com/aschepis/backscratcher/polychat/llm"
	"github.com/google/uuid"
	"github.com/ollama/ollama/api"
	"github.com/samber/lo"
)

// ToOllamaMessages converts a conversation to Ollama chat messages. Ollama
// keeps the system prompt in-band and has no call identifiers, so tool
// messages carry only their content.
func ToOllamaMessages(conv *llm.Conversation) []api.Message {
	msgs := conv.Messages()
	result := make([]api.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Role == llm.RoleAssistant && msg.Content == nil && !msg.HasToolCalls() {
			continue
		}
		result = append(result, ToOllamaMessage(msg))
	}
	return result
}

// ToOllamaMessage converts a single message to Ollama format.
func ToOllamaMessage(msg *llm.Message) api.Message {
	ollamaMsg := api.Message{
		Role:    string(msg.Role),
		Content: msg.Text(),
	}
	if msg.Role == llm.RoleAssistant && msg.HasToolCalls() {
		ollamaMsg.ToolCalls = lo.Map(msg.ToolCalls, func(tc llm.ToolCall, _ int) api.ToolCall {
			args := make(api.ToolCallFunctionArguments, len(tc.Arguments))
			for k, v := range tc.Arguments {
				args[k] = v
			}
			return api.ToolCall{
				Function: api.ToolCallFunction{
					Name:      tc.Function,
					Arguments: args,
				},
			}
		})
	}
	return ollamaMsg
}

// FromOllamaToolCall converts an Ollama tool call. Ollama does not assign
// call ids, so one is synthesised.
func FromOllamaToolCall(toolCall api.ToolCall) llm.ToolCall {
	args := make(map[string]any, len(toolCall.Function.Arguments))
	for k, v := range toolCall.Function.Arguments {
		args[k] = v
	}
	return llm.ToolCall{
		CallID:    NewCallID(),
		Function:  toolCall.Function.Name,
		Arguments: args,
	}
}

// NewCallID returns a fresh synthetic call id.
func NewCallID() string {
	return fmt.Sprintf("call_%s", uuid.NewString())
}

// FromOllamaMessage converts a complete Ollama response message to an
// llm.Message attributed to model.
func FromOllamaMessage(msg api.Message, model string) (*llm.Message, error) {
	var content *string
	if msg.Content != "" {
		content = llm.String(msg.Content)
	}
	calls := lo.Map(msg.ToolCalls, func(tc api.ToolCall, _ int) llm.ToolCall {
		return FromOllamaToolCall(tc)
	})
	return llm.NewMessage(llm.RoleAssistant, content, calls, llm.String(model))
}

// ToOllamaTools converts tool schemas to Ollama function definitions.
func ToOllamaTools(schemas []llm.ToolSchema) []api.Tool {
	return lo.Map(schemas, func(schema llm.ToolSchema, _ int) api.Tool {
		return ToOllamaTool(schema)
	})
}

// ToOllamaTool converts a single tool schema. Only the property type and
// description survive the conversion.
func ToOllamaTool(schema llm.ToolSchema) api.Tool {
	properties := make(map[string]api.ToolProperty)
	for name, v := range schema.Properties() {
		prop := api.ToolProperty{Type: []string{"string"}}
		if propMap, ok := v.(map[string]any); ok {
			if propType, ok := propMap["type"].(string); ok {
				prop.Type = []string{propType}
			}
			if desc, ok := propMap["description"].(string); ok {
				prop.Description = desc
			}
		}
		properties[name] = prop
	}

	return api.Tool{
		Type: "function",
		Function: api.ToolFunction{
			Name:        schema.Name,
			Description: schema.Description,
			Parameters: api.ToolFunctionParameters{
				Type:       "object",
				Properties: properties,
				Required:   schema.Required(),
			},
		},
	}
}
