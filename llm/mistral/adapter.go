package mistral

import (
	"github.com/aschepis/backscratcher/polychat/llm"
	"github.com/openai/openai-go/v3"
	"github.com/samber/lo"
)

// ToMessageParams projects a conversation into Mistral chat messages. Mistral
// keeps the system prompt in-band and answers tool calls with tool messages
// keyed by call id.
func ToMessageParams(conv *llm.Conversation) []openai.ChatCompletionMessageParamUnion {
	msgs := conv.Messages()
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		if param, ok := ToMessageParam(msg); ok {
			result = append(result, param)
		}
	}
	return result
}

// ToMessageParam projects one message. Empty assistant placeholders have no
// wire form.
func ToMessageParam(msg *llm.Message) (openai.ChatCompletionMessageParamUnion, bool) {
	switch msg.Role {
	case llm.RoleSystem:
		return openai.SystemMessage(msg.Text()), true
	case llm.RoleUser:
		return openai.UserMessage(msg.Text()), true
	case llm.RoleTool:
		return openai.ToolMessage(msg.Text(), msg.ToolCallID()), true
	case llm.RoleAssistant:
		if !msg.HasToolCalls() {
			if msg.Content == nil {
				return openai.ChatCompletionMessageParamUnion{}, false
			}
			return openai.AssistantMessage(msg.Text()), true
		}
		assistant := openai.ChatCompletionAssistantMessageParam{
			ToolCalls: lo.Map(msg.ToolCalls, func(tc llm.ToolCall, _ int) openai.ChatCompletionMessageToolCallUnionParam {
				return openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.CallID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Function,
							Arguments: tc.ArgumentsJSON(),
						},
					},
				}
			}),
		}
		if text := msg.Text(); text != "" {
			assistant.Content.OfString = openai.String(text)
		}
		return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}, true
	default:
		return openai.ChatCompletionMessageParamUnion{}, false
	}
}

// FromMessage converts a non-streamed completion message to an llm.Message
// attributed to model.
func FromMessage(msg openai.ChatCompletionMessage, model string) (*llm.Message, error) {
	calls := make([]llm.ToolCall, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		args, err := llm.ParseArguments(tc.Function.Arguments)
		if err != nil {
			return nil, err
		}
		calls = append(calls, llm.ToolCall{CallID: tc.ID, Function: tc.Function.Name, Arguments: args})
	}

	var content *string
	if msg.Content != "" {
		content = llm.String(msg.Content)
	}
	return llm.NewMessage(llm.RoleAssistant, content, calls, llm.String(model))
}

// ToTools converts tool schemas to function tool definitions.
func ToTools(schemas []llm.ToolSchema) []openai.ChatCompletionToolUnionParam {
	return lo.Map(schemas, func(schema llm.ToolSchema, _ int) openai.ChatCompletionToolUnionParam {
		return openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        schema.Name,
			Description: openai.String(schema.Description),
			Parameters:  openai.FunctionParameters(schema.Parameters),
		})
	})
}
