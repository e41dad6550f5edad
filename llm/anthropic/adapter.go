package anthropic

import (
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/aschepis/backscratcher/polychat/llm"
	"github.com/samber/lo"
)

// ToMessageParams projects a conversation into Anthropic messages. The system
// prompt is not part of the result; it travels in MessageNewParams.System.
//
// With nativeTools set, assistant tool calls become tool_use blocks and tool
// messages become tool_result blocks in a user turn. Without it, a tool-call
// only assistant message is described in text and tool results are plain user
// text. Consecutive messages of the same wire role are merged, since the API
// expects user and assistant turns to alternate.
func ToMessageParams(conv *llm.Conversation, nativeTools bool) []anthropic.MessageParam {
	var result []anthropic.MessageParam
	var lastRole anthropic.MessageParamRole

	for _, msg := range conv.Messages() {
		if msg.Role == llm.RoleSystem {
			continue
		}
		param, ok := ToMessageParam(msg, nativeTools)
		if !ok {
			continue
		}
		if len(result) > 0 && param.Role == lastRole {
			last := &result[len(result)-1]
			last.Content = append(last.Content, param.Content...)
			continue
		}
		result = append(result, param)
		lastRole = param.Role
	}
	return result
}

// ToMessageParam projects one message. It returns false for messages that
// have no Anthropic form (system messages and empty placeholders).
func ToMessageParam(msg *llm.Message, nativeTools bool) (anthropic.MessageParam, bool) {
	switch msg.Role {
	case llm.RoleUser:
		if msg.Text() == "" {
			return anthropic.MessageParam{}, false
		}
		return anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Text())), true

	case llm.RoleTool:
		if nativeTools && msg.ToolCallID() != "" {
			return anthropic.NewUserMessage(anthropic.NewToolResultBlock(msg.ToolCallID(), msg.Text(), false)), true
		}
		return anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Text())), true

	case llm.RoleAssistant:
		var blocks []anthropic.ContentBlockParamUnion
		if text := msg.Text(); text != "" {
			blocks = append(blocks, anthropic.NewTextBlock(text))
		}
		if msg.HasToolCalls() {
			if nativeTools {
				for _, tc := range msg.ToolCalls {
					blocks = append(blocks, anthropic.NewToolUseBlock(tc.CallID, arguments(tc), tc.Function))
				}
			} else if len(blocks) == 0 {
				blocks = append(blocks, anthropic.NewTextBlock(DescribeToolCalls(msg.ToolCalls)))
			}
		}
		if len(blocks) == 0 {
			return anthropic.MessageParam{}, false
		}
		return anthropic.NewAssistantMessage(blocks...), true

	default:
		return anthropic.MessageParam{}, false
	}
}

// DescribeToolCalls renders tool calls as the text Anthropic sees when the
// request carries no tool definitions.
func DescribeToolCalls(calls []llm.ToolCall) string {
	names := lo.Map(calls, func(tc llm.ToolCall, _ int) string {
		return tc.String()
	})
	return fmt.Sprintf("Executing functions: [%s]", strings.Join(names, ", "))
}

func arguments(tc llm.ToolCall) map[string]any {
	if tc.Arguments == nil {
		return map[string]any{}
	}
	return tc.Arguments
}

// FromMessage converts a complete Anthropic response message to an
// llm.Message attributed to model.
func FromMessage(msg *anthropic.Message, model string) (*llm.Message, error) {
	var text strings.Builder
	var calls []llm.ToolCall
	for _, blockUnion := range msg.Content {
		switch block := blockUnion.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(block.Text)
		case anthropic.ToolUseBlock:
			args, err := llm.ParseArguments(string(block.Input))
			if err != nil {
				return nil, err
			}
			calls = append(calls, llm.ToolCall{CallID: block.ID, Function: block.Name, Arguments: args})
		}
	}

	var content *string
	if text.Len() > 0 {
		content = llm.String(text.String())
	}
	return llm.NewMessage(llm.RoleAssistant, content, calls, llm.String(model))
}

// ToToolUnionParam converts a tool schema to an Anthropic tool definition.
func ToToolUnionParam(schema llm.ToolSchema) anthropic.ToolUnionParam {
	toolParam := anthropic.ToolParam{
		Name:        schema.Name,
		Description: anthropic.String(schema.Description),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: schema.Properties(),
			Required:   schema.Required(),
		},
	}
	return anthropic.ToolUnionParam{OfTool: &toolParam}
}

// ToToolUnionParams converts a slice of tool schemas.
func ToToolUnionParams(schemas []llm.ToolSchema) []anthropic.ToolUnionParam {
	return lo.Map(schemas, func(schema llm.ToolSchema, _ int) anthropic.ToolUnionParam {
		return ToToolUnionParam(schema)
	})
}
