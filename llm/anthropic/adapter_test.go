package anthropic

import (
	"encoding/json"
	"testing"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/aschepis/backscratcher/polychat/llm"
)

func toolConversation(t *testing.T) *llm.Conversation {
	t.Helper()
	conv := llm.NewConversation()
	conv.SetSystemPrompt("be brief")
	call := llm.ToolCall{CallID: "toolu_1", Function: "web_search", Arguments: map[string]any{"query": "go"}}
	steps := []struct {
		role    llm.Role
		content *string
		calls   []llm.ToolCall
		model   *string
	}{
		{llm.RoleUser, llm.String("search go"), nil, nil},
		{llm.RoleAssistant, nil, []llm.ToolCall{call}, llm.String("claude-3-5-haiku-latest")},
		{llm.RoleTool, llm.String("results"), []llm.ToolCall{call}, nil},
	}
	for _, s := range steps {
		if err := conv.Append(s.role, s.content, s.calls, s.model); err != nil {
			t.Fatalf("Failed to append: %v", err)
		}
	}
	return conv
}

func TestToMessageParams_SystemOutOfBand(t *testing.T) {
	params := ToMessageParams(toolConversation(t), true)
	for _, p := range params {
		if p.Role != anthropic.MessageParamRoleUser && p.Role != anthropic.MessageParamRoleAssistant {
			t.Errorf("Expected only user/assistant roles, got %s", p.Role)
		}
	}
	if len(params) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(params))
	}
}

func TestToMessageParams_NativeTools(t *testing.T) {
	params := ToMessageParams(toolConversation(t), true)

	assistant := params[1]
	if assistant.Role != anthropic.MessageParamRoleAssistant {
		t.Fatalf("Expected assistant role, got %s", assistant.Role)
	}
	if len(assistant.Content) != 1 || assistant.Content[0].OfToolUse == nil {
		t.Fatalf("Expected a single tool_use block, got %+v", assistant.Content)
	}
	if assistant.Content[0].OfToolUse.ID != "toolu_1" || assistant.Content[0].OfToolUse.Name != "web_search" {
		t.Errorf("Expected toolu_1/web_search, got %s/%s", assistant.Content[0].OfToolUse.ID, assistant.Content[0].OfToolUse.Name)
	}

	result := params[2]
	if result.Role != anthropic.MessageParamRoleUser {
		t.Errorf("Expected tool result in a user turn, got %s", result.Role)
	}
	if len(result.Content) != 1 || result.Content[0].OfToolResult == nil {
		t.Fatalf("Expected a tool_result block, got %+v", result.Content)
	}
	if result.Content[0].OfToolResult.ToolUseID != "toolu_1" {
		t.Errorf("Expected tool_use_id toolu_1, got %s", result.Content[0].OfToolResult.ToolUseID)
	}
}

func TestToMessageParams_TextualTools(t *testing.T) {
	params := ToMessageParams(toolConversation(t), false)

	assistant := params[1]
	if len(assistant.Content) != 1 || assistant.Content[0].OfText == nil {
		t.Fatalf("Expected a text block, got %+v", assistant.Content)
	}
	expected := `Executing functions: [web_search: {"query":"go"}]`
	if got := assistant.Content[0].OfText.Text; got != expected {
		t.Errorf("Expected %q, got %q", expected, got)
	}

	result := params[2]
	if result.Role != anthropic.MessageParamRoleUser {
		t.Errorf("Expected tool role remapped to user, got %s", result.Role)
	}
	if result.Content[0].OfText == nil || result.Content[0].OfText.Text != "results" {
		t.Errorf("Expected tool content as user text, got %+v", result.Content)
	}
}

func TestToMessageParams_MergesConsecutiveRoles(t *testing.T) {
	conv := toolConversation(t)
	second := llm.ToolCall{CallID: "toolu_2", Function: "visit_website", Arguments: map[string]any{"url": "https://go.dev"}}
	if err := conv.Append(llm.RoleTool, llm.String("page"), []llm.ToolCall{second}, nil); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}

	params := ToMessageParams(conv, true)
	if len(params) != 3 {
		t.Fatalf("Expected tool results merged into one user turn, got %d messages", len(params))
	}
	if len(params[2].Content) != 2 {
		t.Errorf("Expected 2 tool_result blocks, got %d", len(params[2].Content))
	}
}

func TestToMessageParams_ContentRoundTrip(t *testing.T) {
	conv := llm.NewConversation()
	_ = conv.Append(llm.RoleUser, llm.String("hello"), nil, nil)
	_ = conv.Append(llm.RoleAssistant, llm.String("hi there"), nil, llm.String("claude"))
	_ = conv.Append(llm.RoleUser, llm.String("bye"), nil, nil)

	params := ToMessageParams(conv, false)
	messages := conv.Messages()
	if len(params) != len(messages) {
		t.Fatalf("Expected %d messages, got %d", len(messages), len(params))
	}
	for i, p := range params {
		if string(p.Role) != string(messages[i].Role) {
			t.Errorf("Message %d: expected role %s, got %s", i, messages[i].Role, p.Role)
		}
		if p.Content[0].OfText == nil || p.Content[0].OfText.Text != messages[i].Text() {
			t.Errorf("Message %d: expected content %q", i, messages[i].Text())
		}
	}
}

func TestFromMessage(t *testing.T) {
	raw := `{
		"id": "msg_1", "type": "message", "role": "assistant", "model": "claude",
		"content": [
			{"type": "text", "text": "Searching."},
			{"type": "tool_use", "id": "toolu_9", "name": "web_search", "input": {"query": "go"}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 1, "output_tokens": 1}
	}`
	var msg anthropic.Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}

	converted, err := FromMessage(&msg, "claude")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if converted.Text() != "Searching." {
		t.Errorf("Expected text 'Searching.', got %q", converted.Text())
	}
	if len(converted.ToolCalls) != 1 || converted.ToolCalls[0].CallID != "toolu_9" {
		t.Fatalf("Expected tool call toolu_9, got %+v", converted.ToolCalls)
	}
	if converted.ToolCalls[0].Arguments["query"] != "go" {
		t.Errorf("Expected query argument 'go', got %v", converted.ToolCalls[0].Arguments["query"])
	}
}

func TestToToolUnionParams(t *testing.T) {
	tools := ToToolUnionParams([]llm.ToolSchema{{
		Name:        "web_search",
		Description: "Search the web",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"query": map[string]any{"type": "string"}},
			"required":   []string{"query"},
		},
	}})
	if len(tools) != 1 || tools[0].OfTool == nil {
		t.Fatalf("Expected one tool, got %+v", tools)
	}
	if tools[0].OfTool.Name != "web_search" {
		t.Errorf("Expected name web_search, got %s", tools[0].OfTool.Name)
	}
	if len(tools[0].OfTool.InputSchema.Required) != 1 || tools[0].OfTool.InputSchema.Required[0] != "query" {
		t.Errorf("Expected required [query], got %v", tools[0].OfTool.InputSchema.Required)
	}
}
