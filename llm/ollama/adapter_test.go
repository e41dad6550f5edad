package ollama

import (
	"testing"

	"github.com/aschepis/backscratcher/polychat/llm"
	"github.com/ollama/ollama/api"
)

func TestToOllamaMessages(t *testing.T) {
	conv := llm.NewConversation()
	conv.SetSystemPrompt("be brief")
	call := llm.ToolCall{CallID: "call_1", Function: "web_search", Arguments: map[string]any{"query": "go"}}
	_ = conv.Append(llm.RoleUser, llm.String("search go"), nil, nil)
	_ = conv.Append(llm.RoleAssistant, nil, []llm.ToolCall{call}, llm.String("llama3.2"))
	_ = conv.Append(llm.RoleTool, llm.String("results"), []llm.ToolCall{call}, nil)
	_ = conv.Append(llm.RoleAssistant, nil, nil, nil)

	msgs := ToOllamaMessages(conv)
	if len(msgs) != 4 {
		t.Fatalf("Expected placeholder skipped and 4 messages, got %d", len(msgs))
	}
	roles := []string{"system", "user", "assistant", "tool"}
	for i, role := range roles {
		if msgs[i].Role != role {
			t.Errorf("Message %d: expected role %s, got %s", i, role, msgs[i].Role)
		}
	}
	if len(msgs[2].ToolCalls) != 1 || msgs[2].ToolCalls[0].Function.Name != "web_search" {
		t.Fatalf("Expected web_search tool call, got %+v", msgs[2].ToolCalls)
	}
	if msgs[2].ToolCalls[0].Function.Arguments["query"] != "go" {
		t.Errorf("Expected object arguments, got %v", msgs[2].ToolCalls[0].Function.Arguments)
	}
	if msgs[3].Content != "results" || len(msgs[3].ToolCalls) != 0 {
		t.Errorf("Expected tool message with content only, got %+v", msgs[3])
	}
}

func TestFromOllamaMessage(t *testing.T) {
	msg := api.Message{
		Role:    "assistant",
		Content: "hi",
	}
	converted, err := FromOllamaMessage(msg, "llama3.2")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if converted.Text() != "hi" || converted.ModelName() != "llama3.2" {
		t.Errorf("Expected hi from llama3.2, got %s", converted)
	}
}

func TestToOllamaTool(t *testing.T) {
	tool := ToOllamaTool(llm.ToolSchema{
		Name:        "web_search",
		Description: "Search the web",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":       map[string]any{"type": "string", "description": "terms"},
				"max_results": map[string]any{"type": "integer"},
			},
			"required": []any{"query"},
		},
	})
	if tool.Type != "function" || tool.Function.Name != "web_search" {
		t.Fatalf("Expected function web_search, got %+v", tool)
	}
	params := tool.Function.Parameters
	if len(params.Required) != 1 || params.Required[0] != "query" {
		t.Errorf("Expected required [query], got %v", params.Required)
	}
	if got := params.Properties["max_results"].Type; len(got) != 1 || got[0] != "integer" {
		t.Errorf("Expected integer type, got %v", got)
	}
	if params.Properties["query"].Description != "terms" {
		t.Errorf("Expected description 'terms', got %q", params.Properties["query"].Description)
	}
}
