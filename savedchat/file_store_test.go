package savedchat

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aschepis/backscratcher/polychat/llm"
	"github.com/rs/zerolog"
)

func toolConversation(t *testing.T) *llm.Conversation {
	t.Helper()
	conv := llm.NewConversation()
	conv.SetSystemPrompt("be brief")
	call := llm.ToolCall{CallID: "1", Function: "web_search", Arguments: map[string]any{"query": "x"}}
	steps := []error{
		conv.Append(llm.RoleUser, llm.String("search x"), nil, nil),
		conv.Append(llm.RoleAssistant, nil, []llm.ToolCall{call}, llm.String("gpt-4o")),
		conv.Append(llm.RoleTool, llm.String("result"), []llm.ToolCall{call}, nil),
		conv.Append(llm.RoleAssistant, llm.String("found it"), nil, llm.String("gpt-4o")),
	}
	for _, err := range steps {
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	return conv
}

func TestFileStore_SaveLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "chats")
	store := NewFileStore(dir, zerolog.Nop())
	ctx := context.Background()

	start := time.Date(2024, 5, 1, 8, 30, 0, 0, time.Local)
	chat := New(toolConversation(t), start, "", map[string]any{"model": "gpt-4o"})

	handle, err := store.Save(ctx, chat)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if handle != "chat_search_x_2024-05-01-08-30-00.json" {
		t.Errorf("Unexpected handle %s", handle)
	}

	info, err := os.Stat(filepath.Join(dir, handle))
	if err != nil {
		t.Fatalf("Expected file on disk: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("Expected 0600 permissions, got %o", info.Mode().Perm())
	}

	loaded, err := store.Load(ctx, handle)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Title != "search x" || !loaded.StartTime.Equal(start) {
		t.Errorf("Expected title/time to round-trip, got %q %v", loaded.Title, loaded.StartTime)
	}
	if loaded.Metadata["model"] != "gpt-4o" {
		t.Errorf("Expected metadata to round-trip, got %v", loaded.Metadata)
	}
	if loaded.Messages.Len() != 5 {
		t.Fatalf("Expected 5 messages, got %d", loaded.Messages.Len())
	}
	tool, _ := loaded.Messages.At(3)
	if tool.Role != llm.RoleTool || tool.ToolCallID() != "1" || tool.Text() != "result" {
		t.Errorf("Expected tool message to round-trip, got %s", tool)
	}
	final, _ := loaded.Messages.At(4)
	if final.ModelName() != "gpt-4o" {
		t.Errorf("Expected model to round-trip, got %q", final.ModelName())
	}
}

func TestFileStore_RecordFormat(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir, zerolog.Nop())
	start := time.Date(2024, 5, 1, 8, 30, 0, 0, time.Local)

	handle, err := store.Save(context.Background(), New(toolConversation(t), start, "", nil))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, handle))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(data), "\n    \"start_time\": \"2024-05-01-08-30-00\"") {
		t.Errorf("Expected 4-space indented start_time, got:\n%s", data)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	for _, key := range []string{"start_time", "messages", "metadata"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("Expected top-level key %s", key)
		}
	}
	messages := doc["messages"].([]any)
	assistant := messages[2].(map[string]any)
	calls := assistant["tool_calls"].([]any)
	call := calls[0].(map[string]any)
	if call["call_id"] != "1" || call["function"] != "web_search" {
		t.Errorf("Expected tool call keys call_id/function, got %v", call)
	}
}

func TestFileStore_ListNewestFirst(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir, zerolog.Nop())
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.Local)
	for _, offset := range []time.Duration{time.Hour, 0, 2 * time.Hour} {
		conv := llm.NewConversation()
		_ = conv.Append(llm.RoleUser, llm.String("chat "+offset.String()), nil, nil)
		if _, err := store.Save(ctx, New(conv, base.Add(offset), "", nil)); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.json"), []byte("{}"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	summaries, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("Expected 3 chats, got %d", len(summaries))
	}
	for i := 1; i < len(summaries); i++ {
		if !summaries[i-1].StartTime.After(summaries[i].StartTime) {
			t.Errorf("Expected strictly descending start times, got %v then %v", summaries[i-1].StartTime, summaries[i].StartTime)
		}
	}
	if summaries[0].Title != "chat 2h0m0s" {
		t.Errorf("Expected newest chat first, got %q", summaries[0].Title)
	}
}

func TestFileStore_ListMissingDir(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "absent"), zerolog.Nop())
	summaries, err := store.List(context.Background())
	if err != nil || len(summaries) != 0 {
		t.Errorf("Expected empty list, got %v (%v)", summaries, err)
	}
}

func TestFileStore_LoadErrors(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir, zerolog.Nop())
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(dir, "chat_bad_2024-01-01-00-00-00.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	tests := []string{
		"chat_missing_2024-01-01-00-00-00.json",
		"chat_bad_2024-01-01-00-00-00.json",
		"../chat_x_2024-01-01-00-00-00.json",
		"garbage",
	}
	for _, handle := range tests {
		_, err := store.Load(ctx, handle)
		if !llm.IsPersistenceError(err) {
			t.Errorf("Load(%q): expected PersistenceError, got %v", handle, err)
		}
	}
}

func TestFileStore_Delete(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir, zerolog.Nop())
	ctx := context.Background()

	start := time.Date(2024, 5, 1, 8, 30, 0, 0, time.Local)
	handle, err := store.Save(ctx, New(conversationWith(t, "", "delete me"), start, "", nil))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Delete(ctx, handle); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	summaries, err := store.List(ctx)
	if err != nil || len(summaries) != 0 {
		t.Errorf("Expected no chats after delete, got %v (%v)", summaries, err)
	}

	for _, bad := range []string{handle, "../" + handle, "garbage"} {
		if err := store.Delete(ctx, bad); !llm.IsPersistenceError(err) {
			t.Errorf("Delete(%q): expected PersistenceError, got %v", bad, err)
		}
	}
}
