package chat

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/aschepis/backscratcher/polychat/llm"
	"github.com/aschepis/backscratcher/polychat/savedchat"
	"github.com/rs/zerolog"
)

const testModel = "test-model"

// scriptedAdapter returns one scripted round per call.
type scriptedAdapter struct {
	rounds    [][]llm.Chunk
	errs      []error
	calls     int
	jsonCalls int
	requests  []*llm.Request
	lens      []int
}

func (a *scriptedAdapter) next(req *llm.Request) llm.ChunkStream {
	i := a.calls
	a.calls++
	a.requests = append(a.requests, req)
	a.lens = append(a.lens, req.Conversation.Len())
	var err error
	if i < len(a.errs) {
		err = a.errs[i]
	}
	if i >= len(a.rounds) {
		return llm.NewSliceStream(err)
	}
	return llm.NewSliceStream(err, a.rounds[i]...)
}

func (a *scriptedAdapter) Stream(ctx context.Context, req *llm.Request) (llm.ChunkStream, error) {
	return a.next(req), nil
}

func (a *scriptedAdapter) CompleteJSON(ctx context.Context, req *llm.Request) (llm.ChunkStream, error) {
	a.jsonCalls++
	return a.next(req), nil
}

// fakeTools records invocations and answers from a map.
type fakeTools struct {
	results map[string]string
	invoked []llm.ToolCall
}

func (f *fakeTools) Schemas() []llm.ToolSchema {
	return []llm.ToolSchema{{Name: "web_search", Description: "search", Parameters: map[string]any{"type": "object"}}}
}

func (f *fakeTools) Invoke(ctx context.Context, call llm.ToolCall) (string, error) {
	f.invoked = append(f.invoked, call)
	if r, ok := f.results[call.Function]; ok {
		return r, nil
	}
	err := &llm.ToolExecutionError{Tool: call.Function, Err: errors.New("unknown tool")}
	return "ERROR: unknown tool", err
}

func (f *fakeTools) DisplayMessage(call llm.ToolCall) string {
	return "Running tool: " + call.Function
}

func testFrameworks() *llm.FrameworkRegistry {
	return llm.NewFrameworkRegistry([]llm.FrameworkSpec{
		{Name: llm.FrameworkOpenAI, Models: []string{testModel}, APIKey: "sk-test"},
		{Name: llm.FrameworkAnthropic, Models: []string{"claude-x"}},
	}, llm.WithEnvLookup(func(string) (string, bool) { return "", false }))
}

func newTestEngine(t *testing.T, adapter llm.Adapter, tools ToolRunner, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(testFrameworks(), map[string]llm.Adapter{llm.FrameworkOpenAI: adapter}, tools, zerolog.Nop(), opts...)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e
}

func drain(t *testing.T, turn *Turn) []Output {
	t.Helper()
	defer turn.Close()
	var outs []Output
	for turn.Next() {
		outs = append(outs, turn.Output())
	}
	return outs
}

func send(t *testing.T, e *Engine, text string) []Output {
	t.Helper()
	turn, err := e.Send(context.Background(), Prompt{Text: text, Model: testModel})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	return drain(t, turn)
}

func TestEngine_TextTurn(t *testing.T) {
	adapter := &scriptedAdapter{rounds: [][]llm.Chunk{{llm.TextChunk("Hel"), llm.TextChunk("lo")}}}
	e := newTestEngine(t, adapter, nil)

	outs := send(t, e, "hi")
	if len(outs) != 2 {
		t.Fatalf("Expected 2 outputs, got %+v", outs)
	}
	for _, o := range outs {
		if o.Kind != OutputContent || o.Model != testModel {
			t.Errorf("Expected content tagged with %s, got %+v", testModel, o)
		}
	}

	conv := e.Conversation()
	if conv.Len() != 2 {
		t.Fatalf("Expected user and assistant messages, got %d", conv.Len())
	}
	last := conv.Last()
	if last.Role != llm.RoleAssistant || last.Text() != "Hello" || last.ModelName() != testModel {
		t.Errorf("Expected merged assistant 'Hello' from %s, got %s", testModel, last)
	}
	if e.StartTime().IsZero() {
		t.Error("Expected start time to be recorded")
	}
}

func TestEngine_ToolLoop(t *testing.T) {
	call := llm.ToolCall{CallID: "1", Function: "web_search", Arguments: map[string]any{"query": "x"}}
	adapter := &scriptedAdapter{rounds: [][]llm.Chunk{
		{llm.ToolCallsChunk([]llm.ToolCall{call}), llm.TextChunk("found it")},
		{llm.TextChunk(" done")},
	}}
	tools := &fakeTools{results: map[string]string{"web_search": "search output"}}
	e := newTestEngine(t, adapter, tools)

	outs := send(t, e, "look up x")

	if adapter.calls != 2 {
		t.Fatalf("Expected 2 adapter rounds, got %d", adapter.calls)
	}
	if len(tools.invoked) != 1 || tools.invoked[0].CallID != "1" {
		t.Errorf("Expected web_search invoked once, got %+v", tools.invoked)
	}
	if len(adapter.requests[0].Tools) != 1 {
		t.Errorf("Expected tool schemas passed to adapter, got %+v", adapter.requests[0].Tools)
	}
	if adapter.lens[1] <= adapter.lens[0] {
		t.Errorf("Expected the second round to see an extended conversation, got %v", adapter.lens)
	}

	wantKinds := []OutputKind{OutputInfo, OutputContent, OutputContent}
	if len(outs) != len(wantKinds) {
		t.Fatalf("Expected %d outputs, got %+v", len(wantKinds), outs)
	}
	for i, k := range wantKinds {
		if outs[i].Kind != k {
			t.Errorf("Output %d: expected %s, got %s", i, k, outs[i].Kind)
		}
	}
	if outs[0].Text != "Running tool: web_search" {
		t.Errorf("Expected tool notice, got %q", outs[0].Text)
	}

	msgs := e.Conversation().Messages()
	if len(msgs) != 4 {
		t.Fatalf("Expected 4 messages, got %d", len(msgs))
	}
	assistantCalls, tool, final := msgs[1], msgs[2], msgs[3]
	if assistantCalls.Role != llm.RoleAssistant || len(assistantCalls.ToolCalls) != 1 || assistantCalls.ToolCalls[0].CallID != "1" {
		t.Errorf("Expected assistant with tool call 1, got %s", assistantCalls)
	}
	if tool.Role != llm.RoleTool || tool.Text() != "search output" || tool.ToolCallID() != "1" {
		t.Errorf("Expected tool message correlated to 1, got %s", tool)
	}
	if final.Role != llm.RoleAssistant || final.Text() != "found it done" || final.ModelName() != testModel {
		t.Errorf("Expected assistant 'found it done' from %s, got %s", testModel, final)
	}
}

func TestEngine_ToolFailureDoesNotAbortTurn(t *testing.T) {
	call := llm.ToolCall{CallID: "7", Function: "missing_tool"}
	adapter := &scriptedAdapter{rounds: [][]llm.Chunk{
		{llm.ToolCallsChunk([]llm.ToolCall{call})},
		{llm.TextChunk("sorry")},
	}}
	e := newTestEngine(t, adapter, &fakeTools{})

	outs := send(t, e, "do it")
	for _, o := range outs {
		if o.Kind == OutputError {
			t.Errorf("Expected no error output, got %+v", o)
		}
	}
	tool, _ := e.Conversation().At(2)
	if tool.Text() != "ERROR: unknown tool" {
		t.Errorf("Expected error text in tool message, got %q", tool.Text())
	}
	if e.Conversation().Last().Text() != "sorry" {
		t.Errorf("Expected final answer, got %s", e.Conversation().Last())
	}
}

func TestEngine_ToolsRunInArrivalOrder(t *testing.T) {
	calls := []llm.ToolCall{
		{CallID: "a", Function: "web_search", Arguments: map[string]any{"query": "1"}},
		{CallID: "b", Function: "web_search", Arguments: map[string]any{"query": "2"}},
	}
	adapter := &scriptedAdapter{rounds: [][]llm.Chunk{
		{llm.ToolCallsChunk(calls)},
		{llm.TextChunk("ok")},
	}}
	tools := &fakeTools{results: map[string]string{"web_search": "r"}}
	e := newTestEngine(t, adapter, tools)

	send(t, e, "two searches")
	if len(tools.invoked) != 2 || tools.invoked[0].CallID != "a" || tools.invoked[1].CallID != "b" {
		t.Errorf("Expected calls a then b, got %+v", tools.invoked)
	}
	msgs := e.Conversation().Messages()
	if msgs[2].ToolCallID() != "a" || msgs[3].ToolCallID() != "b" {
		t.Errorf("Expected tool messages a then b, got %s %s", msgs[2], msgs[3])
	}
}

func TestEngine_EmptyCompletionYieldsOneError(t *testing.T) {
	adapter := &scriptedAdapter{errs: []error{&llm.EmptyCompletionError{Framework: "openai", Model: testModel}}}
	e := newTestEngine(t, adapter, nil)

	turn, err := e.Send(context.Background(), Prompt{Text: "hi", Model: testModel})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	outs := drain(t, turn)
	if len(outs) != 1 || outs[0].Kind != OutputError {
		t.Fatalf("Expected exactly one error output, got %+v", outs)
	}
	want := fmt.Sprintf("EmptyCompletionError: got empty completion from openai model %s", testModel)
	if outs[0].Text != want {
		t.Errorf("Expected %q, got %q", want, outs[0].Text)
	}
	if !llm.IsEmptyCompletionError(turn.Err()) {
		t.Errorf("Expected EmptyCompletionError from Err, got %v", turn.Err())
	}

	conv := e.Conversation()
	if conv.Len() != 1 || conv.Last().Role != llm.RoleUser {
		t.Errorf("Expected no assistant message appended, got %d messages", conv.Len())
	}
}

func TestEngine_ErrorKeepsPartialState(t *testing.T) {
	adapter := &scriptedAdapter{
		rounds: [][]llm.Chunk{{llm.TextChunk("partial")}},
		errs:   []error{llm.NewNetworkError("connection reset", errors.New("EOF"))},
	}
	e := newTestEngine(t, adapter, nil)

	outs := send(t, e, "hi")
	if len(outs) != 2 || outs[1].Kind != OutputError {
		t.Fatalf("Expected content then error, got %+v", outs)
	}
	if e.Conversation().Last().Text() != "partial" {
		t.Errorf("Expected partial content to remain, got %s", e.Conversation().Last())
	}
}

func TestEngine_UnknownModelFailsFast(t *testing.T) {
	adapter := &scriptedAdapter{}
	e := newTestEngine(t, adapter, nil)

	tests := []string{"nope", "claude-x"}
	for _, model := range tests {
		_, err := e.Send(context.Background(), Prompt{Text: "hi", Model: model})
		if !llm.IsUnknownModelError(err) {
			t.Errorf("Model %s: expected UnknownModelError, got %v", model, err)
		}
	}
	if !e.Conversation().Empty() {
		t.Errorf("Expected conversation untouched, got %d messages", e.Conversation().Len())
	}
	if adapter.calls != 0 {
		t.Errorf("Expected no adapter calls, got %d", adapter.calls)
	}
}

func TestEngine_BlankPromptRejected(t *testing.T) {
	adapter := &scriptedAdapter{}
	e := newTestEngine(t, adapter, nil)

	for _, text := range []string{"", "  \n\t"} {
		_, err := e.Send(context.Background(), Prompt{Text: text, Model: testModel})
		if !llm.IsValidationError(err) {
			t.Errorf("Text %q: expected ValidationError, got %v", text, err)
		}
	}
	if !e.Conversation().Empty() {
		t.Errorf("Expected conversation untouched, got %d messages", e.Conversation().Len())
	}
	if adapter.calls != 0 {
		t.Errorf("Expected no adapter calls, got %d", adapter.calls)
	}
}

func TestNewEngine_NoFrameworks(t *testing.T) {
	frameworks := llm.NewFrameworkRegistry([]llm.FrameworkSpec{
		{Name: llm.FrameworkOpenAI, Models: []string{testModel}},
	}, llm.WithEnvLookup(func(string) (string, bool) { return "", false }))

	_, err := NewEngine(frameworks, map[string]llm.Adapter{llm.FrameworkOpenAI: &scriptedAdapter{}}, nil, zerolog.Nop())
	var noFw *llm.NoFrameworksAvailableError
	if !errors.As(err, &noFw) {
		t.Errorf("Expected NoFrameworksAvailableError, got %v", err)
	}
}

func TestEngine_StopRequested(t *testing.T) {
	adapter := &scriptedAdapter{rounds: [][]llm.Chunk{{
		llm.TextChunk("one"), llm.TextChunk(" two"), llm.TextChunk(" three"),
	}}}
	e := newTestEngine(t, adapter, nil)

	turn, err := e.Send(context.Background(), Prompt{Text: "count", Model: testModel})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !turn.Next() || turn.Output().Text != "one" {
		t.Fatalf("Expected first output 'one', got %+v", turn.Output())
	}
	e.RequestStop()
	if turn.Next() {
		t.Errorf("Expected no output after stop, got %+v", turn.Output())
	}
	if !turn.Stopped() {
		t.Error("Expected turn to report stopped")
	}
	if got := e.Conversation().Last().Text(); got != "one" {
		t.Errorf("Expected partial content kept, got %q", got)
	}

	// The next turn clears the flag.
	adapter.rounds = append(adapter.rounds, []llm.Chunk{llm.TextChunk("again")})
	outs := send(t, e, "continue")
	if len(outs) != 1 || outs[0].Text != "again" {
		t.Errorf("Expected fresh turn after stop, got %+v", outs)
	}
}

func TestEngine_ToolRoundLimit(t *testing.T) {
	call := llm.ToolCall{CallID: "1", Function: "web_search"}
	loop := []llm.Chunk{llm.ToolCallsChunk([]llm.ToolCall{call})}
	adapter := &scriptedAdapter{rounds: [][]llm.Chunk{loop, loop, loop}}
	e := newTestEngine(t, adapter, &fakeTools{results: map[string]string{"web_search": "r"}}, WithMaxToolRounds(2))

	outs := send(t, e, "loop")
	last := outs[len(outs)-1]
	if last.Kind != OutputError {
		t.Fatalf("Expected trailing error output, got %+v", last)
	}
	if adapter.calls != 2 {
		t.Errorf("Expected 2 rounds, got %d", adapter.calls)
	}
}

func TestEngine_ForceJSONUsesCompleteJSON(t *testing.T) {
	adapter := &scriptedAdapter{rounds: [][]llm.Chunk{{
		llm.WarningChunk("X models do not support forcing JSON responses"),
		llm.TextChunk(`{"a":1}`),
	}}}
	e := newTestEngine(t, adapter, nil)

	turn, err := e.Send(context.Background(), Prompt{Text: "json please", Model: testModel, ForceJSON: true})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	outs := drain(t, turn)
	if adapter.jsonCalls != 1 {
		t.Errorf("Expected CompleteJSON to be used, got %d calls", adapter.jsonCalls)
	}
	if len(outs) != 2 || outs[0].Kind != OutputWarning || outs[1].Text != `{"a":1}` {
		t.Errorf("Expected warning then JSON, got %+v", outs)
	}
}

func TestEngine_SystemPrompt(t *testing.T) {
	adapter := &scriptedAdapter{rounds: [][]llm.Chunk{{llm.TextChunk("a")}, {llm.TextChunk("b")}}}
	e := newTestEngine(t, adapter, nil, WithDefaultSystemPrompt("default prompt"))

	send(t, e, "first")
	if prompt, _ := e.Conversation().SystemPrompt(); prompt != "default prompt" {
		t.Errorf("Expected default system prompt, got %q", prompt)
	}

	turn, err := e.Send(context.Background(), Prompt{Text: "second", SystemPrompt: "custom", Model: testModel})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	drain(t, turn)
	if prompt, _ := e.Conversation().SystemPrompt(); prompt != "custom" {
		t.Errorf("Expected custom system prompt, got %q", prompt)
	}
	if n := len(e.Conversation().Messages()); n != 5 {
		t.Errorf("Expected 5 messages, got %d", n)
	}
}

func TestEngine_UndoLastInteraction(t *testing.T) {
	e := newTestEngine(t, &scriptedAdapter{}, nil)
	conv := e.Conversation()
	conv.SetSystemPrompt("sys")
	call := llm.ToolCall{CallID: "1", Function: "web_search"}
	call2 := llm.ToolCall{CallID: "2", Function: "web_search"}
	for _, err := range []error{
		conv.Append(llm.RoleUser, llm.String("q1"), nil, nil),
		conv.Append(llm.RoleAssistant, llm.String("a1"), nil, llm.String(testModel)),
		conv.Append(llm.RoleUser, llm.String("q2"), nil, nil),
		conv.Append(llm.RoleAssistant, nil, []llm.ToolCall{call, call2}, llm.String(testModel)),
		conv.Append(llm.RoleTool, llm.String("r1"), []llm.ToolCall{call}, nil),
		conv.Append(llm.RoleTool, llm.String("r2"), []llm.ToolCall{call2}, nil),
	} {
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	removed, err := e.UndoLastInteraction()
	if err != nil {
		t.Fatalf("Undo failed: %v", err)
	}
	if removed != 3 {
		t.Errorf("Expected 3 messages removed, got %d", removed)
	}
	last := conv.Last()
	if last.Role != llm.RoleUser || last.Text() != "q2" {
		t.Errorf("Expected conversation to end at displayed user message q2, got %s", last)
	}

	for i := 0; i < 3; i++ {
		if _, err := e.UndoLastInteraction(); err != nil {
			t.Fatalf("Undo %d failed: %v", i, err)
		}
	}
	if conv.Len() != 1 {
		t.Fatalf("Expected only the system message left, got %d", conv.Len())
	}
	if _, err := e.UndoLastInteraction(); err == nil {
		t.Error("Expected error when only the system message remains")
	}
	if conv.Len() != 1 {
		t.Errorf("Expected system message kept, got %d messages", conv.Len())
	}
}

func TestEngine_Reset(t *testing.T) {
	adapter := &scriptedAdapter{rounds: [][]llm.Chunk{{llm.TextChunk("a")}}}
	e := newTestEngine(t, adapter, nil)
	send(t, e, "hi")

	e.Reset()
	if !e.Conversation().Empty() || !e.StartTime().IsZero() {
		t.Errorf("Expected empty conversation and zero start time")
	}
}

func TestEngine_ExportImport(t *testing.T) {
	start := time.Date(2024, 2, 3, 4, 5, 6, 0, time.Local)
	adapter := &scriptedAdapter{rounds: [][]llm.Chunk{{llm.TextChunk("hello back")}}}
	e := newTestEngine(t, adapter, nil, WithClock(func() time.Time { return start }))
	send(t, e, "hello engine")

	store := savedchat.NewFileStore(filepath.Join(t.TempDir(), "chats"), zerolog.Nop())
	ctx := context.Background()
	handle, err := e.Export(ctx, store, map[string]any{"model": testModel})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if handle != "chat_hello_engine_2024-02-03-04-05-06.json" {
		t.Errorf("Unexpected handle %s", handle)
	}

	other := newTestEngine(t, &scriptedAdapter{}, nil)
	chat, err := other.Import(ctx, store, handle)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if chat.Metadata["model"] != testModel {
		t.Errorf("Expected metadata, got %v", chat.Metadata)
	}
	if other.Conversation().Len() != 2 || other.Conversation().Last().Text() != "hello back" {
		t.Errorf("Expected imported conversation, got %d messages", other.Conversation().Len())
	}
	if !other.StartTime().Equal(start) {
		t.Errorf("Expected start time %v, got %v", start, other.StartTime())
	}
}

func TestEngine_ExportEmpty(t *testing.T) {
	e := newTestEngine(t, &scriptedAdapter{}, nil)
	store := savedchat.NewFileStore(t.TempDir(), zerolog.Nop())
	if _, err := e.Export(context.Background(), store, nil); !llm.IsPersistenceError(err) {
		t.Errorf("Expected PersistenceError, got %v", err)
	}
}

func TestEngine_InstancesOwnTheirConversation(t *testing.T) {
	a := newTestEngine(t, &scriptedAdapter{rounds: [][]llm.Chunk{{llm.TextChunk("x")}}}, nil)
	b := newTestEngine(t, &scriptedAdapter{}, nil)
	send(t, a, "only in a")
	if !b.Conversation().Empty() {
		t.Errorf("Expected second engine untouched, got %d messages", b.Conversation().Len())
	}
}
