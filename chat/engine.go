// Package chat drives conversations: it selects the adapter for a model,
// streams its output, runs requested tools and loops until the model answers.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aschepis/backscratcher/polychat/llm"
	"github.com/aschepis/backscratcher/polychat/savedchat"
	"github.com/rs/zerolog"
)

// DefaultMaxToolRounds bounds the tool loop of a single turn.
const DefaultMaxToolRounds = 20

// ToolRunner is the tool boundary the engine calls into.
// *tools.Registry implements it.
type ToolRunner interface {
	Schemas() []llm.ToolSchema
	Invoke(ctx context.Context, call llm.ToolCall) (string, error)
	DisplayMessage(call llm.ToolCall) string
}

// Prompt is one user submission.
type Prompt struct {
	Text         string
	SystemPrompt string
	Model        string
	Temperature  float64
	// ForceJSON routes the turn through Adapter.CompleteJSON.
	ForceJSON bool
}

// Engine owns one conversation and runs turns against it. Turns must not
// run concurrently on the same engine.
type Engine struct {
	frameworks    *llm.FrameworkRegistry
	adapters      map[string]llm.Adapter
	tools         ToolRunner
	conv          *llm.Conversation
	startTime     time.Time
	stop          atomic.Bool
	maxToolRounds int
	systemPrompt  string
	now           func() time.Time
	logger        zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxToolRounds overrides DefaultMaxToolRounds.
func WithMaxToolRounds(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxToolRounds = n
		}
	}
}

// WithDefaultSystemPrompt sets the system prompt used when a prompt carries
// none and the conversation has none yet.
func WithDefaultSystemPrompt(prompt string) Option {
	return func(e *Engine) {
		e.systemPrompt = prompt
	}
}

// WithClock replaces time.Now for start-time bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an engine. adapters is keyed by framework name. It fails
// with *llm.NoFrameworksAvailableError when no framework is usable.
func NewEngine(frameworks *llm.FrameworkRegistry, adapters map[string]llm.Adapter, tools ToolRunner, logger zerolog.Logger, opts ...Option) (*Engine, error) {
	available := 0
	for _, name := range frameworks.Available() {
		if _, ok := adapters[name]; ok {
			available++
		}
	}
	if available == 0 {
		return nil, &llm.NoFrameworksAvailableError{Configured: frameworks.Configured()}
	}

	e := &Engine{
		frameworks:    frameworks,
		adapters:      adapters,
		tools:         tools,
		conv:          llm.NewConversation(),
		maxToolRounds: DefaultMaxToolRounds,
		now:           time.Now,
		logger:        logger.With().Str("component", "chat_engine").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger.Debug().Strs("frameworks", frameworks.Available()).Msg("Chat engine created")
	return e, nil
}

// Conversation returns the engine's conversation. Callers must not mutate it
// while a turn is running.
func (e *Engine) Conversation() *llm.Conversation {
	return e.conv
}

// StartTime returns when the current conversation began. It is zero before
// the first turn.
func (e *Engine) StartTime() time.Time {
	return e.startTime
}

// Models lists every model of every available framework.
func (e *Engine) Models() []string {
	return e.frameworks.Models()
}

// Send starts a turn. The model and prompt are checked before anything else
// so an unknown model or blank prompt fails without touching the conversation.
func (e *Engine) Send(ctx context.Context, p Prompt) (*Turn, error) {
	framework, model, err := e.frameworks.ResolveModel(p.Model)
	if err != nil {
		return nil, err
	}
	adapter, ok := e.adapters[framework]
	if !ok {
		return nil, &llm.UnknownModelError{Model: p.Model, Framework: framework}
	}
	// Some providers drop blank user turns, leaving an empty request.
	if strings.TrimSpace(p.Text) == "" {
		return nil, &llm.ValidationError{Field: "prompt", Reason: "empty text"}
	}

	switch {
	case p.SystemPrompt != "":
		e.conv.SetSystemPrompt(p.SystemPrompt)
	case e.conv.Empty() && e.systemPrompt != "":
		e.conv.SetSystemPrompt(e.systemPrompt)
	}
	if err := e.conv.Append(llm.RoleUser, llm.String(p.Text), nil, nil); err != nil {
		return nil, err
	}
	if e.startTime.IsZero() {
		e.startTime = e.now()
	}
	e.stop.Store(false)

	userIndex, _ := e.conv.LastIndex()
	e.logger.Info().Str("framework", framework).Str("model", model).Bool("json", p.ForceJSON).Msg("Starting turn")

	var schemas []llm.ToolSchema
	if e.tools != nil {
		schemas = e.tools.Schemas()
	}
	return &Turn{
		engine:    e,
		ctx:       ctx,
		adapter:   adapter,
		framework: framework,
		model:     model,
		temp:      p.Temperature,
		forceJSON: p.ForceJSON,
		schemas:   schemas,
		userIndex: userIndex,
	}, nil
}

// RequestStop asks the running turn to stop. The flag is checked once per
// yielded output and cleared by the next Send.
func (e *Engine) RequestStop() {
	e.stop.Store(true)
}

// StopRequested reports whether a stop is pending.
func (e *Engine) StopRequested() bool {
	return e.stop.Load()
}

// Reset drops every message and the start time.
func (e *Engine) Reset() {
	e.conv.Reset()
	e.startTime = time.Time{}
	e.stop.Store(false)
}

// UndoLastInteraction removes the last message and then any trailing
// messages that are not displayed, so the conversation never ends inside a
// tool round. The lone system message is kept. It returns the number of
// messages removed.
func (e *Engine) UndoLastInteraction() (int, error) {
	if e.conv.Empty() {
		return 0, llm.ErrEmptyConversation
	}
	if _, hasSystem := e.conv.SystemPrompt(); hasSystem && e.conv.Len() == 1 {
		return 0, llm.ErrEmptyConversation
	}
	if err := e.conv.DeleteLast(); err != nil {
		return 0, err
	}
	return 1 + e.conv.TrimNonDisplayed(), nil
}

// Export saves the conversation with its start time and returns the
// record handle.
func (e *Engine) Export(ctx context.Context, store savedchat.Store, metadata map[string]any) (string, error) {
	if e.conv.Empty() {
		return "", &llm.PersistenceError{Op: "export", Err: llm.ErrEmptyConversation}
	}
	start := e.startTime
	if start.IsZero() {
		start = e.now()
	}
	return store.Save(ctx, savedchat.New(e.conv.Clone(), start, "", metadata))
}

// Import replaces the conversation with the record stored under handle.
func (e *Engine) Import(ctx context.Context, store savedchat.Store, handle string) (*savedchat.SavedChat, error) {
	chat, err := store.Load(ctx, handle)
	if err != nil {
		return nil, err
	}
	e.Reset()
	for _, m := range chat.Messages.Messages() {
		if err := e.conv.AppendMessage(m); err != nil {
			e.Reset()
			return nil, &llm.PersistenceError{Op: "import", Handle: handle, Err: fmt.Errorf("invalid message: %w", err)}
		}
	}
	e.startTime = chat.StartTime
	e.logger.Info().Str("handle", handle).Int("messages", e.conv.Len()).Msg("Imported chat")
	return chat, nil
}
