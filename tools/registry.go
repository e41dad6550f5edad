package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/aschepis/backscratcher/polychat/llm"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Handler runs a tool with its decoded arguments and returns the textual
// result handed back to the model.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// DisplayFunc renders the notice shown to the user while a tool runs.
type DisplayFunc func(args map[string]any) string

// Param declares one tool parameter. Schema is the JSON-schema fragment for
// the parameter, typically {"type": ..., "description": ...}.
type Param struct {
	Name     string
	Schema   map[string]any
	Required bool
}

// StringParam is shorthand for a described string parameter.
func StringParam(name, description string, required bool) Param {
	return Param{Name: name, Schema: map[string]any{"type": "string", "description": description}, Required: required}
}

// IntegerParam is shorthand for a described integer parameter.
func IntegerParam(name, description string, required bool) Param {
	return Param{Name: name, Schema: map[string]any{"type": "integer", "description": description}, Required: required}
}

// Tool is a registered callable.
type Tool struct {
	Name        string
	Description string
	Params      []Param
	Handler     Handler
	Display     DisplayFunc

	// rawSchema, when set, is used verbatim instead of building from Params.
	rawSchema map[string]any
}

// Schema builds the provider-agnostic function schema for the tool.
func (t *Tool) Schema() llm.ToolSchema {
	if t.rawSchema != nil {
		return llm.ToolSchema{Name: t.Name, Description: t.Description, Parameters: t.rawSchema}
	}

	properties := make(map[string]any, len(t.Params))
	for _, p := range t.Params {
		properties[p.Name] = p.Schema
	}
	required := lo.FilterMap(t.Params, func(p Param, _ int) (string, bool) {
		return p.Name, p.Required
	})
	return llm.ToolSchema{
		Name:        t.Name,
		Description: t.Description,
		Parameters: map[string]any{
			"type":       "object",
			"properties": properties,
			"required":   required,
		},
	}
}

// Registry maps tool names to handlers. Registration order is preserved so
// every adapter call sees the same schema list.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	order  []string
	logger zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	logger = logger.With().Str("component", "tool_registry").Logger()
	logger.Debug().Msg("Creating new tool Registry")
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger,
	}
}

// Register registers a handler for a tool name.
func (r *Registry) Register(name, description string, params []Param, h Handler) {
	r.RegisterTool(Tool{Name: name, Description: description, Params: params, Handler: h})
}

// RegisterTool registers a fully described tool. Re-registering a name
// replaces the earlier tool in place.
func (r *Registry) RegisterTool(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Debug().Str("name", t.Name).Msg("Registering tool handler")
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	tool := t
	r.tools[t.Name] = &tool
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Schemas returns the function schemas of every tool in registration order.
func (r *Registry) Schemas() []llm.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Map(r.order, func(name string, _ int) llm.ToolSchema {
		return r.tools[name].Schema()
	})
}

// DisplayMessage returns the notice shown to the user while call runs.
func (r *Registry) DisplayMessage(call llm.ToolCall) string {
	r.mu.RLock()
	tool, ok := r.tools[call.Function]
	r.mu.RUnlock()
	if ok && tool.Display != nil {
		return tool.Display(call.Arguments)
	}
	return fmt.Sprintf("Running tool: %s", capitalizeWords(call.Function))
}

func capitalizeWords(s string) string {
	words := strings.Split(s, " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

// Invoke dispatches a tool call. The returned text is always suitable as the
// tool message content: failures are rendered as "ERROR: ..." and also
// returned as a *llm.ToolExecutionError for the caller to log.
func (r *Registry) Invoke(ctx context.Context, call llm.ToolCall) (string, error) {
	r.mu.RLock()
	tool, ok := r.tools[call.Function]
	r.mu.RUnlock()

	if !ok {
		r.logger.Error().Str("tool", call.Function).Msg("Unknown tool requested")
		err := &llm.ToolExecutionError{Tool: call.Function, Err: fmt.Errorf("unknown tool: %s", call.Function)}
		return errorText(err), err
	}

	r.logger.Info().Str("tool", call.Function).Str("callID", call.CallID).Msg("Executing tool")
	if prettyBytes, err := json.MarshalIndent(call.Arguments, "", "  "); err == nil {
		r.logger.Debug().Str("tool", call.Function).Str("args", string(prettyBytes)).Msg("Tool called with arguments")
	}

	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	result, err := tool.Handler(ctx, args)
	if err != nil {
		r.logger.Warn().Str("tool", call.Function).Err(err).Msg("Tool returned error")
		toolErr := &llm.ToolExecutionError{Tool: call.Function, Err: err}
		return errorText(toolErr), toolErr
	}

	r.logger.Info().Str("tool", call.Function).Str("result", truncate(result, 500)).Msg("Tool returned result")
	return result, nil
}

func errorText(err *llm.ToolExecutionError) string {
	return "ERROR: " + err.Err.Error()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... (truncated)"
}

// MCPToolInvoker represents something that can invoke an MCP tool.
type MCPToolInvoker interface {
	CallTool(ctx context.Context, originalName string, input map[string]any) (string, error)
}

// RegisterMCPTool registers a tool whose implementation is provided by an MCP client.
// safeName is the tool name accepted by every provider (no dots).
// originalName is the original MCP tool name (may contain dots).
func (r *Registry) RegisterMCPTool(safeName, originalName, description string, inputSchema map[string]any, invoker MCPToolInvoker) {
	r.logger.Debug().Str("safeName", safeName).Str("originalName", originalName).Msg("Registering MCP tool")
	if inputSchema == nil {
		inputSchema = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	r.RegisterTool(Tool{
		Name:        safeName,
		Description: description,
		rawSchema:   inputSchema,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			r.logger.Info().Str("safeName", safeName).Str("originalName", originalName).Msg("Calling MCP tool")
			return invoker.CallTool(ctx, originalName, args)
		},
		Display: func(map[string]any) string {
			return fmt.Sprintf("Running tool: %s", capitalizeWords(originalName))
		},
	})
}
