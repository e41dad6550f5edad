package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aschepis/backscratcher/polychat/llm"
	"github.com/ollama/ollama/api"
)

// DefaultHost is used when no host is configured and OLLAMA_HOST is unset.
const DefaultHost = "http://localhost:11434"

// Options configures an Adapter.
type Options struct {
	// Host is the Ollama server address. Empty means OLLAMA_HOST or DefaultHost.
	Host       string
	HTTPClient *http.Client
}

// Adapter implements llm.Adapter for a local Ollama server. Ollama needs no
// credential.
type Adapter struct {
	client *api.Client
}

// NewAdapter creates a new Adapter.
func NewAdapter(opts Options) (*Adapter, error) {
	if opts.Host == "" {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		return &Adapter{client: client}, nil
	}

	baseURL, err := parseHost(opts.Host)
	if err != nil {
		return nil, fmt.Errorf("invalid host: %w", err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Adapter{client: api.NewClient(baseURL, httpClient)}, nil
}

// parseHost parses a host string into a URL.
func parseHost(host string) (*url.URL, error) {
	// If host doesn't have a scheme, add http://
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return url.Parse(host)
}

func buildRequest(req *llm.Request, stream bool) (*api.ChatRequest, error) {
	if req == nil || req.Conversation == nil {
		return nil, fmt.Errorf("request is required")
	}
	if req.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	chatReq := &api.ChatRequest{
		Model:    req.Model,
		Messages: ToOllamaMessages(req.Conversation),
		Stream:   &stream,
		Options:  map[string]any{"temperature": req.Temperature},
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = ToOllamaTools(req.Tools)
	}
	return chatReq, nil
}

// Stream implements llm.Adapter.Stream.
func (a *Adapter) Stream(ctx context.Context, req *llm.Request) (llm.ChunkStream, error) {
	chatReq, err := buildRequest(req, true)
	if err != nil {
		return nil, err
	}
	return newOllamaStream(ctx, a.client, chatReq), nil
}

// CompleteJSON implements llm.Adapter.CompleteJSON using Ollama's JSON format
// constraint on a single non-streamed reply.
func (a *Adapter) CompleteJSON(ctx context.Context, req *llm.Request) (llm.ChunkStream, error) {
	chatReq, err := buildRequest(req, false)
	if err != nil {
		return nil, err
	}
	chatReq.Format = json.RawMessage(`"json"`)

	var chatResp api.ChatResponse
	err = a.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		chatResp = resp
		return nil
	})
	if err != nil {
		return nil, convertOllamaError(err)
	}

	if len(chatResp.Message.ToolCalls) > 0 {
		calls := make([]llm.ToolCall, 0, len(chatResp.Message.ToolCalls))
		for _, tc := range chatResp.Message.ToolCalls {
			calls = append(calls, FromOllamaToolCall(tc))
		}
		return llm.NewSliceStream(nil, llm.ToolCallsChunk(calls)), nil
	}
	if chatResp.Message.Content == "" {
		return nil, &llm.EmptyCompletionError{Framework: llm.FrameworkOllama, Model: req.Model}
	}
	return llm.NewSliceStream(nil, llm.TextChunk(chatResp.Message.Content)), nil
}

// convertOllamaError converts Ollama API errors to llm.Error types.
func convertOllamaError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var statusErr api.StatusError
	if !errors.As(err, &statusErr) {
		return llm.NewNetworkError("Ollama request failed", err)
	}

	switch statusErr.StatusCode {
	case http.StatusNotFound:
		return &llm.Error{
			Type:        llm.ErrorTypeInvalidRequest,
			Message:     "Ollama model not found",
			StatusCode:  statusErr.StatusCode,
			ProviderErr: err,
		}
	case http.StatusBadRequest:
		return &llm.Error{
			Type:        llm.ErrorTypeInvalidRequest,
			Message:     "Ollama invalid request",
			StatusCode:  statusErr.StatusCode,
			ProviderErr: err,
		}
	case http.StatusInternalServerError, http.StatusServiceUnavailable:
		return &llm.Error{
			Type:        llm.ErrorTypeProvider,
			Message:     "Ollama server error",
			Retryable:   true,
			StatusCode:  statusErr.StatusCode,
			ProviderErr: err,
		}
	default:
		return &llm.Error{
			Type:        llm.ErrorTypeProvider,
			Message:     fmt.Sprintf("Ollama API error (status %d)", statusErr.StatusCode),
			StatusCode:  statusErr.StatusCode,
			ProviderErr: err,
		}
	}
}

var _ llm.Adapter = (*Adapter)(nil)
