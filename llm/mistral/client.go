package mistral

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aschepis/backscratcher/polychat/llm"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

// DefaultBaseURL is Mistral's OpenAI-compatible chat endpoint.
const DefaultBaseURL = "https://api.mistral.ai/v1"

const defaultRetryAfter = 60 * time.Second

// Options configures an Adapter.
type Options struct {
	APIKey     string
	BaseURL    string
	MaxRetries int
	HTTPClient *http.Client
}

// Adapter implements llm.Adapter for Mistral's chat completion API.
type Adapter struct {
	client openai.Client
}

// NewAdapter creates a new Adapter with the given options.
func NewAdapter(opts Options) (*Adapter, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}

	reqOpts := []option.RequestOption{
		option.WithBaseURL(opts.BaseURL),
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(opts.MaxRetries),
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	return &Adapter{client: openai.NewClient(reqOpts...)}, nil
}

func buildParams(req *llm.Request) (openai.ChatCompletionNewParams, error) {
	if req == nil || req.Conversation == nil {
		return openai.ChatCompletionNewParams{}, fmt.Errorf("request is required")
	}
	if req.Model == "" {
		return openai.ChatCompletionNewParams{}, fmt.Errorf("model is required")
	}

	params := openai.ChatCompletionNewParams{
		Messages:    ToMessageParams(req.Conversation),
		Model:       openai.ChatModel(req.Model),
		Temperature: openai.Float(req.Temperature),
	}
	if len(req.Tools) > 0 {
		params.Tools = ToTools(req.Tools)
	}
	return params, nil
}

// Stream implements llm.Adapter.Stream.
func (a *Adapter) Stream(ctx context.Context, req *llm.Request) (llm.ChunkStream, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := a.client.Chat.Completions.NewStreaming(ctx, params)
	return newMistralStream(stream, req.Model), nil
}

// CompleteJSON implements llm.Adapter.CompleteJSON. Mistral cannot combine
// JSON mode with tools, so tools are dropped behind a warning and the single
// completion is read as text.
func (a *Adapter) CompleteJSON(ctx context.Context, req *llm.Request) (llm.ChunkStream, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, err
	}

	var lead []llm.Chunk
	if len(req.Tools) > 0 {
		lead = append(lead, llm.WarningChunk("Mistral models do not support tools when forcing JSON response"))
		params.Tools = nil
	}
	params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
	}

	completion, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, convertMistralError(err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return nil, &llm.EmptyCompletionError{Framework: llm.FrameworkMistral, Model: req.Model}
	}

	chunks := append(lead, llm.TextChunk(completion.Choices[0].Message.Content))
	return llm.NewSliceStream(nil, chunks...), nil
}

// convertMistralError converts API errors to llm.Error types.
func convertMistralError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return llm.NewNetworkError("Mistral API error", err)
	}

	switch apiErr.StatusCode {
	case http.StatusTooManyRequests:
		retryAfter := defaultRetryAfter
		return llm.NewRateLimitError("Mistral rate limit", &retryAfter, err)
	case http.StatusRequestEntityTooLarge:
		return llm.NewRequestTooLargeError("Mistral request too large", err)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return &llm.Error{
			Type:        llm.ErrorTypeInvalidRequest,
			Message:     "Mistral invalid request",
			StatusCode:  apiErr.StatusCode,
			ProviderErr: err,
		}
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return &llm.Error{
			Type:        llm.ErrorTypeProvider,
			Message:     "Mistral server error",
			Retryable:   true,
			StatusCode:  apiErr.StatusCode,
			ProviderErr: err,
		}
	default:
		return &llm.Error{
			Type:        llm.ErrorTypeProvider,
			Message:     fmt.Sprintf("Mistral API error (status %d)", apiErr.StatusCode),
			StatusCode:  apiErr.StatusCode,
			ProviderErr: err,
		}
	}
}

var _ llm.Adapter = (*Adapter)(nil)
