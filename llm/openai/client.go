package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/aschepis/backscratcher/polychat/llm"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAI API errors don't directly expose retry-after headers
// We'll use a default retry after duration for rate limits
const defaultRetryAfter = 60 * time.Second

const (
	DeepSeekBaseURL = "https://api.deepseek.com/v1"
	GoogleBaseURL   = "https://generativelanguage.googleapis.com/v1beta/openai/"
)

// Options configures an Adapter.
type Options struct {
	// Framework names the framework this adapter serves (openai, deepseek, google).
	Framework    string
	APIKey       string
	BaseURL      string
	Organization string
	// JSONMode reports whether the endpoint honours response_format=json_object.
	JSONMode   bool
	HTTPClient *http.Client
}

// Adapter implements llm.Adapter for OpenAI-compatible chat completion APIs.
type Adapter struct {
	client    *openai.Client
	framework string
	jsonMode  bool
}

// NewAdapter creates a new Adapter.
// If APIKey is empty, it will return an error.
// If BaseURL is empty, it will use the default OpenAI API endpoint.
func NewAdapter(opts Options) (*Adapter, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if opts.Framework == "" {
		opts.Framework = llm.FrameworkOpenAI
	}

	config := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		config.BaseURL = opts.BaseURL
	}
	if opts.Organization != "" {
		config.OrgID = opts.Organization
	}
	if opts.HTTPClient != nil {
		config.HTTPClient = opts.HTTPClient
	}

	return &Adapter{
		client:    openai.NewClientWithConfig(config),
		framework: opts.Framework,
		jsonMode:  opts.JSONMode,
	}, nil
}

// Framework returns the framework name this adapter serves.
func (a *Adapter) Framework() string {
	return a.framework
}

func (a *Adapter) buildRequest(req *llm.Request) (openai.ChatCompletionRequest, error) {
	if req == nil || req.Conversation == nil {
		return openai.ChatCompletionRequest{}, fmt.Errorf("request is required")
	}
	if req.Model == "" {
		return openai.ChatCompletionRequest{}, fmt.Errorf("model is required")
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    ToOpenAIMessages(req.Conversation),
		Temperature: temperature(req.Temperature),
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = ToOpenAITools(req.Tools)
		chatReq.ToolChoice = "auto"
	}
	return chatReq, nil
}

// temperature maps 0 to the smallest positive float32 because go-openai
// omits a zero temperature from the request, which the API reads as 1.
func temperature(t float64) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

// Stream implements llm.Adapter.Stream.
func (a *Adapter) Stream(ctx context.Context, req *llm.Request) (llm.ChunkStream, error) {
	chatReq, err := a.buildRequest(req)
	if err != nil {
		return nil, err
	}
	chatReq.Stream = true

	stream, err := a.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, convertOpenAIError(a.framework, err)
	}

	return newOpenAIStream(stream, a.framework, req.Model), nil
}

// CompleteJSON implements llm.Adapter.CompleteJSON. Endpoints without JSON
// mode get a warning followed by a normal streamed completion.
func (a *Adapter) CompleteJSON(ctx context.Context, req *llm.Request) (llm.ChunkStream, error) {
	if !a.jsonMode {
		stream, err := a.Stream(ctx, req)
		if err != nil {
			return nil, err
		}
		warning := llm.WarningChunk(fmt.Sprintf("%s models do not support forcing JSON responses", displayName(a.framework)))
		return llm.Prepend(stream, warning), nil
	}

	chatReq, err := a.buildRequest(req)
	if err != nil {
		return nil, err
	}
	chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONObject,
	}

	chatResp, err := a.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, convertOpenAIError(a.framework, err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, &llm.EmptyCompletionError{Framework: a.framework, Model: req.Model}
	}

	message := chatResp.Choices[0].Message
	if len(message.ToolCalls) > 0 {
		calls := make([]llm.ToolCall, 0, len(message.ToolCalls))
		for _, tc := range message.ToolCalls {
			call, err := FromOpenAIToolCall(tc)
			if err != nil {
				return nil, err
			}
			calls = append(calls, call)
		}
		return llm.NewSliceStream(nil, llm.ToolCallsChunk(calls)), nil
	}
	if message.Content == "" {
		return nil, &llm.EmptyCompletionError{Framework: a.framework, Model: req.Model}
	}
	return llm.NewSliceStream(nil, llm.TextChunk(message.Content)), nil
}

func displayName(framework string) string {
	switch framework {
	case llm.FrameworkDeepSeek:
		return "DeepSeek"
	case llm.FrameworkGoogle:
		return "Google"
	default:
		return "OpenAI"
	}
}

// convertOpenAIError converts OpenAI API errors to llm.Error types.
func convertOpenAIError(framework string, err error) error {
	if err == nil {
		return nil
	}
	name := displayName(framework)

	// Check if it's an OpenAI API error using errors.As
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			return &llm.Error{
				Type:        llm.ErrorTypeProvider,
				Message:     fmt.Sprintf("%s request failed", name),
				StatusCode:  reqErr.HTTPStatusCode,
				ProviderErr: err,
			}
		}
		return llm.NewNetworkError(fmt.Sprintf("%s API error", name), err)
	}

	// Map status codes to error types
	switch apiErr.HTTPStatusCode {
	case http.StatusTooManyRequests:
		retryAfter := defaultRetryAfter
		return llm.NewRateLimitError(
			fmt.Sprintf("%s rate limit: %s", name, apiErr.Message),
			&retryAfter,
			err,
		)
	case http.StatusRequestEntityTooLarge:
		return llm.NewRequestTooLargeError(
			fmt.Sprintf("%s request too large: %s", name, apiErr.Message),
			err,
		)
	case http.StatusBadRequest:
		return &llm.Error{
			Type:        llm.ErrorTypeInvalidRequest,
			Message:     fmt.Sprintf("%s invalid request: %s", name, apiErr.Message),
			StatusCode:  apiErr.HTTPStatusCode,
			ProviderErr: err,
		}
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		// Server errors are retryable by the caller; the engine does not retry
		return &llm.Error{
			Type:        llm.ErrorTypeProvider,
			Message:     fmt.Sprintf("%s server error: %s", name, apiErr.Message),
			Retryable:   true,
			StatusCode:  apiErr.HTTPStatusCode,
			ProviderErr: err,
		}
	default:
		return &llm.Error{
			Type:        llm.ErrorTypeProvider,
			Message:     fmt.Sprintf("%s API error: %s", name, apiErr.Message),
			StatusCode:  apiErr.HTTPStatusCode,
			ProviderErr: err,
		}
	}
}

var _ llm.Adapter = (*Adapter)(nil)
