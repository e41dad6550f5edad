package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aschepis/backscratcher/polychat/llm"
)

// DefaultMaxTokens is the completion budget sent with every request.
const DefaultMaxTokens = 4096

const defaultRetryAfter = 30 * time.Second

// Options configures an Adapter.
type Options struct {
	APIKey     string
	BaseURL    string
	MaxTokens  int64
	// MaxRetries is handed to the SDK; zero leaves retrying to the caller.
	MaxRetries int
	HTTPClient *http.Client
}

// Adapter implements llm.Adapter for Anthropic's Messages API.
type Adapter struct {
	client    *anthropic.Client
	maxTokens int64
}

// NewAdapter creates a new Adapter with the given options.
func NewAdapter(opts Options) (*Adapter, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(opts.MaxRetries),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	client := anthropic.NewClient(reqOpts...)
	return &Adapter{
		client:    &client,
		maxTokens: opts.MaxTokens,
	}, nil
}

func (a *Adapter) buildParams(req *llm.Request) (anthropic.MessageNewParams, error) {
	if req == nil || req.Conversation == nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("request is required")
	}
	if req.Model == "" {
		return anthropic.MessageNewParams{}, fmt.Errorf("model is required")
	}

	nativeTools := len(req.Tools) > 0
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   a.maxTokens,
		Messages:    ToMessageParams(req.Conversation, nativeTools),
		Temperature: anthropic.Float(req.Temperature),
	}
	if system, ok := req.Conversation.SystemPrompt(); ok && system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if nativeTools {
		params.Tools = ToToolUnionParams(req.Tools)
	}
	return params, nil
}

// Stream implements llm.Adapter.Stream.
func (a *Adapter) Stream(ctx context.Context, req *llm.Request) (llm.ChunkStream, error) {
	params, err := a.buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := a.client.Messages.NewStreaming(ctx, params)
	return newAnthropicStream(stream, req.Model), nil
}

// CompleteJSON implements llm.Adapter.CompleteJSON. Anthropic has no JSON
// mode, so the request is streamed behind a warning.
func (a *Adapter) CompleteJSON(ctx context.Context, req *llm.Request) (llm.ChunkStream, error) {
	stream, err := a.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return llm.Prepend(stream, llm.WarningChunk("Anthropic models do not support forcing JSON responses")), nil
}

// convertAnthropicError converts Anthropic API errors to llm.Error types.
func convertAnthropicError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return llm.NewNetworkError("Anthropic API error", err)
	}

	switch apiErr.StatusCode {
	case http.StatusTooManyRequests:
		retryAfter := retryAfterFrom(apiErr.Response)
		return llm.NewRateLimitError(
			"Anthropic rate limit",
			&retryAfter,
			err,
		)
	case http.StatusRequestEntityTooLarge:
		return llm.NewRequestTooLargeError(
			"Anthropic request too large",
			err,
		)
	case http.StatusBadRequest:
		return &llm.Error{
			Type:        llm.ErrorTypeInvalidRequest,
			Message:     "Anthropic invalid request",
			StatusCode:  apiErr.StatusCode,
			ProviderErr: err,
		}
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, 529:
		return &llm.Error{
			Type:        llm.ErrorTypeProvider,
			Message:     "Anthropic server error",
			Retryable:   true,
			StatusCode:  apiErr.StatusCode,
			ProviderErr: err,
		}
	default:
		return &llm.Error{
			Type:        llm.ErrorTypeProvider,
			Message:     fmt.Sprintf("Anthropic API error (status %d)", apiErr.StatusCode),
			StatusCode:  apiErr.StatusCode,
			ProviderErr: err,
		}
	}
}

func retryAfterFrom(resp *http.Response) time.Duration {
	if resp == nil {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(resp.Header.Get("retry-after")); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultRetryAfter
}

var _ llm.Adapter = (*Adapter)(nil)
