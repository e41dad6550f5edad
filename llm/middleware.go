package llm

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Middleware provides hooks for decorating Adapter calls.
// This allows adding cross-cutting concerns like logging or request rewriting
// without modifying adapter implementations.
type Middleware interface {
	// BeforeRequest is called before the adapter is invoked.
	// It can modify the request or return an error to abort it.
	BeforeRequest(ctx context.Context, req *Request) (*Request, error)

	// OnChunk is called for each chunk pulled from the stream.
	// It can modify the chunk or return an error to abort the stream.
	OnChunk(ctx context.Context, req *Request, chunk Chunk) (Chunk, error)

	// OnError is called when the call or the stream fails.
	// It can return a modified error or nil to use the original error.
	OnError(ctx context.Context, req *Request, err error) error
}

// MiddlewareFunc is a function type that implements Middleware.
type MiddlewareFunc struct {
	BeforeRequestFunc func(ctx context.Context, req *Request) (*Request, error)
	OnChunkFunc       func(ctx context.Context, req *Request, chunk Chunk) (Chunk, error)
	OnErrorFunc       func(ctx context.Context, req *Request, err error) error
}

// BeforeRequest calls the BeforeRequestFunc if set.
func (f MiddlewareFunc) BeforeRequest(ctx context.Context, req *Request) (*Request, error) {
	if f.BeforeRequestFunc != nil {
		return f.BeforeRequestFunc(ctx, req)
	}
	return req, nil
}

// OnChunk calls the OnChunkFunc if set.
func (f MiddlewareFunc) OnChunk(ctx context.Context, req *Request, chunk Chunk) (Chunk, error) {
	if f.OnChunkFunc != nil {
		return f.OnChunkFunc(ctx, req, chunk)
	}
	return chunk, nil
}

// OnError calls the OnErrorFunc if set.
func (f MiddlewareFunc) OnError(ctx context.Context, req *Request, err error) error {
	if f.OnErrorFunc != nil {
		return f.OnErrorFunc(ctx, req, err)
	}
	return err
}

// WrapAdapter wraps an Adapter with middleware and returns a new Adapter.
func WrapAdapter(adapter Adapter, middleware ...Middleware) Adapter {
	if len(middleware) == 0 {
		return adapter
	}
	return &adapterWithMiddleware{
		adapter:    adapter,
		middleware: middleware,
	}
}

type adapterWithMiddleware struct {
	adapter    Adapter
	middleware []Middleware
}

func (a *adapterWithMiddleware) Stream(ctx context.Context, req *Request) (ChunkStream, error) {
	return a.open(ctx, req, a.adapter.Stream)
}

func (a *adapterWithMiddleware) CompleteJSON(ctx context.Context, req *Request) (ChunkStream, error) {
	return a.open(ctx, req, a.adapter.CompleteJSON)
}

func (a *adapterWithMiddleware) open(ctx context.Context, req *Request, call func(context.Context, *Request) (ChunkStream, error)) (ChunkStream, error) {
	for _, mw := range a.middleware {
		var err error
		req, err = mw.BeforeRequest(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	stream, err := call(ctx, req)
	if err != nil {
		return nil, a.onError(ctx, req, err)
	}

	return &streamWithMiddleware{
		stream:  stream,
		wrapper: a,
		ctx:     ctx,
		req:     req,
	}, nil
}

func (a *adapterWithMiddleware) onError(ctx context.Context, req *Request, err error) error {
	for _, mw := range a.middleware {
		if handled := mw.OnError(ctx, req, err); handled != nil {
			err = handled
		}
	}
	return err
}

type streamWithMiddleware struct {
	stream  ChunkStream
	wrapper *adapterWithMiddleware
	ctx     context.Context
	req     *Request
	chunk   Chunk
	err     error
}

// Next implements ChunkStream.Next.
func (s *streamWithMiddleware) Next() bool {
	if s.err != nil || !s.stream.Next() {
		return false
	}

	chunk := s.stream.Chunk()
	for _, mw := range s.wrapper.middleware {
		var err error
		chunk, err = mw.OnChunk(s.ctx, s.req, chunk)
		if err != nil {
			s.err = err
			return false
		}
	}

	s.chunk = chunk
	return true
}

// Chunk implements ChunkStream.Chunk.
func (s *streamWithMiddleware) Chunk() Chunk {
	return s.chunk
}

// Err implements ChunkStream.Err.
func (s *streamWithMiddleware) Err() error {
	err := s.err
	if err == nil {
		err = s.stream.Err()
	}
	if err != nil {
		return s.wrapper.onError(s.ctx, s.req, err)
	}
	return nil
}

// Close implements ChunkStream.Close.
func (s *streamWithMiddleware) Close() error {
	return s.stream.Close()
}

// LoggingMiddleware logs each round-trip, the kind of every chunk and any failure.
func LoggingMiddleware(logger zerolog.Logger, framework string) Middleware {
	logger = logger.With().Str("component", "adapter").Str("framework", framework).Logger()
	var started time.Time
	return MiddlewareFunc{
		BeforeRequestFunc: func(ctx context.Context, req *Request) (*Request, error) {
			started = time.Now()
			logger.Info().
				Str("model", req.Model).
				Float64("temperature", req.Temperature).
				Int("messages", req.Conversation.Len()).
				Int("tools", len(req.Tools)).
				Msg("Calling provider")
			return req, nil
		},
		OnChunkFunc: func(ctx context.Context, req *Request, chunk Chunk) (Chunk, error) {
			ev := logger.Debug().Str("model", req.Model).Stringer("kind", chunk.Kind)
			switch chunk.Kind {
			case ChunkToolCalls:
				names := make([]string, len(chunk.ToolCalls))
				for i, tc := range chunk.ToolCalls {
					names[i] = tc.Function
				}
				ev = ev.Strs("tools", names)
			default:
				ev = ev.Int("length", len(chunk.Text))
			}
			ev.Dur("elapsed", time.Since(started)).Msg("Received chunk")
			return chunk, nil
		},
		OnErrorFunc: func(ctx context.Context, req *Request, err error) error {
			logger.Error().Err(err).Str("model", req.Model).Dur("elapsed", time.Since(started)).Msg("Provider call failed")
			return err
		},
	}
}

var (
	_ Adapter     = (*adapterWithMiddleware)(nil)
	_ ChunkStream = (*streamWithMiddleware)(nil)
)
