package ollama

import (
	"context"
	"sync"

	"github.com/aschepis/backscratcher/polychat/llm"
	"github.com/ollama/ollama/api"
)

// ollamaStream adapts the callback-driven api.Client.Chat to a pull stream.
// The request runs in a goroutine that hands each response to Next over an
// unbuffered channel, so the server is read no faster than chunks are pulled.
type ollamaStream struct {
	ctx     context.Context
	cancel  context.CancelFunc
	client  *api.Client
	req     *api.ChatRequest
	model   string
	once    sync.Once
	resps   chan api.ChatResponse
	errc    chan error
	calls   *llm.ToolCallBuffer
	chunk   llm.Chunk
	err     error
	done    bool
	sawText bool
}

// newOllamaStream creates a new ollamaStream. The request is not sent until
// the first call to Next.
func newOllamaStream(ctx context.Context, client *api.Client, req *api.ChatRequest) *ollamaStream {
	ctx, cancel := context.WithCancel(ctx)
	return &ollamaStream{
		ctx:    ctx,
		cancel: cancel,
		client: client,
		req:    req,
		model:  req.Model,
		resps:  make(chan api.ChatResponse),
		errc:   make(chan error, 1),
		calls:  llm.NewToolCallBuffer(),
	}
}

func (s *ollamaStream) start() {
	go func() {
		err := s.client.Chat(s.ctx, s.req, func(resp api.ChatResponse) error {
			select {
			case s.resps <- resp:
				return nil
			case <-s.ctx.Done():
				return s.ctx.Err()
			}
		})
		s.errc <- err
		close(s.resps)
	}()
}

// Next implements llm.ChunkStream.Next.
func (s *ollamaStream) Next() bool {
	if s.done {
		return false
	}
	s.once.Do(s.start)

	for resp := range s.resps {
		// Ollama delivers each tool call whole; index by arrival order.
		for _, tc := range resp.Message.ToolCalls {
			call := FromOllamaToolCall(tc)
			s.calls.Add(s.calls.Len(), call.CallID, call.Function, call.ArgumentsJSON())
		}

		if text := resp.Message.Content; text != "" && !s.calls.Started() {
			s.sawText = true
			s.chunk = llm.TextChunk(text)
			return true
		}
	}

	if err := <-s.errc; err != nil {
		s.err = convertOllamaError(err)
		s.done = true
		return false
	}
	return s.finish()
}

func (s *ollamaStream) finish() bool {
	s.done = true
	if s.calls.Started() {
		calls, err := s.calls.Flush()
		if err != nil {
			s.err = err
			return false
		}
		s.chunk = llm.ToolCallsChunk(calls)
		return true
	}
	if !s.sawText {
		s.err = &llm.EmptyCompletionError{Framework: llm.FrameworkOllama, Model: s.model}
	}
	return false
}

// Chunk implements llm.ChunkStream.Chunk.
func (s *ollamaStream) Chunk() llm.Chunk {
	return s.chunk
}

// Err implements llm.ChunkStream.Err.
func (s *ollamaStream) Err() error {
	return s.err
}

// Close implements llm.ChunkStream.Close. It cancels an in-flight request.
func (s *ollamaStream) Close() error {
	s.done = true
	s.cancel()
	return nil
}
