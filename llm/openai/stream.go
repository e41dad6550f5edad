package openai

import (
	"errors"
	"io"

	"github.com/aschepis/backscratcher/polychat/llm"
	openai "github.com/sashabaranov/go-openai"
)

// openaiStream normalises OpenAI streaming deltas into chunks. Text deltas
// are emitted as they arrive until a tool call begins; tool-call fragments
// are buffered by index and emitted once at the end of the turn.
type openaiStream struct {
	stream    *openai.ChatCompletionStream
	framework string
	model     string
	calls     *llm.ToolCallBuffer
	chunk     llm.Chunk
	err       error
	done      bool
	sawText   bool
}

func newOpenAIStream(stream *openai.ChatCompletionStream, framework, model string) *openaiStream {
	return &openaiStream{
		stream:    stream,
		framework: framework,
		model:     model,
		calls:     llm.NewToolCallBuffer(),
	}
}

// Next implements llm.ChunkStream.Next.
func (s *openaiStream) Next() bool {
	if s.done {
		return false
	}

	for {
		response, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return s.finish()
		}
		if err != nil {
			s.err = convertOpenAIError(s.framework, err)
			s.done = true
			return false
		}
		if len(response.Choices) == 0 {
			continue
		}

		choice := response.Choices[0]
		for _, delta := range choice.Delta.ToolCalls {
			index := 0
			if delta.Index != nil {
				index = *delta.Index
			}
			s.calls.Add(index, delta.ID, delta.Function.Name, delta.Function.Arguments)
		}

		// Text after a tool call has begun is dropped: the turn is being
		// redirected into a tool invocation.
		text := choice.Delta.Content
		if text != "" && !s.calls.Started() {
			s.sawText = true
			s.chunk = llm.TextChunk(text)
			if choice.FinishReason != "" {
				s.done = true
			}
			return true
		}

		if choice.FinishReason != "" {
			return s.finish()
		}
	}
}

func (s *openaiStream) finish() bool {
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
		s.err = &llm.EmptyCompletionError{Framework: s.framework, Model: s.model}
	}
	return false
}

// Chunk implements llm.ChunkStream.Chunk.
func (s *openaiStream) Chunk() llm.Chunk {
	return s.chunk
}

// Err implements llm.ChunkStream.Err.
func (s *openaiStream) Err() error {
	return s.err
}

// Close implements llm.ChunkStream.Close.
func (s *openaiStream) Close() error {
	s.done = true
	return s.stream.Close()
}
