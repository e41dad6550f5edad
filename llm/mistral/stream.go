package mistral

import (
	"github.com/aschepis/backscratcher/polychat/llm"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/ssestream"
)

// mistralStream normalises streamed completion chunks. Mistral usually sends
// each tool call whole in one delta, often several under the same index; the
// buffer keeps whole calls apart and still assembles split arguments.
type mistralStream struct {
	stream  *ssestream.Stream[openai.ChatCompletionChunk]
	model   string
	calls   *llm.ToolCallBuffer
	chunk   llm.Chunk
	err     error
	done    bool
	sawText bool
}

func newMistralStream(stream *ssestream.Stream[openai.ChatCompletionChunk], model string) *mistralStream {
	return &mistralStream{
		stream: stream,
		model:  model,
		calls:  llm.NewToolCallBuffer(),
	}
}

// Next implements llm.ChunkStream.Next.
func (s *mistralStream) Next() bool {
	if s.done {
		return false
	}

	for s.stream.Next() {
		current := s.stream.Current()
		if len(current.Choices) == 0 {
			continue
		}

		choice := current.Choices[0]
		for _, delta := range choice.Delta.ToolCalls {
			s.calls.Add(int(delta.Index), delta.ID, delta.Function.Name, delta.Function.Arguments)
		}

		if text := choice.Delta.Content; text != "" && !s.calls.Started() {
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

	if err := s.stream.Err(); err != nil {
		s.err = convertMistralError(err)
		s.done = true
		return false
	}
	return s.finish()
}

func (s *mistralStream) finish() bool {
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
		s.err = &llm.EmptyCompletionError{Framework: llm.FrameworkMistral, Model: s.model}
	}
	return false
}

// Chunk implements llm.ChunkStream.Chunk.
func (s *mistralStream) Chunk() llm.Chunk {
	return s.chunk
}

// Err implements llm.ChunkStream.Err.
func (s *mistralStream) Err() error {
	return s.err
}

// Close implements llm.ChunkStream.Close.
func (s *mistralStream) Close() error {
	s.done = true
	if s.stream != nil {
		return s.stream.Close()
	}
	return nil
}
