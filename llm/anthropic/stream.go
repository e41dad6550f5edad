package anthropic

import (
	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/aschepis/backscratcher/polychat/llm"
)

// anthropicStream normalises Anthropic stream events into chunks. Text deltas
// pass through until the first tool_use block opens; tool input deltas are
// buffered by content block index and emitted together at message stop.
type anthropicStream struct {
	stream  *ssestream.Stream[anthropic.MessageStreamEventUnion]
	model   string
	calls   *llm.ToolCallBuffer
	chunk   llm.Chunk
	err     error
	done    bool
	sawText bool
}

func newAnthropicStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], model string) *anthropicStream {
	return &anthropicStream{
		stream: stream,
		model:  model,
		calls:  llm.NewToolCallBuffer(),
	}
}

// Next implements llm.ChunkStream.Next.
func (s *anthropicStream) Next() bool {
	if s.done {
		return false
	}

	for s.stream.Next() {
		event := s.stream.Current()

		switch evt := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if block, ok := evt.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				s.calls.Add(int(evt.Index), block.ID, block.Name, "")
			}

		case anthropic.ContentBlockDeltaEvent:
			switch d := evt.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if d.Text != "" && !s.calls.Started() {
					s.sawText = true
					s.chunk = llm.TextChunk(d.Text)
					return true
				}
			case anthropic.InputJSONDelta:
				s.calls.Add(int(evt.Index), "", "", d.PartialJSON)
			}

		case anthropic.MessageStopEvent:
			return s.finish()
		}
	}

	if err := s.stream.Err(); err != nil {
		s.err = convertAnthropicError(err)
		s.done = true
		return false
	}
	return s.finish()
}

func (s *anthropicStream) finish() bool {
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
		s.err = &llm.EmptyCompletionError{Framework: llm.FrameworkAnthropic, Model: s.model}
	}
	return false
}

// Chunk implements llm.ChunkStream.Chunk.
func (s *anthropicStream) Chunk() llm.Chunk {
	return s.chunk
}

// Err implements llm.ChunkStream.Err.
func (s *anthropicStream) Err() error {
	return s.err
}

// Close implements llm.ChunkStream.Close.
func (s *anthropicStream) Close() error {
	s.done = true
	if s.stream != nil {
		return s.stream.Close()
	}
	return nil
}
