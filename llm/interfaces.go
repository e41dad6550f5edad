package llm

import (
	"context"
)

// ToolSchema is a provider-agnostic function declaration. Parameters holds a
// JSON-schema object of the form {"type": "object", "properties": {...},
// "required": [...]}.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Properties returns the parameter properties map.
func (s ToolSchema) Properties() map[string]any {
	props, _ := s.Parameters["properties"].(map[string]any)
	if props == nil {
		return map[string]any{}
	}
	return props
}

// Required returns the names of the required parameters.
func (s ToolSchema) Required() []string {
	switch req := s.Parameters["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if name, ok := r.(string); ok {
				out = append(out, name)
			}
		}
		return out
	default:
		return nil
	}
}

// Request is everything an adapter needs for one round-trip.
type Request struct {
	Model        string
	Temperature  float64
	Conversation *Conversation
	Tools        []ToolSchema
}

// Adapter is the capability every framework integration implements.
// Vendor protocol differences stay behind this interface.
type Adapter interface {
	// Stream starts a streamed completion. Text chunks are emitted as they
	// arrive; tool calls are emitted once fully assembled.
	Stream(ctx context.Context, req *Request) (ChunkStream, error)

	// CompleteJSON requests a single non-streamed result, forcing a JSON
	// object where the vendor supports it. Vendors that do not emit a
	// Warning chunk and fall back to normal completion.
	CompleteJSON(ctx context.Context, req *Request) (ChunkStream, error)
}

// ChunkStream is a pull-based lazy sequence of chunks. Each call to Next may
// block on the network.
type ChunkStream interface {
	// Next advances to the next chunk.
	// Returns false when the stream is complete or an error occurs.
	Next() bool

	// Chunk returns the current chunk.
	// Should only be called after Next() returns true.
	Chunk() Chunk

	// Err returns any error that occurred during streaming.
	Err() error

	// Close releases the underlying connection.
	Close() error
}

// SliceStream is a ChunkStream over a fixed set of chunks. Adapters use it for
// non-streamed results; tests use it to script provider output.
type SliceStream struct {
	chunks []Chunk
	err    error
	pos    int
	cur    Chunk
	closed bool
}

// NewSliceStream returns a stream yielding chunks and then err (which may be nil).
func NewSliceStream(err error, chunks ...Chunk) *SliceStream {
	return &SliceStream{chunks: chunks, err: err}
}

// Next implements ChunkStream.Next.
func (s *SliceStream) Next() bool {
	if s.closed || s.pos >= len(s.chunks) {
		return false
	}
	s.cur = s.chunks[s.pos]
	s.pos++
	return true
}

// Chunk implements ChunkStream.Chunk.
func (s *SliceStream) Chunk() Chunk {
	return s.cur
}

// Err implements ChunkStream.Err.
func (s *SliceStream) Err() error {
	if s.pos < len(s.chunks) && !s.closed {
		return nil
	}
	return s.err
}

// Close implements ChunkStream.Close.
func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}

var _ ChunkStream = (*SliceStream)(nil)

// Prepend returns a stream that yields chunks before those of stream.
// Adapters use it to put a Warning in front of a fallback completion.
func Prepend(stream ChunkStream, chunks ...Chunk) ChunkStream {
	return &prependStream{head: chunks, tail: stream}
}

type prependStream struct {
	head []Chunk
	tail ChunkStream
	cur  Chunk
}

func (s *prependStream) Next() bool {
	if len(s.head) > 0 {
		s.cur = s.head[0]
		s.head = s.head[1:]
		return true
	}
	if !s.tail.Next() {
		return false
	}
	s.cur = s.tail.Chunk()
	return true
}

func (s *prependStream) Chunk() Chunk { return s.cur }

func (s *prependStream) Err() error { return s.tail.Err() }

func (s *prependStream) Close() error { return s.tail.Close() }
