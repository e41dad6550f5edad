package llm

const (
	// InfoMarker prefixes informational notices on the output channel.
	InfoMarker = "╬"
	// WarningMarker prefixes degraded-capability notices on the output channel.
	WarningMarker = "⚠"
)

// ChunkKind tags the variant held by a Chunk.
type ChunkKind int

const (
	ChunkText ChunkKind = iota
	ChunkToolCalls
	ChunkInfo
	ChunkWarning
)

func (k ChunkKind) String() string {
	switch k {
	case ChunkText:
		return "text"
	case ChunkToolCalls:
		return "tool_calls"
	case ChunkInfo:
		return "info"
	case ChunkWarning:
		return "warning"
	default:
		return "unknown"
	}
}

// Chunk is one unit of adapter output: plain text, a complete set of tool
// calls, or a side-channel notice.
type Chunk struct {
	Kind      ChunkKind
	Text      string
	ToolCalls []ToolCall
}

// TextChunk builds a text chunk.
func TextChunk(text string) Chunk {
	return Chunk{Kind: ChunkText, Text: text}
}

// ToolCallsChunk builds a tool-calls chunk.
func ToolCallsChunk(calls []ToolCall) Chunk {
	return Chunk{Kind: ChunkToolCalls, ToolCalls: calls}
}

// InfoChunk builds an informational notice.
func InfoChunk(text string) Chunk {
	return Chunk{Kind: ChunkInfo, Text: text}
}

// WarningChunk builds a degraded-capability notice.
func WarningChunk(text string) Chunk {
	return Chunk{Kind: ChunkWarning, Text: text}
}

// Marked renders side-channel chunks with their reserved leading marker.
// Text chunks are returned unchanged.
func (c Chunk) Marked() string {
	switch c.Kind {
	case ChunkInfo:
		return InfoMarker + c.Text
	case ChunkWarning:
		return WarningMarker + c.Text
	default:
		return c.Text
	}
}
