package chat

import (
	"strings"

	"github.com/aschepis/backscratcher/polychat/llm"
)

// ModelTagDelimiter separates content from the producing model on the
// encoded output stream.
const ModelTagDelimiter = "␞"

// OutputKind tags what an Output carries.
type OutputKind int

const (
	OutputContent OutputKind = iota
	OutputInfo
	OutputWarning
	OutputError
)

func (k OutputKind) String() string {
	switch k {
	case OutputContent:
		return "content"
	case OutputInfo:
		return "info"
	case OutputWarning:
		return "warning"
	case OutputError:
		return "error"
	default:
		return "unknown"
	}
}

// Output is one item surfaced to the presentation layer.
type Output struct {
	Kind  OutputKind
	Text  string
	Model string
}

// Encode renders the output for the single multiplexed text stream: notices
// carry their leading marker, content and errors carry a trailing model tag.
func (o Output) Encode() string {
	switch o.Kind {
	case OutputInfo:
		return llm.InfoMarker + o.Text
	case OutputWarning:
		return llm.WarningMarker + o.Text
	default:
		return o.Text + ModelTagDelimiter + o.Model
	}
}

// DecodeOutput splits an encoded output. Errors are indistinguishable from
// content on the wire and decode as OutputContent.
func DecodeOutput(s string) Output {
	switch {
	case strings.HasPrefix(s, llm.InfoMarker):
		return Output{Kind: OutputInfo, Text: strings.TrimPrefix(s, llm.InfoMarker)}
	case strings.HasPrefix(s, llm.WarningMarker):
		return Output{Kind: OutputWarning, Text: strings.TrimPrefix(s, llm.WarningMarker)}
	}
	if i := strings.LastIndex(s, ModelTagDelimiter); i >= 0 {
		return Output{Kind: OutputContent, Text: s[:i], Model: s[i+len(ModelTagDelimiter):]}
	}
	return Output{Kind: OutputContent, Text: s}
}
