package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/aschepis/backscratcher/polychat/llm"
)

// ErrToolRoundLimit is reported when a turn keeps requesting tools past the
// engine's round limit.
var ErrToolRoundLimit = errors.New("tool round limit reached")

// Turn is a pull-based sequence of outputs for one user prompt. Each call to
// Next may block on the network or on a running tool.
//
//	turn, err := engine.Send(ctx, prompt)
//	for turn.Next() {
//		render(turn.Output())
//	}
type Turn struct {
	engine    *Engine
	ctx       context.Context
	adapter   llm.Adapter
	framework string
	model     string
	temp      float64
	forceJSON bool
	schemas   []llm.ToolSchema
	userIndex int

	stream        llm.ChunkStream
	round         int
	roundHadCalls bool
	toolQueue     []llm.ToolCall
	announced     bool

	pending []Output
	cur     Output
	done    bool
	stopped bool
	err     error
}

// Model returns the canonical model name serving the turn.
func (t *Turn) Model() string {
	return t.model
}

// Framework returns the framework serving the turn.
func (t *Turn) Framework() string {
	return t.framework
}

// Next advances to the next output. It returns false once the model has
// answered without requesting tools, after an error output, or when a stop
// was requested.
func (t *Turn) Next() bool {
	for {
		if len(t.pending) > 0 {
			if t.engine.stop.Load() {
				t.halt()
				return false
			}
			t.cur = t.pending[0]
			t.pending = t.pending[1:]
			return true
		}
		if t.done {
			return false
		}
		if t.engine.stop.Load() {
			t.halt()
			return false
		}
		t.step()
	}
}

// Output returns the current output.
func (t *Turn) Output() Output {
	return t.cur
}

// Err returns the error that aborted the turn, if any. The error has already
// been surfaced as an OutputError.
func (t *Turn) Err() error {
	return t.err
}

// Stopped reports whether the turn ended because a stop was requested.
func (t *Turn) Stopped() bool {
	return t.stopped
}

// Close releases the in-flight stream. It is safe to call more than once.
func (t *Turn) Close() error {
	t.done = true
	return t.closeStream()
}

func (t *Turn) halt() {
	t.engine.logger.Info().Str("model", t.model).Msg("Stop requested, ending turn")
	t.stopped = true
	t.pending = nil
	_ = t.Close()
}

func (t *Turn) closeStream() error {
	if t.stream == nil {
		return nil
	}
	err := t.stream.Close()
	t.stream = nil
	return err
}

// step performs one unit of work: run one queued tool, open a round, or pull
// one chunk.
func (t *Turn) step() {
	switch {
	case len(t.toolQueue) > 0:
		t.runNextTool()
	case t.stream == nil:
		t.openRound()
	default:
		t.pull()
	}
}

func (t *Turn) openRound() {
	if t.round >= t.engine.maxToolRounds {
		t.fail(fmt.Errorf("%w (%d rounds)", ErrToolRoundLimit, t.round))
		return
	}
	t.round++
	t.roundHadCalls = false

	req := &llm.Request{
		Model:        t.model,
		Temperature:  t.temp,
		Conversation: t.engine.conv,
		Tools:        t.schemas,
	}
	open := t.adapter.Stream
	if t.forceJSON {
		open = t.adapter.CompleteJSON
	}

	t.engine.logger.Debug().Str("model", t.model).Int("round", t.round).Msg("Requesting completion")
	stream, err := open(t.ctx, req)
	if err != nil {
		t.fail(err)
		return
	}
	t.stream = stream
}

func (t *Turn) pull() {
	if !t.stream.Next() {
		err := t.stream.Err()
		_ = t.closeStream()
		if err != nil {
			t.fail(err)
			return
		}
		if !t.roundHadCalls {
			t.engine.logger.Info().Str("model", t.model).Int("rounds", t.round).Msg("Turn complete")
			t.done = true
		}
		return
	}

	chunk := t.stream.Chunk()
	switch chunk.Kind {
	case llm.ChunkText:
		if err := t.mergeAssistant(llm.String(chunk.Text), nil); err != nil {
			t.fail(err)
			return
		}
		t.emit(Output{Kind: OutputContent, Text: chunk.Text, Model: t.model})
	case llm.ChunkToolCalls:
		if err := t.mergeAssistant(nil, chunk.ToolCalls); err != nil {
			t.fail(err)
			return
		}
		t.roundHadCalls = true
		t.toolQueue = append(t.toolQueue, chunk.ToolCalls...)
	case llm.ChunkInfo:
		t.emit(Output{Kind: OutputInfo, Text: chunk.Text})
	case llm.ChunkWarning:
		t.emit(Output{Kind: OutputWarning, Text: chunk.Text})
	}
}

// mergeAssistant merges into the trailing assistant message when it belongs
// to this turn and appends a new one seeded with the model otherwise.
func (t *Turn) mergeAssistant(content *string, calls []llm.ToolCall) error {
	conv := t.engine.conv
	if last, err := conv.LastIndex(); err == nil && last > t.userIndex {
		if m, _ := conv.At(last); m.Role == llm.RoleAssistant {
			return conv.Update(last, content, calls)
		}
	}
	return conv.Append(llm.RoleAssistant, content, calls, llm.String(t.model))
}

// runNextTool announces the next queued call and, on the following step,
// invokes it and appends the tool message.
func (t *Turn) runNextTool() {
	call := t.toolQueue[0]
	if !t.announced {
		t.announced = true
		msg := call.Function
		if t.engine.tools != nil {
			msg = t.engine.tools.DisplayMessage(call)
		}
		t.emit(Output{Kind: OutputInfo, Text: msg})
		return
	}
	t.toolQueue = t.toolQueue[1:]
	t.announced = false

	var result string
	if t.engine.tools == nil {
		result = fmt.Sprintf("ERROR: unknown tool: %s", call.Function)
	} else {
		var err error
		result, err = t.engine.tools.Invoke(t.ctx, call)
		if err != nil {
			t.engine.logger.Warn().Err(err).Str("tool", call.Function).Str("callID", call.CallID).Msg("Tool failed")
		}
	}
	if err := t.engine.conv.Append(llm.RoleTool, llm.String(result), []llm.ToolCall{call}, nil); err != nil {
		t.fail(err)
	}
}

func (t *Turn) emit(o Output) {
	t.pending = append(t.pending, o)
}

// fail surfaces err as the turn's single error output and ends the turn.
// The conversation keeps whatever state it reached.
func (t *Turn) fail(err error) {
	t.engine.logger.Error().Err(err).Str("model", t.model).Int("round", t.round).Msg("Turn failed")
	t.err = err
	t.toolQueue = nil
	_ = t.closeStream()
	t.done = true
	t.emit(Output{Kind: OutputError, Text: fmt.Sprintf("%s: %s", llm.ErrorKind(err), err.Error()), Model: t.model})
}
