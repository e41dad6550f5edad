package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/aschepis/backscratcher/polychat/chat"
	"github.com/aschepis/backscratcher/polychat/llm"
	"github.com/aschepis/backscratcher/polychat/savedchat"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sahilm/fuzzy"
	"github.com/samber/lo"
)

const helpText = `Commands:
  /new              start a new conversation
  /undo             remove the last interaction
  /save             save the conversation
  /list             list saved conversations
  /load <n>         load conversation n from /list
  /delete <n>       delete conversation n from /list
  /models [filter]  list available models
  /model <name>     switch model
  /system <prompt>  set the system prompt
  /json             toggle JSON mode
  /quit             exit`

var errQuit = errors.New("quit")

// repl is the line-oriented front end over one chat engine.
type repl struct {
	engine     *chat.Engine
	frameworks *llm.FrameworkRegistry
	store      savedchat.Store
	in         *bufio.Scanner
	out        io.Writer
	logger     zerolog.Logger

	model        string
	temperature  float64
	forceJSON    bool
	systemPrompt string
	chatID       string
	listing      []savedchat.Summary
	running      atomic.Bool
}

func newREPL(engine *chat.Engine, frameworks *llm.FrameworkRegistry, store savedchat.Store, in io.Reader, out io.Writer, logger zerolog.Logger) *repl {
	return &repl{
		engine:     engine,
		frameworks: frameworks,
		store:      store,
		in:         bufio.NewScanner(in),
		out:        out,
		logger:     logger.With().Str("component", "repl").Logger(),
		chatID:     uuid.NewString(),
	}
}

// interrupt requests a stop of the running turn. It reports false when no
// turn is running.
func (r *repl) interrupt() bool {
	if !r.running.Load() {
		return false
	}
	r.engine.RequestStop()
	return true
}

// Run reads lines until EOF, /quit or ctx is cancelled.
func (r *repl) Run(ctx context.Context) error {
	fmt.Fprintf(r.out, "polychat %s, model %s. Type /help for commands.\n", version, r.model)
	for {
		fmt.Fprint(r.out, "> ")
		if !r.in.Scan() {
			fmt.Fprintln(r.out)
			return r.in.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(r.in.Text())
		if line == "" {
			continue
		}

		var err error
		if strings.HasPrefix(line, "/") {
			err = r.command(ctx, line)
		} else {
			err = r.send(ctx, line)
		}
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(r.out, "Error: %v\n", err)
		}
	}
}

func (r *repl) command(ctx context.Context, line string) error {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/help":
		fmt.Fprintln(r.out, helpText)
	case "/quit", "/exit":
		return errQuit
	case "/new":
		r.engine.Reset()
		r.chatID = uuid.NewString()
		fmt.Fprintln(r.out, "Started a new conversation.")
	case "/undo":
		n, err := r.engine.UndoLastInteraction()
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "Removed %d message(s).\n", n)
	case "/save":
		handle, err := r.engine.Export(ctx, r.store, map[string]any{
			"chat_id":     r.chatID,
			"model":       r.model,
			"temperature": r.temperature,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "Saved %s\n", handle)
	case "/list":
		return r.list(ctx)
	case "/load":
		return r.load(ctx, arg)
	case "/delete":
		return r.delete(ctx, arg)
	case "/models":
		r.models(arg)
	case "/model":
		if arg == "" {
			fmt.Fprintf(r.out, "Current model: %s\n", r.model)
			return nil
		}
		_, canonical, err := r.frameworks.ResolveModel(arg)
		if err != nil {
			return err
		}
		r.model = canonical
		fmt.Fprintf(r.out, "Model set to %s\n", canonical)
	case "/system":
		r.systemPrompt = arg
		if arg == "" {
			r.engine.Conversation().SetSystemPrompt("")
			fmt.Fprintln(r.out, "System prompt cleared.")
			return nil
		}
		fmt.Fprintln(r.out, "System prompt set.")
	case "/json":
		r.forceJSON = !r.forceJSON
		fmt.Fprintf(r.out, "JSON mode %s.\n", onOff(r.forceJSON))
	default:
		return fmt.Errorf("unknown command %s (try /help)", name)
	}
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func (r *repl) list(ctx context.Context) error {
	summaries, err := r.store.List(ctx)
	if err != nil {
		return err
	}
	r.listing = summaries
	if len(summaries) == 0 {
		fmt.Fprintln(r.out, "No saved conversations.")
		return nil
	}
	for i, s := range summaries {
		fmt.Fprintf(r.out, "%3d  %s  %s\n", i+1, s.StartTime.Format("2006-01-02 15:04"), s.Title)
	}
	return nil
}

// pick resolves a 1-based /list position, listing first when needed.
func (r *repl) pick(ctx context.Context, arg, usage string) (savedchat.Summary, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return savedchat.Summary{}, errors.New(usage)
	}
	if len(r.listing) == 0 {
		if r.listing, err = r.store.List(ctx); err != nil {
			return savedchat.Summary{}, err
		}
	}
	if n < 1 || n > len(r.listing) {
		return savedchat.Summary{}, fmt.Errorf("no saved conversation %d", n)
	}
	return r.listing[n-1], nil
}

func (r *repl) delete(ctx context.Context, arg string) error {
	summary, err := r.pick(ctx, arg, "usage: /delete <n>")
	if err != nil {
		return err
	}
	if err := r.store.Delete(ctx, summary.Handle); err != nil {
		return err
	}
	// Positions shift after a delete.
	r.listing = nil
	fmt.Fprintf(r.out, "Deleted %q.\n", summary.Title)
	return nil
}

func (r *repl) load(ctx context.Context, arg string) error {
	summary, err := r.pick(ctx, arg, "usage: /load <n>")
	if err != nil {
		return err
	}

	saved, err := r.engine.Import(ctx, r.store, summary.Handle)
	if err != nil {
		return err
	}
	if id, ok := saved.Metadata["chat_id"].(string); ok && id != "" {
		r.chatID = id
	}
	if model, ok := saved.Metadata["model"].(string); ok && model != "" {
		if _, canonical, err := r.frameworks.ResolveModel(model); err == nil {
			r.model = canonical
		}
	}
	fmt.Fprintf(r.out, "Loaded %q (%d messages).\n", saved.Title, saved.Messages.Len())
	r.replay()
	return nil
}

// replay prints the displayed messages of a loaded conversation.
func (r *repl) replay() {
	for _, m := range r.engine.Conversation().Messages() {
		if !m.Displayed() {
			continue
		}
		switch m.Role {
		case llm.RoleUser:
			fmt.Fprintf(r.out, "> %s\n", m.Text())
		case llm.RoleAssistant:
			fmt.Fprintf(r.out, "[%s] %s\n", m.ModelName(), m.Text())
		}
	}
}

func (r *repl) models(filter string) {
	models := r.engine.Models()
	if filter != "" {
		matches := fuzzy.Find(filter, models)
		models = lo.Map(matches, func(m fuzzy.Match, _ int) string { return m.Str })
	}
	if len(models) == 0 {
		fmt.Fprintln(r.out, "No matching models.")
		return
	}
	for _, m := range models {
		marker := " "
		if m == r.model {
			marker = "*"
		}
		fmt.Fprintf(r.out, "%s %s\n", marker, m)
	}
}

func (r *repl) send(ctx context.Context, text string) error {
	turn, err := r.engine.Send(ctx, chat.Prompt{
		Text:         text,
		SystemPrompt: r.systemPrompt,
		Model:        r.model,
		Temperature:  r.temperature,
		ForceJSON:    r.forceJSON,
	})
	if err != nil {
		return err
	}
	r.running.Store(true)
	defer r.running.Store(false)
	defer turn.Close() //nolint:errcheck // Turn close only releases the stream

	fmt.Fprintf(r.out, "[%s] ", turn.Model())
	atLineStart := false
	for turn.Next() {
		out := turn.Output()
		switch out.Kind {
		case chat.OutputContent:
			fmt.Fprint(r.out, out.Text)
			atLineStart = strings.HasSuffix(out.Text, "\n")
		case chat.OutputInfo, chat.OutputWarning:
			if !atLineStart {
				fmt.Fprintln(r.out)
			}
			marker := llm.InfoMarker
			if out.Kind == chat.OutputWarning {
				marker = llm.WarningMarker
			}
			fmt.Fprintf(r.out, "%s %s\n", marker, out.Text)
			atLineStart = true
		case chat.OutputError:
			if !atLineStart {
				fmt.Fprintln(r.out)
			}
			fmt.Fprintf(r.out, "Error: %s\n", out.Text)
			atLineStart = true
		}
	}
	if turn.Stopped() {
		if !atLineStart {
			fmt.Fprintln(r.out)
		}
		fmt.Fprintln(r.out, "[stopped]")
		return nil
	}
	if !atLineStart {
		fmt.Fprintln(r.out)
	}
	return nil
}
