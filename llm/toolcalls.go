package llm

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ToolCallBuffer assembles tool calls from streamed fragments. Fragments are
// keyed by their position index within the turn; a fragment carrying an id
// or a name opens the slot and later fragments append to its argument
// string. A fragment that names a different call than the one open at its
// index starts a new call, so whole calls sharing an index (or lacking one)
// are kept apart in arrival order.
type ToolCallBuffer struct {
	slots []*toolCallSlot
	open  map[int]*toolCallSlot // stream index -> latest slot
}

type toolCallSlot struct {
	index int
	id    string
	name  string
	args  strings.Builder
}

// NewToolCallBuffer returns an empty buffer.
func NewToolCallBuffer() *ToolCallBuffer {
	return &ToolCallBuffer{open: make(map[int]*toolCallSlot)}
}

// Add records one fragment. Empty id or name leave earlier values in place.
func (b *ToolCallBuffer) Add(index int, id, name, argsFragment string) {
	slot, ok := b.open[index]
	if !ok || slot.startsNewCall(id, name) {
		slot = &toolCallSlot{index: index}
		b.slots = append(b.slots, slot)
		b.open[index] = slot
	}
	if id != "" {
		slot.id = id
	}
	if name != "" {
		slot.name = name
	}
	slot.args.WriteString(argsFragment)
}

// startsNewCall reports whether a fragment with id and name belongs to a
// call other than s. Continuation fragments carry neither.
func (s *toolCallSlot) startsNewCall(id, name string) bool {
	if id != "" && s.id != "" {
		return id != s.id
	}
	return id == "" && name != "" && s.name != ""
}

// Len returns the number of calls seen so far.
func (b *ToolCallBuffer) Len() int {
	return len(b.slots)
}

// Started reports whether any fragment has been recorded.
func (b *ToolCallBuffer) Started() bool {
	return len(b.slots) > 0
}

// Flush parses every buffered call in index order, arrival order within an
// index, and empties the buffer.
func (b *ToolCallBuffer) Flush() ([]ToolCall, error) {
	slots := b.slots
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].index < slots[j].index })

	calls := make([]ToolCall, 0, len(slots))
	for _, slot := range slots {
		args, err := ParseArguments(slot.args.String())
		if err != nil {
			return nil, fmt.Errorf("tool call %s (%s): %w", slot.name, slot.id, err)
		}
		calls = append(calls, ToolCall{CallID: slot.id, Function: slot.name, Arguments: args})
	}
	b.slots = nil
	b.open = make(map[int]*toolCallSlot)
	return calls, nil
}

// ParseArguments decodes a JSON-encoded argument object. An empty string is
// an empty object.
func ParseArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("failed to parse tool arguments: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
