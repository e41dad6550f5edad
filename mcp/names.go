package mcp

import (
	"regexp"
	"sync"
)

// maxToolNameLen is the longest tool name every provider accepts.
const maxToolNameLen = 64

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// ToSafeName converts an MCP tool name to one every provider accepts:
// characters outside [a-zA-Z0-9_-] become underscores and the result is
// capped at 64 characters.
// Example: "gmail.messages.list" -> "gmail_messages_list"
func ToSafeName(original string) string {
	safe := unsafeChars.ReplaceAllString(original, "_")
	if len(safe) > maxToolNameLen {
		safe = safe[:maxToolNameLen]
	}
	return safe
}

// NameAdapter keeps the bidirectional mapping between original MCP tool
// names and the safe names advertised to models.
type NameAdapter struct {
	mu             sync.Mutex
	safeToOriginal map[string]string
	originalToSafe map[string]string
}

// NewNameAdapter creates a new name adapter.
func NewNameAdapter() *NameAdapter {
	return &NameAdapter{
		safeToOriginal: make(map[string]string),
		originalToSafe: make(map[string]string),
	}
}

// ToOriginalName converts a safe name back to the original MCP tool name.
func (a *NameAdapter) ToOriginalName(safe string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	original, ok := a.safeToOriginal[safe]
	return original, ok
}

// SafeName returns the safe name for a tool of server, creating the mapping
// if needed. When two originals collapse to the same safe name the later one
// is prefixed with the server name.
func (a *NameAdapter) SafeName(server, original string) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := server + "/" + original
	if safe, ok := a.originalToSafe[key]; ok {
		return safe
	}
	safe := ToSafeName(original)
	if _, taken := a.safeToOriginal[safe]; taken {
		safe = ToSafeName(server + "_" + original)
	}
	a.originalToSafe[key] = safe
	a.safeToOriginal[safe] = original
	return safe
}
