// Package savedchat persists conversations as titled, timestamp-keyed records.
package savedchat

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/aschepis/backscratcher/polychat/llm"
)

const (
	FilePrefix = "chat_"
	FileSuffix = ".json"
	// TimeFormat is the fixed-format timestamp used in filenames and records.
	TimeFormat = "2006-01-02-15-04-05"
	// MaxTitleWords bounds a derived title.
	MaxTitleWords = 8
	// UntitledTitle is used when the first message has no content.
	UntitledTitle = "untitled"
	// TruncatedMarker is appended to titles cut at MaxTitleWords.
	TruncatedMarker = "..."
)

// SavedChat is a conversation plus the metadata needed to store and list it.
type SavedChat struct {
	Title     string
	StartTime time.Time
	Messages  *llm.Conversation
	Metadata  map[string]any
}

// New creates a SavedChat, deriving the title from the conversation when
// title is empty. The start time is kept at second precision in the local
// zone, the form Filename encodes.
func New(conv *llm.Conversation, startTime time.Time, title string, metadata map[string]any) *SavedChat {
	if title == "" {
		title = DeriveTitle(conv)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &SavedChat{
		Title:     title,
		StartTime: startTime.Truncate(time.Second).Local(),
		Messages:  conv,
		Metadata:  metadata,
	}
}

// Handle returns the record's storage key.
func (c *SavedChat) Handle() string {
	return Filename(c.Title, c.StartTime)
}

// Summary describes a stored chat without loading its messages.
type Summary struct {
	Handle    string
	Title     string
	StartTime time.Time
}

// Store persists saved chats. Every failure is a *llm.PersistenceError.
type Store interface {
	// Save writes chat and returns its handle.
	Save(ctx context.Context, chat *SavedChat) (string, error)
	// Load reads the chat stored under handle.
	Load(ctx context.Context, handle string) (*SavedChat, error)
	// List returns every stored chat, newest first.
	List(ctx context.Context) ([]Summary, error)
	// Delete removes the chat stored under handle.
	Delete(ctx context.Context, handle string) error
}

// Filename encodes a title and start time as chat_<title>_<timestamp>.json,
// with spaces in the title written as underscores. The timestamp is written
// in the local zone.
func Filename(title string, startTime time.Time) string {
	return FilePrefix + strings.ReplaceAll(title, " ", "_") + "_" + startTime.Local().Format(TimeFormat) + FileSuffix
}

// ParseFilename inverts Filename. The timestamp is read in the local zone.
func ParseFilename(name string) (string, time.Time, error) {
	if !strings.HasPrefix(name, FilePrefix) || !strings.HasSuffix(name, FileSuffix) {
		return "", time.Time{}, fmt.Errorf("not a saved chat filename: %q", name)
	}
	stripped := strings.TrimSuffix(strings.TrimPrefix(name, FilePrefix), FileSuffix)

	sep := strings.LastIndex(stripped, "_")
	if sep < 0 {
		return "", time.Time{}, fmt.Errorf("missing timestamp in %q", name)
	}
	startTime, err := time.ParseInLocation(TimeFormat, stripped[sep+1:], time.Local)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("invalid timestamp in %q: %w", name, err)
	}
	return strings.ReplaceAll(stripped[:sep], "_", " "), startTime, nil
}

// DeriveTitle builds a title from the first non-system message: at most
// MaxTitleWords words with everything but letters, digits and spaces removed,
// followed by TruncatedMarker when words were dropped.
func DeriveTitle(conv *llm.Conversation) string {
	var content string
	for _, m := range conv.Messages() {
		if m.Role != llm.RoleSystem {
			content = m.Text()
			break
		}
	}
	if content == "" {
		return UntitledTitle
	}

	words := strings.Split(content, " ")
	truncated := len(words) > MaxTitleWords
	if truncated {
		words = words[:MaxTitleWords]
	}
	title := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' {
			return r
		}
		return -1
	}, strings.Join(words, " "))

	if strings.TrimSpace(title) == "" {
		return UntitledTitle
	}
	if truncated {
		title += TruncatedMarker
	}
	return title
}
