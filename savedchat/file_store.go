package savedchat

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aschepis/backscratcher/polychat/llm"
	"github.com/rs/zerolog"
)

// record is the on-disk document.
type record struct {
	StartTime string            `json:"start_time"`
	Messages  *llm.Conversation `json:"messages"`
	Metadata  map[string]any    `json:"metadata"`
}

// FileStore keeps one JSON file per chat in a directory.
type FileStore struct {
	dir    string
	logger zerolog.Logger
}

// NewFileStore creates a FileStore rooted at dir. The directory is created
// on first save.
func NewFileStore(dir string, logger zerolog.Logger) *FileStore {
	return &FileStore{
		dir:    dir,
		logger: logger.With().Str("component", "savedchat_store").Logger(),
	}
}

// Dir returns the directory holding the chats.
func (s *FileStore) Dir() string {
	return s.dir
}

// Save implements Store.Save.
func (s *FileStore) Save(ctx context.Context, chat *SavedChat) (string, error) {
	handle := chat.Handle()
	if err := ctx.Err(); err != nil {
		return "", &llm.PersistenceError{Op: "save", Handle: handle, Err: err}
	}
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return "", &llm.PersistenceError{Op: "save", Handle: handle, Err: fmt.Errorf("create directory: %w", err)}
	}

	metadata := chat.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	data, err := json.MarshalIndent(record{
		StartTime: chat.StartTime.Format(TimeFormat),
		Messages:  chat.Messages,
		Metadata:  metadata,
	}, "", "    ")
	if err != nil {
		return "", &llm.PersistenceError{Op: "save", Handle: handle, Err: fmt.Errorf("encode chat: %w", err)}
	}

	if err := os.WriteFile(filepath.Join(s.dir, handle), data, 0o600); err != nil {
		return "", &llm.PersistenceError{Op: "save", Handle: handle, Err: err}
	}
	s.logger.Info().Str("handle", handle).Int("messages", chat.Messages.Len()).Msg("Saved chat")
	return handle, nil
}

// Load implements Store.Load.
func (s *FileStore) Load(ctx context.Context, handle string) (*SavedChat, error) {
	if err := ctx.Err(); err != nil {
		return nil, &llm.PersistenceError{Op: "load", Handle: handle, Err: err}
	}
	if filepath.Base(handle) != handle {
		return nil, &llm.PersistenceError{Op: "load", Handle: handle, Err: fmt.Errorf("handle must be a bare filename")}
	}
	title, startTime, err := ParseFilename(handle)
	if err != nil {
		return nil, &llm.PersistenceError{Op: "load", Handle: handle, Err: err}
	}

	data, err := os.ReadFile(filepath.Join(s.dir, handle))
	if err != nil {
		return nil, &llm.PersistenceError{Op: "load", Handle: handle, Err: err}
	}
	rec := record{Messages: llm.NewConversation()}
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, &llm.PersistenceError{Op: "load", Handle: handle, Err: fmt.Errorf("decode chat: %w", err)}
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}

	s.logger.Debug().Str("handle", handle).Int("messages", rec.Messages.Len()).Msg("Loaded chat")
	return &SavedChat{
		Title:     title,
		StartTime: startTime,
		Messages:  rec.Messages,
		Metadata:  rec.Metadata,
	}, nil
}

// Delete implements Store.Delete.
func (s *FileStore) Delete(ctx context.Context, handle string) error {
	if err := ctx.Err(); err != nil {
		return &llm.PersistenceError{Op: "delete", Handle: handle, Err: err}
	}
	if filepath.Base(handle) != handle {
		return &llm.PersistenceError{Op: "delete", Handle: handle, Err: fmt.Errorf("handle must be a bare filename")}
	}
	if _, _, err := ParseFilename(handle); err != nil {
		return &llm.PersistenceError{Op: "delete", Handle: handle, Err: err}
	}
	if err := os.Remove(filepath.Join(s.dir, handle)); err != nil {
		return &llm.PersistenceError{Op: "delete", Handle: handle, Err: err}
	}
	s.logger.Info().Str("handle", handle).Msg("Deleted chat")
	return nil
}

// List implements Store.List. Files that do not parse as chat filenames are
// ignored.
func (s *FileStore) List(ctx context.Context) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, &llm.PersistenceError{Op: "list", Err: err}
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &llm.PersistenceError{Op: "list", Err: err}
	}

	var summaries []Summary
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), FileSuffix) {
			continue
		}
		title, startTime, err := ParseFilename(entry.Name())
		if err != nil {
			s.logger.Debug().Str("file", entry.Name()).Err(err).Msg("Skipping unrecognised file")
			continue
		}
		summaries = append(summaries, Summary{Handle: entry.Name(), Title: title, StartTime: startTime})
	}
	SortNewestFirst(summaries)
	return summaries, nil
}

// SortNewestFirst orders summaries by start time, newest first, breaking ties
// by handle.
func SortNewestFirst(summaries []Summary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		if !summaries[i].StartTime.Equal(summaries[j].StartTime) {
			return summaries[i].StartTime.After(summaries[j].StartTime)
		}
		return summaries[i].Handle < summaries[j].Handle
	})
}

var _ Store = (*FileStore)(nil)
