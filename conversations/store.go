// Package conversations archives saved chats in SQLite.
package conversations

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/aschepis/backscratcher/polychat/llm"
	"github.com/aschepis/backscratcher/polychat/migrations"
	"github.com/aschepis/backscratcher/polychat/savedchat"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Store keeps saved chats in SQLite. A chat row is keyed by the same handle
// the file store uses, and its messages are stored as ordered rows.
// It implements savedchat.Store.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// Open opens (creating if needed) the database at path and applies the
// embedded migrations.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrations.RunMigrations(db, logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewStore(db, logger), nil
}

// NewStore wraps an already migrated database.
func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "conversation_store").Logger(),
		now:    time.Now,
	}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save implements savedchat.Store.Save. Saving an existing handle replaces
// its messages.
func (s *Store) Save(ctx context.Context, chat *savedchat.SavedChat) (string, error) {
	handle := chat.Handle()
	if err := s.save(ctx, handle, chat); err != nil {
		return "", &llm.PersistenceError{Op: "save", Handle: handle, Err: err}
	}
	s.logger.Info().Str("handle", handle).Int("messages", chat.Messages.Len()).Msg("Saved chat")
	return handle, nil
}

func (s *Store) save(ctx context.Context, handle string, chat *savedchat.SavedChat) (err error) {
	metadata := chat.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	upsert := sq.Insert("chats").
		Columns("handle", "title", "start_time", "metadata", "updated_at").
		Values(handle, chat.Title, chat.StartTime.Unix(), string(metadataJSON), s.now().Unix()).
		Suffix("ON CONFLICT(handle) DO UPDATE SET title = excluded.title, metadata = excluded.metadata, updated_at = excluded.updated_at")
	if _, err = upsert.RunWith(tx).ExecContext(ctx); err != nil {
		return fmt.Errorf("upsert chat: %w", err)
	}

	if _, err = sq.Delete("chat_messages").Where(sq.Eq{"chat_handle": handle}).RunWith(tx).ExecContext(ctx); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}

	for i, m := range chat.Messages.Messages() {
		var toolCalls any
		if m.HasToolCalls() {
			raw, marshalErr := json.Marshal(m.ToolCalls)
			if marshalErr != nil {
				err = fmt.Errorf("marshal tool calls: %w", marshalErr)
				return err
			}
			toolCalls = string(raw)
		}
		insert := sq.Insert("chat_messages").
			Columns("chat_handle", "position", "role", "content", "tool_calls", "model").
			Values(handle, i, string(m.Role), m.Content, toolCalls, m.Model)
		if _, err = insert.RunWith(tx).ExecContext(ctx); err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Load implements savedchat.Store.Load.
func (s *Store) Load(ctx context.Context, handle string) (*savedchat.SavedChat, error) {
	chat, err := s.load(ctx, handle)
	if err != nil {
		return nil, &llm.PersistenceError{Op: "load", Handle: handle, Err: err}
	}
	return chat, nil
}

func (s *Store) load(ctx context.Context, handle string) (*savedchat.SavedChat, error) {
	var (
		title        string
		startUnix    int64
		metadataJSON string
	)
	err := sq.Select("title", "start_time", "metadata").
		From("chats").
		Where(sq.Eq{"handle": handle}).
		RunWith(s.db).
		QueryRowContext(ctx).
		Scan(&title, &startUnix, &metadataJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chat not found")
	}
	if err != nil {
		return nil, fmt.Errorf("query chat: %w", err)
	}

	metadata := map[string]any{}
	if err := json.Unmarshal([]byte(metadataJSON), &metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}

	rows, err := sq.Select("role", "content", "tool_calls", "model").
		From("chat_messages").
		Where(sq.Eq{"chat_handle": handle}).
		OrderBy("position ASC").
		RunWith(s.db).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Rows close error can be ignored

	conv := llm.NewConversation()
	for rows.Next() {
		var (
			role      string
			content   sql.NullString
			toolCalls sql.NullString
			model     sql.NullString
		)
		if err := rows.Scan(&role, &content, &toolCalls, &model); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}

		var calls []llm.ToolCall
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &calls); err != nil {
				return nil, fmt.Errorf("unmarshal tool calls: %w", err)
			}
		}
		if err := conv.Append(llm.Role(role), nullable(content), calls, nullable(model)); err != nil {
			return nil, fmt.Errorf("rebuild message %d: %w", conv.Len(), err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return &savedchat.SavedChat{
		Title:     title,
		StartTime: time.Unix(startUnix, 0),
		Messages:  conv,
		Metadata:  metadata,
	}, nil
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return llm.String(s.String)
}

// List implements savedchat.Store.List.
func (s *Store) List(ctx context.Context) ([]savedchat.Summary, error) {
	rows, err := sq.Select("handle", "title", "start_time").
		From("chats").
		OrderBy("start_time DESC", "handle ASC").
		RunWith(s.db).
		QueryContext(ctx)
	if err != nil {
		return nil, &llm.PersistenceError{Op: "list", Err: err}
	}
	defer rows.Close() //nolint:errcheck // Rows close error can be ignored

	var summaries []savedchat.Summary
	for rows.Next() {
		var (
			summary   savedchat.Summary
			startUnix int64
		)
		if err := rows.Scan(&summary.Handle, &summary.Title, &startUnix); err != nil {
			return nil, &llm.PersistenceError{Op: "list", Err: err}
		}
		summary.StartTime = time.Unix(startUnix, 0)
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, &llm.PersistenceError{Op: "list", Err: err}
	}
	return summaries, nil
}

// Delete removes a chat and its messages.
func (s *Store) Delete(ctx context.Context, handle string) error {
	if _, err := sq.Delete("chat_messages").Where(sq.Eq{"chat_handle": handle}).RunWith(s.db).ExecContext(ctx); err != nil {
		return &llm.PersistenceError{Op: "delete", Handle: handle, Err: err}
	}
	res, err := sq.Delete("chats").Where(sq.Eq{"handle": handle}).RunWith(s.db).ExecContext(ctx)
	if err != nil {
		return &llm.PersistenceError{Op: "delete", Handle: handle, Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &llm.PersistenceError{Op: "delete", Handle: handle, Err: fmt.Errorf("chat not found")}
	}
	s.logger.Info().Str("handle", handle).Msg("Deleted chat")
	return nil
}

var _ savedchat.Store = (*Store)(nil)
