package mcpbridge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaharia-lab/mcpbridge/observability"
)

// SQLiteChatHistoryStorage stores conversations in SQLite. The caller opens
// the *sql.DB, typically with the "sqlite3" driver from mattn/go-sqlite3.
type SQLiteChatHistoryStorage struct {
	db     *sql.DB
	mu     sync.RWMutex
	logger observability.Logger
}

var _ ChatHistoryStorage = (*SQLiteChatHistoryStorage)(nil)

// NewSQLiteChatHistoryStorage creates the schema, or upgrades an older one,
// and returns the storage.
func NewSQLiteChatHistoryStorage(ctx context.Context, db *sql.DB, logger observability.Logger) (*SQLiteChatHistoryStorage, error) {
	if logger == nil {
		logger = observability.NewNullLogger()
	}
	storage := &SQLiteChatHistoryStorage{
		db:     db,
		logger: logger,
	}

	if err := storage.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return storage, nil
}

const (
	createChatsTableSQL = `
	CREATE TABLE IF NOT EXISTS chats (
		uuid TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		metadata TEXT DEFAULT '{}'
	);`

	createMessagesTableSQL = `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_uuid TEXT NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		generated_at DATETIME NOT NULL,
		input_token INTEGER DEFAULT 0,
		output_token INTEGER DEFAULT 0,
		metadata TEXT DEFAULT '{}',
		FOREIGN KEY (chat_uuid) REFERENCES chats(uuid) ON DELETE CASCADE
	);`

	createMessagesIndexSQL = `CREATE INDEX IF NOT EXISTS idx_messages_chat_uuid ON messages (chat_uuid);`
)

// migrations add columns missing from databases created by older releases.
var migrations = []struct {
	table, column, ddl string
}{
	{"chats", "metadata", `ALTER TABLE chats ADD COLUMN metadata TEXT DEFAULT '{}';`},
	{"messages", "input_token", `ALTER TABLE messages ADD COLUMN input_token INTEGER DEFAULT 0;`},
	{"messages", "output_token", `ALTER TABLE messages ADD COLUMN output_token INTEGER DEFAULT 0;`},
	{"messages", "metadata", `ALTER TABLE messages ADD COLUMN metadata TEXT DEFAULT '{}';`},
}

func (s *SQLiteChatHistoryStorage) initSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for schema init: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{createChatsTableSQL, createMessagesTableSQL, createMessagesIndexSQL} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	for _, m := range migrations {
		var present int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&present)
		if err != nil {
			return fmt.Errorf("failed to inspect table %s: %w", m.table, err)
		}
		if present > 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.ddl); err != nil {
			return fmt.Errorf("failed to add column %s.%s: %w", m.table, m.column, err)
		}
		s.logger.Infof("migrated chat history schema: added %s.%s", m.table, m.column)
	}

	return tx.Commit()
}

func (s *SQLiteChatHistoryStorage) CreateChat(ctx context.Context) (*ChatHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat := &ChatHistory{
		SessionID: uuid.New().String(),
		Messages:  []ChatHistoryMessage{},
		CreatedAt: time.Now().UTC(),
		Metadata:  make(map[string]interface{}),
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO chats (uuid, created_at, metadata) VALUES (?, ?, ?)`,
		chat.SessionID, chat.CreatedAt, "{}")
	if err != nil {
		return nil, fmt.Errorf("failed to insert new chat (uuid: %s): %w", chat.SessionID, err)
	}
	return chat, nil
}

func (s *SQLiteChatHistoryStorage) chatExists(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}, sessionID string) error {
	var exists int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM chats WHERE uuid = ?`, sessionID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check chat existence: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrChatNotFound, sessionID)
	}
	return nil
}

func (s *SQLiteChatHistoryStorage) AddMessage(ctx context.Context, sessionID string, message ChatHistoryMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for adding message: %w", err)
	}
	defer tx.Rollback()

	if err := s.chatExists(ctx, tx, sessionID); err != nil {
		return err
	}

	if message.Metadata == nil {
		message.Metadata = make(map[string]interface{})
	}
	metadataJSON, err := json.Marshal(message.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal message metadata: %w", err)
	}
	if message.GeneratedAt.IsZero() {
		message.GeneratedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO messages (chat_uuid, role, text, generated_at, input_token, output_token, metadata)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID,
		string(message.Role),
		message.Text,
		message.GeneratedAt,
		message.InputToken,
		message.OutputToken,
		string(metadataJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return tx.Commit()
}

func decodeMetadata(raw string) (map[string]interface{}, error) {
	meta := make(map[string]interface{})
	if raw == "" || raw == "{}" {
		return meta, nil
	}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, err
	}
	return meta, nil
}

func (s *SQLiteChatHistoryStorage) GetChat(ctx context.Context, sessionID string) (*ChatHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var chat ChatHistory
	var metadataJSON string
	err := s.db.QueryRowContext(ctx, `SELECT uuid, created_at, metadata FROM chats WHERE uuid = ?`, sessionID).
		Scan(&chat.SessionID, &chat.CreatedAt, &metadataJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrChatNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to query chat: %w", err)
	}
	if chat.Metadata, err = decodeMetadata(metadataJSON); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chat metadata: %w", err)
	}

	chat.Messages, err = s.queryMessages(ctx, `
	SELECT role, text, generated_at, input_token, output_token, metadata
	FROM messages
	WHERE chat_uuid = ?
	ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// RecentMessages selects the newest n rows and returns them oldest first.
func (s *SQLiteChatHistoryStorage) RecentMessages(ctx context.Context, sessionID string, n int) ([]ChatHistoryMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.chatExists(ctx, s.db, sessionID); err != nil {
		return nil, err
	}
	if n <= 0 {
		return []ChatHistoryMessage{}, nil
	}

	return s.queryMessages(ctx, `
	SELECT role, text, generated_at, input_token, output_token, metadata FROM (
		SELECT id, role, text, generated_at, input_token, output_token, metadata
		FROM messages
		WHERE chat_uuid = ?
		ORDER BY id DESC
		LIMIT ?
	) ORDER BY id ASC`, sessionID, n)
}

func (s *SQLiteChatHistoryStorage) queryMessages(ctx context.Context, query string, args ...interface{}) ([]ChatHistoryMessage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []ChatHistoryMessage{}
	for rows.Next() {
		var message ChatHistoryMessage
		var role, metadataJSON string
		if err := rows.Scan(&role, &message.Text, &message.GeneratedAt, &message.InputToken, &message.OutputToken, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		message.Role = LLMMessageRole(role)
		if message.Metadata, err = decodeMetadata(metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message metadata: %w", err)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

func (s *SQLiteChatHistoryStorage) ListChatHistories(ctx context.Context) ([]ChatHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT uuid, created_at, metadata FROM chats ORDER BY created_at DESC, uuid ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	chats := []ChatHistory{}
	for rows.Next() {
		var chat ChatHistory
		var metadataJSON string
		if err := rows.Scan(&chat.SessionID, &chat.CreatedAt, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		if chat.Metadata, err = decodeMetadata(metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to unmarshal chat metadata: %w", err)
		}
		chat.Messages = []ChatHistoryMessage{}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat rows: %w", err)
	}
	return chats, nil
}

// DeleteChat removes the chat and its messages. Foreign keys are off by
// default in SQLite, so messages are deleted explicitly.
func (s *SQLiteChatHistoryStorage) DeleteChat(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for deleting chat: %w", err)
	}
	defer tx.Rollback()

	if err := s.chatExists(ctx, tx, sessionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_uuid = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE uuid = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteChatHistoryStorage) Close() error {
	return s.db.Close()
}
