package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/askbetty/betty/internal/chatstore"
)

// Store implements chatstore.Store backed by SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ chatstore.Store = (*Store)(nil)

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	suggestions TEXT NOT NULL DEFAULT '[]',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_user_created ON conversations(user_id, created_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role TEXT NOT NULL CHECK(role IN ('user','assistant')),
	content TEXT NOT NULL,
	tokens INTEGER NOT NULL DEFAULT 0,
	processing_ms INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at, id);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateConversation inserts a conversation for userID.
func (s *Store) CreateConversation(ctx context.Context, userID, title string) (chatstore.Conversation, error) {
	if userID == "" {
		return chatstore.Conversation{}, errors.New("conversation requires user id")
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	c := chatstore.Conversation{
		ID:        chatstore.NewConversationID(),
		UserID:    userID,
		Title:     chatstore.NormalizeTitle(title),
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO conversations(id, user_id, title, created_at, updated_at)
VALUES(?, ?, ?, ?, ?)`, c.ID, c.UserID, c.Title, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return chatstore.Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	return c, nil
}

// GetConversation returns a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (chatstore.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, user_id, title, summary, created_at, updated_at
FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chatstore.Conversation{}, chatstore.ErrNotFound
	}
	return c, err
}

// ListConversations returns every conversation of userID, newest first.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]chatstore.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, title, summary, created_at, updated_at
FROM conversations
WHERE user_id = ?
ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chatstore.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecentConversations returns one page of conversations with their first
// message, newest first.
func (s *Store) RecentConversations(ctx context.Context, userID string, limit int, cursor string) (chatstore.Page, error) {
	limit = chatstore.ClampLimit(limit)
	afterMs, afterID, hasCursor, err := chatstore.DecodeCursor(cursor)
	if err != nil {
		return chatstore.Page{}, err
	}

	query := `
SELECT id, user_id, title, summary, created_at, updated_at
FROM conversations
WHERE user_id = ?`
	args := []any{userID}
	if hasCursor {
		query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, afterMs, afterMs, afterID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return chatstore.Page{}, err
	}
	var convs []chatstore.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			rows.Close()
			return chatstore.Page{}, err
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return chatstore.Page{}, err
	}
	rows.Close()

	page := chatstore.Page{Conversations: make([]chatstore.Preview, 0, len(convs))}
	if len(convs) > limit {
		convs = convs[:limit]
		last := convs[len(convs)-1]
		page.NextCursor = chatstore.EncodeCursor(last.CreatedAt.UnixMilli(), last.ID)
	}
	for _, c := range convs {
		first, err := s.firstMessage(ctx, c.ID)
		if err != nil {
			return chatstore.Page{}, err
		}
		page.Conversations = append(page.Conversations, chatstore.Preview{Conversation: c, FirstMessage: first})
	}
	return page, nil
}

func (s *Store) firstMessage(ctx context.Context, conversationID string) (*chatstore.Message, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, conversation_id, role, content, tokens, processing_ms, created_at
FROM messages
WHERE conversation_id = ?
ORDER BY created_at ASC, id ASC
LIMIT 1`, conversationID)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// RenameConversation sets a new title and bumps updated_at.
func (s *Store) RenameConversation(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`,
		chatstore.NormalizeTitle(title), s.now().UTC().UnixMilli(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DeleteConversation removes a conversation and all of its messages.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveMessage appends msg to its conversation and bumps updated_at.
func (s *Store) SaveMessage(ctx context.Context, msg chatstore.Message) (chatstore.Message, error) {
	msg, err := chatstore.Prepare(msg, s.now())
	if err != nil {
		return chatstore.Message{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chatstore.Message{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`,
		msg.CreatedAt.UnixMilli(), msg.ConversationID)
	if err != nil {
		return chatstore.Message{}, fmt.Errorf("touch conversation: %w", err)
	}
	if err := requireRow(res); err != nil {
		return chatstore.Message{}, err
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO messages(id, conversation_id, role, content, tokens, processing_ms, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.Tokens, msg.ProcessingMs, msg.CreatedAt.UnixMilli()); err != nil {
		return chatstore.Message{}, fmt.Errorf("insert message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return chatstore.Message{}, err
	}
	return msg, nil
}

// ListMessages returns the transcript of a conversation in insertion order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]chatstore.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, conversation_id, role, content, tokens, processing_ms, created_at
FROM messages
WHERE conversation_id = ?
ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chatstore.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SetSuggestions replaces the follow-up questions of a conversation.
func (s *Store) SetSuggestions(ctx context.Context, conversationID string, suggestions []string) error {
	data, err := json.Marshal(chatstore.ClampSuggestions(suggestions))
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE conversations SET suggestions = ? WHERE id = ?`, string(data), conversationID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Suggestions returns the stored follow-up questions.
func (s *Store) Suggestions(ctx context.Context, conversationID string) ([]string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT suggestions FROM conversations WHERE id = ?`, conversationID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, chatstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	out := []string{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode suggestions: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (chatstore.Conversation, error) {
	var c chatstore.Conversation
	var created, updated int64
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.Summary, &created, &updated); err != nil {
		return chatstore.Conversation{}, err
	}
	c.CreatedAt = time.UnixMilli(created).UTC()
	c.UpdatedAt = time.UnixMilli(updated).UTC()
	return c, nil
}

func scanMessage(row scanner) (chatstore.Message, error) {
	var m chatstore.Message
	var created int64
	if err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Tokens, &m.ProcessingMs, &created); err != nil {
		return chatstore.Message{}, err
	}
	m.CreatedAt = time.UnixMilli(created).UTC()
	return m, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return chatstore.ErrNotFound
	}
	return nil
}
