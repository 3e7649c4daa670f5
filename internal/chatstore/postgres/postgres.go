package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"github.com/askbetty/betty/internal/chatstore"
)

// Store implements chatstore.Store backed by PostgreSQL.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ chatstore.Store = (*Store)(nil)

// PoolConfig bounds the connection pool. Zero values keep database/sql defaults.
type PoolConfig struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// New opens a PostgreSQL-backed store using the provided DSN.
func New(dsn string, pool PoolConfig) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if pool.MaxOpen > 0 {
		db.SetMaxOpenConns(pool.MaxOpen)
	}
	if pool.MaxIdle > 0 {
		db.SetMaxIdleConns(pool.MaxIdle)
	}
	if pool.MaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.MaxLifetime)
	}
	if pool.MaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pool.MaxIdleTime)
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
	id UUID PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	suggestions TEXT[] NOT NULL DEFAULT '{}',
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_user_created ON conversations(user_id, created_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role TEXT NOT NULL CHECK(role IN ('user','assistant')),
	content TEXT NOT NULL,
	tokens INTEGER NOT NULL DEFAULT 0,
	processing_ms BIGINT NOT NULL DEFAULT 0,
	created_at BIGINT NOT NULL
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
VALUES($1, $2, $3, $4, $5)`, c.ID, c.UserID, c.Title, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return chatstore.Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	return c, nil
}

// GetConversation returns a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (chatstore.Conversation, error) {
	if !chatstore.ValidConversationID(id) {
		return chatstore.Conversation{}, chatstore.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `
SELECT id::text, user_id, title, summary, created_at, updated_at
FROM conversations WHERE id = $1`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chatstore.Conversation{}, chatstore.ErrNotFound
	}
	return c, err
}

// ListConversations returns every conversation of userID, newest first.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]chatstore.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id::text, user_id, title, summary, created_at, updated_at
FROM conversations
WHERE user_id = $1
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
// message, newest first. The first message is joined in the same query.
func (s *Store) RecentConversations(ctx context.Context, userID string, limit int, cursor string) (chatstore.Page, error) {
	limit = chatstore.ClampLimit(limit)
	afterMs, afterID, hasCursor, err := chatstore.DecodeCursor(cursor)
	if err != nil {
		return chatstore.Page{}, err
	}
	if hasCursor && !chatstore.ValidConversationID(afterID) {
		return chatstore.Page{}, chatstore.ErrInvalidCursor
	}

	query := `
SELECT c.id::text, c.user_id, c.title, c.summary, c.created_at, c.updated_at,
	m.id, m.role, m.content, m.tokens, m.processing_ms, m.created_at
FROM conversations c
LEFT JOIN LATERAL (
	SELECT id, role, content, tokens, processing_ms, created_at
	FROM messages
	WHERE conversation_id = c.id
	ORDER BY created_at ASC, id ASC
	LIMIT 1
) m ON TRUE
WHERE c.user_id = $1`
	args := []any{userID}
	if hasCursor {
		query += ` AND (c.created_at, c.id) < ($2, $3::uuid)`
		args = append(args, afterMs, afterID)
	}
	query += fmt.Sprintf(` ORDER BY c.created_at DESC, c.id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return chatstore.Page{}, err
	}
	defer rows.Close()

	var previews []chatstore.Preview
	for rows.Next() {
		var (
			p                   chatstore.Preview
			created, updated    int64
			mID, mRole, mText   sql.NullString
			mTokens, mProc, mAt sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &p.UserID, &p.Title, &p.Summary, &created, &updated,
			&mID, &mRole, &mText, &mTokens, &mProc, &mAt); err != nil {
			return chatstore.Page{}, err
		}
		p.CreatedAt = time.UnixMilli(created).UTC()
		p.UpdatedAt = time.UnixMilli(updated).UTC()
		if mID.Valid {
			p.FirstMessage = &chatstore.Message{
				ID:             mID.String,
				ConversationID: p.ID,
				Role:           mRole.String,
				Content:        mText.String,
				Tokens:         int(mTokens.Int64),
				ProcessingMs:   mProc.Int64,
				CreatedAt:      time.UnixMilli(mAt.Int64).UTC(),
			}
		}
		previews = append(previews, p)
	}
	if err := rows.Err(); err != nil {
		return chatstore.Page{}, err
	}

	page := chatstore.Page{Conversations: previews}
	if len(previews) > limit {
		page.Conversations = previews[:limit]
		last := page.Conversations[limit-1]
		page.NextCursor = chatstore.EncodeCursor(last.CreatedAt.UnixMilli(), last.ID)
	}
	if page.Conversations == nil {
		page.Conversations = []chatstore.Preview{}
	}
	return page, nil
}

// RenameConversation sets a new title and bumps updated_at.
func (s *Store) RenameConversation(ctx context.Context, id, title string) error {
	if !chatstore.ValidConversationID(id) {
		return chatstore.ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE conversations SET title = $1, updated_at = $2 WHERE id = $3`,
		chatstore.NormalizeTitle(title), s.now().UTC().UnixMilli(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DeleteConversation removes a conversation; messages follow via ON DELETE CASCADE.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	if !chatstore.ValidConversationID(id) {
		return chatstore.ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return requireRow(res)
}

// SaveMessage appends msg to its conversation and bumps updated_at.
func (s *Store) SaveMessage(ctx context.Context, msg chatstore.Message) (chatstore.Message, error) {
	msg, err := chatstore.Prepare(msg, s.now())
	if err != nil {
		return chatstore.Message{}, err
	}
	if !chatstore.ValidConversationID(msg.ConversationID) {
		return chatstore.Message{}, chatstore.ErrNotFound
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chatstore.Message{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = $1 WHERE id = $2`,
		msg.CreatedAt.UnixMilli(), msg.ConversationID)
	if err != nil {
		return chatstore.Message{}, fmt.Errorf("touch conversation: %w", err)
	}
	if err := requireRow(res); err != nil {
		return chatstore.Message{}, err
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO messages(id, conversation_id, role, content, tokens, processing_ms, created_at)
VALUES($1, $2, $3, $4, $5, $6, $7)`,
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
	if !chatstore.ValidConversationID(conversationID) {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, conversation_id::text, role, content, tokens, processing_ms, created_at
FROM messages
WHERE conversation_id = $1
ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chatstore.Message
	for rows.Next() {
		var m chatstore.Message
		var created int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Tokens, &m.ProcessingMs, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// SetSuggestions replaces the follow-up questions of a conversation.
func (s *Store) SetSuggestions(ctx context.Context, conversationID string, suggestions []string) error {
	if !chatstore.ValidConversationID(conversationID) {
		return chatstore.ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, `UPDATE conversations SET suggestions = $1 WHERE id = $2`,
		pq.Array(chatstore.ClampSuggestions(suggestions)), conversationID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Suggestions returns the stored follow-up questions.
func (s *Store) Suggestions(ctx context.Context, conversationID string) ([]string, error) {
	if !chatstore.ValidConversationID(conversationID) {
		return nil, chatstore.ErrNotFound
	}
	var out []string
	err := s.db.QueryRowContext(ctx, `SELECT suggestions FROM conversations WHERE id = $1`, conversationID).
		Scan(pq.Array(&out))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, chatstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func scanConversation(row interface{ Scan(...any) error }) (chatstore.Conversation, error) {
	var c chatstore.Conversation
	var created, updated int64
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.Summary, &created, &updated); err != nil {
		return chatstore.Conversation{}, err
	}
	c.CreatedAt = time.UnixMilli(created).UTC()
	c.UpdatedAt = time.UnixMilli(updated).UTC()
	return c, nil
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
