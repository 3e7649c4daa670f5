// Package chatstore persists conversations and their messages.
package chatstore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// DefaultTitle names a conversation before a title is generated.
const DefaultTitle = "New Conversation"

// MaxSuggestions caps the follow-up questions kept per conversation.
const MaxSuggestions = 4

var (
	// ErrNotFound is returned when a conversation does not exist.
	ErrNotFound = errors.New("chatstore: not found")
	// ErrInvalidRole is returned for messages that are not user or assistant.
	ErrInvalidRole = errors.New("chatstore: invalid role")
	// ErrInvalidCursor is returned for a cursor not produced by this package.
	ErrInvalidCursor = errors.New("chatstore: invalid cursor")
)

// Conversation is one chat thread owned by a user.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one transcript entry. Tokens and ProcessingMs are set for
// assistant replies.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	Tokens         int       `json:"tokens,omitempty"`
	ProcessingMs   int64     `json:"processing_ms,omitempty"`
}

// Preview pairs a conversation with its opening message.
type Preview struct {
	Conversation
	FirstMessage *Message `json:"first_message,omitempty"`
}

// Page is one page of recent conversations, newest first. NextCursor is
// empty on the last page.
type Page struct {
	Conversations []Preview `json:"conversations"`
	NextCursor    string    `json:"next_cursor,omitempty"`
}

// Store defines persistence for conversations.
type Store interface {
	CreateConversation(ctx context.Context, userID, title string) (Conversation, error)
	GetConversation(ctx context.Context, id string) (Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]Conversation, error)
	RecentConversations(ctx context.Context, userID string, limit int, cursor string) (Page, error)
	RenameConversation(ctx context.Context, id, title string) error
	DeleteConversation(ctx context.Context, id string) error
	SaveMessage(ctx context.Context, msg Message) (Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
	SetSuggestions(ctx context.Context, conversationID string, suggestions []string) error
	Suggestions(ctx context.Context, conversationID string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// NewConversationID returns a random conversation id.
func NewConversationID() string { return uuid.NewString() }

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewMessageID returns a sortable message id for t. Ids made within the
// same millisecond still increase.
func NewMessageID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// ValidConversationID reports whether id can name a conversation.
func ValidConversationID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Prepare validates msg and fills its id and timestamp.
func Prepare(msg Message, now time.Time) (Message, error) {
	if msg.Role != "user" && msg.Role != "assistant" {
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidRole, msg.Role)
	}
	if msg.ConversationID == "" {
		return Message{}, errors.New("chatstore: message requires conversation id")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.CreatedAt = msg.CreatedAt.UTC().Truncate(time.Millisecond)
	if msg.ID == "" {
		msg.ID = NewMessageID(msg.CreatedAt)
	}
	return msg, nil
}

// NormalizeTitle trims title and falls back to DefaultTitle.
func NormalizeTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return DefaultTitle
	}
	return title
}

// ClampSuggestions drops blank entries and keeps at most MaxSuggestions.
func ClampSuggestions(in []string) []string {
	out := make([]string, 0, MaxSuggestions)
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == MaxSuggestions {
			break
		}
	}
	return out
}

// ClampLimit bounds a page size.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 20
	case limit > 100:
		return 100
	default:
		return limit
	}
}

// EncodeCursor builds the cursor that resumes after the conversation
// created at createdMs with the given id.
func EncodeCursor(createdMs int64, id string) string {
	raw := strconv.FormatInt(createdMs, 10) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a cursor from EncodeCursor. An empty cursor starts
// from the newest conversation and reports ok=false.
func DecodeCursor(cursor string) (createdMs int64, id string, ok bool, err error) {
	if cursor == "" {
		return 0, "", false, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, "", false, ErrInvalidCursor
	}
	ms, rest, found := strings.Cut(string(raw), "|")
	if !found || rest == "" {
		return 0, "", false, ErrInvalidCursor
	}
	createdMs, err = strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return 0, "", false, ErrInvalidCursor
	}
	return createdMs, rest, true, nil
}
