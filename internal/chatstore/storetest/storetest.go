// Package storetest holds behaviour checks shared by every chatstore backend.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askbetty/betty/internal/chatstore"
)

// Run exercises a fresh store returned by open for each subtest.
func Run(t *testing.T, open func(t *testing.T) chatstore.Store) {
	t.Run("conversation lifecycle", func(t *testing.T) { testLifecycle(t, open(t)) })
	t.Run("messages", func(t *testing.T) { testMessages(t, open(t)) })
	t.Run("recent pagination", func(t *testing.T) { testRecent(t, open(t)) })
	t.Run("delete cascades", func(t *testing.T) { testDelete(t, open(t)) })
	t.Run("suggestions", func(t *testing.T) { testSuggestions(t, open(t)) })
	t.Run("not found", func(t *testing.T) { testNotFound(t, open(t)) })
}

func testLifecycle(t *testing.T, s chatstore.Store) {
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	c, err := s.CreateConversation(ctx, "user-1", "  ")
	require.NoError(t, err)
	assert.Equal(t, chatstore.DefaultTitle, c.Title)
	assert.True(t, chatstore.ValidConversationID(c.ID))

	got, err := s.GetConversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, c.CreatedAt.UnixMilli(), got.CreatedAt.UnixMilli())

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.RenameConversation(ctx, c.ID, "Toddler language milestones"))
	got, err = s.GetConversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Toddler language milestones", got.Title)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt), "rename must bump updated_at")

	_, err = s.CreateConversation(ctx, "", "x")
	assert.Error(t, err)
}

func testMessages(t *testing.T, s chatstore.Store) {
	ctx := context.Background()
	c, err := s.CreateConversation(ctx, "user-1", "Observations")
	require.NoError(t, err)

	user, err := s.SaveMessage(ctx, chatstore.Message{ConversationID: c.ID, Role: "user", Content: "Help me write an observation"})
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)

	reply, err := s.SaveMessage(ctx, chatstore.Message{
		ConversationID: c.ID, Role: "assistant", Content: "Here is a draft.", Tokens: 5, ProcessingMs: 1200,
	})
	require.NoError(t, err)

	_, err = s.SaveMessage(ctx, chatstore.Message{ConversationID: c.ID, Role: "system", Content: "x"})
	assert.ErrorIs(t, err, chatstore.ErrInvalidRole)

	msgs, err := s.ListMessages(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, user.ID, msgs[0].ID)
	assert.Equal(t, reply.ID, msgs[1].ID)
	assert.Equal(t, 5, msgs[1].Tokens)
	assert.Equal(t, int64(1200), msgs[1].ProcessingMs)

	got, err := s.GetConversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, reply.CreatedAt.UnixMilli(), got.UpdatedAt.UnixMilli())
}

func testRecent(t *testing.T, s chatstore.Store) {
	ctx := context.Background()
	var ids []string
	for i := 0; i < 5; i++ {
		c, err := s.CreateConversation(ctx, "user-1", "")
		require.NoError(t, err)
		_, err = s.SaveMessage(ctx, chatstore.Message{ConversationID: c.ID, Role: "user", Content: "first " + c.ID})
		require.NoError(t, err)
		_, err = s.SaveMessage(ctx, chatstore.Message{ConversationID: c.ID, Role: "assistant", Content: "second"})
		require.NoError(t, err)
		ids = append(ids, c.ID)
		time.Sleep(2 * time.Millisecond)
	}
	_, err := s.CreateConversation(ctx, "user-2", "other user")
	require.NoError(t, err)

	var seen []string
	cursor := ""
	for pages := 0; pages < 5; pages++ {
		page, err := s.RecentConversations(ctx, "user-1", 2, cursor)
		require.NoError(t, err)
		for _, p := range page.Conversations {
			require.NotNil(t, p.FirstMessage)
			assert.Equal(t, "first "+p.ID, p.FirstMessage.Content)
			seen = append(seen, p.ID)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	want := []string{ids[4], ids[3], ids[2], ids[1], ids[0]}
	assert.Equal(t, want, seen)

	all, err := s.ListConversations(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, all, 5)

	_, err = s.RecentConversations(ctx, "user-1", 2, "not-a-cursor")
	assert.ErrorIs(t, err, chatstore.ErrInvalidCursor)
}

func testDelete(t *testing.T, s chatstore.Store) {
	ctx := context.Background()
	c, err := s.CreateConversation(ctx, "user-1", "to delete")
	require.NoError(t, err)
	_, err = s.SaveMessage(ctx, chatstore.Message{ConversationID: c.ID, Role: "user", Content: "hello"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteConversation(ctx, c.ID))
	_, err = s.GetConversation(ctx, c.ID)
	assert.ErrorIs(t, err, chatstore.ErrNotFound)
	msgs, err := s.ListMessages(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	assert.ErrorIs(t, s.DeleteConversation(ctx, c.ID), chatstore.ErrNotFound)
}

func testSuggestions(t *testing.T, s chatstore.Store) {
	ctx := context.Background()
	c, err := s.CreateConversation(ctx, "user-1", "")
	require.NoError(t, err)

	got, err := s.Suggestions(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.SetSuggestions(ctx, c.ID, []string{"a", " ", "b", "c", "d", "e"}))
	got, err = s.Suggestions(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, got)
}

func testNotFound(t *testing.T, s chatstore.Store) {
	ctx := context.Background()
	missing := chatstore.NewConversationID()

	_, err := s.GetConversation(ctx, missing)
	assert.ErrorIs(t, err, chatstore.ErrNotFound)
	assert.ErrorIs(t, s.RenameConversation(ctx, missing, "x"), chatstore.ErrNotFound)
	_, err = s.SaveMessage(ctx, chatstore.Message{ConversationID: missing, Role: "user", Content: "x"})
	assert.ErrorIs(t, err, chatstore.ErrNotFound)
	assert.ErrorIs(t, s.SetSuggestions(ctx, missing, []string{"x"}), chatstore.ErrNotFound)
	_, err = s.Suggestions(ctx, missing)
	assert.ErrorIs(t, err, chatstore.ErrNotFound)
}
