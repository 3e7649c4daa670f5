package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/askbetty/betty/internal/chat"
	"github.com/askbetty/betty/internal/chatstore"
	"github.com/askbetty/betty/internal/openai"
)

type chatRequest struct {
	ConversationID string               `json:"conversation_id"`
	Messages       []openai.ChatMessage `json:"messages"`
	Message        string               `json:"message"`
	Model          string               `json:"model"`
}

func newChatEndpoint(s *Server) endpoint {
	return endpointFunc{name: "chat", routes: []route{
		{Method: http.MethodPost, Path: "/chat", Handler: http.HandlerFunc(s.handleChat)},
	}}
}

// handleChat streams one assistant reply. With a conversation id the user
// message and the reply are stored together once the reply completes, so a
// failed or canceled turn leaves the transcript untouched. When the request
// carries no history the stored transcript is used instead.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.producer == nil {
		s.respondError(w, http.StatusServiceUnavailable, errors.New("chat is not configured"))
		return
	}
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	turn := chat.Turn{History: req.Messages, Message: req.Message, Model: req.Model}

	var conv *chatstore.Conversation
	if id := strings.TrimSpace(req.ConversationID); id != "" && s.store != nil {
		c, status, err := s.ownedConversation(r.Context(), userID(r), id)
		if err != nil {
			s.respondError(w, status, err)
			return
		}
		conv = &c
		if len(turn.History) == 0 {
			history, err := s.store.ListMessages(r.Context(), c.ID)
			if err != nil {
				s.respondError(w, http.StatusInternalServerError, err)
				return
			}
			turn.History = transcript(history)
		}
	}

	if _, err := chat.BuildRequest(s.producer.Persona(), turn); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	out := s.producer.Stream(r.Context(), w, turn)
	s.logger.Debugf("chat model=%s completed=%v canceled=%v chunks=%d err=%v",
		out.Model, out.Completed, out.Canceled, out.Chunks, out.Err)

	if conv == nil || !out.Completed || strings.TrimSpace(out.Content) == "" {
		return
	}
	// the response is finished, so the request context may already be gone
	ctx := context.WithoutCancel(r.Context())
	if _, err := s.store.SaveMessage(ctx, chatstore.Message{
		ConversationID: conv.ID,
		Role:           openai.RoleUser,
		Content:        turn.Message,
	}); err != nil {
		s.logger.Printf("chat: save user message conversation=%s err=%v", conv.ID, err)
		return
	}
	if _, err := s.store.SaveMessage(ctx, chatstore.Message{
		ConversationID: conv.ID,
		Role:           openai.RoleAssistant,
		Content:        out.Content,
		Tokens:         openai.EstimateTokens(out.Content),
		ProcessingMs:   out.Duration.Milliseconds(),
	}); err != nil {
		s.logger.Printf("chat: save reply conversation=%s err=%v", conv.ID, err)
	}
}

// ownedConversation loads id and checks it belongs to user. Conversations of
// other users are reported as missing.
func (s *Server) ownedConversation(ctx context.Context, user, id string) (chatstore.Conversation, int, error) {
	if !chatstore.ValidConversationID(id) {
		return chatstore.Conversation{}, http.StatusNotFound, errConversationNotFound
	}
	conv, err := s.store.GetConversation(ctx, id)
	if errors.Is(err, chatstore.ErrNotFound) {
		return chatstore.Conversation{}, http.StatusNotFound, errConversationNotFound
	}
	if err != nil {
		return chatstore.Conversation{}, http.StatusInternalServerError, err
	}
	if conv.UserID != user {
		return chatstore.Conversation{}, http.StatusNotFound, errConversationNotFound
	}
	return conv, http.StatusOK, nil
}

var errConversationNotFound = errors.New("conversation not found")

func transcript(messages []chatstore.Message) []openai.ChatMessage {
	out := make([]openai.ChatMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
