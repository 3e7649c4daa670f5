package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/askbetty/betty/internal/chatstore"
)

type titleRequest struct {
	Title string `json:"title"`
}

type conversationDetail struct {
	chatstore.Conversation
	Suggestions []string `json:"suggestions"`
}

func newConversationEndpoint(s *Server) endpoint {
	return endpointFunc{name: "conversations", routes: []route{
		{Method: http.MethodGet, Path: "/conversations", Handler: http.HandlerFunc(s.handleListConversations)},
		{Method: http.MethodPost, Path: "/conversations", Handler: http.HandlerFunc(s.handleCreateConversation)},
		{Method: http.MethodGet, Path: "/conversations/recent", Handler: http.HandlerFunc(s.handleRecentConversations)},
		{Method: http.MethodGet, Path: "/conversations/{id}", Handler: http.HandlerFunc(s.handleGetConversation)},
		{Method: http.MethodPatch, Path: "/conversations/{id}", Handler: http.HandlerFunc(s.handleRenameConversation)},
		{Method: http.MethodDelete, Path: "/conversations/{id}", Handler: http.HandlerFunc(s.handleDeleteConversation)},
		{Method: http.MethodGet, Path: "/conversations/{id}/messages", Handler: http.HandlerFunc(s.handleListMessages)},
	}}
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.store.ListConversations(r.Context(), userID(r))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if convs == nil {
		convs = []chatstore.Conversation{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	// the body is optional
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	conv, err := s.store.CreateConversation(r.Context(), userID(r), chatstore.NormalizeTitle(req.Title))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleRecentConversations(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	page, err := s.store.RecentConversations(r.Context(), userID(r), chatstore.ClampLimit(limit), r.URL.Query().Get("cursor"))
	if errors.Is(err, chatstore.ErrInvalidCursor) {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if page.Conversations == nil {
		page.Conversations = []chatstore.Preview{}
	}
	s.respondJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, status, err := s.ownedConversation(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, status, err)
		return
	}
	suggestions, err := s.store.Suggestions(r.Context(), conv.ID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if suggestions == nil {
		suggestions = []string{}
	}
	s.respondJSON(w, http.StatusOK, conversationDetail{Conversation: conv, Suggestions: suggestions})
}

func (s *Server) handleRenameConversation(w http.ResponseWriter, r *http.Request) {
	conv, status, err := s.ownedConversation(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, status, err)
		return
	}
	var req titleRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("title is required"))
		return
	}
	if err := s.store.RenameConversation(r.Context(), conv.ID, title); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	updated, err := s.store.GetConversation(r.Context(), conv.ID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	conv, status, err := s.ownedConversation(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, status, err)
		return
	}
	if err := s.store.DeleteConversation(r.Context(), conv.ID); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	conv, status, err := s.ownedConversation(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, status, err)
		return
	}
	messages, err := s.store.ListMessages(r.Context(), conv.ID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if messages == nil {
		messages = []chatstore.Message{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"messages": messages})
}
