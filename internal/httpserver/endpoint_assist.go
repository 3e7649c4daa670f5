package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"github.com/askbetty/betty/internal/chatstore"
	"github.com/askbetty/betty/internal/openai"
	"github.com/askbetty/betty/internal/suggest"
)

type transcriptRequest struct {
	ConversationID string               `json:"conversation_id"`
	Messages       []openai.ChatMessage `json:"messages"`
}

func newAssistEndpoint(s *Server) endpoint {
	return endpointFunc{name: "assist", routes: []route{
		{Method: http.MethodPost, Path: "/generate-title", Handler: http.HandlerFunc(s.handleGenerateTitle)},
		{Method: http.MethodPost, Path: "/suggestions", Handler: http.HandlerFunc(s.handleSuggestions)},
		{Method: http.MethodGet, Path: "/starters", Handler: http.HandlerFunc(s.handleStarters)},
		{Method: http.MethodGet, Path: "/models", Handler: http.HandlerFunc(s.handleModels)},
	}}
}

// readTranscript decodes the body and, when it names a conversation, checks
// ownership. It writes the error response itself and reports false.
func (s *Server) readTranscript(w http.ResponseWriter, r *http.Request) (transcriptRequest, *chatstore.Conversation, bool) {
	if s.suggest == nil {
		s.respondError(w, http.StatusServiceUnavailable, errors.New("suggestions are not configured"))
		return transcriptRequest{}, nil, false
	}
	var req transcriptRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return transcriptRequest{}, nil, false
	}
	id := strings.TrimSpace(req.ConversationID)
	if id == "" || s.store == nil {
		return req, nil, true
	}
	conv, status, err := s.ownedConversation(r.Context(), userID(r), id)
	if err != nil {
		s.respondError(w, status, err)
		return transcriptRequest{}, nil, false
	}
	return req, &conv, true
}

func (s *Server) handleGenerateTitle(w http.ResponseWriter, r *http.Request) {
	req, conv, ok := s.readTranscript(w, r)
	if !ok {
		return
	}
	title, err := s.suggest.Title(r.Context(), req.Messages)
	if err != nil {
		s.respondError(w, suggestStatus(err), err)
		return
	}
	if conv != nil {
		if err := s.store.RenameConversation(r.Context(), conv.ID, title); err != nil {
			s.respondError(w, http.StatusInternalServerError, err)
			return
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"title": title})
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	req, conv, ok := s.readTranscript(w, r)
	if !ok {
		return
	}
	suggestions, err := s.suggest.FollowUps(r.Context(), req.Messages)
	if err != nil {
		s.respondError(w, suggestStatus(err), err)
		return
	}
	suggestions = chatstore.ClampSuggestions(suggestions)
	if conv != nil {
		if err := s.store.SetSuggestions(r.Context(), conv.ID, suggestions); err != nil {
			s.respondError(w, http.StatusInternalServerError, err)
			return
		}
	}
	s.respondJSON(w, http.StatusOK, map[string][]string{"suggestions": suggestions})
}

func (s *Server) handleStarters(w http.ResponseWriter, r *http.Request) {
	if s.suggest == nil {
		s.respondError(w, http.StatusServiceUnavailable, errors.New("suggestions are not configured"))
		return
	}
	starters, err := s.suggest.Starters(r.Context())
	if err != nil {
		s.respondError(w, suggestStatus(err), err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string][]string{"starters": starters})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if s.producer == nil {
		s.respondJSON(w, http.StatusOK, openai.ListModels(nil))
		return
	}
	persona := s.producer.Persona()
	models := make([]openai.Model, 0, len(persona.Models))
	for _, m := range persona.Models {
		models = append(models, openai.Model{ID: m.ID, Name: m.Name, Default: m.ID == persona.DefaultModel})
	}
	s.respondJSON(w, http.StatusOK, openai.ListModels(models))
}

func suggestStatus(err error) int {
	if errors.Is(err, suggest.ErrNoMessages) {
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}
