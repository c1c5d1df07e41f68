// ABOUTME: HTTP handlers for conversations, their messages and the chat send endpoint
// ABOUTME: Message responses include a markdown-rendered content_html field

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/2389/convo-gateway/internal/apperr"
	"github.com/2389/convo-gateway/internal/store"
	"github.com/2389/convo-gateway/internal/tenant"
)

// maxMessageLimit caps the limit query parameter.
const maxMessageLimit = 1000

// ConversationRequest is the JSON request body for POST and PUT /conversations.
// agent_id, channel and contact are only read on create.
type ConversationRequest struct {
	AgentID *string `json:"agent_id"`
	Title   *string `json:"title"`
	Channel string  `json:"channel"`
	Contact string  `json:"contact"`
	Status  *string `json:"status"`
}

// SendMessageRequest is the JSON request body for POST /chat/send.
type SendMessageRequest struct {
	ConversationID string  `json:"conversationId"`
	Message        string  `json:"message"`
	AgentID        *string `json:"agentId"`
}

// MessageResponse is a stored message plus its rendered HTML.
type MessageResponse struct {
	*store.Message
	ContentHTML string `json:"content_html"`
}

func newMessageResponse(m *store.Message) MessageResponse {
	return MessageResponse{Message: m, ContentHTML: renderMarkdown(m.Content)}
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	convs, err := s.guard.ListConversations(r.Context(), store.ConversationFilter{
		Status:  q.Get("status"),
		AgentID: q.Get("agent_id"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse{Success: true, Data: convs})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req ConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	conv, err := s.guard.CreateConversation(r.Context(), tenant.ConversationInput{
		AgentID: req.AgentID,
		Title:   deref(req.Title),
		Channel: req.Channel,
		Contact: req.Contact,
		Status:  deref(req.Status),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, DataResponse{Success: true, Message: "conversation created", Data: conv})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.guard.GetConversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse{Success: true, Data: conv})
}

func (s *Server) handleUpdateConversation(w http.ResponseWriter, r *http.Request) {
	var req ConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	conv, err := s.guard.UpdateConversation(r.Context(), chi.URLParam(r, "id"), store.ConversationPatch{
		Title:  req.Title,
		Status: req.Status,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse{Success: true, Message: "conversation updated", Data: conv})
}

// parseLimit reads ?limit=N. Absent means no limit.
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxMessageLimit {
		return 0, apperr.Invalid("limit must be between 1 and %d", maxMessageLimit)
	}
	return n, nil
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	msgs, err := s.guard.ListMessages(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, newMessageResponse(m))
	}
	writeJSON(w, http.StatusOK, DataResponse{Success: true, Data: out})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	msg, err := s.guard.SendMessage(r.Context(), tenant.SendInput{
		ConversationID: req.ConversationID,
		Content:        req.Message,
		AgentID:        req.AgentID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse{Success: true, Data: newMessageResponse(msg)})
}
