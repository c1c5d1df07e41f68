// ABOUTME: HTTP handlers for the owner-scoped agent collection
// ABOUTME: Create, list, read, partial update and idempotent delete

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/2389/convo-gateway/internal/store"
	"github.com/2389/convo-gateway/internal/tenant"
)

// AgentRequest is the JSON request body for POST and PUT /agents. Absent
// fields are left unchanged on update.
type AgentRequest struct {
	Name         *string        `json:"name"`
	Description  *string        `json:"description"`
	Model        *string        `json:"model"`
	SystemPrompt *string        `json:"system_prompt"`
	Status       *string        `json:"status"`
	Settings     map[string]any `json:"settings"`
}

// DataResponse wraps a single resource or a list.
type DataResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data"`
}

// DeleteResponse is returned by DELETE /agents/{id}.
type DeleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Deleted bool   `json:"deleted"`
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.guard.ListAgents(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse{Success: true, Data: agents})
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req AgentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	agent, err := s.guard.CreateAgent(r.Context(), tenant.AgentInput{
		Name:         deref(req.Name),
		Description:  deref(req.Description),
		Model:        deref(req.Model),
		SystemPrompt: deref(req.SystemPrompt),
		Status:       deref(req.Status),
		Settings:     req.Settings,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, DataResponse{Success: true, Message: "agent created", Data: agent})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.guard.GetAgent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse{Success: true, Data: agent})
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	var req AgentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	agent, err := s.guard.UpdateAgent(r.Context(), chi.URLParam(r, "id"), store.AgentPatch{
		Name:         req.Name,
		Description:  req.Description,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		Status:       req.Status,
		Settings:     req.Settings,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse{Success: true, Message: "agent updated", Data: agent})
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.guard.DeleteAgent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{Success: true, Message: "agent deleted", Deleted: deleted})
}
