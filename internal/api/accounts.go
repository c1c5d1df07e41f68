// ABOUTME: HTTP handlers for registration, login and the caller's profile
// ABOUTME: Responses carry the user without its password digest plus a bearer token

package api

import (
	"net/http"

	"github.com/2389/convo-gateway/internal/account"
	"github.com/2389/convo-gateway/internal/store"
)

// RegisterRequest is the JSON request body for POST /auth/register.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Company  string `json:"company"`
	Phone    string `json:"phone"`
	Role     string `json:"role"`
}

// LoginRequest is the JSON request body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionResponse is returned by register and login.
type SessionResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	User    *store.User `json:"user"`
	Token   string      `json:"token"`
}

// UserResponse is returned by GET /auth/me.
type UserResponse struct {
	Success bool        `json:"success"`
	User    *store.User `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	sess, err := s.accounts.Register(r.Context(), account.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Company:  req.Company,
		Phone:    req.Phone,
		Role:     req.Role,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, SessionResponse{
		Success: true,
		Message: "user registered",
		User:    sess.User,
		Token:   sess.Token,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	sess, err := s.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SessionResponse{
		Success: true,
		Message: "login successful",
		User:    sess.User,
		Token:   sess.Token,
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.accounts.Me(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{Success: true, User: user})
}
