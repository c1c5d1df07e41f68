// ABOUTME: Store interface and data types for convo-gateway persistence
// ABOUTME: Defines users and the owner-scoped agent, conversation and message collections

package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist or is not
// visible to the requesting owner.
var ErrNotFound = errors.New("not found")

// ErrEmailExists is returned when a user with the same case-folded email exists.
var ErrEmailExists = errors.New("email already exists")

// User roles and plans.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"

	PlanFree = "free"
)

// Agent statuses.
const (
	AgentStatusActive   = "active"
	AgentStatusInactive = "inactive"
)

// Conversation statuses.
const (
	ConversationStatusOpen     = "open"
	ConversationStatusClosed   = "closed"
	ConversationStatusArchived = "archived"
)

// SenderUser marks messages submitted through the chat endpoint.
const SenderUser = "user"

// User is a registered identity. PasswordHash never leaves the server.
type User struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	PasswordHash  string     `json:"-"`
	Role          string     `json:"role"`
	Plan          string     `json:"plan"`
	IsActive      bool       `json:"is_active"`
	EmailVerified bool       `json:"email_verified"`
	Company       string     `json:"company,omitempty"`
	Phone         string     `json:"phone,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	LastLogin     *time.Time `json:"last_login"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Agent is an owned assistant configuration.
type Agent struct {
	ID           string         `json:"id"`
	OwnerID      string         `json:"owner_id"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Model        string         `json:"model"`
	SystemPrompt string         `json:"system_prompt"`
	Status       string         `json:"status"`
	Settings     map[string]any `json:"settings"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// AgentPatch lists the agent fields to change. Nil fields are left untouched.
type AgentPatch struct {
	Name         *string
	Description  *string
	Model        *string
	SystemPrompt *string
	Status       *string
	Settings     map[string]any
}

// Conversation is an owned chat thread, optionally bound to an agent.
type Conversation struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	AgentID   *string   `json:"agent_id"`
	AgentName string    `json:"agent_name,omitempty"`
	Title     string    `json:"title"`
	Channel   string    `json:"channel"`
	Contact   string    `json:"contact"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationFilter narrows ListConversations. Empty fields match everything.
type ConversationFilter struct {
	Status  string
	AgentID string
}

// ConversationPatch lists the conversation fields to change.
type ConversationPatch struct {
	Title  *string
	Status *string
}

// Message is a single entry within an owned conversation.
type Message struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	ConversationID string    `json:"conversation_id"`
	Sender         string    `json:"sender"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// UserStore persists identities.
type UserStore interface {
	// CreateUser inserts a user. Returns ErrEmailExists on a duplicate email.
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	// GetUserByEmail looks up a user by case-folded email.
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
	SetUserActive(ctx context.Context, id string, active bool, at time.Time) error
}

// AgentStore persists agents. Every method is scoped to ownerID.
type AgentStore interface {
	CreateAgent(ctx context.Context, a *Agent) error
	GetAgent(ctx context.Context, ownerID, id string) (*Agent, error)
	// ListAgents returns the owner's agents, newest first.
	ListAgents(ctx context.Context, ownerID string) ([]*Agent, error)
	// UpdateAgent applies patch and returns the stored agent, or ErrNotFound
	// when no agent with id belongs to ownerID.
	UpdateAgent(ctx context.Context, ownerID, id string, patch AgentPatch, at time.Time) (*Agent, error)
	// DeleteAgent reports whether a row was removed.
	DeleteAgent(ctx context.Context, ownerID, id string) (bool, error)
}

// ConversationStore persists conversations. Every method is scoped to ownerID.
type ConversationStore interface {
	CreateConversation(ctx context.Context, c *Conversation) error
	GetConversation(ctx context.Context, ownerID, id string) (*Conversation, error)
	// ListConversations returns the owner's conversations, newest first.
	ListConversations(ctx context.Context, ownerID string, filter ConversationFilter) ([]*Conversation, error)
	UpdateConversation(ctx context.Context, ownerID, id string, patch ConversationPatch, at time.Time) (*Conversation, error)
}

// MessageStore persists messages.
type MessageStore interface {
	// AppendMessage stores msg and bumps the conversation's updated_at.
	// Returns ErrNotFound when the conversation does not belong to msg.OwnerID.
	AppendMessage(ctx context.Context, msg *Message) error
	// ListMessages returns up to limit of the most recent messages in
	// chronological order. limit <= 0 returns all of them.
	ListMessages(ctx context.Context, ownerID, conversationID string, limit int) ([]*Message, error)
}

// Store is the full persistence surface used by the gateway.
type Store interface {
	UserStore
	AgentStore
	ConversationStore
	MessageStore

	Ping(ctx context.Context) error
	Close() error
}

// NormalizeEmail case-folds and trims an email address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
