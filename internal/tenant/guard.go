// ABOUTME: Ownership guard scoping every agent, conversation and message operation to the caller
// ABOUTME: Takes the owner only from the request context and maps foreign rows to not-found

package tenant

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/2389/convo-gateway/internal/apperr"
	"github.com/2389/convo-gateway/internal/auth"
	"github.com/2389/convo-gateway/internal/store"
)

var tracer = otel.Tracer("convo-gateway/tenant")

// Resource names used in not-found messages.
const (
	SubjectAgent        = "agent"
	SubjectConversation = "conversation"
)

// Repository is the persistence surface the guard needs.
type Repository interface {
	store.AgentStore
	store.ConversationStore
	store.MessageStore
}

// Guard applies owner scoping to the owned collections.
type Guard struct {
	repo  Repository
	now   func() time.Time
	newID func() string
}

// Option customises a Guard.
type Option func(*Guard)

// WithClock sets the time source for created_at and updated_at.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// NewGuard creates a Guard backed by repo.
func NewGuard(repo Repository, opts ...Option) *Guard {
	g := &Guard{
		repo:  repo,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// owner returns the caller's id. There is no other source of ownership.
func owner(ctx context.Context) (string, error) {
	id := auth.FromContext(ctx)
	if id == nil {
		return "", apperr.New(apperr.KindMissingToken, errors.New("no identity in context"))
	}
	return id.UserID, nil
}

// start opens a span for op and resolves the owner.
func start(ctx context.Context, op string) (context.Context, trace.Span, string, error) {
	ctx, span := tracer.Start(ctx, "tenant."+op)
	ownerID, err := owner(ctx)
	if err == nil {
		span.SetAttributes(attribute.String("owner.id", ownerID))
	}
	return ctx, span, ownerID, err
}

// finish records err on span and ends it.
func finish(span trace.Span, err error) {
	if err != nil && apperr.KindOf(err) == apperr.KindInternal {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// storeErr maps a store failure for subject into an apperr.
func storeErr(err error, subject, code string, kv ...any) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(subject)
	}
	return apperr.Internal(oops.Code(code).With(kv...).Wrap(err))
}

// AgentInput is the client-supplied agent payload. It carries no owner.
type AgentInput struct {
	Name         string
	Description  string
	Model        string
	SystemPrompt string
	Status       string
	Settings     map[string]any
}

func validAgentStatus(s string) bool {
	return s == store.AgentStatusActive || s == store.AgentStatusInactive
}

func validConversationStatus(s string) bool {
	switch s {
	case store.ConversationStatusOpen, store.ConversationStatusClosed, store.ConversationStatusArchived:
		return true
	}
	return false
}

// CreateAgent stores a new agent owned by the caller.
func (g *Guard) CreateAgent(ctx context.Context, in AgentInput) (a *store.Agent, err error) {
	ctx, span, ownerID, err := start(ctx, "CreateAgent")
	defer func() { finish(span, err) }()
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Invalid("name is required")
	}
	status := in.Status
	if status == "" {
		status = store.AgentStatusActive
	}
	if !validAgentStatus(status) {
		return nil, apperr.Invalid("status must be active or inactive")
	}
	settings := in.Settings
	if settings == nil {
		settings = map[string]any{}
	}

	now := g.now()
	a = &store.Agent{
		ID:           g.newID(),
		OwnerID:      ownerID,
		Name:         name,
		Description:  in.Description,
		Model:        in.Model,
		SystemPrompt: in.SystemPrompt,
		Status:       status,
		Settings:     settings,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := g.repo.CreateAgent(ctx, a); err != nil {
		return nil, storeErr(err, SubjectAgent, "AGENT_CREATE_FAILED", "owner_id", ownerID)
	}
	span.SetAttributes(attribute.String("agent.id", a.ID))
	return a, nil
}

// ListAgents returns the caller's agents, newest first.
func (g *Guard) ListAgents(ctx context.Context) (agents []*store.Agent, err error) {
	ctx, span, ownerID, err := start(ctx, "ListAgents")
	defer func() { finish(span, err) }()
	if err != nil {
		return nil, err
	}

	agents, err = g.repo.ListAgents(ctx, ownerID)
	if err != nil {
		return nil, storeErr(err, SubjectAgent, "AGENT_LIST_FAILED", "owner_id", ownerID)
	}
	return agents, nil
}

// GetAgent returns one of the caller's agents.
func (g *Guard) GetAgent(ctx context.Context, id string) (a *store.Agent, err error) {
	ctx, span, ownerID, err := start(ctx, "GetAgent")
	defer func() { finish(span, err) }()
	if err != nil {
		return nil, err
	}

	a, err = g.repo.GetAgent(ctx, ownerID, id)
	if err != nil {
		return nil, storeErr(err, SubjectAgent, "AGENT_GET_FAILED", "agent_id", id)
	}
	return a, nil
}

// UpdateAgent applies a partial update to one of the caller's agents.
func (g *Guard) UpdateAgent(ctx context.Context, id string, patch store.AgentPatch) (a *store.Agent, err error) {
	ctx, span, ownerID, err := start(ctx, "UpdateAgent")
	defer func() { finish(span, err) }()
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, apperr.Invalid("name must not be empty")
		}
		patch.Name = &name
	}
	if patch.Status != nil && !validAgentStatus(*patch.Status) {
		return nil, apperr.Invalid("status must be active or inactive")
	}

	a, err = g.repo.UpdateAgent(ctx, ownerID, id, patch, g.now())
	if err != nil {
		return nil, storeErr(err, SubjectAgent, "AGENT_UPDATE_FAILED", "agent_id", id)
	}
	return a, nil
}

// DeleteAgent removes one of the caller's agents. Deleting a missing or
// foreign agent succeeds and reports false.
func (g *Guard) DeleteAgent(ctx context.Context, id string) (deleted bool, err error) {
	ctx, span, ownerID, err := start(ctx, "DeleteAgent")
	defer func() { finish(span, err) }()
	if err != nil {
		return false, err
	}

	deleted, err = g.repo.DeleteAgent(ctx, ownerID, id)
	if err != nil {
		return false, storeErr(err, SubjectAgent, "AGENT_DELETE_FAILED", "agent_id", id)
	}
	span.SetAttributes(attribute.Bool("agent.deleted", deleted))
	return deleted, nil
}

// requireAgent confirms agentID belongs to ownerID.
func (g *Guard) requireAgent(ctx context.Context, ownerID, agentID string) error {
	if _, err := g.repo.GetAgent(ctx, ownerID, agentID); err != nil {
		return storeErr(err, SubjectAgent, "AGENT_GET_FAILED", "agent_id", agentID)
	}
	return nil
}

// ConversationInput is the client-supplied conversation payload.
type ConversationInput struct {
	AgentID *string
	Title   string
	Channel string
	Contact string
	Status  string
}

// CreateConversation stores a new conversation owned by the caller. A
// referenced agent must also be the caller's.
func (g *Guard) CreateConversation(ctx context.Context, in ConversationInput) (c *store.Conversation, err error) {
	ctx, span, ownerID, err := start(ctx, "CreateConversation")
	defer func() { finish(span, err) }()
	if err != nil {
		return nil, err
	}

	status := in.Status
	if status == "" {
		status = store.ConversationStatusOpen
	}
	if !validConversationStatus(status) {
		return nil, apperr.Invalid("status must be open, closed or archived")
	}

	var agentID *string
	if in.AgentID != nil && *in.AgentID != "" {
		if err := g.requireAgent(ctx, ownerID, *in.AgentID); err != nil {
			return nil, err
		}
		id := *in.AgentID
		agentID = &id
	}

	now := g.now()
	c = &store.Conversation{
		ID:        g.newID(),
		OwnerID:   ownerID,
		AgentID:   agentID,
		Title:     in.Title,
		Channel:   in.Channel,
		Contact:   in.Contact,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := g.repo.CreateConversation(ctx, c); err != nil {
		return nil, storeErr(err, SubjectConversation, "CONVERSATION_CREATE_FAILED", "owner_id", ownerID)
	}

	// Re-read so agent_name is populated.
	stored, err := g.repo.GetConversation(ctx, ownerID, c.ID)
	if err != nil {
		return nil, storeErr(err, SubjectConversation, "CONVERSATION_GET_FAILED", "conversation_id", c.ID)
	}
	span.SetAttributes(attribute.String("conversation.id", c.ID))
	return stored, nil
}

// ListConversations returns the caller's conversations matching filter, newest first.
func (g *Guard) ListConversations(ctx context.Context, filter store.ConversationFilter) (cs []*store.Conversation, err error) {
	ctx, span, ownerID, err := start(ctx, "ListConversations")
	defer func() { finish(span, err) }()
	if err != nil {
		return nil, err
	}

	cs, err = g.repo.ListConversations(ctx, ownerID, filter)
	if err != nil {
		return nil, storeErr(err, SubjectConversation, "CONVERSATION_LIST_FAILED", "owner_id", ownerID)
	}
	return cs, nil
}

// GetConversation returns one of the caller's conversations.
func (g *Guard) GetConversation(ctx context.Context, id string) (c *store.Conversation, err error) {
	ctx, span, ownerID, err := start(ctx, "GetConversation")
	defer func() { finish(span, err) }()
	if err != nil {
		return nil, err
	}

	c, err = g.repo.GetConversation(ctx, ownerID, id)
	if err != nil {
		return nil, storeErr(err, SubjectConversation, "CONVERSATION_GET_FAILED", "conversation_id", id)
	}
	return c, nil
}

// UpdateConversation changes the title or status of one of the caller's conversations.
func (g *Guard) UpdateConversation(ctx context.Context, id string, patch store.ConversationPatch) (c *store.Conversation, err error) {
	ctx, span, ownerID, err := start(ctx, "UpdateConversation")
	defer func() { finish(span, err) }()
	if err != nil {
		return nil, err
	}

	if patch.Status != nil && !validConversationStatus(*patch.Status) {
		return nil, apperr.Invalid("status must be open, closed or archived")
	}

	c, err = g.repo.UpdateConversation(ctx, ownerID, id, patch, g.now())
	if err != nil {
		return nil, storeErr(err, SubjectConversation, "CONVERSATION_UPDATE_FAILED", "conversation_id", id)
	}
	return c, nil
}

// ListMessages returns up to limit of the newest messages of one of the
// caller's conversations, oldest first.
func (g *Guard) ListMessages(ctx context.Context, conversationID string, limit int) (msgs []*store.Message, err error) {
	ctx, span, ownerID, err := start(ctx, "ListMessages")
	defer func() { finish(span, err) }()
	if err != nil {
		return nil, err
	}

	msgs, err = g.repo.ListMessages(ctx, ownerID, conversationID, limit)
	if err != nil {
		return nil, storeErr(err, SubjectConversation, "MESSAGE_LIST_FAILED", "conversation_id", conversationID)
	}
	return msgs, nil
}

// SendInput is the chat payload. AgentID is optional but must be the caller's.
type SendInput struct {
	ConversationID string
	Content        string
	AgentID        *string
}

// SendMessage appends a user message to one of the caller's conversations.
func (g *Guard) SendMessage(ctx context.Context, in SendInput) (msg *store.Message, err error) {
	ctx, span, ownerID, err := start(ctx, "SendMessage")
	defer func() { finish(span, err) }()
	if err != nil {
		return nil, err
	}

	if in.ConversationID == "" {
		return nil, apperr.Invalid("conversationId is required")
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, apperr.Invalid("message is required")
	}
	if in.AgentID != nil && *in.AgentID != "" {
		if err := g.requireAgent(ctx, ownerID, *in.AgentID); err != nil {
			return nil, err
		}
	}

	msg = &store.Message{
		ID:             g.newID(),
		OwnerID:        ownerID,
		ConversationID: in.ConversationID,
		Sender:         store.SenderUser,
		Content:        in.Content,
		Timestamp:      g.now(),
	}
	if err := g.repo.AppendMessage(ctx, msg); err != nil {
		return nil, storeErr(err, SubjectConversation, "MESSAGE_APPEND_FAILED", "conversation_id", in.ConversationID)
	}
	span.SetAttributes(attribute.String("message.id", msg.ID))
	return msg, nil
}
