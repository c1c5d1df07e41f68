// ABOUTME: Mock Store implementation for testing
// ABOUTME: In-memory, owner-scoped and safe for concurrent use; mirrors SQLiteStore semantics

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	seq           int64
	users         map[string]*User
	emails        map[string]string // case-folded email -> user ID
	agents        map[string]*Agent
	conversations map[string]*Conversation
	messages      map[string][]*Message // keyed by conversation ID
	order         map[string]int64      // insertion sequence per entity ID

	// Err, when set, is returned by every method. Used to simulate outages.
	Err error
	// TouchErr is returned by TouchLastLogin only.
	TouchErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:         make(map[string]*User),
		emails:        make(map[string]string),
		agents:        make(map[string]*Agent),
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*Message),
		order:         make(map[string]int64),
	}
}

func (m *MockStore) stamp(id string) {
	m.seq++
	m.order[id] = m.seq
}

func (m *MockStore) Ping(ctx context.Context) error { return m.Err }

func (m *MockStore) Close() error { return nil }

// ---- users ----

func (m *MockStore) CreateUser(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	email := NormalizeEmail(u.Email)
	if _, exists := m.emails[email]; exists {
		return ErrEmailExists
	}

	c := *u
	c.Email = email
	m.users[c.ID] = &c
	m.emails[email] = c.ID
	return nil
}

func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *u
	return &c, nil
}

func (m *MockStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	id, ok := m.emails[NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	c := *m.users[id]
	return &c, nil
}

func (m *MockStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if m.TouchErr != nil {
		return m.TouchErr
	}

	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	u.LastLogin = &t
	u.UpdatedAt = at
	return nil
}

func (m *MockStore) SetUserActive(ctx context.Context, id string, active bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.IsActive = active
	u.UpdatedAt = at
	return nil
}

// ---- agents ----

func copyAgent(a *Agent) *Agent {
	c := *a
	c.Settings = make(map[string]any, len(a.Settings))
	for k, v := range a.Settings {
		c.Settings[k] = v
	}
	return &c
}

func (m *MockStore) CreateAgent(ctx context.Context, a *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	m.agents[a.ID] = copyAgent(a)
	m.stamp(a.ID)
	return nil
}

func (m *MockStore) GetAgent(ctx context.Context, ownerID, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	a, ok := m.agents[id]
	if !ok || a.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return copyAgent(a), nil
}

func (m *MockStore) ListAgents(ctx context.Context, ownerID string) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	agents := []*Agent{}
	for _, a := range m.agents {
		if a.OwnerID == ownerID {
			agents = append(agents, copyAgent(a))
		}
	}
	sort.Slice(agents, func(i, j int) bool {
		if !agents[i].CreatedAt.Equal(agents[j].CreatedAt) {
			return agents[i].CreatedAt.After(agents[j].CreatedAt)
		}
		return m.order[agents[i].ID] > m.order[agents[j].ID]
	})
	return agents, nil
}

func (m *MockStore) UpdateAgent(ctx context.Context, ownerID, id string, patch AgentPatch, at time.Time) (*Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}

	a, ok := m.agents[id]
	if !ok || a.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	if patch.Name != nil {
		a.Name = *patch.Name
	}
	if patch.Description != nil {
		a.Description = *patch.Description
	}
	if patch.Model != nil {
		a.Model = *patch.Model
	}
	if patch.SystemPrompt != nil {
		a.SystemPrompt = *patch.SystemPrompt
	}
	if patch.Status != nil {
		a.Status = *patch.Status
	}
	if patch.Settings != nil {
		a.Settings = patch.Settings
	}
	a.UpdatedAt = at
	return copyAgent(a), nil
}

func (m *MockStore) DeleteAgent(ctx context.Context, ownerID, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}

	a, ok := m.agents[id]
	if !ok || a.OwnerID != ownerID {
		return false, nil
	}
	delete(m.agents, id)
	for _, c := range m.conversations {
		if c.AgentID != nil && *c.AgentID == id {
			c.AgentID = nil
		}
	}
	return true, nil
}

// ---- conversations ----

func (m *MockStore) withAgentName(c *Conversation) *Conversation {
	out := *c
	out.AgentName = ""
	if c.AgentID != nil {
		id := *c.AgentID
		out.AgentID = &id
		if a, ok := m.agents[id]; ok && a.OwnerID == c.OwnerID {
			out.AgentName = a.Name
		}
	}
	return &out
}

func (m *MockStore) CreateConversation(ctx context.Context, c *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	stored := *c
	if c.AgentID != nil {
		id := *c.AgentID
		stored.AgentID = &id
	}
	m.conversations[c.ID] = &stored
	m.stamp(c.ID)
	return nil
}

func (m *MockStore) GetConversation(ctx context.Context, ownerID, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	c, ok := m.conversations[id]
	if !ok || c.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return m.withAgentName(c), nil
}

func (m *MockStore) ListConversations(ctx context.Context, ownerID string, filter ConversationFilter) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	convs := []*Conversation{}
	for _, c := range m.conversations {
		if c.OwnerID != ownerID {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		if filter.AgentID != "" && (c.AgentID == nil || *c.AgentID != filter.AgentID) {
			continue
		}
		convs = append(convs, m.withAgentName(c))
	}
	sort.Slice(convs, func(i, j int) bool {
		if !convs[i].CreatedAt.Equal(convs[j].CreatedAt) {
			return convs[i].CreatedAt.After(convs[j].CreatedAt)
		}
		return m.order[convs[i].ID] > m.order[convs[j].ID]
	})
	return convs, nil
}

func (m *MockStore) UpdateConversation(ctx context.Context, ownerID, id string, patch ConversationPatch, at time.Time) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}

	c, ok := m.conversations[id]
	if !ok || c.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	if patch.Title != nil {
		c.Title = *patch.Title
	}
	if patch.Status != nil {
		c.Status = *patch.Status
	}
	c.UpdatedAt = at
	return m.withAgentName(c), nil
}

// ---- messages ----

func (m *MockStore) AppendMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	c, ok := m.conversations[msg.ConversationID]
	if !ok || c.OwnerID != msg.OwnerID {
		return ErrNotFound
	}
	stored := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &stored)
	c.UpdatedAt = msg.Timestamp
	return nil
}

func (m *MockStore) ListMessages(ctx context.Context, ownerID, conversationID string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	c, ok := m.conversations[conversationID]
	if !ok || c.OwnerID != ownerID {
		return nil, ErrNotFound
	}

	all := m.messages[conversationID]
	msgs := make([]*Message, len(all))
	for i, msg := range all {
		cp := *msg
		msgs[i] = &cp
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// Compile-time interface checks.
var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
