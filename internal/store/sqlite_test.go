// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers user uniqueness, owner-scoped CRUD, filters, ordering and message limits

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testUser(email string) *User {
	now := time.Now().UTC()
	return &User{
		ID:            uuid.NewString(),
		Name:          "Test User",
		Email:         email,
		PasswordHash:  "$2a$04$notarealhash",
		Role:          RoleUser,
		Plan:          PlanFree,
		IsActive:      true,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func mustCreateUser(t *testing.T, s Store, email string) *User {
	t.Helper()
	u := testUser(email)
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func testAgent(ownerID, name string, at time.Time) *Agent {
	return &Agent{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		Status:    AgentStatusActive,
		Settings:  map[string]any{"temperature": 0.2},
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func testConversation(ownerID string, agentID *string, status string, at time.Time) *Conversation {
	return &Conversation{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		AgentID:   agentID,
		Title:     "chat",
		Channel:   "web",
		Status:    status,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(context.Background(), dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created in nested directory")

	v, err := SchemaVersion(context.Background(), s.DB(), DialectSQLite)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestNewSQLiteStore_ReopenIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(ctx, dbPath)
	require.NoError(t, err)
	u := mustCreateUser(t, s, "keep@example.com")
	require.NoError(t, s.Close())

	s2, err := NewSQLiteStore(ctx, dbPath)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "keep@example.com", got.Email)
}

func TestSQLiteStore_Users(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := testUser("  Alice@Example.COM ")
	u.Company = "Acme"
	require.NoError(t, s.CreateUser(ctx, u))

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Email)
	assert.Equal(t, "Acme", got.Company)
	assert.True(t, got.IsActive)
	assert.Nil(t, got.LastLogin)

	byEmail, err := s.GetUserByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	_, err = s.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.TouchLastLogin(ctx, u.ID, at))
	got, err = s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastLogin)
	assert.True(t, got.LastLogin.Equal(at))

	require.NoError(t, s.SetUserActive(ctx, u.ID, false, at))
	got, err = s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	assert.ErrorIs(t, s.SetUserActive(ctx, "missing", true, at), ErrNotFound)
}

func TestSQLiteStore_DuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreateUser(t, s, "dup@example.com")
	err := s.CreateUser(ctx, testUser("DUP@example.com"))
	assert.ErrorIs(t, err, ErrEmailExists)
}

func TestSQLiteStore_ConcurrentRegistrationSameEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.CreateUser(ctx, testUser("race@example.com"))
		}(i)
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrEmailExists):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, dup)
}

func TestSQLiteStore_AgentsAreOwnerScoped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := mustCreateUser(t, s, "alice@example.com")
	bob := mustCreateUser(t, s, "bob@example.com")

	base := time.Now().UTC()
	a1 := testAgent(alice.ID, "first", base)
	a2 := testAgent(alice.ID, "second", base.Add(time.Second))
	b1 := testAgent(bob.ID, "bobs", base)
	for _, a := range []*Agent{a1, a2, b1} {
		require.NoError(t, s.CreateAgent(ctx, a))
	}

	list, err := s.ListAgents(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].Name, "newest first")
	assert.Equal(t, "first", list[1].Name)
	assert.Equal(t, 0.2, list[1].Settings["temperature"])

	_, err = s.GetAgent(ctx, alice.ID, b1.ID)
	assert.ErrorIs(t, err, ErrNotFound, "foreign agent must look missing")

	name := "renamed"
	_, err = s.UpdateAgent(ctx, alice.ID, b1.ID, AgentPatch{Name: &name}, base)
	assert.ErrorIs(t, err, ErrNotFound)

	bobs, err := s.GetAgent(ctx, bob.ID, b1.ID)
	require.NoError(t, err)
	assert.Equal(t, "bobs", bobs.Name, "foreign update must not modify the record")

	deleted, err := s.DeleteAgent(ctx, alice.ID, b1.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
	_, err = s.GetAgent(ctx, bob.ID, b1.ID)
	assert.NoError(t, err, "foreign delete must not remove the record")
}

func TestSQLiteStore_UpdateAgentPartial(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := mustCreateUser(t, s, "alice@example.com")
	a := testAgent(alice.ID, "helper", time.Now().UTC())
	a.Model = "gpt-x"
	require.NoError(t, s.CreateAgent(ctx, a))

	status := AgentStatusInactive
	later := a.UpdatedAt.Add(time.Minute)
	updated, err := s.UpdateAgent(ctx, alice.ID, a.ID, AgentPatch{
		Status:   &status,
		Settings: map[string]any{"tools": []any{"search"}},
	}, later)
	require.NoError(t, err)

	assert.Equal(t, "helper", updated.Name)
	assert.Equal(t, "gpt-x", updated.Model)
	assert.Equal(t, AgentStatusInactive, updated.Status)
	assert.Equal(t, []any{"search"}, updated.Settings["tools"])
	assert.True(t, updated.UpdatedAt.Equal(later))
}

func TestSQLiteStore_DeleteAgentIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := mustCreateUser(t, s, "alice@example.com")
	a := testAgent(alice.ID, "helper", time.Now().UTC())
	require.NoError(t, s.CreateAgent(ctx, a))

	deleted, err := s.DeleteAgent(ctx, alice.ID, a.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeleteAgent(ctx, alice.ID, a.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestSQLiteStore_ConversationFiltersAndAgentName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := mustCreateUser(t, s, "alice@example.com")
	bob := mustCreateUser(t, s, "bob@example.com")

	base := time.Now().UTC()
	agent := testAgent(alice.ID, "support", base)
	require.NoError(t, s.CreateAgent(ctx, agent))

	open := testConversation(alice.ID, &agent.ID, ConversationStatusOpen, base)
	closed := testConversation(alice.ID, nil, ConversationStatusClosed, base.Add(time.Second))
	foreign := testConversation(bob.ID, nil, ConversationStatusOpen, base)
	for _, c := range []*Conversation{open, closed, foreign} {
		require.NoError(t, s.CreateConversation(ctx, c))
	}

	all, err := s.ListConversations(ctx, alice.ID, ConversationFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, closed.ID, all[0].ID, "newest first")
	assert.Equal(t, "support", all[1].AgentName)

	onlyOpen, err := s.ListConversations(ctx, alice.ID, ConversationFilter{Status: ConversationStatusOpen})
	require.NoError(t, err)
	require.Len(t, onlyOpen, 1)
	assert.Equal(t, open.ID, onlyOpen[0].ID)

	byAgent, err := s.ListConversations(ctx, alice.ID, ConversationFilter{AgentID: agent.ID})
	require.NoError(t, err)
	require.Len(t, byAgent, 1)

	_, err = s.GetConversation(ctx, alice.ID, foreign.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	title := "renamed"
	updated, err := s.UpdateConversation(ctx, alice.ID, open.ID, ConversationPatch{Title: &title}, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Title)
	assert.Equal(t, ConversationStatusOpen, updated.Status)

	_, err = s.UpdateConversation(ctx, alice.ID, foreign.ID, ConversationPatch{Title: &title}, base)
	assert.ErrorIs(t, err, ErrNotFound)

	deleted, err := s.DeleteAgent(ctx, alice.ID, agent.ID)
	require.NoError(t, err)
	require.True(t, deleted)
	got, err := s.GetConversation(ctx, alice.ID, open.ID)
	require.NoError(t, err)
	assert.Nil(t, got.AgentID, "deleting an agent detaches its conversations")
}

func TestSQLiteStore_Messages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := mustCreateUser(t, s, "alice@example.com")
	bob := mustCreateUser(t, s, "bob@example.com")

	base := time.Now().UTC()
	conv := testConversation(alice.ID, nil, ConversationStatusOpen, base)
	require.NoError(t, s.CreateConversation(ctx, conv))

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendMessage(ctx, &Message{
			ID:             uuid.NewString(),
			OwnerID:        alice.ID,
			ConversationID: conv.ID,
			Sender:         SenderUser,
			Content:        fmt.Sprintf("message %d", i),
			Timestamp:      base.Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := s.ListMessages(ctx, alice.ID, conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "message 0", all[0].Content)
	assert.Equal(t, "message 4", all[4].Content)

	recent, err := s.ListMessages(ctx, alice.ID, conv.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "message 3", recent[0].Content)
	assert.Equal(t, "message 4", recent[1].Content)

	got, err := s.GetConversation(ctx, alice.ID, conv.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(base.Add(4*time.Second)), "append bumps updated_at")

	err = s.AppendMessage(ctx, &Message{
		ID:             uuid.NewString(),
		OwnerID:        bob.ID,
		ConversationID: conv.ID,
		Sender:         SenderUser,
		Content:        "intrusion",
		Timestamp:      base,
	})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.ListMessages(ctx, bob.ID, conv.ID, 0)
	assert.ErrorIs(t, err, ErrNotFound)

	all, err = s.ListMessages(ctx, alice.ID, conv.ID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5, "rejected append must not be stored")
}
