// ABOUTME: Unit tests for PostgresStore against pgxmock
// ABOUTME: Verifies owner predicates, unique-violation mapping and transaction flow

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var userCols = []string{
	"id", "name", "email", "password_hash", "role", "plan", "is_active", "email_verified",
	"company", "phone", "created_at", "last_login", "updated_at",
}

var agentCols = []string{
	"id", "owner_id", "name", "description", "model", "system_prompt", "status", "settings",
	"created_at", "updated_at",
}

var conversationCols = []string{
	"id", "owner_id", "agent_id", "agent_name", "title", "channel", "contact", "status",
	"created_at", "updated_at",
}

// anyArgs matches n arguments of any value.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func newMockPostgres(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(mock.Close)
	return NewPostgresStore(mock), mock
}

func TestPostgresStore_CreateUser(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantErr   error
		errMsg    string
	}{
		{
			name: "successful insert with folded email",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO users`).
					WithArgs("user-1", "Alice", "alice@example.com", "hash", RoleUser, PlanFree,
						true, true, "", "", pgxmock.AnyArg(), pgxmock.AnyArg()).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
			},
		},
		{
			name: "unique violation maps to ErrEmailExists",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO users`).
					WithArgs(anyArgs(12)...).
					WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})
			},
			wantErr: ErrEmailExists,
		},
		{
			name: "other database error is wrapped",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO users`).
					WithArgs(anyArgs(12)...).
					WillReturnError(errors.New("connection refused"))
			},
			errMsg: "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockPostgres(t)
			tt.setupMock(mock)

			u := testUser(" Alice@Example.com")
			u.ID = "user-1"
			u.Name = "Alice"
			u.PasswordHash = "hash"
			err := s.CreateUser(context.Background(), u)

			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.errMsg != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				assert.NotErrorIs(t, err, ErrEmailExists)
			default:
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		})
	}
}

func TestPostgresStore_GetUserByEmail(t *testing.T) {
	s, mock := newMockPostgres(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	lastLogin := now.Add(time.Hour)

	mock.ExpectQuery(`FROM users WHERE email = \$1`).
		WithArgs("alice@example.com").
		WillReturnRows(pgxmock.NewRows(userCols).
			AddRow("user-1", "Alice", "alice@example.com", "hash", RoleUser, PlanFree,
				true, true, "Acme", "", now, &lastLogin, now))

	u, err := s.GetUserByEmail(context.Background(), "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user-1", u.ID)
	assert.Equal(t, "Acme", u.Company)
	require.NotNil(t, u.LastLogin)
	assert.True(t, u.LastLogin.Equal(lastLogin))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetUserNotFound(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectQuery(`FROM users WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetUser(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetUserActiveMissing(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectExec(`UPDATE users SET is_active`).
		WithArgs(false, pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.SetUserActive(context.Background(), "missing", false, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAgentUsesOwnerPredicate(t *testing.T) {
	s, mock := newMockPostgres(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM agents WHERE id = \$1 AND owner_id = \$2`).
		WithArgs("agent-1", "alice").
		WillReturnRows(pgxmock.NewRows(agentCols).
			AddRow("agent-1", "alice", "helper", "", "gpt-x", "", AgentStatusActive,
				[]byte(`{"temperature":0.5}`), now, now))

	a, err := s.GetAgent(context.Background(), "alice", "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "helper", a.Name)
	assert.Equal(t, 0.5, a.Settings["temperature"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateAgentForeignIsNotFound(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectQuery(`UPDATE agents SET name = \$1, updated_at = \$2 WHERE id = \$3 AND owner_id = \$4 RETURNING`).
		WithArgs("renamed", pgxmock.AnyArg(), "agent-1", "mallory").
		WillReturnError(pgx.ErrNoRows)

	name := "renamed"
	_, err := s.UpdateAgent(context.Background(), "mallory", "agent-1", AgentPatch{Name: &name}, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteAgent(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"owned row removed", 1, true},
		{"missing or foreign is a no-op", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockPostgres(t)
			mock.ExpectExec(`DELETE FROM agents WHERE id = \$1 AND owner_id = \$2`).
				WithArgs("agent-1", "alice").
				WillReturnResult(pgxmock.NewResult("DELETE", tt.affected))

			deleted, err := s.DeleteAgent(context.Background(), "alice", "agent-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, deleted)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_ListConversationsComposesFilters(t *testing.T) {
	s, mock := newMockPostgres(t)
	now := time.Now().UTC()
	agentID := "agent-1"

	mock.ExpectQuery(`WHERE c.owner_id = \$1 AND c.status = \$2 AND c.agent_id = \$3 ORDER BY`).
		WithArgs("alice", ConversationStatusOpen, agentID).
		WillReturnRows(pgxmock.NewRows(conversationCols).
			AddRow("conv-1", "alice", &agentID, "helper", "hi", "web", "", ConversationStatusOpen, now, now))

	convs, err := s.ListConversations(context.Background(), "alice",
		ConversationFilter{Status: ConversationStatusOpen, AgentID: agentID})
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "helper", convs[0].AgentName)
	require.NotNil(t, convs[0].AgentID)
	assert.Equal(t, agentID, *convs[0].AgentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendMessage(t *testing.T) {
	msg := &Message{
		ID:             "msg-1",
		OwnerID:        "alice",
		ConversationID: "conv-1",
		Sender:         SenderUser,
		Content:        "hello",
		Timestamp:      time.Now().UTC(),
	}

	t.Run("commits when conversation is owned", func(t *testing.T) {
		s, mock := newMockPostgres(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE conversations SET updated_at`).
			WithArgs(pgxmock.AnyArg(), "conv-1", "alice").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(`INSERT INTO messages`).
			WithArgs("msg-1", "alice", "conv-1", SenderUser, "hello", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		require.NoError(t, s.AppendMessage(context.Background(), msg))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back when conversation is foreign", func(t *testing.T) {
		s, mock := newMockPostgres(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE conversations SET updated_at`).
			WithArgs(pgxmock.AnyArg(), "conv-1", "alice").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectRollback()

		err := s.AppendMessage(context.Background(), msg)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_ListMessagesForeignConversation(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectQuery(`SELECT 1 FROM conversations WHERE id = \$1 AND owner_id = \$2`).
		WithArgs("conv-1", "mallory").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.ListMessages(context.Background(), "mallory", "conv-1", 10)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
