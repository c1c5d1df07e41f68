// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Owner-scoped persistence for users, agents, conversations and messages

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/oops"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so that text columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// Parent directories are created if needed and migrations are applied.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection serialises writers; every query in a transaction
	// must therefore go through the tx, never s.db.
	db.SetMaxOpenConns(1)

	if err := Migrate(ctx, db, DialectSQLite); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return &SQLiteStore{db: db, logger: logger}, nil
}

// DB exposes the underlying handle for migration tooling.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ---- users ----

const userColumns = `id, name, email, password_hash, role, plan, is_active, email_verified,
	company, phone, created_at, last_login, updated_at`

// CreateUser inserts a user. A duplicate email yields ErrEmailExists.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)
	`,
		u.ID, u.Name, NormalizeEmail(u.Email), u.PasswordHash, u.Role, u.Plan,
		boolToInt(u.IsActive), boolToInt(u.EmailVerified), u.Company, u.Phone,
		formatTime(u.CreatedAt), formatTime(u.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrEmailExists
		}
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			Wrap(err)
	}

	s.logger.Debug("created user", "id", u.ID)
	return nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanSQLiteUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").With("id", id).Wrap(err)
	}
	return u, nil
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, NormalizeEmail(email))
	u, err := scanSQLiteUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_EMAIL_FAILED").Wrap(err)
	}
	return u, nil
}

func (s *SQLiteStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_login = ?, updated_at = ? WHERE id = ?`,
		formatTime(at), formatTime(at), id)
	if err != nil {
		return oops.Code("USER_TOUCH_FAILED").With("id", id).Wrap(err)
	}
	return requireAffected(res)
}

func (s *SQLiteStore) SetUserActive(ctx context.Context, id string, active bool, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), formatTime(at), id)
	if err != nil {
		return oops.Code("USER_SET_ACTIVE_FAILED").With("id", id).Wrap(err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSQLiteUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var isActive, emailVerified int
	var createdAt, updatedAt string
	var lastLogin sql.NullString

	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.Plan,
		&isActive, &emailVerified, &u.Company, &u.Phone, &createdAt, &lastLogin, &updatedAt); err != nil {
		return nil, err
	}
	u.IsActive = isActive != 0
	u.EmailVerified = emailVerified != 0

	var err error
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if u.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		t, err := parseTime(lastLogin.String)
		if err != nil {
			return nil, err
		}
		u.LastLogin = &t
	}
	return &u, nil
}

// ---- agents ----

const agentColumns = `id, owner_id, name, description, model, system_prompt, status, settings, created_at, updated_at`

func (s *SQLiteStore) CreateAgent(ctx context.Context, a *Agent) error {
	settings, err := marshalSettings(a.Settings)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (`+agentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, a.OwnerID, a.Name, a.Description, a.Model, a.SystemPrompt, a.Status, settings,
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		return oops.Code("AGENT_CREATE_FAILED").
			With("operation", "insert agent").
			With("owner_id", a.OwnerID).
			Wrap(err)
	}
	return nil
}

func (s *SQLiteStore) GetAgent(ctx context.Context, ownerID, id string) (*Agent, error) {
	return s.getAgent(ctx, s.db, ownerID, id)
}

type sqliteQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) getAgent(ctx context.Context, q sqliteQuerier, ownerID, id string) (*Agent, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = ? AND owner_id = ?`, id, ownerID)
	a, err := scanSQLiteAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, oops.Code("AGENT_GET_FAILED").With("id", id).Wrap(err)
	}
	return a, nil
}

func (s *SQLiteStore) ListAgents(ctx context.Context, ownerID string) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+agentColumns+`
		FROM agents
		WHERE owner_id = ?
		ORDER BY created_at DESC, rowid DESC
	`, ownerID)
	if err != nil {
		return nil, oops.Code("AGENT_LIST_FAILED").With("owner_id", ownerID).Wrap(err)
	}
	defer rows.Close()

	agents := []*Agent{}
	for rows.Next() {
		a, err := scanSQLiteAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent row: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent rows: %w", err)
	}
	return agents, nil
}

func (s *SQLiteStore) UpdateAgent(ctx context.Context, ownerID, id string, patch AgentPatch, at time.Time) (*Agent, error) {
	sets, args, err := agentPatchClauses(patch, "?")
	if err != nil {
		return nil, err
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(at), id, ownerID)

	var updated *Agent
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE agents SET `+strings.Join(sets, ", ")+` WHERE id = ? AND owner_id = ?`, args...)
		if err != nil {
			return oops.Code("AGENT_UPDATE_FAILED").With("id", id).Wrap(err)
		}
		if err := requireAffected(res); err != nil {
			return err
		}
		updated, err = s.getAgent(ctx, tx, ownerID, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// agentPatchClauses builds SET fragments for the non-nil fields of patch.
// placeholder is "?" for sqlite; postgres passes "$" and gets numbered params.
func agentPatchClauses(patch AgentPatch, placeholder string) ([]string, []any, error) {
	var sets []string
	var args []any
	add := func(col string, val any) {
		args = append(args, val)
		if placeholder == "$" {
			sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
		} else {
			sets = append(sets, col+" = ?")
		}
	}

	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.Model != nil {
		add("model", *patch.Model)
	}
	if patch.SystemPrompt != nil {
		add("system_prompt", *patch.SystemPrompt)
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.Settings != nil {
		settings, err := marshalSettings(patch.Settings)
		if err != nil {
			return nil, nil, err
		}
		add("settings", settings)
	}
	return sets, args, nil
}

func (s *SQLiteStore) DeleteAgent(ctx context.Context, ownerID, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return false, oops.Code("AGENT_DELETE_FAILED").With("id", id).Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n > 0, nil
}

func marshalSettings(settings map[string]any) (string, error) {
	if settings == nil {
		return "{}", nil
	}
	b, err := json.Marshal(settings)
	if err != nil {
		return "", oops.Code("AGENT_SETTINGS_INVALID").With("operation", "marshal settings").Wrap(err)
	}
	return string(b), nil
}

func unmarshalSettings(raw []byte, a *Agent) error {
	a.Settings = map[string]any{}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &a.Settings); err != nil {
		return fmt.Errorf("decoding agent settings: %w", err)
	}
	return nil
}

func scanSQLiteAgent(row interface{ Scan(...any) error }) (*Agent, error) {
	var a Agent
	var settings, createdAt, updatedAt string
	if err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &a.Description, &a.Model, &a.SystemPrompt,
		&a.Status, &settings, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalSettings([]byte(settings), &a); err != nil {
		return nil, err
	}
	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// ---- conversations ----

const conversationSelect = `
	SELECT c.id, c.owner_id, c.agent_id, COALESCE(a.name, ''), c.title, c.channel, c.contact,
	       c.status, c.created_at, c.updated_at
	FROM conversations c
	LEFT JOIN agents a ON a.id = c.agent_id AND a.owner_id = c.owner_id
`

func (s *SQLiteStore) CreateConversation(ctx context.Context, c *Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, owner_id, agent_id, title, channel, contact, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.OwnerID, c.AgentID, c.Title, c.Channel, c.Contact, c.Status,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		return oops.Code("CONVERSATION_CREATE_FAILED").
			With("operation", "insert conversation").
			With("owner_id", c.OwnerID).
			Wrap(err)
	}
	return nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, ownerID, id string) (*Conversation, error) {
	return s.getConversation(ctx, s.db, ownerID, id)
}

func (s *SQLiteStore) getConversation(ctx context.Context, q sqliteQuerier, ownerID, id string) (*Conversation, error) {
	row := q.QueryRowContext(ctx, conversationSelect+` WHERE c.id = ? AND c.owner_id = ?`, id, ownerID)
	c, err := scanSQLiteConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, oops.Code("CONVERSATION_GET_FAILED").With("id", id).Wrap(err)
	}
	return c, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, ownerID string, filter ConversationFilter) ([]*Conversation, error) {
	query := conversationSelect + ` WHERE c.owner_id = ?`
	args := []any{ownerID}
	if filter.Status != "" {
		query += ` AND c.status = ?`
		args = append(args, filter.Status)
	}
	if filter.AgentID != "" {
		query += ` AND c.agent_id = ?`
		args = append(args, filter.AgentID)
	}
	query += ` ORDER BY c.created_at DESC, c.rowid DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, oops.Code("CONVERSATION_LIST_FAILED").With("owner_id", ownerID).Wrap(err)
	}
	defer rows.Close()

	convs := []*Conversation{}
	for rows.Next() {
		c, err := scanSQLiteConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}
	return convs, nil
}

func (s *SQLiteStore) UpdateConversation(ctx context.Context, ownerID, id string, patch ConversationPatch, at time.Time) (*Conversation, error) {
	sets, args := conversationPatchClauses(patch, "?")
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(at), id, ownerID)

	var updated *Conversation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE conversations SET `+strings.Join(sets, ", ")+` WHERE id = ? AND owner_id = ?`, args...)
		if err != nil {
			return oops.Code("CONVERSATION_UPDATE_FAILED").With("id", id).Wrap(err)
		}
		if err := requireAffected(res); err != nil {
			return err
		}
		updated, err = s.getConversation(ctx, tx, ownerID, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func conversationPatchClauses(patch ConversationPatch, placeholder string) ([]string, []any) {
	var sets []string
	var args []any
	add := func(col string, val any) {
		args = append(args, val)
		if placeholder == "$" {
			sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
		} else {
			sets = append(sets, col+" = ?")
		}
	}
	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	return sets, args
}

func scanSQLiteConversation(row interface{ Scan(...any) error }) (*Conversation, error) {
	var c Conversation
	var agentID sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&c.ID, &c.OwnerID, &agentID, &c.AgentName, &c.Title, &c.Channel, &c.Contact,
		&c.Status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if agentID.Valid {
		c.AgentID = &agentID.String
	}
	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// ---- messages ----

// AppendMessage stores msg after checking the conversation belongs to msg.OwnerID.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE conversations SET updated_at = ? WHERE id = ? AND owner_id = ?`,
			formatTime(msg.Timestamp), msg.ConversationID, msg.OwnerID)
		if err != nil {
			return oops.Code("MESSAGE_APPEND_FAILED").With("operation", "touch conversation").Wrap(err)
		}
		if err := requireAffected(res); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (id, owner_id, conversation_id, sender, content, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)
		`, msg.ID, msg.OwnerID, msg.ConversationID, msg.Sender, msg.Content, formatTime(msg.Timestamp))
		if err != nil {
			return oops.Code("MESSAGE_APPEND_FAILED").
				With("operation", "insert message").
				With("conversation_id", msg.ConversationID).
				Wrap(err)
		}
		return nil
	})
}

// ListMessages returns the most recent messages of an owned conversation in
// chronological order. An unknown or foreign conversation yields ErrNotFound.
func (s *SQLiteStore) ListMessages(ctx context.Context, ownerID, conversationID string, limit int) ([]*Message, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM conversations WHERE id = ? AND owner_id = ?`, conversationID, ownerID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, oops.Code("MESSAGE_LIST_FAILED").With("conversation_id", conversationID).Wrap(err)
	}

	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, conversation_id, sender, content, timestamp
		FROM (
			SELECT id, owner_id, conversation_id, sender, content, timestamp, rowid AS seq
			FROM messages
			WHERE conversation_id = ? AND owner_id = ?
			ORDER BY timestamp DESC, rowid DESC
			LIMIT ?
		)
		ORDER BY timestamp ASC, seq ASC
	`, conversationID, ownerID, limit)
	if err != nil {
		return nil, oops.Code("MESSAGE_LIST_FAILED").With("conversation_id", conversationID).Wrap(err)
	}
	defer rows.Close()

	messages := []*Message{}
	for rows.Next() {
		var m Message
		var ts string
		if err := rows.Scan(&m.ID, &m.OwnerID, &m.ConversationID, &m.Sender, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		if m.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}
