// ABOUTME: PostgreSQL implementation of the Store interface using pgx/v5
// ABOUTME: Connects with retry, runs goose migrations and maps unique violations

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// poolIface is the subset of pgxpool.Pool used by PostgresStore.
// pgxmock.PgxPoolIface satisfies it in tests.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements the Store interface using PostgreSQL
type PostgresStore struct {
	pool   poolIface
	db     *sql.DB // database/sql view of the pool for goose; nil in tests
	logger *slog.Logger
}

// NewPostgresStore wraps an existing pool. Migrations are not run.
func NewPostgresStore(pool poolIface) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		logger: slog.Default().With("component", "store"),
	}
}

// OpenPostgres connects to dsn, retrying with exponential backoff up to
// retries times, then applies migrations.
func OpenPostgres(ctx context.Context, dsn string, retries int) (*PostgresStore, error) {
	logger := slog.Default().With("component", "store")

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database dsn: %w", err)
	}

	var pool *pgxpool.Pool
	backoff := retry.WithMaxRetries(uint64(retries), retry.NewExponential(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		p, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return retry.RetryableError(err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			logger.Warn("postgres not reachable, retrying", "error", err)
			return retry.RetryableError(err)
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	if err := Migrate(ctx, db, DialectPostgres); err != nil {
		db.Close()
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("Postgres store initialized", "host", poolCfg.ConnConfig.Host, "database", poolCfg.ConnConfig.Database)
	return &PostgresStore{pool: pool, db: db, logger: logger}, nil
}

// DB exposes the database/sql handle for migration tooling. Nil for stores
// built with NewPostgresStore.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.logger.Info("closing Postgres store")
	var err error
	if s.db != nil {
		err = s.db.Close()
	}
	s.pool.Close()
	return err
}

// inTx runs fn in a transaction, committing on success and rolling back on error.
func (s *PostgresStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return oops.Code("TX_BEGIN_FAILED").Wrap(err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			s.logger.Warn("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return oops.Code("TX_COMMIT_FAILED").Wrap(err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// ---- users ----

func (s *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULL, $12)
	`,
		u.ID, u.Name, NormalizeEmail(u.Email), u.PasswordHash, u.Role, u.Plan,
		u.IsActive, u.EmailVerified, u.Company, u.Phone, u.CreatedAt.UTC(), u.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailExists
		}
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			Wrap(err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanPostgresUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").With("id", id).Wrap(err)
	}
	return u, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, NormalizeEmail(email))
	u, err := scanPostgresUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_EMAIL_FAILED").Wrap(err)
	}
	return u, nil
}

func (s *PostgresStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET last_login = $1, updated_at = $1 WHERE id = $2`, at.UTC(), id)
	if err != nil {
		return oops.Code("USER_TOUCH_FAILED").With("id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetUserActive(ctx context.Context, id string, active bool, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET is_active = $1, updated_at = $2 WHERE id = $3`, active, at.UTC(), id)
	if err != nil {
		return oops.Code("USER_SET_ACTIVE_FAILED").With("id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPostgresUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.Plan,
		&u.IsActive, &u.EmailVerified, &u.Company, &u.Phone, &u.CreatedAt, &u.LastLogin, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// ---- agents ----

func (s *PostgresStore) CreateAgent(ctx context.Context, a *Agent) error {
	settings, err := marshalSettings(a.Settings)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO agents (`+agentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		a.ID, a.OwnerID, a.Name, a.Description, a.Model, a.SystemPrompt, a.Status, []byte(settings),
		a.CreatedAt.UTC(), a.UpdatedAt.UTC(),
	)
	if err != nil {
		return oops.Code("AGENT_CREATE_FAILED").
			With("operation", "insert agent").
			With("owner_id", a.OwnerID).
			Wrap(err)
	}
	return nil
}

func (s *PostgresStore) GetAgent(ctx context.Context, ownerID, id string) (*Agent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = $1 AND owner_id = $2`, id, ownerID)
	a, err := scanPostgresAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, oops.Code("AGENT_GET_FAILED").With("id", id).Wrap(err)
	}
	return a, nil
}

func (s *PostgresStore) ListAgents(ctx context.Context, ownerID string) ([]*Agent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+agentColumns+`
		FROM agents
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
	`, ownerID)
	if err != nil {
		return nil, oops.Code("AGENT_LIST_FAILED").With("owner_id", ownerID).Wrap(err)
	}
	defer rows.Close()

	agents := []*Agent{}
	for rows.Next() {
		a, err := scanPostgresAgent(rows)
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

func (s *PostgresStore) UpdateAgent(ctx context.Context, ownerID, id string, patch AgentPatch, at time.Time) (*Agent, error) {
	sets, args, err := agentPatchClauses(patch, "$")
	if err != nil {
		return nil, err
	}
	args = append(args, at.UTC())
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))
	args = append(args, id, ownerID)

	query := fmt.Sprintf(`UPDATE agents SET %s WHERE id = $%d AND owner_id = $%d RETURNING `+agentColumns,
		strings.Join(sets, ", "), len(args)-1, len(args))

	a, err := scanPostgresAgent(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, oops.Code("AGENT_UPDATE_FAILED").With("id", id).Wrap(err)
	}
	return a, nil
}

func (s *PostgresStore) DeleteAgent(ctx context.Context, ownerID, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM agents WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return false, oops.Code("AGENT_DELETE_FAILED").With("id", id).Wrap(err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanPostgresAgent(row pgx.Row) (*Agent, error) {
	var a Agent
	var settings []byte
	if err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &a.Description, &a.Model, &a.SystemPrompt,
		&a.Status, &settings, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalSettings(settings, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// ---- conversations ----

const pgConversationSelect = `
	SELECT c.id, c.owner_id, c.agent_id, COALESCE(a.name, ''), c.title, c.channel, c.contact,
	       c.status, c.created_at, c.updated_at
	FROM conversations c
	LEFT JOIN agents a ON a.id = c.agent_id AND a.owner_id = c.owner_id
`

func (s *PostgresStore) CreateConversation(ctx context.Context, c *Conversation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (id, owner_id, agent_id, title, channel, contact, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		c.ID, c.OwnerID, c.AgentID, c.Title, c.Channel, c.Contact, c.Status,
		c.CreatedAt.UTC(), c.UpdatedAt.UTC(),
	)
	if err != nil {
		return oops.Code("CONVERSATION_CREATE_FAILED").
			With("operation", "insert conversation").
			With("owner_id", c.OwnerID).
			Wrap(err)
	}
	return nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, ownerID, id string) (*Conversation, error) {
	return getPostgresConversation(ctx, s.pool, ownerID, id)
}

func getPostgresConversation(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, ownerID, id string) (*Conversation, error) {
	row := q.QueryRow(ctx, pgConversationSelect+` WHERE c.id = $1 AND c.owner_id = $2`, id, ownerID)
	c, err := scanPostgresConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, oops.Code("CONVERSATION_GET_FAILED").With("id", id).Wrap(err)
	}
	return c, nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, ownerID string, filter ConversationFilter) ([]*Conversation, error) {
	query := pgConversationSelect + ` WHERE c.owner_id = $1`
	args := []any{ownerID}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(` AND c.status = $%d`, len(args))
	}
	if filter.AgentID != "" {
		args = append(args, filter.AgentID)
		query += fmt.Sprintf(` AND c.agent_id = $%d`, len(args))
	}
	query += ` ORDER BY c.created_at DESC, c.id DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, oops.Code("CONVERSATION_LIST_FAILED").With("owner_id", ownerID).Wrap(err)
	}
	defer rows.Close()

	convs := []*Conversation{}
	for rows.Next() {
		c, err := scanPostgresConversation(rows)
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

func (s *PostgresStore) UpdateConversation(ctx context.Context, ownerID, id string, patch ConversationPatch, at time.Time) (*Conversation, error) {
	sets, args := conversationPatchClauses(patch, "$")
	args = append(args, at.UTC())
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))
	args = append(args, id, ownerID)

	var updated *Conversation
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			fmt.Sprintf(`UPDATE conversations SET %s WHERE id = $%d AND owner_id = $%d`,
				strings.Join(sets, ", "), len(args)-1, len(args)),
			args...)
		if err != nil {
			return oops.Code("CONVERSATION_UPDATE_FAILED").With("id", id).Wrap(err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		updated, err = getPostgresConversation(ctx, tx, ownerID, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func scanPostgresConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	if err := row.Scan(&c.ID, &c.OwnerID, &c.AgentID, &c.AgentName, &c.Title, &c.Channel, &c.Contact,
		&c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// ---- messages ----

func (s *PostgresStore) AppendMessage(ctx context.Context, msg *Message) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE conversations SET updated_at = $1 WHERE id = $2 AND owner_id = $3`,
			msg.Timestamp.UTC(), msg.ConversationID, msg.OwnerID)
		if err != nil {
			return oops.Code("MESSAGE_APPEND_FAILED").With("operation", "touch conversation").Wrap(err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO messages (id, owner_id, conversation_id, sender, content, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, msg.ID, msg.OwnerID, msg.ConversationID, msg.Sender, msg.Content, msg.Timestamp.UTC())
		if err != nil {
			return oops.Code("MESSAGE_APPEND_FAILED").
				With("operation", "insert message").
				With("conversation_id", msg.ConversationID).
				Wrap(err)
		}
		return nil
	})
}

func (s *PostgresStore) ListMessages(ctx context.Context, ownerID, conversationID string, limit int) ([]*Message, error) {
	var exists int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM conversations WHERE id = $1 AND owner_id = $2`, conversationID, ownerID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, oops.Code("MESSAGE_LIST_FAILED").With("conversation_id", conversationID).Wrap(err)
	}

	var limitArg any // NULL means no limit
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, conversation_id, sender, content, timestamp
		FROM (
			SELECT id, owner_id, conversation_id, sender, content, timestamp
			FROM messages
			WHERE conversation_id = $1 AND owner_id = $2
			ORDER BY timestamp DESC, id DESC
			LIMIT $3
		) recent
		ORDER BY timestamp ASC, id ASC
	`, conversationID, ownerID, limitArg)
	if err != nil {
		return nil, oops.Code("MESSAGE_LIST_FAILED").With("conversation_id", conversationID).Wrap(err)
	}
	defer rows.Close()

	messages := []*Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.OwnerID, &m.ConversationID, &m.Sender, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}
