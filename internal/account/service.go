// ABOUTME: Registration, login and profile lookup for gateway users
// ABOUTME: Issues bearer tokens and keeps credential failures indistinguishable to clients

package account

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
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
	"github.com/2389/convo-gateway/internal/errutil"
	"github.com/2389/convo-gateway/internal/metrics"
	"github.com/2389/convo-gateway/internal/store"
)

var tracer = otel.Tracer("convo-gateway/account")

// Password length bounds in bytes. bcrypt ignores input past 72 bytes.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 72
)

// TokenIssuer issues bearer tokens for a user id.
type TokenIssuer interface {
	Issue(userID string) (string, error)
}

// Service implements the account operations.
type Service struct {
	users   store.UserStore
	hasher  auth.PasswordHasher
	tokens  TokenIssuer
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithMetrics records registration and login outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock sets the time source for created_at and last_login.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an account Service.
func NewService(users store.UserStore, hasher auth.PasswordHasher, tokens TokenIssuer, opts ...Option) *Service {
	s := &Service{
		users:  users,
		hasher: hasher,
		tokens: tokens,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "account")
	return s
}

// RegisterInput is the registration payload.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Company  string
	Phone    string
	Role     string
}

// Session is a user together with a freshly issued token.
type Session struct {
	User  *store.User
	Token string
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetAttributes(attribute.String("error.kind", string(apperr.KindOf(err))))
		if apperr.KindOf(err) == apperr.KindInternal {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}

// validEmail accepts a bare address such as "a@x.com" and nothing else.
func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func (in *RegisterInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = store.NormalizeEmail(in.Email)
	in.Role = strings.TrimSpace(in.Role)

	if in.Name == "" {
		return apperr.Invalid("name is required")
	}
	if !validEmail(in.Email) {
		return apperr.Invalid("a valid email is required")
	}
	if n := len(in.Password); n < MinPasswordLength || n > MaxPasswordLength {
		return apperr.Invalid("password must be between %d and %d bytes", MinPasswordLength, MaxPasswordLength)
	}
	switch in.Role {
	case "":
		in.Role = store.RoleUser
	case store.RoleUser, store.RoleAdmin:
	default:
		return apperr.Invalid("role must be user or admin")
	}
	return nil
}

// registerResult labels a Register error for registrations_total.
func registerResult(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindEmailInUse:
		return metrics.ResultEmailInUse
	case apperr.KindInvalidInput:
		return metrics.ResultInvalidInput
	default:
		return metrics.ResultError
	}
}

// Register creates a user and returns it with a token.
func (s *Service) Register(ctx context.Context, in RegisterInput) (sess *Session, err error) {
	ctx, span := tracer.Start(ctx, "account.Register")
	defer func() {
		if err != nil {
			s.metrics.RecordRegistration(registerResult(err))
		} else {
			s.metrics.RecordRegistration(metrics.ResultSuccess)
		}
		endSpan(span, err)
	}()

	if err := in.validate(); err != nil {
		return nil, err
	}

	_, err = s.users.GetUserByEmail(ctx, in.Email)
	switch {
	case err == nil:
		return nil, apperr.New(apperr.KindEmailInUse, nil)
	case !errors.Is(err, store.ErrNotFound):
		return nil, s.internal(ctx, "checking existing email", err, "REGISTER_LOOKUP_FAILED")
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, s.internal(ctx, "hashing password", err, "REGISTER_HASH_FAILED")
	}

	now := s.now()
	user := &store.User{
		ID:            uuid.NewString(),
		Name:          in.Name,
		Email:         in.Email,
		PasswordHash:  digest,
		Role:          in.Role,
		Plan:          store.PlanFree,
		IsActive:      true,
		EmailVerified: true,
		Company:       in.Company,
		Phone:         in.Phone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// The UNIQUE constraint settles concurrent registrations that both
	// passed the lookup above.
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrEmailExists) {
			return nil, apperr.New(apperr.KindEmailInUse, err)
		}
		return nil, s.internal(ctx, "creating user", err, "REGISTER_INSERT_FAILED")
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, s.internal(ctx, "issuing token", err, "TOKEN_ISSUE_FAILED")
	}

	span.SetAttributes(attribute.String("user.id", user.ID))
	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID)
	return &Session{User: user, Token: token}, nil
}

// loginResult labels a Login error for logins_total.
func loginResult(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindInvalidCredentials:
		return metrics.ResultInvalidCredentials
	case apperr.KindAccountDisabled:
		return metrics.ResultDisabled
	case apperr.KindInvalidInput:
		return metrics.ResultInvalidInput
	default:
		return metrics.ResultError
	}
}

// Login verifies credentials and returns the user with a token. Unknown
// emails and wrong passwords produce the same InvalidCredentials error.
func (s *Service) Login(ctx context.Context, email, password string) (sess *Session, err error) {
	ctx, span := tracer.Start(ctx, "account.Login")
	defer func() {
		if err != nil {
			s.metrics.RecordLogin(loginResult(err))
		} else {
			s.metrics.RecordLogin(metrics.ResultSuccess)
		}
		endSpan(span, err)
	}()

	email = store.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperr.Invalid("email and password are required")
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		s.hasher.VerifyDummy(password)
		return nil, apperr.New(apperr.KindInvalidCredentials, errors.New("unknown email"))
	}
	if err != nil {
		return nil, s.internal(ctx, "looking up user", err, "LOGIN_LOOKUP_FAILED")
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, apperr.New(apperr.KindInvalidCredentials, errors.New("password mismatch"))
	}
	if !user.IsActive {
		return nil, apperr.New(apperr.KindAccountDisabled, nil)
	}

	now := s.now()
	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		errutil.LogError(ctx, s.logger, "updating last login", err, "user_id", user.ID)
	} else {
		user.LastLogin = &now
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, s.internal(ctx, "issuing token", err, "TOKEN_ISSUE_FAILED")
	}

	span.SetAttributes(attribute.String("user.id", user.ID))
	return &Session{User: user, Token: token}, nil
}

// Me returns the authenticated caller's profile.
func (s *Service) Me(ctx context.Context) (user *store.User, err error) {
	ctx, span := tracer.Start(ctx, "account.Me")
	defer func() { endSpan(span, err) }()

	id := auth.FromContext(ctx)
	if id == nil {
		return nil, apperr.New(apperr.KindMissingToken, nil)
	}

	user, err = s.users.GetUser(ctx, id.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("user")
	}
	if err != nil {
		return nil, s.internal(ctx, "loading profile", err, "PROFILE_LOOKUP_FAILED")
	}
	if !user.IsActive {
		return nil, apperr.New(apperr.KindAccountDisabled, nil)
	}
	return user, nil
}

// SetActive activates or deactivates the user registered under email.
// Used by the operator CLI.
func (s *Service) SetActive(ctx context.Context, email string, active bool) (*store.User, error) {
	user, err := s.users.GetUserByEmail(ctx, store.NormalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("user")
	}
	if err != nil {
		return nil, oops.Code("USER_LOOKUP_FAILED").With("email", email).Wrap(err)
	}

	if err := s.users.SetUserActive(ctx, user.ID, active, s.now()); err != nil {
		return nil, oops.Code("USER_UPDATE_FAILED").With("user_id", user.ID).Wrap(err)
	}
	user.IsActive = active
	s.logger.InfoContext(ctx, "user activation changed", "user_id", user.ID, "active", active)
	return user, nil
}

// internal logs err with full detail and returns the generic internal error.
func (s *Service) internal(ctx context.Context, msg string, err error, code string) error {
	wrapped := oops.Code(code).With("operation", msg).Wrap(err)
	errutil.LogError(ctx, s.logger, msg, wrapped)
	return apperr.Internal(wrapped)
}
