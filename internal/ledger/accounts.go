package ledger

import (
	"context"
	"errors"
	"log"
	"time"

	"finance-ledger/internal/auth"
	"finance-ledger/internal/models"
	"finance-ledger/internal/storage"

	"go.opentelemetry.io/otel/attribute"
)

// Session is the result of a successful register or login.
type Session struct {
	User      *models.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"-"`
}

// Accounts registers users and exchanges credentials for session tokens.
type Accounts struct {
	users           storage.Users
	codec           *auth.Codec
	allowRoleSignup bool
}

// NewAccounts builds the account use cases. When allowRoleSignup is false a
// registration asking for the admin role is refused.
func NewAccounts(users storage.Users, codec *auth.Codec, allowRoleSignup bool) *Accounts {
	return &Accounts{users: users, codec: codec, allowRoleSignup: allowRoleSignup}
}

// Register creates a user and signs them in.
func (a *Accounts) Register(ctx context.Context, email, password, role string) (sess Session, err error) {
	ctx, span := tracer.Start(ctx, "ledger.Register")
	defer func() { finish(span, err) }()

	if err := models.ValidateCredentials(email, password); err != nil {
		return Session{}, err
	}
	r, err := models.ParseRole(role)
	if err != nil {
		return Session{}, err
	}
	if r == models.RoleAdmin && !a.allowRoleSignup {
		return Session{}, ErrForbidden
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return Session{}, err
	}
	user, err := a.users.CreateUser(ctx, email, hash, r)
	if err != nil {
		return Session{}, err
	}
	span.SetAttributes(attribute.Int64("user.id", user.ID))
	return a.session(user)
}

// Login verifies the credentials. Unknown emails and wrong passwords are
// indistinguishable to the caller.
func (a *Accounts) Login(ctx context.Context, email, password string) (sess Session, err error) {
	ctx, span := tracer.Start(ctx, "ledger.Login")
	defer func() { finish(span, err) }()

	if models.NormalizeEmail(email) == "" || password == "" {
		return Session{}, models.ValidationError{Field: "email", Message: "email and password are required"}
	}

	user, err := a.users.GetUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return Session{}, ErrInvalidCredentials
	}
	span.SetAttributes(attribute.Int64("user.id", user.ID))
	return a.session(user)
}

func (a *Accounts) session(user *models.User) (Session, error) {
	token, expiresAt, err := a.codec.Issue(user.ID, user.Role)
	if err != nil {
		return Session{}, err
	}
	return Session{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

// EnsureAdmin creates an admin account for email unless a user with that
// email already exists. It reports whether a user was created.
func (a *Accounts) EnsureAdmin(ctx context.Context, email, password string) (bool, error) {
	if err := models.ValidateCredentials(email, password); err != nil {
		return false, err
	}
	_, err := a.users.GetUserByEmail(ctx, email)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return false, err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return false, err
	}
	user, err := a.users.CreateUser(ctx, email, hash, models.RoleAdmin)
	if errors.Is(err, storage.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	log.Printf("Created admin user %s (id=%d)", user.Email, user.ID)
	return true, nil
}

func (a *Accounts) UserCount(ctx context.Context) (n int, err error) {
	ctx, span := tracer.Start(ctx, "ledger.UserCount")
	defer func() { finish(span, err) }()
	return a.users.UserCount(ctx)
}
