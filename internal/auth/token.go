// Package auth hashes passwords and issues and verifies signed session tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"finance-ledger/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenTTL is how long an issued session token stays valid.
const TokenTTL = 7 * 24 * time.Hour

var (
	ErrMalformed    = errors.New("auth: malformed token")
	ErrBadSignature = errors.New("auth: bad token signature")
	ErrExpired      = errors.New("auth: token expired")
)

type claims struct {
	UserID int64       `json:"id"`
	Role   models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Codec signs and verifies HS256 session tokens. It holds no per-session state.
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

type CodecOption func(*Codec)

// WithClock replaces the time source used for issuing and verifying.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) { c.now = now }
}

// WithTTL overrides TokenTTL.
func WithTTL(ttl time.Duration) CodecOption {
	return func(c *Codec) { c.ttl = ttl }
}

func NewCodec(secret []byte, opts ...CodecOption) *Codec {
	c := &Codec{secret: secret, ttl: TokenTTL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Issue returns a signed token for the identity and the moment it expires.
func (c *Codec) Issue(userID int64, role models.Role) (string, time.Time, error) {
	now := c.now()
	expiresAt := now.Add(c.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature and expiry and returns the embedded identity.
// Claims are not otherwise validated.
func (c *Codec) Verify(token string) (models.Identity, error) {
	var cl claims
	_, err := jwt.ParseWithClaims(token, &cl, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	switch {
	case err == nil:
		return models.Identity{UserID: cl.UserID, Role: cl.Role}, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return models.Identity{}, ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return models.Identity{}, ErrBadSignature
	default:
		return models.Identity{}, ErrMalformed
	}
}
