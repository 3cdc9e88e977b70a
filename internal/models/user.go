package models

import (
	"strings"
	"time"
)

// MinPasswordLength is the shortest password accepted at registration.
const MinPasswordLength = 6

// Role is the access level carried in a session token.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole maps a raw role name to a Role. An empty value yields RoleUser.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case "", RoleUser:
		return RoleUser, nil
	case RoleAdmin:
		return RoleAdmin, nil
	}
	return "", ValidationError{Field: "role", Message: "role must be user or admin"}
}

// User represents a user account.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Identity is the verified caller attached to a request.
type Identity struct {
	UserID int64 `json:"id"`
	Role   Role  `json:"role"`
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// CanModify reports whether the identity may change a row owned by ownerID.
func (i Identity) CanModify(ownerID int64) bool {
	return i.UserID == ownerID || i.IsAdmin()
}

// NormalizeEmail lowercases and trims an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateCredentials checks the registration inputs.
func ValidateCredentials(email, password string) error {
	if NormalizeEmail(email) == "" || password == "" {
		return ValidationError{Field: "email", Message: "email and password are required"}
	}
	if len(password) < MinPasswordLength {
		return ValidationError{Field: "password", Message: "password must be at least 6 characters"}
	}
	return nil
}
