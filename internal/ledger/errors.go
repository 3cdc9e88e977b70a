package ledger

import (
	"errors"

	"finance-ledger/internal/storage"
)

var (
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidCredentials = errors.New("invalid email or password")

	ErrNotFound = storage.ErrNotFound
	ErrConflict = storage.ErrConflict
)
