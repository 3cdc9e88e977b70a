// Package cache holds derived per-user views of the ledger. Entries are
// populated lazily on read and removed wholesale when the user's ledger changes.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Namespace groups the views kept for a user.
type Namespace string

const (
	Transactions Namespace = "transactions"
	Analytics    Namespace = "analytics"
)

// Namespaces lists every namespace a ledger mutation must invalidate.
var Namespaces = []Namespace{Transactions, Analytics}

// ErrUnavailable wraps failures talking to the cache backend.
var ErrUnavailable = errors.New("cache: unavailable")

// Cache stores opaque values under (namespace, user) keys. Each key holds any
// number of fields; Delete drops every field of the key at once.
type Cache interface {
	Get(ctx context.Context, ns Namespace, userID int64, field string) ([]byte, bool, error)
	Set(ctx context.Context, ns Namespace, userID int64, field string, value []byte) error
	Delete(ctx context.Context, ns Namespace, userID int64) error
}

// Key returns the backend key for a namespace and user, e.g. "transactions:42".
func Key(ns Namespace, userID int64) string {
	return string(ns) + ":" + strconv.FormatInt(userID, 10)
}

// Field hashes the parts of a normalized query into a compact field name.
func Field(parts ...string) string {
	return strconv.FormatUint(xxhash.Sum64String(strings.Join(parts, "\x1f")), 16)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
