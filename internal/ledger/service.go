// Package ledger implements the transaction and account use cases on top of
// a store and a derived cache.
//
// Every mutation follows the same order: the durable write completes, then the
// owner's cached views are dropped, then the call returns. Cache failures are
// logged and never fail the call.
package ledger

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"strconv"
	"time"

	"finance-ledger/internal/cache"
	"finance-ledger/internal/models"
	"finance-ledger/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

var tracer = otel.Tracer("finance-ledger/internal/ledger")

// Store is the part of storage.Store the ledger service needs.
type Store interface {
	storage.Ledger
	storage.Analytics
}

// Service runs ledger use cases for an authenticated identity.
type Service struct {
	store Store
	cache cache.Cache
	now   func() time.Time
}

func NewService(store Store, c cache.Cache) *Service {
	return &Service{store: store, cache: c, now: time.Now}
}

// ListQuery selects one page of a user's transactions.
type ListQuery struct {
	Page   int
	Limit  int
	Filter storage.ListFilter
}

// Normalize applies the default page and clamps limit to 1..MaxLimit.
func (q ListQuery) Normalize() ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	return q
}

func (q ListQuery) field() string {
	f := q.Filter
	return cache.Field("list", strconv.Itoa(q.Page), strconv.Itoa(q.Limit),
		f.Category, string(f.Type), f.From.String(), f.To.String())
}

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// Page is one listing result. It is also the cached representation.
type Page struct {
	Transactions []models.Transaction `json:"transactions"`
	Pagination   Pagination           `json:"pagination"`
}

// AddTransaction records a transaction owned by the caller.
func (s *Service) AddTransaction(ctx context.Context, id models.Identity, input models.TransactionInput) (t models.Transaction, err error) {
	ctx, span := tracer.Start(ctx, "ledger.AddTransaction", trace.WithAttributes(attribute.Int64("user.id", id.UserID)))
	defer func() { finish(span, err) }()

	t, err = s.store.InsertTransaction(ctx, id.UserID, input)
	if err != nil {
		return models.Transaction{}, err
	}
	s.invalidate(ctx, id.UserID)
	return t, nil
}

// GetTransactions returns a page of the caller's transactions, served from
// the cache when a populated view exists.
func (s *Service) GetTransactions(ctx context.Context, id models.Identity, q ListQuery) (page Page, err error) {
	ctx, span := tracer.Start(ctx, "ledger.GetTransactions", trace.WithAttributes(attribute.Int64("user.id", id.UserID)))
	defer func() { finish(span, err) }()

	q = q.Normalize()
	if q.Page > math.MaxInt/q.Limit {
		return Page{}, models.ValidationError{Field: "page", Message: "page is out of range"}
	}
	field := q.field()
	if s.cached(ctx, span, cache.Transactions, id.UserID, field, &page) {
		return page, nil
	}

	rows, total, err := s.store.ListTransactions(ctx, id.UserID, q.Filter, q.Page, q.Limit)
	if err != nil {
		return Page{}, err
	}
	page = Page{
		Transactions: rows,
		Pagination: Pagination{
			Page:       q.Page,
			Limit:      q.Limit,
			Total:      total,
			TotalPages: int(math.Ceil(float64(total) / float64(q.Limit))),
		},
	}
	s.populate(ctx, cache.Transactions, id.UserID, field, page)
	return page, nil
}

// EditTransaction overwrites a transaction the caller owns, or any
// transaction when the caller is an admin.
func (s *Service) EditTransaction(ctx context.Context, id models.Identity, txID int64, input models.TransactionInput) (t models.Transaction, err error) {
	ctx, span := tracer.Start(ctx, "ledger.EditTransaction", trace.WithAttributes(
		attribute.Int64("user.id", id.UserID), attribute.Int64("transaction.id", txID)))
	defer func() { finish(span, err) }()

	owner, err := s.authorize(ctx, id, txID)
	if err != nil {
		return models.Transaction{}, err
	}
	t, err = s.store.UpdateTransaction(ctx, txID, input)
	if err != nil {
		return models.Transaction{}, err
	}
	s.invalidate(ctx, owner)
	return t, nil
}

// DeleteTransaction removes a transaction under the same rules as EditTransaction.
func (s *Service) DeleteTransaction(ctx context.Context, id models.Identity, txID int64) (err error) {
	ctx, span := tracer.Start(ctx, "ledger.DeleteTransaction", trace.WithAttributes(
		attribute.Int64("user.id", id.UserID), attribute.Int64("transaction.id", txID)))
	defer func() { finish(span, err) }()

	owner, err := s.authorize(ctx, id, txID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTransaction(ctx, txID); err != nil {
		return err
	}
	s.invalidate(ctx, owner)
	return nil
}

func (s *Service) authorize(ctx context.Context, id models.Identity, txID int64) (int64, error) {
	owner, err := s.store.TransactionOwner(ctx, txID)
	if err != nil {
		return 0, err
	}
	if !id.CanModify(owner) {
		return 0, ErrForbidden
	}
	return owner, nil
}

// invalidate drops every cached view of userID. It runs detached from the
// caller's cancellation so a completed write is never left with stale views.
func (s *Service) invalidate(ctx context.Context, userID int64) {
	ctx = context.WithoutCancel(ctx)
	for _, ns := range cache.Namespaces {
		if err := s.cache.Delete(ctx, ns, userID); err != nil {
			log.Printf("cache invalidate failed: key=%s err=%v", cache.Key(ns, userID), err)
		}
	}
}

// cached decodes a populated view into dst and reports whether it was a hit.
func (s *Service) cached(ctx context.Context, span trace.Span, ns cache.Namespace, userID int64, field string, dst any) bool {
	raw, ok, err := s.cache.Get(ctx, ns, userID, field)
	if err != nil {
		log.Printf("cache read failed: key=%s err=%v", cache.Key(ns, userID), err)
		return false
	}
	if ok {
		if err := json.Unmarshal(raw, dst); err != nil {
			log.Printf("cache entry unreadable: key=%s err=%v", cache.Key(ns, userID), err)
			return false
		}
	}
	span.SetAttributes(attribute.Bool("cache.hit", ok))
	return ok
}

func (s *Service) populate(ctx context.Context, ns cache.Namespace, userID int64, field string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		log.Printf("cache encode failed: key=%s err=%v", cache.Key(ns, userID), err)
		return
	}
	if err := s.cache.Set(ctx, ns, userID, field, raw); err != nil {
		log.Printf("cache populate failed: key=%s err=%v", cache.Key(ns, userID), err)
	}
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
