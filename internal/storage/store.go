// Package storage persists users and ledger transactions. Every statement binds
// caller values as parameters; query text is assembled only from fixed fragments.
package storage

import (
	"context"
	"math"
	"time"

	"finance-ledger/internal/models"

	"github.com/shopspring/decimal"
)

// DefaultTimeout bounds every statement issued by a store.
const DefaultTimeout = 5 * time.Second

// ListFilter holds the optional predicates of a transaction listing.
// Zero fields impose no condition.
type ListFilter struct {
	Category string
	Type     models.TxType
	From     models.Date
	To       models.Date
}

// Summary aggregates a user's transactions over a date range.
type Summary struct {
	Income   decimal.Decimal `json:"income"`
	Expenses decimal.Decimal `json:"expenses"`
	Balance  decimal.Decimal `json:"balance"`
	Count    int             `json:"count"`
}

type CategoryTotal struct {
	Category string          `json:"category"`
	Total    decimal.Decimal `json:"total"`
	Count    int             `json:"count"`
}

// MonthTotal is one YYYY-MM bucket of income and expenses.
type MonthTotal struct {
	Month    string          `json:"month"`
	Income   decimal.Decimal `json:"income"`
	Expenses decimal.Decimal `json:"expenses"`
}

// Ledger reads and writes transactions.
type Ledger interface {
	ListTransactions(ctx context.Context, userID int64, filter ListFilter, page, limit int) ([]models.Transaction, int, error)
	InsertTransaction(ctx context.Context, userID int64, input models.TransactionInput) (models.Transaction, error)
	GetTransaction(ctx context.Context, id int64) (models.Transaction, error)
	TransactionOwner(ctx context.Context, id int64) (int64, error)
	UpdateTransaction(ctx context.Context, id int64, input models.TransactionInput) (models.Transaction, error)
	DeleteTransaction(ctx context.Context, id int64) error
}

// Analytics computes aggregates over a user's transactions.
type Analytics interface {
	Summary(ctx context.Context, userID int64, from, to models.Date) (Summary, error)
	CategoryTotals(ctx context.Context, userID int64, txType models.TxType, from, to models.Date) ([]CategoryTotal, error)
	MonthlyTotals(ctx context.Context, userID int64, year int) ([]MonthTotal, error)
}

// Users is the credential store.
type Users interface {
	CreateUser(ctx context.Context, email, passwordHash string, role models.Role) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UserCount(ctx context.Context) (int, error)
}

// Store is implemented by each database backend.
type Store interface {
	Ledger
	Analytics
	Users
	Close() error
}

// offset saturates at math.MaxInt instead of wrapping negative.
func offset(page, limit int) int {
	if page < 1 {
		page = 1
	}
	if limit > 0 && page-1 > math.MaxInt/limit {
		return math.MaxInt
	}
	return (page - 1) * limit
}

func addTotals(s *Summary, txType models.TxType, total decimal.Decimal, count int) {
	switch txType {
	case models.TxIncome:
		s.Income = s.Income.Add(total)
	case models.TxExpense:
		s.Expenses = s.Expenses.Add(total)
	}
	s.Count += count
	s.Balance = s.Income.Sub(s.Expenses)
}

func addMonth(months []MonthTotal, month string, txType models.TxType, total decimal.Decimal) []MonthTotal {
	if n := len(months); n == 0 || months[n-1].Month != month {
		months = append(months, MonthTotal{Month: month})
	}
	m := &months[len(months)-1]
	switch txType {
	case models.TxIncome:
		m.Income = m.Income.Add(total)
	case models.TxExpense:
		m.Expenses = m.Expenses.Add(total)
	}
	return months
}
