package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts travel as JSON numbers, not quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// MaxAmount is the largest amount a NUMERIC(14, 2) column holds.
var MaxAmount = decimal.RequireFromString("999999999999.99")

// DateLayout is the calendar date format used on the wire and in storage.
const DateLayout = "2006-01-02"

var dateLayouts = []string{DateLayout, time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04:05"}

// Date is a calendar date in YYYY-MM-DD form. The zero value means unset.
type Date string

// ParseDate accepts a plain date or a timestamp and keeps only its calendar day.
func ParseDate(raw string) (Date, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return DateOf(t), nil
		}
	}
	return "", ValidationError{Field: "date", Message: "date must be formatted as YYYY-MM-DD"}
}

// DateOf returns the calendar day of t in t's location.
func DateOf(t time.Time) Date {
	return Date(t.Format(DateLayout))
}

func (d Date) IsZero() bool {
	return d == ""
}

// Time returns midnight UTC of the date.
func (d Date) Time() time.Time {
	t, _ := time.Parse(DateLayout, string(d))
	return t
}

func (d Date) String() string {
	return string(d)
}

// TxType distinguishes money coming in from money going out.
type TxType string

const (
	TxIncome  TxType = "income"
	TxExpense TxType = "expense"
)

// ParseTxType validates a transaction type name.
func ParseTxType(raw string) (TxType, error) {
	switch t := TxType(strings.ToLower(strings.TrimSpace(raw))); t {
	case TxIncome, TxExpense:
		return t, nil
	}
	return "", ValidationError{Field: "type", Message: "type must be income or expense"}
}

// Transaction is a single ledger row owned by one user.
type Transaction struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
	Type        TxType          `json:"type"`
	Date        Date            `json:"date"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}

// TransactionInput is an unvalidated create or update payload.
type TransactionInput struct {
	Amount      string
	Category    string
	Type        string
	Date        string
	Description string
}

// TransactionFields are the editable columns of a transaction after validation.
type TransactionFields struct {
	Amount      decimal.Decimal
	Category    string
	Type        TxType
	Date        Date
	Description string
}

// Validate checks the input and fills defaults. A missing date becomes today
// unless requireDate is set.
func (in TransactionInput) Validate(today Date, requireDate bool) (TransactionFields, error) {
	var f TransactionFields
	rawAmount := strings.TrimSpace(in.Amount)
	f.Category = strings.TrimSpace(in.Category)
	if rawAmount == "" || rawAmount == "null" || f.Category == "" || strings.TrimSpace(in.Type) == "" {
		return f, ValidationError{Field: "amount", Message: "amount, category, and type are required"}
	}

	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		return f, ValidationError{Field: "amount", Message: "amount must be a positive number"}
	}
	if amount.GreaterThan(MaxAmount) {
		return f, ValidationError{Field: "amount", Message: "amount must not exceed " + MaxAmount.String()}
	}
	f.Amount = amount.Round(2)
	if !f.Amount.IsPositive() || f.Amount.GreaterThan(MaxAmount) {
		return f, ValidationError{Field: "amount", Message: "amount must be a positive number"}
	}

	if f.Type, err = ParseTxType(in.Type); err != nil {
		return f, err
	}

	switch {
	case strings.TrimSpace(in.Date) != "":
		if f.Date, err = ParseDate(in.Date); err != nil {
			return f, err
		}
	case requireDate:
		return f, ValidationError{Field: "date", Message: "date is required"}
	default:
		f.Date = today
	}

	f.Description = strings.TrimSpace(in.Description)
	return f, nil
}
