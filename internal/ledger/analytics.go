package ledger

import (
	"context"
	"strconv"

	"finance-ledger/internal/cache"
	"finance-ledger/internal/models"
	"finance-ledger/internal/storage"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AnalyticsQuery bounds the summary and category breakdown by date and picks
// the year of the monthly series. A zero Year means the current year.
type AnalyticsQuery struct {
	From models.Date
	To   models.Date
	Year int
}

// Report is the analytics view of a user's ledger.
type Report struct {
	Summary  storage.Summary         `json:"summary"`
	Expenses []storage.CategoryTotal `json:"expensesByCategory"`
	Income   []storage.CategoryTotal `json:"incomeByCategory"`
	Year     int                     `json:"year"`
	Monthly  []storage.MonthTotal    `json:"monthly"`
}

// Analytics returns the caller's report, computed on a cache miss.
func (s *Service) Analytics(ctx context.Context, id models.Identity, q AnalyticsQuery) (r Report, err error) {
	ctx, span := tracer.Start(ctx, "ledger.Analytics", trace.WithAttributes(attribute.Int64("user.id", id.UserID)))
	defer func() { finish(span, err) }()

	if q.Year == 0 {
		q.Year = s.now().Year()
	}
	field := cache.Field("summary", q.From.String(), q.To.String(), strconv.Itoa(q.Year))
	if s.cached(ctx, span, cache.Analytics, id.UserID, field, &r) {
		return r, nil
	}

	r = Report{Year: q.Year}
	if r.Summary, err = s.store.Summary(ctx, id.UserID, q.From, q.To); err != nil {
		return Report{}, err
	}
	if r.Expenses, err = s.store.CategoryTotals(ctx, id.UserID, models.TxExpense, q.From, q.To); err != nil {
		return Report{}, err
	}
	if r.Income, err = s.store.CategoryTotals(ctx, id.UserID, models.TxIncome, q.From, q.To); err != nil {
		return Report{}, err
	}
	if r.Monthly, err = s.store.MonthlyTotals(ctx, id.UserID, q.Year); err != nil {
		return Report{}, err
	}

	s.populate(ctx, cache.Analytics, id.UserID, field, r)
	return r, nil
}
