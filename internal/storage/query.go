package storage

import (
	"fmt"
	"strconv"
	"strings"

	"finance-ledger/internal/models"
)

const transactionColumns = "id, user_id, amount, category, type, date, description, created_at"

// Order is deterministic across equal dates so pages never overlap.
const transactionOrder = " ORDER BY date DESC, created_at DESC, id DESC"

type dialect struct {
	placeholder func(n int) string
	date        func(models.Date) any
	month       string
}

var sqliteDialect = dialect{
	placeholder: func(int) string { return "?" },
	date:        func(d models.Date) any { return string(d) },
	month:       "substr(date, 1, 7)",
}

var postgresDialect = dialect{
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	date:        func(d models.Date) any { return d.Time() },
	month:       "to_char(date, 'YYYY-MM')",
}

// params renders n consecutive placeholders starting at position from.
func (d dialect) params(from, n int) string {
	marks := make([]string, n)
	for i := range marks {
		marks[i] = d.placeholder(from + i)
	}
	return strings.Join(marks, ", ")
}

// Query is an ordered list of predicate clauses plus their bound arguments.
type Query struct {
	d     dialect
	conds []string
	args  []any
}

func newQuery(d dialect) *Query {
	return &Query{d: d}
}

// And appends a predicate. cond is a fixed fragment with exactly one ? marker
// standing for arg.
func (q *Query) And(cond string, arg any) *Query {
	q.conds = append(q.conds, cond)
	q.args = append(q.args, arg)
	return q
}

// Where renders the predicates as a WHERE clause in the query's dialect.
func (q *Query) Where() string {
	var b strings.Builder
	for i, cond := range q.conds {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString(strings.Replace(cond, "?", q.d.placeholder(i+1), 1))
	}
	return b.String()
}

func (q *Query) Args() []any {
	return append([]any(nil), q.args...)
}

// Page renders LIMIT and OFFSET after the predicates and returns the full
// argument list.
func (q *Query) Page(limit, offset int) (string, []any) {
	n := len(q.args)
	clause := fmt.Sprintf(" LIMIT %s OFFSET %s", q.d.placeholder(n+1), q.d.placeholder(n+2))
	return clause, append(q.Args(), limit, offset)
}

func transactionFilter(d dialect, userID int64, f ListFilter) *Query {
	q := newQuery(d).And("user_id = ?", userID)
	if f.Category != "" {
		q.And("category = ?", f.Category)
	}
	if f.Type != "" {
		q.And("type = ?", string(f.Type))
	}
	if !f.From.IsZero() {
		q.And("date >= ?", d.date(f.From))
	}
	if !f.To.IsZero() {
		q.And("date <= ?", d.date(f.To))
	}
	return q
}

type statement struct {
	sql  string
	args []any
}

// listStatements builds the page query and the count query over the same predicates.
func listStatements(d dialect, userID int64, f ListFilter, page, limit int) (list, count statement) {
	q := transactionFilter(d, userID, f)
	where := q.Where()
	pageClause, pageArgs := q.Page(limit, offset(page, limit))
	list = statement{
		sql:  "SELECT " + transactionColumns + " FROM transactions" + where + transactionOrder + pageClause,
		args: pageArgs,
	}
	count = statement{
		sql:  "SELECT COUNT(*) FROM transactions" + where,
		args: q.Args(),
	}
	return list, count
}

func insertStatement(d dialect, userID int64, f models.TransactionFields, createdAt any) statement {
	return statement{
		sql: "INSERT INTO transactions (user_id, amount, category, type, date, description, created_at) VALUES (" +
			d.params(1, 7) + ") RETURNING " + transactionColumns,
		args: []any{userID, f.Amount.String(), f.Category, string(f.Type), d.date(f.Date), f.Description, createdAt},
	}
}

func updateStatement(d dialect, id int64, f models.TransactionFields) statement {
	return statement{
		sql: fmt.Sprintf("UPDATE transactions SET amount = %s, category = %s, type = %s, date = %s, description = %s WHERE id = %s RETURNING %s",
			d.placeholder(1), d.placeholder(2), d.placeholder(3), d.placeholder(4), d.placeholder(5), d.placeholder(6), transactionColumns),
		args: []any{f.Amount.String(), f.Category, string(f.Type), d.date(f.Date), f.Description, id},
	}
}

func summaryStatement(d dialect, userID int64, from, to models.Date) statement {
	q := transactionFilter(d, userID, ListFilter{From: from, To: to})
	return statement{
		sql:  "SELECT type, COALESCE(SUM(amount), 0), COUNT(*) FROM transactions" + q.Where() + " GROUP BY type",
		args: q.Args(),
	}
}

func categoryStatement(d dialect, userID int64, txType models.TxType, from, to models.Date) statement {
	q := transactionFilter(d, userID, ListFilter{Type: txType, From: from, To: to})
	return statement{
		sql:  "SELECT category, SUM(amount), COUNT(*) FROM transactions" + q.Where() + " GROUP BY category ORDER BY SUM(amount) DESC, category",
		args: q.Args(),
	}
}

func monthlyStatement(d dialect, userID int64, year int) statement {
	from := models.Date(fmt.Sprintf("%04d-01-01", year))
	to := models.Date(fmt.Sprintf("%04d-12-31", year))
	q := transactionFilter(d, userID, ListFilter{From: from, To: to})
	return statement{
		sql:  "SELECT " + d.month + " AS month, type, SUM(amount) FROM transactions" + q.Where() + " GROUP BY month, type ORDER BY month",
		args: q.Args(),
	}
}
