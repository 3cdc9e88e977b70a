package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"finance-ledger/internal/models"

	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// createdAtLayout sorts lexically in the same order as the instants it encodes.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z"

// DB is the SQLite backend.
type DB struct {
	conn    *sql.DB
	timeout time.Duration
	now     func() time.Time
}

// NewDB opens a database connection and runs migrations.
func NewDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{conn: conn, timeout: DefaultTimeout, now: time.Now}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

// SetTimeout changes the per-statement deadline.
func (db *DB) SetTimeout(d time.Duration) {
	if d > 0 {
		db.timeout = d
	}
}

func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('user', 'admin')),
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id),
			amount NUMERIC NOT NULL CHECK (amount > 0),
			category TEXT NOT NULL,
			type TEXT NOT NULL CHECK (type IN ('income', 'expense')),
			date TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_user_date
			ON transactions (user_id, date DESC, created_at DESC)`,
	}

	for _, m := range migrations {
		if _, err := db.conn.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) stamp() string {
	return db.now().UTC().Format(createdAtLayout)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (models.Transaction, error) {
	var t models.Transaction
	var txType, date, createdAt string
	if err := row.Scan(&t.ID, &t.UserID, &t.Amount, &t.Category, &txType, &date, &t.Description, &createdAt); err != nil {
		return models.Transaction{}, err
	}
	t.Type = models.TxType(txType)
	t.Date = models.Date(date)
	t.CreatedAt, _ = time.Parse(createdAtLayout, createdAt)
	return t, nil
}

// ListTransactions returns one page of the user's transactions, newest first,
// and the number of rows matching the filter.
func (db *DB) ListTransactions(ctx context.Context, userID int64, filter ListFilter, page, limit int) ([]models.Transaction, int, error) {
	ctx, cancel := context.WithTimeout(ctx, db.timeout)
	defer cancel()

	list, count := listStatements(sqliteDialect, userID, filter, page, limit)

	var total int
	if err := db.conn.QueryRowContext(ctx, count.sql, count.args...).Scan(&total); err != nil {
		return nil, 0, dependency("count transactions", err)
	}

	rows, err := db.conn.QueryContext(ctx, list.sql, list.args...)
	if err != nil {
		return nil, 0, dependency("list transactions", err)
	}
	defer rows.Close()

	transactions := make([]models.Transaction, 0, limit)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, dependency("list transactions", err)
		}
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, dependency("list transactions", err)
	}
	return transactions, total, nil
}

// InsertTransaction validates the input and stores it for userID.
func (db *DB) InsertTransaction(ctx context.Context, userID int64, input models.TransactionInput) (models.Transaction, error) {
	fields, err := input.Validate(models.DateOf(db.now()), false)
	if err != nil {
		return models.Transaction{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, db.timeout)
	defer cancel()

	st := insertStatement(sqliteDialect, userID, fields, db.stamp())
	t, err := scanTransaction(db.conn.QueryRowContext(ctx, st.sql, st.args...))
	if err != nil {
		return models.Transaction{}, dependency("insert transaction", err)
	}
	return t, nil
}

// GetTransaction retrieves a single transaction by ID.
func (db *DB) GetTransaction(ctx context.Context, id int64) (models.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, db.timeout)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, "SELECT "+transactionColumns+" FROM transactions WHERE id = ?", id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Transaction{}, ErrNotFound
	}
	if err != nil {
		return models.Transaction{}, dependency("get transaction", err)
	}
	return t, nil
}

// TransactionOwner returns the user that owns the transaction.
func (db *DB) TransactionOwner(ctx context.Context, id int64) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, db.timeout)
	defer cancel()

	var owner int64
	err := db.conn.QueryRowContext(ctx, "SELECT user_id FROM transactions WHERE id = ?", id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, dependency("transaction owner", err)
	}
	return owner, nil
}

// UpdateTransaction overwrites every editable field of the transaction.
func (db *DB) UpdateTransaction(ctx context.Context, id int64, input models.TransactionInput) (models.Transaction, error) {
	fields, err := input.Validate(models.DateOf(db.now()), true)
	if err != nil {
		return models.Transaction{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, db.timeout)
	defer cancel()

	st := updateStatement(sqliteDialect, id, fields)
	t, err := scanTransaction(db.conn.QueryRowContext(ctx, st.sql, st.args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Transaction{}, ErrNotFound
	}
	if err != nil {
		return models.Transaction{}, dependency("update transaction", err)
	}
	return t, nil
}

// DeleteTransaction removes the transaction.
func (db *DB) DeleteTransaction(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, db.timeout)
	defer cancel()

	result, err := db.conn.ExecContext(ctx, "DELETE FROM transactions WHERE id = ?", id)
	if err != nil {
		return dependency("delete transaction", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return dependency("delete transaction", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Summary totals income and expenses between from and to inclusive.
func (db *DB) Summary(ctx context.Context, userID int64, from, to models.Date) (Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, db.timeout)
	defer cancel()

	st := summaryStatement(sqliteDialect, userID, from, to)
	rows, err := db.conn.QueryContext(ctx, st.sql, st.args...)
	if err != nil {
		return Summary{}, dependency("summary", err)
	}
	defer rows.Close()

	var s Summary
	for rows.Next() {
		var txType string
		var total decimal.Decimal
		var count int
		if err := rows.Scan(&txType, &total, &count); err != nil {
			return Summary{}, dependency("summary", err)
		}
		addTotals(&s, models.TxType(txType), total.Round(2), count)
	}
	if err := rows.Err(); err != nil {
		return Summary{}, dependency("summary", err)
	}
	return s, nil
}

// CategoryTotals groups the user's transactions of one type by category.
func (db *DB) CategoryTotals(ctx context.Context, userID int64, txType models.TxType, from, to models.Date) ([]CategoryTotal, error) {
	ctx, cancel := context.WithTimeout(ctx, db.timeout)
	defer cancel()

	st := categoryStatement(sqliteDialect, userID, txType, from, to)
	rows, err := db.conn.QueryContext(ctx, st.sql, st.args...)
	if err != nil {
		return nil, dependency("category totals", err)
	}
	defer rows.Close()

	totals := []CategoryTotal{}
	for rows.Next() {
		var ct CategoryTotal
		if err := rows.Scan(&ct.Category, &ct.Total, &ct.Count); err != nil {
			return nil, dependency("category totals", err)
		}
		ct.Total = ct.Total.Round(2)
		totals = append(totals, ct)
	}
	if err := rows.Err(); err != nil {
		return nil, dependency("category totals", err)
	}
	return totals, nil
}

// MonthlyTotals returns income and expenses per month of the given year.
func (db *DB) MonthlyTotals(ctx context.Context, userID int64, year int) ([]MonthTotal, error) {
	ctx, cancel := context.WithTimeout(ctx, db.timeout)
	defer cancel()

	st := monthlyStatement(sqliteDialect, userID, year)
	rows, err := db.conn.QueryContext(ctx, st.sql, st.args...)
	if err != nil {
		return nil, dependency("monthly totals", err)
	}
	defer rows.Close()

	months := []MonthTotal{}
	for rows.Next() {
		var month, txType string
		var total decimal.Decimal
		if err := rows.Scan(&month, &txType, &total); err != nil {
			return nil, dependency("monthly totals", err)
		}
		months = addMonth(months, month, models.TxType(txType), total.Round(2))
	}
	if err := rows.Err(); err != nil {
		return nil, dependency("monthly totals", err)
	}
	return months, nil
}

// CreateUser creates a new user with the given email, password hash and role.
func (db *DB) CreateUser(ctx context.Context, email, passwordHash string, role models.Role) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, db.timeout)
	defer cancel()

	result, err := db.conn.ExecContext(ctx,
		"INSERT INTO users (email, password_hash, role, created_at) VALUES (?, ?, ?, ?)",
		models.NormalizeEmail(email), passwordHash, string(role), db.stamp(),
	)
	if isUniqueViolation(err) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, dependency("create user", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, dependency("create user", err)
	}

	return db.GetUserByID(ctx, id)
}

func (db *DB) scanUser(row *sql.Row, op string) (*models.User, error) {
	var u models.User
	var role, createdAt string
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, dependency(op, err)
	}
	u.Role = models.Role(role)
	u.CreatedAt, _ = time.Parse(createdAtLayout, createdAt)
	return &u, nil
}

// GetUserByID retrieves a user by ID.
func (db *DB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, db.timeout)
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		"SELECT id, email, password_hash, role, created_at FROM users WHERE id = ?",
		id,
	)
	return db.scanUser(row, "get user")
}

// GetUserByEmail retrieves a user by email address.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, db.timeout)
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		"SELECT id, email, password_hash, role, created_at FROM users WHERE email = ?",
		models.NormalizeEmail(email),
	)
	return db.scanUser(row, "get user")
}

// UserCount returns the number of users in the database.
func (db *DB) UserCount(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, db.timeout)
	defer cancel()

	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, dependency("user count", err)
	}
	return count, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		return serr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
