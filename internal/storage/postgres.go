package storage

import (
	"context"
	"errors"
	"time"

	"finance-ledger/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		email TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('user', 'admin')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id),
		amount NUMERIC(14, 2) NOT NULL CHECK (amount > 0),
		category TEXT NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('income', 'expense')),
		date DATE NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_user_date
		ON transactions (user_id, date DESC, created_at DESC)`,
}

// Postgres is the PostgreSQL backend.
type Postgres struct {
	pool    *pgxpool.Pool
	timeout time.Duration
	now     func() time.Time
}

func NewPostgres(pool *pgxpool.Pool, timeout time.Duration) *Postgres {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Postgres{pool: pool, timeout: timeout, now: time.Now}
}

// Migrate creates the schema if it does not exist.
func (s *Postgres) Migrate(ctx context.Context) error {
	for _, m := range postgresMigrations {
		if _, err := s.pool.Exec(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

func scanPgTransaction(row pgx.Row) (models.Transaction, error) {
	var t models.Transaction
	var txType string
	var date time.Time
	if err := row.Scan(&t.ID, &t.UserID, &t.Amount, &t.Category, &txType, &date, &t.Description, &t.CreatedAt); err != nil {
		return models.Transaction{}, err
	}
	t.Type = models.TxType(txType)
	t.Date = models.DateOf(date)
	return t, nil
}

func (s *Postgres) ListTransactions(ctx context.Context, userID int64, filter ListFilter, page, limit int) ([]models.Transaction, int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	list, count := listStatements(postgresDialect, userID, filter, page, limit)

	var total int
	if err := s.pool.QueryRow(ctx, count.sql, count.args...).Scan(&total); err != nil {
		return nil, 0, dependency("count transactions", err)
	}

	rows, err := s.pool.Query(ctx, list.sql, list.args...)
	if err != nil {
		return nil, 0, dependency("list transactions", err)
	}
	defer rows.Close()

	transactions := make([]models.Transaction, 0, limit)
	for rows.Next() {
		t, err := scanPgTransaction(rows)
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

func (s *Postgres) InsertTransaction(ctx context.Context, userID int64, input models.TransactionInput) (models.Transaction, error) {
	fields, err := input.Validate(models.DateOf(s.now()), false)
	if err != nil {
		return models.Transaction{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	st := insertStatement(postgresDialect, userID, fields, s.now().UTC())
	t, err := scanPgTransaction(s.pool.QueryRow(ctx, st.sql, st.args...))
	if err != nil {
		return models.Transaction{}, dependency("insert transaction", err)
	}
	return t, nil
}

func (s *Postgres) GetTransaction(ctx context.Context, id int64) (models.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	t, err := scanPgTransaction(s.pool.QueryRow(ctx, "SELECT "+transactionColumns+" FROM transactions WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Transaction{}, ErrNotFound
	}
	if err != nil {
		return models.Transaction{}, dependency("get transaction", err)
	}
	return t, nil
}

func (s *Postgres) TransactionOwner(ctx context.Context, id int64) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var owner int64
	err := s.pool.QueryRow(ctx, "SELECT user_id FROM transactions WHERE id = $1", id).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, dependency("transaction owner", err)
	}
	return owner, nil
}

func (s *Postgres) UpdateTransaction(ctx context.Context, id int64, input models.TransactionInput) (models.Transaction, error) {
	fields, err := input.Validate(models.DateOf(s.now()), true)
	if err != nil {
		return models.Transaction{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	st := updateStatement(postgresDialect, id, fields)
	t, err := scanPgTransaction(s.pool.QueryRow(ctx, st.sql, st.args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Transaction{}, ErrNotFound
	}
	if err != nil {
		return models.Transaction{}, dependency("update transaction", err)
	}
	return t, nil
}

func (s *Postgres) DeleteTransaction(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, "DELETE FROM transactions WHERE id = $1", id)
	if err != nil {
		return dependency("delete transaction", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) Summary(ctx context.Context, userID int64, from, to models.Date) (Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	st := summaryStatement(postgresDialect, userID, from, to)
	rows, err := s.pool.Query(ctx, st.sql, st.args...)
	if err != nil {
		return Summary{}, dependency("summary", err)
	}
	defer rows.Close()

	var sum Summary
	for rows.Next() {
		var txType string
		var total decimal.Decimal
		var count int
		if err := rows.Scan(&txType, &total, &count); err != nil {
			return Summary{}, dependency("summary", err)
		}
		addTotals(&sum, models.TxType(txType), total, count)
	}
	if err := rows.Err(); err != nil {
		return Summary{}, dependency("summary", err)
	}
	return sum, nil
}

func (s *Postgres) CategoryTotals(ctx context.Context, userID int64, txType models.TxType, from, to models.Date) ([]CategoryTotal, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	st := categoryStatement(postgresDialect, userID, txType, from, to)
	rows, err := s.pool.Query(ctx, st.sql, st.args...)
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
		totals = append(totals, ct)
	}
	if err := rows.Err(); err != nil {
		return nil, dependency("category totals", err)
	}
	return totals, nil
}

func (s *Postgres) MonthlyTotals(ctx context.Context, userID int64, year int) ([]MonthTotal, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	st := monthlyStatement(postgresDialect, userID, year)
	rows, err := s.pool.Query(ctx, st.sql, st.args...)
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
		months = addMonth(months, month, models.TxType(txType), total)
	}
	if err := rows.Err(); err != nil {
		return nil, dependency("monthly totals", err)
	}
	return months, nil
}

func (s *Postgres) CreateUser(ctx context.Context, email, passwordHash string, role models.Role) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, role)
		VALUES ($1, $2, $3)
		RETURNING id, email, password_hash, role, created_at
	`, models.NormalizeEmail(email), passwordHash, string(role))
	user, err := scanPgUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrConflict
		}
		return nil, dependency("create user", err)
	}
	return user, nil
}

func scanPgUser(row pgx.Row) (*models.User, error) {
	var u models.User
	var role string
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	return &u, nil
}

func (s *Postgres) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	user, err := scanPgUser(s.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, role, created_at
		FROM users
		WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, dependency("get user", err)
	}
	return user, nil
}

func (s *Postgres) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	user, err := scanPgUser(s.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, role, created_at
		FROM users
		WHERE email = $1
	`, models.NormalizeEmail(email)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, dependency("get user", err)
	}
	return user, nil
}

func (s *Postgres) UserCount(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var count int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, dependency("user count", err)
	}
	return count, nil
}
