package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/davekale/bankledger/internal/errors"
	"github.com/davekale/bankledger/internal/models"
)

// PostgresStore implements Store over lib/pq. Atomic units run as
// SERIALIZABLE transactions; AccountForUpdate takes row locks so concurrent
// units on the same account queue up instead of racing the balance check.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const accountColumns = `id, owner_id, account_number, account_type, balance, opening_date, status`

func scanAccount(row *sql.Row) (*models.Account, error) {
	account := &models.Account{}
	err := row.Scan(
		&account.ID,
		&account.OwnerID,
		&account.AccountNumber,
		&account.AccountType,
		&account.Balance,
		&account.OpeningDate,
		&account.Status,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrAccountNotFound
		}
		return nil, errors.NewStoreError("scan account", err)
	}
	return account, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) GetAccountByNumber(ctx context.Context, number string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_number = $1`
	return scanAccount(s.db.QueryRowContext(ctx, query, number))
}

func (s *PostgresStore) ListAccounts(ctx context.Context, ownerID string) ([]*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE owner_id = $1 ORDER BY opening_date, id`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, errors.NewStoreError("list accounts", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		account := &models.Account{}
		err := rows.Scan(
			&account.ID,
			&account.OwnerID,
			&account.AccountNumber,
			&account.AccountType,
			&account.Balance,
			&account.OpeningDate,
			&account.Status,
		)
		if err != nil {
			return nil, errors.NewStoreError("scan account", err)
		}
		accounts = append(accounts, account)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.NewStoreError("list accounts", err)
	}
	return accounts, nil
}

const transactionColumns = `id, account_id, transaction_type, amount, description, reference_number, created_at, status`

func (s *PostgresStore) ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		OFFSET $2`
	args := []interface{}{accountID, offset}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewStoreError("list transactions", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (s *PostgresStore) ListOwnerTransactions(ctx context.Context, ownerID string, limit int) ([]*models.Transaction, error) {
	query := `SELECT t.id, t.account_id, t.transaction_type, t.amount, t.description, t.reference_number, t.created_at, t.status
		FROM transactions t
		JOIN accounts a ON t.account_id = a.id
		WHERE a.owner_id = $1
		ORDER BY t.created_at DESC, t.id DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, ownerID, limit)
	if err != nil {
		return nil, errors.NewStoreError("list owner transactions", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func collectTransactions(rows *sql.Rows) ([]*models.Transaction, error) {
	var transactions []*models.Transaction
	for rows.Next() {
		transaction := &models.Transaction{}
		err := rows.Scan(
			&transaction.ID,
			&transaction.AccountID,
			&transaction.Type,
			&transaction.Amount,
			&transaction.Description,
			&transaction.ReferenceNumber,
			&transaction.Timestamp,
			&transaction.Status,
		)
		if err != nil {
			return nil, errors.NewStoreError("scan transaction", err)
		}
		transactions = append(transactions, transaction)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStoreError("iterate transactions", err)
	}
	return transactions, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}

	query := `INSERT INTO users (id, username, full_name, email, phone, address)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING registration_date`

	err := s.db.QueryRowContext(ctx, query,
		user.ID, user.Username, user.FullName, user.Email, user.Phone, user.Address,
	).Scan(&user.RegistrationDate)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return errors.ErrUserAlreadyExists
		}
		return errors.NewStoreError("create user", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT id, username, full_name, email, phone, address, registration_date
		FROM users WHERE id = $1`

	user := &models.User{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.Username, &user.FullName, &user.Email, &user.Phone, &user.Address, &user.RegistrationDate,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrUserNotFound
		}
		return nil, errors.NewStoreError("get user", err)
	}
	return user, nil
}

// Atomically runs fn in a SERIALIZABLE transaction. Rollback happens on any
// error out of fn; domain errors pass through untouched so callers can match
// them.
func (s *PostgresStore) Atomically(ctx context.Context, fn func(tx Tx) error) error {
	dbTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return errors.NewStoreError("begin", err)
	}

	defer func() {
		if dbTx != nil {
			dbTx.Rollback()
		}
	}()

	if err := fn(&postgresTx{tx: dbTx}); err != nil {
		return err
	}

	if err := dbTx.Commit(); err != nil {
		return errors.NewStoreError("commit", err)
	}

	// Nullify to avoid rollback in defer
	dbTx = nil
	return nil
}

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) AccountForUpdate(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`
	return scanAccount(t.tx.QueryRowContext(ctx, query, id))
}

func (t *postgresTx) AccountNumberExists(ctx context.Context, number string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM accounts WHERE account_number = $1)`

	var exists bool
	if err := t.tx.QueryRowContext(ctx, query, number).Scan(&exists); err != nil {
		return false, errors.NewStoreError("check account number", err)
	}
	return exists, nil
}

func (t *postgresTx) InsertAccount(ctx context.Context, account *models.Account) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}

	query := `INSERT INTO accounts (id, owner_id, account_number, account_type, balance, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING opening_date`

	err := t.tx.QueryRowContext(ctx, query,
		account.ID,
		account.OwnerID,
		account.AccountNumber,
		account.AccountType,
		account.Balance,
		account.Status,
	).Scan(&account.OpeningDate)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return errors.ErrAccountNumberTaken
		}
		return errors.NewStoreError("insert account", err)
	}
	return nil
}

func (t *postgresTx) UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	query := `UPDATE accounts SET balance = $1 WHERE id = $2`

	result, err := t.tx.ExecContext(ctx, query, balance, id)
	if err != nil {
		return errors.NewStoreError("update balance", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewStoreError("update balance", fmt.Errorf("rows affected: %w", err))
	}
	if rowsAffected == 0 {
		return errors.ErrAccountNotFound
	}
	return nil
}

func (t *postgresTx) UpdateStatus(ctx context.Context, id string, status models.AccountStatus) error {
	query := `UPDATE accounts SET status = $1 WHERE id = $2`

	result, err := t.tx.ExecContext(ctx, query, status, id)
	if err != nil {
		return errors.NewStoreError("update status", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewStoreError("update status", fmt.Errorf("rows affected: %w", err))
	}
	if rowsAffected == 0 {
		return errors.ErrAccountNotFound
	}
	return nil
}

func (t *postgresTx) InsertTransaction(ctx context.Context, transaction *models.Transaction) error {
	if transaction.ID == "" {
		transaction.ID = uuid.New().String()
	}

	query := `INSERT INTO transactions (id, account_id, transaction_type, amount, description, reference_number, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	err := t.tx.QueryRowContext(ctx, query,
		transaction.ID,
		transaction.AccountID,
		transaction.Type,
		transaction.Amount,
		transaction.Description,
		transaction.ReferenceNumber,
		transaction.Status,
	).Scan(&transaction.Timestamp)

	if err != nil {
		return errors.NewStoreError("insert transaction", err)
	}
	return nil
}
