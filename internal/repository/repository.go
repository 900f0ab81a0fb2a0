// Package repository is the persistence boundary for the ledger. The engine
// only talks to the Store and Tx interfaces; accounts, transactions and users
// are backed by Postgres in production and by an in-memory store in tests.
package repository

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/davekale/bankledger/internal/models"
)

// Store exposes reads plus one atomic multi-write primitive. Everything a
// balance-affecting operation writes goes through Atomically so a balance
// mutation and its transaction record are never partially visible.
type Store interface {
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	GetAccountByNumber(ctx context.Context, number string) (*models.Account, error)

	// ListAccounts returns every account the owner holds, active and closed,
	// ordered by creation.
	ListAccounts(ctx context.Context, ownerID string) ([]*models.Account, error)

	// ListTransactions returns an account's transactions most-recent-first.
	// limit <= 0 means unbounded.
	ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]*models.Transaction, error)

	// ListOwnerTransactions returns the most recent transactions across all
	// of the owner's accounts, most-recent-first.
	ListOwnerTransactions(ctx context.Context, ownerID string, limit int) ([]*models.Transaction, error)

	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)

	// Atomically runs fn inside one atomic unit. If fn returns an error no
	// write it performed becomes visible. Concurrent units touching the same
	// account are serialized.
	Atomically(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write surface available inside a single atomic unit.
type Tx interface {
	// AccountForUpdate loads an account and holds it against concurrent
	// atomic units until the enclosing unit finishes.
	AccountForUpdate(ctx context.Context, id string) (*models.Account, error)

	AccountNumberExists(ctx context.Context, number string) (bool, error)
	InsertAccount(ctx context.Context, account *models.Account) error
	UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) error
	UpdateStatus(ctx context.Context, id string, status models.AccountStatus) error
	InsertTransaction(ctx context.Context, transaction *models.Transaction) error
}
