package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/davekale/bankledger/internal/errors"
	"github.com/davekale/bankledger/internal/models"
)

// MemoryStore implements Store without external dependencies. One store-wide
// mutex is held for the whole of every atomic unit, which serializes all
// balance mutations, including both legs of a transfer. Used by tests and by
// the server when STORE_DRIVER=memory.
type MemoryStore struct {
	mu           sync.RWMutex
	accounts     map[string]*models.Account
	accountOrder []string
	numbers      map[string]string // account number -> account id
	transactions []*models.Transaction
	users        map[string]*models.User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*models.Account),
		numbers:  make(map[string]string),
		users:    make(map[string]*models.User),
	}
}

func copyAccount(a *models.Account) *models.Account {
	c := *a
	return &c
}

func copyTransaction(t *models.Transaction) *models.Transaction {
	c := *t
	return &c
}

func (s *MemoryStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, errors.ErrAccountNotFound
	}
	return copyAccount(account), nil
}

func (s *MemoryStore) GetAccountByNumber(ctx context.Context, number string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.numbers[number]
	if !ok {
		return nil, errors.ErrAccountNotFound
	}
	return copyAccount(s.accounts[id]), nil
}

func (s *MemoryStore) ListAccounts(ctx context.Context, ownerID string) ([]*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var accounts []*models.Account
	for _, id := range s.accountOrder {
		if account := s.accounts[id]; account.OwnerID == ownerID {
			accounts = append(accounts, copyAccount(account))
		}
	}
	return accounts, nil
}

func (s *MemoryStore) ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var transactions []*models.Transaction
	skipped := 0
	// Insertion order is chronological; walk backwards for most-recent-first.
	for i := len(s.transactions) - 1; i >= 0; i-- {
		t := s.transactions[i]
		if t.AccountID != accountID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		transactions = append(transactions, copyTransaction(t))
		if limit > 0 && len(transactions) == limit {
			break
		}
	}
	return transactions, nil
}

func (s *MemoryStore) ListOwnerTransactions(ctx context.Context, ownerID string, limit int) ([]*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var transactions []*models.Transaction
	for i := len(s.transactions) - 1; i >= 0; i-- {
		t := s.transactions[i]
		account, ok := s.accounts[t.AccountID]
		if !ok || account.OwnerID != ownerID {
			continue
		}
		transactions = append(transactions, copyTransaction(t))
		if limit > 0 && len(transactions) == limit {
			break
		}
	}
	return transactions, nil
}

func (s *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Username == user.Username || existing.Email == user.Email {
			return errors.ErrUserAlreadyExists
		}
	}

	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.RegistrationDate = time.Now().UTC()

	c := *user
	s.users[user.ID] = &c
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, errors.ErrUserNotFound
	}
	c := *user
	return &c, nil
}

// Atomically holds the store lock for the whole unit. Writes are staged on
// the tx and merged only when fn succeeds, so a failed unit leaves nothing
// behind.
func (s *MemoryStore) Atomically(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		store:  s,
		staged: make(map[string]*models.Account),
	}

	if err := fn(tx); err != nil {
		return err
	}

	tx.commit()
	return nil
}

type memoryTx struct {
	store    *MemoryStore
	staged   map[string]*models.Account
	inserted []*models.Account
	posted   []*models.Transaction
}

func (t *memoryTx) lookup(id string) (*models.Account, bool) {
	if account, ok := t.staged[id]; ok {
		return account, true
	}
	for _, account := range t.inserted {
		if account.ID == id {
			return account, true
		}
	}
	if account, ok := t.store.accounts[id]; ok {
		staged := copyAccount(account)
		t.staged[id] = staged
		return staged, true
	}
	return nil, false
}

func (t *memoryTx) AccountForUpdate(ctx context.Context, id string) (*models.Account, error) {
	account, ok := t.lookup(id)
	if !ok {
		return nil, errors.ErrAccountNotFound
	}
	return copyAccount(account), nil
}

func (t *memoryTx) AccountNumberExists(ctx context.Context, number string) (bool, error) {
	if _, ok := t.store.numbers[number]; ok {
		return true, nil
	}
	for _, account := range t.inserted {
		if account.AccountNumber == number {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) InsertAccount(ctx context.Context, account *models.Account) error {
	if exists, _ := t.AccountNumberExists(ctx, account.AccountNumber); exists {
		return errors.ErrAccountNumberTaken
	}
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	account.OpeningDate = time.Now().UTC()
	t.inserted = append(t.inserted, copyAccount(account))
	return nil
}

func (t *memoryTx) UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	account, ok := t.lookup(id)
	if !ok {
		return errors.ErrAccountNotFound
	}
	account.Balance = balance
	return nil
}

func (t *memoryTx) UpdateStatus(ctx context.Context, id string, status models.AccountStatus) error {
	account, ok := t.lookup(id)
	if !ok {
		return errors.ErrAccountNotFound
	}
	account.Status = status
	return nil
}

func (t *memoryTx) InsertTransaction(ctx context.Context, transaction *models.Transaction) error {
	if transaction.ID == "" {
		transaction.ID = uuid.New().String()
	}
	transaction.Timestamp = time.Now().UTC()
	t.posted = append(t.posted, copyTransaction(transaction))
	return nil
}

// commit merges staged writes into the store. Caller holds the store lock.
func (t *memoryTx) commit() {
	for _, account := range t.inserted {
		t.store.accounts[account.ID] = copyAccount(account)
		t.store.accountOrder = append(t.store.accountOrder, account.ID)
		t.store.numbers[account.AccountNumber] = account.ID
	}
	for id, account := range t.staged {
		t.store.accounts[id] = copyAccount(account)
	}
	t.store.transactions = append(t.store.transactions, t.posted...)
}
