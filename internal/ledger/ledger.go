// Package ledger is the engine behind every balance-affecting operation:
// account lifecycle, deposits, withdrawals, transfers and the read surface
// over accounts and their transaction history. Each mutation validates its
// preconditions, then runs as one atomic unit against the store so a balance
// change and its transaction record are never separated.
package ledger

import (
	"context"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/davekale/bankledger/internal/errors"
	"github.com/davekale/bankledger/internal/id"
	"github.com/davekale/bankledger/internal/models"
	"github.com/davekale/bankledger/internal/repository"
)

// maxNumberAttempts bounds the account-number collision retry loop.
const maxNumberAttempts = 10

type Engine struct {
	store  repository.Store
	logger *slog.Logger
	events *Events
}

func NewEngine(store repository.Store, logger *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: logger,
		events: NewEvents(),
	}
}

// Events exposes the change-notification stream for committed mutations.
func (e *Engine) Events() *Events {
	return e.events
}

// CreateUser registers a user in the directory. The ledger holds no
// credentials; identity resolution is the caller's concern.
func (e *Engine) CreateUser(ctx context.Context, req *models.CreateUserRequest) (*models.User, error) {
	if strings.TrimSpace(req.Username) == "" {
		return nil, errors.NewValidationError("username", "must be non-empty")
	}
	if strings.TrimSpace(req.FullName) == "" {
		return nil, errors.NewValidationError("full_name", "must be non-empty")
	}
	if strings.TrimSpace(req.Email) == "" {
		return nil, errors.NewValidationError("email", "must be non-empty")
	}

	user := &models.User{
		Username: req.Username,
		FullName: req.FullName,
		Email:    req.Email,
		Phone:    req.Phone,
		Address:  req.Address,
	}

	if err := e.store.CreateUser(ctx, user); err != nil {
		e.logger.Warn("failed to create user", "username", req.Username, "error", err.Error())
		return nil, err
	}

	e.logger.Info("user created", "user_id", user.ID, "username", user.Username)
	return user, nil
}

func (e *Engine) GetUser(ctx context.Context, userID string) (*models.User, error) {
	if userID == "" {
		return nil, errors.ErrUserNotFound
	}
	return e.store.GetUser(ctx, userID)
}

// OpenAccount creates an account for ownerID with a collision-checked
// account number. A positive initial deposit is posted as a Deposit
// transaction in the same atomic unit, so the balance invariant holds from
// the first write.
func (e *Engine) OpenAccount(ctx context.Context, ownerID string, req *models.OpenAccountRequest) (*models.Account, error) {
	if ownerID == "" {
		return nil, errors.NewValidationError("owner_id", "must be non-empty")
	}
	accountType, ok := models.ParseAccountType(req.AccountType)
	if !ok {
		return nil, errors.NewValidationError("account_type", "must be one of savings, checking, fixed_deposit, loan")
	}
	if req.InitialDeposit.IsNegative() {
		e.logger.Warn("rejected negative initial deposit",
			"owner_id", ownerID,
			"initial_deposit", req.InitialDeposit.String(),
		)
		return nil, errors.ErrInvalidAmount
	}

	account := &models.Account{
		OwnerID:     ownerID,
		AccountType: accountType,
		Balance:     req.InitialDeposit,
		Status:      models.AccountStatusActive,
	}
	var opening *models.Transaction

	err := e.store.Atomically(ctx, func(tx repository.Tx) error {
		number, err := e.allocateAccountNumber(ctx, tx)
		if err != nil {
			return err
		}
		account.AccountNumber = number

		if err := tx.InsertAccount(ctx, account); err != nil {
			return err
		}

		if req.InitialDeposit.IsPositive() {
			opening = &models.Transaction{
				AccountID:       account.ID,
				Type:            models.TransactionTypeDeposit,
				Amount:          req.InitialDeposit,
				Description:     defaultDescription(req.Description, "Initial deposit"),
				ReferenceNumber: id.Reference(id.PrefixDeposit),
				Status:          models.TransactionStatusCompleted,
			}
			if err := tx.InsertTransaction(ctx, opening); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		e.logger.Error("failed to open account", "owner_id", ownerID, "error", err.Error())
		return nil, err
	}

	e.logger.Info("account opened",
		"account_id", account.ID,
		"account_number", account.AccountNumber,
		"account_type", string(account.AccountType),
		"initial_deposit", req.InitialDeposit.String(),
	)

	e.events.publish(Event{Kind: EventAccountChanged, Account: account})
	if opening != nil {
		e.events.publish(Event{Kind: EventTransactionPosted, Transaction: opening})
	}
	return account, nil
}

func (e *Engine) allocateAccountNumber(ctx context.Context, tx repository.Tx) (string, error) {
	for i := 0; i < maxNumberAttempts; i++ {
		candidate := id.AccountNumber()
		exists, err := tx.AccountNumberExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", errors.NewStoreError("allocate account number", errors.ErrAccountNumberTaken)
}

// Deposit credits an active account and posts the matching transaction.
func (e *Engine) Deposit(ctx context.Context, ownerID, accountID string, req *models.AmountRequest) (*models.Transaction, error) {
	return e.post(ctx, ownerID, accountID, req, models.TransactionTypeDeposit)
}

// Withdraw debits an active account, failing with ErrInsufficientFunds when
// the amount exceeds the balance at the time the account lock is held.
func (e *Engine) Withdraw(ctx context.Context, ownerID, accountID string, req *models.AmountRequest) (*models.Transaction, error) {
	return e.post(ctx, ownerID, accountID, req, models.TransactionTypeWithdrawal)
}

func (e *Engine) post(ctx context.Context, ownerID, accountID string, req *models.AmountRequest, kind models.TransactionType) (*models.Transaction, error) {
	if !req.Amount.IsPositive() {
		e.logger.Warn("rejected non-positive amount",
			"account_id", accountID,
			"amount", req.Amount.String(),
		)
		return nil, errors.ErrInvalidAmount
	}

	var (
		account     *models.Account
		transaction *models.Transaction
	)

	err := e.store.Atomically(ctx, func(tx repository.Tx) error {
		var err error
		account, err = e.ownedForUpdate(ctx, tx, ownerID, accountID)
		if err != nil {
			return err
		}
		if account.Status != models.AccountStatusActive {
			return errors.ErrAccountClosed
		}

		var balance decimal.Decimal
		switch kind {
		case models.TransactionTypeDeposit:
			balance = account.Balance.Add(req.Amount)
			transaction = &models.Transaction{
				AccountID:       accountID,
				Type:            kind,
				Amount:          req.Amount,
				Description:     defaultDescription(req.Description, "Deposit"),
				ReferenceNumber: id.Reference(id.PrefixDeposit),
				Status:          models.TransactionStatusCompleted,
			}
		case models.TransactionTypeWithdrawal:
			if req.Amount.GreaterThan(account.Balance) {
				return errors.ErrInsufficientFunds
			}
			balance = account.Balance.Sub(req.Amount)
			transaction = &models.Transaction{
				AccountID:       accountID,
				Type:            kind,
				Amount:          req.Amount,
				Description:     defaultDescription(req.Description, "Withdrawal"),
				ReferenceNumber: id.Reference(id.PrefixWithdrawal),
				Status:          models.TransactionStatusCompleted,
			}
		}

		if err := tx.UpdateBalance(ctx, accountID, balance); err != nil {
			return err
		}
		account.Balance = balance
		return tx.InsertTransaction(ctx, transaction)
	})
	if err != nil {
		e.logOperationFailure(string(kind), accountID, req.Amount, err)
		return nil, err
	}

	e.logger.Info("transaction posted",
		"account_id", accountID,
		"type", string(kind),
		"amount", req.Amount.String(),
		"reference", transaction.ReferenceNumber,
	)

	e.events.publish(Event{Kind: EventAccountChanged, Account: account})
	e.events.publish(Event{Kind: EventTransactionPosted, Transaction: transaction})
	return transaction, nil
}

// Transfer moves funds between two accounts as one atomic unit: debit, credit
// and both transaction legs commit together or not at all. The two legs share
// one TRF reference. Account locks are taken in ascending account-id order so
// opposite-direction transfers between the same pair cannot deadlock.
func (e *Engine) Transfer(ctx context.Context, ownerID string, req *models.TransferRequest) (*models.TransferResult, error) {
	if req.FromAccountID == "" {
		return nil, errors.NewValidationError("from_account_id", "must be non-empty")
	}
	if req.ToAccountID == "" {
		if req.ToAccountNumber == "" {
			return nil, errors.NewValidationError("to_account_id", "either to_account_id or to_account_number is required")
		}
		destination, err := e.store.GetAccountByNumber(ctx, req.ToAccountNumber)
		if err != nil {
			return nil, err
		}
		req.ToAccountID = destination.ID
	}
	if req.FromAccountID == req.ToAccountID {
		return nil, errors.ErrSameAccount
	}
	if !req.Amount.IsPositive() {
		e.logger.Warn("rejected non-positive transfer amount",
			"from_account_id", req.FromAccountID,
			"to_account_id", req.ToAccountID,
			"amount", req.Amount.String(),
		)
		return nil, errors.ErrInvalidAmount
	}

	reference := id.Reference(id.PrefixTransfer)
	description := defaultDescription(req.Description, "Transfer between accounts")

	var (
		from, to *models.Account
		result   *models.TransferResult
	)

	err := e.store.Atomically(ctx, func(tx repository.Tx) error {
		// Fixed global lock order: ascending account id.
		first, second := req.FromAccountID, req.ToAccountID
		if second < first {
			first, second = second, first
		}

		locked := make(map[string]*models.Account, 2)
		for _, accountID := range []string{first, second} {
			account, err := tx.AccountForUpdate(ctx, accountID)
			if err != nil {
				return err
			}
			locked[accountID] = account
		}

		from = locked[req.FromAccountID]
		to = locked[req.ToAccountID]

		// The source must belong to the acting owner; the destination only
		// has to exist and be active.
		if from.OwnerID != ownerID {
			return errors.ErrAccountNotFound
		}
		if from.Status != models.AccountStatusActive || to.Status != models.AccountStatusActive {
			return errors.ErrAccountClosed
		}
		if req.Amount.GreaterThan(from.Balance) {
			return errors.ErrInsufficientFunds
		}

		from.Balance = from.Balance.Sub(req.Amount)
		to.Balance = to.Balance.Add(req.Amount)

		if err := tx.UpdateBalance(ctx, from.ID, from.Balance); err != nil {
			return err
		}
		if err := tx.UpdateBalance(ctx, to.ID, to.Balance); err != nil {
			return err
		}

		out := &models.Transaction{
			AccountID:       from.ID,
			Type:            models.TransactionTypeTransferOut,
			Amount:          req.Amount,
			Description:     description,
			ReferenceNumber: reference,
			Status:          models.TransactionStatusCompleted,
		}
		in := &models.Transaction{
			AccountID:       to.ID,
			Type:            models.TransactionTypeTransferIn,
			Amount:          req.Amount,
			Description:     description,
			ReferenceNumber: reference,
			Status:          models.TransactionStatusCompleted,
		}

		if err := tx.InsertTransaction(ctx, out); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, in); err != nil {
			return err
		}

		result = &models.TransferResult{Out: out, In: in}
		return nil
	})
	if err != nil {
		e.logOperationFailure("transfer", req.FromAccountID, req.Amount, err)
		return nil, err
	}

	e.logger.Info("transfer completed",
		"from_account_id", from.ID,
		"to_account_id", to.ID,
		"amount", req.Amount.String(),
		"reference", reference,
	)

	e.events.publish(Event{Kind: EventAccountChanged, Account: from})
	e.events.publish(Event{Kind: EventAccountChanged, Account: to})
	e.events.publish(Event{Kind: EventTransactionPosted, Transaction: result.Out})
	e.events.publish(Event{Kind: EventTransactionPosted, Transaction: result.In})
	return result, nil
}

// CheckClosure reports the account's live balance ahead of a close so the
// caller can warn when funds remain. Read-only.
func (e *Engine) CheckClosure(ctx context.Context, ownerID, accountID string) (*models.ClosureCheck, error) {
	account, err := e.GetAccount(ctx, ownerID, accountID)
	if err != nil {
		return nil, err
	}
	if account.Status != models.AccountStatusActive {
		return nil, errors.ErrAlreadyClosed
	}
	return &models.ClosureCheck{
		AccountID: account.ID,
		Balance:   account.Balance,
		Warning:   !account.Balance.IsZero(),
	}, nil
}

// CloseAccount transitions the account to closed. Irreversible; a non-zero
// balance does not block it.
func (e *Engine) CloseAccount(ctx context.Context, ownerID, accountID string) error {
	var account *models.Account

	err := e.store.Atomically(ctx, func(tx repository.Tx) error {
		var err error
		account, err = e.ownedForUpdate(ctx, tx, ownerID, accountID)
		if err != nil {
			return err
		}
		if account.Status != models.AccountStatusActive {
			return errors.ErrAlreadyClosed
		}
		account.Status = models.AccountStatusClosed
		return tx.UpdateStatus(ctx, accountID, models.AccountStatusClosed)
	})
	if err != nil {
		e.logger.Warn("failed to close account", "account_id", accountID, "error", err.Error())
		return err
	}

	e.logger.Info("account closed",
		"account_id", accountID,
		"remaining_balance", account.Balance.String(),
	)
	e.events.publish(Event{Kind: EventAccountChanged, Account: account})
	return nil
}

// GetAccount returns the account when it exists and belongs to ownerID.
// Foreign accounts are reported as not found.
func (e *Engine) GetAccount(ctx context.Context, ownerID, accountID string) (*models.Account, error) {
	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.OwnerID != ownerID {
		return nil, errors.ErrAccountNotFound
	}
	return account, nil
}

// AccountDetail returns the account together with its recent transactions.
func (e *Engine) AccountDetail(ctx context.Context, ownerID, accountID string, recent int) (*models.AccountDetail, error) {
	account, err := e.GetAccount(ctx, ownerID, accountID)
	if err != nil {
		return nil, err
	}
	transactions, err := e.store.ListTransactions(ctx, accountID, recent, 0)
	if err != nil {
		return nil, err
	}
	return &models.AccountDetail{Account: account, Recent: transactions}, nil
}

func (e *Engine) GetBalance(ctx context.Context, ownerID, accountID string) (*models.BalanceResponse, error) {
	account, err := e.GetAccount(ctx, ownerID, accountID)
	if err != nil {
		return nil, err
	}
	return &models.BalanceResponse{AccountID: account.ID, Balance: account.Balance}, nil
}

// ListTransactions returns the account's history most-recent-first.
func (e *Engine) ListTransactions(ctx context.Context, ownerID, accountID string, limit, offset int) ([]*models.Transaction, error) {
	if _, err := e.GetAccount(ctx, ownerID, accountID); err != nil {
		return nil, err
	}
	return e.store.ListTransactions(ctx, accountID, limit, offset)
}

// ListAccounts returns every account the owner holds, active and closed,
// ordered by creation.
func (e *Engine) ListAccounts(ctx context.Context, ownerID string) ([]*models.Account, error) {
	return e.store.ListAccounts(ctx, ownerID)
}

// Summary aggregates the owner's holdings for the dashboard: total balance,
// account count and the most recent transactions across all accounts.
func (e *Engine) Summary(ctx context.Context, ownerID string, recent int) (*models.OwnerSummary, error) {
	accounts, err := e.store.ListAccounts(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	for _, account := range accounts {
		total = total.Add(account.Balance)
	}

	transactions, err := e.store.ListOwnerTransactions(ctx, ownerID, recent)
	if err != nil {
		return nil, err
	}

	return &models.OwnerSummary{
		TotalBalance: total,
		AccountCount: len(accounts),
		Recent:       transactions,
	}, nil
}

func (e *Engine) ownedForUpdate(ctx context.Context, tx repository.Tx, ownerID, accountID string) (*models.Account, error) {
	account, err := tx.AccountForUpdate(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.OwnerID != ownerID {
		return nil, errors.ErrAccountNotFound
	}
	return account, nil
}

func (e *Engine) logOperationFailure(operation, accountID string, amount decimal.Decimal, err error) {
	if errors.IsStoreUnavailable(err) {
		e.logger.Error("store failure",
			"operation", operation,
			"account_id", accountID,
			"error", err.Error(),
		)
		return
	}
	e.logger.Warn("operation rejected",
		"operation", operation,
		"account_id", accountID,
		"amount", amount.String(),
		"error", err.Error(),
	)
}

func defaultDescription(description, fallback string) string {
	if strings.TrimSpace(description) == "" {
		return fallback
	}
	return description
}
