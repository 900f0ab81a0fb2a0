package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountType string

const (
	AccountTypeSavings      AccountType = "savings"
	AccountTypeChecking     AccountType = "checking"
	AccountTypeFixedDeposit AccountType = "fixed_deposit"
	AccountTypeLoan         AccountType = "loan"
)

// ParseAccountType reports whether s names a supported account type.
func ParseAccountType(s string) (AccountType, bool) {
	switch AccountType(s) {
	case AccountTypeSavings, AccountTypeChecking, AccountTypeFixedDeposit, AccountTypeLoan:
		return AccountType(s), true
	}
	return "", false
}

type AccountStatus string

const (
	AccountStatusActive AccountStatus = "active"
	AccountStatusClosed AccountStatus = "closed"
)

type TransactionType string

const (
	TransactionTypeDeposit     TransactionType = "deposit"
	TransactionTypeWithdrawal  TransactionType = "withdrawal"
	TransactionTypeTransferOut TransactionType = "transfer_out"
	TransactionTypeTransferIn  TransactionType = "transfer_in"
)

// TransactionStatusCompleted is the only status the ledger ever writes.
// Pending/reversed states are not modeled.
const TransactionStatusCompleted = "completed"

type Account struct {
	ID            string          `json:"id"`
	OwnerID       string          `json:"owner_id"`
	AccountNumber string          `json:"account_number"`
	AccountType   AccountType     `json:"account_type"`
	Balance       decimal.Decimal `json:"balance"`
	OpeningDate   time.Time       `json:"opening_date"`
	Status        AccountStatus   `json:"status"`
}

type Transaction struct {
	ID              string          `json:"id"`
	AccountID       string          `json:"account_id"`
	Type            TransactionType `json:"type"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description,omitempty"`
	ReferenceNumber string          `json:"reference_number"`
	Timestamp       time.Time       `json:"timestamp"`
	Status          string          `json:"status"`
}

// SignedAmount returns the amount with the sign implied by the transaction
// type: credits positive, debits negative.
func (t *Transaction) SignedAmount() decimal.Decimal {
	switch t.Type {
	case TransactionTypeWithdrawal, TransactionTypeTransferOut:
		return t.Amount.Neg()
	}
	return t.Amount
}

type User struct {
	ID               string    `json:"id"`
	Username         string    `json:"username"`
	FullName         string    `json:"full_name"`
	Email            string    `json:"email"`
	Phone            string    `json:"phone,omitempty"`
	Address          string    `json:"address,omitempty"`
	RegistrationDate time.Time `json:"registration_date"`
}

type CreateUserRequest struct {
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
}

type OpenAccountRequest struct {
	AccountType    string          `json:"account_type"`
	InitialDeposit decimal.Decimal `json:"initial_deposit"`
	Description    string          `json:"description"`
}

type AmountRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// TransferRequest names the destination by id or by account number; the
// account number is what holders share with each other.
type TransferRequest struct {
	FromAccountID   string          `json:"from_account_id"`
	ToAccountID     string          `json:"to_account_id"`
	ToAccountNumber string          `json:"to_account_number"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description"`
}

// TransferResult carries the two legs written by a transfer. Both share one
// reference number.
type TransferResult struct {
	Out *Transaction `json:"out"`
	In  *Transaction `json:"in"`
}

// ClosureCheck is the pre-closure view of an account. Warning is set when the
// account still carries a non-zero balance, so the caller can ask for
// confirmation before closing.
type ClosureCheck struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	Warning   bool            `json:"warning"`
}

type BalanceResponse struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
}

// OwnerSummary backs the dashboard view: totals across every account the
// owner holds plus their most recent transactions.
type OwnerSummary struct {
	TotalBalance decimal.Decimal `json:"total_balance"`
	AccountCount int             `json:"account_count"`
	Recent       []*Transaction  `json:"recent_transactions"`
}

// AccountDetail is an account together with its most recent transactions.
type AccountDetail struct {
	Account *Account       `json:"account"`
	Recent  []*Transaction `json:"recent_transactions"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
