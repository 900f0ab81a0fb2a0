package ledger

import (
	"context"
	"log/slog"
	"regexp"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davekale/bankledger/internal/errors"
	"github.com/davekale/bankledger/internal/models"
	"github.com/davekale/bankledger/internal/repository"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	store := repository.NewMemoryStore()
	engine := NewEngine(store, slog.New(slog.DiscardHandler))

	user, err := engine.CreateUser(context.Background(), &models.CreateUserRequest{
		Username: "jdoe",
		FullName: "Jane Doe",
		Email:    "jdoe@example.com",
	})
	require.NoError(t, err)
	return engine, user.ID
}

func openWith(t *testing.T, e *Engine, owner, balance string) *models.Account {
	t.Helper()
	account, err := e.OpenAccount(context.Background(), owner, &models.OpenAccountRequest{
		AccountType:    "savings",
		InitialDeposit: dec(balance),
	})
	require.NoError(t, err)
	return account
}

func TestOpenAccount_WithInitialDeposit(t *testing.T) {
	engine, owner := newTestEngine(t)
	ctx := context.Background()

	account, err := engine.OpenAccount(ctx, owner, &models.OpenAccountRequest{
		AccountType:    "checking",
		InitialDeposit: dec("250.00"),
	})
	require.NoError(t, err)

	assert.Equal(t, models.AccountStatusActive, account.Status)
	assert.Equal(t, models.AccountTypeChecking, account.AccountType)
	assert.True(t, account.Balance.Equal(dec("250.00")))
	assert.Regexp(t, regexp.MustCompile(`^\d{5}-\d{5}$`), account.AccountNumber)
	assert.NotEmpty(t, account.ID)
	assert.False(t, account.OpeningDate.IsZero())

	transactions, err := engine.ListTransactions(ctx, owner, account.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, transactions, 1)
	assert.Equal(t, models.TransactionTypeDeposit, transactions[0].Type)
	assert.Equal(t, "Initial deposit", transactions[0].Description)
	assert.Regexp(t, regexp.MustCompile(`^DEP-\d{7}$`), transactions[0].ReferenceNumber)
	assert.Equal(t, models.TransactionStatusCompleted, transactions[0].Status)
}

func TestOpenAccount_ZeroDeposit_NoTransaction(t *testing.T) {
	engine, owner := newTestEngine(t)
	ctx := context.Background()

	account := openWith(t, engine, owner, "0")

	transactions, err := engine.ListTransactions(ctx, owner, account.ID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, transactions)
}

func TestOpenAccount_NegativeInitialDeposit(t *testing.T) {
	engine, owner := newTestEngine(t)

	_, err := engine.OpenAccount(context.Background(), owner, &models.OpenAccountRequest{
		AccountType:    "savings",
		InitialDeposit: dec("-1"),
	})
	require.ErrorIs(t, err, errors.ErrInvalidAmount)
}

func TestOpenAccount_UnknownType(t *testing.T) {
	engine, owner := newTestEngine(t)

	_, err := engine.OpenAccount(context.Background(), owner, &models.OpenAccountRequest{
		AccountType: "offshore",
	})
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestDepositThenWithdraw_RestoresBalance(t *testing.T) {
	engine, owner := newTestEngine(t)
	ctx := context.Background()
	account := openWith(t, engine, owner, "100.00")

	_, err := engine.Deposit(ctx, owner, account.ID, &models.AmountRequest{Amount: dec("50")})
	require.NoError(t, err)
	_, err = engine.Withdraw(ctx, owner, account.ID, &models.AmountRequest{Amount: dec("50")})
	require.NoError(t, err)

	balance, err := engine.GetBalance(ctx, owner, account.ID)
	require.NoError(t, err)
	assert.True(t, balance.Balance.Equal(dec("100.00")), "got %s", balance.Balance)

	transactions, err := engine.ListTransactions(ctx, owner, account.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, transactions, 3, "initial deposit + deposit + withdrawal")
}

func TestWithdraw_ReferenceAndDescription(t *testing.T) {
	engine, owner := newTestEngine(t)
	account := openWith(t, engine, owner, "100")

	transaction, err := engine.Withdraw(context.Background(), owner, account.ID, &models.AmountRequest{Amount: dec("40")})
	require.NoError(t, err)
	assert.Equal(t, models.TransactionTypeWithdrawal, transaction.Type)
	assert.Equal(t, "Withdrawal", transaction.Description)
	assert.Regexp(t, regexp.MustCompile(`^WDR-\d{7}$`), transaction.ReferenceNumber)
}

func TestWithdraw_InsufficientFunds_Boundary(t *testing.T) {
	engine, owner := newTestEngine(t)
	ctx := context.Background()
	account := openWith(t, engine, owner, "100.00")

	_, err := engine.Withdraw(ctx, owner, account.ID, &models.AmountRequest{Amount: dec("100.01")})
	require.ErrorIs(t, err, errors.ErrInsufficientFunds)

	balance, err := engine.GetBalance(ctx, owner, account.ID)
	require.NoError(t, err)
	assert.True(t, balance.Balance.Equal(dec("100.00")))

	transactions, err := engine.ListTransactions(ctx, owner, account.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, transactions, 1, "only the initial deposit")
}

func TestWithdraw_ExactBalance(t *testing.T) {
	engine, owner := newTestEngine(t)
	ctx := context.Background()
	account := openWith(t, engine, owner, "100.00")

	_, err := engine.Withdraw(ctx, owner, account.ID, &models.AmountRequest{Amount: dec("100.00")})
	require.NoError(t, err)

	balance, err := engine.GetBalance(ctx, owner, account.ID)
	require.NoError(t, err)
	assert.True(t, balance.Balance.IsZero())
}

func TestDeposit_InvalidAmount(t *testing.T) {
	engine, owner := newTestEngine(t)
	account := openWith(t, engine, owner, "10")

	for _, amount := range []string{"0", "-5"} {
		_, err := engine.Deposit(context.Background(), owner, account.ID, &models.AmountRequest{Amount: dec(amount)})
		require.ErrorIs(t, err, errors.ErrInvalidAmount, "amount %s", amount)
	}
}

func TestDeposit_AccountNotFound(t *testing.T) {
	engine, owner := newTestEngine(t)

	_, err := engine.Deposit(context.Background(), owner, "no-such-account", &models.AmountRequest{Amount: dec("5")})
	require.ErrorIs(t, err, errors.ErrAccountNotFound)
}

func TestDeposit_ForeignAccountHiddenAsNotFound(t *testing.T) {
	engine, owner := newTestEngine(t)
	account := openWith(t, engine, owner, "10")

	stranger, err := engine.CreateUser(context.Background(), &models.CreateUserRequest{
		Username: "mallory",
		FullName: "Mallory M",
		Email:    "mallory@example.com",
	})
	require.NoError(t, err)

	_, err = engine.Deposit(context.Background(), stranger.ID, account.ID, &models.AmountRequest{Amount: dec("5")})
	require.ErrorIs(t, err, errors.ErrAccountNotFound)
}

func TestClosedAccount_RejectsMutations(t *testing.T) {
	engine, owner := newTestEngine(t)
	ctx := context.Background()
	account := openWith(t, engine, owner, "25.00")

	require.NoError(t, engine.CloseAccount(ctx, owner, account.ID))

	_, err := engine.Deposit(ctx, owner, account.ID, &models.AmountRequest{Amount: dec("10")})
	require.ErrorIs(t, err, errors.ErrAccountClosed)

	_, err = engine.Withdraw(ctx, owner, account.ID, &models.AmountRequest{Amount: dec("10")})
	require.ErrorIs(t, err, errors.ErrAccountClosed)

	balance, err := engine.GetBalance(ctx, owner, account.ID)
	require.NoError(t, err)
	assert.True(t, balance.Balance.Equal(dec("25.00")), "balance untouched after rejected mutations")
}

func TestTransfer(t *testing.T) {
	engine, owner := newTestEngine(t)
	ctx := context.Background()
	from := openWith(t, engine, owner, "100.00")
	to := openWith(t, engine, owner, "20.00")

	result, err := engine.Transfer(ctx, owner, &models.TransferRequest{
		FromAccountID: from.ID,
		ToAccountID:   to.ID,
		Amount:        dec("30.00"),
	})
	require.NoError(t, err)

	assert.Equal(t, models.TransactionTypeTransferOut, result.Out.Type)
	assert.Equal(t, models.TransactionTypeTransferIn, result.In.Type)
	assert.Equal(t, from.ID, result.Out.AccountID)
	assert.Equal(t, to.ID, result.In.AccountID)
	assert.Equal(t, result.Out.ReferenceNumber, result.In.ReferenceNumber, "legs share one reference")
	assert.Regexp(t, regexp.MustCompile(`^TRF-\d{7}$`), result.Out.ReferenceNumber)
	assert.Equal(t, "Transfer between accounts", result.Out.Description)

	fromBalance, err := engine.GetBalance(ctx, owner, from.ID)
	require.NoError(t, err)
	toBalance, err := engine.GetBalance(ctx, owner, to.ID)
	require.NoError(t, err)
	assert.True(t, fromBalance.Balance.Equal(dec("70.00")))
	assert.True(t, toBalance.Balance.Equal(dec("50.00")))

	fromTxns, err := engine.ListTransactions(ctx, owner, from.ID, 0, 0)
	require.NoError(t, err)
	toTxns, err := engine.ListTransactions(ctx, owner, to.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, fromTxns, 2, "initial deposit + transfer out")
	assert.Len(t, toTxns, 2, "initial deposit + transfer in")
}

func TestTransfer_ByAccountNumber(t *testing.T) {
	engine, owner := newTestEngine(t)
	ctx := context.Background()
	from := openWith(t, engine, owner, "100.00")
	to := openWith(t, engine, owner, "0")

	result, err := engine.Transfer(ctx, owner, &models.TransferRequest{
		FromAccountID:   from.ID,
		ToAccountNumber: to.AccountNumber,
		Amount:          dec("25.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, to.ID, result.In.AccountID)

	toBalance, err := engine.GetBalance(ctx, owner, to.ID)
	require.NoError(t, err)
	assert.True(t, toBalance.Balance.Equal(dec("25.00")))

	_, err = engine.Transfer(ctx, owner, &models.TransferRequest{
		FromAccountID:   from.ID,
		ToAccountNumber: "00000-00000",
		Amount:          dec("5"),
	})
	require.ErrorIs(t, err, errors.ErrAccountNotFound)
}

func TestTransfer_SameAccount(t *testing.T) {
	engine, owner := newTestEngine(t)
	account := openWith(t, engine, owner, "100")

	_, err := engine.Transfer(context.Background(), owner, &models.TransferRequest{
		FromAccountID: account.ID,
		ToAccountID:   account.ID,
		Amount:        dec("10"),
	})
	require.ErrorIs(t, err, errors.ErrSameAccount)
}

func TestTransfer_InsufficientFunds_NoPartialWrites(t *testing.T) {
	engine, owner := newTestEngine(t)
	ctx := context.Background()
	from := openWith(t, engine, owner, "10.00")
	to := openWith(t, engine, owner, "0")

	_, err := engine.Transfer(ctx, owner, &models.TransferRequest{
		FromAccountID: from.ID,
		ToAccountID:   to.ID,
		Amount:        dec("10.01"),
	})
	require.ErrorIs(t, err, errors.ErrInsufficientFunds)

	fromBalance, err := engine.GetBalance(ctx, owner, from.ID)
	require.NoError(t, err)
	toBalance, err := engine.GetBalance(ctx, owner, to.ID)
	require.NoError(t, err)
	assert.True(t, fromBalance.Balance.Equal(dec("10.00")))
	assert.True(t, toBalance.Balance.IsZero())

	toTxns, err := engine.ListTransactions(ctx, owner, to.ID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, toTxns)
}

func TestTransfer_ClosedDestination(t *testing.T) {
	engine, owner := newTestEngine(t)
	ctx := context.Background()
	from := openWith(t, engine, owner, "100")
	to := openWith(t, engine, owner, "0")

	require.NoError(t, engine.CloseAccount(ctx, owner, to.ID))

	_, err := engine.Transfer(ctx, owner, &models.TransferRequest{
		FromAccountID: from.ID,
		ToAccountID:   to.ID,
		Amount:        dec("10"),
	})
	require.ErrorIs(t, err, errors.ErrAccountClosed)
}

func TestTransfer_ForeignSource(t *testing.T) {
	engine, owner := newTestEngine(t)
	ctx := context.Background()
	victim := openWith(t, engine, owner, "100")

	stranger, err := engine.CreateUser(ctx, &models.CreateUserRequest{
		Username: "mallory",
		FullName: "Mallory M",
		Email:    "mallory@example.com",
	})
	require.NoError(t, err)
	own := openWith(t, engine, stranger.ID, "0")

	_, err = engine.Transfer(ctx, stranger.ID, &models.TransferRequest{
		FromAccountID: victim.ID,
		ToAccountID:   own.ID,
		Amount:        dec("10"),
	})
	require.ErrorIs(t, err, errors.ErrAccountNotFound)
}

func TestCloseAccount_Lifecycle(t *testing.T) {
	engine, owner := newTestEngine(t)
	ctx := context.Background()
	account := openWith(t, engine, owner, "42.00")

	check, err := engine.CheckClosure(ctx, owner, account.ID)
	require.NoError(t, err)
	assert.True(t, check.Warning, "non-zero balance flags a warning")
	assert.True(t, check.Balance.Equal(dec("42.00")))

	require.NoError(t, engine.CloseAccount(ctx, owner, account.ID))

	err = engine.CloseAccount(ctx, owner, account.ID)
	require.ErrorIs(t, err, errors.ErrAlreadyClosed)

	_, err = engine.CheckClosure(ctx, owner, account.ID)
	require.ErrorIs(t, err, errors.ErrAlreadyClosed)

	// Closed accounts stay listed.
	accounts, err := engine.ListAccounts(ctx, owner)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, models.AccountStatusClosed, accounts[0].Status)
}

func TestCheckClosure_ZeroBalanceNoWarning(t *testing.T) {
	engine, owner := newTestEngine(t)
	account := openWith(t, engine, owner, "0")

	check, err := engine.CheckClosure(context.Background(), owner, account.ID)
	require.NoError(t, err)
	assert.False(t, check.Warning)
}

// The ledger invariant: an account's balance always equals the sum of the
// signed amounts of every transaction posted against it.
func TestBalanceMatchesTransactionSum(t *testing.T) {
	engine, owner := newTestEngine(t)
	ctx := context.Background()
	a := openWith(t, engine, owner, "500.00")
	b := openWith(t, engine, owner, "200.00")

	_, err := engine.Deposit(ctx, owner, a.ID, &models.AmountRequest{Amount: dec("17.25")})
	require.NoError(t, err)
	_, err = engine.Withdraw(ctx, owner, a.ID, &models.AmountRequest{Amount: dec("99.99")})
	require.NoError(t, err)
	_, err = engine.Transfer(ctx, owner, &models.TransferRequest{FromAccountID: a.ID, ToAccountID: b.ID, Amount: dec("123.45")})
	require.NoError(t, err)
	_, err = engine.Transfer(ctx, owner, &models.TransferRequest{FromAccountID: b.ID, ToAccountID: a.ID, Amount: dec("5.00")})
	require.NoError(t, err)

	for _, account := range []*models.Account{a, b} {
		transactions, err := engine.ListTransactions(ctx, owner, account.ID, 0, 0)
		require.NoError(t, err)

		sum := decimal.Zero
		for _, transaction := range transactions {
			sum = sum.Add(transaction.SignedAmount())
		}

		balance, err := engine.GetBalance(ctx, owner, account.ID)
		require.NoError(t, err)
		assert.True(t, balance.Balance.Equal(sum), "account %s: balance %s vs sum %s", account.ID, balance.Balance, sum)
	}
}

func TestConcurrentWithdrawals_ExactlyOneSucceeds(t *testing.T) {
	engine, owner := newTestEngine(t)
	ctx := context.Background()
	account := openWith(t, engine, owner, "100.00")

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Withdraw(ctx, owner, account.ID, &models.AmountRequest{Amount: dec("80.00")})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, insufficient int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.IsInsufficientFunds(err):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, insufficient)

	balance, err := engine.GetBalance(ctx, owner, account.ID)
	require.NoError(t, err)
	assert.True(t, balance.Balance.Equal(dec("20.00")), "got %s", balance.Balance)
}

func TestConcurrentOppositeTransfers_NoDeadlock(t *testing.T) {
	engine, owner := newTestEngine(t)
	ctx := context.Background()
	a := openWith(t, engine, owner, "100.00")
	b := openWith(t, engine, owner, "100.00")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			engine.Transfer(ctx, owner, &models.TransferRequest{FromAccountID: a.ID, ToAccountID: b.ID, Amount: dec("1")})
		}()
		go func() {
			defer wg.Done()
			engine.Transfer(ctx, owner, &models.TransferRequest{FromAccountID: b.ID, ToAccountID: a.ID, Amount: dec("1")})
		}()
	}
	wg.Wait()

	aBalance, err := engine.GetBalance(ctx, owner, a.ID)
	require.NoError(t, err)
	bBalance, err := engine.GetBalance(ctx, owner, b.ID)
	require.NoError(t, err)
	assert.True(t, aBalance.Balance.Add(bBalance.Balance).Equal(dec("200.00")), "funds conserved")
}

func TestAccountNumbers_UniqueAcrossManyCreations(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping 10k account creation in short mode")
	}
	engine, owner := newTestEngine(t)
	ctx := context.Background()

	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		account, err := engine.OpenAccount(ctx, owner, &models.OpenAccountRequest{
			AccountType: "savings",
		})
		require.NoError(t, err)
		_, dup := seen[account.AccountNumber]
		require.False(t, dup, "duplicate account number %s", account.AccountNumber)
		seen[account.AccountNumber] = struct{}{}
	}
}

func TestListTransactions_OrderAndPaging(t *testing.T) {
	engine, owner := newTestEngine(t)
	ctx := context.Background()
	account := openWith(t, engine, owner, "0")

	amounts := []string{"1", "2", "3", "4", "5"}
	for _, amount := range amounts {
		_, err := engine.Deposit(ctx, owner, account.ID, &models.AmountRequest{Amount: dec(amount)})
		require.NoError(t, err)
	}

	transactions, err := engine.ListTransactions(ctx, owner, account.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, transactions, 5)
	// Most recent first.
	assert.True(t, transactions[0].Amount.Equal(dec("5")))
	assert.True(t, transactions[4].Amount.Equal(dec("1")))

	page, err := engine.ListTransactions(ctx, owner, account.ID, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, page[0].Amount.Equal(dec("4")))
	assert.True(t, page[1].Amount.Equal(dec("3")))
}

func TestSummary(t *testing.T) {
	engine, owner := newTestEngine(t)
	ctx := context.Background()
	openWith(t, engine, owner, "100.50")
	b := openWith(t, engine, owner, "49.50")
	_, err := engine.Deposit(ctx, owner, b.ID, &models.AmountRequest{Amount: dec("50")})
	require.NoError(t, err)

	summary, err := engine.Summary(ctx, owner, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.AccountCount)
	assert.True(t, summary.TotalBalance.Equal(dec("200.00")), "got %s", summary.TotalBalance)
	require.Len(t, summary.Recent, 2)
	assert.True(t, summary.Recent[0].Amount.Equal(dec("50")), "most recent first")
}

func TestCreateUser_Validation(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.CreateUser(context.Background(), &models.CreateUserRequest{
		Username: "",
		FullName: "Nameless",
		Email:    "x@example.com",
	})
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))

	_, err = engine.CreateUser(context.Background(), &models.CreateUserRequest{
		Username: "jdoe",
		FullName: "Jane Doe II",
		Email:    "jdoe2@example.com",
	})
	require.ErrorIs(t, err, errors.ErrUserAlreadyExists)
}
