package commands

import (
	"fmt"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY,
	username TEXT UNIQUE NOT NULL,
	full_name TEXT NOT NULL,
	email TEXT UNIQUE NOT NULL,
	phone TEXT NOT NULL DEFAULT '',
	address TEXT NOT NULL DEFAULT '',
	registration_date TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS accounts (
	id UUID PRIMARY KEY,
	owner_id UUID NOT NULL REFERENCES users(id),
	account_number TEXT UNIQUE NOT NULL,
	account_type TEXT NOT NULL,
	balance NUMERIC(20, 2) NOT NULL DEFAULT 0,
	opening_date TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
	status TEXT NOT NULL DEFAULT 'active'
);

CREATE INDEX IF NOT EXISTS idx_accounts_owner ON accounts(owner_id);

CREATE TABLE IF NOT EXISTS transactions (
	id UUID PRIMARY KEY,
	account_id UUID NOT NULL REFERENCES accounts(id),
	transaction_type TEXT NOT NULL,
	amount NUMERIC(20, 2) NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	reference_number TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
	status TEXT NOT NULL DEFAULT 'completed'
);

CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_transactions_reference ON transactions(reference_number);
`

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the ledger schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
}

func runMigrate() error {
	config := loadConfig()

	db, err := connectDB(config)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	fmt.Println("schema applied")
	return nil
}
