// Package id generates the human-facing identifiers the ledger hands out:
// account numbers and transaction reference numbers. Uniqueness of account
// numbers is enforced at the store; this package only produces candidates.
package id

import (
	"fmt"
	"math/rand/v2"
)

// Reference-number prefixes are part of the external contract; reporting
// consumers filter on them.
const (
	PrefixDeposit    = "DEP"
	PrefixWithdrawal = "WDR"
	PrefixTransfer   = "TRF"
)

// AccountNumber returns a candidate account number: two 5-digit groups
// joined by a hyphen.
func AccountNumber() string {
	return fmt.Sprintf("%05d-%05d", group(), group())
}

func group() int {
	return rand.IntN(90000) + 10000
}

// Reference returns a reference number: prefix, hyphen, 7-digit suffix.
func Reference(prefix string) string {
	return fmt.Sprintf("%s-%07d", prefix, rand.IntN(9000000)+1000000)
}
