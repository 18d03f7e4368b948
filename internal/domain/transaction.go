package domain

import (
	"github.com/shopspring/decimal"
)

// TxType is the direction of a transaction. The sign of Amount never carries
// direction; TxType does.
type TxType string

const (
	Debit  TxType = "DEBIT"
	Credit TxType = "CREDIT"
)

// Source is the partition a transaction originates from.
type Source string

const (
	// Ledger records come from the internal book.
	Ledger Source = "LEDGER"
	// Bank records come from the external bank statement.
	Bank Source = "BANK"
)

// Status tracks a transaction through reconciliation and annotation.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusMatched   Status = "MATCHED"
	StatusUnmatched Status = "UNMATCHED"
	StatusFlagged   Status = "FLAGGED"
)

const (
	// TimingDifferenceReason marks a ledger record matched without date equality.
	TimingDifferenceReason = "Timing Difference (Auto-Resolved)"

	// GenericAnomalyReason is used when the classifier flags an id without a finding.
	GenericAnomalyReason = "AI Flagged Anomaly"
)

// Transaction is one record of either the ledger or the bank statement.
type Transaction struct {
	ID          string          `json:"id"`
	Date        string          `json:"date"` // literal, no timezone semantics
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"` // non-negative magnitude
	Type        TxType          `json:"type"`
	Source      Source          `json:"source"`
	Status      Status          `json:"status"`
	FlagReason  string          `json:"flag_reason,omitempty"`
}

// ParseTxType maps a raw column value to a TxType. ok is false for unknown values.
func ParseTxType(s string) (TxType, bool) {
	switch TxType(s) {
	case Debit, Credit:
		return TxType(s), true
	}
	return "", false
}

// ParseSource maps a raw column value to a Source. ok is false for unknown values.
func ParseSource(s string) (Source, bool) {
	switch Source(s) {
	case Ledger, Bank:
		return Source(s), true
	}
	return "", false
}

// Clone returns a copy of txs that shares no backing array with the input.
func Clone(txs []Transaction) []Transaction {
	out := make([]Transaction, len(txs))
	copy(out, txs)
	return out
}

// Partition returns the indexes of ledger and bank records, each in input order.
func Partition(txs []Transaction) (ledger, bank []int) {
	for i := range txs {
		switch txs[i].Source {
		case Ledger:
			ledger = append(ledger, i)
		case Bank:
			bank = append(bank, i)
		}
	}
	return ledger, bank
}

// CountByStatus tallies records per status.
func CountByStatus(txs []Transaction) map[Status]int {
	counts := make(map[Status]int, 4)
	for i := range txs {
		counts[txs[i].Status]++
	}
	return counts
}
