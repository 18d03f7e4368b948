package recon

import (
	"github.com/dvloznov/cash-audit/internal/domain"
	"github.com/shopspring/decimal"
)

// MatchKind records which tier of the matching policy paired two records.
type MatchKind string

const (
	// MatchExact pairs records with equal amount, type and date.
	MatchExact MatchKind = "EXACT"
	// MatchPending pairs a ledger record with a still-untouched bank record
	// regardless of date.
	MatchPending MatchKind = "PENDING"
	// MatchTolerant pairs records with equal amount and type, ignoring date
	// and the candidate's prior state unless it is MATCHED.
	MatchTolerant MatchKind = "TOLERANT"
)

// Pair is one ledger/bank correspondence established by a pass.
type Pair struct {
	LedgerID string    `json:"ledger_id"`
	BankID   string    `json:"bank_id"`
	Kind     MatchKind `json:"kind"`
	// TimingDifference is set when the paired dates differ.
	TimingDifference bool `json:"timing_difference"`
}

// Summary aggregates the outcome of a pass.
type Summary struct {
	Matched           int `json:"matched"`
	Unmatched         int `json:"unmatched"`
	Flagged           int `json:"flagged"`
	TimingDifferences int `json:"timing_differences"`
	// TotalVariance is the summed amount of every record not MATCHED.
	TotalVariance decimal.Decimal `json:"total_variance"`
}

// Result is the output of Reconcile.
type Result struct {
	Transactions []domain.Transaction `json:"transactions"`
	Pairs        []Pair               `json:"pairs"`
	Summary      Summary              `json:"summary"`
}

// Reconcile matches ledger records against bank records and resolves every
// record not yet MATCHED to MATCHED or UNMATCHED. The input slice is not
// modified.
//
// Ledger records are processed in input order and take the first eligible
// bank candidate in input order, trying an exact match (amount, type, date),
// then any still-PENDING candidate, then any candidate not yet MATCHED.
// Amount and type must always be equal. A match whose dates differ tags the
// ledger record with domain.TimingDifferenceReason. MATCHED records are never
// candidates and are left untouched. FLAGGED records are resolved like any
// other and keep their flag reason unless a timing difference replaces it.
func Reconcile(txs []domain.Transaction) Result {
	out := domain.Clone(txs)
	ledger, bank := domain.Partition(out)

	// consumed holds bank indexes paired during this pass.
	consumed := make(map[int]bool, len(bank))
	var pairs []Pair

	for _, li := range ledger {
		l := &out[li]
		if l.Status == domain.StatusMatched {
			continue
		}

		bi, kind := findCandidate(out, bank, consumed, l)
		if bi < 0 {
			l.Status = domain.StatusUnmatched
			continue
		}

		b := &out[bi]
		consumed[bi] = true
		l.Status = domain.StatusMatched
		b.Status = domain.StatusMatched

		timing := b.Date != l.Date
		if timing {
			l.FlagReason = domain.TimingDifferenceReason
		}
		pairs = append(pairs, Pair{
			LedgerID:         l.ID,
			BankID:           b.ID,
			Kind:             kind,
			TimingDifference: timing,
		})
	}

	for _, bi := range bank {
		if out[bi].Status != domain.StatusMatched {
			out[bi].Status = domain.StatusUnmatched
		}
	}

	return Result{
		Transactions: out,
		Pairs:        pairs,
		Summary:      Summarize(out, pairs),
	}
}

// findCandidate returns the bank index chosen for l and the tier that chose
// it, or -1 when no candidate exists.
func findCandidate(txs []domain.Transaction, bank []int, consumed map[int]bool, l *domain.Transaction) (int, MatchKind) {
	tiers := []struct {
		kind MatchKind
		ok   func(b *domain.Transaction) bool
	}{
		{MatchExact, func(b *domain.Transaction) bool { return b.Date == l.Date }},
		{MatchPending, func(b *domain.Transaction) bool { return b.Status == domain.StatusPending }},
		{MatchTolerant, func(b *domain.Transaction) bool { return true }},
	}

	for _, tier := range tiers {
		for _, bi := range bank {
			b := &txs[bi]
			if !eligible(b, consumed[bi], l) {
				continue
			}
			if tier.ok(b) {
				return bi, tier.kind
			}
		}
	}
	return -1, ""
}

func eligible(b *domain.Transaction, consumed bool, l *domain.Transaction) bool {
	if consumed || b.Status == domain.StatusMatched {
		return false
	}
	return b.Type == l.Type && b.Amount.Equal(l.Amount)
}

// Summarize counts statuses in txs. pairs may be nil.
func Summarize(txs []domain.Transaction, pairs []Pair) Summary {
	counts := domain.CountByStatus(txs)
	s := Summary{
		Matched:       counts[domain.StatusMatched],
		Unmatched:     counts[domain.StatusUnmatched],
		Flagged:       counts[domain.StatusFlagged],
		TotalVariance: decimal.Zero,
	}
	for i := range txs {
		if txs[i].Status != domain.StatusMatched {
			s.TotalVariance = s.TotalVariance.Add(txs[i].Amount)
		}
	}
	for _, p := range pairs {
		if p.TimingDifference {
			s.TimingDifferences++
		}
	}
	return s
}
