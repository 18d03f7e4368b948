package anomaly

import (
	"context"

	"github.com/dvloznov/cash-audit/internal/domain"
)

// DefaultSampleLimit caps how many ledger records are sent for classification.
const DefaultSampleLimit = 30

// SampleRecord is the per-transaction payload sent to the classifier.
type SampleRecord struct {
	ID          string        `json:"id"`
	Date        string        `json:"date"`
	Amount      float64       `json:"amount"`
	Description string        `json:"description"`
	Source      domain.Source `json:"source"`
}

// Finding explains why one transaction was flagged.
type Finding struct {
	ID     string `json:"id" validate:"required"`
	Reason string `json:"reason"`
}

// Outcome is the result of a classification attempt. Available is false when
// the classifier could not be reached or answered with something unusable;
// that case is distinct from an available outcome with no flagged ids.
type Outcome struct {
	Available  bool      `json:"available"`
	Summary    string    `json:"summary"`
	FlaggedIDs []string  `json:"flagged_ids"`
	Findings   []Finding `json:"findings"`
}

// Unavailable returns a degraded outcome carrying an explanatory summary.
func Unavailable(summary string) Outcome {
	return Outcome{
		Summary:    summary,
		FlaggedIDs: []string{},
		Findings:   []Finding{},
	}
}

// Classifier detects anomalous transactions in a sample. Implementations
// never return an error: failures surface as an Unavailable outcome.
type Classifier interface {
	Classify(ctx context.Context, sample []SampleRecord) Outcome
}

// Sample builds the classifier request from the ledger records of txs,
// keeping at most limit records in input order. limit <= 0 means
// DefaultSampleLimit.
func Sample(txs []domain.Transaction, limit int) []SampleRecord {
	if limit <= 0 {
		limit = DefaultSampleLimit
	}

	sample := make([]SampleRecord, 0, min(limit, len(txs)))
	for i := range txs {
		if len(sample) == limit {
			break
		}
		t := txs[i]
		if t.Source != domain.Ledger {
			continue
		}
		sample = append(sample, SampleRecord{
			ID:          t.ID,
			Date:        t.Date,
			Amount:      t.Amount.InexactFloat64(),
			Description: t.Description,
			Source:      t.Source,
		})
	}
	return sample
}

// Annotate overlays outcome onto a copy of txs. Every record whose id was
// flagged becomes FLAGGED with the matching finding's reason, or
// domain.GenericAnomalyReason when none was given. An unavailable outcome
// flags nothing. The second return value is the number of records flagged.
func Annotate(txs []domain.Transaction, outcome Outcome) ([]domain.Transaction, int) {
	out := domain.Clone(txs)
	if !outcome.Available || len(outcome.FlaggedIDs) == 0 {
		return out, 0
	}

	flagged := make(map[string]bool, len(outcome.FlaggedIDs))
	for _, id := range outcome.FlaggedIDs {
		flagged[id] = true
	}

	// First finding per id wins.
	reasons := make(map[string]string, len(outcome.Findings))
	for _, f := range outcome.Findings {
		if _, ok := reasons[f.ID]; !ok && f.Reason != "" {
			reasons[f.ID] = f.Reason
		}
	}

	n := 0
	for i := range out {
		if !flagged[out[i].ID] {
			continue
		}
		out[i].Status = domain.StatusFlagged
		if reason, ok := reasons[out[i].ID]; ok {
			out[i].FlagReason = reason
		} else {
			out[i].FlagReason = domain.GenericAnomalyReason
		}
		n++
	}
	return out, n
}
