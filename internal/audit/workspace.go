package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/cash-audit/internal/anomaly"
	"github.com/dvloznov/cash-audit/internal/cashcount"
	"github.com/dvloznov/cash-audit/internal/domain"
	"github.com/dvloznov/cash-audit/internal/ingest"
	"github.com/dvloznov/cash-audit/internal/recon"
	"github.com/dvloznov/cash-audit/internal/report"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	// ErrNoBatch is returned when an operation needs a loaded batch.
	ErrNoBatch = errors.New("no transaction batch loaded")
	// ErrBusy is returned while an anomaly analysis is outstanding.
	ErrBusy = errors.New("anomaly analysis in progress")
	// ErrStaleBatch is returned when the batch was replaced during an analysis.
	ErrStaleBatch = errors.New("batch replaced during analysis")
)

// Batch is one loaded set of ledger and bank transactions.
type Batch struct {
	ID           string               `json:"batch_id"`
	LoadedAt     time.Time            `json:"loaded_at"`
	Transactions []domain.Transaction `json:"transactions"`
	Reconciled   bool                 `json:"reconciled"`
	Pairs        []recon.Pair         `json:"pairs"`
	Analysis     *anomaly.Outcome     `json:"analysis,omitempty"`
}

// Snapshot is a read-only view of the workspace.
type Snapshot struct {
	Batch   Batch         `json:"batch"`
	Summary recon.Summary `json:"summary"`
	Busy    bool          `json:"busy"`
}

// Options configures a Workspace.
type Options struct {
	Denominations []int64
	BookBalance   decimal.Decimal
	Materiality   decimal.Decimal
	SampleLimit   int

	// PerformanceMateriality is optional; zero omits it from report stats.
	PerformanceMateriality decimal.Decimal

	// Now supplies the processing date for ingestion. Defaults to time.Now.
	Now func() time.Time
}

// Workspace holds the current transaction batch and cash count. Batches are
// replaced wholesale; records are never edited concurrently. It is safe for
// concurrent use.
type Workspace struct {
	mu        sync.RWMutex
	batch     *Batch
	analyzing bool
	cash      *cashcount.Sheet

	opts Options
	log  zerolog.Logger
}

// NewWorkspace creates an empty workspace.
func NewWorkspace(opts Options, log zerolog.Logger) *Workspace {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Workspace{
		cash: cashcount.NewSheet(opts.Denominations, opts.BookBalance),
		opts: opts,
		log:  log,
	}
}

// Load parses raw tabular text and replaces the current batch with it.
// A batch yielding no records is rejected with ingest.ErrEmptyBatch and the
// previous batch is kept.
func (w *Workspace) Load(raw string) (*Batch, error) {
	txs := ingest.Parse(raw, ingest.Options{Now: w.opts.Now})
	if len(txs) == 0 {
		return nil, ingest.ErrEmptyBatch
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.analyzing {
		return nil, ErrBusy
	}

	w.batch = &Batch{
		ID:           uuid.NewString(),
		LoadedAt:     w.opts.Now(),
		Transactions: txs,
	}

	ledger, bank := domain.Partition(txs)
	w.log.Info().
		Str("batch_id", w.batch.ID).
		Int("ledger", len(ledger)).
		Int("bank", len(bank)).
		Msg("Transaction batch loaded")

	return copyBatch(w.batch), nil
}

// Reconcile runs a reconciliation pass over the current batch.
func (w *Workspace) Reconcile() (recon.Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.batch == nil {
		return recon.Result{}, ErrNoBatch
	}
	if w.analyzing {
		return recon.Result{}, ErrBusy
	}

	res := recon.Reconcile(w.batch.Transactions)
	w.batch.Transactions = res.Transactions
	w.batch.Pairs = append(w.batch.Pairs, res.Pairs...)
	w.batch.Reconciled = true

	w.log.Info().
		Str("batch_id", w.batch.ID).
		Int("matched", res.Summary.Matched).
		Int("unmatched", res.Summary.Unmatched).
		Int("timing_differences", res.Summary.TimingDifferences).
		Msg("Reconciliation completed")

	res.Transactions = domain.Clone(res.Transactions)
	return res, nil
}

// Analyze sends the ledger sample of the current batch to classifier and
// overlays the result. The workspace refuses other mutations until the
// classifier returns. An unavailable outcome is returned without flagging
// anything.
func (w *Workspace) Analyze(ctx context.Context, classifier anomaly.Classifier) (anomaly.Outcome, int, error) {
	return w.AnalyzeBatch(ctx, "", classifier)
}

// AnalyzeBatch is Analyze restricted to the batch with the given ID. It
// returns ErrStaleBatch if another batch is current. An empty batchID
// matches any batch.
func (w *Workspace) AnalyzeBatch(ctx context.Context, batchID string, classifier anomaly.Classifier) (anomaly.Outcome, int, error) {
	batchID, sample, err := w.beginAnalysis(batchID)
	if err != nil {
		return anomaly.Outcome{}, 0, err
	}

	outcome := classifier.Classify(ctx, sample)

	flagged, err := w.completeAnalysis(batchID, outcome)
	if err != nil {
		return anomaly.Outcome{}, 0, err
	}
	return outcome, flagged, nil
}

func (w *Workspace) beginAnalysis(batchID string) (string, []anomaly.SampleRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.batch == nil {
		return "", nil, ErrNoBatch
	}
	if batchID != "" && batchID != w.batch.ID {
		return "", nil, fmt.Errorf("beginAnalysis: batch %s: %w", batchID, ErrStaleBatch)
	}
	if w.analyzing {
		return "", nil, ErrBusy
	}
	w.analyzing = true
	return w.batch.ID, anomaly.Sample(w.batch.Transactions, w.opts.SampleLimit), nil
}

func (w *Workspace) completeAnalysis(batchID string, outcome anomaly.Outcome) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.analyzing = false
	if w.batch == nil || w.batch.ID != batchID {
		return 0, fmt.Errorf("completeAnalysis: batch %s: %w", batchID, ErrStaleBatch)
	}

	txs, flagged := anomaly.Annotate(w.batch.Transactions, outcome)
	w.batch.Transactions = txs
	w.batch.Analysis = &outcome

	w.log.Info().
		Str("batch_id", batchID).
		Bool("available", outcome.Available).
		Int("flagged", flagged).
		Msg("Anomaly annotation applied")

	return flagged, nil
}

// Snapshot returns a copy of the current state.
func (w *Workspace) Snapshot() (Snapshot, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.batch == nil {
		return Snapshot{}, ErrNoBatch
	}
	b := copyBatch(w.batch)
	return Snapshot{
		Batch:   *b,
		Summary: recon.Summarize(b.Transactions, b.Pairs),
		Busy:    w.analyzing,
	}, nil
}

// CashCount is the current state of the cash count sheet.
type CashCount struct {
	Lines  []cashcount.Line `json:"lines"`
	Result cashcount.Result `json:"result"`
}

// UpdateCashCount applies raw per-denomination counts and, if non-nil, a raw
// book balance. Unknown denominations are reported back and skipped.
func (w *Workspace) UpdateCashCount(counts map[int64]string, bookBalance *string) (CashCount, []int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var unknown []int64
	for denom, raw := range counts {
		if !w.cash.SetCount(denom, raw) {
			unknown = append(unknown, denom)
		}
	}
	if bookBalance != nil {
		w.cash.SetBookBalance(*bookBalance)
	}
	return w.cashCountLocked(), unknown
}

// CashCount returns the current cash count.
func (w *Workspace) CashCount() CashCount {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cashCountLocked()
}

func (w *Workspace) cashCountLocked() CashCount {
	return CashCount{Lines: w.cash.Lines(), Result: w.cash.Result()}
}

// ReportStats aggregates the current batch and cash count for the summary
// generator. Without a batch only the cash figures are meaningful.
func (w *Workspace) ReportStats() map[string]any {
	w.mu.RLock()
	defer w.mu.RUnlock()

	in := report.Input{
		Cash:                   w.cash.Result(),
		Materiality:            w.opts.Materiality,
		PerformanceMateriality: w.opts.PerformanceMateriality,
	}
	if w.batch != nil {
		in.TotalTransactions = len(w.batch.Transactions)
		in.Recon = recon.Summarize(w.batch.Transactions, w.batch.Pairs)
		in.AnomalyAvailable = w.batch.Analysis != nil && w.batch.Analysis.Available
	}
	return report.Stats(in)
}

func copyBatch(b *Batch) *Batch {
	cp := *b
	cp.Transactions = domain.Clone(b.Transactions)
	cp.Pairs = append([]recon.Pair(nil), b.Pairs...)
	if b.Analysis != nil {
		a := *b.Analysis
		cp.Analysis = &a
	}
	return &cp
}
