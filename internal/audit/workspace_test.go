package audit

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/dvloznov/cash-audit/internal/anomaly"
	"github.com/dvloznov/cash-audit/internal/domain"
	"github.com/dvloznov/cash-audit/internal/ingest"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// mockClassifier returns a fixed outcome, optionally waiting on release first.
type mockClassifier struct {
	outcome  anomaly.Outcome
	started  chan struct{}
	release  chan struct{}
	received []anomaly.SampleRecord
}

func (m *mockClassifier) Classify(ctx context.Context, sample []anomaly.SampleRecord) anomaly.Outcome {
	m.received = sample
	if m.started != nil {
		close(m.started)
	}
	if m.release != nil {
		<-m.release
	}
	return m.outcome
}

func newTestWorkspace() *Workspace {
	return NewWorkspace(Options{
		Denominations: []int64{100000, 50000},
		BookBalance:   decimal.NewFromInt(150000),
		Materiality:   decimal.NewFromInt(50000),
		Now:           func() time.Time { return time.Date(2023, 10, 31, 9, 0, 0, 0, time.UTC) },
	}, zerolog.New(io.Discard))
}

func TestWorkspace_NoBatch(t *testing.T) {
	ws := newTestWorkspace()

	if _, err := ws.Snapshot(); !errors.Is(err, ErrNoBatch) {
		t.Errorf("Snapshot err = %v, want ErrNoBatch", err)
	}
	if _, err := ws.Reconcile(); !errors.Is(err, ErrNoBatch) {
		t.Errorf("Reconcile err = %v, want ErrNoBatch", err)
	}
	if _, _, err := ws.Analyze(context.Background(), &mockClassifier{}); !errors.Is(err, ErrNoBatch) {
		t.Errorf("Analyze err = %v, want ErrNoBatch", err)
	}
}

func TestWorkspace_LoadEmptyKeepsPreviousBatch(t *testing.T) {
	ws := newTestWorkspace()

	first, err := ws.Load(ingest.SampleDataset)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}

	if _, err := ws.Load(ingest.Header + "\n"); !errors.Is(err, ingest.ErrEmptyBatch) {
		t.Fatalf("Load header-only err = %v, want ErrEmptyBatch", err)
	}

	snap, err := ws.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Batch.ID != first.ID || len(snap.Batch.Transactions) != 16 {
		t.Errorf("previous batch not kept: id %s, %d records", snap.Batch.ID, len(snap.Batch.Transactions))
	}
}

func TestWorkspace_LoadReplacesBatch(t *testing.T) {
	ws := newTestWorkspace()

	first, _ := ws.Load(ingest.SampleDataset)
	second, err := ws.Load(ingest.Header + "\nL1,2023-10-01,Rent,100,DEBIT,LEDGER\n")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if first.ID == second.ID {
		t.Error("expected a new batch id")
	}

	snap, _ := ws.Snapshot()
	if len(snap.Batch.Transactions) != 1 || snap.Batch.Reconciled {
		t.Errorf("unexpected snapshot: %+v", snap.Batch)
	}
}

func TestWorkspace_ReconcileSample(t *testing.T) {
	ws := newTestWorkspace()
	if _, err := ws.Load(ingest.SampleDataset); err != nil {
		t.Fatalf("Load: %v", err)
	}

	res, err := ws.Reconcile()
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Summary.Matched != 10 || res.Summary.Unmatched != 6 {
		t.Errorf("summary = %+v", res.Summary)
	}

	snap, _ := ws.Snapshot()
	if !snap.Batch.Reconciled || snap.Summary.Matched != res.Summary.Matched || !snap.Summary.TotalVariance.Equal(res.Summary.TotalVariance) {
		t.Errorf("snapshot not updated: %+v", snap.Summary)
	}
	if len(snap.Batch.Pairs) != len(res.Pairs) {
		t.Errorf("pairs = %d, want %d", len(snap.Batch.Pairs), len(res.Pairs))
	}

	// Mutating the returned copy must not reach the workspace.
	res.Transactions[0].Status = domain.StatusFlagged
	snap, _ = ws.Snapshot()
	if snap.Batch.Transactions[0].Status == domain.StatusFlagged {
		t.Error("Reconcile result aliases workspace state")
	}
}

func TestWorkspace_Analyze(t *testing.T) {
	ws := newTestWorkspace()
	ws.Load(ingest.SampleDataset)

	c := &mockClassifier{outcome: anomaly.Outcome{
		Available:  true,
		Summary:    "One suspicious payment.",
		FlaggedIDs: []string{"L004"},
		Findings:   []anomaly.Finding{{ID: "L004", Reason: "Weekend transfer"}},
	}}

	outcome, flagged, err := ws.Analyze(context.Background(), c)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if flagged != 1 || !outcome.Available {
		t.Errorf("flagged = %d, outcome = %+v", flagged, outcome)
	}
	if len(c.received) != 9 {
		t.Errorf("sample size = %d, want 9 ledger records", len(c.received))
	}

	snap, _ := ws.Snapshot()
	for _, tx := range snap.Batch.Transactions {
		if tx.ID == "L004" && (tx.Status != domain.StatusFlagged || tx.FlagReason != "Weekend transfer") {
			t.Errorf("L004 = %+v", tx)
		}
	}
	if snap.Batch.Analysis == nil || snap.Batch.Analysis.Summary != "One suspicious payment." {
		t.Errorf("analysis not recorded: %+v", snap.Batch.Analysis)
	}
}

func TestWorkspace_AnalyzeUnavailableFlagsNothing(t *testing.T) {
	ws := newTestWorkspace()
	ws.Load(ingest.SampleDataset)

	_, flagged, err := ws.Analyze(context.Background(), &mockClassifier{outcome: anomaly.Unavailable("AI unavailable")})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if flagged != 0 {
		t.Errorf("flagged = %d, want 0", flagged)
	}

	snap, _ := ws.Snapshot()
	if snap.Summary.Flagged != 0 {
		t.Errorf("flagged records = %d", snap.Summary.Flagged)
	}
}

func TestWorkspace_BusyDuringAnalysis(t *testing.T) {
	ws := newTestWorkspace()
	ws.Load(ingest.SampleDataset)

	c := &mockClassifier{
		outcome: anomaly.Outcome{Available: true, FlaggedIDs: []string{}},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}

	done := make(chan error, 1)
	go func() {
		_, _, err := ws.Analyze(context.Background(), c)
		done <- err
	}()
	<-c.started

	if _, err := ws.Reconcile(); !errors.Is(err, ErrBusy) {
		t.Errorf("Reconcile err = %v, want ErrBusy", err)
	}
	if _, err := ws.Load(ingest.SampleDataset); !errors.Is(err, ErrBusy) {
		t.Errorf("Load err = %v, want ErrBusy", err)
	}
	if _, _, err := ws.Analyze(context.Background(), &mockClassifier{}); !errors.Is(err, ErrBusy) {
		t.Errorf("second Analyze err = %v, want ErrBusy", err)
	}
	if snap, _ := ws.Snapshot(); !snap.Busy {
		t.Error("snapshot should report busy")
	}

	close(c.release)
	if err := <-done; err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if _, err := ws.Reconcile(); err != nil {
		t.Errorf("Reconcile after analysis: %v", err)
	}
}

func TestWorkspace_CashCount(t *testing.T) {
	ws := newTestWorkspace()

	book := "200000"
	cc, unknown := ws.UpdateCashCount(map[int64]string{100000: "1", 50000: "1", 7: "3"}, &book)
	if len(unknown) != 1 || unknown[0] != 7 {
		t.Errorf("unknown = %v, want [7]", unknown)
	}
	if !cc.Result.PhysicalTotal.Equal(decimal.NewFromInt(150000)) {
		t.Errorf("physical total = %s", cc.Result.PhysicalTotal)
	}
	if !cc.Result.Variance.Equal(decimal.NewFromInt(-50000)) || cc.Result.Balanced {
		t.Errorf("variance = %s, balanced = %v", cc.Result.Variance, cc.Result.Balanced)
	}

	if got := ws.CashCount(); !got.Result.BookBalance.Equal(decimal.NewFromInt(200000)) {
		t.Errorf("book balance = %s", got.Result.BookBalance)
	}
}

func TestWorkspace_ReportStats(t *testing.T) {
	ws := newTestWorkspace()

	stats := ws.ReportStats()
	if stats["totalTransactions"] != 0 || stats["fraudAnalysis"] != "not performed" {
		t.Errorf("empty stats = %v", stats)
	}

	ws.Load(ingest.SampleDataset)
	ws.Reconcile()
	ws.Analyze(context.Background(), &mockClassifier{outcome: anomaly.Outcome{Available: true, FlaggedIDs: []string{}}})

	stats = ws.ReportStats()
	if stats["totalTransactions"] != 16 || stats["matched"] != 10 {
		t.Errorf("stats = %v", stats)
	}
	if _, ok := stats["fraudAnalysis"]; ok {
		t.Error("fraudAnalysis should be absent after an available analysis")
	}
}

func TestWorkspace_AnalyzeBeforeReconcile(t *testing.T) {
	ws := newTestWorkspace()
	ws.Load(ingest.SampleDataset)

	c := &mockClassifier{outcome: anomaly.Outcome{
		Available:  true,
		FlaggedIDs: []string{"L004"},
		Findings:   []anomaly.Finding{{ID: "L004", Reason: "Round amount"}},
	}}
	if _, _, err := ws.Analyze(context.Background(), c); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	res, err := ws.Reconcile()
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Summary.Matched != 10 || res.Summary.Unmatched != 6 {
		t.Errorf("summary = %+v, want 10 matched and 6 unmatched", res.Summary)
	}

	for _, tx := range res.Transactions {
		switch tx.ID {
		case "L004":
			if tx.Status != domain.StatusMatched || tx.FlagReason != "Round amount" {
				t.Errorf("L004 = %+v", tx)
			}
		case "B004":
			if tx.Status != domain.StatusMatched {
				t.Errorf("B004 status = %s, want MATCHED", tx.Status)
			}
		}
	}
}
