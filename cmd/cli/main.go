package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/cash-audit/internal/anomaly"
	"github.com/dvloznov/cash-audit/internal/audit"
	"github.com/dvloznov/cash-audit/internal/config"
	"github.com/dvloznov/cash-audit/internal/domain"
	"github.com/dvloznov/cash-audit/internal/gemini"
	"github.com/dvloznov/cash-audit/internal/ingest"
	"github.com/dvloznov/cash-audit/internal/logger"
	"github.com/dvloznov/cash-audit/internal/report"
	"github.com/dvloznov/cash-audit/internal/storage"
	"github.com/rs/zerolog"
)

func main() {
	cfg := config.Load()
	log := logger.NewWithConfig(cfg.LogLevel, cfg.LogFormat)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "reconcile":
		runReconcile(cfg, log)
	case "cash":
		runCash(cfg, log)
	case "upload":
		runUpload(cfg, log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Cash Audit CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  reconcile Reconcile a ledger/bank export and optionally run anomaly analysis")
	fmt.Println("  cash      Compute a cash count against the book balance")
	fmt.Println("  upload    Upload a transaction export to GCS")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func newWorkspace(cfg *config.Config, log zerolog.Logger) *audit.Workspace {
	return audit.NewWorkspace(audit.Options{
		Denominations: cfg.Denominations,
		BookBalance:   cfg.BookBalance,
		Materiality:   cfg.MaterialityOverall,
		SampleLimit:   cfg.ClassifierSampleLimit,

		PerformanceMateriality: cfg.MaterialityPerformance,
	}, log)
}

func runReconcile(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	filePath := fs.String("file", "", "Path to a local CSV export")
	gcsURI := fs.String("gcs-uri", "", "GCS URI of a CSV export")
	sample := fs.Bool("sample", false, "Use the built-in sample dataset")
	analyze := fs.Bool("analyze", false, "Run anomaly analysis after reconciliation")
	summary := fs.Bool("summary", false, "Generate a partner summary at the end")
	fs.Parse(os.Args[2:])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	raw, err := readSource(ctx, cfg, *filePath, *gcsURI, *sample)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read transactions")
	}

	ws := newWorkspace(cfg, log)
	if _, err := ws.Load(raw); err != nil {
		if errors.Is(err, ingest.ErrEmptyBatch) {
			log.Fatal().Msg("The export contains no transactions")
		}
		log.Fatal().Err(err).Msg("Failed to load transactions")
	}

	res, err := ws.Reconcile()
	if err != nil {
		log.Fatal().Err(err).Msg("Reconciliation failed")
	}

	var models gemini.ContentGenerator
	if *analyze || *summary {
		models, err = gemini.NewModels(ctx, cfg.GeminiAPIKey)
		if err != nil && !errors.Is(err, gemini.ErrMissingAPIKey) {
			log.Fatal().Err(err).Msg("Failed to create Gemini client")
		}
	}

	var outcome *anomaly.Outcome
	if *analyze {
		classifier := anomaly.NewGeminiClassifier(models, cfg.GeminiModel, cfg.ClassifierTimeout, log)
		o, _, err := ws.Analyze(ctx, classifier)
		if err != nil {
			log.Fatal().Err(err).Msg("Anomaly analysis failed")
		}
		outcome = &o
	}

	snap, err := ws.Snapshot()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read results")
	}

	fmt.Println("\n=== Transactions ===")
	for _, t := range snap.Batch.Transactions {
		fmt.Printf("%-8s %-10s %-6s %-7s %14s  %-10s %s\n",
			t.ID, t.Date, t.Source, t.Type, t.Amount.StringFixed(2), t.Status, t.FlagReason)
	}

	fmt.Println("\n=== Reconciliation ===")
	fmt.Printf("Matched:            %d\n", snap.Summary.Matched)
	fmt.Printf("Unmatched:          %d\n", snap.Summary.Unmatched)
	fmt.Printf("Flagged:            %d\n", snap.Summary.Flagged)
	fmt.Printf("Timing differences: %d\n", res.Summary.TimingDifferences)
	fmt.Printf("Total variance:     %s\n", snap.Summary.TotalVariance.StringFixed(2))

	if outcome != nil {
		fmt.Println("\n=== Anomaly Analysis ===")
		if !outcome.Available {
			fmt.Printf("Unavailable: %s\n", outcome.Summary)
		} else {
			fmt.Println(outcome.Summary)
			for _, f := range outcome.Findings {
				fmt.Printf("  %s: %s\n", f.ID, f.Reason)
			}
		}
	}

	if *summary {
		gen := report.NewGeminiGenerator(models, cfg.GeminiModel, cfg.ClassifierTimeout, log)
		fmt.Println("\n=== Partner Summary ===")
		fmt.Println(gen.Summarize(ctx, ws.ReportStats()))
	}
}

// readSource returns the CSV text from exactly one of the given sources.
func readSource(ctx context.Context, cfg *config.Config, filePath, gcsURI string, sample bool) (string, error) {
	set := 0
	for _, ok := range []bool{filePath != "", gcsURI != "", sample} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return "", fmt.Errorf("exactly one of -file, -gcs-uri or -sample is required")
	}

	switch {
	case sample:
		return ingest.SampleDataset, nil
	case gcsURI != "":
		data, err := storage.NewGCSFromCredentialsFile(cfg.GCSCredentialsFile).Fetch(ctx, gcsURI)
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", filePath, err)
		}
		return string(data), nil
	}
}

// countFlags collects repeated -count denom=n flags.
type countFlags map[int64]string

func (c countFlags) String() string {
	parts := make([]string, 0, len(c))
	for d, n := range c {
		parts = append(parts, fmt.Sprintf("%d=%s", d, n))
	}
	return strings.Join(parts, ",")
}

func (c countFlags) Set(v string) error {
	denom, n, ok := strings.Cut(v, "=")
	if !ok {
		return fmt.Errorf("expected denom=count, got %q", v)
	}
	d, err := strconv.ParseInt(strings.TrimSpace(denom), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid denomination %q", denom)
	}
	c[d] = n
	return nil
}

func runCash(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("cash", flag.ExitOnError)
	counts := countFlags{}
	fs.Var(counts, "count", "Denomination count as denom=n (repeatable)")
	book := fs.String("book", cfg.BookBalance.String(), "Book balance")
	fs.Parse(os.Args[2:])

	ws := newWorkspace(cfg, log)
	cc, unknown := ws.UpdateCashCount(counts, book)
	for _, d := range unknown {
		log.Warn().Int64("denomination", d).Msg("Unknown denomination ignored")
	}

	fmt.Println("\n=== Cash Count ===")
	for _, l := range cc.Lines {
		if l.Count == 0 {
			continue
		}
		fmt.Printf("%10d x %-6d = %s\n", l.Denomination, l.Count, l.Subtotal.String())
	}
	fmt.Printf("\nPhysical total: %s\n", cc.Result.PhysicalTotal.StringFixed(2))
	fmt.Printf("Book balance:   %s\n", cc.Result.BookBalance.StringFixed(2))
	fmt.Printf("Variance:       %s\n", cc.Result.Variance.StringFixed(2))
	if cc.Result.Balanced {
		fmt.Println("Status:         BALANCED")
	} else {
		fmt.Println("Status:         VARIANCE")
	}
}

func runUpload(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	bucketName := fs.String("bucket", cfg.GCSBucket, "GCS bucket name (or set GCS_BUCKET env)")
	objectName := fs.String("object", "", "GCS object name (defaults to filename)")
	filePath := fs.String("file", "", "Path to local CSV export")
	fs.Parse(os.Args[2:])

	if *bucketName == "" || *filePath == "" {
		log.Fatal().Msg("Usage: cli upload -bucket NAME -file PATH")
	}

	if *objectName == "" {
		*objectName = filepath.Base(*filePath)
	}

	// Refuse exports that would not load as a batch
	data, err := os.ReadFile(*filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read file")
	}
	txs := ingest.Parse(string(data), ingest.Options{})
	if len(txs) == 0 {
		log.Fatal().Msg("The export contains no transactions")
	}
	ledger, bank := domain.Partition(txs)

	ctx := logger.WithContext(context.Background(), log)

	log.Info().
		Str("bucket", *bucketName).
		Str("object", *objectName).
		Int("ledger", len(ledger)).
		Int("bank", len(bank)).
		Msg("Uploading export to GCS")

	store := storage.NewGCSFromCredentialsFile(cfg.GCSCredentialsFile)
	if err := store.Upload(ctx, *bucketName, *objectName, *filePath); err != nil {
		log.Fatal().Err(err).Msg("Upload failed")
	}

	fmt.Printf("Uploaded %s to %s\n", *filePath, storage.URI(*bucketName, *objectName))
}
