package report

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/dvloznov/cash-audit/internal/cashcount"
	"github.com/dvloznov/cash-audit/internal/gemini"
	"github.com/dvloznov/cash-audit/internal/recon"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"google.golang.org/genai"
)

// Fallback texts returned when no summary can be generated.
const (
	FallbackUnavailable = "AI unavailable."
	FallbackFailed      = "Could not generate summary."
)

const toneDirective = "Tone: Formal, Auditor. Focus on assertions: Existence and Accuracy."

// Generator turns engagement statistics into a narrative summary.
// Implementations never fail; they return a fallback text instead.
type Generator interface {
	Summarize(ctx context.Context, stats map[string]any) string
}

// Input gathers the figures a summary is built from.
type Input struct {
	TotalTransactions int
	Recon             recon.Summary
	AnomalyAvailable  bool
	Cash              cashcount.Result
	Materiality       decimal.Decimal

	// PerformanceMateriality is the lower planning threshold applied to
	// individual balances. Zero omits it.
	PerformanceMateriality decimal.Decimal
}

// Stats flattens in into the key-value object sent to the generator.
func Stats(in Input) map[string]any {
	stats := map[string]any{
		"totalTransactions":    in.TotalTransactions,
		"matched":              in.Recon.Matched,
		"unmatched":            in.Recon.Unmatched,
		"fraudFlags":           in.Recon.Flagged,
		"timingDifferences":    in.Recon.TimingDifferences,
		"unreconciledAmount":   in.Recon.TotalVariance.StringFixed(2),
		"cashOpnameVariance":   "IDR " + in.Cash.Variance.StringFixed(2),
		"materialityThreshold": in.Materiality.String(),
	}
	if !in.PerformanceMateriality.IsZero() {
		stats["performanceMateriality"] = in.PerformanceMateriality.String()
	}
	if !in.AnomalyAvailable {
		stats["fraudAnalysis"] = "not performed"
	}
	return stats
}

// GeminiGenerator writes summaries with a Gemini model.
type GeminiGenerator struct {
	models  gemini.ContentGenerator
	model   string
	timeout time.Duration
	log     zerolog.Logger
}

// NewGeminiGenerator creates a generator. A nil models value always yields
// FallbackUnavailable.
func NewGeminiGenerator(models gemini.ContentGenerator, model string, timeout time.Duration, log zerolog.Logger) *GeminiGenerator {
	if model == "" {
		model = gemini.DefaultModelName
	}
	return &GeminiGenerator{models: models, model: model, timeout: timeout, log: log}
}

// Summarize implements Generator.
func (g *GeminiGenerator) Summarize(ctx context.Context, stats map[string]any) string {
	if g.models == nil {
		return FallbackUnavailable
	}

	data, err := json.Marshal(stats)
	if err != nil {
		g.log.Error().Err(err).Msg("Failed to encode summary stats")
		return FallbackFailed
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	prompt := "Generate a professional 'Partner Summary Report' paragraph for a Cash Audit based on these stats: " +
		string(data) + ". " + toneDirective

	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		g.log.Error().Err(err).Str("model", g.model).Msg("Summary generation failed")
		return FallbackFailed
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return FallbackFailed
	}
	return text
}

var _ Generator = (*GeminiGenerator)(nil)
