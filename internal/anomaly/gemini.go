package anomaly

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/cash-audit/internal/gemini"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// Summaries reported with unavailable outcomes.
const (
	summaryMissingKey = "API Key is missing. Please configure the environment to use AI features."
	summaryFailed     = "Error running analysis."
	summaryMalformed  = "Analysis service returned an unusable response."
)

// classifierResponse is the wire shape the model must produce.
type classifierResponse struct {
	Summary    string    `json:"summary"`
	FlaggedIDs []string  `json:"flaggedIds" validate:"required,dive,required"`
	Findings   []Finding `json:"findings" validate:"required,dive"`
}

// GeminiClassifier classifies transactions with a Gemini model.
type GeminiClassifier struct {
	models   gemini.ContentGenerator
	model    string
	timeout  time.Duration
	validate *validator.Validate
	log      zerolog.Logger
}

// NewGeminiClassifier creates a classifier. A nil models value yields a
// classifier that always reports the missing-credentials outcome.
func NewGeminiClassifier(models gemini.ContentGenerator, model string, timeout time.Duration, log zerolog.Logger) *GeminiClassifier {
	if model == "" {
		model = gemini.DefaultModelName
	}
	return &GeminiClassifier{
		models:   models,
		model:    model,
		timeout:  timeout,
		validate: validator.New(),
		log:      log,
	}
}

// Classify implements Classifier.
func (c *GeminiClassifier) Classify(ctx context.Context, sample []SampleRecord) Outcome {
	if c.models == nil {
		c.log.Warn().Msg("Gemini API key missing, skipping anomaly classification")
		return Unavailable(summaryMissingKey)
	}

	data, err := json.Marshal(sample)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to encode classification sample")
		return Unavailable(summaryFailed)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   responseSchema,
	}

	start := time.Now()
	resp, err := c.models.GenerateContent(ctx, c.model, genai.Text(taskPrompt+string(data)), config)
	if err != nil {
		c.log.Error().Err(err).Str("model", c.model).Msg("Anomaly classification failed")
		return Unavailable(summaryFailed)
	}

	rawText := resp.Text()
	if rawText == "" {
		c.log.Error().Str("model", c.model).Msg("Anomaly classification returned empty response")
		return Unavailable(summaryMalformed)
	}

	parsed, err := c.decode(rawText)
	if err != nil {
		c.log.Error().Err(err).Str("model", c.model).Msg("Anomaly classification response rejected")
		return Unavailable(summaryMalformed)
	}

	outcome := restrictToSample(parsed, sample)
	c.log.Info().
		Int("sample_size", len(sample)).
		Int("flagged", len(outcome.FlaggedIDs)).
		Dur("duration", time.Since(start)).
		Msg("Anomaly classification completed")

	return outcome
}

// decode parses and validates the model reply against classifierResponse.
func (c *GeminiClassifier) decode(rawText string) (*classifierResponse, error) {
	dec := json.NewDecoder(strings.NewReader(gemini.CleanJSON(rawText)))
	dec.DisallowUnknownFields()

	var parsed classifierResponse
	if err := dec.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode: unmarshal JSON: %w", err)
	}
	if err := c.validate.Struct(&parsed); err != nil {
		return nil, fmt.Errorf("decode: validate: %w", err)
	}
	return &parsed, nil
}

// restrictToSample drops flagged ids and findings that were not part of the
// request, so the model cannot flag records it never saw.
func restrictToSample(resp *classifierResponse, sample []SampleRecord) Outcome {
	known := make(map[string]bool, len(sample))
	for _, s := range sample {
		known[s.ID] = true
	}

	outcome := Outcome{
		Available:  true,
		Summary:    resp.Summary,
		FlaggedIDs: make([]string, 0, len(resp.FlaggedIDs)),
		Findings:   make([]Finding, 0, len(resp.Findings)),
	}

	seen := make(map[string]bool, len(resp.FlaggedIDs))
	for _, id := range resp.FlaggedIDs {
		if known[id] && !seen[id] {
			seen[id] = true
			outcome.FlaggedIDs = append(outcome.FlaggedIDs, id)
		}
	}
	for _, f := range resp.Findings {
		if known[f.ID] {
			outcome.Findings = append(outcome.Findings, f)
		}
	}
	return outcome
}

var _ Classifier = (*GeminiClassifier)(nil)
