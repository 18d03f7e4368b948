package anomaly

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// mockModels is a canned gemini.ContentGenerator.
type mockModels struct {
	text   string
	err    error
	prompt string
	config *genai.GenerateContentConfig
}

func (m *mockModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		m.prompt = contents[0].Parts[0].Text
	}
	m.config = config
	if m.err != nil {
		return nil, m.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: m.text}}}},
		},
	}, nil
}

var testSample = []SampleRecord{
	{ID: "L005", Date: "2023-10-05", Amount: 4999, Description: "Consulting Fee Split 1", Source: "LEDGER"},
	{ID: "L006", Date: "2023-10-05", Amount: 4999, Description: "Consulting Fee Split 2", Source: "LEDGER"},
}

func newTestClassifier(m *mockModels) *GeminiClassifier {
	if m == nil {
		return NewGeminiClassifier(nil, "", time.Second, zerolog.New(io.Discard))
	}
	return NewGeminiClassifier(m, "", time.Second, zerolog.New(io.Discard))
}

func TestGeminiClassifier_ValidResponse(t *testing.T) {
	m := &mockModels{text: "```json\n" + `{
		"summary": "Possible structuring.",
		"flaggedIds": ["L005", "L006", "L006", "ZZZ"],
		"findings": [
			{"id": "L005", "reason": "Split below limit"},
			{"id": "ZZZ", "reason": "not in sample"}
		]
	}` + "\n```"}

	outcome := newTestClassifier(m).Classify(context.Background(), testSample)

	if !outcome.Available {
		t.Fatalf("expected available outcome, got %+v", outcome)
	}
	if outcome.Summary != "Possible structuring." {
		t.Errorf("summary = %q", outcome.Summary)
	}
	if len(outcome.FlaggedIDs) != 2 || outcome.FlaggedIDs[0] != "L005" || outcome.FlaggedIDs[1] != "L006" {
		t.Errorf("flagged ids = %v, want [L005 L006]", outcome.FlaggedIDs)
	}
	if len(outcome.Findings) != 1 || outcome.Findings[0].ID != "L005" {
		t.Errorf("findings = %+v", outcome.Findings)
	}

	if !strings.Contains(m.prompt, "structuring") || !strings.Contains(m.prompt, `"id":"L005"`) {
		t.Errorf("prompt missing task or data: %s", m.prompt)
	}
	if m.config == nil || m.config.ResponseMIMEType != "application/json" || m.config.ResponseSchema == nil {
		t.Errorf("request config missing JSON schema: %+v", m.config)
	}
}

func TestGeminiClassifier_ZeroFindingsIsAvailable(t *testing.T) {
	m := &mockModels{text: `{"summary": "Nothing unusual.", "flaggedIds": [], "findings": []}`}

	outcome := newTestClassifier(m).Classify(context.Background(), testSample)

	if !outcome.Available {
		t.Fatalf("zero findings should still be available: %+v", outcome)
	}
	if len(outcome.FlaggedIDs) != 0 {
		t.Errorf("flagged ids = %v, want none", outcome.FlaggedIDs)
	}
}

func TestGeminiClassifier_DegradedPaths(t *testing.T) {
	tests := []struct {
		name   string
		models *mockModels
	}{
		{"missing credentials", nil},
		{"transport error", &mockModels{err: errors.New("connection refused")}},
		{"empty response", &mockModels{text: ""}},
		{"not json", &mockModels{text: "I could not analyze this."}},
		{"missing flaggedIds", &mockModels{text: `{"summary": "x", "findings": []}`}},
		{"missing findings", &mockModels{text: `{"summary": "x", "flaggedIds": []}`}},
		{"wrong type", &mockModels{text: `{"summary": "x", "flaggedIds": "L005", "findings": []}`}},
		{"unknown field", &mockModels{text: `{"summary": "x", "flaggedIds": [], "findings": [], "score": 3}`}},
		{"finding without id", &mockModels{text: `{"summary": "x", "flaggedIds": ["L005"], "findings": [{"reason": "r"}]}`}},
		{"empty flagged id", &mockModels{text: `{"summary": "x", "flaggedIds": [""], "findings": []}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := newTestClassifier(tt.models).Classify(context.Background(), testSample)

			if outcome.Available {
				t.Errorf("expected unavailable outcome, got %+v", outcome)
			}
			if outcome.Summary == "" {
				t.Error("unavailable outcome should explain itself")
			}
			if len(outcome.FlaggedIDs) != 0 || len(outcome.Findings) != 0 {
				t.Errorf("unavailable outcome carries flags: %+v", outcome)
			}
		})
	}
}
