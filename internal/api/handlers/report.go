package handlers

import (
	"net/http"

	"github.com/dvloznov/cash-audit/internal/api/middleware"
	"github.com/dvloznov/cash-audit/internal/audit"
	"github.com/dvloznov/cash-audit/internal/report"
	"github.com/rs/zerolog"
)

// ReportHandler generates the engagement summary.
type ReportHandler struct {
	ws        *audit.Workspace
	generator report.Generator
	log       zerolog.Logger
}

// NewReportHandler creates a new report handler.
func NewReportHandler(ws *audit.Workspace, generator report.Generator, log zerolog.Logger) *ReportHandler {
	return &ReportHandler{ws: ws, generator: generator, log: log}
}

// Summary handles POST /api/report/summary. Generation failures are reported
// in the summary text, never as an HTTP error.
func (h *ReportHandler) Summary(w http.ResponseWriter, r *http.Request) {
	stats := h.ws.ReportStats()
	text := h.generator.Summarize(r.Context(), stats)
	h.log.Debug().Int("chars", len(text)).Msg("Summary generated")

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"summary": text,
		"stats":   stats,
	})
}
