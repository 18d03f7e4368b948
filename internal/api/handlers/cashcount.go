package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"github.com/dvloznov/cash-audit/internal/api/middleware"
	"github.com/dvloznov/cash-audit/internal/audit"
	"github.com/rs/zerolog"
)

// rawValue accepts a JSON string, number or null and keeps its text form.
// Counts and balances are coerced by the cash count package, so "abc"
// becomes zero rather than a request error.
type rawValue string

func (v *rawValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*v = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = rawValue(s)
		return nil
	}
	*v = rawValue(data)
	return nil
}

// CashCountHandler handles the cash count sheet.
type CashCountHandler struct {
	ws  *audit.Workspace
	log zerolog.Logger
}

// NewCashCountHandler creates a new cash count handler.
func NewCashCountHandler(ws *audit.Workspace, log zerolog.Logger) *CashCountHandler {
	return &CashCountHandler{ws: ws, log: log}
}

// Get handles GET /api/cash-count
func (h *CashCountHandler) Get(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, h.ws.CashCount())
}

// Update handles PUT /api/cash-count. Denominations missing from the request
// keep their current count.
func (h *CashCountHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Counts      map[string]rawValue `json:"counts"`
		BookBalance *rawValue           `json:"book_balance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	counts := make(map[int64]string, len(req.Counts))
	ignored := []string{}
	for key, v := range req.Counts {
		denom, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			ignored = append(ignored, key)
			continue
		}
		counts[denom] = string(v)
	}

	var book *string
	if req.BookBalance != nil {
		s := string(*req.BookBalance)
		book = &s
	}

	cc, unknown := h.ws.UpdateCashCount(counts, book)
	for _, d := range unknown {
		ignored = append(ignored, strconv.FormatInt(d, 10))
	}
	sort.Strings(ignored)
	if len(ignored) > 0 {
		h.log.Debug().Strs("ignored", ignored).Msg("Cash count keys ignored")
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"lines":   cc.Lines,
		"result":  cc.Result,
		"ignored": ignored,
	})
}
