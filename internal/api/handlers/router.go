package handlers

import (
	"net/http"
	"time"

	"github.com/dvloznov/cash-audit/internal/api/middleware"
	"github.com/rs/zerolog"
)

// Router bundles the handlers served by the API.
type Router struct {
	Batches   *BatchesHandler
	Jobs      *JobsHandler
	CashCount *CashCountHandler
	Report    *ReportHandler
}

// Handler builds the route table wrapped in the middleware chain.
func (rt *Router) Handler(log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/batches", allow(map[string]http.HandlerFunc{
		http.MethodPost: rt.Batches.Upload,
	}))
	mux.HandleFunc("/api/batches/sample", allow(map[string]http.HandlerFunc{
		http.MethodPost: rt.Batches.LoadSample,
	}))
	mux.HandleFunc("/api/batches/import", allow(map[string]http.HandlerFunc{
		http.MethodPost: rt.Batches.Import,
	}))
	mux.HandleFunc("/api/batches/current", allow(map[string]http.HandlerFunc{
		http.MethodGet: rt.Batches.Current,
	}))
	mux.HandleFunc("/api/batches/current/reconcile", allow(map[string]http.HandlerFunc{
		http.MethodPost: rt.Batches.Reconcile,
	}))
	mux.HandleFunc("/api/batches/current/analyze", allow(map[string]http.HandlerFunc{
		http.MethodPost: rt.Batches.Analyze,
	}))

	mux.HandleFunc("/api/jobs", allow(map[string]http.HandlerFunc{
		http.MethodGet: rt.Jobs.ListJobs,
	}))
	mux.HandleFunc("/api/jobs/", allow(map[string]http.HandlerFunc{
		http.MethodGet: func(w http.ResponseWriter, r *http.Request) {
			jobID := jobIDFromPath(r.URL.Path)
			if jobID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
				return
			}
			rt.Jobs.GetJob(w, r, jobID)
		},
	}))

	mux.HandleFunc("/api/cash-count", allow(map[string]http.HandlerFunc{
		http.MethodGet: rt.CashCount.Get,
		http.MethodPut: rt.CashCount.Update,
	}))

	mux.HandleFunc("/api/report/summary", allow(map[string]http.HandlerFunc{
		http.MethodPost: rt.Report.Summary,
	}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return middleware.Chain(mux,
		middleware.Recovery(log),
		middleware.RequestID,
		middleware.Logger(log),
		middleware.CORS,
	)
}

// allow dispatches on the request method and answers 405 otherwise.
func allow(byMethod map[string]http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, ok := byMethod[r.Method]
		if !ok {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h(w, r)
	}
}
