package http_reporter

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fllarpy/callprof/domain"
)

const (
	ReportPath  = "/report"
	FlushPath   = "/flush"
	MetricsPath = "/metrics"
)

// NewHandler creates an HTTP handler that serves the report history from the
// given store as JSON.
func NewHandler(store domain.StoreReader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, store.GetSnapshot())
	})
}

// NewFlushHandler creates an HTTP handler that produces a report on POST and
// responds with it. A sink failure is reported as 500 with the report still
// in the body under "report".
func NewFlushHandler(f domain.Flusher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		report, err := f.Report()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":  err.Error(),
				"report": report,
			})
			return
		}
		writeJSON(w, http.StatusOK, report)
	})
}

// NewMux mounts the report, flush and metrics handlers. gatherer may be nil,
// in which case no metrics endpoint is served.
func NewMux(store domain.StoreReader, f domain.Flusher, gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(ReportPath, NewHandler(store))
	mux.Handle(FlushPath, NewFlushHandler(f))
	if gatherer != nil {
		mux.Handle(MetricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	// The status line is already out, so an encoding error cannot be reported.
	_ = json.NewEncoder(w).Encode(v)
}
