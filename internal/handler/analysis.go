package handler

import (
	"bytes"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sakif/veriqo/internal/apperror"
	"github.com/sakif/veriqo/internal/service"
)

// AnalysisHandler serves verdicts, comparisons and the user's history.
type AnalysisHandler struct {
	svc    *service.AnalysisService
	logger *slog.Logger
}

func NewAnalysisHandler(svc *service.AnalysisService, logger *slog.Logger) *AnalysisHandler {
	return &AnalysisHandler{svc: svc, logger: logger}
}

type analyzeRequest struct {
	URL string `json:"amazon_url"`
}

// HandleAnalyze runs the verdict pipeline on one product.
//
// HTTP: POST /api/analyze {"amazon_url"}
func (h *AnalysisHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req analyzeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	a, err := h.svc.Analyze(r.Context(), userID, req.URL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type compareRequest struct {
	URLs []string `json:"product_urls"`
}

// HandleCompare
//
// HTTP: POST /api/compare {"product_urls": [2..3 urls]}
func (h *AnalysisHandler) HandleCompare(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req compareRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.svc.Compare(r.Context(), userID, req.URLs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleHistory lists the user's analyses, newest first.
//
// HTTP: GET /api/history?limit=N
func (h *AnalysisHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	list, err := h.svc.History(r.Context(), userID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleExport downloads the history as CSV.
//
// HTTP: GET /api/history/export
//
// The CSV is built in memory first so a failure halfway through can still
// be reported as a proper JSON error instead of a truncated download.
func (h *AnalysisHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := h.svc.ExportCSV(r.Context(), userID, &buf); err != nil {
		writeError(w, err)
		return
	}

	filename := "veriqo-history-" + time.Now().UTC().Format("2006-01-02") + ".csv"
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Warn("history export interrupted", slog.String("userID", userID), slog.String("error", err.Error()))
	}
}

// queryInt parses an optional integer query parameter; absent means 0.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperror.ValidationFailed(name, name+" must be a non-negative integer")
	}
	return n, nil
}
