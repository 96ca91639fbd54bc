package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/veriqo/internal/apperror"
	"github.com/sakif/veriqo/internal/repository"
	"github.com/sakif/veriqo/internal/service"
)

const (
	defaultAdminPageSize = 50
	maxAdminPageSize     = 200
)

// AdminHandler backs the admin dashboard. Mount its routes behind
// AdminOnly.
type AdminHandler struct {
	svc    *service.AdminService
	logger *slog.Logger
}

func NewAdminHandler(svc *service.AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, logger: logger}
}

// AdminOnly lets a request through only when the authenticated user is an
// admin. It must run after auth.RequireAuth.
//
// The flag is read from the database on every request rather than baked
// into the token, so revoking admin access takes effect immediately.
func (h *AdminHandler) AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := currentUserID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := h.svc.Authorize(r.Context(), userID); err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HandleStats
//
// HTTP: GET /api/admin/stats
func (h *AdminHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleListUsers
//
// HTTP: GET /api/admin/users?limit=N&offset=M
func (h *AdminHandler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	users, err := h.svc.ListUsers(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

type setAdminRequest struct {
	IsAdmin *bool `json:"is_admin"`
}

// HandleUpdateUser grants or revokes admin access.
//
// HTTP: PATCH /api/admin/users/{id} {"is_admin": bool}
func (h *AdminHandler) HandleUpdateUser(w http.ResponseWriter, r *http.Request) {
	actorID, err := currentUserID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req setAdminRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.IsAdmin == nil {
		writeError(w, apperror.ValidationFailed("is_admin", "is_admin is required"))
		return
	}
	v, err := h.svc.SetAdmin(r.Context(), actorID, chi.URLParam(r, "id"), *req.IsAdmin)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// HandleResetChecks
//
// HTTP: POST /api/admin/users/{id}/reset-checks
func (h *AdminHandler) HandleResetChecks(w http.ResponseWriter, r *http.Request) {
	actorID, err := currentUserID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	v, err := h.svc.ResetChecks(r.Context(), actorID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// HandleListAnalyses
//
// HTTP: GET /api/admin/analyses?limit=N&offset=M
func (h *AdminHandler) HandleListAnalyses(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	list, err := h.svc.ListAnalyses(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type publishRequest struct {
	IsPublic *bool `json:"is_public"`
}

// HandleUpdateAnalysis publishes or unpublishes an analysis.
//
// HTTP: PATCH /api/admin/analyses/{id} {"is_public": bool}
func (h *AdminHandler) HandleUpdateAnalysis(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.IsPublic == nil {
		writeError(w, apperror.ValidationFailed("is_public", "is_public is required"))
		return
	}
	a, err := h.svc.SetAnalysisPublic(r.Context(), chi.URLParam(r, "id"), *req.IsPublic)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// HandleAIConfig
//
// HTTP: GET /api/admin/ai-config
func (h *AdminHandler) HandleAIConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.AIConfig())
}

func listOptions(r *http.Request) (repository.ListOptions, error) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		return repository.ListOptions{}, err
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		return repository.ListOptions{}, err
	}
	if limit == 0 {
		limit = defaultAdminPageSize
	}
	return repository.ListOptions{Limit: min(limit, maxAdminPageSize), Offset: offset}, nil
}

// =========================================================================
// PUBLIC INSIGHTS
// =========================================================================

// InsightHandler serves published analyses without authentication.
type InsightHandler struct {
	svc *service.InsightService
}

func NewInsightHandler(svc *service.InsightService) *InsightHandler {
	return &InsightHandler{svc: svc}
}

// HandleLatest returns a list of at most one item.
//
// HTTP: GET /api/insights
func (h *InsightHandler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Latest(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleGet
//
// HTTP: GET /api/insights/{idOrSlug}
func (h *InsightHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	in, err := h.svc.Get(r.Context(), chi.URLParam(r, "idOrSlug"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}
