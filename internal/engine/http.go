package engine

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aegis-platform/aegis/internal/catalog"
	"github.com/aegis-platform/aegis/internal/shared"
)

// Handler exposes the decision engine over JSON: self-introspection for the
// authenticated principal plus explicit check endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	resolve  PrincipalResolver
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, resolve PrincipalResolver) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		resolve:  resolve,
		validate: validator.New(),
	}
}

// MountRoutes registers the engine endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Get("/me/permissions", h.handleMyPermissions)
	r.Get("/me/roles", h.handleMyRoles)
	r.Get("/me/summary", h.handleMySummary)
	r.Post("/check", h.handleCheck)
	r.Post("/check/batch", h.handleBatchCheck)
}

type checkRequest struct {
	Permission string `json:"permission" validate:"required"`
	Context    string `json:"context" validate:"omitempty,oneof=any own team department"`
	ResourceID *int64 `json:"resourceId"`
}

type batchCheckRequest struct {
	Permissions []string `json:"permissions" validate:"required,min=1,max=50,dive,required"`
	Context     string   `json:"context" validate:"omitempty,oneof=any own team department"`
	ResourceID  *int64   `json:"resourceId"`
}

func (h *Handler) handleMyPermissions(w http.ResponseWriter, r *http.Request) {
	principalID, ok := h.principal(w, r)
	if !ok {
		return
	}
	perms, err := h.service.EffectivePermissions(r.Context(), principalID)
	if err != nil {
		h.respondError(w, "load effective permissions", err)
		return
	}
	names := make([]string, 0, len(perms))
	for _, perm := range perms {
		names = append(names, catalog.DisplayName(perm.Resource, perm.Action, perm.Context))
	}
	h.writeJSON(w, map[string]any{"permissions": names})
}

func (h *Handler) handleMyRoles(w http.ResponseWriter, r *http.Request) {
	principalID, ok := h.principal(w, r)
	if !ok {
		return
	}
	memberships, err := h.service.Roles(r.Context(), principalID)
	if err != nil {
		h.respondError(w, "load role memberships", err)
		return
	}
	slugs := make([]string, 0, len(memberships))
	for _, role := range memberships {
		slugs = append(slugs, role.Slug)
	}
	h.writeJSON(w, map[string]any{"roles": slugs})
}

func (h *Handler) handleMySummary(w http.ResponseWriter, r *http.Request) {
	principalID, ok := h.principal(w, r)
	if !ok {
		return
	}
	summary, err := h.service.Summarize(r.Context(), principalID)
	if err != nil {
		h.respondError(w, "summarize principal", err)
		return
	}
	slugs := make([]string, 0, len(summary.Roles))
	for _, role := range summary.Roles {
		slugs = append(slugs, role.Slug)
	}
	h.writeJSON(w, map[string]any{
		"principalId":  summary.Principal.ID,
		"email":        summary.Principal.Email,
		"roles":        slugs,
		"directGrants": summary.Direct,
		"permissions":  summary.Permissions,
	})
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	principalID, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req checkRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	decision, err := h.service.Check(r.Context(), principalID, req.Permission, CheckOptions{
		Context:    req.Context,
		ResourceID: req.ResourceID,
	})
	if err != nil {
		h.respondError(w, "check permission", err)
		return
	}
	h.writeJSON(w, map[string]any{
		"permission": req.Permission,
		"allowed":    decision.Allowed,
		"reason":     decision.Reason,
	})
}

func (h *Handler) handleBatchCheck(w http.ResponseWriter, r *http.Request) {
	principalID, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req batchCheckRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	results, err := h.service.BatchCheck(r.Context(), principalID, req.Permissions, CheckOptions{
		Context:    req.Context,
		ResourceID: req.ResourceID,
	})
	if err != nil {
		h.respondError(w, "batch check permissions", err)
		return
	}
	h.writeJSON(w, map[string]any{"results": results})
}

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (int64, bool) {
	principalID, err := h.resolve(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return 0, false
	}
	return principalID, true
}

func (h *Handler) decodeValid(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(dest); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, message string, err error) {
	if errors.Is(err, shared.ErrNotFound) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	if errors.Is(err, shared.ErrValidation) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	h.logger.Error(message, slog.Any("error", err))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func (h *Handler) writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Warn("encode response", slog.Any("error", err))
	}
}
