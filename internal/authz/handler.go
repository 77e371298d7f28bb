package authz

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/aula-lms/aula-lms/internal/platform/httpx"
	"github.com/aula-lms/aula-lms/internal/shared"
)

// AdminService is the administrative surface of the engine consumed by the
// HTTP handler.
type AdminService interface {
	Checker
	ListPermissions(ctx context.Context, userID int64) ([]string, error)
	Grant(ctx context.Context, userID, permissionID, assignedBy int64, reason string, expiresAt *time.Time) error
	Revoke(ctx context.Context, userID, permissionID, revokedBy int64, reason string) error
	AssignRolePermission(ctx context.Context, roleID, permissionID, actorID int64, reason string) error
	RemoveRolePermission(ctx context.Context, roleID, permissionID, actorID int64, reason string) error
	AssignRole(ctx context.Context, userID, roleID, actorID int64, reason string) error
	RemoveRole(ctx context.Context, userID, roleID, actorID int64, reason string) error
	AuditTrail(ctx context.Context, filter AuditFilter) ([]AuditEntry, int, error)
}

// Handler exposes the engine's administrative JSON API.
type Handler struct {
	logger   *slog.Logger
	service  AdminService
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service AdminService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
	}
}

// MountRoutes registers the authorization admin API.
func (h *Handler) MountRoutes(r chi.Router, gate Middleware) {
	r.Route("/api/authz", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(gate.Require(shared.PermPermissionsView))
			r.Get("/users/{userID}/permissions", h.listUserPermissions)
			r.Get("/users/{userID}/permissions/{name}", h.checkPermission)
		})
		r.Group(func(r chi.Router) {
			r.Use(gate.Require(shared.PermPermissionsGrant))
			r.Use(httprate.LimitByIP(30, time.Minute))
			r.Post("/users/{userID}/grants", h.grant)
			r.Post("/users/{userID}/revocations", h.revoke)
			r.Post("/users/{userID}/roles", h.assignRole)
			r.Delete("/users/{userID}/roles/{roleID}", h.removeRole)
			r.Post("/roles/{roleID}/permissions", h.assignRolePermission)
			r.Delete("/roles/{roleID}/permissions/{permissionID}", h.removeRolePermission)
		})
		r.With(gate.Require(shared.PermAuditView)).Get("/audit", h.auditTrail)
	})
}

type grantRequest struct {
	PermissionID int64      `json:"permission_id" validate:"required,gt=0"`
	Reason       string     `json:"reason" validate:"required,max=500"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

type revokeRequest struct {
	PermissionID int64  `json:"permission_id" validate:"required,gt=0"`
	Reason       string `json:"reason" validate:"required,max=500"`
}

type rolePermissionRequest struct {
	PermissionID int64  `json:"permission_id" validate:"required,gt=0"`
	Reason       string `json:"reason" validate:"required,max=500"`
}

type userRoleRequest struct {
	RoleID int64  `json:"role_id" validate:"required,gt=0"`
	Reason string `json:"reason" validate:"required,max=500"`
}

func (h *Handler) listUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	permissions, err := h.service.ListPermissions(r.Context(), userID)
	if err != nil {
		h.serverError(w, "list user permissions", err)
		return
	}
	if permissions == nil {
		permissions = []string{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"user_id":     userID,
		"permissions": permissions,
	})
}

func (h *Handler) checkPermission(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	name := chi.URLParam(r, "name")
	allowed, err := h.service.HasPermission(r.Context(), userID, name)
	if err != nil {
		h.serverError(w, "check permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"user_id":    userID,
		"permission": name,
		"allowed":    allowed,
	})
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	actorID, ok := shared.CurrentUserID(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var req grantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}
	if err := h.service.Grant(r.Context(), userID, req.PermissionID, actorID, req.Reason, req.ExpiresAt); err != nil {
		h.respondMutationError(w, "grant permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"status": "granted"})
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	actorID, ok := shared.CurrentUserID(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var req revokeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}
	if err := h.service.Revoke(r.Context(), userID, req.PermissionID, actorID, req.Reason); err != nil {
		h.respondMutationError(w, "revoke permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"status": "revoked"})
}

func (h *Handler) assignRolePermission(w http.ResponseWriter, r *http.Request) {
	roleID, err := pathID(r, "roleID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid role id")
		return
	}
	actorID, ok := shared.CurrentUserID(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var req rolePermissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}
	if err := h.service.AssignRolePermission(r.Context(), roleID, req.PermissionID, actorID, req.Reason); err != nil {
		h.respondMutationError(w, "assign role permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"status": "assigned"})
}

func (h *Handler) removeRolePermission(w http.ResponseWriter, r *http.Request) {
	roleID, err := pathID(r, "roleID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid role id")
		return
	}
	permissionID, err := pathID(r, "permissionID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid permission id")
		return
	}
	actorID, ok := shared.CurrentUserID(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	reason := strings.TrimSpace(r.URL.Query().Get("reason"))
	if reason == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "reason is required")
		return
	}
	if err := h.service.RemoveRolePermission(r.Context(), roleID, permissionID, actorID, reason); err != nil {
		h.respondMutationError(w, "remove role permission", err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	actorID, ok := shared.CurrentUserID(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var req userRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}
	if err := h.service.AssignRole(r.Context(), userID, req.RoleID, actorID, req.Reason); err != nil {
		h.respondMutationError(w, "assign role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"status": "assigned"})
}

func (h *Handler) removeRole(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	roleID, err := pathID(r, "roleID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid role id")
		return
	}
	actorID, ok := shared.CurrentUserID(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	reason := strings.TrimSpace(r.URL.Query().Get("reason"))
	if reason == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "reason is required")
		return
	}
	if err := h.service.RemoveRole(r.Context(), userID, roleID, actorID, reason); err != nil {
		h.respondMutationError(w, "remove role", err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) auditTrail(w http.ResponseWriter, r *http.Request) {
	page, perPage := shared.PageFromRequest(r, auditDefaultPageSize, auditMaxPageSize)
	filter := AuditFilter{Page: page, PerPage: perPage}
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user_id filter")
			return
		}
		filter.UserID = id
	}
	filter.Action = Action(r.URL.Query().Get("action"))

	entries, total, err := h.service.AuditTrail(r.Context(), filter)
	if err != nil {
		h.serverError(w, "list audit trail", err)
		return
	}
	rows := make([]auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, auditEntryResponse{
			ID:           e.ID,
			UserID:       e.UserID,
			RoleID:       e.RoleID,
			PermissionID: e.PermissionID,
			Action:       string(e.Action),
			ChangedBy:    e.ChangedBy,
			ChangedAt:    e.ChangedAt,
			Reason:       e.Reason,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"entries":    rows,
		"pagination": shared.NewPagination(page, perPage, total),
	})
}

type auditEntryResponse struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id,omitempty"`
	RoleID       int64     `json:"role_id,omitempty"`
	PermissionID int64     `json:"permission_id,omitempty"`
	Action       string    `json:"action"`
	ChangedBy    int64     `json:"changed_by"`
	ChangedAt    time.Time `json:"changed_at"`
	Reason       string    `json:"reason,omitempty"`
}

func (h *Handler) respondMutationError(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, ErrNotFound) {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	h.serverError(w, msg, err)
}

func (h *Handler) serverError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, slog.Any("error", err))
	httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func validationDetail(err error) string {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return "invalid field: " + fieldErrs[0].Field()
	}
	return "invalid request"
}
