package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/signlearn/apiserver/internal/services"
	"github.com/signlearn/apiserver/types"
	"go.uber.org/zap"
)

// AdminHandler exposes user management to staff roles.
type AdminHandler struct {
	userService *services.UserService
	logger      *zap.Logger
}

func NewAdminHandler(userService *services.UserService, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{userService: userService, logger: logger}
}

// AdminRouter registers admin routes. Moderators may list users; only
// admins may change status or role.
func AdminRouter(r chi.Router, handler *AdminHandler, authMiddleware func(http.Handler) http.Handler) {
	r.Use(authMiddleware)
	r.With(RequireRole(handler.logger, types.RoleAdmin, types.RoleModerator)).Get("/users", handler.ListUsers)
	r.Route("/users/{userID}", func(r chi.Router) {
		r.Use(RequireRole(handler.logger, types.RoleAdmin))
		r.Patch("/status", handler.SetStatus)
		r.Patch("/role", handler.SetRole)
	})
}

type StatusRequest struct {
	IsActive *bool `json:"isActive"`
}

type RoleRequest struct {
	Role types.Role `json:"role"`
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	page, limit, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.userService.List(r.Context(), page, limit)
	if err != nil {
		writeServiceError(w, h.logger, err, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *AdminHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.IsActive == nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  services.MsgValidationFailed,
			Fields: []services.FieldError{{Field: "isActive", Message: "is required"}},
		})
		return
	}

	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if err := h.userService.SetActive(r.Context(), userID, *req.IsActive); err != nil {
		writeServiceError(w, h.logger, err, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "status updated"})
}

func (h *AdminHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	var req RoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if err := h.userService.SetRole(r.Context(), userID, req.Role); err != nil {
		writeServiceError(w, h.logger, err, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "role updated"})
}
