package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/signlearn/apiserver/internal/services"
	"go.uber.org/zap"
)

const (
	formFieldAvatar    = "avatar"
	maxMultipartMemory = 8 << 20
)

// UserHandler serves the signed-in user's own account.
type UserHandler struct {
	userService   *services.UserService
	authService   *services.AuthService
	avatarService *services.AvatarService
	logger        *zap.Logger
}

// NewUserHandler constructs a UserHandler with the provided services.
func NewUserHandler(
	userService *services.UserService,
	authService *services.AuthService,
	avatarService *services.AvatarService,
	logger *zap.Logger,
) *UserHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserHandler{
		userService:   userService,
		authService:   authService,
		avatarService: avatarService,
		logger:        logger,
	}
}

// UserRouter registers user routes. Every route requires authentication.
func UserRouter(r chi.Router, handler *UserHandler, authMiddleware func(http.Handler) http.Handler) {
	r.Use(authMiddleware)
	r.Get("/profile", handler.GetProfile)
	r.Put("/profile", handler.UpdateProfile)
	r.Put("/change-password", handler.ChangePassword)
	r.Put("/preferences", handler.UpdatePreferences)
	r.Get("/progress", handler.GetProgress)
	r.Post("/progress/lessons", handler.RecordLesson)
	r.Get("/stats", handler.Stats)
	r.Post("/avatar", handler.UploadAvatar)
	r.Get("/avatar", handler.GetAvatar)
	r.Delete("/account", handler.DeleteAccount)
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

type LessonRequest struct {
	TimeSpent int `json:"timeSpent"`
}

type AvatarResponse struct {
	Avatar string `json:"avatar"`
}

func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	user, err := h.userService.GetByID(r.Context(), UserFromContext(r.Context()).ID)
	if err != nil {
		writeServiceError(w, h.logger, err, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req services.ProfileUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	user, err := h.userService.UpdateProfile(r.Context(), UserFromContext(r.Context()).ID, req)
	if err != nil {
		writeServiceError(w, h.logger, err, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	err := h.authService.ChangePassword(r.Context(), UserFromContext(r.Context()).ID,
		req.CurrentPassword, req.NewPassword, req.ConfirmPassword)
	if err != nil {
		writeServiceError(w, h.logger, err, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "password changed"})
}

func (h *UserHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var req services.PreferencesUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	prefs, err := h.userService.UpdatePreferences(r.Context(), UserFromContext(r.Context()).ID, req)
	if err != nil {
		writeServiceError(w, h.logger, err, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (h *UserHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.userService.GetProgress(r.Context(), UserFromContext(r.Context()).ID)
	if err != nil {
		writeServiceError(w, h.logger, err, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (h *UserHandler) RecordLesson(w http.ResponseWriter, r *http.Request) {
	var req LessonRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	progress, err := h.userService.RecordLesson(r.Context(), UserFromContext(r.Context()).ID, req.TimeSpent)
	if err != nil {
		writeServiceError(w, h.logger, err, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (h *UserHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.userService.Stats(r.Context(), UserFromContext(r.Context()).ID)
	if err != nil {
		writeServiceError(w, h.logger, err, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// UploadAvatar accepts a multipart form with the image in the "avatar" field.
func (h *UserHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, services.MaxAvatarUpload+maxMultipartMemory)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	file, _, err := r.FormFile(formFieldAvatar)
	if err != nil {
		writeError(w, http.StatusBadRequest, "avatar file is required")
		return
	}
	defer file.Close()

	key, err := h.avatarService.Upload(r.Context(), UserFromContext(r.Context()).ID, file)
	if err != nil {
		writeServiceError(w, h.logger, err, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, AvatarResponse{Avatar: key})
}

func (h *UserHandler) GetAvatar(w http.ResponseWriter, r *http.Request) {
	rc, contentType, err := h.avatarService.Open(r.Context(), UserFromContext(r.Context()).ID)
	if err != nil {
		writeServiceError(w, h.logger, err, http.StatusUnauthorized)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("stream avatar", zap.Error(err))
	}
}

// DeleteAccount removes the caller's account and stored avatar.
func (h *UserHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID := UserFromContext(r.Context()).ID
	if err := h.avatarService.Remove(r.Context(), userID); err != nil && !errors.Is(err, services.ErrStorageUnavailable) {
		h.logger.Warn("remove avatar", zap.String("user_id", userID), zap.Error(err))
	}
	if err := h.userService.DeleteAccount(r.Context(), userID); err != nil {
		writeServiceError(w, h.logger, err, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "account deleted"})
}
