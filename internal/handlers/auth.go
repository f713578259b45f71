package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/signlearn/apiserver/internal/services"
	"github.com/signlearn/apiserver/types"
	"go.uber.org/zap"
)

// AuthHandler provides registration, session and password-reset endpoints.
type AuthHandler struct {
	authService      *services.AuthService
	exposeResetToken bool
	logger           *zap.Logger
}

// NewAuthHandler constructs an AuthHandler. When exposeResetToken is set
// the raw reset token is echoed in the forgot-password response.
func NewAuthHandler(authService *services.AuthService, exposeResetToken bool, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{
		authService:      authService,
		exposeResetToken: exposeResetToken,
		logger:           logger,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, handler *AuthHandler, authMiddleware func(http.Handler) http.Handler) {
	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.Post("/refresh", handler.Refresh)
	r.Post("/forgot-password", handler.ForgotPassword)
	r.Post("/reset-password", handler.ResetPassword)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/logout", handler.Logout)
		r.Get("/me", handler.Me)
	})
}

type RegisterRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Token           string `json:"token"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type AuthResponse struct {
	User         types.User `json:"user"`
	Token        string     `json:"token"`
	RefreshToken string     `json:"refreshToken"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type ForgotPasswordResponse struct {
	Message    string     `json:"message"`
	ResetToken string     `json:"resetToken,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

// Register creates an account and opens its first session.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	result, err := h.authService.Register(r.Context(), services.RegisterInput{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
	})
	if err != nil {
		writeServiceError(w, h.logger, err, http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusCreated, authResponse(result))
}

// Login verifies credentials and opens a new session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	result, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, h.logger, err, http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, authResponse(result))
}

// Logout drops the given refresh token from the caller's sessions. A
// missing body is treated like an empty token.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeDecodeError(w, err)
		return
	}

	user := UserFromContext(r.Context())
	if err := h.authService.Logout(r.Context(), user.ID, req.RefreshToken); err != nil {
		writeServiceError(w, h.logger, err, http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "logged out"})
}

// Refresh exchanges a refresh token for a new access token.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	token, err := h.authService.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeServiceError(w, h.logger, err, http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, TokenResponse{Token: token})
}

// ForgotPassword issues a single-use reset token for the account.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	ticket, err := h.authService.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		writeServiceError(w, h.logger, err, http.StatusBadRequest)
		return
	}

	resp := ForgotPasswordResponse{Message: "password reset email sent"}
	if h.exposeResetToken {
		resp.ResetToken = ticket.Token
		resp.ExpiresAt = &ticket.ExpiresAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// ResetPassword consumes a reset token and sets a new password.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	if err := h.authService.ResetPassword(r.Context(), req.Token, req.Password, req.ConfirmPassword); err != nil {
		writeServiceError(w, h.logger, err, http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "password reset successful"})
}

// Me returns the current authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, UserFromContext(r.Context()))
}

func authResponse(result services.AuthResult) AuthResponse {
	return AuthResponse{
		User:         result.User,
		Token:        result.AccessToken,
		RefreshToken: result.RefreshToken,
	}
}
