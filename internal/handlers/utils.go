package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/signlearn/apiserver/internal/services"
	"github.com/signlearn/apiserver/types"
	"go.uber.org/zap"
)

const (
	defaultPage  = 1
	defaultLimit = 20
	maxLimit     = 100

	maxJSONBody = 1 << 20
)

type contextKey string

const contextUserKey contextKey = "user"

// ErrorResponse is the error payload for every endpoint.
type ErrorResponse struct {
	Error  string                `json:"error"`
	Fields []services.FieldError `json:"fields,omitempty"`
}

// MessageResponse acknowledges an operation with no other result.
type MessageResponse struct {
	Message string `json:"message"`
}

func withUser(ctx context.Context, user *types.User) context.Context {
	return context.WithValue(ctx, contextUserKey, user)
}

// UserFromContext returns the user bound by RequireAuth, or nil.
func UserFromContext(ctx context.Context) *types.User {
	user, _ := ctx.Value(contextUserKey).(*types.User)
	return user
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// decodeJSON reads a single JSON object into dst. Unknown fields and
// trailing data are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// writeDecodeError reports a malformed body. Unknown fields are named so
// clients can fix the request.
func writeDecodeError(w http.ResponseWriter, err error) {
	msg := err.Error()
	if field, ok := strings.CutPrefix(msg, "json: unknown field "); ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "invalid request",
			Fields: []services.FieldError{{Field: strings.Trim(field, `"`), Message: "unknown field"}},
		})
		return
	}
	writeError(w, http.StatusBadRequest, "invalid request")
}

// writeServiceError maps a service error to a response. tokenStatus is the
// status for token errors, which differs between refresh (401) and reset (400).
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error, tokenStatus int) {
	var domainErr *services.Error
	if !errors.As(err, &domainErr) {
		if errors.Is(err, services.ErrStorageUnavailable) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	status := http.StatusInternalServerError
	switch domainErr.Kind {
	case services.KindValidation, services.KindDuplicate:
		status = http.StatusBadRequest
	case services.KindAuth:
		status = http.StatusUnauthorized
	case services.KindForbidden:
		status = http.StatusForbidden
	case services.KindToken:
		status = tokenStatus
	case services.KindNotFound:
		status = http.StatusNotFound
	}

	resp := ErrorResponse{Error: domainErr.Message, Fields: domainErr.Violations}
	if domainErr.Field != "" && len(resp.Fields) == 0 {
		resp.Fields = []services.FieldError{{Field: domainErr.Field, Message: domainErr.Message}}
	}
	writeJSON(w, status, resp)
}

func parsePagination(r *http.Request) (page, limit int, err error) {
	page = defaultPage
	limit = defaultLimit

	if raw := strings.TrimSpace(r.URL.Query().Get("page")); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 {
			return 0, 0, errors.New("invalid page")
		}
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxLimit {
			return 0, 0, errors.New("invalid limit")
		}
	}
	return page, limit, nil
}
