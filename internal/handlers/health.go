package handlers

import (
	"net/http"
	"time"
)

type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Environment string    `json:"environment"`
}

// Healthz reports liveness.
func Healthz(env string) http.HandlerFunc {
	if env == "" {
		env = "production"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Environment: env,
		})
	}
}

type IndexResponse struct {
	Message   string            `json:"message"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

// Index lists the API's top-level route groups.
func Index(version string) http.HandlerFunc {
	resp := IndexResponse{
		Message: "SignLearn API",
		Version: version,
		Endpoints: map[string]string{
			"auth":  "/api/auth",
			"users": "/api/users",
			"admin": "/api/admin",
		},
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, resp)
	}
}
