package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/splax/airlock/internal/repository"
	"github.com/splax/airlock/internal/service/deploy"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps service errors to status codes. Unexpected errors
// are logged and reported with a generic message.
func (r *Router) writeServiceError(w http.ResponseWriter, req *http.Request, err error) {
	switch {
	case errors.Is(err, deploy.ErrValidation), errors.Is(err, deploy.ErrInvalidMode):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, deploy.ErrBlocked):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "deployment not found")
	case errors.Is(err, deploy.ErrInvalidState), errors.Is(err, deploy.ErrFilesMissing), errors.Is(err, repository.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, deploy.ErrProvisioning):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		r.logger.Error("request failed", "path", req.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
