package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"

	"github.com/maneesh/mediastream/internal/models"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("mediastream-handlers")

var fileIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ErrorResponse is the JSON body of every non-2xx reply that carries a body
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason, message string) {
	writeJSON(w, status, ErrorResponse{Error: reason, Message: message})
}

// writeStoreError maps a storage error to a response without leaking its text
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, models.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "already_exists", "a file with this id already exists")
	default:
		writeError(w, http.StatusInternalServerError, "storage_error", "storage backend failure")
	}
}

func validFileID(id string) bool {
	return fileIDPattern.MatchString(id)
}
