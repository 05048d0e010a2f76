package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/toltec-astro/dvpipe/internal/apperr"
	"github.com/toltec-astro/dvpipe/internal/metadata"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

func writeBytes(w http.ResponseWriter, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Error("write failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// isMetadataError reports whether err was caused by the submitted metadata.
func isMetadataError(err error) bool {
	return errors.Is(err, metadata.ErrUnknownField) ||
		errors.Is(err, metadata.ErrStructure) ||
		errors.Is(err, metadata.ErrUnitConversion) ||
		errors.Is(err, metadata.ErrVocabulary)
}

// writeError maps err to a status. Metadata errors carry their message so
// clients can see the offending field.
func writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case isMetadataError(err):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody(err.Error()))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
