package api

import (
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/replicast/replicast/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

// writeError emits the conventional REST error envelope
// {code, message, data:{status}}.
func writeError(w http.ResponseWriter, status int, code, message string) {
	body := models.RemoteError{Code: code, Message: message}
	body.Data.Status = status
	writeJSON(w, status, body)
}
