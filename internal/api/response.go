// Package api exposes the read-only HTTP surface over the archive: target
// listing, message queries, and content-addressed media streaming.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Response is the JSON envelope of the query endpoints.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data"`
}

func writeJSON(w http.ResponseWriter, payload Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeSuccess writes a success envelope carrying data.
func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, Response{Status: "success", Data: data})
}

// writeDenied writes a structured denial with an empty data array. The body
// never carries row data or internal error detail.
func writeDenied(w http.ResponseWriter, message string) {
	writeJSON(w, Response{Status: "error", Message: message, Data: []any{}})
}
