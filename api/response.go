package api

import (
	"encoding/json"
	"net/http"

	"property-feed-sync/utils"
)

// errorResponse is the error envelope every endpoint answers with.
type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Preview string `json:"preview,omitempty"`
}

// ingestResponse is returned after a feed was synced.
type ingestResponse struct {
	Success   bool `json:"success"`
	Processed int  `json:"processed"`
	Total     int  `json:"total"`
}

// writeJSON writes data with the given status code.
func writeJSON(w http.ResponseWriter, logger *utils.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("[api] JSON encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, logger *utils.Logger, status int, resp errorResponse) {
	writeJSON(w, logger, status, resp)
}
