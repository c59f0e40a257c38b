package api

import (
	"encoding/json"
	"net/http"
	"time"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// acceptedResponse is returned by POST /emails on success.
type acceptedResponse struct {
	Status    string    `json:"status"`
	Queued    bool      `json:"queued"`
	MessageID string    `json:"message_id"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

func writeAccepted(w http.ResponseWriter, messageID, detail string) {
	writeJSON(w, http.StatusAccepted, acceptedResponse{
		Status:    "accepted",
		Queued:    true,
		MessageID: messageID,
		Detail:    detail,
		Timestamp: time.Now(),
	})
}

// statusResponse is returned by GET /queue/status: a count per lifecycle
// status, always present even when zero.
type statusResponse struct {
	Pending    int64 `json:"pending"`
	Scheduled  int64 `json:"scheduled"`
	Processing int64 `json:"processing"`
	Sent       int64 `json:"sent"`
	Failed     int64 `json:"failed"`
}

// healthResponse is returned by GET /health.
type healthResponse struct {
	Status        string `json:"status"`
	DB            string `json:"db"`
	EmailProvider string `json:"email_provider"`
	Version       string `json:"version"`
}
