package job

import (
	"encoding/json"
	"time"
)

// Job is an indexing message that failed and was parked for manual retry.
type Job struct {
	ID            string          `json:"id"`
	CorrelationID string          `json:"correlation_id"`
	Handler       string          `json:"handler"`
	Payload       json.RawMessage `json:"payload"`
	Error         string          `json:"error"`
	Retries       int             `json:"retries"`
	CreatedAt     time.Time       `json:"created_at"`
}
