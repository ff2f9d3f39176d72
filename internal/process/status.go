package process

import "time"

// Status is the observed state of one application on the host.
type Status struct {
	Name       string    `json:"name"`
	Running    bool      `json:"running"`
	PID        int       `json:"pid,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	DetectedBy string    `json:"detected_by,omitempty"` // "pid" or "command"
}
