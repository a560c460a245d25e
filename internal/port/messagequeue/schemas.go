package messagequeue

import "time"

// SessionEventPayload is the schema for sessions.event.* messages.
type SessionEventPayload struct {
	SessionID   string    `json:"session_id"`
	Type        string    `json:"type"`
	Issue       string    `json:"issue"`
	Pull        int       `json:"pull,omitempty"`
	State       string    `json:"state,omitempty"`
	Branch      string    `json:"branch,omitempty"`
	Iteration   int       `json:"iteration"`
	Termination string    `json:"termination,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// NudgePayload is the schema for sessions.nudge.* messages.
type NudgePayload struct {
	Reason string `json:"reason"`
}
