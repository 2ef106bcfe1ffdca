package models

import (
	"encoding/json"
	"time"
)

const (
	SessionActive = "active"
	SessionEnded  = "ended"
)

// Event kinds.
const (
	EventTransition = "transition"
	EventAlert      = "alert"
)

type Session struct {
	ID        string     `json:"id"`
	Name      string     `json:"name,omitempty"`
	Strategy  string     `json:"strategy"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Status    string     `json:"status"`
}

type Event struct {
	ID              int64           `json:"id"`
	SessionID       string          `json:"session_id"`
	Kind            string          `json:"kind"`
	DrowsinessScore float64         `json:"drowsiness_score"`
	IsDrowsy        bool            `json:"is_drowsy"`
	Contributions   json.RawMessage `json:"contributions,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

type CreateSessionRequest struct {
	Name string `json:"name,omitempty"`
}

// CreateSessionResponse carries the session token. It is returned once and
// only its hash is stored.
type CreateSessionResponse struct {
	Session
	Token string `json:"token"`
}
