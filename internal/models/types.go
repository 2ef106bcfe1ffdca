package models

import (
	"encoding/base64"
	"time"

	"drivepaddy/internal/detection"
)

// Alert levels reported in DetectionResult.
const (
	LevelAwake  = "awake"
	LevelDrowsy = "drowsy"
	LevelAlert  = "alert"
)

// VideoFrame is a base64 encoded frame sent over WebSocket or REST.
type VideoFrame struct {
	SessionID      string `json:"session_id,omitempty"`
	Token          string `json:"token,omitempty"`
	Frame          string `json:"frame"`
	Timestamp      int64  `json:"timestamp"`
	SequenceNumber int64  `json:"sequence_number,omitempty"`
}

type DetectionResult struct {
	SessionID       string                  `json:"session_id"`
	Strategy        string                  `json:"strategy"`
	IsDrowsy        bool                    `json:"is_drowsy"`
	DrowsinessScore float64                 `json:"drowsiness_score"`
	AlertLevel      string                  `json:"alert_level"`
	AlertFired      bool                    `json:"alert_fired"`
	Metrics         detection.FrameMetrics  `json:"metrics"`
	Contributions   detection.Contributions `json:"contributions"`
	Warnings        []string                `json:"warnings,omitempty"`
	AudioBase64     string                  `json:"audio,omitempty"`
	InferenceTimeMs float64                 `json:"inference_time_ms"`
	FrameIndex      uint64                  `json:"frame_index"`
	Timestamp       int64                   `json:"timestamp"`
	ClientTimestamp int64                   `json:"client_timestamp,omitempty"`
	SequenceNumber  int64                   `json:"sequence_number,omitempty"`
}

// NewDetectionResult converts a detector result. audio is the payload of a
// fired alert and may be nil.
func NewDetectionResult(sessionID, strategy string, r detection.Result, fired bool, audio []byte, elapsed time.Duration) DetectionResult {
	out := DetectionResult{
		SessionID:       sessionID,
		Strategy:        strategy,
		IsDrowsy:        r.AlertTriggered,
		DrowsinessScore: r.Score,
		AlertLevel:      LevelAwake,
		AlertFired:      fired,
		Metrics:         r.Metrics,
		Contributions:   r.Contributions,
		Warnings:        r.Warnings,
		InferenceTimeMs: float64(elapsed.Microseconds()) / 1000,
		FrameIndex:      r.FrameIndex,
		Timestamp:       time.Now().UnixMilli(),
	}
	switch {
	case fired:
		out.AlertLevel = LevelAlert
	case r.AlertTriggered:
		out.AlertLevel = LevelDrowsy
	}
	if len(audio) > 0 {
		out.AudioBase64 = base64.StdEncoding.EncodeToString(audio)
	}
	return out
}

// StatusPayload is the compact status pushed to the UI: {"status":"Awake"}
// while no alert is triggered, otherwise the contributing indicators plus the
// audio of a fired alert.
func (r DetectionResult) StatusPayload() map[string]any {
	if !r.IsDrowsy {
		return map[string]any{"status": "Awake"}
	}
	out := make(map[string]any, len(r.Contributions)+1)
	for k, v := range r.Contributions {
		out[k] = v
	}
	if r.AudioBase64 != "" {
		out["audio"] = r.AudioBase64
	}
	return out
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp"`
	Code      string `json:"code,omitempty"`
}

type HealthStatus struct {
	Status         string `json:"status"`
	GoBackend      string `json:"go_backend"`
	SidecarService bool   `json:"sidecar_service"`
	ActiveSessions int    `json:"active_sessions"`
	ActiveClients  int    `json:"active_clients"`
	UptimeSeconds  int64  `json:"uptime_sec"`
	Version        string `json:"version,omitempty"`
}
