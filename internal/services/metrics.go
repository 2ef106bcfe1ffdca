package services

import (
	"sync/atomic"
	"time"
)

// Metrics are process-wide counters reported by /api/metrics.
type Metrics struct {
	totalFrames     atomic.Int64
	totalErrors     atomic.Int64
	totalLatency    atomic.Int64
	droppedFrames   atomic.Int64
	modelInferences atomic.Int64
	drowsyFrames    atomic.Int64
	alerts          atomic.Int64
	activeSessions  atomic.Int32
	lastFrameTime   atomic.Int64

	wsConnections atomic.Int64
	wsMessages    atomic.Int64
	wsErrors      atomic.Int64

	started time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{started: time.Now()}
}

func (m *Metrics) IncrementFrames() {
	m.totalFrames.Add(1)
	m.lastFrameTime.Store(time.Now().Unix())
}

func (m *Metrics) IncrementErrors() {
	m.totalErrors.Add(1)
}

func (m *Metrics) IncrementDropped() {
	m.droppedFrames.Add(1)
}

func (m *Metrics) IncrementInferences() {
	m.modelInferences.Add(1)
}

func (m *Metrics) IncrementDrowsy() {
	m.drowsyFrames.Add(1)
}

func (m *Metrics) IncrementAlerts() {
	m.alerts.Add(1)
}

func (m *Metrics) RecordLatency(duration time.Duration) {
	m.totalLatency.Add(duration.Microseconds())
}

func (m *Metrics) SessionStarted() { m.activeSessions.Add(1) }

func (m *Metrics) SessionEnded() { m.activeSessions.Add(-1) }

func (m *Metrics) GetTotalFrames() int64 {
	return m.totalFrames.Load()
}

func (m *Metrics) GetTotalErrors() int64 {
	return m.totalErrors.Load()
}

func (m *Metrics) GetDroppedFrames() int64 {
	return m.droppedFrames.Load()
}

func (m *Metrics) GetInferences() int64 {
	return m.modelInferences.Load()
}

func (m *Metrics) GetAlerts() int64 {
	return m.alerts.Load()
}

// GetAvgLatency returns the mean frame latency in milliseconds.
func (m *Metrics) GetAvgLatency() float64 {
	frames := m.totalFrames.Load()
	if frames == 0 {
		return 0
	}
	return float64(m.totalLatency.Load()) / float64(frames) / 1000
}

func (m *Metrics) GetActiveSessions() int {
	return int(m.activeSessions.Load())
}

func (m *Metrics) GetLastFrameTime() int64 {
	return m.lastFrameTime.Load()
}

func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.started)
}

func (m *Metrics) IncrementWebSocketConnections() {
	m.wsConnections.Add(1)
}

func (m *Metrics) DecrementWebSocketConnections() {
	m.wsConnections.Add(-1)
}

func (m *Metrics) GetWebSocketConnections() int64 {
	return m.wsConnections.Load()
}

func (m *Metrics) IncrementWebSocketMessages() {
	m.wsMessages.Add(1)
}

func (m *Metrics) IncrementWebSocketErrors() {
	m.wsErrors.Add(1)
}

// Snapshot returns every counter keyed by its /api/metrics name.
func (m *Metrics) Snapshot() map[string]interface{} {
	frames := m.totalFrames.Load()
	rate := 0.0
	if frames > 0 {
		rate = float64(m.drowsyFrames.Load()) / float64(frames)
	}
	return map[string]interface{}{
		"total_frames":      frames,
		"total_errors":      m.totalErrors.Load(),
		"dropped_frames":    m.droppedFrames.Load(),
		"model_inferences":  m.modelInferences.Load(),
		"drowsy_detections": m.drowsyFrames.Load(),
		"detection_rate":    rate,
		"alerts_fired":      m.alerts.Load(),
		"active_sessions":   m.activeSessions.Load(),
		"avg_latency_ms":    m.GetAvgLatency(),
		"last_frame_time":   m.lastFrameTime.Load(),
		"system_uptime_sec": int64(m.Uptime().Seconds()),
		"websocket": map[string]interface{}{
			"connections": m.wsConnections.Load(),
			"messages":    m.wsMessages.Load(),
			"errors":      m.wsErrors.Load(),
		},
	}
}
