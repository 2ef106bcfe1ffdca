package services

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"drivepaddy/internal/alert"
	"drivepaddy/internal/detection"
	"drivepaddy/internal/models"
)

var (
	ErrSessionBusy  = errors.New("session is processing another frame")
	ErrRateLimited  = errors.New("session frame budget exceeded")
	ErrSessionEnded = errors.New("session ended")
)

// Publisher receives every decision of a session.
type Publisher interface {
	Publish(ctx context.Context, result models.DetectionResult) error
}

// publishQueue bounds the decisions waiting for the publishers of a session.
const publishQueue = 32

// Session is one monitored stream with its own detector and alert gate.
// Decisions reach the publishers through a bounded queue drained by the
// session's own goroutine; publishers never run on the frame path.
type Session struct {
	ID        string
	Name      string
	Strategy  string
	StartTime time.Time

	tokenHash []byte
	manager   *Manager
	limiter   *rate.Limiter
	gate      *alert.Gate
	logger    *zap.Logger
	lastFrame atomic.Int64

	results chan models.DetectionResult
	ctx     context.Context
	cancel  context.CancelFunc

	mu         sync.Mutex
	detector   detection.Processor
	lastDrowsy bool
	ended      bool
}

func (s *Session) Info() models.Session {
	return models.Session{
		ID:        s.ID,
		Name:      s.Name,
		Strategy:  s.Strategy,
		StartTime: s.StartTime,
		Status:    models.SessionActive,
	}
}

// LastActive is the time of the last accepted frame, or the start time.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastFrame.Load())
}

// HandleFrame runs one frame through the detector and the alert gate. A
// frame that arrives while the previous one is still running, or over the
// frame budget, is dropped with ErrSessionBusy or ErrRateLimited.
func (s *Session) HandleFrame(ctx context.Context, img image.Image) (models.DetectionResult, error) {
	if !s.mu.TryLock() {
		s.manager.metrics.IncrementDropped()
		return models.DetectionResult{}, ErrSessionBusy
	}
	res, err := s.process(ctx, img)
	s.mu.Unlock()
	if err != nil {
		return models.DetectionResult{}, err
	}

	select {
	case s.results <- res:
	default:
		s.logger.Debug("publish queue full, result not published", zap.Uint64("frame", res.FrameIndex))
	}
	return res, nil
}

// process runs with s.mu held.
func (s *Session) process(ctx context.Context, img image.Image) (models.DetectionResult, error) {
	metrics := s.manager.metrics
	if s.ended {
		return models.DetectionResult{}, ErrSessionEnded
	}
	if !s.limiter.Allow() {
		metrics.IncrementDropped()
		return models.DetectionResult{}, ErrRateLimited
	}
	s.lastFrame.Store(s.manager.now().UnixNano())

	start := time.Now()
	r, err := s.detector.ProcessFrame(ctx, img)
	if err != nil {
		metrics.IncrementErrors()
		return models.DetectionResult{}, err
	}

	var (
		fired bool
		fire  alert.Alert
	)
	if r.AlertTriggered {
		fire, fired = s.gate.Trigger(ctx)
	} else {
		s.gate.Reset()
	}

	elapsed := time.Since(start)
	res := models.NewDetectionResult(s.ID, s.Strategy, r, fired, fire.Payload, elapsed)

	metrics.IncrementFrames()
	metrics.RecordLatency(elapsed)
	if r.ModelRan && r.Prediction.Valid {
		metrics.IncrementInferences()
	}
	if r.AlertTriggered {
		metrics.IncrementDrowsy()
	}
	if fired {
		metrics.IncrementAlerts()
	}
	if len(r.Warnings) > 0 {
		s.logger.Debug("frame warnings", zap.Uint64("frame", r.FrameIndex), zap.Strings("warnings", r.Warnings))
	}

	if r.AlertTriggered != s.lastDrowsy {
		s.lastDrowsy = r.AlertTriggered
		s.record(ctx, models.EventTransition, res)
	}
	if fired {
		s.record(ctx, models.EventAlert, res)
	}
	return res, nil
}

// publishLoop hands queued decisions to the publishers until the session
// closes. Decisions still queued at that point are dropped.
func (s *Session) publishLoop() {
	for {
		select {
		case res := <-s.results:
			s.manager.publish(s.ctx, res)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) record(ctx context.Context, kind string, res models.DetectionResult) {
	store := s.manager.store
	if store == nil {
		return
	}
	contrib, err := json.Marshal(res.Contributions)
	if err != nil {
		s.logger.Warn("encode contributions", zap.Error(err))
		contrib = nil
	}
	ev := &models.Event{
		SessionID:       s.ID,
		Kind:            kind,
		DrowsinessScore: res.DrowsinessScore,
		IsDrowsy:        res.IsDrowsy,
		Contributions:   contrib,
		Timestamp:       time.UnixMilli(res.Timestamp),
	}
	if err := store.InsertEvent(ctx, ev); err != nil {
		s.logger.Error("persist event", zap.String("kind", kind), zap.Error(err))
	}
}

// close waits for an in-flight frame and releases the detector.
func (s *Session) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil
	}
	s.ended = true
	s.cancel()
	return s.detector.Close()
}
