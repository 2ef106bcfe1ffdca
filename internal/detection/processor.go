package detection

import (
	"context"
	"errors"
	"image"
	"sync"

	"drivepaddy/internal/classifier"
	"drivepaddy/internal/config"
	"drivepaddy/internal/landmarks"
)

// Result is the decision and diagnostics for one frame.
type Result struct {
	FrameIndex     uint64                `json:"frame_index"`
	Metrics        FrameMetrics          `json:"metrics"`
	Debounced      Debounced             `json:"debounced"`
	Prediction     classifier.Prediction `json:"prediction"`
	ModelRan       bool                  `json:"model_ran"`
	Score          float64               `json:"score"`
	AlertTriggered bool                  `json:"alert_triggered"`
	Contributions  Contributions         `json:"contributions"`
	Warnings       []string              `json:"warnings,omitempty"`
	Face           *landmarks.Face       `json:"-"`
}

// Processor turns frames into decisions. Implementations keep per-stream
// state and must be fed frames from one goroutine at a time.
type Processor interface {
	ProcessFrame(ctx context.Context, img image.Image) (Result, error)
	Strategy() string
	Close() error
}

var ErrNilFrame = errors.New("detection: nil frame")

// core is the pipeline shared by the strategies: dispatch, debounce, fuse.
type core struct {
	dispatcher *Dispatcher
	signals    *signals
	weights    Weights
	frameIndex uint64
	closers    []func() error
	closeOnce  sync.Once
}

func (c *core) step(ctx context.Context, img image.Image) (Result, error) {
	if img == nil {
		return Result{}, ErrNilFrame
	}
	idx := c.frameIndex
	c.frameIndex++

	d, err := c.dispatcher.Process(ctx, img, idx)
	if err != nil {
		return Result{}, err
	}

	m := FrameMetrics{
		EAR:             d.Sample.EAR,
		MAR:             d.Sample.MAR,
		Pitch:           d.Sample.Pitch,
		Yaw:             d.Sample.Yaw,
		ModelPrediction: d.Prediction.Valid && d.Prediction.Drowsy,
		FaceDetected:    d.Sample.FaceDetected,
	}
	deb := c.signals.update(d.Sample)
	score, contrib := Fuse(deb, m, c.weights)

	return Result{
		FrameIndex:    idx,
		Metrics:       m,
		Debounced:     deb,
		Prediction:    d.Prediction,
		ModelRan:      d.ModelRan,
		Score:         score,
		Contributions: contrib,
		Warnings:      d.Warnings,
		Face:          d.Sample.Face,
	}, nil
}

func (c *core) Close() error {
	var errs []error
	c.closeOnce.Do(func() {
		c.dispatcher.Close()
		for _, fn := range c.closers {
			if err := fn(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// Geometric alerts when any debounced facial condition is sustained.
type Geometric struct{ *core }

func (g *Geometric) Strategy() string { return config.StrategyGeometric }

func (g *Geometric) ProcessFrame(ctx context.Context, img image.Image) (Result, error) {
	r, err := g.step(ctx, img)
	if err != nil {
		return r, err
	}
	r.AlertTriggered = r.Debounced.Any()
	return r, nil
}

// Model alerts on the classifier's prediction alone.
type Model struct{ *core }

func (m *Model) Strategy() string { return config.StrategyModel }

func (m *Model) ProcessFrame(ctx context.Context, img image.Image) (Result, error) {
	r, err := m.step(ctx, img)
	if err != nil {
		return r, err
	}
	r.AlertTriggered = r.Metrics.ModelPrediction
	return r, nil
}

// Hybrid alerts when the weighted score of all indicators reaches the
// threshold.
type Hybrid struct {
	*core
	threshold float64
}

func (h *Hybrid) Strategy() string { return config.StrategyHybrid }

func (h *Hybrid) ProcessFrame(ctx context.Context, img image.Image) (Result, error) {
	r, err := h.step(ctx, img)
	if err != nil {
		return r, err
	}
	r.AlertTriggered = Decide(r.Score, h.threshold)
	return r, nil
}

func (h *Hybrid) Threshold() float64 { return h.threshold }
