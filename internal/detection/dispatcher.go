package detection

import (
	"context"
	"image"
	"sync/atomic"

	"go.uber.org/zap"

	"drivepaddy/internal/classifier"
	"drivepaddy/internal/frame"
	"drivepaddy/internal/geometry"
)

// GeometricSource measures a frame's face geometry. *geometry.Extractor
// implements it.
type GeometricSource interface {
	Extract(ctx context.Context, img image.Image) (geometry.Sample, error)
}

// ModelSource predicts drowsiness from a frame. *classifier.Extractor
// implements it.
type ModelSource interface {
	Predict(ctx context.Context, img image.Image) (classifier.Prediction, error)
}

type cachedPrediction struct {
	prediction classifier.Prediction
	frameIndex uint64
}

// Dispatch is the joined output of one frame's tasks.
type Dispatch struct {
	Sample     geometry.Sample
	Prediction classifier.Prediction
	// ModelRan is set when the prediction was computed for this frame
	// rather than read from the cache.
	ModelRan       bool
	PredictedFrame uint64
	Warnings       []string
}

// Dispatcher runs the geometric task on every frame and the model task on
// every interval-th frame, concurrently, on its own pool.
type Dispatcher struct {
	geo      GeometricSource
	model    ModelSource
	pool     *Pool
	interval uint64
	cache    atomic.Pointer[cachedPrediction]
	logger   *zap.Logger
}

// NewDispatcher takes ownership of pool. Either source may be nil, in which
// case that task is skipped and contributes its zero value.
func NewDispatcher(geo GeometricSource, model ModelSource, pool *Pool, interval uint, logger *zap.Logger) *Dispatcher {
	if interval < 1 {
		interval = 1
	}
	return &Dispatcher{
		geo:      geo,
		model:    model,
		pool:     pool,
		interval: uint64(interval),
		logger:   logger,
	}
}

// Scheduled reports whether the model runs on frameIndex.
func (d *Dispatcher) Scheduled(frameIndex uint64) bool {
	return d.model != nil && frameIndex%d.interval == 0
}

// Process runs the frame's tasks and waits for both. Task failures and panics
// become warnings with the task's zero value as its result; the error is
// reserved for a closed dispatcher.
func (d *Dispatcher) Process(ctx context.Context, img image.Image, frameIndex uint64) (Dispatch, error) {
	var (
		out      Dispatch
		geoDone  <-chan error
		predDone <-chan error
		sample   geometry.Sample
		pred     classifier.Prediction
	)

	if d.geo != nil {
		geoFrame := frame.Clone(img)
		geoDone = d.pool.Go(func() error {
			var err error
			sample, err = d.geo.Extract(ctx, geoFrame)
			return err
		})
	}

	runModel := d.Scheduled(frameIndex)
	if runModel {
		modelFrame := frame.Clone(img)
		predDone = d.pool.Go(func() error {
			var err error
			pred, err = d.model.Predict(ctx, modelFrame)
			return err
		})
	}

	if geoDone != nil {
		if err := <-geoDone; err != nil {
			if err == ErrPoolClosed {
				return Dispatch{}, err
			}
			d.warn(&out, "geometric", err)
			// a failed pose solve still carries valid EAR and MAR
			if !sample.FaceDetected {
				sample = geometry.Sample{}
			}
		}
		out.Sample = sample
	}

	if runModel {
		if err := <-predDone; err != nil {
			if err == ErrPoolClosed {
				return Dispatch{}, err
			}
			d.warn(&out, "model", err)
			pred = classifier.Prediction{}
		}
		d.cache.Store(&cachedPrediction{prediction: pred, frameIndex: frameIndex})
		out.Prediction = pred
		out.ModelRan = true
		out.PredictedFrame = frameIndex
	} else if c := d.cache.Load(); c != nil {
		out.Prediction = c.prediction
		out.PredictedFrame = c.frameIndex
	}

	return out, nil
}

func (d *Dispatcher) warn(out *Dispatch, task string, err error) {
	d.logger.Debug("task failed", zap.String("task", task), zap.Error(err))
	out.Warnings = append(out.Warnings, task+": "+err.Error())
}

// Close stops the pool.
func (d *Dispatcher) Close() {
	d.pool.Close()
}
