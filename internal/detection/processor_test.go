package detection

import (
	"context"
	"errors"
	"image"
	"testing"

	"go.uber.org/zap/zaptest"

	"drivepaddy/internal/classifier"
	"drivepaddy/internal/config"
	"drivepaddy/internal/geometry"
	"drivepaddy/internal/landmarks"
)

// script replays one geometric sample per frame.
type script struct {
	samples []geometry.Sample
	next    int
}

func (s *script) Extract(context.Context, image.Image) (geometry.Sample, error) {
	if s.next >= len(s.samples) {
		return geometry.Sample{}, nil
	}
	out := s.samples[s.next]
	s.next++
	return out, nil
}

func newTestCore(t *testing.T, geo GeometricSource, model ModelSource, interval uint) *core {
	t.Helper()
	cfg := config.DefaultDetection()
	cfg.Geometric.EyeARThresh = 0.2
	cfg.Geometric.EyeARConsecFrames = 20
	w, err := WeightsFrom(cfg.Hybrid.Weights)
	if err != nil {
		t.Fatal(err)
	}
	c := &core{
		dispatcher: NewDispatcher(geo, model, NewPool(2), interval, zaptest.NewLogger(t)),
		signals:    newSignals(cfg.Geometric),
		weights:    w,
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func eyeScenario() *script {
	s := &script{}
	for frame := 1; frame <= 30; frame++ {
		ear := 0.3
		if frame > 5 {
			ear = 0.1
		}
		s.samples = append(s.samples, faceSample(ear))
	}
	return s
}

func TestGeometricEyeClosureScenario(t *testing.T) {
	p := &Geometric{core: newTestCore(t, eyeScenario(), nil, 1)}

	for frame := 1; frame <= 30; frame++ {
		r, err := p.ProcessFrame(context.Background(), testFrame())
		if err != nil {
			t.Fatalf("frame %d: %v", frame, err)
		}
		if want := frame >= 25; r.AlertTriggered != want || r.Debounced.EyeClosure != want {
			t.Fatalf("frame %d: alert=%v eye=%v, want %v", frame, r.AlertTriggered, r.Debounced.EyeClosure, want)
		}
		if r.FrameIndex != uint64(frame-1) {
			t.Errorf("frame index = %d", r.FrameIndex)
		}
	}
}

func TestNoFaceResetsCounters(t *testing.T) {
	s := &script{}
	for i := 0; i < 19; i++ {
		s.samples = append(s.samples, faceSample(0.1))
	}
	s.samples = append(s.samples, geometry.Sample{}, faceSample(0.1))
	p := &Geometric{core: newTestCore(t, s, nil, 1)}

	var last Result
	for range s.samples {
		r, err := p.ProcessFrame(context.Background(), testFrame())
		if err != nil {
			t.Fatal(err)
		}
		last = r
	}
	if last.Debounced.EyeClosure || p.signals.eye.Count() != 1 {
		t.Errorf("no-face frame should reset the eye counter, count=%d", p.signals.eye.Count())
	}
}

func TestHybridDecision(t *testing.T) {
	closed := &script{}
	for i := 0; i < 25; i++ {
		closed.samples = append(closed.samples, faceSample(0.1))
	}
	drowsy := modelFunc(func(context.Context, image.Image) (classifier.Prediction, error) {
		return classifier.Prediction{Valid: true, Drowsy: true}, nil
	})

	h := &Hybrid{core: newTestCore(t, closed, nil, 1), threshold: 0.6}
	var r Result
	for i := 0; i < 20; i++ {
		r, _ = h.ProcessFrame(context.Background(), testFrame())
	}
	if !r.Debounced.EyeClosure || r.AlertTriggered {
		t.Errorf("eyes alone (0.45) should not reach 0.6: %+v", r)
	}

	closed.next = 0
	h = &Hybrid{core: newTestCore(t, closed, drowsy, 10), threshold: 0.6}
	for i := 0; i < 20; i++ {
		r, _ = h.ProcessFrame(context.Background(), testFrame())
	}
	if !r.AlertTriggered || !approxEqual(r.Score, 1.05) {
		t.Errorf("eyes and model should alert: score=%v alert=%v", r.Score, r.AlertTriggered)
	}
	if r.Contributions["Model Alert"] != (Value{Active: true}) {
		t.Errorf("contributions = %v", r.Contributions)
	}
	if r.ModelRan {
		t.Error("frame 19 should use the cached prediction")
	}
}

func TestHybridTieTriggers(t *testing.T) {
	closed := &script{}
	for i := 0; i < 20; i++ {
		closed.samples = append(closed.samples, faceSample(0.1))
	}
	h := &Hybrid{core: newTestCore(t, closed, nil, 1), threshold: 0.45}

	var r Result
	for i := 0; i < 20; i++ {
		r, _ = h.ProcessFrame(context.Background(), testFrame())
	}
	if r.Score != 0.45 || !r.AlertTriggered {
		t.Errorf("score %v at threshold 0.45 should trigger", r.Score)
	}
}

func TestModelStrategy(t *testing.T) {
	var drowsy bool
	model := modelFunc(func(context.Context, image.Image) (classifier.Prediction, error) {
		return classifier.Prediction{Valid: true, Drowsy: drowsy}, nil
	})
	m := &Model{core: newTestCore(t, nil, model, 1)}

	r, err := m.ProcessFrame(context.Background(), testFrame())
	if err != nil || r.AlertTriggered {
		t.Fatalf("alert without prediction: %+v %v", r, err)
	}
	drowsy = true
	r, _ = m.ProcessFrame(context.Background(), testFrame())
	if !r.AlertTriggered || !r.Metrics.ModelPrediction {
		t.Errorf("drowsy prediction should alert: %+v", r)
	}
	if r.Metrics.FaceDetected {
		t.Error("model strategy has no geometric task")
	}
}

func TestProcessFrameNil(t *testing.T) {
	p := &Geometric{core: newTestCore(t, &script{}, nil, 1)}
	if _, err := p.ProcessFrame(context.Background(), nil); !errors.Is(err, ErrNilFrame) {
		t.Errorf("err = %v", err)
	}
}

func TestBuilder(t *testing.T) {
	provider := landmarks.Static{}
	stub := func(context.Context) (classifier.Classifier, error) { return nil, errors.New("no model") }

	for _, strategy := range []string{config.StrategyGeometric, config.StrategyModel, config.StrategyHybrid} {
		cfg := config.DefaultDetection()
		cfg.Strategy = strategy

		p, err := NewBuilder(cfg).
			WithLandmarks(provider).
			WithLoader(stub).
			WithLogger(zaptest.NewLogger(t)).
			Build(context.Background())
		if err != nil {
			t.Fatalf("%s: %v", strategy, err)
		}
		if p.Strategy() != strategy {
			t.Errorf("Strategy() = %q, want %q", p.Strategy(), strategy)
		}
		if _, err := p.ProcessFrame(context.Background(), testFrame()); err != nil {
			t.Errorf("%s: ProcessFrame: %v", strategy, err)
		}
		if err := p.Close(); err != nil {
			t.Errorf("%s: Close: %v", strategy, err)
		}
	}
}

func TestBuilderErrors(t *testing.T) {
	if _, err := NewBuilder(nil).Build(context.Background()); err == nil {
		t.Error("nil config should fail")
	}

	cfg := config.DefaultDetection()
	if _, err := NewBuilder(cfg).Build(context.Background()); !errors.Is(err, ErrNoLandmarks) {
		t.Errorf("missing provider: err = %v", err)
	}

	cfg = config.DefaultDetection()
	cfg.Hybrid.Weights["eye_closure"] = -1
	if _, err := NewBuilder(cfg).WithLandmarks(landmarks.Static{}).Build(context.Background()); err == nil {
		t.Error("invalid config should fail")
	}
}
