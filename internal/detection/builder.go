package detection

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"drivepaddy/internal/classifier"
	"drivepaddy/internal/config"
	"drivepaddy/internal/geometry"
	"drivepaddy/internal/landmarks"
)

var ErrNoLandmarks = errors.New("detection: strategy needs a landmark provider")

// Builder assembles a Processor for the strategy named in the config.
type Builder struct {
	cfg      *config.DetectionConfig
	provider landmarks.Provider
	locator  landmarks.Locator
	loader   classifier.Loader
	logger   *zap.Logger
}

func NewBuilder(cfg *config.DetectionConfig) *Builder {
	return &Builder{cfg: cfg, logger: zap.NewNop()}
}

func (b *Builder) WithLandmarks(p landmarks.Provider) *Builder {
	b.provider = p
	return b
}

// WithLocator sets the face locator used for model crops. By default the
// landmark provider's bounding box is used.
func (b *Builder) WithLocator(l landmarks.Locator) *Builder {
	b.locator = l
	return b
}

func (b *Builder) WithLoader(l classifier.Loader) *Builder {
	b.loader = l
	return b
}

func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	if l != nil {
		b.logger = l
	}
	return b
}

// Build validates the config and constructs the detector. The model loader
// runs here; a loader failure disables the model rather than failing Build.
func (b *Builder) Build(ctx context.Context) (Processor, error) {
	if b.cfg == nil {
		return nil, errors.New("detection: nil config")
	}
	if err := b.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("detection config: %w", err)
	}
	weights, err := WeightsFrom(b.cfg.Hybrid.Weights)
	if err != nil {
		return nil, err
	}

	strategy := b.cfg.Strategy
	logger := b.logger.Named("detector").With(zap.String("strategy", strategy))

	var geo GeometricSource
	if strategy != config.StrategyModel {
		if b.provider == nil {
			return nil, ErrNoLandmarks
		}
		geo = geometry.NewExtractor(b.provider)
	}

	var (
		model   *classifier.Extractor
		closers []func() error
	)
	if strategy != config.StrategyGeometric {
		locator := b.locator
		if locator == nil {
			if b.provider == nil {
				return nil, fmt.Errorf("%w or a face locator", ErrNoLandmarks)
			}
			locator = landmarks.ProviderLocator{Provider: b.provider, Margin: b.cfg.Model.FaceMargin}
		}
		model = classifier.NewExtractor(ctx, b.loader, locator, b.cfg.Model.InputSize, logger)
		closers = append(closers, model.Close)
	}

	interval := b.cfg.Model.InferenceInterval
	if strategy == config.StrategyModel {
		interval = 1
	}

	var src ModelSource
	if model != nil {
		src = model
	}
	c := &core{
		dispatcher: NewDispatcher(geo, src, NewPool(b.cfg.Hybrid.Workers), interval, logger),
		signals:    newSignals(b.cfg.Geometric),
		weights:    weights,
		closers:    closers,
	}

	logger.Info("detector built",
		zap.Uint("inference_interval", interval),
		zap.Bool("model_enabled", model != nil && model.Enabled()),
	)

	switch strategy {
	case config.StrategyGeometric:
		return &Geometric{core: c}, nil
	case config.StrategyModel:
		return &Model{core: c}, nil
	default:
		return &Hybrid{core: c, threshold: b.cfg.Hybrid.AlertThreshold}, nil
	}
}
