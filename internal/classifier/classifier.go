// Package classifier runs the deep drowsiness model on a cropped face.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"image"

	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"

	"drivepaddy/internal/frame"
	"drivepaddy/internal/landmarks"
)

// DefaultInputSize is the square input edge of the drowsiness model.
const DefaultInputSize = 224

var ErrDisabled = errors.New("classifier: model unavailable")

// Prediction is one model output. A zero Prediction (Valid false) means no
// prediction was made and fuses as not drowsy.
type Prediction struct {
	Valid      bool    `json:"valid"`
	Drowsy     bool    `json:"drowsy"`
	Confidence float64 `json:"confidence"`
}

// Classifier labels a JPEG encoded face crop.
type Classifier interface {
	Classify(ctx context.Context, crop []byte) (Prediction, error)
	Close() error
}

// Loader produces a ready Classifier, typically by loading the model
// artifact. It is called once per Extractor.
type Loader func(ctx context.Context) (Classifier, error)

// Extractor locates the face, crops it and asks the classifier for a label.
// If the model cannot be loaded the extractor is disabled for its lifetime.
type Extractor struct {
	model   Classifier
	locator landmarks.Locator
	size    int
	err     error
	logger  *zap.Logger
}

func NewExtractor(ctx context.Context, load Loader, locator landmarks.Locator, inputSize int, logger *zap.Logger) *Extractor {
	if inputSize <= 0 {
		inputSize = DefaultInputSize
	}
	e := &Extractor{locator: locator, size: inputSize, logger: logger}

	if load == nil {
		e.err = fmt.Errorf("%w: no loader configured", ErrDisabled)
	} else if m, err := load(ctx); err != nil {
		e.err = fmt.Errorf("%w: %v", ErrDisabled, err)
	} else {
		e.model = m
	}

	if e.err != nil {
		logger.Warn("model extractor disabled", zap.Error(e.err))
	}
	return e
}

func (e *Extractor) Enabled() bool { return e.model != nil }

// Err returns the load failure that disabled the extractor, or nil.
func (e *Extractor) Err() error { return e.err }

// Predict classifies the face in img. A disabled extractor or a frame without
// a face yields an invalid Prediction and no error.
func (e *Extractor) Predict(ctx context.Context, img image.Image) (Prediction, error) {
	if e.model == nil {
		return Prediction{}, nil
	}

	r, found, err := e.locator.Locate(ctx, img)
	if err != nil {
		return Prediction{}, fmt.Errorf("locate face: %w", err)
	}
	if !found {
		return Prediction{}, nil
	}

	data, err := frame.EncodeJPEG(Crop(img, r, e.size), frame.DefaultQuality)
	if err != nil {
		return Prediction{}, err
	}

	p, err := e.model.Classify(ctx, data)
	if err != nil {
		return Prediction{}, fmt.Errorf("classify: %w", err)
	}
	p.Valid = true
	return p, nil
}

func (e *Extractor) Close() error {
	if e.model == nil {
		return nil
	}
	return e.model.Close()
}

// Crop cuts r out of img and scales it to a size x size square.
func Crop(img image.Image, r image.Rectangle, size int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), img, r.Intersect(img.Bounds()), xdraw.Src, nil)
	return dst
}
