// Package vision holds the OpenCV adapters: a Haar cascade face locator and
// camera capture.
package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// CascadeLocator finds the largest face with a Haar cascade. It serves as
// the classifier's face locator when no landmark provider is wanted on that
// path.
type CascadeLocator struct {
	margin float64

	mu         sync.Mutex
	classifier gocv.CascadeClassifier
}

func NewCascadeLocator(path string, margin float64) (*CascadeLocator, error) {
	c := gocv.NewCascadeClassifier()
	if !c.Load(path) {
		c.Close()
		return nil, fmt.Errorf("load cascade %s", path)
	}
	return &CascadeLocator{margin: margin, classifier: c}, nil
}

func (l *CascadeLocator) Locate(ctx context.Context, img image.Image) (image.Rectangle, bool, error) {
	if err := ctx.Err(); err != nil {
		return image.Rectangle{}, false, err
	}
	if img == nil {
		return image.Rectangle{}, false, errors.New("vision: nil frame")
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return image.Rectangle{}, false, fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)
	gocv.EqualizeHist(gray, &gray)

	l.mu.Lock()
	rects := l.classifier.DetectMultiScale(gray)
	l.mu.Unlock()

	// Mat coordinates start at 0,0; shift back to the frame's bounds.
	origin := img.Bounds().Min
	for i := range rects {
		rects[i] = rects[i].Add(origin)
	}
	r, ok := largest(rects, img.Bounds(), l.margin)
	return r, ok, nil
}

func (l *CascadeLocator) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.classifier.Close()
}

// largest returns the biggest rectangle grown by margin on every side and
// clipped to bounds.
func largest(rects []image.Rectangle, bounds image.Rectangle, margin float64) (image.Rectangle, bool) {
	var best image.Rectangle
	for _, r := range rects {
		if area(r) > area(best) {
			best = r
		}
	}
	if best.Empty() {
		return image.Rectangle{}, false
	}
	dx := int(float64(best.Dx()) * margin)
	dy := int(float64(best.Dy()) * margin)
	best = image.Rect(best.Min.X-dx, best.Min.Y-dy, best.Max.X+dx, best.Max.Y+dy).Intersect(bounds)
	return best, !best.Empty()
}

func area(r image.Rectangle) int {
	return r.Dx() * r.Dy()
}
