// Package landmarks defines the face landmark capability the detector consumes
// and the adapters that provide it.
package landmarks

import (
	"context"
	"image"
	"math"
)

// Point is a landmark in normalized image coordinates, x and y in [0,1].
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Face is a single detected face. Points follow the MediaPipe Face Mesh
// ordering (468 points, 478 with refined irises).
type Face struct {
	Points []Point `json:"points"`
	Score  float64 `json:"score"`
}

// Select returns the points at the given indices in order. It returns nil if
// any index is out of range.
func (f *Face) Select(indices []int) []Point {
	if f == nil {
		return nil
	}
	out := make([]Point, 0, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(f.Points) {
			return nil
		}
		out = append(out, f.Points[i])
	}
	return out
}

// Bounds returns the pixel bounding box of all points, grown by margin (a
// fraction of the box size on each side) and clipped to the frame.
func (f *Face) Bounds(width, height int, margin float64) image.Rectangle {
	if f == nil || len(f.Points) == 0 {
		return image.Rectangle{}
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range f.Points {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	dx := (maxX - minX) * margin
	dy := (maxY - minY) * margin
	r := image.Rect(
		int(math.Floor((minX-dx)*float64(width))),
		int(math.Floor((minY-dy)*float64(height))),
		int(math.Ceil((maxX+dx)*float64(width))),
		int(math.Ceil((maxY+dy)*float64(height))),
	)
	return r.Intersect(image.Rect(0, 0, width, height))
}

// Provider detects zero or one face in a frame. A nil face with a nil error
// means nothing was found.
type Provider interface {
	Detect(ctx context.Context, frame image.Image) (*Face, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, frame image.Image) (*Face, error)

func (fn ProviderFunc) Detect(ctx context.Context, frame image.Image) (*Face, error) {
	return fn(ctx, frame)
}

// Locator finds the face region the classifier crops.
type Locator interface {
	Locate(ctx context.Context, frame image.Image) (image.Rectangle, bool, error)
}

// ProviderLocator derives the face region from a Provider's landmarks.
type ProviderLocator struct {
	Provider Provider
	Margin   float64
}

func (l ProviderLocator) Locate(ctx context.Context, frame image.Image) (image.Rectangle, bool, error) {
	face, err := l.Provider.Detect(ctx, frame)
	if err != nil || face == nil {
		return image.Rectangle{}, false, err
	}
	b := frame.Bounds()
	r := face.Bounds(b.Dx(), b.Dy(), l.Margin).Add(b.Min)
	if r.Empty() {
		return image.Rectangle{}, false, nil
	}
	return r, true, nil
}

// Static always returns the same face. Used for replays and tests.
type Static struct {
	Face *Face
	Err  error
}

func (s Static) Detect(context.Context, image.Image) (*Face, error) {
	if s.Err != nil || s.Face == nil {
		return nil, s.Err
	}
	pts := make([]Point, len(s.Face.Points))
	copy(pts, s.Face.Points)
	return &Face{Points: pts, Score: s.Face.Score}, nil
}
