// Package geometry computes per-frame facial metrics from face mesh
// landmarks: eye aspect ratio, mouth aspect ratio and head pose.
package geometry

import (
	"math"

	"drivepaddy/internal/landmarks"
)

// Face mesh indices, ordered p1..p6 for the eyes and p1..p8 for the mouth.
// p1 and p4 (p5 for the mouth) are the horizontal corners; the remaining
// points pair up vertically: p2-p6, p3-p5 for the eyes and p2-p8, p3-p7,
// p4-p6 for the inner lip contour.
var (
	LeftEye  = []int{362, 385, 387, 263, 373, 380}
	RightEye = []int{33, 160, 158, 133, 153, 144}
	Mouth    = []int{78, 82, 13, 312, 308, 317, 14, 87}
)

// EyeAspectRatio returns (|p2-p6| + |p3-p5|) / (2|p1-p4|) measured in pixels.
// It returns 0 for a degenerate eye or when eye does not hold six points.
func EyeAspectRatio(eye []landmarks.Point, width, height int) float64 {
	if len(eye) != 6 {
		return 0
	}
	c := toPixels(eye, width, height)

	horizontal := dist(c[0], c[3])
	if horizontal == 0 {
		return 0
	}
	return (dist(c[1], c[5]) + dist(c[2], c[4])) / (2 * horizontal)
}

// MouthAspectRatio returns (|p2-p8| + |p3-p7| + |p4-p6|) / (2|p1-p5|)
// measured in pixels. It returns 0 for a degenerate mouth or when mouth does
// not hold eight points.
func MouthAspectRatio(mouth []landmarks.Point, width, height int) float64 {
	if len(mouth) != 8 {
		return 0
	}
	c := toPixels(mouth, width, height)

	horizontal := dist(c[0], c[4])
	if horizontal == 0 {
		return 0
	}
	return (dist(c[1], c[7]) + dist(c[2], c[6]) + dist(c[3], c[5])) / (2 * horizontal)
}

func toPixels(pts []landmarks.Point, width, height int) [][2]float64 {
	out := make([][2]float64, len(pts))
	for i, p := range pts {
		out[i] = [2]float64{p.X * float64(width), p.Y * float64(height)}
	}
	return out
}

func dist(a, b [2]float64) float64 {
	return math.Hypot(a[0]-b[0], a[1]-b[1])
}
