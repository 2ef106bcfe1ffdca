package geometry

import (
	"context"
	"fmt"
	"image"

	"drivepaddy/internal/landmarks"
)

// Metrics are the geometric measurements for one frame.
type Metrics struct {
	EAR   float64 `json:"ear"`
	MAR   float64 `json:"mar"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Measure computes EAR (averaged over both eyes), MAR and head pitch/yaw for a
// face in a width x height frame. Malformed landmark sets yield zero for the
// affected metric. A failed pose solve leaves pitch and yaw at zero and is
// reported through the error; the other metrics are still valid.
func Measure(face *landmarks.Face, width, height int) (Metrics, error) {
	left := EyeAspectRatio(face.Select(LeftEye), width, height)
	right := EyeAspectRatio(face.Select(RightEye), width, height)

	m := Metrics{
		EAR: (left + right) / 2,
		MAR: MouthAspectRatio(face.Select(Mouth), width, height),
	}

	pose, err := EstimateHeadPose(face.Select(PoseIndices), width, height)
	if err != nil {
		return m, fmt.Errorf("head pose: %w", err)
	}
	m.Pitch, m.Yaw = pose.Pitch, pose.Yaw
	return m, nil
}

// Sample is the geometric result for one frame.
type Sample struct {
	Metrics
	FaceDetected bool
	Face         *landmarks.Face
}

// Extractor runs the landmark provider and measures the face it finds.
type Extractor struct {
	provider landmarks.Provider
}

func NewExtractor(provider landmarks.Provider) *Extractor {
	return &Extractor{provider: provider}
}

// Extract measures the face in img. No face is not an error: the sample comes
// back with FaceDetected false. When the head pose cannot be solved the
// sample is still returned alongside the error.
func (e *Extractor) Extract(ctx context.Context, img image.Image) (Sample, error) {
	face, err := e.provider.Detect(ctx, img)
	if err != nil {
		return Sample{}, fmt.Errorf("landmarks: %w", err)
	}
	if face == nil {
		return Sample{}, nil
	}

	b := img.Bounds()
	m, err := Measure(face, b.Dx(), b.Dy())
	return Sample{Metrics: m, FaceDetected: true, Face: face}, err
}
