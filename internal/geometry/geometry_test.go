package geometry

import (
	"context"
	"errors"
	"image"
	"math"
	"testing"

	"drivepaddy/internal/landmarks"
)

func approx(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestEyeAspectRatio(t *testing.T) {
	open := []landmarks.Point{
		{X: 0.1, Y: 0.5}, {X: 0.2, Y: 0.45}, {X: 0.3, Y: 0.45}, {X: 0.4, Y: 0.5}, {X: 0.3, Y: 0.55}, {X: 0.2, Y: 0.55},
	}
	if got := EyeAspectRatio(open, 100, 100); !approx(got, 1.0/3, 1e-9) {
		t.Errorf("EAR = %v, want 1/3", got)
	}

	// vertical distances scale with height, horizontal with width
	if got := EyeAspectRatio(open, 200, 100); !approx(got, 1.0/6, 1e-9) {
		t.Errorf("EAR on wide frame = %v, want 1/6", got)
	}
}

func TestEyeAspectRatioDegenerate(t *testing.T) {
	tests := []struct {
		name string
		eye  []landmarks.Point
	}{
		{"zero horizontal", []landmarks.Point{
			{X: 0.3, Y: 0.5}, {X: 0.2, Y: 0.45}, {X: 0.3, Y: 0.45}, {X: 0.3, Y: 0.5}, {X: 0.3, Y: 0.55}, {X: 0.2, Y: 0.55},
		}},
		{"all same point", make([]landmarks.Point, 6)},
		{"too few points", []landmarks.Point{{X: 0.1, Y: 0.5}, {X: 0.4, Y: 0.5}}},
		{"nil", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EyeAspectRatio(tt.eye, 640, 480); got != 0 {
				t.Errorf("EAR = %v, want 0", got)
			}
		})
	}
}

func TestMouthAspectRatio(t *testing.T) {
	mouth := []landmarks.Point{
		{X: 0.2, Y: 0.5}, {X: 0.3, Y: 0.45}, {X: 0.4, Y: 0.4}, {X: 0.5, Y: 0.45},
		{X: 0.6, Y: 0.5}, {X: 0.5, Y: 0.55}, {X: 0.4, Y: 0.6}, {X: 0.3, Y: 0.55},
	}
	if got := MouthAspectRatio(mouth, 100, 100); !approx(got, 0.5, 1e-9) {
		t.Errorf("MAR = %v, want 0.5", got)
	}

	mouth[4] = mouth[0]
	if got := MouthAspectRatio(mouth, 100, 100); got != 0 {
		t.Errorf("degenerate MAR = %v, want 0", got)
	}
	if got := MouthAspectRatio(mouth[:7], 100, 100); got != 0 {
		t.Errorf("short MAR = %v, want 0", got)
	}
}

// synthPose projects the model with a known head rotation so the solver can be
// checked against ground truth.
func synthPose(pitch, yaw, roll float64, t [3]float64, width, height int) []landmarks.Point {
	const rad = math.Pi / 180
	q := mul(mul(rotZ(roll*rad), rotY(yaw*rad)), rotX(pitch*rad))
	f, cx, cy := float64(width), float64(width)/2, float64(height)/2

	pts := make([]landmarks.Point, len(modelPoints))
	for i, m := range modelPoints {
		x := q[0][0]*m[0] + q[0][1]*m[1] + q[0][2]*m[2] + t[0]
		y := -(q[1][0]*m[0] + q[1][1]*m[1] + q[1][2]*m[2]) + t[1]
		z := -(q[2][0]*m[0] + q[2][1]*m[1] + q[2][2]*m[2]) + t[2]
		pts[i] = landmarks.Point{
			X: (f*x/z + cx) / float64(width),
			Y: (f*y/z + cy) / float64(height),
		}
	}
	return pts
}

func rotX(a float64) [3][3]float64 {
	c, s := math.Cos(a), math.Sin(a)
	return [3][3]float64{{1, 0, 0}, {0, c, -s}, {0, s, c}}
}

func rotY(a float64) [3][3]float64 {
	c, s := math.Cos(a), math.Sin(a)
	return [3][3]float64{{c, 0, s}, {0, 1, 0}, {-s, 0, c}}
}

func rotZ(a float64) [3][3]float64 {
	c, s := math.Cos(a), math.Sin(a)
	return [3][3]float64{{c, -s, 0}, {s, c, 0}, {0, 0, 1}}
}

func mul(a, b [3][3]float64) [3][3]float64 {
	var r [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				r[i][j] += a[i][k] * b[k][j]
			}
		}
	}
	return r
}

func TestEstimateHeadPose(t *testing.T) {
	tests := []struct {
		pitch, yaw, roll float64
	}{
		{0, 0, 0},
		{15, -20, 0},
		{-10, 30, 5},
		{25, 10, -8},
		{0, 45, 0},
		{40, 0, 0},
		{-25, -35, 10},
	}
	for _, tt := range tests {
		pts := synthPose(tt.pitch, tt.yaw, tt.roll, [3]float64{20, -30, 2500}, 640, 480)

		pose, err := EstimateHeadPose(pts, 640, 480)
		if err != nil {
			t.Fatalf("pose(%v,%v,%v): %v", tt.pitch, tt.yaw, tt.roll, err)
		}
		if !approx(pose.Pitch, tt.pitch, 0.01) || !approx(pose.Yaw, tt.yaw, 0.01) || !approx(pose.Roll, tt.roll, 0.01) {
			t.Errorf("pose = %+v, want pitch=%v yaw=%v roll=%v", pose, tt.pitch, tt.yaw, tt.roll)
		}
	}
}

func TestEstimateHeadPoseDegenerate(t *testing.T) {
	if _, err := EstimateHeadPose(make([]landmarks.Point, 6), 640, 480); !errors.Is(err, ErrDegenerate) {
		t.Errorf("collapsed points: err = %v", err)
	}
	if _, err := EstimateHeadPose(make([]landmarks.Point, 5), 640, 480); !errors.Is(err, ErrDegenerate) {
		t.Errorf("wrong count: err = %v", err)
	}
	pts := synthPose(0, 0, 0, [3]float64{0, 0, 2500}, 640, 480)
	if _, err := EstimateHeadPose(pts, 0, 480); !errors.Is(err, ErrDegenerate) {
		t.Errorf("zero width: err = %v", err)
	}
}

// meshFace places the given pose points into a full-size face mesh.
func meshFace(pose []landmarks.Point) *landmarks.Face {
	face := &landmarks.Face{Points: make([]landmarks.Point, 478)}
	for i, idx := range PoseIndices {
		face.Points[idx] = pose[i]
	}
	return face
}

func TestMeasure(t *testing.T) {
	face := meshFace(synthPose(20, -15, 0, [3]float64{0, 0, 2500}, 640, 480))

	m, err := Measure(face, 640, 480)
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if !approx(m.Pitch, 20, 0.01) || !approx(m.Yaw, -15, 0.01) {
		t.Errorf("pose = %v/%v", m.Pitch, m.Yaw)
	}
	// eye and mouth points are all at the origin: degenerate ratios
	if m.EAR != 0 || m.MAR != 0 {
		t.Errorf("EAR=%v MAR=%v, want 0", m.EAR, m.MAR)
	}
}

func TestMeasureMalformedFace(t *testing.T) {
	m, err := Measure(&landmarks.Face{Points: make([]landmarks.Point, 10)}, 640, 480)
	if err == nil {
		t.Fatal("expected pose error for truncated mesh")
	}
	if m != (Metrics{}) {
		t.Errorf("metrics = %+v, want zero", m)
	}
}

func TestExtractor(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	face := meshFace(synthPose(0, 25, 0, [3]float64{0, 0, 2500}, 640, 480))

	s, err := NewExtractor(landmarks.Static{Face: face}).Extract(context.Background(), img)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !s.FaceDetected || s.Face == nil {
		t.Fatal("expected a detected face")
	}
	if !approx(s.Yaw, 25, 0.01) {
		t.Errorf("yaw = %v, want 25", s.Yaw)
	}

	s, err = NewExtractor(landmarks.Static{}).Extract(context.Background(), img)
	if err != nil || s.FaceDetected {
		t.Errorf("no face: sample=%+v err=%v", s, err)
	}

	boom := errors.New("boom")
	if _, err := NewExtractor(landmarks.Static{Err: boom}).Extract(context.Background(), img); !errors.Is(err, boom) {
		t.Errorf("provider error = %v, want wrapped boom", err)
	}
}
