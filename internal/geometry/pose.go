package geometry

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"

	"drivepaddy/internal/landmarks"
)

// PoseIndices are the face mesh points matched against the canonical face
// model: nose tip, chin, outer eye corners and mouth corners, left to right as
// they appear in an unmirrored frame.
var PoseIndices = []int{1, 152, 33, 263, 61, 291}

// modelPoints is a generic head in arbitrary units, y up and z toward the
// viewer, in PoseIndices order.
var modelPoints = [6][3]float64{
	{0, 0, 0},
	{0, -330, -65},
	{-225, 170, -135},
	{225, 170, -135},
	{-150, -150, -125},
	{150, -150, -125},
}

const (
	eyeCornerSpan = 450.0
	maxIterations = 100
)

var (
	ErrDegenerate    = errors.New("geometry: degenerate pose input")
	ErrBehindCamera  = errors.New("geometry: pose places face behind camera")
	errNoImprovement = errors.New("geometry: solver stalled")
)

// Pose is the head rotation relative to a frontal face, in degrees. Positive
// pitch is the head tilting down.
type Pose struct {
	Pitch float64
	Yaw   float64
	Roll  float64
}

// EstimateHeadPose solves the perspective-n-point problem for the six
// PoseIndices points (normalized coordinates) against the canonical model,
// using a pinhole camera with focal length = width, principal point at the
// frame centre and no lens distortion.
func EstimateHeadPose(pts []landmarks.Point, width, height int) (Pose, error) {
	if len(pts) != len(modelPoints) || width <= 0 || height <= 0 {
		return Pose{}, ErrDegenerate
	}

	cam := camera{f: float64(width), cx: float64(width) / 2, cy: float64(height) / 2}
	obs := make([]float64, 2*len(pts))
	for i, p := range pts {
		obs[2*i] = p.X * float64(width)
		obs[2*i+1] = p.Y * float64(height)
	}

	init, err := cam.initialGuess(obs)
	if err != nil {
		return Pose{}, err
	}
	params, err := cam.solve(obs, init)
	if err != nil {
		return Pose{}, err
	}
	return decompose(rodrigues(params[0], params[1], params[2])), nil
}

type camera struct {
	f, cx, cy float64
}

// initialGuess starts from a frontal face whose nose tip sits on the observed
// nose and whose depth matches the observed eye corner span.
func (c camera) initialGuess(obs []float64) ([6]float64, error) {
	span := math.Hypot(obs[6]-obs[4], obs[7]-obs[5])
	if span < 1e-9 {
		return [6]float64{}, ErrDegenerate
	}
	tz := c.f * eyeCornerSpan / span
	return [6]float64{
		0, 0, 0,
		(obs[0] - c.cx) * tz / c.f,
		(obs[1] - c.cy) * tz / c.f,
		tz,
	}, nil
}

// project maps the model through the head rotation p[0:3] (rotation vector),
// the model-to-camera axis flip and the translation p[3:6].
func (c camera) project(p [6]float64, out []float64) bool {
	q := rodrigues(p[0], p[1], p[2])
	for i, m := range modelPoints {
		x := q[0][0]*m[0] + q[0][1]*m[1] + q[0][2]*m[2]
		y := q[1][0]*m[0] + q[1][1]*m[1] + q[1][2]*m[2]
		z := q[2][0]*m[0] + q[2][1]*m[1] + q[2][2]*m[2]
		// camera y points down and z away from the viewer
		x, y, z = x+p[3], -y+p[4], -z+p[5]
		if z <= 1e-9 {
			return false
		}
		out[2*i] = c.f*x/z + c.cx
		out[2*i+1] = c.f*y/z + c.cy
	}
	return true
}

// solve runs Levenberg-Marquardt on the reprojection error.
func (c camera) solve(obs []float64, p [6]float64) ([6]float64, error) {
	n := len(obs)
	pred := make([]float64, n)
	trial := make([]float64, n)
	plus := make([]float64, n)
	minus := make([]float64, n)

	if !c.project(p, pred) {
		return p, ErrBehindCamera
	}
	cost := sqDist(pred, obs)

	jac := mat.NewDense(n, 6, nil)
	res := mat.NewVecDense(n, nil)
	lambda := 1e-3

	for iter := 0; iter < maxIterations && cost > 1e-12; iter++ {
		for i := range obs {
			res.SetVec(i, obs[i]-pred[i])
		}
		for j := 0; j < 6; j++ {
			h := 1e-6 * math.Max(1, math.Abs(p[j]))
			pp, pm := p, p
			pp[j] += h
			pm[j] -= h
			if !c.project(pp, plus) || !c.project(pm, minus) {
				return p, ErrBehindCamera
			}
			for i := 0; i < n; i++ {
				jac.Set(i, j, (plus[i]-minus[i])/(2*h))
			}
		}

		var jtj mat.Dense
		jtj.Mul(jac.T(), jac)
		var jtr mat.VecDense
		jtr.MulVec(jac.T(), res)

		improved := false
		for attempt := 0; attempt < 12; attempt++ {
			a := mat.DenseCopyOf(&jtj)
			for k := 0; k < 6; k++ {
				d := jtj.At(k, k)
				a.Set(k, k, d+lambda*math.Max(d, 1e-12))
			}

			var delta mat.VecDense
			if err := delta.SolveVec(a, &jtr); err != nil {
				lambda *= 10
				continue
			}

			cand := p
			for k := 0; k < 6; k++ {
				cand[k] += delta.AtVec(k)
			}
			if !c.project(cand, trial) {
				lambda *= 10
				continue
			}

			next := sqDist(trial, obs)
			if next >= cost {
				lambda *= 10
				continue
			}

			converged := mat.Norm(&delta, 2) < 1e-10 || (cost-next) < 1e-14*cost
			p = cand
			copy(pred, trial)
			cost = next
			lambda = math.Max(lambda/10, 1e-12)
			improved = true
			if converged {
				return p, nil
			}
			break
		}
		if !improved {
			break
		}
	}

	if math.IsNaN(cost) {
		return p, errNoImprovement
	}
	return p, nil
}

// rodrigues converts a rotation vector to a rotation matrix.
func rodrigues(x, y, z float64) [3][3]float64 {
	theta := math.Sqrt(x*x + y*y + z*z)
	a, b := 1.0, 0.5
	if theta > 1e-12 {
		a = math.Sin(theta) / theta
		b = (1 - math.Cos(theta)) / (theta * theta)
	}

	k := [3][3]float64{
		{0, -z, y},
		{z, 0, -x},
		{-y, x, 0},
	}
	var r [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var k2 float64
			for m := 0; m < 3; m++ {
				k2 += k[i][m] * k[m][j]
			}
			r[i][j] = a*k[i][j] + b*k2
		}
		r[i][i]++
	}
	return r
}

// decompose splits q = Rz(roll) * Ry(yaw) * Rx(pitch) into degrees.
func decompose(q [3][3]float64) Pose {
	const deg = 180 / math.Pi
	return Pose{
		Pitch: math.Atan2(q[2][1], q[2][2]) * deg,
		Yaw:   math.Atan2(-q[2][0], math.Hypot(q[2][1], q[2][2])) * deg,
		Roll:  math.Atan2(q[1][0], q[0][0]) * deg,
	}
}

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}
