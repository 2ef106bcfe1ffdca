package detection

import (
	"math"

	"drivepaddy/internal/config"
	"drivepaddy/internal/debounce"
	"drivepaddy/internal/geometry"
)

// signals holds one debounce counter per geometric condition. Head nod and
// looking away share a frame count but keep separate counters.
type signals struct {
	eye, yawn, nod, away *debounce.Counter
	cfg                  config.GeometricSettings
}

func newSignals(cfg config.GeometricSettings) *signals {
	return &signals{
		eye:  debounce.NewCounter(cfg.EyeARConsecFrames),
		yawn: debounce.NewCounter(cfg.YawnConsecFrames),
		nod:  debounce.NewCounter(cfg.HeadPoseConsecFrames),
		away: debounce.NewCounter(cfg.HeadPoseConsecFrames),
		cfg:  cfg,
	}
}

// update advances every counter by one frame. Without a face every condition
// is treated as not holding.
func (s *signals) update(sample geometry.Sample) Debounced {
	face := sample.FaceDetected
	return Debounced{
		EyeClosure:  s.eye.Update(face && sample.EAR < s.cfg.EyeARThresh),
		Yawning:     s.yawn.Update(face && sample.MAR > s.cfg.YawnMARThresh),
		HeadNod:     s.nod.Update(face && sample.Pitch > s.cfg.HeadNodThresh),
		LookingAway: s.away.Update(face && math.Abs(sample.Yaw) > s.cfg.HeadLookAwayThresh),
	}
}
