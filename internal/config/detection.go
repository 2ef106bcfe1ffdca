package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Strategy names accepted in detection_strategy.
const (
	StrategyGeometric = "geometric"
	StrategyModel     = "cnn_model"
	StrategyHybrid    = "hybrid"
)

// Classifier backends accepted in cnn_model_settings.backend.
const (
	BackendRemote = "remote"
	BackendWorker = "worker"
	BackendNone   = "none"
)

// WeightKeys are the fusion weight names. legacyModelWeight is accepted as an
// alias for model_alert.
var WeightKeys = []string{"eye_closure", "yawning", "head_nod", "looking_away", "model_alert"}

const legacyModelWeight = "cnn_prediction"

// DetectionConfig holds the thresholds of one detector. A loaded value is
// treated as immutable; reloading produces a new value.
type DetectionConfig struct {
	Strategy  string            `yaml:"detection_strategy"`
	Geometric GeometricSettings `yaml:"geometric_settings"`
	Model     ModelSettings     `yaml:"cnn_model_settings"`
	Hybrid    HybridSettings    `yaml:"hybrid_settings"`
	Alerting  AlertingSettings  `yaml:"alerting"`
}

type GeometricSettings struct {
	EyeARThresh          float64 `yaml:"eye_ar_thresh"`
	EyeARConsecFrames    uint    `yaml:"eye_ar_consec_frames"`
	YawnMARThresh        float64 `yaml:"yawn_mar_thresh"`
	YawnConsecFrames     uint    `yaml:"yawn_consec_frames"`
	HeadNodThresh        float64 `yaml:"head_nod_thresh"`
	HeadLookAwayThresh   float64 `yaml:"head_look_away_thresh"`
	HeadPoseConsecFrames uint    `yaml:"head_pose_consec_frames"`
}

type ModelSettings struct {
	Backend           string   `yaml:"backend"`
	ModelPath         string   `yaml:"model_path"`
	WorkerCommand     string   `yaml:"worker_command"`
	WorkerArgs        []string `yaml:"worker_args"`
	InputSize         int      `yaml:"input_size"`
	InferenceInterval uint     `yaml:"inference_interval"`
	FaceMargin        float64  `yaml:"face_margin"`
}

type HybridSettings struct {
	Weights        map[string]float64 `yaml:"weights"`
	AlertThreshold float64            `yaml:"alert_threshold"`
	Workers        int                `yaml:"workers"`
}

type AlertingSettings struct {
	CooldownSeconds float64 `yaml:"alert_cooldown_seconds"`
	SoundPath       string  `yaml:"alert_sound_path"`
}

func (a AlertingSettings) Cooldown() time.Duration {
	return time.Duration(a.CooldownSeconds * float64(time.Second))
}

// DefaultDetection returns the built-in detector settings.
func DefaultDetection() *DetectionConfig {
	return &DetectionConfig{
		Strategy: StrategyHybrid,
		Geometric: GeometricSettings{
			EyeARThresh:          0.23,
			EyeARConsecFrames:    15,
			YawnMARThresh:        0.70,
			YawnConsecFrames:     20,
			HeadNodThresh:        15,
			HeadLookAwayThresh:   20,
			HeadPoseConsecFrames: 20,
		},
		Model: ModelSettings{
			Backend:           BackendRemote,
			InputSize:         224,
			InferenceInterval: 10,
			FaceMargin:        0.1,
		},
		Hybrid: HybridSettings{
			Weights: map[string]float64{
				"eye_closure":  0.45,
				"yawning":      0.15,
				"head_nod":     0.20,
				"looking_away": 0.20,
				"model_alert":  0.60,
			},
			AlertThreshold: 0.60,
			Workers:        2,
		},
		Alerting: AlertingSettings{
			CooldownSeconds: 5,
			SoundPath:       "assets/alert.mp3",
		},
	}
}

// LoadDetection reads a YAML detection config. Keys missing from the file
// keep their defaults. An empty file is rejected: the Watcher can observe a
// file between truncate and write.
func LoadDetection(path string) (*DetectionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("config file %s is empty", path)
	}
	return ParseDetection(data)
}

func ParseDetection(data []byte) (*DetectionConfig, error) {
	cfg := DefaultDetection()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if w, ok := cfg.Hybrid.Weights[legacyModelWeight]; ok {
		delete(cfg.Hybrid.Weights, legacyModelWeight)
		cfg.Hybrid.Weights["model_alert"] = w
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate reports every problem found, joined.
func (c *DetectionConfig) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	switch c.Strategy {
	case StrategyGeometric, StrategyModel, StrategyHybrid:
	default:
		errs = append(errs, fmt.Errorf("unknown detection_strategy %q", c.Strategy))
	}

	g := c.Geometric
	check(g.EyeARThresh > 0, "eye_ar_thresh must be positive")
	check(g.YawnMARThresh > 0, "yawn_mar_thresh must be positive")
	check(g.HeadNodThresh > 0, "head_nod_thresh must be positive")
	check(g.HeadLookAwayThresh > 0, "head_look_away_thresh must be positive")

	m := c.Model
	switch m.Backend {
	case BackendRemote, BackendNone:
	case BackendWorker:
		check(m.ModelPath != "", "model_path is required for the worker backend")
		check(m.WorkerCommand != "", "worker_command is required for the worker backend")
	default:
		errs = append(errs, fmt.Errorf("unknown cnn_model_settings.backend %q", m.Backend))
	}
	check(m.InputSize > 0, "input_size must be positive")
	check(m.InferenceInterval >= 1, "inference_interval must be at least 1")
	check(m.FaceMargin >= 0, "face_margin must not be negative")

	h := c.Hybrid
	known := make(map[string]bool, len(WeightKeys))
	for _, k := range WeightKeys {
		known[k] = true
	}
	for k, w := range h.Weights {
		check(known[k], "unknown weight %q", k)
		check(w >= 0, "weight %q must not be negative", k)
	}
	check(h.AlertThreshold >= 0, "alert_threshold must not be negative")
	check(h.Workers >= 1, "workers must be at least 1")

	check(c.Alerting.CooldownSeconds >= 0, "alert_cooldown_seconds must not be negative")

	return errors.Join(errs...)
}
