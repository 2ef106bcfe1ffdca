// Package detection fuses per-frame facial signals into a drowsiness decision.
package detection

import (
	"encoding/json"
	"fmt"
)

// Indicator names one fused signal. Values match the config weight keys.
type Indicator string

const (
	EyeClosure  Indicator = "eye_closure"
	Yawning     Indicator = "yawning"
	HeadNod     Indicator = "head_nod"
	LookingAway Indicator = "looking_away"
	ModelAlert  Indicator = "model_alert"
)

// Indicators is the fixed summation order.
var Indicators = []Indicator{EyeClosure, Yawning, HeadNod, LookingAway, ModelAlert}

var labels = map[Indicator]string{
	EyeClosure:  "Eyes Closed",
	Yawning:     "Yawning",
	HeadNod:     "Head Nod",
	LookingAway: "Looking Away",
	ModelAlert:  "Model Alert",
}

// Label is the display name used in contributions.
func (i Indicator) Label() string {
	if l, ok := labels[i]; ok {
		return l
	}
	return string(i)
}

// Weights maps each indicator to its contribution to the score. Missing
// indicators weigh 0.
type Weights map[Indicator]float64

func WeightsFrom(m map[string]float64) (Weights, error) {
	w := make(Weights, len(m))
	for k, v := range m {
		ind := Indicator(k)
		if _, ok := labels[ind]; !ok {
			return nil, fmt.Errorf("unknown indicator %q", k)
		}
		if v < 0 {
			return nil, fmt.Errorf("weight %q is negative", k)
		}
		w[ind] = v
	}
	return w, nil
}

// FrameMetrics are the raw per-frame values. Transient.
type FrameMetrics struct {
	EAR             float64 `json:"ear"`
	MAR             float64 `json:"mar"`
	Pitch           float64 `json:"pitch"`
	Yaw             float64 `json:"yaw"`
	ModelPrediction bool    `json:"model_prediction"`
	FaceDetected    bool    `json:"face_detected"`
}

// Debounced are the sustained geometric conditions after debouncing.
type Debounced struct {
	EyeClosure  bool `json:"eye_closure"`
	Yawning     bool `json:"yawning"`
	HeadNod     bool `json:"head_nod"`
	LookingAway bool `json:"looking_away"`
}

func (d Debounced) Any() bool {
	return d.EyeClosure || d.Yawning || d.HeadNod || d.LookingAway
}

// Value is a contribution entry: the raw metric of a triggering indicator, or
// Active for the model which has no continuous value.
type Value struct {
	Number float64
	Active bool
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.Active {
		return []byte(`"Active"`), nil
	}
	return json.Marshal(v.Number)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == `"Active"` {
		*v = Value{Active: true}
		return nil
	}
	*v = Value{}
	return json.Unmarshal(data, &v.Number)
}

func (v Value) String() string {
	if v.Active {
		return "Active"
	}
	return fmt.Sprintf("%.2f", v.Number)
}

// Contributions maps indicator labels to the value that triggered them.
type Contributions map[string]Value

// active reports each indicator's state and the value shown for it.
func active(d Debounced, m FrameMetrics, ind Indicator) (bool, Value) {
	switch ind {
	case EyeClosure:
		return d.EyeClosure, Value{Number: m.EAR}
	case Yawning:
		return d.Yawning, Value{Number: m.MAR}
	case HeadNod:
		return d.HeadNod, Value{Number: m.Pitch}
	case LookingAway:
		return d.LookingAway, Value{Number: m.Yaw}
	case ModelAlert:
		return m.ModelPrediction, Value{Active: true}
	}
	return false, Value{}
}

// Fuse sums the weights of the true indicators in Indicators order and
// records what contributed. The model indicator is true when
// m.ModelPrediction is set.
func Fuse(d Debounced, m FrameMetrics, w Weights) (float64, Contributions) {
	var score float64
	contrib := make(Contributions)
	for _, ind := range Indicators {
		on, v := active(d, m, ind)
		if !on {
			continue
		}
		score += w[ind]
		contrib[ind.Label()] = v
	}
	return score, contrib
}

// Decide reports whether score reaches threshold. Ties trigger.
func Decide(score, threshold float64) bool {
	return score >= threshold
}
