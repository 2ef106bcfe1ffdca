package detection

import (
	"encoding/json"
	"testing"
)

var testWeights = Weights{
	EyeClosure:  0.45,
	Yawning:     0.15,
	HeadNod:     0.20,
	LookingAway: 0.20,
	ModelAlert:  0.60,
}

func TestFuse(t *testing.T) {
	tests := []struct {
		name   string
		deb    Debounced
		model  bool
		want   float64
		labels []string
	}{
		{"nothing", Debounced{}, false, 0, nil},
		{"eyes only", Debounced{EyeClosure: true}, false, 0.45, []string{"Eyes Closed"}},
		{"model only", Debounced{}, true, 0.60, []string{"Model Alert"}},
		{"eyes and yawn", Debounced{EyeClosure: true, Yawning: true}, false, 0.60, []string{"Eyes Closed", "Yawning"}},
		{"all", Debounced{true, true, true, true}, true, 1.60, []string{"Eyes Closed", "Yawning", "Head Nod", "Looking Away", "Model Alert"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := FrameMetrics{EAR: 0.1, MAR: 0.8, Pitch: 20, Yaw: -30, ModelPrediction: tt.model}
			score, contrib := Fuse(tt.deb, m, testWeights)
			if !approxEqual(score, tt.want) {
				t.Errorf("score = %v, want %v", score, tt.want)
			}
			if len(contrib) != len(tt.labels) {
				t.Fatalf("contributions = %v, want labels %v", contrib, tt.labels)
			}
			for _, l := range tt.labels {
				if _, ok := contrib[l]; !ok {
					t.Errorf("missing contribution %q", l)
				}
			}
		})
	}
}

func approxEqual(a, b float64) bool {
	d := a - b
	return d < 1e-12 && d > -1e-12
}

func TestFuseContributionValues(t *testing.T) {
	m := FrameMetrics{EAR: 0.12, Pitch: 18.5, Yaw: -25, ModelPrediction: true}
	_, contrib := Fuse(Debounced{EyeClosure: true, HeadNod: true, LookingAway: true}, m, testWeights)

	if v := contrib["Eyes Closed"]; v.Active || v.Number != 0.12 {
		t.Errorf("eyes = %+v", v)
	}
	if v := contrib["Looking Away"]; v.Number != -25 {
		t.Errorf("yaw = %+v", v)
	}
	if v := contrib["Model Alert"]; !v.Active {
		t.Errorf("model = %+v, want Active", v)
	}

	data, err := json.Marshal(Contributions{"Model Alert": {Active: true}, "Head Nod": {Number: 18.5}})
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"Head Nod":18.5,"Model Alert":"Active"}`; string(data) != want {
		t.Errorf("json = %s, want %s", data, want)
	}

	var back Contributions
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if !back["Model Alert"].Active || back["Head Nod"].Number != 18.5 {
		t.Errorf("decoded = %+v", back)
	}
}

// The score must not depend on how the weights map was populated.
func TestFuseOrderIndependent(t *testing.T) {
	weights := []float64{0.1, 0.2, 0.3, 0.7, 1e-9}
	deb := Debounced{true, true, true, true}
	m := FrameMetrics{ModelPrediction: true}

	var first float64
	for rot := 0; rot < len(Indicators); rot++ {
		// same mapping every time, only the insertion order changes
		w := make(Weights)
		for i := range Indicators {
			j := (i + rot) % len(Indicators)
			w[Indicators[j]] = weights[j]
		}
		for run := 0; run < 20; run++ {
			score, _ := Fuse(deb, m, w)
			if rot == 0 && run == 0 {
				first = score
				continue
			}
			if score != first {
				t.Fatalf("rotation %d run %d: score %v != %v", rot, run, score, first)
			}
		}
	}
}

func TestDecideInclusive(t *testing.T) {
	score, _ := Fuse(Debounced{EyeClosure: true, Yawning: true}, FrameMetrics{}, Weights{EyeClosure: 0.25, Yawning: 0.25})
	if !Decide(score, 0.5) {
		t.Error("score equal to threshold must trigger")
	}
	if Decide(0.4999, 0.5) {
		t.Error("score below threshold must not trigger")
	}
	if !Decide(0, 0) {
		t.Error("zero threshold triggers on zero score")
	}
}

func TestWeightsFrom(t *testing.T) {
	w, err := WeightsFrom(map[string]float64{"eye_closure": 0.5, "model_alert": 0.2})
	if err != nil {
		t.Fatal(err)
	}
	if w[EyeClosure] != 0.5 || w[ModelAlert] != 0.2 || w[Yawning] != 0 {
		t.Errorf("weights = %v", w)
	}
	if _, err := WeightsFrom(map[string]float64{"blinking": 1}); err == nil {
		t.Error("expected unknown indicator error")
	}
	if _, err := WeightsFrom(map[string]float64{"yawning": -0.1}); err == nil {
		t.Error("expected negative weight error")
	}
}
