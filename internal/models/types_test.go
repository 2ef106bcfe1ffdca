package models

import (
	"encoding/json"
	"testing"
	"time"

	"drivepaddy/internal/detection"
)

func TestNewDetectionResultLevels(t *testing.T) {
	r := detection.Result{Score: 0.7, AlertTriggered: true, Contributions: detection.Contributions{
		"Eyes Closed": {Number: 0.1},
	}}

	if got := NewDetectionResult("s", "hybrid", detection.Result{}, false, nil, time.Millisecond); got.AlertLevel != LevelAwake {
		t.Errorf("level = %q", got.AlertLevel)
	}
	if got := NewDetectionResult("s", "hybrid", r, false, nil, 0); got.AlertLevel != LevelDrowsy || got.AudioBase64 != "" {
		t.Errorf("drowsy result = %+v", got)
	}
	got := NewDetectionResult("s", "hybrid", r, true, []byte("hi"), 2500*time.Microsecond)
	if got.AlertLevel != LevelAlert || got.AudioBase64 != "aGk=" || got.InferenceTimeMs != 2.5 {
		t.Errorf("fired result = %+v", got)
	}
}

func TestStatusPayload(t *testing.T) {
	awake := DetectionResult{}
	data, _ := json.Marshal(awake.StatusPayload())
	if string(data) != `{"status":"Awake"}` {
		t.Errorf("awake payload = %s", data)
	}

	drowsy := DetectionResult{
		IsDrowsy:    true,
		AudioBase64: "aGk=",
		Contributions: detection.Contributions{
			"Yawning":     {Number: 0.85},
			"Model Alert": {Active: true},
		},
	}
	data, _ = json.Marshal(drowsy.StatusPayload())
	if want := `{"Model Alert":"Active","Yawning":0.85,"audio":"aGk="}`; string(data) != want {
		t.Errorf("drowsy payload = %s, want %s", data, want)
	}
}
