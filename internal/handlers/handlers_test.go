package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"drivepaddy/internal/alert"
	"drivepaddy/internal/config"
	"drivepaddy/internal/detection"
	"drivepaddy/internal/frame"
	"drivepaddy/internal/models"
	"drivepaddy/internal/services"
)

// alternating reports drowsy on every odd frame.
type alternating struct{ n uint64 }

func (a *alternating) ProcessFrame(_ context.Context, img image.Image) (detection.Result, error) {
	if img == nil {
		return detection.Result{}, detection.ErrNilFrame
	}
	r := detection.Result{FrameIndex: a.n, AlertTriggered: a.n%2 == 1}
	if r.AlertTriggered {
		r.Score = 0.65
		r.Contributions = detection.Contributions{"Eyes Closed": {Number: 0.45}, "Head Nod": {Number: 0.2}}
	}
	a.n++
	return r, nil
}

func (a *alternating) Strategy() string { return config.StrategyGeometric }
func (a *alternating) Close() error     { return nil }

type sidecarUp bool

func (s sidecarUp) HealthCheck(context.Context) bool { return bool(s) }

// testFrameLimit admits the 32x32 test frames and rejects larger ones.
const testFrameLimit = 64 * 64

func newManager(t *testing.T) *services.Manager {
	t.Helper()
	m := services.NewManager(services.ManagerConfig{
		Detection: config.DefaultDetection,
		NewDetector: func(context.Context, *config.DetectionConfig) (detection.Processor, error) {
			return &alternating{}, nil
		},
		Producer:       alert.NewStaticProducer([]byte("beep")),
		TokenCost:      bcrypt.MinCost,
		MaxSessions:    4,
		MaxFramePixels: testFrameLimit,
	}, zaptest.NewLogger(t))
	t.Cleanup(func() { m.Close(context.Background()) })
	return m
}

// oversizedFrame is a small PNG whose dimensions exceed testFrameLimit.
func oversizedFrame(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 400, 400))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func encodedFrame(t *testing.T) string {
	t.Helper()
	data, err := frame.EncodeJPEG(image.NewRGBA(image.Rect(0, 0, 32, 32)), 0)
	if err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(data)
}

func newTestAPI(t *testing.T) (*httptest.Server, *services.Manager, *Hub) {
	t.Helper()
	m := newManager(t)
	hub := NewHub(m, zaptest.NewLogger(t))
	m.AddPublisher(hub)
	api := NewAPI(m, sidecarUp(true), hub, "http://localhost:5000", "test", zaptest.NewLogger(t))
	srv := httptest.NewServer(api.Routes())
	t.Cleanup(func() {
		hub.Close()
		deadline := time.Now().Add(2 * time.Second)
		for m.Metrics().GetWebSocketConnections() > 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		srv.Close()
	})
	return srv, m, hub
}

func do(t *testing.T, method, url, token string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func createSession(t *testing.T, url string) models.CreateSessionResponse {
	t.Helper()
	resp := do(t, http.MethodPost, url+"/api/sessions", "", models.CreateSessionRequest{Name: "test"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var out models.CreateSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestSessionEndpoints(t *testing.T) {
	srv, m, _ := newTestAPI(t)
	sess := createSession(t, srv.URL)
	if sess.Token == "" || sess.Status != models.SessionActive {
		t.Fatalf("session = %+v", sess)
	}

	resp := do(t, http.MethodGet, srv.URL+"/api/sessions", "", nil)
	var list []models.Session
	json.NewDecoder(resp.Body).Decode(&list)
	if len(list) != 1 || list[0].ID != sess.ID {
		t.Errorf("list = %+v", list)
	}

	resp = do(t, http.MethodGet, srv.URL+"/api/sessions/"+sess.ID, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("get status = %d", resp.StatusCode)
	}
	resp = do(t, http.MethodGet, srv.URL+"/api/sessions/nope", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get missing status = %d", resp.StatusCode)
	}
	resp = do(t, http.MethodGet, srv.URL+"/api/sessions?status=paused", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad status filter = %d", resp.StatusCode)
	}

	resp = do(t, http.MethodPost, srv.URL+"/api/sessions/"+sess.ID+"/end", "wrong", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("end with wrong token = %d", resp.StatusCode)
	}
	resp = do(t, http.MethodPost, srv.URL+"/api/sessions/"+sess.ID+"/end", sess.Token, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("end status = %d", resp.StatusCode)
	}
	if m.Active() != 0 {
		t.Errorf("active = %d", m.Active())
	}
}

func TestDetectEndpoint(t *testing.T) {
	srv, _, _ := newTestAPI(t)
	sess := createSession(t, srv.URL)
	img := encodedFrame(t)

	var results []models.DetectionResult
	for i := 0; i < 2; i++ {
		resp := do(t, http.MethodPost, srv.URL+"/api/detect", "", models.VideoFrame{
			SessionID:      sess.ID,
			Token:          sess.Token,
			Frame:          "data:image/jpeg;base64," + img,
			Timestamp:      int64(1000 + i),
			SequenceNumber: int64(i),
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("detect %d status = %d", i, resp.StatusCode)
		}
		var res models.DetectionResult
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			t.Fatal(err)
		}
		results = append(results, res)
	}

	if results[0].IsDrowsy || results[0].AlertLevel != models.LevelAwake {
		t.Errorf("first = %+v", results[0])
	}
	second := results[1]
	if !second.IsDrowsy || !second.AlertFired || second.AlertLevel != models.LevelAlert {
		t.Errorf("second = %+v", second)
	}
	if second.AudioBase64 != base64.StdEncoding.EncodeToString([]byte("beep")) {
		t.Errorf("audio = %q", second.AudioBase64)
	}
	if second.SequenceNumber != 1 || second.ClientTimestamp != 1001 {
		t.Errorf("echoed fields = %d %d", second.SequenceNumber, second.ClientTimestamp)
	}
}

func TestDetectErrors(t *testing.T) {
	srv, _, _ := newTestAPI(t)
	sess := createSession(t, srv.URL)

	tests := []struct {
		name  string
		frame models.VideoFrame
		want  int
	}{
		{"wrong token", models.VideoFrame{SessionID: sess.ID, Token: "x", Frame: encodedFrame(t)}, http.StatusUnauthorized},
		{"unknown session", models.VideoFrame{SessionID: "nope", Token: sess.Token, Frame: encodedFrame(t)}, http.StatusNotFound},
		{"bad base64", models.VideoFrame{SessionID: sess.ID, Token: sess.Token, Frame: "%%%"}, http.StatusBadRequest},
		{"not an image", models.VideoFrame{SessionID: sess.ID, Token: sess.Token, Frame: base64.StdEncoding.EncodeToString([]byte("hello"))}, http.StatusBadRequest},
		{"oversized frame", models.VideoFrame{SessionID: sess.ID, Token: sess.Token, Frame: base64.StdEncoding.EncodeToString(oversizedFrame(t))}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodPost, srv.URL+"/api/detect", "", tt.frame)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			var e models.ErrorResponse
			if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
				t.Errorf("error body = %+v, %v", e, err)
			}
		})
	}
}

func TestSessionLimit(t *testing.T) {
	srv, m, _ := newTestAPI(t)
	var first models.CreateSessionResponse
	for i := 0; i < 4; i++ {
		sess := createSession(t, srv.URL)
		if i == 0 {
			first = sess
		}
	}

	resp := do(t, http.MethodPost, srv.URL+"/api/sessions", "", models.CreateSessionRequest{Name: "extra"})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	var e models.ErrorResponse
	json.NewDecoder(resp.Body).Decode(&e)
	if e.Code != "session_limit" || resp.Header.Get("Retry-After") == "" {
		t.Errorf("error = %+v", e)
	}

	resp = do(t, http.MethodPost, srv.URL+"/api/sessions/"+first.ID+"/end", first.Token, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("end status = %d", resp.StatusCode)
	}
	createSession(t, srv.URL)
	if m.Active() != 4 {
		t.Errorf("active = %d", m.Active())
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _, _ := newTestAPI(t)
	createSession(t, srv.URL)

	resp := do(t, http.MethodGet, srv.URL+"/api/health", "", nil)
	var h models.HealthStatus
	json.NewDecoder(resp.Body).Decode(&h)
	if h.Status != "healthy" || !h.SidecarService || h.ActiveSessions != 1 || h.Version != "test" {
		t.Errorf("health = %+v", h)
	}

	resp = do(t, http.MethodGet, srv.URL+"/api/metrics", "", nil)
	var snap map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&snap)
	if snap["active_sessions"] != float64(1) {
		t.Errorf("metrics = %v", snap)
	}
}

func TestCORS(t *testing.T) {
	srv, _, _ := newTestAPI(t)

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/sessions", nil)
	req.Header.Set("Origin", "http://localhost:5000")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "http://localhost:5000" {
		t.Errorf("preflight = %d %q", resp.StatusCode, resp.Header.Get("Access-Control-Allow-Origin"))
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Header.Get("Access-Control-Allow-Origin") != "" {
		t.Error("unexpected CORS header for foreign origin")
	}
}

func TestBearer(t *testing.T) {
	for in, want := range map[string]string{
		"Bearer abc": "abc",
		"bearer abc": "abc",
		"abc":        "abc",
		"":           "",
	} {
		if got := bearer(in); got != want {
			t.Errorf("bearer(%q) = %q, want %q", in, got, want)
		}
	}
}
