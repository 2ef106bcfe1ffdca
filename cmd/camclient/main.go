package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"drivepaddy/internal/detection"
	"drivepaddy/internal/frame"
	"drivepaddy/internal/handlers"
	"drivepaddy/internal/models"
	"drivepaddy/internal/render"
	"drivepaddy/internal/vision"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "backend base URL")
	source := flag.String("camera", "0", "camera index, video file or stream URL")
	fps := flag.Int("fps", 10, "frames sent per second")
	width := flag.Int("width", 640, "capture width")
	height := flag.Int("height", 480, "capture height")
	name := flag.String("name", "camclient", "session name")
	show := flag.Bool("show", false, "display frames with the diagnostic overlay")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *server, *source, *name, *fps, *width, *height, *show, logger); err != nil {
		logger.Fatal("camclient failed", zap.Error(err))
	}
}

func run(ctx context.Context, server, source, name string, fps, width, height int, show bool, logger *zap.Logger) error {
	if err := checkHealth(server); err != nil {
		return err
	}

	sess, err := createSession(server, name)
	if err != nil {
		return err
	}
	logger.Info("session created", zap.String("id", sess.ID), zap.String("strategy", sess.Strategy))
	defer func() {
		if err := endSession(server, sess); err != nil {
			logger.Warn("end session", zap.Error(err))
		}
	}()

	cam, err := vision.OpenCamera(source, width, height)
	if err != nil {
		return err
	}
	defer cam.Close()

	wsURL := strings.Replace(server, "http", "ws", 1) + "/ws?" + url.Values{
		"session_id": {sess.ID},
		"token":      {sess.Token},
	}.Encode()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	var last atomic.Pointer[models.DetectionResult]
	go readResults(conn, &last, logger)

	var window *vision.Window
	if show {
		window = vision.NewWindow("drivepaddy")
		defer window.Close()
	}

	if fps < 1 {
		fps = 1
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	var seq int64
	for {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		case <-ticker.C:
		}

		img, err := cam.Read()
		if err != nil {
			logger.Warn("capture", zap.Error(err))
			continue
		}
		data, err := frame.EncodeJPEG(img, frame.DefaultQuality)
		if err != nil {
			return err
		}
		payload, _ := json.Marshal(models.VideoFrame{
			Frame:          base64.StdEncoding.EncodeToString(data),
			Timestamp:      time.Now().UnixMilli(),
			SequenceNumber: seq,
		})
		seq++
		if err := conn.WriteJSON(handlers.WebSocketMessage{Type: handlers.MsgFrame, Payload: payload, Timestamp: time.Now().UnixMilli()}); err != nil {
			return fmt.Errorf("send frame: %w", err)
		}

		if window != nil {
			open, err := window.Show(render.Annotate(img, overlayResult(last.Load())))
			if err != nil {
				logger.Warn("display", zap.Error(err))
			}
			if !open {
				return nil
			}
		}
	}
}

// overlayResult maps the latest server decision onto the overlay input.
func overlayResult(res *models.DetectionResult) detection.Result {
	if res == nil {
		return detection.Result{}
	}
	return detection.Result{
		FrameIndex:     res.FrameIndex,
		Metrics:        res.Metrics,
		Score:          res.DrowsinessScore,
		AlertTriggered: res.IsDrowsy,
		Contributions:  res.Contributions,
	}
}

func readResults(conn *websocket.Conn, last *atomic.Pointer[models.DetectionResult], logger *zap.Logger) {
	for {
		var msg handlers.WebSocketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.Debug("read", zap.Error(err))
			}
			return
		}
		switch msg.Type {
		case handlers.MsgDetection:
			var res models.DetectionResult
			if err := json.Unmarshal(msg.Payload, &res); err != nil {
				continue
			}
			last.Store(&res)
			fmt.Printf("#%-5d %-6s score=%.2f ear=%.3f mar=%.3f pitch=%6.1f yaw=%6.1f %.1fms\n",
				res.SequenceNumber, res.AlertLevel, res.DrowsinessScore,
				res.Metrics.EAR, res.Metrics.MAR, res.Metrics.Pitch, res.Metrics.Yaw, res.InferenceTimeMs)
		case handlers.MsgAlert:
			fmt.Println("!!! DROWSINESS ALERT !!!")
		case handlers.MsgError:
			logger.Warn("server error", zap.ByteString("payload", msg.Payload))
		}
	}
}

func checkHealth(server string) error {
	resp, err := http.Get(server + "/api/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	var h models.HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	fmt.Printf("backend %s, sidecar up: %v, active sessions: %d\n", h.Status, h.SidecarService, h.ActiveSessions)
	return nil
}

func createSession(server, name string) (models.CreateSessionResponse, error) {
	body, _ := json.Marshal(models.CreateSessionRequest{Name: name})
	resp, err := http.Post(server+"/api/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		return models.CreateSessionResponse{}, fmt.Errorf("create session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)
		return models.CreateSessionResponse{}, fmt.Errorf("create session: status %d, body: %s", resp.StatusCode, msg)
	}
	var out models.CreateSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.CreateSessionResponse{}, fmt.Errorf("parse session: %w", err)
	}
	return out, nil
}

func endSession(server string, sess models.CreateSessionResponse) error {
	req, err := http.NewRequest(http.MethodPost, server+"/api/sessions/"+sess.ID+"/end", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+sess.Token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
