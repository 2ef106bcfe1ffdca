// Package emitter forwards session decisions to external consumers.
package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"drivepaddy/internal/models"
)

const (
	statusQoS      byte = 0
	alertQoS       byte = 1
	publishTimeout      = 2 * time.Second
)

var ErrNotConnected = errors.New("mqtt not connected")

// Client is the part of mqtt.Client the emitter uses.
type Client interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// AlertMessage is published when an alert fires.
type AlertMessage struct {
	SessionID       string                 `json:"session_id"`
	DrowsinessScore float64                `json:"drowsiness_score"`
	Contributions   map[string]interface{} `json:"contributions"`
	Timestamp       int64                  `json:"timestamp"`
}

// MQTTEmitter publishes the status of every frame to
// {prefix}/sessions/{id}/status and fired alerts to {prefix}/sessions/{id}/alert.
type MQTTEmitter struct {
	client Client
	prefix string
	logger *zap.Logger

	mu        sync.Mutex
	published map[string]uint64
	errors    uint64
}

func NewMQTTEmitter(client Client, prefix string, logger *zap.Logger) *MQTTEmitter {
	return &MQTTEmitter{
		client:    client,
		prefix:    prefix,
		logger:    logger.Named("mqtt"),
		published: make(map[string]uint64),
	}
}

// Connect dials the broker and returns an emitter on the connection. The
// client keeps reconnecting in the background after a connection loss.
func Connect(broker, clientID, prefix string, logger *zap.Logger) (*MQTTEmitter, error) {
	log := logger.Named("mqtt")
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		log.Info("mqtt connection established", zap.String("broker", broker), zap.String("client_id", clientID))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost, will auto-reconnect", zap.String("broker", broker), zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connection to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return NewMQTTEmitter(client, prefix, logger), nil
}

func (e *MQTTEmitter) Publish(ctx context.Context, res models.DetectionResult) error {
	if !e.client.IsConnectionOpen() {
		e.fail()
		return ErrNotConnected
	}

	base := fmt.Sprintf("%s/sessions/%s", e.prefix, res.SessionID)
	if err := e.send(ctx, base+"/status", statusQoS, res.StatusPayload()); err != nil {
		return err
	}
	if !res.AlertFired {
		return nil
	}

	msg := AlertMessage{
		SessionID:       res.SessionID,
		DrowsinessScore: res.DrowsinessScore,
		Contributions:   make(map[string]interface{}, len(res.Contributions)),
		Timestamp:       res.Timestamp,
	}
	for k, v := range res.Contributions {
		msg.Contributions[k] = v
	}
	return e.send(ctx, base+"/alert", alertQoS, msg)
}

func (e *MQTTEmitter) send(ctx context.Context, topic string, qos byte, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		e.fail()
		return fmt.Errorf("marshal %s: %w", topic, err)
	}

	token := e.client.Publish(topic, qos, false, payload)
	select {
	case <-token.Done():
	case <-time.After(publishTimeout):
		e.fail()
		return fmt.Errorf("publish %s: timeout", topic)
	case <-ctx.Done():
		e.fail()
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		e.fail()
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()
	e.logger.Debug("published", zap.String("topic", topic), zap.Int("size", len(payload)))
	return nil
}

func (e *MQTTEmitter) fail() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}

// Stats contains emitter statistics.
type Stats struct {
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

func (e *MQTTEmitter) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{Published: published, Errors: e.errors}
}

// Close disconnects when the emitter owns a full mqtt.Client.
func (e *MQTTEmitter) Close() {
	if c, ok := e.client.(mqtt.Client); ok && c.IsConnected() {
		c.Disconnect(250)
		e.logger.Info("mqtt disconnected")
	}
}
