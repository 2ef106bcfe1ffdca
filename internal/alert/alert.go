// Package alert rate-limits drowsiness alerts and produces their payload.
package alert

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Alert is one fired alert. Payload is the audio to play and may be nil.
type Alert struct {
	Payload []byte    `json:"-"`
	FiredAt time.Time `json:"fired_at"`
}

// Gate fires at most once per drowsy episode: after firing it stays armed
// until Reset, and it never fires again within the cooldown of the last
// firing.
type Gate struct {
	cooldown time.Duration
	producer Producer
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	armed    bool
	lastFire time.Time
}

func NewGate(cooldown time.Duration, producer Producer, logger *zap.Logger) *Gate {
	return &Gate{
		cooldown: cooldown,
		producer: producer,
		logger:   logger,
		now:      time.Now,
	}
}

// Trigger fires if the cooldown has passed and the gate is not armed.
func (g *Gate) Trigger(ctx context.Context) (Alert, bool) {
	g.mu.Lock()
	now := g.now()
	if g.armed || (!g.lastFire.IsZero() && now.Sub(g.lastFire) <= g.cooldown) {
		g.mu.Unlock()
		return Alert{}, false
	}
	g.armed = true
	g.lastFire = now
	g.mu.Unlock()

	a := Alert{FiredAt: now}
	if g.producer != nil {
		payload, err := g.producer.Produce(ctx)
		if err != nil {
			g.logger.Warn("alert payload unavailable", zap.Error(err))
		}
		a.Payload = payload
	}
	g.logger.Info("alert fired", zap.Int("payload_bytes", len(a.Payload)))
	return a, true
}

// Reset disarms the gate. It is a no-op when the gate is not armed.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.armed {
		return
	}
	g.armed = false
	g.logger.Info("alert reset")
}

func (g *Gate) Armed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.armed
}
