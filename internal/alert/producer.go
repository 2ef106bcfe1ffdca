package alert

import (
	"context"
	"os"

	"go.uber.org/zap"
)

// Producer returns the payload delivered with an alert.
type Producer interface {
	Produce(ctx context.Context) ([]byte, error)
}

type ProducerFunc func(ctx context.Context) ([]byte, error)

func (fn ProducerFunc) Produce(ctx context.Context) ([]byte, error) {
	return fn(ctx)
}

// StaticProducer returns the same bytes for every alert.
type StaticProducer struct {
	data []byte
}

func NewStaticProducer(data []byte) *StaticProducer {
	return &StaticProducer{data: data}
}

// LoadStaticProducer reads the sound file once. A missing or unreadable file
// is logged and leaves the payload empty.
func LoadStaticProducer(path string, logger *zap.Logger) *StaticProducer {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("alert sound not loaded", zap.String("path", path), zap.Error(err))
		return &StaticProducer{}
	}
	return &StaticProducer{data: data}
}

func (p *StaticProducer) Produce(context.Context) ([]byte, error) {
	return p.data, nil
}
