package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/emptypb"

	"drivepaddy/pkg/pb"
)

// SidecarClient is the connection to the ML sidecar that serves landmarks and
// the drowsiness classifier.
type SidecarClient struct {
	conn   *grpc.ClientConn
	client pb.ModelServiceClient
	url    string
	logger *zap.Logger
}

func NewSidecarClient(url string, maxMsgSize int, logger *zap.Logger) (*SidecarClient, error) {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMsgSize),
			grpc.MaxCallSendMsgSize(maxMsgSize),
		),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
	}

	conn, err := grpc.NewClient(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("sidecar client for %s: %w", url, err)
	}
	logger.Info("sidecar client created", zap.String("url", url))

	return &SidecarClient{
		conn:   conn,
		client: pb.NewModelServiceClient(conn),
		url:    url,
		logger: logger,
	}, nil
}

// Conn is shared by the landmark and classifier adapters.
func (sc *SidecarClient) Conn() *grpc.ClientConn {
	return sc.conn
}

func (sc *SidecarClient) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, err := sc.client.Health(ctx, &emptypb.Empty{})
	if err != nil {
		sc.logger.Debug("sidecar health check failed", zap.Error(err))
	}
	return err == nil
}

func (sc *SidecarClient) Close() error {
	if sc.conn != nil {
		return sc.conn.Close()
	}
	return nil
}
