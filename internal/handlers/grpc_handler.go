package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"drivepaddy/internal/models"
	"drivepaddy/internal/services"
	"drivepaddy/pkg/pb"
)

// GRPCHandler serves the public detection RPCs. Calls carry the session id
// and token in the x-session-id and authorization metadata.
type GRPCHandler struct {
	pb.UnimplementedDrowsinessDetectionServer
	manager *services.Manager
	sidecar HealthChecker
	logger  *zap.Logger
}

func NewGRPCHandler(manager *services.Manager, sidecar HealthChecker, logger *zap.Logger) *GRPCHandler {
	return &GRPCHandler{
		manager: manager,
		sidecar: sidecar,
		logger:  logger.Named("grpc"),
	}
}

func (h *GRPCHandler) session(ctx context.Context) (*services.Session, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	first := func(key string) string {
		if v := md.Get(key); len(v) > 0 {
			return v[0]
		}
		return ""
	}
	id := first(pb.MetadataSessionID)
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, pb.MetadataSessionID+" metadata is required")
	}
	sess, err := h.manager.Authenticate(id, bearer(first(pb.MetadataToken)))
	if err != nil {
		return nil, grpcError(err)
	}
	return sess, nil
}

func (h *GRPCHandler) DetectDrowsiness(ctx context.Context, req *wrapperspb.BytesValue) (*structpb.Struct, error) {
	if len(req.GetValue()) == 0 {
		return nil, status.Error(codes.InvalidArgument, "frame data is required")
	}
	sess, err := h.session(ctx)
	if err != nil {
		return nil, err
	}
	return h.process(ctx, sess, req.GetValue())
}

func (h *GRPCHandler) process(ctx context.Context, sess *services.Session, data []byte) (*structpb.Struct, error) {
	img, err := decodeBytes(data, h.manager.FrameLimit())
	if err != nil {
		return nil, grpcError(err)
	}
	res, err := sess.HandleFrame(ctx, img)
	if err != nil {
		return nil, grpcError(err)
	}
	out, err := toStruct(res)
	if err != nil {
		h.logger.Error("encode result", zap.Error(err))
		return nil, status.Error(codes.Internal, "encoding result failed")
	}
	return out, nil
}

// DetectDrowsinessStream answers every frame with a result. Dropped and
// undecodable frames get no answer and the stream carries on.
func (h *GRPCHandler) DetectDrowsinessStream(stream pb.DrowsinessDetection_DetectDrowsinessStreamServer) error {
	ctx := stream.Context()
	sess, err := h.session(ctx)
	if err != nil {
		return err
	}
	h.logger.Info("stream started", zap.String("session_id", sess.ID))

	for {
		req, err := stream.Recv()
		if err == io.EOF {
			h.logger.Info("stream completed", zap.String("session_id", sess.ID))
			return nil
		}
		if err != nil {
			return err
		}

		out, err := h.process(ctx, sess, req.GetValue())
		switch status.Code(err) {
		case codes.ResourceExhausted:
			continue
		case codes.InvalidArgument:
			h.logger.Debug("stream frame skipped", zap.String("session_id", sess.ID), zap.Error(err))
			continue
		}
		if err != nil {
			return err
		}
		if err := stream.Send(out); err != nil {
			return err
		}
	}
}

func (h *GRPCHandler) Health(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	sidecar := false
	if h.sidecar != nil {
		sidecar = h.sidecar.HealthCheck(ctx)
	}
	return structpb.NewStruct(map[string]interface{}{
		"status":          "healthy",
		"sidecar_service": sidecar,
		"active_sessions": h.manager.Active(),
	})
}

func toStruct(res models.DetectionResult) (*structpb.Struct, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func grpcError(err error) error {
	switch {
	case errors.Is(err, errBadFrame):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, services.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "invalid session token")
	case errors.Is(err, services.ErrSessionNotFound):
		return status.Error(codes.NotFound, "session not found")
	case errors.Is(err, services.ErrSessionEnded):
		return status.Error(codes.FailedPrecondition, "session ended")
	case errors.Is(err, services.ErrSessionBusy), errors.Is(err, services.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, "processing failed")
	}
}
