package classifier

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"drivepaddy/pkg/pb"
)

// Remote classifies crops on the ML sidecar.
type Remote struct {
	client  pb.ModelServiceClient
	timeout time.Duration
}

func NewRemote(cc grpc.ClientConnInterface, timeout time.Duration) *Remote {
	return &Remote{client: pb.NewModelServiceClient(cc), timeout: timeout}
}

// RemoteLoader returns a Loader that succeeds only when the sidecar reports
// its model as loaded.
func RemoteLoader(cc grpc.ClientConnInterface, timeout time.Duration) Loader {
	return func(ctx context.Context) (Classifier, error) {
		r := NewRemote(cc, timeout)

		hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		resp, err := r.client.Health(hctx, &emptypb.Empty{})
		if err != nil {
			return nil, fmt.Errorf("sidecar health: %w", err)
		}
		if !resp.GetFields()["model_loaded"].GetBoolValue() {
			return nil, fmt.Errorf("sidecar reports model not loaded")
		}
		return r, nil
	}
}

func (r *Remote) Classify(ctx context.Context, crop []byte) (Prediction, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	resp, err := r.client.Classify(ctx, wrapperspb.Bytes(crop))
	if err != nil {
		return Prediction{}, fmt.Errorf("classify rpc: %w", err)
	}
	fields := resp.GetFields()
	return Prediction{
		Drowsy:     fields["drowsy"].GetBoolValue(),
		Confidence: fields["confidence"].GetNumberValue(),
	}, nil
}

// Close is a no-op; the connection belongs to the caller.
func (r *Remote) Close() error { return nil }
