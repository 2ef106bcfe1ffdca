package landmarks

import (
	"context"
	"fmt"
	"image"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"drivepaddy/internal/frame"
	"drivepaddy/pkg/pb"
)

// Remote asks the ML sidecar for face mesh landmarks.
type Remote struct {
	client  pb.ModelServiceClient
	timeout time.Duration
	quality int
}

// NewRemote returns a Provider backed by the sidecar connection. A zero
// timeout leaves the deadline to the caller's context.
func NewRemote(cc grpc.ClientConnInterface, timeout time.Duration) *Remote {
	return &Remote{
		client:  pb.NewModelServiceClient(cc),
		timeout: timeout,
		quality: frame.DefaultQuality,
	}
}

func (r *Remote) Detect(ctx context.Context, img image.Image) (*Face, error) {
	data, err := frame.EncodeJPEG(img, r.quality)
	if err != nil {
		return nil, err
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	resp, err := r.client.Landmarks(ctx, wrapperspb.Bytes(data))
	if err != nil {
		return nil, fmt.Errorf("landmarks rpc: %w", err)
	}
	return parseFaces(resp)
}

// parseFaces reads the first face of a Landmarks response. Points arrive as a
// flat [x0, y0, x1, y1, ...] list.
func parseFaces(resp *structpb.Struct) (*Face, error) {
	faces := resp.GetFields()["faces"].GetListValue().GetValues()
	if len(faces) == 0 {
		return nil, nil
	}

	first := faces[0].GetStructValue()
	if first == nil {
		return nil, fmt.Errorf("landmarks: face entry is not an object")
	}

	coords := first.GetFields()["points"].GetListValue().GetValues()
	if len(coords)%2 != 0 {
		return nil, fmt.Errorf("landmarks: odd coordinate count %d", len(coords))
	}
	if len(coords) == 0 {
		return nil, nil
	}

	face := &Face{
		Points: make([]Point, 0, len(coords)/2),
		Score:  first.GetFields()["score"].GetNumberValue(),
	}
	for i := 0; i < len(coords); i += 2 {
		face.Points = append(face.Points, Point{
			X: coords[i].GetNumberValue(),
			Y: coords[i+1].GetNumberValue(),
		})
	}
	return face, nil
}
