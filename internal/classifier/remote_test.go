package classifier

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"drivepaddy/pkg/pb"
)

type fakeModel struct {
	pb.UnimplementedModelServiceServer
	loaded bool
}

func (f *fakeModel) Classify(_ context.Context, in *wrapperspb.BytesValue) (*structpb.Struct, error) {
	if len(in.GetValue()) == 0 {
		return nil, status.Error(codes.InvalidArgument, "empty crop")
	}
	return structpb.NewStruct(map[string]any{"drowsy": true, "confidence": 0.82})
}

func (f *fakeModel) Health(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"status": "ok", "model_loaded": f.loaded})
}

func dialModel(t *testing.T, srv pb.ModelServiceServer) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	pb.RegisterModelServiceServer(s, srv)
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestRemoteLoaderAndClassify(t *testing.T) {
	conn := dialModel(t, &fakeModel{loaded: true})

	c, err := RemoteLoader(conn, 0)(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	p, err := c.Classify(context.Background(), []byte{0xff, 0xd8})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !p.Drowsy || p.Confidence != 0.82 {
		t.Errorf("prediction = %+v", p)
	}

	if _, err := c.Classify(context.Background(), nil); status.Code(err) != codes.InvalidArgument {
		t.Errorf("empty crop error = %v", err)
	}
}

func TestRemoteLoaderModelNotLoaded(t *testing.T) {
	conn := dialModel(t, &fakeModel{loaded: false})
	if _, err := RemoteLoader(conn, 0)(context.Background()); err == nil {
		t.Fatal("expected load failure when the sidecar has no model")
	}
}
