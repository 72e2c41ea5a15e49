package grpc

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	appHeatmap "github.com/turtacn/GCN-Heatmap/internal/application/heatmap"
	"github.com/turtacn/GCN-Heatmap/internal/domain/instance"
	"github.com/turtacn/GCN-Heatmap/internal/interfaces/grpc/services"
	"github.com/turtacn/GCN-Heatmap/internal/testutil"
)

type panicService struct{}

func (panicService) BuildDataset(context.Context, appHeatmap.BuildRequest) (*appHeatmap.BuildReport, error) {
	panic("boom")
}

func (panicService) BuildInstances(context.Context, appHeatmap.BuildRequest, []*instance.Instance) (*appHeatmap.BuildReport, error) {
	panic("boom")
}

type okService struct{}

func (okService) BuildDataset(_ context.Context, req appHeatmap.BuildRequest) (*appHeatmap.BuildReport, error) {
	return &appHeatmap.BuildReport{RunID: "run-1", Request: req, Status: appHeatmap.StatusSucceeded}, nil
}

func (okService) BuildInstances(_ context.Context, req appHeatmap.BuildRequest, _ []*instance.Instance) (*appHeatmap.BuildReport, error) {
	return &appHeatmap.BuildReport{RunID: "run-1", Request: req, Status: appHeatmap.StatusSucceeded}, nil
}

type recordedCall struct {
	transport string
	method    string
	code      int
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (f *fakeRecorder) RecordRequest(transport, method string, code int, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{transport, method, code})
}

func (f *fakeRecorder) snapshot() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCall(nil), f.calls...)
}

func startServer(t *testing.T, svc appHeatmap.Service, opts ...Option) (*Server, *grpc.ClientConn) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv, err := NewServer(0, append([]Option{WithListener(lis)}, opts...)...)
	require.NoError(t, err)
	srv.RegisterService(&services.HeatmapServiceDesc, services.NewHeatmapService(svc, nil, nil))

	go func() { _ = srv.Start() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := grpc.DialContext(ctx, "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		_ = srv.Stop(context.Background())
	})
	return srv, conn
}

func buildRequest(t *testing.T) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(map[string]interface{}{"dataset": "tsp500", "instance": "test"})
	require.NoError(t, err)
	return s
}

func TestServer_HealthAndBuild(t *testing.T) {
	rec := &fakeRecorder{}
	_, conn := startServer(t, okService{}, WithMetrics(rec))
	ctx := context.Background()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: services.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	out, err := services.NewHeatmapServiceClient(conn).Build(ctx, buildRequest(t))
	require.NoError(t, err)
	assert.Equal(t, "run-1", out.AsMap()["run_id"])

	calls := rec.snapshot()
	require.NotEmpty(t, calls)
	last := calls[len(calls)-1]
	assert.Equal(t, recordedCall{"grpc", "Build", int(codes.OK)}, last)
}

func TestServer_SetServing(t *testing.T) {
	srv, conn := startServer(t, okService{})
	srv.SetServing(false)

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)
}

func TestServer_RecoversPanics(t *testing.T) {
	log := testutil.NewMockLogger()
	_, conn := startServer(t, panicService{}, WithLogger(log))

	_, err := services.NewHeatmapServiceClient(conn).Build(context.Background(), buildRequest(t))
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.True(t, log.HasMessage("error", "grpc panic recovered"))
}

func TestServer_StartTwice(t *testing.T) {
	srv, conn := startServer(t, okService{})
	_, err := services.NewHeatmapServiceClient(conn).Build(context.Background(), buildRequest(t))
	require.NoError(t, err)

	assert.Error(t, srv.Start())
}

func TestServer_StopBeforeStart(t *testing.T) {
	srv, err := NewServer(0, WithListener(bufconn.Listen(1024)))
	require.NoError(t, err)
	assert.NoError(t, srv.Stop(context.Background()))
	assert.NoError(t, srv.Start())
}

func TestSplitMethodName(t *testing.T) {
	svc, method := splitMethodName("/heatmap.v1.HeatmapService/Build")
	assert.Equal(t, "heatmap.v1.HeatmapService", svc)
	assert.Equal(t, "Build", method)

	svc, method = splitMethodName("Build")
	assert.Equal(t, "unknown", svc)
	assert.Equal(t, "Build", method)
}
