// Package services implements the gRPC services served by the heatmap
// builder. Messages are google.protobuf.Struct documents carrying the same
// JSON shape as the HTTP API, so no generated stubs are needed.
package services

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	appHeatmap "github.com/turtacn/GCN-Heatmap/internal/application/heatmap"
	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "heatmap.v1.HeatmapService"

// JobSubmitter queues a build for the workers.
type JobSubmitter interface {
	Submit(ctx context.Context, job *appHeatmap.BuildJob) error
}

// HeatmapServiceServer is the server side of ServiceName.
type HeatmapServiceServer interface {
	// Build runs a build synchronously and returns its report.
	Build(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	// Submit queues a build and returns {"job_id": ...}.
	Submit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// HeatmapService adapts the application service to gRPC.
type HeatmapService struct {
	svc       appHeatmap.Service
	submitter JobSubmitter
	logger    logging.Logger
}

// NewHeatmapService builds the service. submitter may be nil, in which case
// Submit answers Unavailable.
func NewHeatmapService(svc appHeatmap.Service, submitter JobSubmitter, log logging.Logger) *HeatmapService {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &HeatmapService{svc: svc, submitter: submitter, logger: log.Named("heatmap_service")}
}

var _ HeatmapServiceServer = (*HeatmapService)(nil)

// Build implements HeatmapServiceServer.
func (s *HeatmapService) Build(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeRequest(in)
	if err != nil {
		return nil, errors.GRPCStatus(err)
	}
	report, err := s.svc.BuildDataset(ctx, req)
	if err != nil {
		s.logger.Warn("build failed",
			logging.String("dataset", req.Dataset),
			logging.String("instance", req.Instance),
			logging.Err(err))
		return nil, errors.GRPCStatus(err)
	}
	out, err := toStruct(report)
	if err != nil {
		return nil, errors.GRPCStatus(err)
	}
	return out, nil
}

// Submit implements HeatmapServiceServer.
func (s *HeatmapService) Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.submitter == nil {
		return nil, errors.GRPCStatus(errors.Unavailable("job queue is not configured"))
	}
	req, err := decodeRequest(in)
	if err != nil {
		return nil, errors.GRPCStatus(err)
	}
	job := appHeatmap.NewBuildJob(req)
	if err := s.submitter.Submit(ctx, job); err != nil {
		return nil, errors.GRPCStatus(err)
	}
	s.logger.Info("build job submitted", logging.String("job_id", job.JobID))
	out, err := structpb.NewStruct(map[string]interface{}{"job_id": job.JobID})
	if err != nil {
		return nil, errors.GRPCStatus(errors.Wrap(err, errors.CodeSerialization, "encode response"))
	}
	return out, nil
}

func decodeRequest(in *structpb.Struct) (appHeatmap.BuildRequest, error) {
	var req appHeatmap.BuildRequest
	if in == nil {
		return req, errors.InvalidParam("empty request")
	}
	data, err := json.Marshal(in.AsMap())
	if err != nil {
		return req, errors.Wrap(err, errors.CodeSerialization, "encode request")
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, errors.Wrap(err, errors.CodeInvalidParam, "decode request")
	}
	return req, req.Validate()
}

func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeSerialization, "encode response")
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, errors.CodeSerialization, "encode response")
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeSerialization, "encode response")
	}
	return out, nil
}

func buildHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(HeatmapServiceServer).Build(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Build"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(HeatmapServiceServer).Build(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func submitHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(HeatmapServiceServer).Submit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Submit"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(HeatmapServiceServer).Submit(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// HeatmapServiceDesc describes ServiceName for grpc.Server.RegisterService.
var HeatmapServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*HeatmapServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Build", Handler: buildHandler},
		{MethodName: "Submit", Handler: submitHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "heatmap/v1/heatmap.proto",
}

// HeatmapServiceClient calls ServiceName over conn.
type HeatmapServiceClient struct {
	conn grpc.ClientConnInterface
}

// NewHeatmapServiceClient wraps conn.
func NewHeatmapServiceClient(conn grpc.ClientConnInterface) *HeatmapServiceClient {
	return &HeatmapServiceClient{conn: conn}
}

// Build invokes Build.
func (c *HeatmapServiceClient) Build(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/Build", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Submit invokes Submit.
func (c *HeatmapServiceClient) Submit(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/Submit", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
