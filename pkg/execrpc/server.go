package execrpc

import (
	"context"

	"google.golang.org/grpc"
)

// RegisterWorkerServer wires srv as the gRPC handler for the
// ExecPlanFragment/CancelPlanFragment service. There is no protoc-generated
// service descriptor to register against (spec.md §1 Non-goals), so the
// grpc.ServiceDesc below is hand-written the same way the client side hand-
// writes its Invoke calls in client.go.
func RegisterWorkerServer(s *grpc.Server, srv Worker) {
	s.RegisterService(&workerServiceDesc, srv)
}

// RegisterCoordinatorServer wires srv as the gRPC handler for the
// UpdateFragmentExecStatus service a worker calls back into.
func RegisterCoordinatorServer(s *grpc.Server, srv StatusReportSink) {
	s.RegisterService(&coordinatorServiceDesc, srv)
}

func workerExecPlanFragmentHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RPCParams)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Worker).ExecPlanFragment(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodExecPlanFragment}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Worker).ExecPlanFragment(ctx, req.(*RPCParams))
	}
	return interceptor(ctx, in, info, handler)
}

func workerCancelPlanFragmentHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CancelParams)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Worker).CancelPlanFragment(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodCancelPlanFragment}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Worker).CancelPlanFragment(ctx, req.(*CancelParams))
	}
	return interceptor(ctx, in, info, handler)
}

func coordinatorUpdateFragmentExecStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ExecStatusReport)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StatusReportSink).UpdateFragmentExecStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodUpdateFragmentExecStatus}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StatusReportSink).UpdateFragmentExecStatus(ctx, req.(*ExecStatusReport))
	}
	return interceptor(ctx, in, info, handler)
}

var workerServiceDesc = grpc.ServiceDesc{
	ServiceName: "distcoord.Worker",
	HandlerType: (*Worker)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ExecPlanFragment", Handler: workerExecPlanFragmentHandler},
		{MethodName: "CancelPlanFragment", Handler: workerCancelPlanFragmentHandler},
	},
	Metadata: "distcoord/worker.proto",
}

var coordinatorServiceDesc = grpc.ServiceDesc{
	ServiceName: "distcoord.Coordinator",
	HandlerType: (*StatusReportSink)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "UpdateFragmentExecStatus", Handler: coordinatorUpdateFragmentExecStatusHandler},
	},
	Metadata: "distcoord/coordinator.proto",
}

// grpcCoordinatorClient implements StatusReportSink over a live gRPC
// connection, the worker-side counterpart to grpcWorkerClient above.
type grpcCoordinatorClient struct {
	conn *grpc.ClientConn
}

// NewCoordinatorClient wraps conn as a StatusReportSink, for a worker
// process to report fragment status back to the coordinator.
func NewCoordinatorClient(conn *grpc.ClientConn) StatusReportSink {
	return &grpcCoordinatorClient{conn: conn}
}

func (c *grpcCoordinatorClient) UpdateFragmentExecStatus(ctx context.Context, report *ExecStatusReport) (*StatusAck, error) {
	resp := &StatusAck{}
	if err := c.conn.Invoke(ctx, methodUpdateFragmentExecStatus, report, resp, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return nil, err
	}
	return resp, nil
}
