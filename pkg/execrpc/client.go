package execrpc

import (
	"context"

	"google.golang.org/grpc"
)

// Worker is the outbound RPC surface the Coordinator drives against one
// worker node: ExecPlanFragment and CancelPlanFragment (spec.md §6).
type Worker interface {
	ExecPlanFragment(ctx context.Context, params *RPCParams) (*ExecResult, error)
	CancelPlanFragment(ctx context.Context, params *CancelParams) (*CancelResult, error)
}

// StatusReportSink is the inbound RPC surface workers drive against the
// Coordinator: UpdateFragmentExecStatus (spec.md §6).
type StatusReportSink interface {
	UpdateFragmentExecStatus(ctx context.Context, report *ExecStatusReport) (*StatusAck, error)
}

const (
	methodExecPlanFragment       = "/distcoord.Worker/ExecPlanFragment"
	methodCancelPlanFragment     = "/distcoord.Worker/CancelPlanFragment"
	methodUpdateFragmentExecStatus = "/distcoord.Coordinator/UpdateFragmentExecStatus"
)

// jsonCodecName is registered once (see codec.go) so grpc.ClientConn.Invoke
// can round-trip the hand-written Go structs in types.go without requiring
// generated protobuf stubs — the wire encoding of a plan fragment is out
// of scope (spec.md §1), but the RPC transport itself is still real gRPC.
const jsonCodecName = "distcoord-json"

// grpcWorkerClient implements Worker over a live gRPC connection obtained
// from a clientcache.ConnCache.
type grpcWorkerClient struct {
	conn *grpc.ClientConn
}

// NewWorkerClient wraps conn as a Worker.
func NewWorkerClient(conn *grpc.ClientConn) Worker {
	return &grpcWorkerClient{conn: conn}
}

func (c *grpcWorkerClient) ExecPlanFragment(ctx context.Context, params *RPCParams) (*ExecResult, error) {
	resp := &ExecResult{}
	if err := c.conn.Invoke(ctx, methodExecPlanFragment, params, resp, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *grpcWorkerClient) CancelPlanFragment(ctx context.Context, params *CancelParams) (*CancelResult, error) {
	resp := &CancelResult{}
	if err := c.conn.Invoke(ctx, methodCancelPlanFragment, params, resp, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return nil, err
	}
	return resp, nil
}
