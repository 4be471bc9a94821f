package coordinator

import (
	"context"

	"github.com/SofiaNunes/distcoord/pkg/execrpc"
	"github.com/SofiaNunes/distcoord/pkg/profile"
)

// RowBatch is an opaque batch of result rows; the row encoding itself is
// out of scope (spec.md §1), so it is carried as a byte-slice payload the
// same way PlanFragment carries an opaque fragment blob.
type RowBatch struct {
	Rows [][]byte
	// ReachedLimit is set on the final non-nil batch if the executor's
	// declared row limit was hit while producing it.
	ReachedLimit bool
}

// DMLState is the DML side-effect snapshot a local fragment executor
// exposes once Open has returned successfully (spec.md §4.1 Wait step):
// partition row counts, files to move, and per-partition insert stats.
type DMLState struct {
	PartitionRowCounts   map[string]int64
	FilesToMove          []execrpc.FileMove
	PartitionInsertStats map[string]*execrpc.PartitionInsertStat
}

// LocalFragmentExecutor is the Coordinator's interface onto the in-process
// runner for the coordinator fragment (fragment 0, when unpartitioned).
// Its internals — codegen, physical operators — are out of scope (spec.md
// §1); only this RPC-shaped surface is.
type LocalFragmentExecutor interface {
	// Prepare assembles exec params and may fail (spec.md §4.1 step 2).
	Prepare(ctx context.Context, params *execrpc.RPCParams) error
	// Open blocks until the fragment's root operator is ready to produce
	// rows (spec.md §4.1 Wait step); it is also where a parent exchange
	// node registers with the stream manager before any remote sender
	// begins (spec.md §5 ordering guarantee).
	Open(ctx context.Context) error
	// GetNext returns the next batch, or a nil batch once exhausted.
	GetNext(ctx context.Context) (*RowBatch, error)
	// Cancel asynchronously stops execution.
	Cancel()
	// ReachedLimit reports whether the executor's declared row limit was
	// hit by the last GetNext call, valid once GetNext has returned a nil
	// batch (spec.md §4.1 GetNext step).
	ReachedLimit() bool
	// CancelReceiveStreams cancels this fragment's exchange-node receive
	// streams once the client is done reading (spec.md §4.1 GetNext step).
	CancelReceiveStreams()
	// Profile returns this instance's profile tree; for the coordinator
	// fragment this also serves as the fragment's averaged profile, since
	// there is exactly one instance (spec.md §4.1 step 3).
	Profile() *profile.Profile
	// DMLState returns the accumulated DML side effects once Open has
	// returned successfully.
	DMLState() DMLState
}
