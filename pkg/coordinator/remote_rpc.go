package coordinator

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	cockerrors "github.com/cockroachdb/errors"

	"github.com/SofiaNunes/distcoord/pkg/execrpc"
	"github.com/SofiaNunes/distcoord/pkg/statuspb"
)

// isStaleConnErr reports whether err looks like the cached connection was
// stale — a connection-reset-style transport error on the first attempt —
// which spec.md §4.3 says warrants forcing a reopen and retrying exactly
// once.
func isStaleConnErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// execRemoteFragment implements spec.md §4.3's ExecRemoteFragment: it
// acquires state's per-instance lock for the duration, opens a connection
// from the client cache with one stale-connection retry, and issues
// ExecPlanFragment.
func (c *Coordinator) execRemoteFragment(ctx context.Context, state *BackendExecState) error {
	state.mu.Lock()
	defer state.mu.Unlock()

	worker, err := c.dialWorker(ctx, state.BackendAddr)
	if err != nil {
		state.setStatusLocked(statuspb.WrapError(statuspb.RPC, err))
		return state.status
	}

	resp, err := worker.ExecPlanFragment(ctx, state.RPCParams)
	if err != nil {
		if isStaleConnErr(err) {
			c.conns.InvalidateConnection(state.BackendAddr)
			worker, err = c.dialWorker(ctx, state.BackendAddr)
			if err == nil {
				resp, err = worker.ExecPlanFragment(ctx, state.RPCParams)
			}
		}
		if err != nil {
			state.setStatusLocked(statuspb.WrapError(statuspb.RPC, err))
			return state.status
		}
	}

	state.status = resp.Status.ToError()
	if state.status == nil {
		state.initiated = true
		state.rpcAcceptedAt = time.Now()
		state.stopwatch.Start()
	}
	return state.status
}

// dialWorker resolves a Worker client for addr via the configured
// ConnCache.
func (c *Coordinator) dialWorker(ctx context.Context, addr string) (execrpc.Worker, error) {
	conn, err := c.conns.GetConnection(ctx, addr)
	if err != nil {
		return nil, err
	}
	return execrpc.NewWorkerClient(conn), nil
}

// cancelRemoteFragments implements spec.md §4.3's CancelRemoteFragments:
// best-effort, every initiated-and-not-done instance gets at most one
// CancelPlanFragment RPC, regardless of whether other instances' cancels
// fail. Null slots from a partially populated Exec are skipped cleanly
// (spec.md §5 "Partial-Exec failure").
//
// The caller (CancelInternal) holds c.mu for this call's entirety
// (spec.md §4.1's CancelInternal "assumes global lock held"); we must not
// attempt to re-acquire it here. sync.Cond.Broadcast does not itself
// require the lock to be held by the broadcaster, only Wait does, so this
// is safe while mu remains locked by the caller.
func (c *Coordinator) cancelRemoteFragments(ctx context.Context) {
	states := c.backendExecStates

	dispatchParallelBestEffort(ctx, states, c.config.RPCDispatchConcurrency, func(ctx context.Context, state *BackendExecState) {
		if state == nil {
			return
		}
		c.cancelOneRemoteFragment(ctx, state)
	})

	c.backendCompletionCV.Broadcast()
}

func (c *Coordinator) cancelOneRemoteFragment(ctx context.Context, state *BackendExecState) {
	state.mu.Lock()
	if state.status != nil || !state.initiated || state.done {
		state.mu.Unlock()
		return
	}
	// Set status eagerly so a concurrent cancel sweep (idempotent Cancel
	// calls) never issues a second CancelPlanFragment for this instance
	// (spec.md §4.3, invariant 2).
	state.status = statuspb.NewError(statuspb.Cancelled, "query cancelled")
	params := &execrpc.CancelParams{
		ProtocolVersion:    execrpc.ProtocolVersion,
		FragmentInstanceID: state.FragmentInstanceID,
	}
	state.mu.Unlock()

	worker, err := c.dialWorker(ctx, state.BackendAddr)
	if err != nil {
		state.mu.Lock()
		state.appendErrorLogLocked(err.Error())
		state.mu.Unlock()
		return
	}
	resp, err := worker.CancelPlanFragment(ctx, params)
	if err != nil && isStaleConnErr(err) {
		c.conns.InvalidateConnection(state.BackendAddr)
		worker, err = c.dialWorker(ctx, state.BackendAddr)
		if err == nil {
			resp, err = worker.CancelPlanFragment(ctx, params)
		}
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	if err != nil {
		// RPC errors are appended, not treated as the new sticky status
		// (spec.md §4.3: "do not abort the loop - best-effort").
		state.appendErrorLogLocked(cockerrors.Wrap(err, "cancel rpc failed").Error())
		return
	}
	if !resp.Status.Ok() {
		state.appendErrorLogLocked(resp.Status.Message)
	}
}
