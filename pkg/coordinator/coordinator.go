// Package coordinator implements the per-query control-plane component of
// a distributed MPP SQL query executor (spec.md §1): it dispatches plan
// fragments to worker nodes, optionally runs the root fragment itself,
// aggregates status/progress from workers, streams result rows to the
// client, handles cancellation and partial failures, and finalizes DML
// output against a distributed filesystem.
//
// Grounded on cockroachdb/cockroach's pkg/sql distributed query execution
// machinery (DistSQLPlanner.Run/setupFlows, flowinfra.FlowScheduler,
// DistSQLReceiver) — the Coordinator here is the generalization of that
// Exec/Wait/GetNext/Cancel lifecycle to an explicit, independently
// testable per-query state machine.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/SofiaNunes/distcoord/internal/syncutil"
	"github.com/SofiaNunes/distcoord/pkg/bulkfs"
	"github.com/SofiaNunes/distcoord/pkg/clientcache"
	"github.com/SofiaNunes/distcoord/pkg/execrpc"
	"github.com/SofiaNunes/distcoord/pkg/schedule"
	"github.com/SofiaNunes/distcoord/pkg/statuspb"
)

// Config holds the Coordinator's tuning knobs (SPEC_FULL §2.3), grounded
// on the teacher's settingDistSQLNumRunners / settingMaxRunningFlows
// cluster-setting pattern, expressed here as plain fields since this
// module has no cluster-settings registry of its own.
type Config struct {
	// RPCDispatchConcurrency bounds how many ExecPlanFragment/
	// CancelPlanFragment RPCs the Parallel Dispatcher runs at once. 0
	// means unbounded.
	RPCDispatchConcurrency int
	// RPCTimeout is a per-RPC timeout setting. The Coordinator does not
	// apply it: ExecPlanFragment/CancelPlanFragment attempts, including
	// the one open-once-retry (spec.md §4.3), run under the ctx passed to
	// Exec/Cancel. cmd/coordinatorctl uses it to size its overall deadline.
	RPCTimeout time.Duration
	// CoordinatorHost/CoordinatorPort is this Coordinator's own address,
	// stamped into every outbound RPCParams so a worker knows where to
	// send its UpdateFragmentExecStatus reports back to (spec.md §6).
	CoordinatorHost string
	CoordinatorPort int
}

// DefaultConfig returns the Coordinator's default tuning.
func DefaultConfig() Config {
	return Config{
		RPCDispatchConcurrency: 64,
		RPCTimeout:             30 * time.Second,
	}
}

// Coordinator is the per-query control-plane object described by spec.md
// §3. One Coordinator is constructed per query and destroyed once the
// client is done with it; it exclusively owns every BackendExecState and
// (if present) the local fragment executor.
type Coordinator struct {
	queryID      execrpc.QueryID
	descTbl      []byte
	queryCtxt    []byte
	stmtType     schedule.StmtType
	debugOptions []DebugOptions

	config Config
	conns  clientcache.ConnCache
	finalizer *Finalizer
	log    zerolog.Logger

	// executor is non-nil iff fragment 0 is unpartitioned (spec.md §4.1
	// step 2). It is exclusively owned by the Coordinator.
	executor LocalFragmentExecutor

	// backendExecStates is indexed by backend_num. Exec allocates every
	// entry before dispatching any RPC, so a failed fan-out leaves
	// uninitiated entries rather than nil ones; readers still skip nil
	// entries (spec.md §5 "Partial-Exec failure").
	backendExecStates []*BackendExecState

	fragmentProfiles []*PerFragmentProfileData // index = fragment_idx
	nodeIndex        *nodeCounterIndex
	progress         *progressTracker

	requiresFinalize bool
	finalizeParams   schedule.FinalizeParams

	// waitLock is the coarsest lock in the hierarchy (spec.md §5): it
	// only serializes concurrent Wait callers, never blocking
	// Cancel/UpdateStatus.
	waitLock syncutil.Mutex
	waitOnce sync.Once
	waitErr  error

	// mu is the global coordinator lock (spec.md §5, level 2): it must be
	// acquired before any BackendExecState lock, never the reverse.
	mu                 syncutil.Mutex
	queryStatus        error // sticky: OK (nil) until first fatal error or cancel
	hasCalledWait      bool
	returnedAllResults bool
	numRemainingBackends int
	dml                *dmlAccumulators
	catalogUpdatePending bool

	backendCompletionCV *sync.Cond
}

// New constructs a Coordinator for one query. It does not start any
// execution; call Exec to do that.
func New(
	queryID execrpc.QueryID,
	conns clientcache.ConnCache,
	fsDriver bulkfs.Driver,
	config Config,
	log zerolog.Logger,
) *Coordinator {
	c := &Coordinator{
		queryID: queryID,
		config:  config,
		conns:   conns,
		log:     log.With().Str("query_id", queryID.String()).Logger(),
		dml:     newDMLAccumulators(),
	}
	c.finalizer = NewFinalizer(fsDriver, c.log)
	c.backendCompletionCV = sync.NewCond(&c.mu)
	return c
}

// SetExecutor wires in the local fragment executor for the coordinator
// fragment. Call this before Exec when the schedule's fragment 0 is
// unpartitioned (Exec fails without it); production wiring would
// construct the executor from the schedule itself, which is out of scope
// here (the executor's internals are out of scope per spec.md §1).
func (c *Coordinator) SetExecutor(executor LocalFragmentExecutor) {
	c.executor = executor
}

// QueryID returns the query identifier this Coordinator was constructed
// with.
func (c *Coordinator) QueryID() execrpc.QueryID { return c.queryID }

// Exec implements spec.md §4.1's Exec: it records query metadata, builds
// the coordinator fragment (if any), allocates BackendExecStates, and
// dispatches every remote instance's ExecPlanFragment RPC. Exec holds the
// global lock for its entirety so a concurrent Cancel cannot race
// partially populated state (spec.md §4.1).
func (c *Coordinator) Exec(ctx context.Context, sched schedule.QuerySchedule) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Step 1: record query metadata; build an empty query profile.
	c.descTbl = sched.DescriptorTable
	c.queryCtxt = sched.QueryContext
	c.stmtType = sched.StmtType
	c.requiresFinalize = sched.RequiresFinalize
	c.finalizeParams = sched.Finalize
	c.nodeIndex = newNodeCounterIndex()
	c.fragmentProfiles = make([]*PerFragmentProfileData, len(sched.Fragments))
	for i := range sched.Fragments {
		c.fragmentProfiles[i] = newPerFragmentProfileData(i)
	}

	// Step 4 (parsed ahead of allocation so step 5 can consult it):
	// CLOSE:WAIT is always rejected outright (spec.md §4.1 step 4,
	// scenario S6).
	if RejectsExec(sched.DebugOptionsSpec) {
		return statuspb.NewError(statuspb.User,
			"debug directive %q rejected: CLOSE:WAIT cannot target a worker", sched.DebugOptionsSpec)
	}
	if sched.DebugOptionsSpec != "" {
		c.debugOptions = []DebugOptions{ParseDebugOptions(sched.DebugOptionsSpec)}
	}

	hasCoordFragment := len(sched.Fragments) > 0 && sched.Fragments[0].Unpartitioned

	// Step 2: if fragment 0 is unpartitioned, prepare the local executor
	// first. Receivers (parents) must start before senders (children);
	// preparing the coordinator fragment before any remote RPC is issued
	// is what guarantees its exchange node registers with the stream
	// manager first (spec.md §5 ordering guarantee, invariant 6).
	if hasCoordFragment {
		if c.executor == nil {
			return statuspb.NewError(statuspb.Internal, "coordinator fragment present but no local executor wired")
		}
		params := &execrpc.RPCParams{
			ProtocolVersion: execrpc.ProtocolVersion,
			QueryID:         c.queryID,
			Fragment:        sched.Fragments[0].Fragment,
			DescriptorTable: c.descTbl,
			BackendNum:      -1, // the coordinator fragment has no backend_num
			FragmentIdx:     0,
			QueryContext:    c.queryCtxt,
			Reservation:     sched.Reservation,
		}
		if err := c.executor.Prepare(ctx, params); err != nil {
			c.queryStatus = statuspb.WrapError(statuspb.Internal, err)
			c.cancelInternalLocked(ctx)
			return c.queryStatus
		}
		// Step 3: the coordinator fragment's averaged profile IS the
		// local executor profile — single instance, average equals value.
		c.fragmentProfiles[0].Averaged = c.executor.Profile()
		c.fragmentProfiles[0].Root.AddChild(c.executor.Profile())
	}

	// Step 5: allocate BackendExecState records for every remote
	// instance, left-to-right by fragment index then instance index,
	// backend_num assigned densely (spec.md §3, §4.1 step 5).
	backendNum := 0
	var states []*BackendExecState
	for fi, frag := range sched.Fragments {
		if fi == 0 && hasCoordFragment {
			continue
		}
		for _, inst := range frag.Instances {
			params := &execrpc.RPCParams{
				ProtocolVersion:     execrpc.ProtocolVersion,
				QueryID:             c.queryID,
				Fragment:            frag.Fragment,
				DescriptorTable:     c.descTbl,
				FragmentInstanceID:  inst.FragmentInstanceID,
				BackendNum:          backendNum,
				FragmentIdx:         fi,
				ScanRangeAssignment: inst.ScanRangeAssignment,
				SenderDestinations:  inst.SenderDestinations,
				ExchangeSenderCount: inst.ExchangeSenderCount,
				CoordinatorHost:     c.config.CoordinatorHost,
				CoordinatorPort:     c.config.CoordinatorPort,
				QueryContext:        c.queryCtxt,
				Reservation:         sched.Reservation,
			}
			if opts := c.debugOptionsFor(backendNum); !opts.Invalid() {
				params.DebugDirective = opts.Directive()
			}
			state := NewBackendExecState(
				inst.FragmentInstanceID,
				fmt.Sprintf("%s:%d", inst.Host, inst.Port),
				fi, backendNum, params, inst.TotalSplitSize(),
			)
			states = append(states, state)
			c.fragmentProfiles[fi].addInstance(state)
			backendNum++
		}
	}
	c.backendExecStates = states
	c.numRemainingBackends = len(states)

	// Step 6: dispatch every remote instance's ExecPlanFragment RPC in
	// parallel. The first RPC error sets query_status, triggers
	// CancelInternal, and is returned.
	if len(states) > 0 {
		err := dispatchParallel(ctx, states, c.config.RPCDispatchConcurrency, func(ctx context.Context, s *BackendExecState) error {
			return c.execRemoteFragment(ctx, s)
		})
		if err != nil {
			c.queryStatus = err
			c.cancelInternalLocked(ctx)
			return err
		}
	}

	// Step 7: release one scheduler thread token when both a local and
	// remote fragments exist (the local root fragment is mostly idle).
	// The scheduler's thread pool is out of scope; this module exposes
	// the hook so an embedding scheduler can observe it.
	if hasCoordFragment && len(states) > 0 {
		c.log.Debug().Msg("releasing scheduler thread token for mostly-idle coordinator fragment")
	}

	// Step 8: initialize the progress tracker with the schedule's total
	// scan-range count.
	c.progress = newProgressTracker(sched.TotalScanRanges)

	return nil
}

// debugOptionsFor returns the parsed DebugOptions applicable to the given
// backend_num, or the zero value (Invalid()==true) if none apply.
func (c *Coordinator) debugOptionsFor(backendNum int) DebugOptions {
	for _, o := range c.debugOptions {
		if !o.Invalid() && o.AppliesTo(backendNum) {
			return o
		}
	}
	return DebugOptions{BackendNum: -1, NodeID: -1, Phase: PhaseInvalid}
}
