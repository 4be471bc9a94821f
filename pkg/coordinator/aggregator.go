package coordinator

import (
	"context"
	"time"

	"github.com/SofiaNunes/distcoord/pkg/execrpc"
	"github.com/SofiaNunes/distcoord/pkg/profile"
	"github.com/SofiaNunes/distcoord/pkg/statuspb"
)

// UpdateFragmentExecStatus implements spec.md §4.4's per-report update
// path. It is the inbound RPC handler workers call periodically and once
// more on completion. Once a report is matched to a BackendExecState its
// own errors are never returned to the RPC caller (spec.md §4.4 step
// 4) — the StatusAck reply is always bare; an out-of-range backend_num
// never reaches a BackendExecState at all, and is the one case that
// returns a classified error, matching the original's Status(
// INTERNAL_ERROR, ...) for an unknown backend number (spec.md §4.4 step
// 1, §7; coordinator.cc:1007-1009).
func (c *Coordinator) UpdateFragmentExecStatus(ctx context.Context, report *execrpc.ExecStatusReport) (*execrpc.StatusAck, error) {
	c.mu.Lock()
	states := c.backendExecStates
	c.mu.Unlock()

	if report.BackendNum < 0 || report.BackendNum >= len(states) {
		return nil, statuspb.NewError(statuspb.Internal,
			"status report for out-of-range backend_num %d", report.BackendNum)
	}
	state := states[report.BackendNum]
	if state == nil {
		return &execrpc.StatusAck{}, nil
	}

	c.applyReportToState(ctx, state, report)
	return &execrpc.StatusAck{}, nil
}

// applyReportToState implements spec.md §4.4 steps 1-4 for a single
// report: sticky status merge, cumulative profile application and
// fragment-level re-averaging, counter memoization and progress delta,
// error-log append, and — if done — completion bookkeeping.
func (c *Coordinator) applyReportToState(ctx context.Context, state *BackendExecState, report *execrpc.ExecStatusReport) {
	state.mu.Lock()
	firstReport := state.firstReportAt.IsZero()
	if firstReport {
		state.firstReportAt = report.ReportedAt
	}
	wasAlreadyDone := state.done

	// Step 1: sticky status merge (per-instance, mirrors query_status'
	// first-error-wins but scoped to this BackendExecState).
	incoming := report.Status.ToError()
	changed := state.setStatusLocked(incoming)

	// Step 4: error log lines are appended regardless of whether this
	// report's status became the sticky one.
	state.appendErrorLogLocked(report.ErrorLog...)

	if state.done {
		state.mu.Unlock()
		return
	}

	// Step 2: apply the cumulative profile (full replace), memoize scan
	// counters the first time a profile shows up for this instance, and
	// fold the updated profile into the fragment's averaged/root profiles
	// — all gated on state.status being OK (spec.md §4.4 step 2's "if
	// state.status is OK, apply the cumulative profile"; coordinator.cc:
	// 1024-1039's `if (exec_state->status.ok()) { ... }`). A report that
	// arrives carrying (or whose status merge just produced) a failure
	// must not mutate the profile tree: CancelRemoteFragments may already
	// be walking it via SortChildren once every status is pinned to
	// CANCELLED, and mutating concurrently would race that walk.
	updateProfile := state.status == nil && report.CumulativeProfile != nil
	if updateProfile {
		state.profile.ApplyTree(report.CumulativeProfile)
		if !state.profileCreated {
			state.profileCreated = true
			state.aggregateCounters = profile.FindScanNodeCounters(state.profile)
			c.registerScanNodes(state)
		}
		c.applyProgressDeltaLocked(state)
	}

	state.done = report.Done
	if state.done {
		state.stopwatch.Stop()
	}
	fragmentIdx := state.FragmentIdx
	elapsed := state.stopwatch.Elapsed()
	var firstReportLatency time.Duration
	if firstReport {
		firstReportLatency = state.firstReportAt.Sub(state.rpcAcceptedAt)
	}
	state.mu.Unlock()

	if updateProfile {
		c.fragmentProfiles[fragmentIdx].updateAverageProfile(state)
	}

	if !wasAlreadyDone && state.done {
		c.fragmentProfiles[fragmentIdx].recordCompletion(elapsed, firstReportLatency)
	}

	// Step 3: DML accumulator merge happens once, under the global lock,
	// exactly when the instance transitions to done.
	if changed && statuspb.ClassifyError(incoming) != statuspb.OK {
		// Worker-reported failure: fold into query_status and trigger
		// cancellation the same way a local RPC error would (spec.md §4.4
		// step 4's "route through UpdateStatus").
		c.mu.Lock()
		c.updateStatusLocked(ctx, incoming)
		c.mu.Unlock()
	}

	if !wasAlreadyDone && report.Done {
		c.onBackendDone(ctx, state, report.InsertExecStatus)
	}
}

// registerScanNodes indexes every scan node this instance's memoized
// AggregateCounters found, so DerivedCounters can find it later (spec.md
// §4.4 step 2).
func (c *Coordinator) registerScanNodes(state *BackendExecState) {
	if state.aggregateCounters == nil {
		return
	}
	for nodeID := range state.aggregateCounters.ScanNodes {
		c.nodeIndex.register(state.FragmentIdx, nodeID, state)
	}
}

// applyProgressDeltaLocked computes each scan node's non-negative
// scan-ranges-complete delta against the instance's last-seen value and
// applies it to the global progress tracker (spec.md §4.4 step 2,
// invariant 4). Caller holds state.mu.
func (c *Coordinator) applyProgressDeltaLocked(state *BackendExecState) {
	if state.aggregateCounters == nil {
		return
	}
	for nodeID, snc := range state.aggregateCounters.ScanNodes {
		if snc.ScanRangesComplete == nil {
			continue
		}
		current := snc.ScanRangesComplete.Value()
		last := state.totalRangesComplete[nodeID]
		if current <= last {
			continue
		}
		delta := current - last
		state.totalRangesComplete[nodeID] = current
		if c.progress != nil {
			c.progress.addCompleted(delta)
		}
	}
}

// onBackendDone implements the completion half of spec.md §4.4 step 5:
// merge DML side effects, decrement numRemainingBackends, and signal any
// Wait callers once every backend has finished.
func (c *Coordinator) onBackendDone(ctx context.Context, state *BackendExecState, insert *execrpc.InsertExecStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if insert != nil {
		c.dml.merge(insert)
	}
	c.numRemainingBackends--
	if c.numRemainingBackends <= 0 {
		c.backendCompletionCV.Broadcast()
	}
}
