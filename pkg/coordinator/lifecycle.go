package coordinator

import (
	"context"

	"github.com/SofiaNunes/distcoord/pkg/execrpc"
	"github.com/SofiaNunes/distcoord/pkg/schedule"
	"github.com/SofiaNunes/distcoord/pkg/statuspb"
)

// GetStatus returns the current sticky query status (OK == nil).
func (c *Coordinator) GetStatus() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queryStatus
}

// UpdateStatus implements spec.md §4.1's UpdateStatus: merges an incoming
// status into query_status, honoring first-error-wins and the
// benign-tail rule. instanceID identifies the reporting instance and is
// accepted for parity with the RPC signature in spec.md §6, though the
// merge itself does not need it.
func (c *Coordinator) UpdateStatus(ctx context.Context, status error, instanceID *execrpc.FragmentInstanceID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updateStatusLocked(ctx, status)
}

func (c *Coordinator) updateStatusLocked(ctx context.Context, status error) error {
	if status == nil {
		return nil
	}
	if c.returnedAllResults && statuspb.IsCancelled(status) {
		// Benign tail: once all results have been returned, a straggler's
		// CANCELLED status is not news (spec.md §4.1 UpdateStatus,
		// invariant 7).
		return nil
	}
	if c.queryStatus != nil {
		// First error wins; later errors are recorded per-instance only.
		return nil
	}
	c.queryStatus = status
	c.cancelInternalLocked(ctx)
	return nil
}

// Cancel implements spec.md §4.1's Cancel: if query_status is already
// non-OK this is a no-op (idempotence, invariant 2); otherwise it sets
// query_status to cause (or CANCELLED) and runs CancelInternal.
func (c *Coordinator) Cancel(ctx context.Context, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queryStatus != nil {
		return
	}
	if cause == nil {
		cause = statuspb.NewError(statuspb.Cancelled, "cancelled")
	}
	c.queryStatus = cause
	c.cancelInternalLocked(ctx)
}

// cancelInternalLocked implements spec.md §4.1's CancelInternal. Callers
// must hold c.mu and must have already set c.queryStatus to a non-OK
// value.
func (c *Coordinator) cancelInternalLocked(ctx context.Context) {
	if c.executor != nil {
		c.executor.Cancel()
		c.releaseReservation()
	}
	c.cancelRemoteFragments(ctx)
	c.reportQuerySummaryLocked(ctx)
}

// Wait implements spec.md §4.1's Wait. It is idempotent: a second call
// returns the first call's result immediately. It holds waitLock, a
// separate coarser lock than the global lock, so concurrent waiters are
// serialized without blocking Cancel/UpdateStatus (spec.md §5).
func (c *Coordinator) Wait(ctx context.Context) error {
	c.waitLock.Lock()
	defer c.waitLock.Unlock()

	c.waitOnce.Do(func() {
		c.waitErr = c.waitLocked(ctx)
	})
	return c.waitErr
}

func (c *Coordinator) waitLocked(ctx context.Context) error {
	c.mu.Lock()
	c.hasCalledWait = true
	c.mu.Unlock()

	if c.executor != nil {
		if err := c.executor.Open(ctx); err != nil {
			c.mu.Lock()
			c.updateStatusLocked(ctx, statuspb.WrapError(statuspb.Internal, err))
			c.mu.Unlock()
		} else if err := c.snapshotLocalDML(); err != nil {
			return err
		}
	} else {
		c.waitForAllBackends(ctx)
	}

	if c.requiresFinalize {
		if err := c.runFinalize(ctx); err != nil {
			return err
		}
	}

	c.mu.Lock()
	status := c.queryStatus
	stmtType := c.stmtType
	c.mu.Unlock()

	if stmtType == schedule.StmtDML {
		c.reportQuerySummaryWithInsertStats(ctx)
	}

	return status
}

// snapshotLocalDML copies the local executor's DML state into the global
// accumulator once Open has returned successfully, enforcing the
// precondition that no remote backend may have already contributed DML
// output when a coordinator fragment is present (spec.md §4.1 Wait).
func (c *Coordinator) snapshotLocalDML() error {
	dml := c.executor.DMLState()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dml.isEmpty() {
		return statuspb.NewError(statuspb.Internal,
			"local executor present but DML accumulators already populated from a remote backend")
	}
	c.dml.partitionRowCounts = dml.PartitionRowCounts
	c.dml.filesToMove = dml.FilesToMove
	c.dml.partitionInsertStats = dml.PartitionInsertStats
	return nil
}

// runFinalize runs FinalizeQuery; a finalize error becomes (or stays,
// first-error-wins) the sticky query status.
func (c *Coordinator) runFinalize(ctx context.Context) error {
	c.mu.Lock()
	dml := c.snapshotDMLLocked()
	params := c.finalizeParams
	queryID := c.queryID
	c.mu.Unlock()

	if err := c.finalizer.Finalize(ctx, queryID, params, dml); err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.queryStatus == nil {
			c.queryStatus = err
		}
		return c.queryStatus
	}
	return nil
}

// waitForAllBackends blocks until every remote backend is done or
// query_status has become non-OK (spec.md §4.1 Wait, §4.4 step 5).
func (c *Coordinator) waitForAllBackends(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.numRemainingBackends > 0 && c.queryStatus == nil {
		c.backendCompletionCV.Wait()
	}
}

// GetNext implements spec.md §4.1's GetNext. It does not acquire the
// global lock across the executor call so it never blocks an async
// Cancel; when no local executor exists it returns immediately with a nil
// batch and the current status.
func (c *Coordinator) GetNext(ctx context.Context) (*RowBatch, error) {
	if c.executor == nil {
		return nil, c.GetStatus()
	}

	batch, err := c.executor.GetNext(ctx)
	if err != nil {
		c.mu.Lock()
		c.updateStatusLocked(ctx, statuspb.WrapError(statuspb.Internal, err))
		status := c.queryStatus
		c.mu.Unlock()
		return nil, status
	}

	if batch == nil {
		c.mu.Lock()
		c.returnedAllResults = true
		c.mu.Unlock()

		if c.executor.ReachedLimit() {
			c.cancelOnLimitReached(ctx)
		}

		// Wait for all remote backends before returning NULL — post-query
		// finalization may depend on their reports (spec.md §4.1 GetNext).
		c.waitForAllBackends(ctx)
		c.reportQuerySummaryWithInsertStats(ctx)
		return nil, nil
	}

	if batch.ReachedLimit {
		c.mu.Lock()
		c.returnedAllResults = true
		c.mu.Unlock()
		c.cancelOnLimitReached(ctx)
	}

	return batch, nil
}

// cancelOnLimitReached implements the "proactively CancelRemoteFragments
// and cancel local receive-streams" branch of GetNext (spec.md §4.1): the
// exchange node is done reading, so remaining remote work is wasted.
func (c *Coordinator) cancelOnLimitReached(ctx context.Context) {
	c.mu.Lock()
	if c.queryStatus == nil {
		c.queryStatus = statuspb.NewError(statuspb.Cancelled, "result limit reached")
	}
	c.cancelRemoteFragments(ctx)
	c.mu.Unlock()
	c.releaseReservation()
	c.executor.CancelReceiveStreams()
}
