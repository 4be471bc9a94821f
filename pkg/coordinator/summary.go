package coordinator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/SofiaNunes/distcoord/pkg/execrpc"
	"github.com/SofiaNunes/distcoord/pkg/schedule"
)

// reportQuerySummaryLocked runs the query-summary bookkeeping that must
// happen exactly once execution has settled: sorting every fragment's
// profile children by name so later readers of Root/Averaged see them in
// a deterministic order, and
// flagging that a catalog update descriptor is ready to be built
// (SPEC_FULL §4 items 2-3). Callers must already hold c.mu, and must only
// call this once WaitForAllBackends has returned or from within
// CancelRemoteFragments — see the profile-tree mutation race note this
// module decided to leave as a documented trade-off rather than close
// (spec.md §9 Open Questions).
func (c *Coordinator) reportQuerySummaryLocked(ctx context.Context) {
	for _, fp := range c.fragmentProfiles {
		fp.Root.SortChildren()
		fp.Averaged.SortChildren()
	}
	if c.stmtType == schedule.StmtDML {
		c.catalogUpdatePending = true
	}
}

// reportQuerySummaryWithInsertStats runs reportQuerySummaryLocked and then
// logs a DML-specific summary line including row counts, matching the
// teacher's practice of emitting a structured completion log line once a
// mutation statement finishes.
func (c *Coordinator) reportQuerySummaryWithInsertStats(ctx context.Context) {
	c.mu.Lock()
	c.reportQuerySummaryLocked(ctx)
	rowCounts := make(map[string]int64, len(c.dml.partitionRowCounts))
	for k, v := range c.dml.partitionRowCounts {
		rowCounts[k] = v
	}
	c.mu.Unlock()

	var total int64
	for _, v := range rowCounts {
		total += v
	}
	c.log.Info().Int64("rows_appended", total).Int("partitions", len(rowCounts)).Msg("dml query summary")
}

// snapshotDMLLocked returns a value copy of the global DML accumulator.
// Callers must hold c.mu; the copy lets Finalize run outside the lock
// without racing a (by then, impossible) concurrent merge.
func (c *Coordinator) snapshotDMLLocked() *dmlAccumulators {
	cp := newDMLAccumulators()
	for k, v := range c.dml.partitionRowCounts {
		cp.partitionRowCounts[k] = v
	}
	cp.filesToMove = append(cp.filesToMove, c.dml.filesToMove...)
	for k, v := range c.dml.partitionInsertStats {
		vv := *v
		cp.partitionInsertStats[k] = &vv
	}
	return cp
}

// GetErrorLog implements SPEC_FULL §4 item 1: the combined, deduplicated
// error log across every backend, ordered by backend_num, the shape a
// client-facing error surface renders.
func (c *Coordinator) GetErrorLog() []string {
	c.mu.Lock()
	states := make([]*BackendExecState, len(c.backendExecStates))
	copy(states, c.backendExecStates)
	c.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	for _, s := range states {
		if s == nil {
			continue
		}
		for _, line := range s.ErrorLog() {
			key := fmt.Sprintf("%d:%s", s.BackendNum, line)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, fmt.Sprintf("[%s] %s", s.BackendAddr, line))
		}
	}
	return out
}

// CatalogUpdate is the descriptor update a completed DDL/DML statement
// hands back to a catalog layer, per SPEC_FULL §4 item 2. The catalog
// layer itself — resolving descriptor versions, leasing — is out of
// scope; this is the handoff shape.
type CatalogUpdate struct {
	QueryID       execrpc.QueryID
	RowsAffected  int64
	PartitionKeys []string
}

// PrepareCatalogUpdate implements SPEC_FULL §4 item 2. It returns nil if
// no catalog update is pending (the common non-DDL/DML case) or if the
// query status is not OK.
func (c *Coordinator) PrepareCatalogUpdate() *CatalogUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.catalogUpdatePending || c.queryStatus != nil {
		return nil
	}
	var total int64
	keys := make([]string, 0, len(c.dml.partitionRowCounts))
	for k, v := range c.dml.partitionRowCounts {
		total += v
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &CatalogUpdate{QueryID: c.queryID, RowsAffected: total, PartitionKeys: keys}
}

// QuerySummary renders a human-readable completion summary, in the style
// of the teacher's EXPLAIN ANALYZE profile dump: one line per fragment
// with instance count and byte-assigned/completion-time summaries,
// SPEC_FULL §4 item 3.
func (c *Coordinator) QuerySummary() string {
	c.mu.Lock()
	status := c.queryStatus
	fragmentProfiles := c.fragmentProfiles
	c.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Query %s: ", c.queryID.String())
	if status == nil {
		b.WriteString("OK\n")
	} else {
		fmt.Fprintf(&b, "FAILED: %s\n", status.Error())
	}
	for _, fp := range fragmentProfiles {
		minB, maxB, meanB := fp.ByteAssignedSummary()
		minT, maxT, meanT := fp.CompletionTimeSummary()
		fmt.Fprintf(&b, "  Fragment %d: %d instances, bytes assigned min=%d max=%d mean=%d, "+
			"completion time min=%s max=%s mean=%s\n",
			fp.FragmentIdx, fp.InstanceCount(), minB, maxB, meanB, minT, maxT, meanT)
	}
	return b.String()
}

// releaseReservation is the resource-reservation release hook, SPEC_FULL
// §4 item 4. Actually releasing a reservation means calling back into a
// resource broker, which is out of scope here; this module only
// guarantees the hook fires at the right points (CancelInternal when a
// local executor exists, and the limit-reached path of GetNext). It touches no Coordinator-locked
// state, so — unlike its neighbors — it carries no …Locked suffix and
// may be called with or without c.mu held.
func (c *Coordinator) releaseReservation() {
	c.log.Debug().Msg("releasing resource reservation")
}
