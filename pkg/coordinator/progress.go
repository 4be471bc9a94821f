package coordinator

import (
	"sync/atomic"

	"github.com/google/btree"

	"github.com/SofiaNunes/distcoord/internal/syncutil"
	"github.com/SofiaNunes/distcoord/pkg/profile"
)

// progressTracker reports query-wide scan progress: a target total scan
// range count (known up front from the schedule) and a running completed
// count, advanced only by non-negative per-instance deltas (spec.md §4.1
// step 8, §4.4 step 2, invariant 4).
type progressTracker struct {
	total     int64
	completed int64 // atomic
}

func newProgressTracker(total int) *progressTracker {
	return &progressTracker{total: int64(total)}
}

// addCompleted advances the running total by delta, which must be >= 0;
// negative deltas are rejected rather than silently clamped, since a
// negative delta here means the aggregator computed one incorrectly
// upstream (invariant 4 is meant to be caught, not hidden).
func (p *progressTracker) addCompleted(delta int64) {
	if delta < 0 {
		panic("coordinator: progress delta must be non-negative")
	}
	if delta == 0 {
		return
	}
	atomic.AddInt64(&p.completed, delta)
}

func (p *progressTracker) snapshot() (completed, total int64) {
	return atomic.LoadInt64(&p.completed), p.total
}

// nodeKey identifies one exec node within one fragment, the granularity at
// which per-plan-node throughput/scan-ranges-complete counters are
// indexed (spec.md §4.4 "Derived per-query counters").
type nodeKey struct {
	FragmentIdx int
	NodeID      int
}

func lessNodeKey(a, b nodeKey) bool {
	if a.FragmentIdx != b.FragmentIdx {
		return a.FragmentIdx < b.FragmentIdx
	}
	return a.NodeID < b.NodeID
}

// nodeCounterIndex is a btree.BTreeG index from (fragment, node) to the
// set of BackendExecStates that host that node, so DerivedCounters can
// walk nodes in (fragment, node id) order instead of re-walking every
// instance's profile tree on every read (SPEC_FULL §3).
type nodeCounterIndex struct {
	mu   syncutil.Mutex
	tree *btree.BTreeG[nodeIndexEntry]
}

type nodeIndexEntry struct {
	key     nodeKey
	states  []*BackendExecState
}

func (e nodeIndexEntry) Less(other nodeIndexEntry) bool { return lessNodeKey(e.key, other.key) }

func newNodeCounterIndex() *nodeCounterIndex {
	return &nodeCounterIndex{
		tree: btree.NewG(32, nodeIndexEntry.Less),
	}
}

// register records that state hosts the given node, called once per node
// the first time a BackendExecState's aggregate counters are memoized
// (profile_created transitioning false -> true, spec.md §4.4 step 2).
func (idx *nodeCounterIndex) register(fragmentIdx, nodeID int, state *BackendExecState) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	key := nodeKey{FragmentIdx: fragmentIdx, NodeID: nodeID}
	entry, found := idx.tree.Get(nodeIndexEntry{key: key})
	if !found {
		entry = nodeIndexEntry{key: key}
	}
	entry.states = append(entry.states, state)
	idx.tree.ReplaceOrInsert(entry)
}

// DerivedCounterTotals is the on-demand-computed total for one plan node
// across every instance that hosts it (spec.md §4.4 "Derived per-query
// counters").
type DerivedCounterTotals struct {
	FragmentIdx        int
	NodeID             int
	TotalThroughput    int64
	ScanRangesComplete int64
}

// DerivedCounters sums every registered node's counters across all
// instances, in (fragmentIdx, nodeID) order. It takes each
// BackendExecState's lock only long enough to snapshot the counter
// pointer, never while reading the counter's value, per spec.md §5's rule
// that no Coordinator lock may be held across a counter value read.
func (idx *nodeCounterIndex) DerivedCounters() []DerivedCounterTotals {
	idx.mu.Lock()
	entries := make([]nodeIndexEntry, 0, idx.tree.Len())
	idx.tree.Ascend(func(e nodeIndexEntry) bool {
		states := make([]*BackendExecState, len(e.states))
		copy(states, e.states)
		entries = append(entries, nodeIndexEntry{key: e.key, states: states})
		return true
	})
	idx.mu.Unlock()

	out := make([]DerivedCounterTotals, 0, len(entries))
	for _, e := range entries {
		totals := DerivedCounterTotals{FragmentIdx: e.key.FragmentIdx, NodeID: e.key.NodeID}
		var counters []*profile.ScanNodeCounters
		for _, state := range e.states {
			state.mu.Lock()
			if state.aggregateCounters != nil {
				if snc, ok := state.aggregateCounters.ScanNodes[e.key.NodeID]; ok {
					counters = append(counters, snc)
				}
			}
			state.mu.Unlock()
		}
		for _, snc := range counters {
			if snc.Throughput != nil {
				totals.TotalThroughput += snc.Throughput.Value()
			}
			if snc.ScanRangesComplete != nil {
				totals.ScanRangesComplete += snc.ScanRangesComplete.Value()
			}
		}
		out = append(out, totals)
	}
	return out
}
