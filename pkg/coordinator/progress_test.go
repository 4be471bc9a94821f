package coordinator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/SofiaNunes/distcoord/pkg/execrpc"
	"github.com/SofiaNunes/distcoord/pkg/profile"
)

func TestProgressTrackerAddCompletedMonotonic(t *testing.T) {
	p := newProgressTracker(100)
	p.addCompleted(10)
	p.addCompleted(5)
	completed, total := p.snapshot()
	require.Equal(t, int64(15), completed)
	require.Equal(t, int64(100), total)
}

func TestProgressTrackerRejectsNegativeDelta(t *testing.T) {
	p := newProgressTracker(10)
	require.Panics(t, func() { p.addCompleted(-1) })
}

func newTestState(t *testing.T, fragmentIdx, backendNum, nodeID int) *BackendExecState {
	t.Helper()
	state := NewBackendExecState(
		execrpc.NewFragmentInstanceID(), "worker:1234", fragmentIdx, backendNum,
		&execrpc.RPCParams{}, 0,
	)
	state.profileCreated = true
	state.aggregateCounters = &profile.AggregateCounters{
		ScanNodes: map[int]*profile.ScanNodeCounters{
			nodeID: {
				Throughput:         &profile.Counter{},
				ScanRangesComplete: &profile.Counter{},
			},
		},
	}
	state.aggregateCounters.ScanNodes[nodeID].Throughput.SetTo(500)
	state.aggregateCounters.ScanNodes[nodeID].ScanRangesComplete.SetTo(2)
	return state
}

func TestNodeCounterIndexDerivedCountersSumsAcrossInstances(t *testing.T) {
	idx := newNodeCounterIndex()

	s1 := newTestState(t, 0, 0, 7)
	s2 := newTestState(t, 0, 1, 7)
	idx.register(0, 7, s1)
	idx.register(0, 7, s2)

	totals := idx.DerivedCounters()
	require.Len(t, totals, 1)
	require.Equal(t, 0, totals[0].FragmentIdx)
	require.Equal(t, 7, totals[0].NodeID)
	require.Equal(t, int64(1000), totals[0].TotalThroughput)
	require.Equal(t, int64(4), totals[0].ScanRangesComplete)
}

func TestNodeCounterIndexOrdersByFragmentThenNode(t *testing.T) {
	idx := newNodeCounterIndex()
	idx.register(1, 0, newTestState(t, 1, 0, 0))
	idx.register(0, 5, newTestState(t, 0, 0, 5))
	idx.register(0, 1, newTestState(t, 0, 0, 1))

	totals := idx.DerivedCounters()
	require.Len(t, totals, 3)
	require.Equal(t, nodeKey{FragmentIdx: 0, NodeID: 1}, nodeKey{totals[0].FragmentIdx, totals[0].NodeID})
	require.Equal(t, nodeKey{FragmentIdx: 0, NodeID: 5}, nodeKey{totals[1].FragmentIdx, totals[1].NodeID})
	require.Equal(t, nodeKey{FragmentIdx: 1, NodeID: 0}, nodeKey{totals[2].FragmentIdx, totals[2].NodeID})
}
