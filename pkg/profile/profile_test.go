package profile

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCounterAddAndSetTo(t *testing.T) {
	c := &Counter{}
	c.Add(3)
	c.Add(4)
	require.Equal(t, int64(7), c.Value())
	c.SetTo(10)
	require.Equal(t, int64(10), c.Value())
}

func TestProfileCounterCreatesOnFirstUse(t *testing.T) {
	p := New("instance")
	_, ok := p.LookupCounter("rows")
	require.False(t, ok)

	p.Counter("rows").Add(5)
	c, ok := p.LookupCounter("rows")
	require.True(t, ok)
	require.Equal(t, int64(5), c.Value())
}

func TestAddChildIsIdempotent(t *testing.T) {
	root := New("root")
	child := New("scan")
	root.AddChild(child)
	root.AddChild(child)
	require.Len(t, root.Children(), 1)
}

func TestApplyReplacesCounters(t *testing.T) {
	dst := New("cumulative")
	dst.Counter("rows").SetTo(1)

	src := New("report")
	src.Counter("rows").SetTo(42)
	src.Counter("bytes").SetTo(99)

	dst.Apply(src)
	require.Equal(t, int64(42), dst.Counter("rows").Value())
	require.Equal(t, int64(99), dst.Counter("bytes").Value())
}

func TestApplyTreeAdoptsNewChildrenAndKeepsTheirCounterIdentity(t *testing.T) {
	dst := New("instance")
	nodeID := 3

	report1 := New("instance")
	scan1 := New("scan")
	scan1.NodeID = &nodeID
	scan1.IsScanNode = true
	scan1.Counter(CounterScanRangesComplete).SetTo(3)
	report1.AddChild(scan1)

	dst.ApplyTree(report1)
	agg := FindScanNodeCounters(dst)
	memoized := agg.ScanNodes[nodeID].ScanRangesComplete
	require.Equal(t, int64(3), memoized.Value())

	report2 := New("instance")
	scan2 := New("scan")
	scan2.NodeID = &nodeID
	scan2.IsScanNode = true
	scan2.Counter(CounterScanRangesComplete).SetTo(7)
	report2.AddChild(scan2)

	dst.ApplyTree(report2)
	require.Equal(t, int64(7), memoized.Value())
}

func TestJSONRoundTripPreservesCountersTimersAndChildren(t *testing.T) {
	nodeID := 9
	root := New("instance")
	root.SetTimer("TotalTime", 5*time.Second)
	scan := New("scan")
	scan.NodeID = &nodeID
	scan.IsScanNode = true
	scan.Counter(CounterScanRangesComplete).SetTo(11)
	scan.Counter(CounterTotalThroughput).SetTo(2048)
	root.AddChild(scan)

	data, err := json.Marshal(root)
	require.NoError(t, err)

	var decoded Profile
	require.NoError(t, json.Unmarshal(data, &decoded))

	require.Equal(t, "instance", decoded.Name)
	require.Equal(t, 5*time.Second, decoded.Timer("TotalTime"))
	children := decoded.Children()
	require.Len(t, children, 1)
	require.True(t, children[0].IsScanNode)
	require.Equal(t, nodeID, *children[0].NodeID)
	require.Equal(t, int64(11), children[0].Counter(CounterScanRangesComplete).Value())
	require.Equal(t, int64(2048), children[0].Counter(CounterTotalThroughput).Value())
}

func TestAverageSingleInstanceEqualsValue(t *testing.T) {
	inst := New("instance")
	inst.Counter("rows").SetTo(123)

	avg := Average([]*Profile{inst})
	require.Equal(t, int64(123), avg.Counter("rows").Value())
}

func TestAverageMultipleInstances(t *testing.T) {
	a := New("a")
	a.Counter("rows").SetTo(10)
	b := New("b")
	b.Counter("rows").SetTo(30)

	avg := Average([]*Profile{a, b})
	require.Equal(t, int64(20), avg.Counter("rows").Value())
}

func TestSortChildrenOrdersByNameRecursively(t *testing.T) {
	root := New("root")
	z := New("z-node")
	a := New("a-node")
	root.AddChild(z)
	root.AddChild(a)

	grandchild1 := New("gc-b")
	grandchild2 := New("gc-a")
	z.AddChild(grandchild1)
	z.AddChild(grandchild2)

	root.SortChildren()
	children := root.Children()
	require.Len(t, children, 2)
	require.Equal(t, "a-node", children[0].Name)
	require.Equal(t, "z-node", children[1].Name)

	grandchildren := children[1].Children()
	require.Equal(t, "gc-a", grandchildren[0].Name)
	require.Equal(t, "gc-b", grandchildren[1].Name)
}

func TestFindScanNodeCountersMemoizesByNodeID(t *testing.T) {
	root := New("fragment")
	nodeID := 7
	scan := New("scan")
	scan.NodeID = &nodeID
	scan.IsScanNode = true
	scan.Counter(CounterTotalThroughput).SetTo(1024)
	scan.Counter(CounterScanRangesComplete).SetTo(3)
	root.AddChild(scan)

	agg := FindScanNodeCounters(root)
	snc, ok := agg.ScanNodes[nodeID]
	require.True(t, ok)
	require.Equal(t, int64(1024), snc.Throughput.Value())
	require.Equal(t, int64(3), snc.ScanRangesComplete.Value())
}
