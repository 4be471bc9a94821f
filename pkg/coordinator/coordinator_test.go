package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/SofiaNunes/distcoord/pkg/clientcache"
	"github.com/SofiaNunes/distcoord/pkg/execrpc"
	"github.com/SofiaNunes/distcoord/pkg/profile"
	"github.com/SofiaNunes/distcoord/pkg/schedule"
	"github.com/SofiaNunes/distcoord/pkg/statuspb"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	c := New(execrpc.NewQueryID(), nil, nil, DefaultConfig(), zerolog.Nop())
	c.nodeIndex = newNodeCounterIndex()
	return c
}

// withNoRemoteBackends puts c into the post-Exec state Exec would leave it
// in for a schedule with zero fragments: no coordinator fragment, no
// remote instances, progress tracker initialized.
func withNoRemoteBackends(c *Coordinator) {
	c.fragmentProfiles = nil
	c.backendExecStates = nil
	c.numRemainingBackends = 0
	c.progress = newProgressTracker(0)
}

func TestCancelIsIdempotent(t *testing.T) {
	c := newTestCoordinator(t)
	withNoRemoteBackends(c)

	cause := statuspb.NewError(statuspb.User, "client cancel")
	c.Cancel(context.Background(), cause)
	firstStatus := c.GetStatus()
	require.Error(t, firstStatus)

	c.Cancel(context.Background(), statuspb.NewError(statuspb.Internal, "should not win"))
	require.Equal(t, firstStatus, c.GetStatus())
}

func TestUpdateStatusFirstErrorWins(t *testing.T) {
	c := newTestCoordinator(t)
	withNoRemoteBackends(c)

	first := statuspb.NewError(statuspb.RPC, "first failure")
	second := statuspb.NewError(statuspb.FS, "second failure")

	require.NoError(t, c.UpdateStatus(context.Background(), first, nil))
	require.NoError(t, c.UpdateStatus(context.Background(), second, nil))
	require.Equal(t, first, c.GetStatus())
}

func TestUpdateStatusBenignTailIgnoresCancelledAfterAllResultsReturned(t *testing.T) {
	c := newTestCoordinator(t)
	withNoRemoteBackends(c)
	c.returnedAllResults = true

	err := c.UpdateStatus(context.Background(), statuspb.NewError(statuspb.Cancelled, "straggler"), nil)
	require.NoError(t, err)
	require.NoError(t, c.GetStatus())
}

func newRegisteredState(c *Coordinator, fragmentIdx, backendNum int) *BackendExecState {
	s := NewBackendExecState(execrpc.NewFragmentInstanceID(), "worker:1", fragmentIdx, backendNum, &execrpc.RPCParams{}, 0)
	s.initiated = true
	return s
}

func TestUpdateFragmentExecStatusMergesDMLOnCompletion(t *testing.T) {
	c := newTestCoordinator(t)
	s0 := newRegisteredState(c, 0, 0)
	s1 := newRegisteredState(c, 0, 1)
	c.backendExecStates = []*BackendExecState{s0, s1}
	c.fragmentProfiles = []*PerFragmentProfileData{newPerFragmentProfileData(0)}
	c.numRemainingBackends = 2
	c.progress = newProgressTracker(0)

	ack, err := c.UpdateFragmentExecStatus(context.Background(), &execrpc.ExecStatusReport{
		BackendNum: 0,
		Status:     statuspb.OKStatus,
		Done:       true,
		InsertExecStatus: &execrpc.InsertExecStatus{
			PartitionRowCounts: map[string]int64{"p1": 10},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, ack)

	c.mu.Lock()
	require.Equal(t, int64(10), c.dml.partitionRowCounts["p1"])
	require.Equal(t, 1, c.numRemainingBackends)
	c.mu.Unlock()
}

func TestUpdateFragmentExecStatusOutOfRangeBackendNumReturnsInternalError(t *testing.T) {
	c := newTestCoordinator(t)
	c.backendExecStates = nil

	ack, err := c.UpdateFragmentExecStatus(context.Background(), &execrpc.ExecStatusReport{BackendNum: 5})
	require.Error(t, err)
	require.Equal(t, statuspb.Internal, statuspb.ClassifyError(err))
	require.Nil(t, ack)
}

func TestUpdateFragmentExecStatusWorkerFailureSetsQueryStatus(t *testing.T) {
	c := newTestCoordinator(t)
	s0 := newRegisteredState(c, 0, 0)
	c.backendExecStates = []*BackendExecState{s0}
	c.fragmentProfiles = []*PerFragmentProfileData{newPerFragmentProfileData(0)}
	c.numRemainingBackends = 1
	c.progress = newProgressTracker(0)

	_, err := c.UpdateFragmentExecStatus(context.Background(), &execrpc.ExecStatusReport{
		BackendNum: 0,
		Status:     statuspb.ToStatus(statuspb.NewError(statuspb.Remote, "disk error")),
		Done:       true,
	})
	require.NoError(t, err)
	require.Error(t, c.GetStatus())
}

func TestUpdateFragmentExecStatusProgressDeltaIsNonNegative(t *testing.T) {
	c := newTestCoordinator(t)
	s0 := newRegisteredState(c, 0, 0)
	c.backendExecStates = []*BackendExecState{s0}
	c.fragmentProfiles = []*PerFragmentProfileData{newPerFragmentProfileData(0)}
	c.numRemainingBackends = 1
	c.progress = newProgressTracker(10)

	nodeID := 1
	mkReport := func(ranges int64) *execrpc.ExecStatusReport {
		p := profile.New("instance")
		scan := profile.New("scan")
		scan.NodeID = &nodeID
		scan.IsScanNode = true
		scan.Counter(profile.CounterScanRangesComplete).SetTo(ranges)
		p.AddChild(scan)
		return &execrpc.ExecStatusReport{
			BackendNum:        0,
			Status:            statuspb.OKStatus,
			CumulativeProfile: p,
		}
	}

	_, err := c.UpdateFragmentExecStatus(context.Background(), mkReport(3))
	require.NoError(t, err)
	completed, _ := c.progress.snapshot()
	require.Equal(t, int64(3), completed)

	_, err = c.UpdateFragmentExecStatus(context.Background(), mkReport(7))
	require.NoError(t, err)
	completed, _ = c.progress.snapshot()
	require.Equal(t, int64(7), completed)
}

// TestUpdateFragmentExecStatusAttachesInstanceProfileToFragmentRootAndAverages
// exercises spec.md §4.4 step 2's "update the fragment's averaged profile
// and attach the instance's profile as a child of the fragment's root
// profile (idempotent)" for a remote instance — before this, only the
// coordinator fragment's Root/Averaged were ever populated.
func TestUpdateFragmentExecStatusAttachesInstanceProfileToFragmentRootAndAverages(t *testing.T) {
	c := newTestCoordinator(t)
	s0 := newRegisteredState(c, 0, 0)
	c.backendExecStates = []*BackendExecState{s0}
	fp := newPerFragmentProfileData(0)
	fp.addInstance(s0)
	c.fragmentProfiles = []*PerFragmentProfileData{fp}
	c.numRemainingBackends = 1
	c.progress = newProgressTracker(0)

	mkReport := func(rows int64) *execrpc.ExecStatusReport {
		p := profile.New("instance")
		p.Counter("RowsProduced").SetTo(rows)
		return &execrpc.ExecStatusReport{
			BackendNum:        0,
			Status:            statuspb.OKStatus,
			CumulativeProfile: p,
		}
	}

	_, err := c.UpdateFragmentExecStatus(context.Background(), mkReport(5))
	require.NoError(t, err)

	require.Len(t, fp.Root.Children(), 1)
	require.Same(t, s0.Profile(), fp.Root.Children()[0])
	require.Equal(t, int64(5), fp.Averaged.Counter("RowsProduced").Value())

	// A second report from the same instance re-attaches idempotently
	// (no duplicate child) and re-averages to the latest value.
	_, err = c.UpdateFragmentExecStatus(context.Background(), mkReport(9))
	require.NoError(t, err)
	require.Len(t, fp.Root.Children(), 1)
	require.Equal(t, int64(9), fp.Averaged.Counter("RowsProduced").Value())
}

// TestUpdateFragmentExecStatusSkipsProfileUpdateOnceStatusIsNotOK exercises
// spec.md §4.4 step 2's "if state.status is OK, apply the cumulative
// profile" gate: once an instance's sticky status has gone non-OK
// (whether from this same report or an earlier one), a carried profile
// must not mutate state.profile or the fragment's Root/Averaged.
func TestUpdateFragmentExecStatusSkipsProfileUpdateOnceStatusIsNotOK(t *testing.T) {
	c := newTestCoordinator(t)
	s0 := newRegisteredState(c, 0, 0)
	c.backendExecStates = []*BackendExecState{s0}
	fp := newPerFragmentProfileData(0)
	fp.addInstance(s0)
	c.fragmentProfiles = []*PerFragmentProfileData{fp}
	c.numRemainingBackends = 1
	c.progress = newProgressTracker(0)

	p := profile.New("instance")
	p.Counter("RowsProduced").SetTo(42)

	_, err := c.UpdateFragmentExecStatus(context.Background(), &execrpc.ExecStatusReport{
		BackendNum:        0,
		Status:            statuspb.ToStatus(statuspb.NewError(statuspb.Remote, "disk error")),
		CumulativeProfile: p,
	})
	require.NoError(t, err)

	require.Empty(t, fp.Root.Children())
	_, ok := fp.Averaged.LookupCounter("RowsProduced")
	require.False(t, ok)
	_, ok = s0.Profile().LookupCounter("RowsProduced")
	require.False(t, ok)
}

func TestWaitForAllBackendsUnblocksOnCompletion(t *testing.T) {
	c := newTestCoordinator(t)
	s0 := newRegisteredState(c, 0, 0)
	c.backendExecStates = []*BackendExecState{s0}
	c.fragmentProfiles = []*PerFragmentProfileData{newPerFragmentProfileData(0)}
	c.numRemainingBackends = 1
	c.progress = newProgressTracker(0)

	done := make(chan struct{})
	go func() {
		c.waitForAllBackends(context.Background())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("waitForAllBackends returned before the backend finished")
	case <-time.After(20 * time.Millisecond):
	}

	_, err := c.UpdateFragmentExecStatus(context.Background(), &execrpc.ExecStatusReport{
		BackendNum: 0,
		Status:     statuspb.OKStatus,
		Done:       true,
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waitForAllBackends did not unblock after the last backend completed")
	}
}

func TestGetErrorLogDedupesAndOrdersByBackend(t *testing.T) {
	c := newTestCoordinator(t)
	s0 := newRegisteredState(c, 0, 0)
	s1 := newRegisteredState(c, 0, 1)
	s0.mu.Lock()
	s0.appendErrorLogLocked("disk full", "disk full")
	s0.mu.Unlock()
	s1.mu.Lock()
	s1.appendErrorLogLocked("connection reset")
	s1.mu.Unlock()
	c.backendExecStates = []*BackendExecState{s0, s1}

	log := c.GetErrorLog()
	require.Len(t, log, 2)
	require.Contains(t, log[0], "disk full")
	require.Contains(t, log[1], "connection reset")
}

func TestQuerySummaryReportsOKAndFailure(t *testing.T) {
	c := newTestCoordinator(t)
	withNoRemoteBackends(c)
	c.fragmentProfiles = []*PerFragmentProfileData{newPerFragmentProfileData(0)}
	require.Contains(t, c.QuerySummary(), "OK")

	c.Cancel(context.Background(), statuspb.NewError(statuspb.User, "stop"))
	require.Contains(t, c.QuerySummary(), "FAILED")
}

func TestExecRejectsCloseWaitDebugDirective(t *testing.T) {
	c := newTestCoordinator(t)
	err := c.Exec(context.Background(), schedule.QuerySchedule{
		DebugOptionsSpec: "0:CLOSE:WAIT",
	})
	require.Error(t, err)
	require.Equal(t, statuspb.User, statuspb.ClassifyError(err))
}

func TestExecWithNoFragmentsInitializesProgress(t *testing.T) {
	c := newTestCoordinator(t)
	err := c.Exec(context.Background(), schedule.QuerySchedule{TotalScanRanges: 42})
	require.NoError(t, err)
	completed, total := c.progress.snapshot()
	require.Equal(t, int64(0), completed)
	require.Equal(t, int64(42), total)
}

func TestExecRequiresExecutorForCoordinatorFragment(t *testing.T) {
	c := newTestCoordinator(t)
	err := c.Exec(context.Background(), schedule.QuerySchedule{
		Fragments: []schedule.FragmentExecParams{{FragmentIdx: 0, Unpartitioned: true}},
	})
	require.Error(t, err)
}

// TestExecAssemblesCoordinatorAddressAndDebugDirective exercises spec.md
// §6's "rpc_params carries the coordinator's own host/port" contract and
// §4.1 step 5's per-backend_num debug-directive targeting. The dial to
// each (unreachable) instance address is left to fail under a short
// deadline; RPCParams is assembled and stashed on BackendExecState before
// that dispatch ever runs, so the assertions hold regardless of Exec's
// returned error.
func TestExecAssemblesCoordinatorAddressAndDebugDirective(t *testing.T) {
	config := DefaultConfig()
	config.CoordinatorHost = "127.0.0.1"
	config.CoordinatorPort = 4321
	c := New(execrpc.NewQueryID(), clientcache.New(), nil, config, zerolog.Nop())
	c.nodeIndex = newNodeCounterIndex()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_ = c.Exec(ctx, schedule.QuerySchedule{
		DebugOptionsSpec: "1:2:CLOSE:FAIL", // targets only backend_num 1
		Fragments: []schedule.FragmentExecParams{{
			FragmentIdx: 0,
			Instances: []schedule.InstanceExecParams{
				{FragmentInstanceID: execrpc.NewFragmentInstanceID(), Host: "127.0.0.1", Port: 1},
				{FragmentInstanceID: execrpc.NewFragmentInstanceID(), Host: "127.0.0.1", Port: 2},
			},
		}},
	})

	require.Len(t, c.backendExecStates, 2)

	p0 := c.backendExecStates[0].RPCParams
	require.Equal(t, "127.0.0.1", p0.CoordinatorHost)
	require.Equal(t, 4321, p0.CoordinatorPort)
	require.Nil(t, p0.DebugDirective, "directive targets backend_num 1, not 0")

	p1 := c.backendExecStates[1].RPCParams
	require.Equal(t, "127.0.0.1", p1.CoordinatorHost)
	require.Equal(t, 4321, p1.CoordinatorPort)
	require.NotNil(t, p1.DebugDirective)
	require.Equal(t, 2, p1.DebugDirective.NodeID)
	require.Equal(t, "CLOSE", p1.DebugDirective.Phase)
	require.Equal(t, "FAIL", p1.DebugDirective.Action)
}
