package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/SofiaNunes/distcoord/pkg/clientcache"
	"github.com/SofiaNunes/distcoord/pkg/execrpc"
	"github.com/SofiaNunes/distcoord/pkg/profile"
	"github.com/SofiaNunes/distcoord/pkg/statuspb"
)

// mockWorker implements execrpc.Worker without any real fragment
// execution: ExecPlanFragment spawns a goroutine that reports a handful of
// progress updates, then one completion report (carrying DML output when
// rowsPerInst is nonzero), back to the coordinator's status server. It exists so cmd/coordinatorctl can exercise
// the Coordinator's real RPC fan-out/aggregation path without a worker
// binary.
type mockWorker struct {
	coordAddr   string
	conns       clientcache.ConnCache
	numReports  int
	interval    time.Duration
	rowsPerInst int64
	// stagingDir/baseDir, when non-empty, is where a DML-simulating
	// instance writes a real file before reporting it as a FilesToMove
	// entry, so the Finalizer's Phase 2 rename has something genuine to
	// move from and into.
	stagingDir string
	baseDir    string
	log        zerolog.Logger

	mu        sync.Mutex
	cancelled map[execrpc.FragmentInstanceID]chan struct{}
}

func newMockWorker(coordAddr string, numReports int, interval time.Duration, rowsPerInst int64, stagingDir, baseDir string, log zerolog.Logger) *mockWorker {
	return &mockWorker{
		coordAddr:   coordAddr,
		conns:       clientcache.New(),
		numReports:  numReports,
		interval:    interval,
		rowsPerInst: rowsPerInst,
		stagingDir:  stagingDir,
		baseDir:     baseDir,
		log:         log,
		cancelled:   make(map[execrpc.FragmentInstanceID]chan struct{}),
	}
}

func (w *mockWorker) ExecPlanFragment(ctx context.Context, params *execrpc.RPCParams) (*execrpc.ExecResult, error) {
	if params.ProtocolVersion != execrpc.ProtocolVersion {
		return nil, fmt.Errorf("protocol version mismatch: got %d want %d", params.ProtocolVersion, execrpc.ProtocolVersion)
	}

	cancel := make(chan struct{})
	w.mu.Lock()
	w.cancelled[params.FragmentInstanceID] = cancel
	w.mu.Unlock()

	go w.runInstance(params, cancel)

	return &execrpc.ExecResult{Status: statuspb.OKStatus}, nil
}

func (w *mockWorker) CancelPlanFragment(ctx context.Context, params *execrpc.CancelParams) (*execrpc.CancelResult, error) {
	w.mu.Lock()
	cancel, ok := w.cancelled[params.FragmentInstanceID]
	w.mu.Unlock()
	if ok {
		select {
		case <-cancel:
		default:
			close(cancel)
		}
	}
	return &execrpc.CancelResult{Status: statuspb.OKStatus}, nil
}

// runInstance simulates one fragment instance's execution: it drives a
// single scan node's counters up over numReports progress reports, then
// calls back with Done=true and, if rowsPerInst is nonzero, an
// InsertExecStatus simulating a DML sink's output.
func (w *mockWorker) runInstance(params *execrpc.RPCParams, cancel <-chan struct{}) {
	ctx := context.Background()
	conn, err := w.conns.GetConnection(ctx, w.coordAddr)
	if err != nil {
		w.log.Error().Err(err).Str("coord_addr", w.coordAddr).Msg("mock worker: failed to dial coordinator")
		return
	}
	sink := execrpc.NewCoordinatorClient(conn)

	nodeID := 0
	totalRanges := int64(100)
	rangesPerReport := totalRanges / int64(w.numReports)

	for i := 1; i <= w.numReports; i++ {
		select {
		case <-cancel:
			return
		case <-time.After(w.interval):
		}

		p := profile.New("instance")
		scan := profile.New("scan")
		scan.NodeID = &nodeID
		scan.IsScanNode = true
		scan.Counter(profile.CounterScanRangesComplete).SetTo(rangesPerReport * int64(i))
		scan.Counter(profile.CounterTotalThroughput).SetTo(rangesPerReport * int64(i) * 4096)
		p.AddChild(scan)

		report := &execrpc.ExecStatusReport{
			ProtocolVersion:   execrpc.ProtocolVersion,
			BackendNum:        params.BackendNum,
			Status:            statuspb.OKStatus,
			Done:              false,
			CumulativeProfile: p,
			ReportedAt:        time.Now(),
		}
		if _, err := sink.UpdateFragmentExecStatus(ctx, report); err != nil {
			w.log.Warn().Err(err).Int("backend_num", params.BackendNum).Msg("mock worker: progress report failed")
		}
	}

	var insert *execrpc.InsertExecStatus
	if w.rowsPerInst > 0 {
		partition := fmt.Sprintf("p%d", params.FragmentIdx)
		insert = &execrpc.InsertExecStatus{
			PartitionRowCounts: map[string]int64{partition: w.rowsPerInst},
		}
		if move, err := w.writeStagedFile(params, partition); err != nil {
			w.log.Warn().Err(err).Int("backend_num", params.BackendNum).Msg("mock worker: failed to stage file for Phase 2 rename")
		} else {
			insert.FilesToMove = []execrpc.FileMove{move}
		}
	}

	final := &execrpc.ExecStatusReport{
		ProtocolVersion:  execrpc.ProtocolVersion,
		BackendNum:       params.BackendNum,
		Status:           statuspb.OKStatus,
		Done:             true,
		InsertExecStatus: insert,
		ReportedAt:       time.Now(),
	}
	if _, err := sink.UpdateFragmentExecStatus(ctx, final); err != nil {
		w.log.Warn().Err(err).Int("backend_num", params.BackendNum).Msg("mock worker: completion report failed")
	}
}

// writeStagedFile creates a real file under stagingDir standing in for a
// DML sink's output, so the Finalizer's Phase 2 rename has a genuine
// src to move into base_dir/partition/.
func (w *mockWorker) writeStagedFile(params *execrpc.RPCParams, partition string) (execrpc.FileMove, error) {
	if err := os.MkdirAll(w.stagingDir, 0o755); err != nil {
		return execrpc.FileMove{}, err
	}
	src := filepath.Join(w.stagingDir, fmt.Sprintf("part-%d.dat", params.BackendNum))
	if err := os.WriteFile(src, []byte(fmt.Sprintf("rows=%d\n", w.rowsPerInst)), 0o644); err != nil {
		return execrpc.FileMove{}, err
	}
	return execrpc.FileMove{
		Src: src,
		Dst: filepath.Join(w.baseDir, partition, fmt.Sprintf("part-%d.dat", params.BackendNum)),
	}, nil
}
