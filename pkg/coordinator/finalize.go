package coordinator

import (
	"container/list"
	"context"
	"path"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/SofiaNunes/distcoord/pkg/bulkfs"
	"github.com/SofiaNunes/distcoord/pkg/execrpc"
	"github.com/SofiaNunes/distcoord/pkg/schedule"
	"github.com/SofiaNunes/distcoord/pkg/statuspb"
)

// dmlAccumulators holds the global DML side-effect state the Coordinator
// collects from either the local executor (Wait's precondition check) or
// merged worker reports (spec.md §3, §4.4 step 3).
type dmlAccumulators struct {
	partitionRowCounts  map[string]int64
	filesToMove         []execrpc.FileMove
	partitionInsertStats map[string]*execrpc.PartitionInsertStat
}

func newDMLAccumulators() *dmlAccumulators {
	return &dmlAccumulators{
		partitionRowCounts:   make(map[string]int64),
		partitionInsertStats: make(map[string]*execrpc.PartitionInsertStat),
	}
}

func (d *dmlAccumulators) isEmpty() bool {
	return len(d.partitionRowCounts) == 0 && len(d.filesToMove) == 0 && len(d.partitionInsertStats) == 0
}

// merge folds one instance's InsertExecStatus into the global accumulator
// (spec.md §4.4 step 3): sum per-partition row counts, union
// files_to_move, merge per-partition insert stats.
func (d *dmlAccumulators) merge(s *execrpc.InsertExecStatus) {
	if s == nil {
		return
	}
	for k, v := range s.PartitionRowCounts {
		d.partitionRowCounts[k] += v
	}
	d.filesToMove = append(d.filesToMove, s.FilesToMove...)
	for k, v := range s.PartitionInsertStats {
		if existing, ok := d.partitionInsertStats[k]; ok {
			existing.Merge(v)
		} else {
			cp := *v
			d.partitionInsertStats[k] = &cp
		}
	}
}

// Finalizer runs the four-phase DML commit protocol against a
// bulkfs.Driver (spec.md §4.5). It is only invoked once Wait has
// confirmed every backend has reported (spec.md §4.1's Wait step "If the
// plan requires finalization, call FinalizeQuery").
type Finalizer struct {
	driver bulkfs.Driver
	log    zerolog.Logger
}

// NewFinalizer constructs a Finalizer over driver.
func NewFinalizer(driver bulkfs.Driver, log zerolog.Logger) *Finalizer {
	return &Finalizer{driver: driver, log: log}
}

// Finalize runs Phases 1-4 in sequence. It returns the first fatal error
// encountered in Phases 1-3; Phase 4 (staging cleanup) always runs
// regardless, and its result is never returned (spec.md §4.5, §7).
func (f *Finalizer) Finalize(
	ctx context.Context, queryID execrpc.QueryID, params schedule.FinalizeParams, dml *dmlAccumulators,
) error {
	var fatal error

	if err := f.phase1OverwriteAndPrep(ctx, params); err != nil && fatal == nil {
		fatal = err
	}
	if fatal == nil {
		deleteOps, err := f.phase2FileMove(ctx, dml.filesToMove)
		if err != nil {
			fatal = err
		} else if err := f.phase3TempCleanup(ctx, deleteOps); err != nil {
			fatal = err
		}
	}

	// Phase 4 always runs, best-effort, result ignored (spec.md §4.5,
	// §7's "Staging cleanup failures are never reported").
	f.phase4StagingCleanup(ctx, queryID, params.StagingDir)

	return fatal
}

// phase1OverwriteAndPrep implements spec.md §4.5 Phase 1. CREATE_DIR
// errors are swallowed (directories may already exist; a real permission
// problem will resurface in Phase 2's RENAMEs); every other op's error is
// fatal.
func (f *Finalizer) phase1OverwriteAndPrep(ctx context.Context, params schedule.FinalizeParams) error {
	var ops []bulkfs.Op
	for _, target := range params.TargetPartitions {
		switch {
		case params.Overwrite && target.PartitionKey == "":
			entries, err := f.driver.ListDir(ctx, params.BaseDir)
			if err != nil {
				return statuspb.WrapError(statuspb.FS, err)
			}
			for _, e := range entries {
				if e.IsDir || e.Hidden {
					continue
				}
				ops = append(ops, bulkfs.Op{Type: bulkfs.Delete, Src: path.Join(params.BaseDir, e.Name)})
			}
		case params.Overwrite && target.PartitionKey != "":
			exists, err := f.driver.Exists(ctx, target.Dir)
			if err != nil {
				return statuspb.WrapError(statuspb.FS, err)
			}
			if exists {
				ops = append(ops, bulkfs.Op{Type: bulkfs.DeleteThenCreate, Src: target.Dir})
			} else {
				ops = append(ops, bulkfs.Op{Type: bulkfs.CreateDir, Src: target.Dir})
			}
		default:
			ops = append(ops, bulkfs.Op{Type: bulkfs.CreateDir, Src: target.Dir})
		}
	}
	if len(ops) == 0 {
		return nil
	}
	result, err := f.driver.ExecuteBulk(ctx, ops)
	if err != nil {
		return statuspb.WrapError(statuspb.FS, err)
	}
	for _, r := range result.Results {
		if r.Err == nil {
			continue
		}
		if r.Op.Type == bulkfs.CreateDir {
			f.log.Debug().Str("dir", r.Op.Src).Err(r.Err).Msg("finalize: ignoring CREATE_DIR error")
			continue
		}
		return statuspb.WrapError(statuspb.FS, r.Err)
	}
	return nil
}

// phase2FileMove implements spec.md §4.5 Phase 2: rename every non-empty
// dst entry; empty-dst entries are deferred to Phase 3 as directory
// deletes. Any RENAME failure is fatal.
func (f *Finalizer) phase2FileMove(ctx context.Context, filesToMove []execrpc.FileMove) ([]bulkfs.Op, error) {
	var renames, deletes []bulkfs.Op
	for _, m := range filesToMove {
		if m.Dst == "" {
			deletes = append(deletes, bulkfs.Op{Type: bulkfs.Delete, Src: m.Src})
			continue
		}
		renames = append(renames, bulkfs.Op{Type: bulkfs.Rename, Src: m.Src, Dst: m.Dst})
	}
	if len(renames) == 0 {
		return deletes, nil
	}
	result, err := f.driver.ExecuteBulk(ctx, renames)
	if err != nil {
		return deletes, statuspb.WrapError(statuspb.FS, err)
	}
	if n, first := result.CountErrors(); n > 0 {
		return deletes, statuspb.WrapError(statuspb.FS,
			errors.Wrapf(first, "finalize phase 2: %d of %d renames failed", n, len(renames)))
	}
	return deletes, nil
}

// phase3TempCleanup implements spec.md §4.5 Phase 3: execute the delete
// batch collected in Phase 2 (temp directories used by sinks). Any
// failure is fatal. ops are queued through a container/list batch the
// same way the teacher's FlowScheduler batches queued flows, so a future
// caller can inspect/cancel the pending batch before it executes.
func (f *Finalizer) phase3TempCleanup(ctx context.Context, ops []bulkfs.Op) error {
	if len(ops) == 0 {
		return nil
	}
	queue := list.New()
	for _, op := range ops {
		queue.PushBack(op)
	}
	batch := make([]bulkfs.Op, 0, queue.Len())
	for e := queue.Front(); e != nil; e = e.Next() {
		batch = append(batch, e.Value.(bulkfs.Op))
	}
	result, err := f.driver.ExecuteBulk(ctx, batch)
	if err != nil {
		return statuspb.WrapError(statuspb.FS, err)
	}
	if n, first := result.CountErrors(); n > 0 {
		return statuspb.WrapError(statuspb.FS,
			errors.Wrapf(first, "finalize phase 3: %d of %d temp-dir deletes failed", n, len(batch)))
	}
	return nil
}

// phase4StagingCleanup implements spec.md §4.5 Phase 4: recursively
// delete staging_dir/query_id/, best-effort. Its result is deliberately
// discarded (spec.md §7).
func (f *Finalizer) phase4StagingCleanup(ctx context.Context, queryID execrpc.QueryID, stagingDir string) {
	if stagingDir == "" {
		return
	}
	dir := path.Join(stagingDir, queryID.String())
	// Run detached from ctx's cancellation: staging cleanup must happen
	// even when the query was cancelled or Finalize is running on the
	// error path (spec.md §4.5 Phase 4 "run even on prior failure").
	deadline, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := f.driver.DeleteRecursive(deadline, dir); err != nil {
		f.log.Warn().Str("dir", dir).Err(err).Msg("finalize phase 4: staging cleanup failed (ignored)")
	}
}
