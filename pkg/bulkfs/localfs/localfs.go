// Package localfs is a local-disk bulkfs.Driver used by tests and by
// cmd/coordinatorctl as a stand-in for the distributed filesystem the real
// Finalizer targets. It executes every op on a worker pool bounded by
// Driver.Concurrency (unbounded when 0) via
// golang.org/x/sync/errgroup, the same fan-out-and-collect-first-error
// shape the Coordinator's Parallel Dispatcher uses for RPCs (spec.md §4.2).
package localfs

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/SofiaNunes/distcoord/pkg/bulkfs"
)

// Driver is a bulkfs.Driver backed by the local filesystem.
type Driver struct {
	// Concurrency bounds how many ops ExecuteBulk runs at once; 0 means
	// unbounded (one goroutine per op).
	Concurrency int
}

// New returns a Driver with the given concurrency bound.
func New(concurrency int) *Driver {
	return &Driver{Concurrency: concurrency}
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")
}

// ListDir lists dir, tagging hidden (dotfile/underscore-prefixed) entries
// per spec.md §4.5 Phase 1's "non-hidden" filter.
func (d *Driver) ListDir(ctx context.Context, dir string) ([]bulkfs.DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]bulkfs.DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, bulkfs.DirEntry{
			Name:   e.Name(),
			IsDir:  e.IsDir(),
			Hidden: isHidden(e.Name()),
		})
	}
	return out, nil
}

// Exists reports whether path exists.
func (d *Driver) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// ExecuteBulk runs ops concurrently, each exactly once, and returns every
// op's outcome — it never aborts early, matching the finalizer's
// requirement to know the exact failure count and first error per phase.
func (d *Driver) ExecuteBulk(ctx context.Context, ops []bulkfs.Op) (bulkfs.BulkResult, error) {
	results := make([]bulkfs.OpResult, len(ops))
	g, gctx := errgroup.WithContext(ctx)
	if d.Concurrency > 0 {
		g.SetLimit(d.Concurrency)
	}
	for i, op := range ops {
		i, op := i, op
		g.Go(func() error {
			results[i] = bulkfs.OpResult{Op: op, Err: d.execOne(gctx, op)}
			return nil // per-op errors are collected, never abort the batch
		})
	}
	_ = g.Wait()
	return bulkfs.BulkResult{Results: results}, nil
}

func (d *Driver) execOne(ctx context.Context, op bulkfs.Op) error {
	switch op.Type {
	case bulkfs.CreateDir:
		return os.MkdirAll(op.Src, 0o755)
	case bulkfs.Delete:
		return os.Remove(op.Src)
	case bulkfs.DeleteThenCreate:
		if err := os.RemoveAll(op.Src); err != nil {
			return err
		}
		return os.MkdirAll(op.Src, 0o755)
	case bulkfs.Rename:
		if err := os.MkdirAll(filepath.Dir(op.Dst), 0o755); err != nil {
			return err
		}
		return os.Rename(op.Src, op.Dst)
	default:
		return nil
	}
}

// DeleteRecursive removes dir and everything under it; used for Phase 4
// staging cleanup, which is best-effort and whose result is always
// ignored by the caller.
func (d *Driver) DeleteRecursive(ctx context.Context, dir string) error {
	return os.RemoveAll(dir)
}

var _ bulkfs.Driver = (*Driver)(nil)
