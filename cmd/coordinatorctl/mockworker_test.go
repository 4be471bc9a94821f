package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/SofiaNunes/distcoord/pkg/execrpc"
)

func TestWriteStagedFileProducesAMoveFromARealSourcePath(t *testing.T) {
	stagingDir := t.TempDir()
	baseDir := t.TempDir()

	w := newMockWorker("127.0.0.1:0", 1, time.Millisecond, 100, stagingDir, baseDir, zerolog.Nop())
	params := &execrpc.RPCParams{BackendNum: 4}

	move, err := w.writeStagedFile(params, "p0")
	require.NoError(t, err)

	_, err = os.Stat(move.Src)
	require.NoError(t, err, "writeStagedFile must leave a real file at Src for Phase 2's rename to find")
	require.Equal(t, filepath.Join(baseDir, "p0", "part-4.dat"), move.Dst)
}

func TestCancelPlanFragmentIsIdempotent(t *testing.T) {
	w := newMockWorker("127.0.0.1:0", 1, time.Millisecond, 0, "", "", zerolog.Nop())
	id := execrpc.NewFragmentInstanceID()
	w.mu.Lock()
	w.cancelled[id] = make(chan struct{})
	w.mu.Unlock()

	params := &execrpc.CancelParams{FragmentInstanceID: id}
	_, err := w.CancelPlanFragment(nil, params)
	require.NoError(t, err)
	_, err = w.CancelPlanFragment(nil, params)
	require.NoError(t, err, "a second CancelPlanFragment for the same instance must not panic on an already-closed channel")
}
