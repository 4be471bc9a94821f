package coordinator

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/SofiaNunes/distcoord/pkg/execrpc"
	"github.com/SofiaNunes/distcoord/pkg/statuspb"
)

func newUnstartedState() *BackendExecState {
	return NewBackendExecState(
		execrpc.NewFragmentInstanceID(), "worker:1234", 0, 0, &execrpc.RPCParams{}, 1024,
	)
}

func TestSetStatusIsStickyFirstErrorWins(t *testing.T) {
	s := newUnstartedState()
	first := statuspb.NewError(statuspb.RPC, "dial failed")
	second := statuspb.NewError(statuspb.Cancelled, "cancelled")

	require.True(t, s.SetStatus(first))
	require.False(t, s.SetStatus(second))
	require.True(t, errors.Is(s.Status(), first))
}

func TestSetStatusNilIsNoop(t *testing.T) {
	s := newUnstartedState()
	require.False(t, s.SetStatus(nil))
	require.NoError(t, s.Status())
}

func TestErrorLogStripsMarkers(t *testing.T) {
	s := newUnstartedState()
	s.mu.Lock()
	s.appendErrorLogLocked("worker died", "disk full")
	s.mu.Unlock()

	lines := s.ErrorLog()
	require.Equal(t, []string{"worker died", "disk full"}, lines)
}

func TestDoneDefaultsFalse(t *testing.T) {
	s := newUnstartedState()
	require.False(t, s.Done())
}
