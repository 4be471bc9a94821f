package statuspb

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestNewErrorClassification(t *testing.T) {
	err := NewError(RPC, "dial %s failed", "host:1234")
	require.Error(t, err)
	require.Equal(t, RPC, ClassifyError(err))
	require.False(t, IsCancelled(err))
}

func TestWrapErrorPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	wrapped := WrapError(FS, cause)
	require.Equal(t, FS, ClassifyError(wrapped))
	require.True(t, errors.Is(wrapped, cause))
}

func TestClassifyErrorUnmarkedIsInternal(t *testing.T) {
	require.Equal(t, Internal, ClassifyError(errors.New("plain")))
	require.Equal(t, OK, ClassifyError(nil))
}

func TestStatusRoundTrip(t *testing.T) {
	err := NewError(Cancelled, "query cancelled")
	status := ToStatus(err)
	require.Equal(t, Cancelled, status.Code)
	require.False(t, status.Ok())

	back := status.ToError()
	require.True(t, IsCancelled(back))
}

func TestOKStatusRoundTrip(t *testing.T) {
	require.NoError(t, ToStatus(nil).ToError())
	require.True(t, OKStatus.Ok())
}

func TestWrapErrorNilIsNil(t *testing.T) {
	require.NoError(t, WrapError(RPC, nil))
}
