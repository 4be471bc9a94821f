package coordinator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDebugOptionsThreePart(t *testing.T) {
	o := ParseDebugOptions("3:OPEN:DELAY")
	require.Equal(t, -1, o.BackendNum)
	require.Equal(t, 3, o.NodeID)
	require.Equal(t, PhaseOpen, o.Phase)
	require.Equal(t, ActionDelay, o.Action)
	require.False(t, o.Invalid())
}

func TestParseDebugOptionsFourPart(t *testing.T) {
	o := ParseDebugOptions("2:5:GETNEXT:FAIL")
	require.Equal(t, 2, o.BackendNum)
	require.Equal(t, 5, o.NodeID)
	require.Equal(t, PhaseGetNext, o.Phase)
	require.Equal(t, ActionFail, o.Action)
	require.True(t, o.AppliesTo(2))
	require.False(t, o.AppliesTo(3))
}

func TestParseDebugOptionsCaseInsensitive(t *testing.T) {
	o := ParseDebugOptions("1:open:wait")
	require.Equal(t, PhaseOpen, o.Phase)
	require.Equal(t, ActionWait, o.Action)
}

func TestParseDebugOptionsMalformedDegradesSilently(t *testing.T) {
	for _, s := range []string{"garbage", "a:b", "1:2:3:4:5", "x:OPEN:WAIT"} {
		o := ParseDebugOptions(s)
		require.True(t, o.Invalid(), "input %q should degrade to invalid", s)
	}
}

func TestParseDebugOptionsEmptyString(t *testing.T) {
	o := ParseDebugOptions("")
	require.True(t, o.Invalid())
}

func TestCloseWaitAlwaysInvalid(t *testing.T) {
	o := ParseDebugOptions("1:CLOSE:WAIT")
	require.True(t, o.Invalid())
}

func TestRejectsExecOnlyForCloseWait(t *testing.T) {
	require.True(t, RejectsExec("0:CLOSE:WAIT"))
	require.True(t, RejectsExec("1:3:CLOSE:WAIT"))
	require.False(t, RejectsExec("CLOSE:FAIL"))
	require.False(t, RejectsExec("OPEN:WAIT"))
	require.False(t, RejectsExec(""))
}

func TestDebugOptionsAppliesToUnsetBackendNum(t *testing.T) {
	o := DebugOptions{BackendNum: -1, Phase: PhaseOpen}
	require.True(t, o.AppliesTo(0))
	require.True(t, o.AppliesTo(42))
}

func TestDebugOptionsDirectiveRoundTripsThroughTheGrammarVocabulary(t *testing.T) {
	o := ParseDebugOptions("2:5:GETNEXT:FAIL")
	d := o.Directive()
	require.Equal(t, 5, d.NodeID)
	require.Equal(t, "GETNEXT", d.Phase)
	require.Equal(t, "FAIL", d.Action)
}
