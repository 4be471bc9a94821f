package coordinator

import (
	"strconv"
	"strings"

	"github.com/SofiaNunes/distcoord/pkg/execrpc"
)

// DebugPhase names a point in a fragment instance's exec-node lifecycle a
// debug action can target. Unknown phase strings degrade to PhaseInvalid,
// i.e. unset (spec.md §6).
type DebugPhase int

const (
	PhaseInvalid DebugPhase = iota
	PhaseOpen
	PhaseGetNext
	PhaseClose
)

var phaseByName = map[string]DebugPhase{
	"OPEN":     PhaseOpen,
	"GETNEXT":  PhaseGetNext,
	"CLOSE":    PhaseClose,
}

func parsePhase(s string) DebugPhase {
	if p, ok := phaseByName[strings.ToUpper(s)]; ok {
		return p
	}
	return PhaseInvalid
}

// String renders p back in the directive grammar's phase vocabulary, the
// form a worker-bound execrpc.DebugDirective carries it in.
func (p DebugPhase) String() string {
	for name, v := range phaseByName {
		if v == p {
			return name
		}
	}
	return "INVALID"
}

// DebugAction names what to do once a targeted phase is hit. Unknown
// action strings degrade to ActionWait (spec.md §6).
type DebugAction int

const (
	ActionWait DebugAction = iota
	ActionFail
	ActionDelay
)

var actionByName = map[string]DebugAction{
	"WAIT":  ActionWait,
	"FAIL":  ActionFail,
	"DELAY": ActionDelay,
}

func parseAction(s string) DebugAction {
	if a, ok := actionByName[strings.ToUpper(s)]; ok {
		return a
	}
	return ActionWait
}

// String renders a back in the directive grammar's action vocabulary.
func (a DebugAction) String() string {
	for name, v := range actionByName {
		if v == a {
			return name
		}
	}
	return "WAIT"
}

// DebugOptions is the parsed form of the query option debug directive
// (spec.md §4.1 step 4, §6): "[backend_num:]node_id:phase:action".
type DebugOptions struct {
	// BackendNum is -1 when unset, meaning the directive applies to every
	// instance rather than one specific backend.
	BackendNum int
	NodeID     int
	Phase      DebugPhase
	Action     DebugAction
}

// AppliesTo reports whether o targets the instance with the given
// backend_num: an unset BackendNum applies to all instances, a set one
// applies only to that backend (spec.md §4.1 step 5).
func (o DebugOptions) AppliesTo(backendNum int) bool {
	return o.BackendNum == -1 || o.BackendNum == backendNum
}

// Directive converts o to the wire form carried in an instance's
// execrpc.RPCParams, so the targeted worker can act on it at the named
// exec node and phase (spec.md §4.1 step 5). Callers must check Invalid
// first; Directive does not itself guard against an invalid o.
func (o DebugOptions) Directive() *execrpc.DebugDirective {
	return &execrpc.DebugDirective{
		NodeID: o.NodeID,
		Phase:  o.Phase.String(),
		Action: o.Action.String(),
	}
}

// Invalid reports whether o is a no-op: either its phase never parsed, or
// it is the always-rejected CLOSE:WAIT combination (workers cannot be
// cancelled during Close; spec.md §4.1 step 4, §6).
func (o DebugOptions) Invalid() bool {
	if o.Phase == PhaseInvalid {
		return true
	}
	if o.Phase == PhaseClose && o.Action == ActionWait {
		return true
	}
	return false
}

// ParseDebugOptions parses "[backend_num:]node_id:phase:action". Malformed
// strings (wrong arity) degrade to an all-invalid DebugOptions rather than
// erroring, per spec.md §7's USER error-kind policy: malformed directives
// are silently degraded, never surfaced.
func ParseDebugOptions(s string) DebugOptions {
	out := DebugOptions{BackendNum: -1, NodeID: -1, Phase: PhaseInvalid, Action: ActionWait}
	if s == "" {
		return out
	}
	parts := strings.Split(s, ":")
	switch len(parts) {
	case 3:
		// node_id:phase:action
	case 4:
		if n, err := strconv.Atoi(parts[0]); err == nil {
			out.BackendNum = n
		}
		parts = parts[1:]
	default:
		return out
	}
	if nodeID, err := strconv.Atoi(parts[0]); err == nil {
		out.NodeID = nodeID
	} else {
		return DebugOptions{BackendNum: -1, NodeID: -1, Phase: PhaseInvalid, Action: ActionWait}
	}
	out.Phase = parsePhase(parts[1])
	out.Action = parseAction(parts[2])
	return out
}

// RejectsExec reports whether the debug directive must cause Exec to fail
// outright: the CLOSE:WAIT combination is always rejected regardless of
// which backend it targets (spec.md §4.1 step 4, scenario S6).
func RejectsExec(s string) bool {
	if s == "" {
		return false
	}
	opts := ParseDebugOptions(s)
	return opts.Phase == PhaseClose && opts.Action == ActionWait
}
