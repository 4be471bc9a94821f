package coordinator

import (
	"time"

	"github.com/cockroachdb/redact"

	"github.com/SofiaNunes/distcoord/internal/syncutil"
	"github.com/SofiaNunes/distcoord/pkg/execrpc"
	"github.com/SofiaNunes/distcoord/pkg/profile"
)

// BackendExecState is the per-remote-instance record spec.md §3 describes:
// identity, address, status, profile, counters, stopwatch. The Coordinator
// exclusively owns every BackendExecState in its backendExecStates slice
// (created during Exec, released when the Coordinator is destroyed); a
// BackendExecState never owns a reference back to its Coordinator —
// callers that need to notify the Coordinator (e.g. the aggregator) take
// it as an explicit parameter, avoiding the cyclic-ownership problem the
// original C++ coordinator had to work around (spec.md §9).
type BackendExecState struct {
	FragmentInstanceID execrpc.FragmentInstanceID
	BackendAddr        string
	FragmentIdx        int
	BackendNum         int

	// RPCParams is assembled once at construction time (spec.md §6) and
	// never mutated afterward, so it is safe to read without the lock.
	RPCParams *execrpc.RPCParams

	// TotalSplitSize sums the byte length of this instance's leftmost-scan
	// ranges; read-only after construction.
	TotalSplitSize int64

	stopwatch stopwatch
	// rpcAcceptedAt records when ExecPlanFragment returned OK for this
	// instance; firstReportAt minus this is the first-report latency fed
	// into PerFragmentProfileData (SPEC_FULL §4 item 5).
	rpcAcceptedAt time.Time
	// firstReportAt records when the first UpdateFragmentExecStatus call
	// landed for this instance.
	firstReportAt time.Time

	// mu protects every field below. Lock ordering: the Coordinator's
	// global lock must be acquired before mu, never the reverse (spec.md
	// §5).
	mu                syncutil.Mutex
	status            error
	initiated         bool
	done              bool
	profile           *profile.Profile
	profileCreated    bool
	errorLog          []redact.RedactableString
	aggregateCounters *profile.AggregateCounters
	// totalRangesComplete tracks, per plan node id, the last
	// scan-ranges-complete value reported for this instance, so the
	// aggregator can compute non-negative deltas against the global
	// progress tracker (spec.md §4.4 step 2, invariant 4).
	totalRangesComplete map[int]int64
}

// NewBackendExecState constructs an unstarted record for one fragment
// instance. Called during Exec (spec.md §4.1 step 5) in left-to-right
// fragment/instance order; the caller assigns BackendNum densely.
func NewBackendExecState(
	instanceID execrpc.FragmentInstanceID,
	addr string,
	fragmentIdx, backendNum int,
	params *execrpc.RPCParams,
	totalSplitSize int64,
) *BackendExecState {
	return &BackendExecState{
		FragmentInstanceID:  instanceID,
		BackendAddr:         addr,
		FragmentIdx:         fragmentIdx,
		BackendNum:          backendNum,
		RPCParams:           params,
		TotalSplitSize:      totalSplitSize,
		profile:             profile.New("instance"),
		totalRangesComplete: make(map[int]int64),
	}
}

// Status returns the current sticky status.
func (s *BackendExecState) Status() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Initiated reports whether the ExecPlanFragment RPC returned OK.
func (s *BackendExecState) Initiated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initiated
}

// Done reports whether this instance has terminated.
func (s *BackendExecState) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Profile returns this instance's profile tree root.
func (s *BackendExecState) Profile() *profile.Profile {
	return s.profile
}

// ErrorLog returns a snapshot of this instance's accumulated error lines.
func (s *BackendExecState) ErrorLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.errorLog))
	for i, l := range s.errorLog {
		out[i] = l.StripMarkers()
	}
	return out
}

// setStatusLocked applies a new status under the caller's already-held
// lock, honoring the sticky-error invariant: once non-OK, status is never
// reset to OK, and a later error never overwrites an earlier one (spec.md
// §3, §7). Returns true if this call changed the status (i.e. it was the
// first error for this instance).
func (s *BackendExecState) setStatusLocked(err error) bool {
	if err == nil {
		return false
	}
	if s.status != nil {
		return false
	}
	s.status = err
	return true
}

// SetStatus applies a new status with the sticky-error invariant,
// acquiring the per-instance lock itself.
func (s *BackendExecState) SetStatus(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setStatusLocked(err)
}

// appendErrorLogLocked appends lines to the error log under the caller's
// held lock. Lines are wrapped as redactable so a future client-facing
// error surface cannot leak literal scan-range/value data embedded in a
// worker's error text (SPEC_FULL §3).
func (s *BackendExecState) appendErrorLogLocked(lines ...string) {
	for _, l := range lines {
		s.errorLog = append(s.errorLog, redact.RedactableString(l))
	}
}
