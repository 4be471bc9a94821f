package coordinator

import (
	"time"

	"github.com/SofiaNunes/distcoord/internal/syncutil"
	"github.com/SofiaNunes/distcoord/pkg/profile"
)

// PerFragmentProfileData is the per-fragment aggregated statistics record
// spec.md §3 names: averaged profile, root (collection) profile,
// per-instance byte-assigned summary, completion-time and rate summaries,
// instance count.
type PerFragmentProfileData struct {
	FragmentIdx int
	// Averaged is the fragment's averaged profile (profile.Average of
	// every instance's profile). For the coordinator fragment this IS the
	// local executor's profile, since there is exactly one instance
	// (spec.md §4.1 step 3: "average equals value").
	Averaged *profile.Profile
	// Root is the collection profile every instance's profile is attached
	// to as a child (spec.md §4.4 step 2).
	Root *profile.Profile

	mu                 syncutil.Mutex
	instances          []*BackendExecState
	byteAssigned       []int64 // TotalSplitSize per instance, parallel to instances
	completionTimes    []time.Duration
	firstReportLatency []time.Duration
}

func newPerFragmentProfileData(fragmentIdx int) *PerFragmentProfileData {
	return &PerFragmentProfileData{
		FragmentIdx: fragmentIdx,
		Averaged:    profile.New("averaged"),
		Root:        profile.New("root"),
	}
}

// addInstance registers inst as one of this fragment's instances,
// recording its byte-assigned scan total for the "per-instance
// byte-assigned summary" spec.md names.
func (d *PerFragmentProfileData) addInstance(inst *BackendExecState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.instances = append(d.instances, inst)
	d.byteAssigned = append(d.byteAssigned, inst.TotalSplitSize)
}

// recordCompletion records one instance's total elapsed time and the
// latency from RPC-accepted to its first status report, feeding the
// completion-time/rate summaries (SPEC_FULL §4 item 5).
func (d *PerFragmentProfileData) recordCompletion(elapsed, firstReportLatency time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.completionTimes = append(d.completionTimes, elapsed)
	d.firstReportLatency = append(d.firstReportLatency, firstReportLatency)
}

// InstanceCount returns the number of instances registered for this
// fragment.
func (d *PerFragmentProfileData) InstanceCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.instances)
}

// ByteAssignedSummary returns (min, max, mean) of the per-instance scan
// byte assignment.
func (d *PerFragmentProfileData) ByteAssignedSummary() (min, max, mean int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.byteAssigned) == 0 {
		return 0, 0, 0
	}
	min, max = d.byteAssigned[0], d.byteAssigned[0]
	var sum int64
	for _, v := range d.byteAssigned {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}
	return min, max, sum / int64(len(d.byteAssigned))
}

// updateAverageProfile implements spec.md §4.4 step 2's "update the
// fragment's averaged profile and attach the instance's profile as a
// child of the fragment's root profile (idempotent)", the Go analogue of
// the original's UpdateAverageProfile (`data.root_profile->AddChild(...)`
// + `data.averaged_profile->UpdateAverage(...)`). inst.Profile() is
// attached to Root first — a no-op on repeat calls from the same
// instance, since Profile.AddChild tracks attachment by pointer — then
// Averaged is recomputed from every instance registered so far. inst's
// own profile is read without inst.mu: Profile synchronizes its own
// counters/timers/children internally, and the *profile.Profile pointer
// on a BackendExecState never changes after construction.
func (d *PerFragmentProfileData) updateAverageProfile(inst *BackendExecState) {
	d.Root.AddChild(inst.Profile())

	d.mu.Lock()
	instances := make([]*BackendExecState, len(d.instances))
	copy(instances, d.instances)
	d.mu.Unlock()

	profiles := make([]*profile.Profile, len(instances))
	for i, s := range instances {
		profiles[i] = s.Profile()
	}
	d.Averaged.Apply(profile.Average(profiles))
}

// CompletionTimeSummary returns (min, max, mean) elapsed time across every
// instance that has reported completion so far.
func (d *PerFragmentProfileData) CompletionTimeSummary() (min, max, mean time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.completionTimes) == 0 {
		return 0, 0, 0
	}
	min, max = d.completionTimes[0], d.completionTimes[0]
	var sum time.Duration
	for _, v := range d.completionTimes {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}
	return min, max, sum / time.Duration(len(d.completionTimes))
}
