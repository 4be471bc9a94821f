// Package profile implements the per-instance and per-fragment execution
// profile tree that the Progress/Profile Aggregator merges worker reports
// into (spec.md §3, §4.4).
//
// A Profile is a tree of named counters and timers, the same shape as the
// runtime profile the original Impala coordinator maintains per fragment
// instance: a root node per fragment, with exec-node children, some of
// which are scan nodes carrying throughput and scan-ranges-complete
// counters that the aggregator memoizes pointers to.
package profile

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/SofiaNunes/distcoord/internal/syncutil"
)

// Counter is a single named, monotonically-updated statistic. Reads and
// writes are synchronized independently of the owning Profile's lock so
// that a caller can hold no Coordinator-level lock while reading a counter
// value (spec.md §5: "no Coordinator lock may be held during a counter
// value read").
type Counter struct {
	mu    syncutil.Mutex
	value int64
}

// Add adds delta to the counter's value. delta may be negative for
// timers that get replaced wholesale by SetTo.
func (c *Counter) Add(delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value += delta
}

// SetTo overwrites the counter's value.
func (c *Counter) SetTo(v int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
}

// Value returns the counter's current value.
func (c *Counter) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Well-known counter names scanned for by the aggregator when it memoizes
// AggregateCounters for a scan node (spec.md §4.4 step 2).
const (
	CounterScanRangesComplete = "ScanRangesComplete"
	CounterTotalThroughput    = "TotalReadThroughputBytes"
)

// Profile is a node in the per-instance/per-fragment profile tree.
type Profile struct {
	Name string

	// NodeID identifies the exec node this profile node corresponds to, or
	// nil for fragment-level aggregate nodes (the averaged profile, the
	// root/collection profile).
	NodeID *int
	// IsScanNode marks leaf scan-node profiles, the only nodes the
	// aggregator memoizes throughput/scan-ranges counters for.
	IsScanNode bool

	mu       syncutil.Mutex
	counters map[string]*Counter
	timers   map[string]time.Duration
	children []*Profile
	attached map[*Profile]bool // idempotent AddChild bookkeeping
}

// New creates an empty, unattached profile node.
func New(name string) *Profile {
	return &Profile{
		Name:     name,
		counters: make(map[string]*Counter),
		timers:   make(map[string]time.Duration),
		attached: make(map[*Profile]bool),
	}
}

// Counter returns the named counter, creating it if absent.
func (p *Profile) Counter(name string) *Counter {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.counters[name]
	if !ok {
		c = &Counter{}
		p.counters[name] = c
	}
	return c
}

// LookupCounter returns the named counter without creating it.
func (p *Profile) LookupCounter(name string) (*Counter, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.counters[name]
	return c, ok
}

// SetTimer records a named duration (e.g. "TotalTime", "TimeInProfile").
func (p *Profile) SetTimer(name string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timers[name] = d
}

// Timer returns the named duration.
func (p *Profile) Timer(name string) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timers[name]
}

// AddChild attaches child under p. It is idempotent: re-attaching the same
// child pointer (e.g. on a repeated cumulative-profile update from the same
// instance) is a no-op, matching the teacher's row-receiver idempotent
// setup semantics and spec.md §4.4's "add-child is a no-op if already
// attached".
func (p *Profile) AddChild(child *Profile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.attached[child] {
		return
	}
	p.attached[child] = true
	p.children = append(p.children, child)
}

// Children returns a snapshot of the attached children.
func (p *Profile) Children() []*Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Profile, len(p.children))
	copy(out, p.children)
	return out
}

// SortChildren sorts this node's children (and recursively theirs) by name.
// Must only be called once no concurrent profile update can race with it —
// see the "concurrent profile update vs summary report" design note in
// spec.md §9: callers must only invoke this after WaitForAllBackends
// returns, or from within CancelRemoteFragments once every backend status
// has been pinned to CANCELLED.
func (p *Profile) SortChildren() {
	p.mu.Lock()
	children := make([]*Profile, len(p.children))
	copy(children, p.children)
	p.mu.Unlock()

	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
	for _, c := range children {
		c.SortChildren()
	}

	p.mu.Lock()
	p.children = children
	p.mu.Unlock()
}

// ApplyTree recursively applies other's values onto p and its children,
// matching children positionally — the same position across two cumulative
// reports from the same worker is the same exec node, since a fragment
// instance's profile tree shape never changes across its own reports. A
// child present in other with no positional counterpart in p is adopted by
// AddChild rather than copied, so the Counter objects FindScanNodeCounters
// later memoizes a pointer to stay the ones that keep getting updated by
// every subsequent ApplyTree call (spec.md §4.4 step 2's "profile_created
// scanned once" requirement depends on this identity being stable).
func (p *Profile) ApplyTree(other *Profile) {
	p.Apply(other)
	otherChildren := other.Children()
	pChildren := p.Children()
	for i, oc := range otherChildren {
		if i < len(pChildren) {
			pChildren[i].ApplyTree(oc)
		} else {
			p.AddChild(oc)
		}
	}
}

// Apply fully replaces p's own counters and timers with other's values —
// the "cumulative profile fully replaces prior" semantics of spec.md §4.4
// at a single node. It does not touch p's children; see ApplyTree for the
// recursive form the aggregator uses.
func (p *Profile) Apply(other *Profile) {
	other.mu.Lock()
	counters := make(map[string]int64, len(other.counters))
	for name, c := range other.counters {
		counters[name] = c.Value()
	}
	timers := make(map[string]time.Duration, len(other.timers))
	for name, d := range other.timers {
		timers[name] = d
	}
	other.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	for name, v := range counters {
		c, ok := p.counters[name]
		if !ok {
			c = &Counter{}
			p.counters[name] = c
		}
		c.SetTo(v)
	}
	for name, d := range timers {
		p.timers[name] = d
	}
}

// Average returns a new profile whose counters are the mean of insts'
// corresponding counters (over the instances that carry each counter),
// one row of the "averaged profile" per fragment that spec.md §3 names. With a single instance (the coordinator fragment case) the
// average equals the value.
func Average(insts []*Profile) *Profile {
	avg := New("averaged")
	if len(insts) == 0 {
		return avg
	}
	sums := make(map[string]int64)
	counts := make(map[string]int64)
	for _, inst := range insts {
		inst.mu.Lock()
		for name, c := range inst.counters {
			sums[name] += c.Value()
			counts[name]++
		}
		inst.mu.Unlock()
	}
	for name, sum := range sums {
		n := counts[name]
		if n == 0 {
			continue
		}
		avg.Counter(name).SetTo(sum / n)
	}
	return avg
}

// profileWire is the JSON wire shape a Profile travels in as
// ExecStatusReport.CumulativeProfile (spec.md §6): counters are flattened
// to their current values and children are nested recursively, since
// Profile's own fields are private and mutex-guarded and encoding/json
// cannot see into them without this pair of methods.
type profileWire struct {
	Name       string           `json:"name"`
	NodeID     *int             `json:"node_id,omitempty"`
	IsScanNode bool             `json:"is_scan_node,omitempty"`
	Counters   map[string]int64 `json:"counters,omitempty"`
	Timers     map[string]int64 `json:"timers,omitempty"` // nanoseconds
	Children   []*profileWire   `json:"children,omitempty"`
}

func (p *Profile) toWire() *profileWire {
	p.mu.Lock()
	w := &profileWire{Name: p.Name, NodeID: p.NodeID, IsScanNode: p.IsScanNode}
	if len(p.counters) > 0 {
		w.Counters = make(map[string]int64, len(p.counters))
	}
	for name, c := range p.counters {
		w.Counters[name] = c.Value()
	}
	if len(p.timers) > 0 {
		w.Timers = make(map[string]int64, len(p.timers))
	}
	for name, d := range p.timers {
		w.Timers[name] = int64(d)
	}
	children := make([]*Profile, len(p.children))
	copy(children, p.children)
	p.mu.Unlock()

	for _, c := range children {
		w.Children = append(w.Children, c.toWire())
	}
	return w
}

// populate fills an already-constructed Profile (via New, so its maps are
// non-nil) from w, recursively attaching children.
func (w *profileWire) populate(p *Profile) {
	p.Name = w.Name
	p.NodeID = w.NodeID
	p.IsScanNode = w.IsScanNode
	for name, v := range w.Counters {
		p.Counter(name).SetTo(v)
	}
	for name, d := range w.Timers {
		p.SetTimer(name, time.Duration(d))
	}
	for _, cw := range w.Children {
		child := New(cw.Name)
		cw.populate(child)
		p.AddChild(child)
	}
}

// MarshalJSON serializes the full profile tree — every counter's current
// value, every timer, and every child recursively.
func (p *Profile) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.toWire())
}

// UnmarshalJSON rebuilds a profile tree from its wire form. p need not
// come from New: a zero Profile (as json.Unmarshal allocates via
// reflection) has its nil maps allocated here before populating.
func (p *Profile) UnmarshalJSON(data []byte) error {
	var w profileWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if p.counters == nil {
		p.counters = make(map[string]*Counter)
	}
	if p.timers == nil {
		p.timers = make(map[string]time.Duration)
	}
	if p.attached == nil {
		p.attached = make(map[*Profile]bool)
	}
	w.populate(p)
	return nil
}
