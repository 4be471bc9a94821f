package profile

// AggregateCounters memoizes pointers to a single instance's scan-node
// throughput and scan-ranges-complete counters, keyed by plan node id.
// The Progress/Profile Aggregator builds one of these the first time a
// given BackendExecState's profile is updated (spec.md §4.4 step 2,
// "profile_created false -> true") so that later updates and derived
// per-query counter reads never have to re-walk the profile tree.
type AggregateCounters struct {
	// ScanNodes maps plan node id to that scan node's counters within this
	// instance's profile tree.
	ScanNodes map[int]*ScanNodeCounters
}

// ScanNodeCounters holds the memoized counter pointers for one scan node.
type ScanNodeCounters struct {
	Throughput         *Counter
	ScanRangesComplete *Counter
}

// FindScanNodeCounters walks root's subtree and memoizes the throughput and
// scan-ranges-complete counters of every scan node found. Called at most
// once per BackendExecState (guarded by profile_created in the caller).
func FindScanNodeCounters(root *Profile) *AggregateCounters {
	agg := &AggregateCounters{ScanNodes: make(map[int]*ScanNodeCounters)}
	var walk func(p *Profile)
	walk = func(p *Profile) {
		if p.IsScanNode && p.NodeID != nil {
			snc := &ScanNodeCounters{}
			if c, ok := p.LookupCounter(CounterTotalThroughput); ok {
				snc.Throughput = c
			} else {
				snc.Throughput = p.Counter(CounterTotalThroughput)
			}
			if c, ok := p.LookupCounter(CounterScanRangesComplete); ok {
				snc.ScanRangesComplete = c
			} else {
				snc.ScanRangesComplete = p.Counter(CounterScanRangesComplete)
			}
			agg.ScanNodes[*p.NodeID] = snc
		}
		for _, c := range p.Children() {
			walk(c)
		}
	}
	walk(root)
	return agg
}
