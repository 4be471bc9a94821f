// Package schedule pins the output contract of the scheduler (spec.md §1:
// "the scheduler ... out of scope except its output contract"). The
// scheduler itself — host assignment, scan-range assignment — is not
// implemented here; only the QuerySchedule shape the Coordinator consumes.
package schedule

import (
	"github.com/SofiaNunes/distcoord/pkg/execrpc"
)

// QuerySchedule is what a planner+scheduler hands the Coordinator's Exec
// (spec.md §4.1): fragments in left-to-right order, per-fragment host
// assignment, scan-range assignment, optional resource reservation, and
// whatever finalize parameters the DML sink needs.
type QuerySchedule struct {
	QueryID          execrpc.QueryID
	Fragments        []FragmentExecParams // index = fragment_idx
	RequiresFinalize bool
	Finalize         FinalizeParams
	Reservation      *execrpc.ResourceReservation // nil if none
	TotalScanRanges  int
	DebugOptionsSpec string // raw "[backend_num:]node_id:phase:action" query option
	StmtType         StmtType
	DescriptorTable  []byte
	QueryContext     []byte
}

// StmtType distinguishes DML (whose completion triggers finalize and
// ReportQuerySummary with insert stats) from other statement kinds.
type StmtType int

const (
	StmtOther StmtType = iota
	StmtDML
)

// FragmentExecParams describes one fragment's instances. Fragment 0 is the
// coordinator fragment iff Unpartitioned is true; per spec.md §3 it is
// then not counted in backend_num.
type FragmentExecParams struct {
	FragmentIdx   int
	Unpartitioned bool
	Fragment      execrpc.PlanFragment
	Instances     []InstanceExecParams
}

// InstanceExecParams describes one fragment instance's placement and
// scan-range assignment.
type InstanceExecParams struct {
	FragmentInstanceID  execrpc.FragmentInstanceID
	Host                string
	Port                int
	ScanRangeAssignment map[string][]execrpc.ScanRange // per host, leftmost scan only
	SenderDestinations  []string
	ExchangeSenderCount int
}

// TotalSplitSize sums the byte length of every scan range assigned to this
// instance, the BackendExecState.total_split_size field (spec.md §3).
func (p InstanceExecParams) TotalSplitSize() int64 {
	var total int64
	for _, ranges := range p.ScanRangeAssignment {
		for _, r := range ranges {
			total += r.Length
		}
	}
	return total
}

// FinalizeParams carries the DML finalizer's directory/overwrite
// configuration (spec.md §3, §4.5).
type FinalizeParams struct {
	BaseDir     string
	StagingDir  string
	Overwrite   bool
	// TargetPartitions enumerates the partitions the query wrote to, keyed
	// by partition key ("" for an unpartitioned table).
	TargetPartitions []PartitionTarget
}

// PartitionTarget is one partition directory the finalizer must prepare.
type PartitionTarget struct {
	PartitionKey string // "" for an unpartitioned table
	Dir          string
}
