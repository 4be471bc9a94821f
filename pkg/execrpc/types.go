// Package execrpc defines the on-wire RPC surface between the Coordinator
// and worker nodes (spec.md §6): ExecPlanFragment, CancelPlanFragment
// (outbound to workers) and UpdateFragmentExecStatus (inbound from
// workers, called ReportExecStatus in spec.md prose). The concrete byte
// encoding of a plan fragment is out of scope (spec.md §1 Non-goals); it
// is carried as an opaque blob.
package execrpc

import (
	"time"

	"github.com/google/uuid"

	"github.com/SofiaNunes/distcoord/pkg/profile"
	"github.com/SofiaNunes/distcoord/pkg/statuspb"
)

// ProtocolVersion is sent on every RPC so a coordinator and worker running
// skewed binaries fail fast instead of misinterpreting opaque payloads.
const ProtocolVersion = 1

// QueryID opaquely and globally identifies one query (spec.md §3).
type QueryID struct{ uuid.UUID }

// NewQueryID generates a fresh QueryID.
func NewQueryID() QueryID { return QueryID{uuid.New()} }

// FragmentInstanceID identifies one worker-side execution of one fragment.
type FragmentInstanceID struct{ uuid.UUID }

// NewFragmentInstanceID generates a fresh FragmentInstanceID.
func NewFragmentInstanceID() FragmentInstanceID { return FragmentInstanceID{uuid.New()} }

// PlanFragment is the opaque, already-compiled fragment payload; its
// encoding is out of scope.
type PlanFragment struct {
	Blob []byte
}

// ScanRange is a byte-offset range on an input source, the unit of
// scheduling for leaf scan nodes (spec.md GLOSSARY).
type ScanRange struct {
	Path   string
	Offset int64
	Length int64
}

// ResourceReservation is the per-host reserved resource blob and resource
// endpoint the scheduler attaches when the plan has a resource
// reservation (spec.md §6).
type ResourceReservation struct {
	ReservationID   string
	ResourceEndpoint string
}

// DebugDirective is the wire form of a parsed debug-options query option
// (spec.md §4.1 step 5, §6): the exec node it targets, the lifecycle
// phase to act at, and the action to take. Carried opaquely to the
// targeted instance only — interpreting it against a live exec-node tree
// is the worker's concern, out of scope here (spec.md §1 Non-goals).
type DebugDirective struct {
	NodeID int
	Phase  string
	Action string
}

// RPCParams is the payload of one ExecPlanFragment RPC, assembled per the
// contract in spec.md §6: protocol version, fragment blob, descriptor
// table, per-instance fragment_instance_id, per-host scan-range
// assignment, per-exchange sender counts, sender destinations,
// coordinator host/port, backend_num, query context, and — if present —
// the reservation blob/endpoint.
type RPCParams struct {
	ProtocolVersion int
	QueryID         QueryID
	Fragment        PlanFragment
	DescriptorTable []byte // opaque descriptor table blob

	FragmentInstanceID FragmentInstanceID
	BackendNum         int
	FragmentIdx        int

	ScanRangeAssignment map[string][]ScanRange // per host
	SenderDestinations  []string
	ExchangeSenderCount int

	CoordinatorHost string
	CoordinatorPort int

	QueryContext []byte // opaque query context blob

	Reservation *ResourceReservation // nil if the schedule has none

	// DebugDirective is non-nil iff a parsed debug-options query option
	// applies to this instance's backend_num (spec.md §4.1 step 5).
	DebugDirective *DebugDirective
}

// ExecResult is the reply to an ExecPlanFragment RPC.
type ExecResult struct {
	Status statuspb.Status
}

// CancelParams is the payload of one CancelPlanFragment RPC.
type CancelParams struct {
	ProtocolVersion    int
	FragmentInstanceID FragmentInstanceID
}

// CancelResult is the reply to a CancelPlanFragment RPC.
type CancelResult struct {
	Status statuspb.Status
}

// InsertExecStatus carries DML side-effect accumulators reported by a
// worker once its instance is done (spec.md §3, §4.4 step 3).
type InsertExecStatus struct {
	// PartitionRowCounts maps partition key -> rows appended by this
	// instance.
	PartitionRowCounts map[string]int64
	// FilesToMove lists src->dst moves this instance's sink produced; dst
	// empty means src is a temp directory to be deleted in Phase 3.
	FilesToMove []FileMove
	// PartitionInsertStats maps partition key -> per-partition stats (e.g.
	// for computed-stats DML) to be merged into the coordinator's global
	// accumulator.
	PartitionInsertStats map[string]*PartitionInsertStat
}

// FileMove is one entry of a finalize-time file move.
type FileMove struct {
	Src string
	Dst string
}

// PartitionInsertStat is a per-partition DML statistics record merged
// across all instances that wrote to that partition.
type PartitionInsertStat struct {
	NumRows       int64
	NumDistinctValues map[string]int64
}

// Merge merges other into s, summing numeric stats.
func (s *PartitionInsertStat) Merge(other *PartitionInsertStat) {
	s.NumRows += other.NumRows
	if s.NumDistinctValues == nil {
		s.NumDistinctValues = make(map[string]int64, len(other.NumDistinctValues))
	}
	for k, v := range other.NumDistinctValues {
		s.NumDistinctValues[k] += v
	}
}

// ExecStatusReport is the payload workers periodically push back via
// UpdateFragmentExecStatus (spec.md §6).
type ExecStatusReport struct {
	ProtocolVersion  int
	BackendNum       int
	Status           statuspb.Status
	Done             bool
	CumulativeProfile *profile.Profile
	ErrorLog         []string
	InsertExecStatus *InsertExecStatus // nil unless Done and DML produced output
	ReportedAt       time.Time
}

// StatusAck is the reply to UpdateFragmentExecStatus; spec.md §4.4 step 4
// requires worker-reported errors to never propagate back to the RPC
// caller, so this is always a bare acknowledgement.
type StatusAck struct{}
