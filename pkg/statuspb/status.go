// Package statuspb defines the wire-safe status representation exchanged
// between the Coordinator and workers, and the error-kind classification
// from spec.md §7: INTERNAL, RPC, REMOTE, CANCELLED, FS, USER.
//
// The Coordinator's internal state (query_status, BackendExecState.status)
// is a plain Go error classified via errors.Is against the sentinels
// below; Status is only the wire/DTO shape used at RPC and test
// boundaries, mirroring how the teacher keeps a rich Go error internally
// but a flat proto Status on the wire (e.g. DistSQLReceiver.commErr vs.
// the RPC-level error returned to pgwire).
package statuspb

import "github.com/cockroachdb/errors"

// Code classifies the kind of failure a Status carries.
type Code int

const (
	// OK indicates success; Status values with Code OK carry no error.
	OK Code = iota
	// Internal means a coordinator invariant was violated (e.g. an
	// out-of-range backend_num in a status report).
	Internal
	// RPC means a transport-level failure talking to a worker.
	RPC
	// Remote means a worker reported a non-OK status for its own
	// execution.
	Remote
	// Cancelled means the query was cancelled, by the client or by a
	// tail-cancel sweep.
	Cancelled
	// FS means a filesystem operation failed during DML finalization.
	FS
	// User means a client-supplied directive (e.g. a debug option string)
	// was malformed or rejected. Malformed directives are degraded
	// silently by the parser; the one User error surfaced is Exec's
	// rejection of a CLOSE:WAIT debug directive.
	User
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case Internal:
		return "INTERNAL"
	case RPC:
		return "RPC"
	case Remote:
		return "REMOTE"
	case Cancelled:
		return "CANCELLED"
	case FS:
		return "FS"
	case User:
		return "USER"
	default:
		return "UNKNOWN"
	}
}

// Status is the wire-safe, serializable status shape.
type Status struct {
	Code    Code
	Message string
}

// OKStatus is the canonical success value.
var OKStatus = Status{Code: OK}

// Ok reports whether s represents success.
func (s Status) Ok() bool { return s.Code == OK }

// sentinel markers, one per Code, used with errors.Mark/errors.Is so
// classification never relies on string matching.
var (
	markInternal  = errors.New("status: internal")
	markRPC       = errors.New("status: rpc")
	markRemote    = errors.New("status: remote")
	markCancelled = errors.New("status: cancelled")
	markFS        = errors.New("status: fs")
	markUser      = errors.New("status: user")
)

func markerFor(c Code) error {
	switch c {
	case Internal:
		return markInternal
	case RPC:
		return markRPC
	case Remote:
		return markRemote
	case Cancelled:
		return markCancelled
	case FS:
		return markFS
	case User:
		return markUser
	default:
		return markInternal
	}
}

// NewError builds a classified error for the given code.
func NewError(c Code, format string, args ...interface{}) error {
	if c == OK {
		return nil
	}
	return errors.Mark(errors.Newf(format, args...), markerFor(c))
}

// WrapError classifies an existing error under the given code.
func WrapError(c Code, err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, markerFor(c))
}

// ClassifyError returns the Code an error was marked with, or Internal if
// it carries no recognized mark (treated as an unclassified invariant
// violation rather than silently swallowed).
func ClassifyError(err error) Code {
	if err == nil {
		return OK
	}
	for _, c := range []Code{Internal, RPC, Remote, Cancelled, FS, User} {
		if errors.Is(err, markerFor(c)) {
			return c
		}
	}
	return Internal
}

// ToStatus converts an error to its wire-safe Status.
func ToStatus(err error) Status {
	if err == nil {
		return OKStatus
	}
	return Status{Code: ClassifyError(err), Message: err.Error()}
}

// ToError converts a wire-safe Status back to a classified error, or nil
// if the status is OK.
func (s Status) ToError() error {
	if s.Ok() {
		return nil
	}
	return WrapError(s.Code, errors.Newf("%s", s.Message))
}

// IsCancelled reports whether err is classified as Cancelled.
func IsCancelled(err error) bool { return errors.Is(err, markCancelled) }
