// Package perror defines the error taxonomy shared by every ProcessWarp
// subsystem (§7). Errors carry a Kind so callers can decide whether a
// failure terminates a thread, a process, or is merely logged and the
// offending packet dropped.
package perror

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is the taxonomic error classification from spec.md §7. It is not
// a Go error type hierarchy, just a tag used for propagation policy.
type Kind int

const (
	// SegmentFault covers bad vaddrs, longjmp stack underflow, and
	// out-of-range indirect jumps.
	SegmentFault Kind = iota
	// Inst covers unknown opcodes or malformed operands.
	Inst
	// TypeViolation covers an op applied to an incompatible type.
	TypeViolation
	// Memory covers lost page ownership or page corruption.
	Memory
	// ExtLibrary, Configure, ServerApp, ServerSys are external
	// collaborator failures reported verbatim to the caller.
	ExtLibrary
	Configure
	ServerApp
	ServerSys
)

func (k Kind) String() string {
	switch k {
	case SegmentFault:
		return "SEGMENT_FAULT"
	case Inst:
		return "INST"
	case TypeViolation:
		return "TYPE_VIOLATION"
	case Memory:
		return "MEMORY"
	case ExtLibrary:
		return "EXT_LIBRARY"
	case Configure:
		return "CONFIGURE"
	case ServerApp:
		return "SERVER_APP"
	case ServerSys:
		return "SERVER_SYS"
	default:
		return "UNKNOWN"
	}
}

// Error is the concrete error value raised by the interpreter, vmem, and
// router/scheduler packages.
type Error struct {
	Kind  Kind
	Op    string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Op)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error with no wrapped cause.
func New(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// Wrap attaches op/kind context to cause, preserving the chain via
// github.com/pkg/errors.Wrap, which records a stack trace at this Wrap
// call rather than at the original failure site.
func Wrap(kind Kind, op string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Cause: errors.Wrap(cause, op)}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

// ControllerReply is the user-visible failure surface of §7: a
// {result:-1, reason, message} response on the controller channel.
type ControllerReply struct {
	Result  int    `json:"result"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// ToControllerReply renders err (a *Error) into the controller channel
// shape. Non-perror errors are reported with a generic SERVER_SYS reason.
func ToControllerReply(err error) ControllerReply {
	var pe *Error
	if errors.As(err, &pe) {
		return ControllerReply{Result: -1, Reason: pe.Kind.String(), Message: pe.Error()}
	}
	return ControllerReply{Result: -1, Reason: ServerSys.String(), Message: err.Error()}
}
