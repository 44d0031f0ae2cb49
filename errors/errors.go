package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseCompile     Phase = "compile"     // bytecode decoding and backend compilation
	PhaseValidate    Phase = "validate"    // static module checks
	PhaseCache       Phase = "cache"       // module cache and artifact stores
	PhaseInstantiate Phase = "instantiate" // instance creation
	PhaseRuntime     Phase = "runtime"     // guest execution
	PhaseHost        Phase = "host"        // host import handling
	PhaseRegion      Phase = "region"      // host/guest buffer exchange
	PhaseGas         Phase = "gas"         // metering
	PhaseLinking     Phase = "linking"     // dynamic link calls
	PhaseConfig      Phase = "config"      // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	KindCompile           Kind = "compile"
	KindValidation        Kind = "validation"
	KindVersionMismatch   Kind = "version_mismatch"
	KindTrap              Kind = "trap"
	KindOutOfGas          Kind = "out_of_gas"
	KindHostError         Kind = "host_error"
	KindOutOfBounds       Kind = "out_of_bounds"
	KindRegionTooSmall    Kind = "region_too_small"
	KindResolution        Kind = "resolution"
	KindInterfaceMismatch Kind = "interface_mismatch"
	KindPermissionDenied  Kind = "permission_denied"
	KindReentrancy        Kind = "reentrancy"
	KindCallDepthExceeded Kind = "call_depth_exceeded"
	KindInvalidInput      Kind = "invalid_input"
	KindNotFound          Kind = "not_found"
	KindNotInitialized    Kind = "not_initialized"
)

// Sentinels for errors.Is checks. They match any error of the same Kind
// regardless of phase.
var (
	ErrCompile           = &Error{Kind: KindCompile}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrVersionMismatch   = &Error{Kind: KindVersionMismatch}
	ErrTrap              = &Error{Kind: KindTrap}
	ErrOutOfGas          = &Error{Kind: KindOutOfGas}
	ErrHostError         = &Error{Kind: KindHostError}
	ErrOutOfBounds       = &Error{Kind: KindOutOfBounds}
	ErrRegionTooSmall    = &Error{Kind: KindRegionTooSmall}
	ErrResolution        = &Error{Kind: KindResolution}
	ErrInterfaceMismatch = &Error{Kind: KindInterfaceMismatch}
	ErrPermissionDenied  = &Error{Kind: KindPermissionDenied}
	ErrReentrancy        = &Error{Kind: KindReentrancy}
	ErrCallDepthExceeded = &Error{Kind: KindCallDepthExceeded}
	ErrInvalidInput      = &Error{Kind: KindInvalidInput}
	ErrNotFound          = &Error{Kind: KindNotFound}
)

// Error is the structured error type used throughout the VM
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	if e.Phase != "" {
		b.WriteByte('[')
		b.WriteString(string(e.Phase))
		b.WriteString("] ")
	}
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, " -> "))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. A target without a phase
// matches on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase == "" {
		return e.Kind == t.Kind
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" when the
// chain carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is is errors.Is from the standard library.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the call path, outermost first
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Compile creates an error for structurally invalid bytecode or a backend
// compilation failure.
func Compile(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseCompile,
		Kind:   KindCompile,
		Detail: detail,
		Cause:  cause,
	}
}

// Validation creates a static check rejection.
func Validation(format string, args ...any) *Error {
	return &Error{
		Phase:  PhaseValidate,
		Kind:   KindValidation,
		Detail: fmt.Sprintf(format, args...),
	}
}

// VersionMismatch creates an interface version negotiation failure.
func VersionMismatch(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindVersionMismatch,
		Detail: detail,
	}
}

// Trap wraps a guest trap.
func Trap(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindTrap,
		Detail: detail,
		Cause:  cause,
	}
}

// OutOfGas creates a meter exhaustion error.
func OutOfGas(requested, remaining uint64) *Error {
	return &Error{
		Phase:  PhaseGas,
		Kind:   KindOutOfGas,
		Detail: fmt.Sprintf("requested %d, remaining %d", requested, remaining),
		Value:  requested,
	}
}

// Host wraps a collaborator failure. The collaborator's error is kept as the
// cause unchanged.
func Host(operation string, cause error) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindHostError,
		Detail: operation,
		Cause:  cause,
	}
}

// OutOfBounds creates a guest memory bounds violation.
func OutOfBounds(offset, length uint64, size uint32) *Error {
	return &Error{
		Phase:  PhaseRegion,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("span [%d, %d) exceeds memory size %d", offset, offset+length, size),
		Value:  offset,
	}
}

// RegionTooSmall reports a write larger than the destination capacity.
func RegionTooSmall(needed int, capacity uint32) *Error {
	return &Error{
		Phase:  PhaseRegion,
		Kind:   KindRegionTooSmall,
		Detail: fmt.Sprintf("need %d bytes, region capacity %d", needed, capacity),
		Value:  needed,
	}
}

// Resolution reports a callee that could not be located.
func Resolution(address string, cause error) *Error {
	return &Error{
		Phase:  PhaseLinking,
		Kind:   KindResolution,
		Detail: fmt.Sprintf("resolve contract %q", address),
		Cause:  cause,
	}
}

// InterfaceMismatch reports a caller/callee signature disagreement.
func InterfaceMismatch(point, detail string) *Error {
	return &Error{
		Phase:  PhaseLinking,
		Kind:   KindInterfaceMismatch,
		Detail: fmt.Sprintf("callable point %q: %s", point, detail),
	}
}

// PermissionDenied reports an unauthorized call or write.
func PermissionDenied(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindPermissionDenied,
		Detail: detail,
	}
}

// Reentrancy reports a callee already present on the call stack.
func Reentrancy(address string, path []string) *Error {
	return &Error{
		Phase:  PhaseLinking,
		Kind:   KindReentrancy,
		Detail: fmt.Sprintf("contract %q is already on the call stack", address),
		Path:   path,
		Value:  address,
	}
}

// CallDepthExceeded reports a push beyond the configured stack depth.
func CallDepthExceeded(depth, limit int, path []string) *Error {
	return &Error{
		Phase:  PhaseLinking,
		Kind:   KindCallDepthExceeded,
		Detail: fmt.Sprintf("depth %d exceeds limit %d", depth, limit),
		Path:   path,
		Value:  depth,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// NotInitialized creates a not-initialized error for missing module/instance
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}
