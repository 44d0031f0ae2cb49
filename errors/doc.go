// Package errors provides the structured error taxonomy of the contract VM.
//
// Errors are categorized by Phase (where the error occurred) and Kind (what
// went wrong). Kinds mirror the failure classes a top-level caller must tell
// apart: compile and validation rejections, version mismatches, guest traps,
// gas exhaustion, collaborator failures, region violations and the dynamic
// link rejections (resolution, interface mismatch, permission, re-entrancy,
// call depth).
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseLinking, errors.KindReentrancy).
//		Path("alice", "bob").
//		Detail("contract %q is already on the call stack", "alice").
//		Build()
//
// Or use the constructors for common patterns:
//
//	err := errors.OutOfGas(requested, remaining)
//	err := errors.RegionTooSmall(len(data), capacity)
//
// Sentinels match by kind, so callers classify results with the standard
// library:
//
//	if errors.Is(err, vmerrors.ErrOutOfGas) { ... }
package errors
