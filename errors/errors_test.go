package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseLinking,
				Kind:   KindReentrancy,
				Path:   []string{"alice", "bob"},
				Detail: "contract \"alice\" is already on the call stack",
			},
			contains: []string{"[linking]", "reentrancy", "alice -> bob", "already on the call stack"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseRegion,
				Kind:  KindOutOfBounds,
			},
			contains: []string{"[region]", "out_of_bounds"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseHost,
				Kind:   KindHostError,
				Detail: "db_read",
				Cause:  errors.New("disk on fire"),
			},
			contains: []string{"[host]", "host_error", "db_read", "caused by", "disk on fire"},
		},
		{
			name:     "sentinel without phase",
			err:      ErrOutOfGas,
			contains: []string{"out_of_gas"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Host("db_write", cause)

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if errors.Unwrap(err) != cause {
		t.Error("errors.Unwrap must return the collaborator error unchanged")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase: PhaseLinking,
		Kind:  KindPermissionDenied,
	}

	if !err.Is(&Error{Phase: PhaseLinking, Kind: KindPermissionDenied}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseHost, Kind: KindPermissionDenied}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseLinking, Kind: KindReentrancy}) {
		t.Error("Is should not match different kind")
	}
	if !errors.Is(err, ErrPermissionDenied) {
		t.Error("sentinel should match any phase")
	}
	if errors.Is(err, ErrTrap) {
		t.Error("sentinel should not match different kind")
	}
}

func TestIsThroughWrapping(t *testing.T) {
	inner := OutOfGas(10, 3)
	wrapped := fmt.Errorf("%w (recovered by wazero)\nwasm stack trace:\n\t...", inner)

	if !errors.Is(wrapped, ErrOutOfGas) {
		t.Fatal("errors.Is should see through fmt wrapping")
	}
	if got := KindOf(wrapped); got != KindOutOfGas {
		t.Fatalf("KindOf = %q, want %q", got, KindOutOfGas)
	}
	e, ok := As(wrapped)
	if !ok || e != inner {
		t.Fatalf("As = %v, %v", e, ok)
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("KindOf of a plain error should be empty")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseLinking, KindCallDepthExceeded).
		Path("a", "b", "c").
		Value(3).
		Cause(cause).
		Detail("depth %d exceeds limit %d", 3, 2).
		Build()

	if err.Phase != PhaseLinking {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseLinking)
	}
	if err.Kind != KindCallDepthExceeded {
		t.Errorf("Kind = %v, want %v", err.Kind, KindCallDepthExceeded)
	}
	if len(err.Path) != 3 || err.Path[2] != "c" {
		t.Errorf("Path = %v, want [a b c]", err.Path)
	}
	if err.Value != 3 {
		t.Errorf("Value = %v, want 3", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "depth 3 exceeds limit 2" {
		t.Errorf("Detail = %q", err.Detail)
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		kind Kind
	}{
		{"Compile", Compile("bad magic", nil), KindCompile},
		{"Validation", Validation("too many exports: %d", 200), KindValidation},
		{"VersionMismatch", VersionMismatch(PhaseValidate, "interface_version_9"), KindVersionMismatch},
		{"Trap", Trap("unreachable", nil), KindTrap},
		{"OutOfGas", OutOfGas(5, 4), KindOutOfGas},
		{"Host", Host("query_chain", errors.New("x")), KindHostError},
		{"OutOfBounds", OutOfBounds(65530, 12, 65536), KindOutOfBounds},
		{"RegionTooSmall", RegionTooSmall(10, 4), KindRegionTooSmall},
		{"Resolution", Resolution("nobody", nil), KindResolution},
		{"InterfaceMismatch", InterfaceMismatch("add", "arity 2, want 1"), KindInterfaceMismatch},
		{"PermissionDenied", PermissionDenied(PhaseLinking, "caller not allowed"), KindPermissionDenied},
		{"Reentrancy", Reentrancy("a", []string{"a", "b"}), KindReentrancy},
		{"CallDepthExceeded", CallDepthExceeded(3, 2, nil), KindCallDepthExceeded},
		{"NotFound", NotFound(PhaseCache, "code", "abc"), KindNotFound},
		{"InvalidInput", InvalidInput(PhaseCache, "checksum mismatch"), KindInvalidInput},
		{"NotInitialized", NotInitialized(PhaseRuntime, "instance"), KindNotInitialized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", tt.err.Kind, tt.kind)
			}
			if tt.err.Phase == "" {
				t.Error("constructor should set a phase")
			}
		})
	}

	if d := OutOfBounds(65530, 12, 65536).Detail; !strings.Contains(d, "65542") {
		t.Errorf("OutOfBounds detail %q should include span end", d)
	}
}
