// Package engine compiles contract bytecode with wazero.
//
// Compile runs four stages:
//
//  1. Decode the module structure (CompileError on malformed input)
//  2. Static validation (ValidationError, VersionMismatchError)
//  3. Gas instrumentation of every function body
//  4. wazero compilation of the instrumented module
//
// # Validation
//
//   - exactly one defined memory, exported as "memory", no maximum, initial
//     size within Config.MemoryLimitPages
//   - exactly one env.interface_version_<N> import with N supported
//   - imports only from env (with the host's exact signature and an
//     enabled capability) or from dynamiclinked_<ns> modules
//   - allocate(i32) -> i32, deallocate(i32) and instantiate exported
//   - entry points take and return region pointers
//   - callable points declared in the contractvm.dynamic_link section
//     export the lowered core signature of their WIT signature
//   - no start function, no SIMD or threads, and no floats unless
//     Config.AllowFloats is set
//
// # Metering
//
// The instrumented module carries two extra exported globals, the gas
// counter and the exhaustion flag. Instance.SetGasLeft and
// Instance.GasLeft let the host keep its meter in sync at every boundary.
//
// # Dynamic Links
//
// Each dynamiclinked_ import is renamed to a host module unique to its
// name and signature. Calls land in the LinkHandler installed with
// Engine.SetLinkHandler.
//
// # Artifacts
//
// Module.Artifact serializes the instrumented module with its Info;
// Engine.Restore rebuilds the module without re-running validation.
package engine
