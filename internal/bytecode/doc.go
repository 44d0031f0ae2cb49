// Package bytecode reads, rewrites and assembles WebAssembly binaries.
//
// It decodes just enough of a module to validate it statically (imports,
// exports, types, globals, custom sections, instruction stream) and to
// re-encode it with gas metering injected. Builder assembles small modules
// for tests and examples.
package bytecode
