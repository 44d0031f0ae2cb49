// Package vmtest provides contract fixtures and in-memory collaborators for
// tests and examples.
//
// Fixtures are assembled with the internal bytecode builder, so no external
// toolchain is needed. Every fixture follows the contract ABI: it exports
// memory, allocate, deallocate and instantiate and imports
// env.interface_version_1.
package vmtest
