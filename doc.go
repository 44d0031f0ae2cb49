// Package contractvm is a sandboxed execution engine for WebAssembly smart
// contracts.
//
// It compiles and caches untrusted bytecode, runs it under a deterministic gas
// meter, exposes a narrow set of host capabilities to the guest and lets one
// running contract synchronously call an exported function of another
// contract (dynamic linking) without weakening the sandbox.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	contractvm/          Root package with shared collaborator interfaces
//	├── runtime/         High-level API: code registry, instances, host imports
//	├── engine/          Static validation, gas instrumentation, wazero backend
//	├── cache/           Module cache with single-flight compilation and LRU
//	├── linker/          Dynamic link manager, call stack, interface descriptors
//	├── gas/             Gas meter shared across nested calls
//	├── region/          Bounds-checked host/guest buffer exchange
//	├── resource/        Handle table for storage iterators
//	├── storage/         In-memory and badger contract storage
//	├── crypto/          Default signature verification collaborator
//	├── metrics/         Prometheus collector
//	├── config/          TOML configuration
//	├── cmd/run/         CLI: call, inspect, interactive console
//	├── vmtest/          Test collaborators and contract fixtures
//	└── errors/          Structured error taxonomy
//
// # Quick Start
//
//	rt, err := runtime.New(ctx, runtime.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	checksum, err := rt.StoreCode(ctx, wasmBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	rt.RegisterContract("counter", checksum)
//
//	res, err := rt.Execute(ctx, runtime.CallRequest{
//	    Address:  "counter",
//	    Backend:  backend,
//	    GasLimit: 1_000_000,
//	}, msg)
//	fmt.Println(string(res.Data), res.GasUsed)
//
// # Guest ABI
//
// Buffers cross the boundary as Regions: a 12-byte little-endian
// {offset, capacity, length} descriptor in guest memory. The guest exports
// allocate/deallocate so the host can place arguments, plus the entry points
// instantiate, execute, query and migrate. Host imports live in the "env"
// module; imports from a "dynamiclinked_" module are calls into other
// contracts.
//
// # Thread Safety
//
// Runtime is safe for concurrent use. Instance is NOT thread-safe: one
// top-level call owns it, including every nested dynamic link call that call
// triggers.
package contractvm
