// Package runtime runs contracts.
//
// # Quick Start
//
//	ctx := context.Background()
//	rt, err := runtime.New(ctx, runtime.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	sum, err := rt.StoreCode(ctx, wasm)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := rt.RegisterContract("counter", sum); err != nil {
//	    log.Fatal(err)
//	}
//
//	res, err := rt.Execute(ctx, runtime.CallRequest{
//	    Address:  "counter",
//	    Backend:  backend,
//	    GasLimit: 10_000_000,
//	}, []byte(`{"increment":{}}`))
//
// # Instances
//
// Runtime.Call and its Instantiate, Execute, Query and Migrate shortcuts
// create an Instance, run one entry point and close it. NewInstance keeps
// the instance for several calls; they share one gas meter and may not
// overlap.
//
// Every argument is copied into guest memory through the contract's
// allocate export and passed as a region pointer. The entry returns a
// region pointer, 0 meaning no data.
//
// # Host Imports
//
// The env module offers storage, chain queries, address conversion,
// signature verification, debug output and dynamic link helpers. Each
// import belongs to a capability; the engine rejects contracts that import
// a disabled one. Queries and read-only callable points cannot write.
//
// Collaborator failures abort the call with a host_error that wraps the
// collaborator's error. Contract mistakes the collaborator reports as
// contractvm.UserError, such as a malformed address, are handed back to
// the contract as an error message region or a result code instead.
//
// # Gas
//
// Guest code decrements an injected counter; host imports charge the
// configured gas.Costs. The counter and the meter are synchronised every
// time control crosses the host boundary, so the meter is authoritative
// and a dynamic link callee spends from the caller's budget.
//
// # Dynamic Links
//
// Imports from a dynamiclinked_<name> module call a callable point of
// another registered contract. The first argument is the callee address
// region. The linker resolves, validates and permission-checks the call,
// rejects re-entrancy and excessive depth, and only then instantiates the
// callee in a nested Environment.
package runtime
