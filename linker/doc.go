// Package linker implements contract-to-contract dynamic linking.
//
// A contract imports functions from modules named "dynamiclinked_<ns>".
// The first argument of every such import is a region holding the callee
// address. The callee declares the functions it is willing to serve, its
// callable points, in the "contractvm.dynamic_link" custom section:
//
//	{
//	  "callable_points": {
//	    "relay": {
//	      "signature": "func(data: list<u8>) -> list<u8>",
//	      "read_only": false,
//	      "allowed_callers": ["*"]
//	    }
//	  },
//	  "imports": {"dynamiclinked_relay.relay": "func(data: list<u8>) -> list<u8>"}
//	}
//
// # Check Order
//
// Manager.Call runs its checks in a fixed order and executes nothing
// until all of them pass:
//
//  1. Resolve the callee address (ResolutionError)
//  2. Validate the callable point and its signature (InterfaceMismatch)
//  3. Permission: allow-list and read-only propagation (PermissionDenied)
//  4. Re-entrancy: callee already on the stack (Reentrancy)
//  5. Depth: nested frames above the root (CallDepthExceeded)
//
// The callee then runs in a fresh instance on a child gas meter bounded by
// the caller's remaining gas, and its frame is popped on every exit path.
package linker
