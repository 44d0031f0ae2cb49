// Package gas implements the deterministic resource meter shared by a call
// tree.
//
// A root Meter is created per top-level call. Dynamic link calls run under a
// Child meter whose budget is carved from, and bounded by, its parent. All
// charges propagate to the root, so the total charged across a call tree
// never exceeds the top-level limit, and a failed charge anywhere exhausts
// the whole tree.
package gas
