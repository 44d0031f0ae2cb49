// Package resource maps guest-visible integer handles to host values.
//
// Contracts cannot hold Go values, so anything that outlives a single host
// call, such as a storage iterator, is parked in a Table and the guest gets
// a Handle back:
//
//	table := resource.NewTable(32)
//	h, err := table.Insert(typeIterator, it)
//	v, ok := table.GetTyped(h, typeIterator)
//	table.Remove(h) // closes it if it is a Closer
//
// Handles start at 1 and are never reused within a table. Close removes
// everything still live at the end of a call.
package resource
