// Package storage provides contract key/value stores: Memory, an ordered
// in-process map for tests and tooling, and Badger, backed by BadgerDB.
//
// Both implement contractvm.Storage, including range iteration in both
// directions over [start, end).
package storage
