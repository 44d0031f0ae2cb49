// Package cache owns compiled contract modules.
//
// Lookups go through three tiers: pinned modules, an LRU memory tier
// bounded by entry count and bytes, and an optional ArtifactStore. A miss
// compiles the code once no matter how many callers ask concurrently.
//
// Artifacts are reference counted. Eviction drops the cache's reference;
// the compiled module is closed only when the last running instance
// releases its own.
package cache
