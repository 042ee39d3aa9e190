// Package mmarr provides persistent, memory-mapped, append-oriented typed
// arrays for single-machine, multi-process workloads.
//
// A store file is a 16-byte little-endian header (version, data type,
// element count) followed by contiguous element bytes, padded to 4096-byte
// page boundaries. Arrays may exceed 32-bit indexing; integer arrays can be
// stored in narrow byte widths (including 3, 5, 6 and 7 bytes) and are
// upgraded in place to the narrowest encoding that covers a value that no
// longer fits. An encoding is never narrowed automatically.
//
// The main types are:
//   - [Array]: the typed mapped-array engine for power-of-two element widths
//   - [Int64Array]: any integer-typed file exposed as an int64 sequence,
//     including the odd-width 24/40/48/56-bit encodings, with automatic
//     widening migration
//   - [BitArray]: a boolean array packed 32 bits per word
//   - [Series]: timestamp arrays with ordering invariants and binary search
//   - [FileLock]: the cross-process exclusive writer lock
//   - [View]: a windowed read-only view over any [Reader]
//
// Mutation is append-only: append, overwrite-last, truncate-tail and
// truncate-head are the only write operations. Exactly one process may hold
// a writer handle per file (enforced by [AcquireLock]); any number of
// processes may read concurrently. The element count is published with an
// 8-byte atomic store after the element bytes are written, so a reader that
// samples the count and then reads [0, count) always sees complete elements.
//
// A 64-bit little-endian platform is required.
package mmarr
