// Package tpie is the core of an external-memory computation library:
// typed record streams backed by temporary disk storage, a
// set-associative LRU cache manager with user-defined write-back, a
// job-queue worker pool, and a bounded-memory parallel sort, tied
// together by a process-wide memory budget and a progress reporting
// contract.
package tpie

// DefaultBlockSize is the in-core buffer unit for streams.  Streams
// round it down to a whole number of records.
const DefaultBlockSize = 1 << 16
