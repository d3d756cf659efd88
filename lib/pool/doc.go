// Package pool provides bounded object pools for the session hot path.
//
// A Pool hands out pre-allocated, resettable items and grows on demand in
// fixed increments. A Quota caps how many items a single consumer may hold
// at once, independently of how many items the shared pool has available.
// Handle ties one pooled item to the quota slot it consumed so both are
// returned together, exactly once.
package pool
