// Package cache implements the entity cache state container.
//
// The Store is the heart of the layer - it accepts commands from per-type
// dispatchers, turns them into actions, reduces them into cache snapshots,
// and coordinates remote persistence.
//
// ARCHITECTURE:
//
// Single-Writer Action Loop:
// All cache transitions happen in one goroutine for deterministic behavior.
// This ensures:
// - One total order of applied actions
// - A reproducible journal on replay
// - Simple reasoning about cache invariants
//
// Action Processing Flow:
// 1. Dispatcher validates a command and enqueues its action
// 2. Store.Run() dequeues actions one at a time
// 3. The action is stamped with the logical clock and reduced
// 4. The new snapshot is published through an atomic pointer
// 5. The journal, counters, and view subscribers observe the applied action
// 6. For persistence ops: the coordinator starts the remote call
//
// Remote calls run outside the loop, one goroutine each. Their results come
// back as reconciliation actions through the same queue, so the reducer is
// still the only writer. Concurrent saves to the same key race at this
// boundary; the last result processed wins.
//
// The reducer itself is a pure function over (cache, action) and is exported
// for journal replay.
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// All accepted actions are stamped with a monotonic seq counter from
// Clock.Next(). Never wall-clock timestamps.
//
// Copy-on-Write Snapshots:
// A transition never mutates a published cache. Untouched collections keep
// their pointer identity across transitions; selector memoization and view
// change detection key on exactly that.
package cache
