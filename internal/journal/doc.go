// Package journal provides SQLite-backed durable storage for applied
// actions.
//
// The journal is an append-only log: one row per action the store applied,
// keyed by the store's logical sequence number. Each row carries the
// action's content-addressed ID, its full deterministic JSON form, and the
// snapshot hash of the cache state the action produced.
//
// All ordering uses seq INTEGER (the store's logical clock), never
// timestamps, so replay reconstructs the same cache regardless of wall
// time. Writes use ON CONFLICT DO NOTHING so a crash-retry of an already
// journaled sequence number is a silent no-op.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//
// Content-addressed IDs and snapshot hashes are computed by pkg/entity
// using canonical JSON and SHA-256 with domain separation.
package journal
