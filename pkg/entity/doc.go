// Package entity provides the shared vocabulary of the cache layer.
//
// It contains data types and pure functions only: document values, keys,
// the operation vocabulary, actions, collections, definitions, and the
// canonical serialization used for content addressing. Every other package
// imports entity; entity imports nothing from this module. This keeps the
// vocabulary the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Documents are built from a sealed Value set; nothing unserializable
//     can enter an action or the cache
//   - Collection and Cache values are copy-on-write; transitions never
//     mutate shared structure
//   - All JSON tags and canonical keys use snake_case
//   - Ordering comes from the store's logical clock (seq), never from
//     wall-clock timestamps
package entity
