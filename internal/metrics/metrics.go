// Package metrics provides application-level counters using stdlib expvar.
// Counters are automatically exported on the /debug/vars HTTP endpoint
// when the embedding binary serves net/http.
package metrics

import "expvar"

// Operation counters.
var (
	ActionsDispatched = expvar.NewInt("replica_actions_dispatched_total")
	ActionsApplied    = expvar.NewInt("replica_actions_applied_total")
	ActionsUnknownOp  = expvar.NewInt("replica_actions_unknown_op_total")
	PersistStarted    = expvar.NewInt("replica_persist_started_total")
	PersistSucceeded  = expvar.NewInt("replica_persist_succeeded_total")
	PersistFailed     = expvar.NewInt("replica_persist_failed_total")
	JournalAppends    = expvar.NewInt("replica_journal_appends_total")
	ViewDeliveries    = expvar.NewInt("replica_view_deliveries_total")
)

// Inc increments the given counter by 1.
func Inc(counter *expvar.Int) { counter.Add(1) }
