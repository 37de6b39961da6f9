// Package sim provides the discrete-event simulation kernel.
//
// # Reading Guide
//
// Start with these files to understand the kernel:
//   - event.go: Event, the Action capability set and priorities
//   - calendar.go: the indexed heap that orders pending events
//   - simulator.go: the lifecycle state machine and the run loop
//   - replication.go: run bounds and the warm-up / end notifications
//
// # Ordering
//
// Events are dispatched by due time ascending, then priority descending,
// then insertion sequence ascending. The sequence is assigned when the
// event enters the calendar, so identical scheduling calls replay in the
// identical order.
//
// # Lifecycle
//
//	NOT_INITIALIZED --Initialize--> INITIALIZED --Start/Step--> STARTED
//	STARTED --Stop--> STOPPING --> STOPPED --Start/Step--> STARTED
//	STARTED --calendar empty / replication end / action error--> STOPPED
//
// # Sub-packages
//   - sim/process: interpreter that runs process bodies able to suspend
//     mid-execution and resume at a later simulated time
//   - sim/experiment: runs several replications of a model with derived seeds
//   - sim/tracing: hooks that record the dispatched event sequence
package sim
