// Package gateway exposes a running simulation to remote clients.
//
// Ownership boundary:
// - the single-goroutine dispatch loop: accept, poll, dispatch, reply
// - the dynamic command connection pool
// - opcode handlers over the Simulation contract and entity slot boards
// - the telemetry accumulator worker and telemetry publisher
// - the admin HTTP surface (health, readiness, metrics, views)
//
// The dispatch goroutine is the only writer of simulation state, the
// connection pool, and the telemetry map. The accumulator worker shares
// nothing but its list, which the dispatch loop swaps out under the lock.
package gateway
