// Package engine drives a set of free-running clock domains in simulated
// time.
//
// Each domain is a perpetual sequential process: one tick function invoked
// once per clock edge, owning its state exclusively. The Scheduler advances
// simulated time from edge to edge and fires every domain whose edge falls at
// that instant.
//
// DETERMINISM:
//
// Simulated time is an integer duration and never reads the wall clock.
// Edges that coincide fire in domain registration order. Every fired edge is
// stamped with a strictly increasing sequence number from Clock, so a run is
// reproducible tick for tick and its trace sorts by seq alone.
//
// CANCELLATION:
//
// Run loops check their context between edges. A cancelled run stops after
// the edge in progress; no domain ever observes a half-executed tick.
package engine
