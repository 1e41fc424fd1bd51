// Package sim runs a lane against a software transceiver in simulated time.
//
// A Bench wires a lane.Lane to a Fake transceiver and registers three clock
// domains on an engine.Scheduler: the reference clock drives the fake's PLLs
// and detection circuit, the receive clock clocks the fake's deserializer and
// then the lane's receive process, and the transmit clock runs the lane's
// transmit process. A Probe records every change of the lane's observable
// signals, stamped with the edge that produced it.
package sim
