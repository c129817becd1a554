// Package bench drives the exchange strategies and reports their outcome.
//
// A Harness runs one exchange round for one peer: it checks that both
// neighbors agree on the message size, builds the payload and the receive
// buffer, times the strategy and validates what was received. The reported
// time starts right before the strategy is invoked and stops only once both
// the send and the receive are complete.
//
// RunCluster starts a whole group of peers inside the current process, one
// goroutine per peer, over either the in-memory fabric or loopback HTTP.
package bench
