// Package exchange implements the four protocols a peer of the ring can use to
// send one payload to its right neighbor while receiving one from its left
// neighbor.
//
//   - naive-blocking: blocking send, then blocking receive, on every peer.
//     Safe only on store-and-forward transports: under rendezvous semantics
//     every peer waits inside Send for a receiver that is itself inside Send,
//     and the ring deadlocks.
//   - parity-ordered: even ranks send then receive, odd ranks receive then
//     send. Every edge has a receiver ready, whatever the transport semantics.
//   - nonblocking-overlap: both transfers are issued at once, local work runs,
//     then both are awaited.
//   - nonblocking-polled: both transfers are issued at once, then small work
//     units alternate with a completion check of the receive, up to a fixed
//     budget, after which the peer falls back to a blocking wait.
//
// A strategy never reads the receive buffer before its receive completed and
// never returns before the send completed, so the caller may reuse the payload
// as soon as Exchange returns.
package exchange
