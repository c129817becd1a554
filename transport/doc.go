// Package transport defines the point-to-point contract the exchange
// strategies are written against, together with an in-process implementation.
//
// # Operations
//
// Send and Receive block. SendAsync and ReceiveAsync return a *Request right
// away; the Request is later checked with Poll or awaited with Wait.
//
// # Semantics
//
// StoreAndForward: a blocking Send returns as soon as the message is buffered,
// independently of the receiver.
//
// Rendezvous: a blocking Send returns only once the matching receive has taken
// the message. Under these semantics a ring where every peer sends before
// receiving deadlocks.
//
// A message a peer sends to itself is always buffered, so a group of one peer
// completes its exchange under both semantics.
//
// # Ordering
//
// Messages between two peers with the same tag are delivered in the order they
// were sent. There is no ordering across different pairs.
package transport
