// Package network provides the point-to-point transport used when the peers
// of a ring live in different processes.
//
// # Core Components
//
// Peer: network node that implements transport.Transport over HTTP. Every
// peer runs a server receiving the messages addressed to it and a client
// posting its own messages to the other peers.
//
// # Message Delivery
//
// A message is a POST carrying the sender rank, the receiver rank, the tag and
// the element count in its headers, and the little-endian encoding of the
// elements in its body. The receiving handler files it in a mailbox keyed by
// sender and tag, which keeps messages of the same edge in order.
//
// By default the handler accepts the message as soon as it is filed
// (store-and-forward). WithRendezvous makes the handler hold the request until
// a local Receive takes the message, so that Send returns only once the
// receiver is ready.
//
// # Timeout Support
//
// Peers of a group start at different times, so a Send retries refused
// connections. WithTimeout bounds the time spent retrying.
package network
