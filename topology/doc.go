// Package topology arranges the peers of a group in a logical ring.
//
// Peer r sends to its right neighbor (r+1) mod N and receives from its left
// neighbor (r-1+N) mod N. A group of one peer is a self-loop: both neighbors
// are the peer itself.
package topology
