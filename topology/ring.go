package topology

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidGroupSize = errors.New("group size must be at least 1")
	ErrInvalidRank      = errors.New("rank out of range")
)

// Peer is one participant of the ring.
// Rank identifies the Peer inside a group of Size peers.
type Peer struct {
	Rank int
	Size int
}

// Neighbors holds the ranks a peer sends to (Right) and receives from (Left).
type Neighbors struct {
	Right int
	Left  int
}

// NewPeer validates rank and size before any exchange logic runs.
func NewPeer(rank int, size int) (Peer, error) {
	if size < 1 {
		return Peer{}, fmt.Errorf("%w: %d", ErrInvalidGroupSize, size)
	}
	if rank < 0 || rank >= size {
		return Peer{}, fmt.Errorf("%w: rank %d in a group of %d", ErrInvalidRank, rank, size)
	}
	return Peer{Rank: rank, Size: size}, nil
}

// Ring computes the right and left neighbor of rank in a ring of size peers.
// size must be at least 1.
func Ring(rank int, size int) (right int, left int) {
	right = (rank + 1) % size
	left = (rank - 1 + size) % size
	return
}

func (p Peer) Neighbors() Neighbors {
	right, left := Ring(p.Rank, p.Size)
	return Neighbors{Right: right, Left: left}
}

// Even reports whether the peer belongs to the even partition of the ring.
func (p Peer) Even() bool {
	return p.Rank%2 == 0
}
