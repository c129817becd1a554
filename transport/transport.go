package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/luca-patrignani/ringbench/payload"
)

var (
	ErrSizeMismatch       = payload.ErrSizeMismatch
	ErrIncompleteTransfer = errors.New("transfer did not complete")
	ErrClosed             = errors.New("transport closed")
	ErrUnknownPeer        = errors.New("unknown peer")
)

// Transport moves float64 messages between the ranks of a group.
type Transport interface {
	// Rank returns the rank of the local peer.
	Rank() int
	// Size returns the number of peers in the group.
	Size() int
	// Send blocks until buf may be reused. Whether that also waits for the
	// receiver depends on the Semantics of the transport.
	Send(ctx context.Context, buf []float64, dst int, tag int) error
	// Receive blocks until buf holds the message sent by src with tag.
	Receive(ctx context.Context, buf []float64, src int, tag int) error
	// SendAsync issues a Send without blocking. buf must not be modified
	// until the returned Request is complete.
	SendAsync(ctx context.Context, buf []float64, dst int, tag int) *Request
	// ReceiveAsync issues a Receive without blocking. buf must not be read
	// until the returned Request is complete.
	ReceiveAsync(ctx context.Context, buf []float64, src int, tag int) *Request
	Close() error
}

// Semantics selects what a blocking send waits for.
type Semantics int

const (
	StoreAndForward Semantics = iota
	Rendezvous
)

func (s Semantics) String() string {
	switch s {
	case StoreAndForward:
		return "store-and-forward"
	case Rendezvous:
		return "rendezvous"
	}
	return fmt.Sprintf("Semantics(%d)", int(s))
}

// ParseSemantics is the inverse of Semantics.String.
func ParseSemantics(s string) (Semantics, error) {
	switch s {
	case "store-and-forward", "":
		return StoreAndForward, nil
	case "rendezvous":
		return Rendezvous, nil
	}
	return 0, fmt.Errorf("unknown transport semantics %q", s)
}

// incomplete wraps the cause that stopped a transfer before completion.
func incomplete(err error) error {
	return fmt.Errorf("%w: %w", ErrIncompleteTransfer, err)
}

func checkPeer(rank int, size int) error {
	if rank < 0 || rank >= size {
		return fmt.Errorf("%w: rank %d in a group of %d", ErrUnknownPeer, rank, size)
	}
	return nil
}
