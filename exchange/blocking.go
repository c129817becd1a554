package exchange

import (
	"context"
	"fmt"

	"github.com/luca-patrignani/ringbench/topology"
	"github.com/luca-patrignani/ringbench/transport"
)

// NaiveBlocking sends to the right neighbor and then receives from the left one.
//
// It relies on the transport buffering sends: with transport.Rendezvous every
// peer of the ring blocks in Send and the exchange never completes.
type NaiveBlocking struct{}

func (NaiveBlocking) Name() string {
	return NaiveBlockingName
}

func (NaiveBlocking) Exchange(ctx context.Context, t transport.Transport, nb topology.Neighbors, send []float64, recv []float64) (Stats, error) {
	if err := t.Send(ctx, send, nb.Right, Tag); err != nil {
		return Stats{}, fmt.Errorf("send to %d: %w", nb.Right, err)
	}
	if err := t.Receive(ctx, recv, nb.Left, Tag); err != nil {
		return Stats{}, fmt.Errorf("receive from %d: %w", nb.Left, err)
	}
	return Stats{}, nil
}

// ParityOrdered lets even ranks send first and odd ranks receive first.
type ParityOrdered struct{}

func (ParityOrdered) Name() string {
	return ParityOrderedName
}

func (ParityOrdered) Exchange(ctx context.Context, t transport.Transport, nb topology.Neighbors, send []float64, recv []float64) (Stats, error) {
	sendRight := func() error {
		if err := t.Send(ctx, send, nb.Right, Tag); err != nil {
			return fmt.Errorf("send to %d: %w", nb.Right, err)
		}
		return nil
	}
	receiveLeft := func() error {
		if err := t.Receive(ctx, recv, nb.Left, Tag); err != nil {
			return fmt.Errorf("receive from %d: %w", nb.Left, err)
		}
		return nil
	}
	first, second := sendRight, receiveLeft
	if t.Rank()%2 != 0 {
		first, second = receiveLeft, sendRight
	}
	if err := first(); err != nil {
		return Stats{}, err
	}
	if err := second(); err != nil {
		return Stats{}, err
	}
	return Stats{}, nil
}
