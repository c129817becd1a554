package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/luca-patrignani/ringbench/overlap"
	"github.com/luca-patrignani/ringbench/topology"
	"github.com/luca-patrignani/ringbench/transport"
)

// NonblockingOverlap issues both transfers, runs Units of local work and then
// waits for the receive and the send.
type NonblockingOverlap struct {
	Units int
}

func (NonblockingOverlap) Name() string {
	return NonblockingOverlapName
}

func (s NonblockingOverlap) Exchange(ctx context.Context, t transport.Transport, nb topology.Neighbors, send []float64, recv []float64) (Stats, error) {
	sreq := t.SendAsync(ctx, send, nb.Right, Tag)
	rreq := t.ReceiveAsync(ctx, recv, nb.Left, Tag)

	stats := Stats{Overlap: overlap.Work(s.Units)}

	if err := rreq.Wait(ctx); err != nil {
		return stats, errors.Join(fmt.Errorf("receive from %d: %w", nb.Left, err), drain(ctx, sreq))
	}
	if err := sreq.Wait(ctx); err != nil {
		return stats, fmt.Errorf("send to %d: %w", nb.Right, err)
	}
	return stats, nil
}

// NonblockingPolled issues both transfers and alternates one unit of local
// work with a completion check of the receive, at most MaxIterations times.
// If the receive is still in flight afterwards it waits for it.
type NonblockingPolled struct {
	MaxIterations int
}

func (NonblockingPolled) Name() string {
	return NonblockingPolledName
}

func (s NonblockingPolled) Exchange(ctx context.Context, t transport.Transport, nb topology.Neighbors, send []float64, recv []float64) (Stats, error) {
	sreq := t.SendAsync(ctx, send, nb.Right, Tag)
	rreq := t.ReceiveAsync(ctx, recv, nb.Left, Tag)

	var stats Stats
	received := false
	for stats.Polls < s.MaxIterations {
		stats.Overlap += overlap.Unit(stats.Polls)
		stats.Polls++
		if rreq.Poll() {
			received = true
			break
		}
	}
	stats.FellBack = !received

	// returns at once when the loop saw the completion
	if err := rreq.Wait(ctx); err != nil {
		return stats, errors.Join(fmt.Errorf("receive from %d: %w", nb.Left, err), drain(ctx, sreq))
	}
	if !sreq.Poll() {
		stats.SendWaited = true
	}
	if err := sreq.Wait(ctx); err != nil {
		return stats, fmt.Errorf("send to %d: %w", nb.Right, err)
	}
	return stats, nil
}

// drain waits for the send of an exchange whose receive already failed, so
// that no issued operation outlives the exchange. ctx bounds the wait.
func drain(ctx context.Context, req *transport.Request) error {
	if err := req.Wait(ctx); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}
