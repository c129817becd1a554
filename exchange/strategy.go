package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/luca-patrignani/ringbench/topology"
	"github.com/luca-patrignani/ringbench/transport"
)

// Tag marks the payload messages of an exchange round.
const Tag = 0

const (
	NaiveBlockingName      = "naive-blocking"
	ParityOrderedName      = "parity-ordered"
	NonblockingOverlapName = "nonblocking-overlap"
	NonblockingPolledName  = "nonblocking-polled"
)

const (
	DefaultOverlapUnits = 64
	DefaultPollBudget   = 10_000
)

var ErrUnknownStrategy = errors.New("unknown exchange strategy")

// Strategy sends send to nb.Right and receives from nb.Left into recv.
// When Exchange returns without error both transfers are complete.
type Strategy interface {
	Name() string
	Exchange(ctx context.Context, t transport.Transport, nb topology.Neighbors, send []float64, recv []float64) (Stats, error)
}

// Stats describes how an exchange made progress.
type Stats struct {
	// Polls is the number of completion checks performed on the receive.
	Polls int
	// FellBack is set when the poll budget ran out before the receive completed.
	FellBack bool
	// SendWaited is set when the send was still in flight after the receive completed.
	SendWaited bool
	// Overlap accumulates the result of the local work, so it is observable.
	Overlap float64
}

type config struct {
	overlapUnits int
	pollBudget   int
}

type Option func(config) config

// WithOverlapUnits sets the work units run between issuing and awaiting
// the transfers of nonblocking-overlap.
func WithOverlapUnits(n int) Option {
	return func(c config) config {
		c.overlapUnits = n
		return c
	}
}

// WithPollBudget sets the maximum iterations of nonblocking-polled before
// it falls back to a blocking wait.
func WithPollBudget(n int) Option {
	return func(c config) config {
		c.pollBudget = n
		return c
	}
}

// Names lists the available strategies.
func Names() []string {
	return []string{NaiveBlockingName, ParityOrderedName, NonblockingOverlapName, NonblockingPolledName}
}

// Parse returns the strategy called name.
func Parse(name string, opts ...Option) (Strategy, error) {
	c := config{overlapUnits: DefaultOverlapUnits, pollBudget: DefaultPollBudget}
	for _, opt := range opts {
		c = opt(c)
	}
	switch name {
	case NaiveBlockingName:
		return NaiveBlocking{}, nil
	case ParityOrderedName:
		return ParityOrdered{}, nil
	case NonblockingOverlapName:
		return NonblockingOverlap{Units: c.overlapUnits}, nil
	case NonblockingPolledName:
		return NonblockingPolled{MaxIterations: c.pollBudget}, nil
	}
	return nil, fmt.Errorf("%w %q, expected one of %s", ErrUnknownStrategy, name, strings.Join(Names(), ", "))
}
