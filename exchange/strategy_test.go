package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luca-patrignani/ringbench/payload"
	"github.com/luca-patrignani/ringbench/topology"
	"github.com/luca-patrignani/ringbench/transport"
)

const testTimeout = 10 * time.Second

type peerOutcome struct {
	rank  int
	stats Stats
	recv  []float64
	err   error
}

// runRing runs strategy on every peer of f and returns one outcome per rank.
func runRing(ctx context.Context, t *testing.T, f *transport.Fabric, size int, strategy Strategy, n int) []peerOutcome {
	t.Helper()
	outcomes := make(chan peerOutcome, size)
	for i := 0; i < size; i++ {
		go func() {
			ep, err := f.Endpoint(i)
			if err != nil {
				outcomes <- peerOutcome{rank: i, err: err}
				return
			}
			p, err := topology.NewPeer(i, size)
			if err != nil {
				outcomes <- peerOutcome{rank: i, err: err}
				return
			}
			recv := payload.NewReceiveBuffer(n)
			stats, err := strategy.Exchange(ctx, ep, p.Neighbors(), payload.Build(i, n), recv)
			outcomes <- peerOutcome{rank: i, stats: stats, recv: recv, err: err}
		}()
	}
	results := make([]peerOutcome, size)
	for range size {
		o := <-outcomes
		results[o.rank] = o
	}
	return results
}

func checkOutcomes(t *testing.T, outcomes []peerOutcome, n int) {
	t.Helper()
	size := len(outcomes)
	for _, o := range outcomes {
		require.NoError(t, o.err, "peer %d", o.rank)
		_, left := topology.Ring(o.rank, size)
		require.Equal(t, payload.Expected(left, n), payload.Checksum(o.recv), "peer %d", o.rank)
		if n > 0 {
			require.Equal(t, payload.Element(left, 0), o.recv[0], "peer %d", o.rank)
		}
	}
}

func allStrategies(t *testing.T) []Strategy {
	t.Helper()
	var strategies []Strategy
	for _, name := range Names() {
		s, err := Parse(name)
		require.NoError(t, err)
		strategies = append(strategies, s)
	}
	return strategies
}

func TestStoreAndForwardAllStrategies(t *testing.T) {
	for _, strategy := range allStrategies(t) {
		for size := 1; size <= 5; size++ {
			t.Run(fmt.Sprintf("%s/%d", strategy.Name(), size), func(t *testing.T) {
				f, err := transport.NewFabric(size)
				require.NoError(t, err)
				defer f.Close()
				ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
				defer cancel()
				checkOutcomes(t, runRing(ctx, t, f, size, strategy, 2500), 2500)
			})
		}
	}
}

func TestRendezvousDeadlockSafeStrategies(t *testing.T) {
	for _, strategy := range allStrategies(t) {
		if strategy.Name() == NaiveBlockingName {
			continue
		}
		for size := 1; size <= 5; size++ {
			t.Run(fmt.Sprintf("%s/%d", strategy.Name(), size), func(t *testing.T) {
				f, err := transport.NewFabric(size, transport.WithSemantics(transport.Rendezvous))
				require.NoError(t, err)
				defer f.Close()
				ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
				defer cancel()
				checkOutcomes(t, runRing(ctx, t, f, size, strategy, 1000), 1000)
			})
		}
	}
}

// Every peer blocks in Send waiting for a receiver that is itself in Send.
func TestNaiveBlockingDeadlocksUnderRendezvous(t *testing.T) {
	f, err := transport.NewFabric(4, transport.WithSemantics(transport.Rendezvous))
	require.NoError(t, err)
	defer f.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	for _, o := range runRing(ctx, t, f, 4, NaiveBlocking{}, 10) {
		require.ErrorIs(t, o.err, transport.ErrIncompleteTransfer, "peer %d", o.rank)
		require.Equal(t, payload.Sentinel, o.recv[0], "peer %d read a buffer it never received", o.rank)
	}
}

func TestParityOrderedScenario(t *testing.T) {
	f, err := transport.NewFabric(4)
	require.NoError(t, err)
	defer f.Close()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	outcomes := runRing(ctx, t, f, 4, ParityOrdered{}, 1000)
	checkOutcomes(t, outcomes, 1000)

	peer2 := outcomes[2]
	require.Equal(t, 1000.0, peer2.recv[0])
	expected := 0.0
	for i := 0; i < 1000; i++ {
		expected += float64(1000+i%1000) * 0.0001
	}
	require.Equal(t, expected, payload.Checksum(peer2.recv))
}

func TestPolledFallsBackOnSlowTransport(t *testing.T) {
	f, err := transport.NewFabric(3, transport.WithLatency(100*time.Millisecond))
	require.NoError(t, err)
	defer f.Close()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	strategy := NonblockingPolled{MaxIterations: 3}
	outcomes := runRing(ctx, t, f, 3, strategy, 1000)
	checkOutcomes(t, outcomes, 1000)
	for _, o := range outcomes {
		require.True(t, o.stats.FellBack, "peer %d", o.rank)
		require.Equal(t, 3, o.stats.Polls, "peer %d", o.rank)
	}
}

func TestPolledStopsPollingOnCompletion(t *testing.T) {
	f, err := transport.NewFabric(2)
	require.NoError(t, err)
	defer f.Close()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	strategy := NonblockingPolled{MaxIterations: 1_000_000}
	outcomes := runRing(ctx, t, f, 2, strategy, 100)
	checkOutcomes(t, outcomes, 100)
	for _, o := range outcomes {
		require.False(t, o.stats.FellBack, "peer %d", o.rank)
		require.Less(t, o.stats.Polls, strategy.MaxIterations, "peer %d", o.rank)
	}
}

func TestPolledZeroBudgetWaits(t *testing.T) {
	f, err := transport.NewFabric(2)
	require.NoError(t, err)
	defer f.Close()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	outcomes := runRing(ctx, t, f, 2, NonblockingPolled{}, 100)
	checkOutcomes(t, outcomes, 100)
	for _, o := range outcomes {
		require.True(t, o.stats.FellBack)
		require.Zero(t, o.stats.Polls)
	}
}

func TestOverlapRunsWork(t *testing.T) {
	f, err := transport.NewFabric(2)
	require.NoError(t, err)
	defer f.Close()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	outcomes := runRing(ctx, t, f, 2, NonblockingOverlap{Units: 8}, 100)
	checkOutcomes(t, outcomes, 100)
	for _, o := range outcomes {
		require.NotZero(t, o.stats.Overlap)
	}
}

func TestEmptyMessage(t *testing.T) {
	for _, strategy := range allStrategies(t) {
		f, err := transport.NewFabric(3)
		require.NoError(t, err)
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		outcomes := runRing(ctx, t, f, 3, strategy, 0)
		cancel()
		require.NoError(t, f.Close())
		for _, o := range outcomes {
			require.NoError(t, o.err)
			require.Zero(t, payload.Checksum(o.recv))
		}
	}
}

func TestRepeatedRunsAreBitIdentical(t *testing.T) {
	for _, strategy := range allStrategies(t) {
		var first []float64
		for run := 0; run < 2; run++ {
			f, err := transport.NewFabric(4)
			require.NoError(t, err)
			ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
			outcomes := runRing(ctx, t, f, 4, strategy, 3000)
			cancel()
			require.NoError(t, f.Close())
			checksums := make([]float64, len(outcomes))
			for i, o := range outcomes {
				require.NoError(t, o.err)
				checksums[i] = payload.Checksum(o.recv)
			}
			if first == nil {
				first = checksums
				continue
			}
			require.Equal(t, first, checksums, strategy.Name())
		}
	}
}

func TestParse(t *testing.T) {
	s, err := Parse(NonblockingPolledName, WithPollBudget(7))
	require.NoError(t, err)
	require.Equal(t, NonblockingPolled{MaxIterations: 7}, s)

	s, err = Parse(NonblockingOverlapName, WithOverlapUnits(3))
	require.NoError(t, err)
	require.Equal(t, NonblockingOverlap{Units: 3}, s)

	for _, name := range Names() {
		s, err := Parse(name)
		require.NoError(t, err)
		require.Equal(t, name, s.Name())
	}

	_, err = Parse("broadcast")
	require.ErrorIs(t, err, ErrUnknownStrategy)
}

var errReceive = errors.New("receive failed")

// failingReceive fails every receive at once and completes sends after a delay.
type failingReceive struct {
	transport.Transport
	sendDelay time.Duration
	sent      atomic.Bool
}

func (f *failingReceive) Rank() int {
	return 0
}

func (f *failingReceive) SendAsync(ctx context.Context, buf []float64, dst int, tag int) *transport.Request {
	return transport.Go(func() error {
		time.Sleep(f.sendDelay)
		f.sent.Store(true)
		return nil
	})
}

func (f *failingReceive) ReceiveAsync(ctx context.Context, buf []float64, src int, tag int) *transport.Request {
	return transport.Go(func() error { return errReceive })
}

func TestFailedReceiveWaitsForSend(t *testing.T) {
	for _, strategy := range []Strategy{NonblockingOverlap{Units: 1}, NonblockingPolled{MaxIterations: 10}} {
		tr := &failingReceive{sendDelay: 50 * time.Millisecond}
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		_, err := strategy.Exchange(ctx, tr, topology.Neighbors{Right: 0, Left: 0}, []float64{1}, []float64{payload.Sentinel})
		cancel()
		require.ErrorIs(t, err, errReceive, strategy.Name())
		require.True(t, tr.sent.Load(), "%s returned before its send completed", strategy.Name())
	}
}
