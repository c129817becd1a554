package bench

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/jonboulle/clockwork"

	"github.com/luca-patrignani/ringbench/exchange"
	"github.com/luca-patrignani/ringbench/payload"
	"github.com/luca-patrignani/ringbench/topology"
	"github.com/luca-patrignani/ringbench/transport"
)

// DefaultMessageSize is the element count of the heavy payload configuration.
const DefaultMessageSize = 5_000_000

// SizeTag marks the messages announcing the message size before a round.
const SizeTag = 1

var ErrInvalidMessageSize = errors.New("invalid message size")

type Harness struct {
	clock  clockwork.Clock
	logger *slog.Logger
}

type HarnessOption func(*Harness)

// WithClock replaces the wall clock timing the exchange.
func WithClock(clock clockwork.Clock) HarnessOption {
	return func(h *Harness) {
		h.clock = clock
	}
}

func WithLogger(logger *slog.Logger) HarnessOption {
	return func(h *Harness) {
		h.logger = logger
	}
}

func NewHarness(opts ...HarnessOption) *Harness {
	h := &Harness{
		clock:  clockwork.NewRealClock(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run performs one exchange round of the local peer of t with strategy.
// Any error aborts the round and no Result is produced.
func (h *Harness) Run(ctx context.Context, t transport.Transport, strategy exchange.Strategy, size int) (Result, error) {
	if size < 0 {
		return Result{}, fmt.Errorf("%w: %d", ErrInvalidMessageSize, size)
	}
	peer, err := topology.NewPeer(t.Rank(), t.Size())
	if err != nil {
		return Result{}, err
	}
	nb := peer.Neighbors()
	logger := h.logger.With("rank", peer.Rank, "strategy", strategy.Name())

	if err := agreeOnSize(ctx, t, nb, size); err != nil {
		observeFailure(strategy.Name())
		logger.Error("message size agreement failed", "error", err)
		return Result{}, err
	}

	send := payload.Build(peer.Rank, size)
	recv := payload.NewReceiveBuffer(size)

	start := h.clock.Now()
	stats, err := strategy.Exchange(ctx, t, nb, send, recv)
	elapsed := h.clock.Since(start)
	if err != nil {
		observeFailure(strategy.Name())
		logger.Error("exchange failed", "error", err)
		return Result{}, fmt.Errorf("peer %d: %w", peer.Rank, err)
	}
	observeExchange(strategy.Name(), elapsed, stats)

	first := math.NaN()
	if size > 0 {
		first = recv[0]
	}
	result := Result{
		Rank:        peer.Rank,
		Left:        nb.Left,
		Right:       nb.Right,
		First:       first,
		Checksum:    payload.Checksum(recv),
		Elapsed:     elapsed,
		MessageSize: size,
		Strategy:    strategy.Name(),
		Polls:       stats.Polls,
		FellBack:    stats.FellBack,
		Digest:      payload.Digest(recv),
	}
	logger.Debug("exchange completed", "left", nb.Left, "right", nb.Right, "elapsed", elapsed, "polls", stats.Polls, "fell_back", stats.FellBack)
	return result, nil
}

// agreeOnSize announces size to both neighbors and checks theirs before any
// payload is transferred.
func agreeOnSize(ctx context.Context, t transport.Transport, nb topology.Neighbors, size int) error {
	announce := []float64{float64(size)}
	fromLeft := make([]float64, 1)
	fromRight := make([]float64, 1)
	reqs := []*transport.Request{
		t.SendAsync(ctx, announce, nb.Right, SizeTag),
		t.SendAsync(ctx, announce, nb.Left, SizeTag),
		t.ReceiveAsync(ctx, fromLeft, nb.Left, SizeTag),
		t.ReceiveAsync(ctx, fromRight, nb.Right, SizeTag),
	}
	var errs []error
	for _, req := range reqs {
		if err := req.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("message size agreement: %w", err)
	}
	for _, theirs := range []struct {
		rank int
		size float64
	}{{nb.Left, fromLeft[0]}, {nb.Right, fromRight[0]}} {
		if theirs.size != float64(size) {
			return fmt.Errorf("%w: peer %d uses %d elements, peer %d uses %.0f", transport.ErrSizeMismatch, t.Rank(), size, theirs.rank, theirs.size)
		}
	}
	return nil
}
