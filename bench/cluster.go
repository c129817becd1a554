package bench

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/luca-patrignani/ringbench/exchange"
	"github.com/luca-patrignani/ringbench/network"
	"github.com/luca-patrignani/ringbench/topology"
	"github.com/luca-patrignani/ringbench/transport"
)

const (
	TransportMemory = "memory"
	TransportHTTP   = "http"
)

// ClusterConfig describes a group of peers run inside the current process.
type ClusterConfig struct {
	Peers       int
	MessageSize int
	Strategy    exchange.Strategy
	// Transport is TransportMemory or TransportHTTP.
	Transport string
	Semantics transport.Semantics
	// Latency delays every message; memory transport only.
	Latency time.Duration
	Harness *Harness
}

// RunCluster runs one exchange round on every peer of a fresh group and
// returns the results ordered by rank. The run fails as a whole if any peer
// fails.
func RunCluster(ctx context.Context, cfg ClusterConfig) ([]Result, error) {
	if cfg.Peers < 1 {
		return nil, fmt.Errorf("%w: %d", topology.ErrInvalidGroupSize, cfg.Peers)
	}
	if cfg.MessageSize < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMessageSize, cfg.MessageSize)
	}
	if cfg.Strategy == nil {
		return nil, fmt.Errorf("%w: none selected", exchange.ErrUnknownStrategy)
	}
	harness := cfg.Harness
	if harness == nil {
		harness = NewHarness()
	}
	group, closeGroup, err := newGroup(cfg)
	if err != nil {
		return nil, err
	}

	results := make([]Result, cfg.Peers)
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range group {
		g.Go(func() error {
			res, err := harness.Run(gctx, t, cfg.Strategy, cfg.MessageSize)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	err = g.Wait()
	if closeErr := closeGroup(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}

func newGroup(cfg ClusterConfig) ([]transport.Transport, func() error, error) {
	switch cfg.Transport {
	case TransportMemory, "":
		return memoryGroup(cfg)
	case TransportHTTP:
		if cfg.Latency > 0 {
			return nil, nil, fmt.Errorf("latency is only supported by the %s transport", TransportMemory)
		}
		return httpGroup(cfg)
	}
	return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}

func memoryGroup(cfg ClusterConfig) ([]transport.Transport, func() error, error) {
	fabric, err := transport.NewFabric(cfg.Peers,
		transport.WithSemantics(cfg.Semantics),
		transport.WithLatency(cfg.Latency),
	)
	if err != nil {
		return nil, nil, err
	}
	group := make([]transport.Transport, cfg.Peers)
	for i := range group {
		if group[i], err = fabric.Endpoint(i); err != nil {
			return nil, nil, errors.Join(err, fabric.Close())
		}
	}
	return group, fabric.Close, nil
}

func httpGroup(cfg ClusterConfig) ([]transport.Transport, func() error, error) {
	listeners, addresses, err := network.Listen(cfg.Peers)
	if err != nil {
		return nil, nil, err
	}
	var opts []network.PeerOption
	if cfg.Semantics == transport.Rendezvous {
		opts = append(opts, network.WithRendezvous())
	}
	group := make([]transport.Transport, cfg.Peers)
	peers := make([]*network.Peer, cfg.Peers)
	for i := range group {
		peers[i] = network.NewPeer(i, addresses, listeners[i], opts...)
		group[i] = peers[i]
	}
	closeGroup := func() error {
		var errs []error
		for _, p := range peers {
			errs = append(errs, p.Close())
		}
		return errors.Join(errs...)
	}
	return group, closeGroup, nil
}
