package transport

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

const defaultCapacity = 16

type edge struct {
	src int
	dst int
	tag int
}

type fabricConfig struct {
	semantics Semantics
	latency   time.Duration
	capacity  int
}

type FabricOption func(fabricConfig) fabricConfig

// WithSemantics selects what a blocking Send waits for.
func WithSemantics(s Semantics) FabricOption {
	return func(c fabricConfig) fabricConfig {
		c.semantics = s
		return c
	}
}

// WithLatency delays the delivery of every message by d.
func WithLatency(d time.Duration) FabricOption {
	return func(c fabricConfig) fabricConfig {
		c.latency = d
		return c
	}
}

// WithCapacity bounds the number of buffered messages per edge and tag.
func WithCapacity(n int) FabricOption {
	return func(c fabricConfig) fabricConfig {
		c.capacity = n
		return c
	}
}

// Fabric is an in-process group of peers connected by channels.
// Every (source, destination, tag) triple owns one channel, which gives
// per-edge FIFO delivery.
type Fabric struct {
	size      int
	config    fabricConfig
	mu        sync.Mutex
	edges     map[edge]chan []float64
	closed    chan struct{}
	closeOnce sync.Once
}

func NewFabric(size int, opts ...FabricOption) (*Fabric, error) {
	if size < 1 {
		return nil, fmt.Errorf("fabric of %d peers", size)
	}
	config := fabricConfig{capacity: defaultCapacity}
	for _, opt := range opts {
		config = opt(config)
	}
	if config.capacity < 1 {
		config.capacity = 1
	}
	return &Fabric{
		size:   size,
		config: config,
		edges:  make(map[edge]chan []float64),
		closed: make(chan struct{}),
	}, nil
}

// Endpoint returns the Transport used by the peer with the given rank.
func (f *Fabric) Endpoint(rank int) (Transport, error) {
	if err := checkPeer(rank, f.size); err != nil {
		return nil, err
	}
	return &endpoint{fabric: f, rank: rank}, nil
}

// Close aborts every pending operation with ErrClosed.
func (f *Fabric) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *Fabric) Semantics() Semantics {
	return f.config.semantics
}

func (f *Fabric) channel(e edge) chan []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.edges[e]
	if !ok {
		if f.config.semantics == Rendezvous && e.src != e.dst {
			ch = make(chan []float64)
		} else {
			ch = make(chan []float64, f.config.capacity)
		}
		f.edges[e] = ch
	}
	return ch
}

func (f *Fabric) send(ctx context.Context, buf []float64, e edge) error {
	if err := checkPeer(e.dst, f.size); err != nil {
		return err
	}
	msg := slices.Clone(buf)
	if f.config.latency > 0 {
		timer := time.NewTimer(f.config.latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return incomplete(ctx.Err())
		case <-f.closed:
			return ErrClosed
		}
	}
	select {
	case f.channel(e) <- msg:
		return nil
	case <-ctx.Done():
		return incomplete(ctx.Err())
	case <-f.closed:
		return ErrClosed
	}
}

func (f *Fabric) receive(ctx context.Context, buf []float64, e edge) error {
	if err := checkPeer(e.src, f.size); err != nil {
		return err
	}
	var msg []float64
	select {
	case msg = <-f.channel(e):
	case <-ctx.Done():
		return incomplete(ctx.Err())
	case <-f.closed:
		return ErrClosed
	}
	if len(msg) != len(buf) {
		return fmt.Errorf("%w: peer %d sent %d elements, peer %d expects %d", ErrSizeMismatch, e.src, len(msg), e.dst, len(buf))
	}
	copy(buf, msg)
	return nil
}

type endpoint struct {
	fabric *Fabric
	rank   int
}

func (p *endpoint) Rank() int {
	return p.rank
}

func (p *endpoint) Size() int {
	return p.fabric.size
}

func (p *endpoint) Send(ctx context.Context, buf []float64, dst int, tag int) error {
	return p.fabric.send(ctx, buf, edge{src: p.rank, dst: dst, tag: tag})
}

func (p *endpoint) Receive(ctx context.Context, buf []float64, src int, tag int) error {
	return p.fabric.receive(ctx, buf, edge{src: src, dst: p.rank, tag: tag})
}

func (p *endpoint) SendAsync(ctx context.Context, buf []float64, dst int, tag int) *Request {
	return Go(func() error { return p.Send(ctx, buf, dst, tag) })
}

func (p *endpoint) ReceiveAsync(ctx context.Context, buf []float64, src int, tag int) *Request {
	return Go(func() error { return p.Receive(ctx, buf, src, tag) })
}

// Close releases nothing: endpoints share the Fabric, which is closed by its owner.
func (p *endpoint) Close() error {
	return nil
}
