package network

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/luca-patrignani/ringbench/payload"
	"github.com/luca-patrignani/ringbench/topology"
	"github.com/luca-patrignani/ringbench/transport"
)

func TestRingSendReceive(t *testing.T) {
	n := 4
	size := 3000
	listeners, addresses := CreateListeners(n)
	fatal := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			p := NewPeer(i, addresses, listeners[i], WithTimeout(30*time.Second))
			defer func() {
				fatal <- p.Close()
			}()
			right, left := topology.Ring(i, n)
			ctx := context.Background()
			sreq := p.SendAsync(ctx, payload.Build(i, size), right, 0)
			recv := payload.NewReceiveBuffer(size)
			if err := p.Receive(ctx, recv, left, 0); err != nil {
				fatal <- err
				return
			}
			if err := sreq.Wait(ctx); err != nil {
				fatal <- err
				return
			}
			if payload.Checksum(recv) != payload.Expected(left, size) {
				fatal <- fmt.Errorf("from peer %d: wrong checksum %v", i, payload.Checksum(recv))
				return
			}
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-fatal; err != nil {
			t.Fatal(err)
		}
	}
}

func TestSelfSend(t *testing.T) {
	listeners, addresses := CreateListeners(1)
	p := NewPeer(0, addresses, listeners[0], WithRendezvous())
	defer p.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.Send(ctx, []float64{1, 2}, 0, 0); err != nil {
		t.Fatal(err)
	}
	recv := make([]float64, 2)
	if err := p.Receive(ctx, recv, 0, 0); err != nil {
		t.Fatal(err)
	}
	if recv[0] != 1 || recv[1] != 2 {
		t.Fatalf("expected [1 2], actual %v", recv)
	}
}

func TestSendBeforeReceiverStarts(t *testing.T) {
	listeners, addresses := CreateListeners(2)
	sender := NewPeer(0, addresses, listeners[0], WithTimeout(30*time.Second))
	defer sender.Close()
	fatal := make(chan error, 1)
	go func() {
		fatal <- sender.Send(context.Background(), []float64{42}, 1, 0)
	}()
	time.Sleep(200 * time.Millisecond)
	receiver := NewPeer(1, addresses, listeners[1])
	defer receiver.Close()
	recv := make([]float64, 1)
	if err := receiver.Receive(context.Background(), recv, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := <-fatal; err != nil {
		t.Fatal(err)
	}
	if recv[0] != 42 {
		t.Fatalf("expected 42, actual %v", recv[0])
	}
}

func TestSendTimeout(t *testing.T) {
	addresses := CreateAddresses(2)
	listeners, _ := CreateListeners(1)
	p := NewPeer(0, addresses, listeners[0], WithTimeout(100*time.Millisecond))
	defer p.Close()
	err := p.Send(context.Background(), []float64{1}, 1, 0)
	if !errors.Is(err, transport.ErrIncompleteTransfer) {
		t.Fatalf("expected %v, nobody listens on the address of peer 1, actual %v", transport.ErrIncompleteTransfer, err)
	}
}

func TestRendezvousSendWaitsForReceive(t *testing.T) {
	listeners, addresses := CreateListeners(2)
	sender := NewPeer(0, addresses, listeners[0], WithRendezvous())
	defer sender.Close()
	receiver := NewPeer(1, addresses, listeners[1], WithRendezvous())
	defer receiver.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := sender.Send(ctx, []float64{1}, 1, 0)
	if !errors.Is(err, transport.ErrIncompleteTransfer) {
		t.Fatalf("expected %v, actual %v", transport.ErrIncompleteTransfer, err)
	}
	// let the server observe the dropped connection
	time.Sleep(100 * time.Millisecond)

	req := sender.SendAsync(context.Background(), []float64{2}, 1, 0)
	recv := make([]float64, 1)
	if err := receiver.Receive(context.Background(), recv, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := req.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if recv[0] != 2 {
		t.Fatalf("expected 2, actual %v", recv[0])
	}
}

func TestRendezvousFailedSendIsNotDelivered(t *testing.T) {
	listeners, addresses := CreateListeners(2)
	sender := NewPeer(0, addresses, listeners[0], WithRendezvous())
	defer sender.Close()
	receiver := NewPeer(1, addresses, listeners[1], WithRendezvous())
	defer receiver.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := sender.Send(ctx, []float64{1}, 1, 0); !errors.Is(err, transport.ErrIncompleteTransfer) {
		t.Fatalf("expected %v, actual %v", transport.ErrIncompleteTransfer, err)
	}
	time.Sleep(100 * time.Millisecond)

	rctx, rcancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer rcancel()
	recv := payload.NewReceiveBuffer(1)
	err := receiver.Receive(rctx, recv, 0, 0)
	if !errors.Is(err, transport.ErrIncompleteTransfer) {
		t.Fatalf("expected %v, actual %v with %v", transport.ErrIncompleteTransfer, err, recv)
	}
	if recv[0] != payload.Sentinel {
		t.Fatalf("receive buffer was written: %v", recv)
	}
}

func TestReceiveSizeMismatch(t *testing.T) {
	listeners, addresses := CreateListeners(2)
	sender := NewPeer(0, addresses, listeners[0])
	defer sender.Close()
	receiver := NewPeer(1, addresses, listeners[1])
	defer receiver.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sender.Send(ctx, payload.Build(0, 10), 1, 0); err != nil {
		t.Fatal(err)
	}
	err := receiver.Receive(ctx, make([]float64, 5), 0, 0)
	if !errors.Is(err, transport.ErrSizeMismatch) {
		t.Fatalf("expected %v, actual %v", transport.ErrSizeMismatch, err)
	}
}

func TestCloseAbortsReceive(t *testing.T) {
	listeners, addresses := CreateListeners(2)
	p := NewPeer(1, addresses, listeners[1])
	req := p.ReceiveAsync(context.Background(), make([]float64, 1), 0, 0)
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if err := req.Wait(context.Background()); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected %v, actual %v", transport.ErrClosed, err)
	}
	listeners[0].Close()
}

func TestUnknownPeer(t *testing.T) {
	listeners, addresses := CreateListeners(1)
	p := NewPeer(0, addresses, listeners[0])
	defer p.Close()
	if err := p.Send(context.Background(), nil, 3, 0); !errors.Is(err, transport.ErrUnknownPeer) {
		t.Fatalf("expected %v, actual %v", transport.ErrUnknownPeer, err)
	}
	if err := p.Receive(context.Background(), nil, 3, 0); !errors.Is(err, transport.ErrUnknownPeer) {
		t.Fatalf("expected %v, actual %v", transport.ErrUnknownPeer, err)
	}
}
