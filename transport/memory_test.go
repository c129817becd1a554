package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func endpoints(t *testing.T, f *Fabric) []Transport {
	t.Helper()
	eps := make([]Transport, f.size)
	for i := range eps {
		ep, err := f.Endpoint(i)
		require.NoError(t, err)
		eps[i] = ep
	}
	return eps
}

func TestStoreAndForwardSendDoesNotWait(t *testing.T) {
	f, err := NewFabric(2)
	require.NoError(t, err)
	defer f.Close()
	eps := endpoints(t, f)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, eps[0].Send(ctx, []float64{1, 2, 3}, 1, 0))

	recv := make([]float64, 3)
	require.NoError(t, eps[1].Receive(ctx, recv, 0, 0))
	require.Equal(t, []float64{1, 2, 3}, recv)
}

func TestSendSnapshotsPayload(t *testing.T) {
	f, err := NewFabric(2)
	require.NoError(t, err)
	defer f.Close()
	eps := endpoints(t, f)

	ctx := context.Background()
	buf := []float64{1, 2}
	require.NoError(t, eps[0].Send(ctx, buf, 1, 0))
	buf[0] = 42

	recv := make([]float64, 2)
	require.NoError(t, eps[1].Receive(ctx, recv, 0, 0))
	require.Equal(t, []float64{1, 2}, recv)
}

func TestRendezvousSendWaitsForReceiver(t *testing.T) {
	f, err := NewFabric(2, WithSemantics(Rendezvous))
	require.NoError(t, err)
	defer f.Close()
	eps := endpoints(t, f)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = eps[0].Send(ctx, []float64{1}, 1, 0)
	require.ErrorIs(t, err, ErrIncompleteTransfer)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	fatal := make(chan error, 1)
	go func() {
		fatal <- eps[0].Send(context.Background(), []float64{7}, 1, 0)
	}()
	recv := make([]float64, 1)
	require.NoError(t, eps[1].Receive(context.Background(), recv, 0, 0))
	require.NoError(t, <-fatal)
	require.Equal(t, 7.0, recv[0])
}

func TestRendezvousSelfSendIsBuffered(t *testing.T) {
	f, err := NewFabric(1, WithSemantics(Rendezvous))
	require.NoError(t, err)
	defer f.Close()
	eps := endpoints(t, f)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, eps[0].Send(ctx, []float64{5}, 0, 0))
	recv := make([]float64, 1)
	require.NoError(t, eps[0].Receive(ctx, recv, 0, 0))
	require.Equal(t, 5.0, recv[0])
}

func TestFIFOPerEdge(t *testing.T) {
	f, err := NewFabric(2)
	require.NoError(t, err)
	defer f.Close()
	eps := endpoints(t, f)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, eps[0].Send(ctx, []float64{float64(i)}, 1, 0))
	}
	recv := make([]float64, 1)
	for i := 0; i < 10; i++ {
		require.NoError(t, eps[1].Receive(ctx, recv, 0, 0))
		require.Equal(t, float64(i), recv[0])
	}
}

func TestTagsAreIndependent(t *testing.T) {
	f, err := NewFabric(2)
	require.NoError(t, err)
	defer f.Close()
	eps := endpoints(t, f)

	ctx := context.Background()
	require.NoError(t, eps[0].Send(ctx, []float64{1}, 1, 0))
	require.NoError(t, eps[0].Send(ctx, []float64{2}, 1, 99))
	recv := make([]float64, 1)
	require.NoError(t, eps[1].Receive(ctx, recv, 0, 99))
	require.Equal(t, 2.0, recv[0])
	require.NoError(t, eps[1].Receive(ctx, recv, 0, 0))
	require.Equal(t, 1.0, recv[0])
}

func TestReceiveSizeMismatch(t *testing.T) {
	f, err := NewFabric(2)
	require.NoError(t, err)
	defer f.Close()
	eps := endpoints(t, f)

	ctx := context.Background()
	require.NoError(t, eps[0].Send(ctx, []float64{1, 2, 3}, 1, 0))
	err = eps[1].Receive(ctx, make([]float64, 2), 0, 0)
	require.ErrorIs(t, err, ErrSizeMismatch)
}

func TestAsyncPollAndWait(t *testing.T) {
	f, err := NewFabric(2, WithLatency(20*time.Millisecond))
	require.NoError(t, err)
	defer f.Close()
	eps := endpoints(t, f)

	ctx := context.Background()
	recv := make([]float64, 2)
	rreq := eps[1].ReceiveAsync(ctx, recv, 0, 0)
	require.False(t, rreq.Poll())

	sreq := eps[0].SendAsync(ctx, []float64{3, 4}, 1, 0)
	require.NoError(t, rreq.Wait(ctx))
	require.True(t, rreq.Poll())
	require.NoError(t, sreq.Wait(ctx))
	require.Equal(t, []float64{3, 4}, recv)
}

func TestCloseAbortsPendingReceive(t *testing.T) {
	f, err := NewFabric(2)
	require.NoError(t, err)
	eps := endpoints(t, f)

	req := eps[1].ReceiveAsync(context.Background(), make([]float64, 1), 0, 0)
	require.NoError(t, f.Close())
	require.ErrorIs(t, req.Wait(context.Background()), ErrClosed)
}

func TestUnknownPeer(t *testing.T) {
	f, err := NewFabric(2)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.Endpoint(2)
	require.ErrorIs(t, err, ErrUnknownPeer)

	eps := endpoints(t, f)
	require.ErrorIs(t, eps[0].Send(context.Background(), nil, 5, 0), ErrUnknownPeer)
}

func TestParseSemantics(t *testing.T) {
	for _, s := range []Semantics{StoreAndForward, Rendezvous} {
		parsed, err := ParseSemantics(s.String())
		require.NoError(t, err)
		require.Equal(t, s, parsed)
	}
	_, err := ParseSemantics("carrier-pigeon")
	require.Error(t, err)
}
