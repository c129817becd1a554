package network

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/luca-patrignani/ringbench/payload"
	"github.com/luca-patrignani/ringbench/transport"
)

const (
	senderHeader   = "Senderrank"
	receiverHeader = "Receiverrank"
	tagHeader      = "Tag"
	lengthHeader   = "Length"

	mailboxCapacity = 16
	retryInterval   = 10 * time.Millisecond
)

// Peer is an helper struct for communication between nodes.
// rank is the identifier of the Peer and addresses[i] contains the
// address to reach the Peer with rank i.
type Peer struct {
	rank      int
	addresses map[int]string
	server    *http.Server
	handler   *exchangeHandler
	client    *http.Client
	timeout   time.Duration
	tlsConfig *tls.Config
}

var _ transport.Transport = (*Peer)(nil)

// NewPeer creates the Peer with the given rank and starts serving on l.
func NewPeer(rank int, addresses map[int]string, l net.Listener, opts ...PeerOption) *Peer {
	p := NewPeerWithOptions(rank, addresses, opts...)
	p.Start(l)
	return p
}

func (p *Peer) Rank() int {
	return p.rank
}

func (p *Peer) Size() int {
	return len(p.addresses)
}

// Addresses returns a copy of the address book of the group.
func (p *Peer) Addresses() map[int]string {
	return copyMap(p.addresses)
}

// Close stops the server and aborts the receives still waiting for a message.
func (p *Peer) Close() error {
	p.handler.close()
	return p.server.Shutdown(context.Background())
}

// Send posts buf to the Peer with rank dst. Refused connections are retried
// until the timeout of the Peer, if any, expires.
func (p *Peer) Send(ctx context.Context, buf []float64, dst int, tag int) error {
	addr, ok := p.addresses[dst]
	if !ok {
		return fmt.Errorf("%w: rank %d", transport.ErrUnknownPeer, dst)
	}
	body := payload.Marshal(buf)
	start := time.Now()
	for {
		err := p.post(ctx, addr, body, len(buf), dst, tag)
		if err == nil {
			return nil
		}
		var refused *retryableError
		if !errors.As(err, &refused) {
			return err
		}
		if p.timeout > 0 && time.Since(start) > p.timeout {
			return fmt.Errorf("%w: connection attempts timed out with error %w", transport.ErrIncompleteTransfer, refused.err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", transport.ErrIncompleteTransfer, ctx.Err())
		case <-time.After(retryInterval):
		}
	}
}

// Receive waits for the message sent by src with tag and copies it into buf.
func (p *Peer) Receive(ctx context.Context, buf []float64, src int, tag int) error {
	if _, ok := p.addresses[src]; !ok {
		return fmt.Errorf("%w: rank %d", transport.ErrUnknownPeer, src)
	}
	mb := p.handler.mailbox(src, tag)
	for {
		var d delivery
		select {
		case d = <-mb:
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", transport.ErrIncompleteTransfer, ctx.Err())
		case <-p.handler.closed:
			return transport.ErrClosed
		}
		// the sender gave up before the hand-off
		if !<-d.committed {
			continue
		}
		if len(d.msg) != len(buf) {
			return fmt.Errorf("%w: peer %d sent %d elements, peer %d expects %d", transport.ErrSizeMismatch, src, len(d.msg), p.rank, len(buf))
		}
		copy(buf, d.msg)
		return nil
	}
}

func (p *Peer) SendAsync(ctx context.Context, buf []float64, dst int, tag int) *transport.Request {
	return transport.Go(func() error { return p.Send(ctx, buf, dst, tag) })
}

func (p *Peer) ReceiveAsync(ctx context.Context, buf []float64, src int, tag int) *transport.Request {
	return transport.Go(func() error { return p.Receive(ctx, buf, src, tag) })
}

// retryableError marks a failure to reach a Peer that may not be listening yet.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

func (p *Peer) post(ctx context.Context, addr string, body []byte, length int, dst int, tag int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url(addr), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header[senderHeader] = []string{fmt.Sprint(p.rank)}
	req.Header[receiverHeader] = []string{fmt.Sprint(dst)}
	req.Header[tagHeader] = []string{fmt.Sprint(tag)}
	req.Header[lengthHeader] = []string{fmt.Sprint(length)}
	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", transport.ErrIncompleteTransfer, ctx.Err())
		}
		return &retryableError{err: err}
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusAccepted:
		return nil
	case http.StatusServiceUnavailable:
		return &retryableError{err: fmt.Errorf("peer %d is shutting down", dst)}
	}
	reason, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("peer %d refused the message with status code %d: %s", dst, resp.StatusCode, strings.TrimSpace(string(reason)))
}

type edge struct {
	src int
	tag int
}

// delivery is a message handed to a Receive. committed tells whether the
// request carrying it was still alive at the hand-off.
type delivery struct {
	msg       []float64
	committed chan bool
}

type exchangeHandler struct {
	rank       int
	rendezvous bool
	mu         sync.Mutex
	mailboxes  map[edge]chan delivery
	closed     chan struct{}
	closeOnce  sync.Once
}

func newExchangeHandler(rank int) *exchangeHandler {
	return &exchangeHandler{
		rank:      rank,
		mailboxes: make(map[edge]chan delivery),
		closed:    make(chan struct{}),
	}
}

func (h *exchangeHandler) close() {
	h.closeOnce.Do(func() { close(h.closed) })
}

// mailbox returns the queue of the messages sent by src with tag.
// Under rendezvous only the self edge is buffered.
func (h *exchangeHandler) mailbox(src int, tag int) chan delivery {
	h.mu.Lock()
	defer h.mu.Unlock()
	e := edge{src: src, tag: tag}
	mb, ok := h.mailboxes[e]
	if !ok {
		if h.rendezvous && src != h.rank {
			mb = make(chan delivery)
		} else {
			mb = make(chan delivery, mailboxCapacity)
		}
		h.mailboxes[e] = mb
	}
	return mb
}

func (h *exchangeHandler) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	src, err := intHeader(req, senderHeader)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusNotAcceptable)
		return
	}
	dst, err := intHeader(req, receiverHeader)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusNotAcceptable)
		return
	}
	if dst != h.rank {
		http.Error(rw, fmt.Sprintf("message for rank %d delivered to rank %d", dst, h.rank), http.StatusNotAcceptable)
		return
	}
	tag, err := intHeader(req, tagHeader)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusNotAcceptable)
		return
	}
	length, err := intHeader(req, lengthHeader)
	if err != nil || length < 0 {
		http.Error(rw, "invalid Length field", http.StatusNotAcceptable)
		return
	}
	content, err := io.ReadAll(req.Body)
	if err != nil {
		rw.WriteHeader(http.StatusInternalServerError)
		return
	}
	msg := make([]float64, length)
	if err := payload.Unmarshal(content, msg); err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}
	d := delivery{msg: msg, committed: make(chan bool, 1)}
	select {
	case h.mailbox(src, tag) <- d:
	case <-h.closed:
		rw.WriteHeader(http.StatusServiceUnavailable)
		return
	case <-req.Context().Done():
		return
	}
	if req.Context().Err() != nil {
		d.committed <- false
		return
	}
	d.committed <- true
	rw.WriteHeader(http.StatusAccepted)
}

func intHeader(req *http.Request, key string) (int, error) {
	values, ok := req.Header[key]
	if !ok || len(values) == 0 {
		return 0, fmt.Errorf("from handler: %s field is not present in request", key)
	}
	v, err := strconv.Atoi(values[0])
	if err != nil {
		return 0, fmt.Errorf("from handler: %s field is not a number", key)
	}
	return v, nil
}

func url(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr
}

// helper function for creating n addresses localhost:PORT
func CreateAddresses(n int) map[int]string {
	addresses := make(map[int]string)
	for i := 0; i < n; i++ {
		l, err := net.Listen("tcp", "localhost:0")
		if err != nil {
			panic(err)
		}
		addresses[i] = l.Addr().String()
		if err := l.Close(); err != nil {
			panic(err)
		}
	}
	return addresses
}

func CreateListeners(n int) (map[int]net.Listener, map[int]string) {
	listeners, addresses, err := Listen(n)
	if err != nil {
		panic(err)
	}
	return listeners, addresses
}

// Listen opens n loopback listeners and returns them with their addresses.
func Listen(n int) (map[int]net.Listener, map[int]string, error) {
	listeners := make(map[int]net.Listener)
	addresses := make(map[int]string)
	for i := 0; i < n; i++ {
		l, err := net.Listen("tcp", "localhost:0")
		if err != nil {
			for _, opened := range listeners {
				err = errors.Join(err, opened.Close())
			}
			return nil, nil, err
		}
		listeners[i] = l
		addresses[i] = l.Addr().String()
	}
	return listeners, addresses, nil
}

func copyMap(original map[int]string) map[int]string {
	copied := make(map[int]string)
	for k, v := range original {
		copied[k] = v
	}
	return copied
}
