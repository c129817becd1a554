package transport

import (
	"context"
)

// Request is the handle of a non-blocking operation.
// It moves once from in flight to complete and never back.
type Request struct {
	done chan struct{}
	err  error
}

// Go runs op in the background and returns the Request tracking it.
func Go(op func() error) *Request {
	r := &Request{done: make(chan struct{})}
	go func() {
		r.err = op()
		close(r.done)
	}()
	return r
}

// Poll reports whether the operation is complete without blocking.
func (r *Request) Poll() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the operation is complete and returns its error.
// If ctx ends first the operation stays in flight and ErrIncompleteTransfer
// is returned.
func (r *Request) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return incomplete(ctx.Err())
	}
}

// Done is closed when the operation completes.
func (r *Request) Done() <-chan struct{} {
	return r.done
}
