package bench

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Result is the outcome of one exchange round of one peer.
type Result struct {
	Rank int
	// Left is the neighbor the payload was received from.
	Left int
	// Right is the neighbor the payload was sent to.
	Right int
	// First is the first received element, NaN for an empty message.
	First       float64
	Checksum    float64
	Elapsed     time.Duration
	MessageSize int
	Strategy    string
	Polls       int
	FellBack    bool
	Digest      []byte
}

// HasFirst reports whether First carries a received element.
func (r Result) HasFirst() bool {
	return !math.IsNaN(r.First)
}

func (r Result) String() string {
	first := "-"
	if r.HasFirst() {
		first = strconv.FormatFloat(r.First, 'f', -1, 64)
	}
	return fmt.Sprintf("peer %d received from peer %d, first element %s, checksum %.4f, communication time: %f seconds, message size %d, strategy %s",
		r.Rank, r.Left, first, r.Checksum, r.Elapsed.Seconds(), r.MessageSize, r.Strategy)
}
