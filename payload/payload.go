package payload

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"go.dedis.ch/kyber/v4/suites"
)

// Sentinel fills a receive buffer so that a missing receive stays observable.
const Sentinel = -1.0

const (
	period = 1000
	weight = 0.0001
	// elementSize is the wire size of one element.
	elementSize = 8
)

var ErrSizeMismatch = errors.New("message size mismatch")

var suite suites.Suite = suites.MustFind("Ed25519")

// Element returns the i-th element of the payload sent by rank.
func Element(rank int, i int) float64 {
	return float64(rank*period + i%period)
}

// Build creates the deterministic payload of n elements sent by rank.
func Build(rank int, n int) []float64 {
	buf := make([]float64, n)
	for i := range buf {
		buf[i] = Element(rank, i)
	}
	return buf
}

// NewReceiveBuffer creates a buffer of n elements initialized to Sentinel.
func NewReceiveBuffer(n int) []float64 {
	buf := make([]float64, n)
	for i := range buf {
		buf[i] = Sentinel
	}
	return buf
}

// Checksum reduces buf to the weighted sum of its elements.
// The sum runs in index order so that equal buffers give bit-identical checksums.
func Checksum(buf []float64) float64 {
	sum := 0.0
	for _, v := range buf {
		sum += v * weight
	}
	return sum
}

// Expected is the checksum of the payload of n elements sent by rank,
// as predicted by the sender without any transfer.
func Expected(rank int, n int) float64 {
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += Element(rank, i) * weight
	}
	return sum
}

// Marshal encodes buf as little-endian IEEE-754 doubles.
func Marshal(buf []float64) []byte {
	data := make([]byte, 0, len(buf)*elementSize)
	for _, v := range buf {
		data = binary.LittleEndian.AppendUint64(data, math.Float64bits(v))
	}
	return data
}

// Unmarshal decodes data into dst. The element count carried by data
// must match len(dst).
func Unmarshal(data []byte, dst []float64) error {
	if len(data)%elementSize != 0 {
		return fmt.Errorf("truncated message of %d bytes", len(data))
	}
	if n := len(data) / elementSize; n != len(dst) {
		return fmt.Errorf("%w: received %d elements, buffer holds %d", ErrSizeMismatch, n, len(dst))
	}
	for i := range dst {
		dst[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*elementSize:]))
	}
	return nil
}

// Digest hashes the wire encoding of buf.
func Digest(buf []float64) []byte {
	h := suite.Hash()
	_, _ = h.Write(Marshal(buf))
	return h.Sum(nil)
}
