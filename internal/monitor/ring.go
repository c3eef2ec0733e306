package monitor

import (
	"errors"
	"fmt"
)

// Ring is a fixed-size buffer of samples. Once full, each push replaces the
// oldest sample.
type Ring struct {
	samples []float64
	next    int
	n       int
}

// MaxRingSize bounds the number of samples a ring may hold.
const MaxRingSize = 1 << 20

var errRingDestroyed = errors.New("ring already destroyed")

// NewRing returns a ring holding up to size samples.
func NewRing(size int) (*Ring, error) {
	r := &Ring{}
	if err := r.init(size); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Ring) init(size int) error {
	if size <= 0 {
		return errors.New("ring size must be positive")
	}
	if size > MaxRingSize {
		return fmt.Errorf("ring size %d is larger than %d", size, MaxRingSize)
	}
	r.samples = make([]float64, size)
	return nil
}

// Push adds a sample. It fails once the ring is destroyed.
func (r *Ring) Push(v float64) error {
	if r.samples == nil {
		return errRingDestroyed
	}
	r.samples[r.next] = v
	r.next = (r.next + 1) % len(r.samples)
	if r.n < len(r.samples) {
		r.n++
	}
	return nil
}

// Len returns the number of samples held.
func (r *Ring) Len() int { return r.n }

// Avg returns the mean of the samples, or 0 for an empty ring.
func (r *Ring) Avg() float64 {
	if r.n == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range r.held() {
		sum += v
	}
	return sum / float64(r.n)
}

// Max returns the largest sample, or 0 for an empty ring.
func (r *Ring) Max() float64 {
	if r.n == 0 {
		return 0
	}
	held := r.held()
	m := held[0]
	for _, v := range held[1:] {
		m = max(m, v)
	}
	return m
}

func (r *Ring) held() []float64 {
	if r.n < len(r.samples) {
		return r.samples[:r.n]
	}
	return r.samples
}

// Destroyed reports whether Destroy has run.
func (r *Ring) Destroyed() bool {
	return r.samples == nil
}

// Destroy drops the samples.
func (r *Ring) Destroy() error {
	r.samples = nil
	r.next = 0
	r.n = 0
	return nil
}
