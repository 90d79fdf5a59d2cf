package rollout

import (
	"errors"
	"sync"
)

var (
	ErrBufferFull  = errors.New("buffer is full")
	ErrBufferEmpty = errors.New("buffer is empty")
)

// Buffer collects the steps of one rollout.
type Buffer struct {
	mu       sync.Mutex
	steps    []Step
	capacity int
}

// NewBuffer returns a Buffer holding up to capacity steps.
func NewBuffer(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, errors.New("capacity must be greater than zero")
	}
	return &Buffer{
		steps:    make([]Step, 0, capacity),
		capacity: capacity,
	}, nil
}

// Add appends a step.
func (b *Buffer) Add(step Step) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.steps) >= b.capacity {
		return ErrBufferFull
	}
	b.steps = append(b.steps, step)
	return nil
}

// Drain returns the collected steps and empties the buffer.
func (b *Buffer) Drain() ([]Step, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.steps) == 0 {
		return nil, ErrBufferEmpty
	}
	steps := b.steps
	b.steps = make([]Step, 0, b.capacity)
	return steps, nil
}

// Rewards returns the reward of every collected step.
func (b *Buffer) Rewards() []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]float64, len(b.steps))
	for i, s := range b.steps {
		out[i] = s.Reward
	}
	return out
}

func (b *Buffer) Capacity() int {
	return b.capacity
}

func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.steps)
}

// Full reports whether the buffer is at capacity.
func (b *Buffer) Full() bool {
	return b.Size() >= b.capacity
}
