package capture

import (
	"context"
	"sync/atomic"
)

// HoldCell is the latest hold/release state reported by the input device.
// The input listener is its only writer; the capture loop samples it once
// per tick.
type HoldCell struct {
	v atomic.Bool
}

// Set stores the hold state.
func (c *HoldCell) Set(holding bool) { c.v.Store(holding) }

// Load returns the hold state.
func (c *HoldCell) Load() bool { return c.v.Load() }

// Listen copies events into cell until ctx is done or events is closed.
// Several toggles between two samples collapse to the last value.
func Listen(ctx context.Context, events <-chan bool, cell *HoldCell) {
	for {
		select {
		case <-ctx.Done():
			return
		case holding, ok := <-events:
			if !ok {
				return
			}
			cell.Set(holding)
		}
	}
}

// Edge is a change in hold state between two consecutive samples.
type Edge int

const (
	EdgeNone Edge = iota
	// EdgeStart is a release to hold transition.
	EdgeStart
	// EdgeStop is a hold to release transition.
	EdgeStop
)

func (e Edge) String() string {
	switch e {
	case EdgeStart:
		return "start"
	case EdgeStop:
		return "stop"
	default:
		return "none"
	}
}

// EdgeTracker turns sampled hold states into edges. Steady samples yield
// EdgeNone, so each hold produces exactly one start and one stop.
type EdgeTracker struct {
	holding bool
}

// Next records a sample and returns the edge it completes.
func (t *EdgeTracker) Next(holding bool) Edge {
	was := t.holding
	t.holding = holding
	switch {
	case holding && !was:
		return EdgeStart
	case !holding && was:
		return EdgeStop
	default:
		return EdgeNone
	}
}

// Holding reports the last sampled state.
func (t *EdgeTracker) Holding() bool { return t.holding }

// Reset forgets the last sample.
func (t *EdgeTracker) Reset() { t.holding = false }
