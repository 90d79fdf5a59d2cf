// Package phase keeps the live game in step with training: the game runs
// while rollouts are collected and is paused while the policy updates.
package phase

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/swingbot/internal/monitoring"
)

// State is the current training phase.
type State int

const (
	// Update is the initial state; the environment is considered paused.
	Update State = iota
	Rollout
)

func (s State) String() string {
	if s == Rollout {
		return "rollout"
	}
	return "update"
}

// Pausable is an environment that can be frozen between rollouts.
type Pausable interface {
	Pause(ctx context.Context) error
	Unpause(ctx context.Context) error
}

// Counters reports scheduler activity.
type Counters struct {
	Transitions     int
	PauseFailures   int
	UnpauseFailures int
	Ignored         int
}

// Scheduler issues strictly alternating unpause/pause calls, starting with
// unpause. Hooks called out of order are logged and ignored. Failed calls
// are logged and still move the state, so a flaky environment never stops
// training.
type Scheduler struct {
	env     Pausable
	timeout time.Duration

	mu       sync.Mutex
	state    State
	counters Counters
}

// NewScheduler returns a Scheduler in the Update state. A positive timeout
// bounds each Pause/Unpause call.
func NewScheduler(env Pausable, timeout time.Duration) *Scheduler {
	return &Scheduler{env: env, timeout: timeout, state: Update}
}

// OnRolloutStart unpauses the environment.
func (s *Scheduler) OnRolloutStart(ctx context.Context) {
	s.transition(ctx, Rollout)
}

// OnRolloutEnd pauses the environment.
func (s *Scheduler) OnRolloutEnd(ctx context.Context) {
	s.transition(ctx, Update)
}

// OnUpdateStart is OnRolloutEnd.
func (s *Scheduler) OnUpdateStart(ctx context.Context) {
	s.OnRolloutEnd(ctx)
}

// State returns the current phase.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transitions returns the number of phase changes issued.
func (s *Scheduler) Transitions() int {
	return s.Counters().Transitions
}

// Counters returns a snapshot of the scheduler counters.
func (s *Scheduler) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

func (s *Scheduler) transition(ctx context.Context, to State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == to {
		s.counters.Ignored++
		monitoring.Logf("phase: ignoring %s hook, already in %s", hookName(to), s.state)
		return
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var err error
	if to == Rollout {
		err = s.env.Unpause(ctx)
		if err != nil {
			s.counters.UnpauseFailures++
		}
	} else {
		err = s.env.Pause(ctx)
		if err != nil {
			s.counters.PauseFailures++
		}
	}
	if err != nil {
		monitoring.Logf("warning: phase: %s failed: %v", hookName(to), err)
	}

	s.state = to
	s.counters.Transitions++
}

func hookName(to State) string {
	if to == Rollout {
		return "unpause"
	}
	return "pause"
}
