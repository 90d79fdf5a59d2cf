package rollout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/swingbot/internal/capture"
	"github.com/banshee-data/swingbot/internal/frame"
	"github.com/banshee-data/swingbot/internal/monitoring"
	"github.com/banshee-data/swingbot/internal/timeutil"
)

// ErrNoFrame is returned when the frame source stays empty for MaxMisses
// consecutive attempts.
var ErrNoFrame = errors.New("no frame available")

// EnvConfig controls an Env. Zero values select defaults.
type EnvConfig struct {
	TouchX, TouchY int
	StackSize      int
	Width, Height  int
	NoFrameBackoff time.Duration
	MaxMisses      int
	Clock          timeutil.Clock
}

// Env is the live game seen as an RL environment. Actions are mirrored
// onto the touch point with the same edge rules as the capture loop: one
// press per 0 to 1 change and one release per 1 to 0 change.
type Env struct {
	cfg      EnvConfig
	source   capture.FrameSource
	actuator capture.Actuator
	scorer   Scorer
	pre      frame.Preprocessor
	stack    *FrameStack
	edges    capture.EdgeTracker
	frameID  int
}

// NewEnv returns an Env reading frames from source, pressing through
// actuator and scoring with scorer.
func NewEnv(cfg EnvConfig, source capture.FrameSource, actuator capture.Actuator, scorer Scorer) *Env {
	if cfg.StackSize <= 0 {
		cfg.StackSize = 4
	}
	if cfg.NoFrameBackoff <= 0 {
		cfg.NoFrameBackoff = capture.DefaultNoFrameBackoff
	}
	if cfg.MaxMisses <= 0 {
		cfg.MaxMisses = 50
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	pre := frame.NewPreprocessor(cfg.Width, cfg.Height)
	return &Env{
		cfg:      cfg,
		source:   source,
		actuator: actuator,
		scorer:   scorer,
		pre:      pre,
		stack:    NewFrameStack(cfg.StackSize, pre.Width, pre.Height),
	}
}

// Reset releases any held touch, clears the frame stack and returns the
// first observation of a new episode.
func (e *Env) Reset(ctx context.Context) ([]frame.Frame, error) {
	e.release()
	e.stack.Reset()

	f, err := e.nextFrame(ctx)
	if err != nil {
		return nil, err
	}
	e.stack.Push(f)
	return e.stack.Window(), nil
}

// Step applies action, captures the resulting frame and scores it. done is
// true when the scorer reports the episode over.
func (e *Env) Step(ctx context.Context, action int) ([]frame.Frame, RewardComponents, bool, error) {
	if action != 0 && action != 1 {
		return nil, RewardComponents{}, false, fmt.Errorf("invalid action %d", action)
	}
	e.apply(action == 1)

	f, err := e.nextFrame(ctx)
	if err != nil {
		return nil, RewardComponents{}, false, err
	}
	e.stack.Push(f)

	rc, err := e.scorer.ScoreFrame(ctx, f)
	if err != nil {
		if ctx.Err() != nil {
			return nil, RewardComponents{}, false, ctx.Err()
		}
		monitoring.Logf("rollout: scoring frame %d failed, using zero reward: %v", f.ID, err)
		rc = RewardComponents{}
	}
	return e.stack.Window(), rc, rc.Dead, nil
}

// Close releases any held touch.
func (e *Env) Close() {
	e.release()
}

func (e *Env) apply(holding bool) {
	var err error
	switch e.edges.Next(holding) {
	case capture.EdgeStart:
		err = e.actuator.SendStart(e.cfg.TouchX, e.cfg.TouchY)
	case capture.EdgeStop:
		err = e.actuator.SendStop(e.cfg.TouchX, e.cfg.TouchY)
	}
	if err != nil {
		monitoring.Logf("rollout: actuator failed: %v", err)
	}
}

func (e *Env) release() {
	if e.edges.Holding() {
		e.apply(false)
	}
	e.edges.Reset()
}

func (e *Env) nextFrame(ctx context.Context) (frame.Frame, error) {
	for miss := 0; miss < e.cfg.MaxMisses; miss++ {
		if err := ctx.Err(); err != nil {
			return frame.Frame{}, err
		}
		img, err := e.source.CaptureFrame(ctx)
		if err == nil && img != nil {
			f := e.pre.Process(img)
			f.ID = e.frameID
			f.Timestamp = e.cfg.Clock.Now()
			e.frameID++
			return f, nil
		}
		if err != nil && ctx.Err() != nil {
			return frame.Frame{}, ctx.Err()
		}
		e.cfg.Clock.Sleep(e.cfg.NoFrameBackoff)
	}
	return frame.Frame{}, fmt.Errorf("%w after %d attempts", ErrNoFrame, e.cfg.MaxMisses)
}
