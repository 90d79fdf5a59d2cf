package rollout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/swingbot/internal/frame"
	"github.com/banshee-data/swingbot/internal/monitoring"
	"github.com/banshee-data/swingbot/internal/timeutil"
)

// DefaultRolloutSteps is the number of steps collected between updates.
const DefaultRolloutSteps = 2048

// Summary describes one completed (or interrupted) rollout.
type Summary struct {
	Index       int
	Steps       int
	Episodes    int
	TotalReward float64
	MeanReward  float64
	StdReward   float64
	// PolicyErrors counts steps where Predict failed and release was used.
	PolicyErrors int
	UpdateFailed bool
	Interrupted  bool
	Started      time.Time
	Duration     time.Duration
}

// TrainerConfig controls a Trainer.
type TrainerConfig struct {
	RolloutSteps int
	Clock        timeutil.Clock
	// ComponentLogInterval throttles the per-step reward component log.
	ComponentLogInterval time.Duration
}

// Trainer alternates rollouts on the live Env with policy updates. Hooks
// bracket every rollout so the game only runs while steps are collected.
type Trainer struct {
	cfg     TrainerConfig
	env     *Env
	policy  Policy
	updater Updater
	hooks   Hooks
	buf     *Buffer
	compLog *monitoring.Limiter

	// OnRollout, if set, is called after every rollout.
	OnRollout func(Summary)

	window []frame.Frame
}

// NewTrainer returns a Trainer. hooks may be nil.
func NewTrainer(cfg TrainerConfig, env *Env, policy Policy, updater Updater, hooks Hooks) (*Trainer, error) {
	if cfg.RolloutSteps <= 0 {
		cfg.RolloutSteps = DefaultRolloutSteps
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.ComponentLogInterval == 0 {
		cfg.ComponentLogInterval = time.Second
	}
	buf, err := NewBuffer(cfg.RolloutSteps)
	if err != nil {
		return nil, err
	}
	return &Trainer{
		cfg:     cfg,
		env:     env,
		policy:  policy,
		updater: updater,
		hooks:   hooks,
		buf:     buf,
		compLog: monitoring.NewLimiter(cfg.ComponentLogInterval),
	}, nil
}

// Run trains for totalSteps environment steps. It returns the summary of
// every rollout started. If ctx is cancelled mid-rollout the environment
// is still paused, the partial rollout is summarised as interrupted and
// ctx's error is returned.
func (t *Trainer) Run(ctx context.Context, totalSteps int) ([]Summary, error) {
	if totalSteps <= 0 {
		return nil, errors.New("total steps must be > 0")
	}
	defer t.env.Close()

	var summaries []Summary
	done := 0
	for i := 0; done < totalSteps; i++ {
		n := min(t.cfg.RolloutSteps, totalSteps-done)
		sum, err := t.rollout(ctx, i, n)
		done += sum.Steps
		summaries = append(summaries, sum)
		if t.OnRollout != nil {
			t.OnRollout(sum)
		}
		if err != nil {
			return summaries, err
		}
		if sum.Steps == 0 {
			return summaries, errors.New("rollout collected no steps")
		}
	}
	monitoring.Logf("training finished: %d steps in %d rollouts", done, len(summaries))
	return summaries, nil
}

func (t *Trainer) rollout(ctx context.Context, index, steps int) (Summary, error) {
	sum := Summary{Index: index, Started: t.cfg.Clock.Now()}

	if t.hooks != nil {
		t.hooks.OnRolloutStart(ctx)
	}
	runErr := t.collect(ctx, steps, &sum)
	if t.hooks != nil {
		// The game must be paused even when training was interrupted.
		t.hooks.OnRolloutEnd(context.WithoutCancel(ctx))
	}

	rewards := t.buf.Rewards()
	sum.Steps = len(rewards)
	if len(rewards) > 0 {
		sum.MeanReward, sum.StdReward = stat.MeanStdDev(rewards, nil)
		if len(rewards) == 1 {
			sum.StdReward = 0
		}
		for _, r := range rewards {
			sum.TotalReward += r
		}
	}
	sum.Duration = t.cfg.Clock.Since(sum.Started)

	if runErr != nil {
		t.buf.Drain()
		if ctx.Err() != nil {
			sum.Interrupted = true
			monitoring.Logf("rollout %d interrupted after %d steps", index, sum.Steps)
			return sum, ctx.Err()
		}
		return sum, fmt.Errorf("rollout %d: %w", index, runErr)
	}

	collected, err := t.buf.Drain()
	if err == nil {
		if err := t.updater.UpdateParameters(ctx, collected); err != nil {
			sum.UpdateFailed = true
			monitoring.Logf("warning: rollout %d: policy update failed: %v", index, err)
			if ctx.Err() != nil {
				sum.Interrupted = true
				return sum, ctx.Err()
			}
		}
	}

	monitoring.Logf("rollout %d: %d steps, %d episodes, reward mean %.3f std %.3f",
		index, sum.Steps, sum.Episodes, sum.MeanReward, sum.StdReward)
	return sum, nil
}

func (t *Trainer) collect(ctx context.Context, steps int, sum *Summary) error {
	if t.window == nil {
		w, err := t.env.Reset(ctx)
		if err != nil {
			return err
		}
		t.window = w
	}

	for i := 0; i < steps; i++ {
		action, err := t.policy.Predict(ctx, t.window)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			sum.PolicyErrors++
			monitoring.Logf("rollout: predict failed, releasing: %v", err)
			action = 0
		}

		next, rc, done, err := t.env.Step(ctx, action)
		if err != nil {
			return err
		}
		t.compLog.Logf("reward components: distance=%.3f bananas=%.3f total=%.3f dead=%v",
			rc.Distance, rc.Bananas, rc.Total, rc.Dead)

		if err := t.buf.Add(Step{
			Window:     t.window,
			Action:     action,
			Reward:     rc.Total,
			Components: rc,
			Done:       done,
		}); err != nil {
			return err
		}

		t.window = next
		if done {
			sum.Episodes++
			w, err := t.env.Reset(ctx)
			if err != nil {
				t.window = nil
				return err
			}
			t.window = w
		}
	}
	return nil
}
