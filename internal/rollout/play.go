package rollout

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/swingbot/internal/monitoring"
	"github.com/banshee-data/swingbot/internal/timeutil"
)

// PlayConfig controls Play.
type PlayConfig struct {
	Episodes int
	// MaxSteps caps each episode. Zero means no cap.
	MaxSteps int
	Clock    timeutil.Clock
}

// Episode is the outcome of one evaluation episode.
type Episode struct {
	Index        int
	Steps        int
	TotalReward  float64
	PolicyErrors int
	// Finished is true when the scorer reported the episode over, false
	// when MaxSteps or cancellation ended it.
	Finished    bool
	Interrupted bool
	Duration    time.Duration
}

// Play runs the policy on env for cfg.Episodes episodes without collecting
// steps or updating the policy. hooks bracket each episode the same way
// they bracket a training rollout, so the game only runs while an episode
// is in progress. hooks may be nil.
func Play(ctx context.Context, cfg PlayConfig, env *Env, policy Policy, hooks Hooks) ([]Episode, error) {
	if cfg.Episodes <= 0 {
		return nil, errors.New("episodes must be > 0")
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	defer env.Close()

	var episodes []Episode
	for i := 0; i < cfg.Episodes; i++ {
		ep, err := playEpisode(ctx, cfg, env, policy, hooks, i)
		episodes = append(episodes, ep)
		if err != nil {
			return episodes, err
		}
		monitoring.Logf("episode %d: %d steps, total reward %.4f", i, ep.Steps, ep.TotalReward)
	}
	return episodes, nil
}

func playEpisode(ctx context.Context, cfg PlayConfig, env *Env, policy Policy, hooks Hooks, index int) (Episode, error) {
	ep := Episode{Index: index}
	started := cfg.Clock.Now()

	if hooks != nil {
		hooks.OnRolloutStart(ctx)
		defer hooks.OnRolloutEnd(context.WithoutCancel(ctx))
	}

	err := func() error {
		window, err := env.Reset(ctx)
		if err != nil {
			return err
		}
		for cfg.MaxSteps <= 0 || ep.Steps < cfg.MaxSteps {
			action, err := policy.Predict(ctx, window)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				ep.PolicyErrors++
				monitoring.Logf("play: predict failed, releasing: %v", err)
				action = 0
			}
			next, rc, done, err := env.Step(ctx, action)
			if err != nil {
				return err
			}
			ep.Steps++
			ep.TotalReward += rc.Total
			if done {
				ep.Finished = true
				return nil
			}
			window = next
		}
		return nil
	}()
	// Release before the pause hook runs.
	env.Close()
	ep.Duration = cfg.Clock.Since(started)

	if err != nil && ctx.Err() != nil {
		ep.Interrupted = true
		return ep, ctx.Err()
	}
	return ep, err
}
