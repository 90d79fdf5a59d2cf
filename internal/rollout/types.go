// Package rollout runs online training against the live game: an Env that
// turns policy actions into touch commands and screen captures into stacked
// observations, a Buffer of collected steps, and a Trainer that alternates
// rollouts with policy updates.
package rollout

import (
	"context"

	"github.com/banshee-data/swingbot/internal/frame"
)

// RewardComponents is the breakdown of one step's reward as read from the
// screen. Raw readings are nil when the scorer could not read them.
type RewardComponents struct {
	Distance float64 `json:"distance"`
	Bananas  float64 `json:"bananas"`
	Total    float64 `json:"total"`
	Dead     bool    `json:"dead"`

	RawDistance *float64 `json:"raw_distance,omitempty"`
	RawBananas  *float64 `json:"raw_bananas,omitempty"`
}

// Step is one transition collected during a rollout.
type Step struct {
	// Window is the observation the action was chosen from, oldest first.
	Window     []frame.Frame
	Action     int
	Reward     float64
	Components RewardComponents
	Done       bool
}

// Policy chooses an action (0 release, 1 hold) from a K-frame window.
type Policy interface {
	Predict(ctx context.Context, window []frame.Frame) (int, error)
}

// Scorer reads the reward off a captured frame.
type Scorer interface {
	ScoreFrame(ctx context.Context, f frame.Frame) (RewardComponents, error)
}

// Updater runs one policy update over a completed rollout.
type Updater interface {
	UpdateParameters(ctx context.Context, steps []Step) error
}

// Hooks is notified around each rollout. phase.Scheduler implements it.
type Hooks interface {
	OnRolloutStart(ctx context.Context)
	OnRolloutEnd(ctx context.Context)
}
