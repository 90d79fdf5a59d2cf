// Package pretrain runs behaviour cloning over a recorded dataset: every
// epoch visits the samples in a fresh random order, groups them into
// batches and hands each batch to the policy service as labelled windows.
package pretrain

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/swingbot/internal/dataset"
	"github.com/banshee-data/swingbot/internal/frame"
	"github.com/banshee-data/swingbot/internal/monitoring"
	"github.com/banshee-data/swingbot/internal/timeutil"
)

const (
	DefaultEpochs    = 5
	DefaultBatchSize = 32
)

// ErrNoSamples is returned by Run when the dataset is empty.
var ErrNoSamples = errors.New("dataset has no samples")

// Samples is the read side of a dataset.Dataset.
type Samples interface {
	Size() int
	Get(idx int) (dataset.StackedSample, error)
}

// BatchResult is what the policy service reports for one batch.
type BatchResult struct {
	Loss    float64 `json:"loss"`
	Correct int     `json:"correct"`
}

// Learner applies one supervised update from windows and their recorded
// actions. policyclient.Client implements it.
type Learner interface {
	UpdateBehaviour(ctx context.Context, windows [][]frame.Frame, labels []int) (BatchResult, error)
}

// Config controls a Trainer. Zero values select defaults; a zero Seed
// seeds from the clock.
type Config struct {
	Epochs    int
	BatchSize int
	Seed      int64
	Clock     timeutil.Clock
}

// EpochSummary describes one pass over the dataset.
type EpochSummary struct {
	Epoch         int
	Samples       int
	Batches       int
	FailedBatches int
	MeanLoss      float64
	// Accuracy is Correct over the samples of successful batches.
	Correct  int
	Accuracy float64
	Duration time.Duration
}

// Trainer feeds shuffled dataset batches to a Learner.
type Trainer struct {
	cfg     Config
	samples Samples
	learner Learner
	rng     *rand.Rand

	// OnEpoch, if set, is called after every epoch.
	OnEpoch func(EpochSummary)
}

// NewTrainer returns a Trainer over samples.
func NewTrainer(cfg Config, samples Samples, learner Learner) (*Trainer, error) {
	if samples == nil || learner == nil {
		return nil, errors.New("pretrain: samples and learner are required")
	}
	if cfg.Epochs <= 0 {
		cfg.Epochs = DefaultEpochs
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &Trainer{
		cfg:     cfg,
		samples: samples,
		learner: learner,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Run trains for the configured number of epochs and returns a summary of
// each. A failed batch is logged and counted; the epoch goes on. If ctx is
// cancelled the summaries so far are returned with ctx's error.
func (t *Trainer) Run(ctx context.Context) ([]EpochSummary, error) {
	n := t.samples.Size()
	if n == 0 {
		return nil, ErrNoSamples
	}
	monitoring.Logf("pretrain: %d samples, %d epochs, batch size %d", n, t.cfg.Epochs, t.cfg.BatchSize)

	var out []EpochSummary
	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		sum, err := t.epoch(ctx, epoch, n)
		if err != nil {
			return out, err
		}
		monitoring.Logf("pretrain: epoch %d/%d: %d samples in %d batches (%d failed), loss %.4f, accuracy %.2f%%",
			epoch, t.cfg.Epochs, sum.Samples, sum.Batches, sum.FailedBatches, sum.MeanLoss, 100*sum.Accuracy)
		out = append(out, sum)
		if t.OnEpoch != nil {
			t.OnEpoch(sum)
		}
	}
	return out, nil
}

func (t *Trainer) epoch(ctx context.Context, epoch, n int) (EpochSummary, error) {
	sum := EpochSummary{Epoch: epoch}
	started := t.cfg.Clock.Now()

	order := t.rng.Perm(n)
	var (
		losses  []float64
		learned int
	)
	for start := 0; start < n; start += t.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		idx := order[start:min(start+t.cfg.BatchSize, n)]
		windows := make([][]frame.Frame, len(idx))
		labels := make([]int, len(idx))
		for i, j := range idx {
			s, err := t.samples.Get(j)
			if err != nil {
				return sum, fmt.Errorf("epoch %d: %w", epoch, err)
			}
			windows[i] = s.Window
			labels[i] = s.Label
		}

		sum.Batches++
		sum.Samples += len(idx)
		res, err := t.learner.UpdateBehaviour(ctx, windows, labels)
		if err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			sum.FailedBatches++
			monitoring.Logf("warning: pretrain: epoch %d batch %d failed: %v", epoch, sum.Batches-1, err)
			continue
		}
		losses = append(losses, res.Loss)
		sum.Correct += res.Correct
		learned += len(idx)
	}

	if len(losses) > 0 {
		sum.MeanLoss = stat.Mean(losses, nil)
	}
	if learned > 0 {
		sum.Accuracy = float64(sum.Correct) / float64(learned)
	}
	sum.Duration = t.cfg.Clock.Since(started)
	return sum, nil
}
