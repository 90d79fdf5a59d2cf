package rollout

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/swingbot/internal/frame"
	"github.com/banshee-data/swingbot/internal/monitoring"
	"github.com/banshee-data/swingbot/internal/testutil"
	"github.com/banshee-data/swingbot/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

type counterSource struct {
	mu   sync.Mutex
	n    int
	gaps int
}

func (s *counterSource) CaptureFrame(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gaps > 0 {
		s.gaps--
		return nil, nil
	}
	img := testutil.FrameImage(0, s.n)
	s.n++
	return img, nil
}

type emptySource struct{}

func (emptySource) CaptureFrame(ctx context.Context) (image.Image, error) { return nil, nil }

type recordingActuator struct {
	calls []string
}

func (a *recordingActuator) SendStart(x, y int) error {
	a.calls = append(a.calls, "start")
	return nil
}

func (a *recordingActuator) SendStop(x, y int) error {
	a.calls = append(a.calls, "stop")
	return nil
}

// scriptedScorer reports death every deathEvery frames and a reward of 1.
type scriptedScorer struct {
	deathEvery int
	n          int
	err        error
}

func (s *scriptedScorer) ScoreFrame(ctx context.Context, f frame.Frame) (RewardComponents, error) {
	if s.err != nil {
		return RewardComponents{}, s.err
	}
	s.n++
	rc := RewardComponents{Distance: 1, Total: 1}
	if s.deathEvery > 0 && s.n%s.deathEvery == 0 {
		rc = RewardComponents{Dead: true, Total: -1}
	}
	return rc, nil
}

type scriptedPolicy struct {
	actions  []int
	n        int
	err      error
	windows  [][]frame.Frame
	cancel   func()
	cancelAt int
}

func (p *scriptedPolicy) Predict(ctx context.Context, window []frame.Frame) (int, error) {
	p.windows = append(p.windows, window)
	if p.cancel != nil && p.n == p.cancelAt {
		p.cancel()
	}
	if p.err != nil {
		return 0, p.err
	}
	a := p.actions[p.n%len(p.actions)]
	p.n++
	return a, nil
}

type recordingUpdater struct {
	batches [][]Step
	err     error
}

func (u *recordingUpdater) UpdateParameters(ctx context.Context, steps []Step) error {
	u.batches = append(u.batches, steps)
	return u.err
}

type recordingHooks struct {
	calls   []string
	ctxErrs []error
}

func (h *recordingHooks) OnRolloutStart(ctx context.Context) {
	h.calls = append(h.calls, "start")
	h.ctxErrs = append(h.ctxErrs, ctx.Err())
}

func (h *recordingHooks) OnRolloutEnd(ctx context.Context) {
	h.calls = append(h.calls, "end")
	h.ctxErrs = append(h.ctxErrs, ctx.Err())
}

func newTestEnv(src *counterSource, act *recordingActuator, scorer Scorer) *Env {
	return NewEnv(EnvConfig{
		TouchX: 750, TouchY: 400,
		StackSize: 4, Width: 16, Height: 16,
		Clock: timeutil.NewMockClock(time.Unix(1700000000, 0)),
	}, src, act, scorer)
}

func TestFrameStack(t *testing.T) {
	s := NewFrameStack(3, 2, 2)
	f := func(id int) frame.Frame {
		fr := frame.Zero(2, 2)
		fr.ID = id
		fr.Pix[0] = uint8(id + 1)
		return fr
	}

	w := s.Window()
	require.Len(t, w, 3)
	for _, x := range w {
		assert.True(t, x.IsZero())
	}

	s.Push(f(0))
	s.Push(f(1))
	w = s.Window()
	assert.True(t, w[0].IsZero())
	assert.Equal(t, 0, w[1].ID)
	assert.Equal(t, 1, w[2].ID)

	s.Push(f(2))
	s.Push(f(3))
	w = s.Window()
	assert.Equal(t, []int{1, 2, 3}, []int{w[0].ID, w[1].ID, w[2].ID})
	assert.Equal(t, 3, s.Len())

	s.Reset()
	assert.Equal(t, 0, s.Len())
}

func TestFrameStack_PaddingIsNotShared(t *testing.T) {
	s := NewFrameStack(3, 2, 2)
	w := s.Window()
	w[0].Pix[0] = 9
	assert.True(t, w[1].IsZero())
	assert.True(t, s.Window()[0].IsZero())
}

func TestBuffer(t *testing.T) {
	_, err := NewBuffer(0)
	require.Error(t, err)

	b, err := NewBuffer(2)
	require.NoError(t, err)
	_, err = b.Drain()
	assert.ErrorIs(t, err, ErrBufferEmpty)

	require.NoError(t, b.Add(Step{Reward: 1}))
	require.NoError(t, b.Add(Step{Reward: 2}))
	assert.True(t, b.Full())
	assert.ErrorIs(t, b.Add(Step{}), ErrBufferFull)
	assert.Equal(t, []float64{1, 2}, b.Rewards())

	steps, err := b.Drain()
	require.NoError(t, err)
	assert.Len(t, steps, 2)
	assert.Equal(t, 0, b.Size())
	assert.Equal(t, 2, b.Capacity())
}

func TestEnv_EdgesAndPadding(t *testing.T) {
	act := &recordingActuator{}
	env := newTestEnv(&counterSource{}, act, &scriptedScorer{})
	ctx := context.Background()

	w, err := env.Reset(ctx)
	require.NoError(t, err)
	require.Len(t, w, 4)
	assert.True(t, w[0].IsZero() && w[1].IsZero() && w[2].IsZero())
	assert.False(t, w[3].IsZero())

	for _, a := range []int{0, 1, 1, 0, 1} {
		_, _, _, err := env.Step(ctx, a)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"start", "stop", "start"}, act.calls)

	env.Close()
	assert.Equal(t, []string{"start", "stop", "start", "stop"}, act.calls)

	_, _, _, err = env.Step(ctx, 2)
	assert.Error(t, err)
}

func TestEnv_NoFrame(t *testing.T) {
	env := NewEnv(EnvConfig{MaxMisses: 3, Clock: timeutil.NewMockClock(time.Now())}, emptySource{}, &recordingActuator{}, &scriptedScorer{})
	_, err := env.Reset(context.Background())
	assert.ErrorIs(t, err, ErrNoFrame)
}

func TestEnv_RetriesMissingFrames(t *testing.T) {
	clock := timeutil.NewMockClock(time.Now())
	env := NewEnv(EnvConfig{Clock: clock, Width: 8, Height: 8}, &counterSource{gaps: 2}, &recordingActuator{}, &scriptedScorer{})
	_, err := env.Reset(context.Background())
	require.NoError(t, err)
	assert.Len(t, clock.Sleeps(), 2)
}

func TestEnv_ScoreErrorIsZeroReward(t *testing.T) {
	env := newTestEnv(&counterSource{}, &recordingActuator{}, &scriptedScorer{err: errors.New("ocr failed")})
	_, err := env.Reset(context.Background())
	require.NoError(t, err)
	_, rc, done, err := env.Step(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, RewardComponents{}, rc)
	assert.False(t, done)
}

func TestTrainer_Run(t *testing.T) {
	act := &recordingActuator{}
	env := newTestEnv(&counterSource{}, act, &scriptedScorer{deathEvery: 4})
	policy := &scriptedPolicy{actions: []int{1, 0}}
	updater := &recordingUpdater{}
	hooks := &recordingHooks{}

	tr, err := NewTrainer(TrainerConfig{RolloutSteps: 5, Clock: timeutil.NewMockClock(time.Now())}, env, policy, updater, hooks)
	require.NoError(t, err)
	var seen []Summary
	tr.OnRollout = func(s Summary) { seen = append(seen, s) }

	sums, err := tr.Run(context.Background(), 12)
	require.NoError(t, err)
	require.Len(t, sums, 3)
	assert.Equal(t, sums, seen)
	assert.Equal(t, []int{5, 5, 2}, []int{sums[0].Steps, sums[1].Steps, sums[2].Steps})

	assert.Equal(t, []string{"start", "end", "start", "end", "start", "end"}, hooks.calls)
	require.Len(t, updater.batches, 3)
	assert.Len(t, updater.batches[0], 5)

	// Rewards 1,1,1,-1,1: mean 0.6.
	assert.InDelta(t, 0.6, sums[0].MeanReward, 1e-9)
	assert.InDelta(t, 3.0, sums[0].TotalReward, 1e-9)
	assert.Equal(t, 1, sums[0].Episodes)
	assert.True(t, updater.batches[0][3].Done)

	for _, w := range policy.windows {
		assert.Len(t, w, 4)
	}
	// The step after a death starts from a fresh, padded window.
	assert.True(t, policy.windows[4][0].IsZero())
	assert.True(t, policy.windows[4][2].IsZero())
}

func TestTrainer_PolicyErrorsRelease(t *testing.T) {
	act := &recordingActuator{}
	env := newTestEnv(&counterSource{}, act, &scriptedScorer{})
	policy := &scriptedPolicy{err: errors.New("service down")}
	tr, err := NewTrainer(TrainerConfig{RolloutSteps: 3}, env, policy, &recordingUpdater{}, nil)
	require.NoError(t, err)

	sums, err := tr.Run(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, sums[0].PolicyErrors)
	assert.Empty(t, act.calls)
}

func TestTrainer_UpdateFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(&counterSource{}, &recordingActuator{}, &scriptedScorer{})
	updater := &recordingUpdater{err: errors.New("nan loss")}
	tr, err := NewTrainer(TrainerConfig{RolloutSteps: 2}, env, &scriptedPolicy{actions: []int{0}}, updater, nil)
	require.NoError(t, err)

	sums, err := tr.Run(context.Background(), 4)
	require.NoError(t, err)
	require.Len(t, sums, 2)
	assert.True(t, sums[0].UpdateFailed)
	assert.Len(t, updater.batches, 2)
}

func TestTrainer_InterruptStillPauses(t *testing.T) {
	act := &recordingActuator{}
	env := newTestEnv(&counterSource{}, act, &scriptedScorer{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	policy := &scriptedPolicy{actions: []int{1}, cancel: cancel, cancelAt: 3}
	updater := &recordingUpdater{}
	hooks := &recordingHooks{}

	tr, err := NewTrainer(TrainerConfig{RolloutSteps: 10}, env, policy, updater, hooks)
	require.NoError(t, err)

	sums, err := tr.Run(ctx, 100)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, sums, 1)
	assert.True(t, sums[0].Interrupted)
	assert.Equal(t, 3, sums[0].Steps)
	assert.Equal(t, []string{"start", "end"}, hooks.calls)
	assert.NoError(t, hooks.ctxErrs[1], "pause hook must not see the cancelled context")
	assert.Empty(t, updater.batches)
	assert.Equal(t, []string{"start", "stop"}, act.calls)
}

func TestTrainer_InvalidSteps(t *testing.T) {
	tr, err := NewTrainer(TrainerConfig{}, newTestEnv(&counterSource{}, &recordingActuator{}, &scriptedScorer{}), &scriptedPolicy{actions: []int{0}}, &recordingUpdater{}, nil)
	require.NoError(t, err)
	_, err = tr.Run(context.Background(), 0)
	assert.Error(t, err)
}

func TestPlay(t *testing.T) {
	act := &recordingActuator{}
	env := newTestEnv(&counterSource{}, act, &scriptedScorer{deathEvery: 3})
	hooks := &recordingHooks{}
	policy := &scriptedPolicy{actions: []int{1}}

	eps, err := Play(context.Background(), PlayConfig{Episodes: 2, Clock: timeutil.NewMockClock(time.Now())}, env, policy, hooks)
	require.NoError(t, err)
	require.Len(t, eps, 2)
	for i, ep := range eps {
		assert.Equal(t, i, ep.Index)
		assert.Equal(t, 3, ep.Steps)
		assert.True(t, ep.Finished)
		// Rewards 1, 1, -1.
		assert.InDelta(t, 1.0, ep.TotalReward, 1e-9)
	}
	assert.Equal(t, []string{"start", "end", "start", "end"}, hooks.calls)
	assert.Equal(t, []string{"start", "stop", "start", "stop"}, act.calls)
}

func TestPlay_MaxSteps(t *testing.T) {
	env := newTestEnv(&counterSource{}, &recordingActuator{}, &scriptedScorer{})
	eps, err := Play(context.Background(), PlayConfig{Episodes: 1, MaxSteps: 5}, env, &scriptedPolicy{actions: []int{0}}, nil)
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, 5, eps[0].Steps)
	assert.False(t, eps[0].Finished)
	assert.InDelta(t, 5.0, eps[0].TotalReward, 1e-9)
}

func TestPlay_InterruptStillPauses(t *testing.T) {
	act := &recordingActuator{}
	env := newTestEnv(&counterSource{}, act, &scriptedScorer{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hooks := &recordingHooks{}
	policy := &scriptedPolicy{actions: []int{1}, cancel: cancel, cancelAt: 2}

	eps, err := Play(ctx, PlayConfig{Episodes: 3}, env, policy, hooks)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, eps, 1)
	assert.True(t, eps[0].Interrupted)
	assert.Equal(t, []string{"start", "end"}, hooks.calls)
	assert.NoError(t, hooks.ctxErrs[1])
	assert.Equal(t, []string{"start", "stop"}, act.calls)
}

func TestPlay_InvalidEpisodes(t *testing.T) {
	env := newTestEnv(&counterSource{}, &recordingActuator{}, &scriptedScorer{})
	_, err := Play(context.Background(), PlayConfig{}, env, &scriptedPolicy{actions: []int{0}}, nil)
	assert.Error(t, err)
}
