package rollout

import "github.com/banshee-data/swingbot/internal/frame"

// FrameStack holds the last K frames of the current episode. Until K frames
// have been pushed the window is left-padded with zero frames, the same
// shape the dataset produces at the start of a recorded session.
type FrameStack struct {
	k             int
	width, height int
	frames        []frame.Frame
}

// NewFrameStack returns an empty stack of k frames of the given size.
func NewFrameStack(k, width, height int) *FrameStack {
	if k <= 0 {
		k = 1
	}
	return &FrameStack{k: k, width: width, height: height}
}

// Reset starts a new episode.
func (s *FrameStack) Reset() {
	s.frames = s.frames[:0]
}

// Push appends the newest frame, dropping the oldest once full.
func (s *FrameStack) Push(f frame.Frame) {
	if len(s.frames) == s.k {
		copy(s.frames, s.frames[1:])
		s.frames = s.frames[:s.k-1]
	}
	s.frames = append(s.frames, f)
}

// Len returns the number of real frames held.
func (s *FrameStack) Len() int { return len(s.frames) }

// Window returns K frames, oldest first. Each padding slot is a fresh zero
// frame.
func (s *FrameStack) Window() []frame.Frame {
	w := make([]frame.Frame, s.k)
	pad := s.k - len(s.frames)
	for i := 0; i < pad; i++ {
		w[i] = frame.Zero(s.width, s.height)
	}
	copy(w[pad:], s.frames)
	return w
}
