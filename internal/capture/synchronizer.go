// Package capture runs the live collection loop: it samples the operator's
// hold state at a fixed rate, mirrors each hold onto the remote device as a
// single touch-down/touch-up pair and records every captured frame with the
// action that was applied.
package capture

import (
	"context"
	"errors"
	"image"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/swingbot/internal/monitoring"
	"github.com/banshee-data/swingbot/internal/session"
	"github.com/banshee-data/swingbot/internal/timeutil"
)

const (
	DefaultFPSLimit       = 30.0
	DefaultNoFrameBackoff = 100 * time.Millisecond

	// commandQueueSize bounds the actuator queue. A full queue blocks the
	// loop rather than dropping an edge.
	commandQueueSize = 64
	// gateSlack absorbs ticker jitter in the explicit rate gate.
	gateSlack = time.Millisecond
)

// Config controls a Synchronizer.
type Config struct {
	FPSLimit       float64
	TouchX, TouchY int
	NoFrameBackoff time.Duration
	Clock          timeutil.Clock
	// MissLogInterval throttles the "no frame" diagnostic.
	MissLogInterval time.Duration
}

// Stats counts what a run has done so far.
type Stats struct {
	Frames         int
	Misses         int
	Starts         int
	Stops          int
	ActuatorErrors int
	WriteErrors    int
}

type command struct {
	edge Edge
	x, y int
}

// Synchronizer is the fixed-rate capture loop.
type Synchronizer struct {
	cfg      Config
	source   FrameSource
	actuator Actuator
	input    InputSource
	sink     Sink
	missLog  *monitoring.Limiter

	hold HoldCell

	frames, misses, starts, stops, actErrs, writeErrs atomic.Int64

	stopOnce sync.Once
	stop     chan struct{}
}

// New returns a Synchronizer. input may be nil when the hold state is
// driven directly through Hold.
func New(cfg Config, source FrameSource, actuator Actuator, input InputSource, sink Sink) *Synchronizer {
	if cfg.FPSLimit <= 0 {
		cfg.FPSLimit = DefaultFPSLimit
	}
	if cfg.NoFrameBackoff <= 0 {
		cfg.NoFrameBackoff = DefaultNoFrameBackoff
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.MissLogInterval == 0 {
		cfg.MissLogInterval = 5 * time.Second
	}
	return &Synchronizer{
		cfg:      cfg,
		source:   source,
		actuator: actuator,
		input:    input,
		sink:     sink,
		missLog:  monitoring.NewLimiter(cfg.MissLogInterval),
		stop:     make(chan struct{}),
	}
}

// Hold returns the cell sampled by the loop.
func (s *Synchronizer) Hold() *HoldCell { return &s.hold }

// Interval is the minimum time between two recorded ticks.
func (s *Synchronizer) Interval() time.Duration {
	return time.Duration(float64(time.Second) / s.cfg.FPSLimit)
}

// Stop ends Run. It may be called from any goroutine, more than once.
func (s *Synchronizer) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Stats returns a snapshot of the run counters.
func (s *Synchronizer) Stats() Stats {
	return Stats{
		Frames:         int(s.frames.Load()),
		Misses:         int(s.misses.Load()),
		Starts:         int(s.starts.Load()),
		Stops:          int(s.stops.Load()),
		ActuatorErrors: int(s.actErrs.Load()),
		WriteErrors:    int(s.writeErrs.Load()),
	}
}

// Run captures until ctx is cancelled or Stop is called. Whatever ends the
// loop, the input listener and actuator dispatcher are stopped, a held
// touch is released, the sink is closed and the frame source is closed if
// it implements io.Closer. Run returns nil on a normal shutdown.
func (s *Synchronizer) Run(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	if s.input != nil {
		events, inErr := s.input.Events(ctx)
		if inErr != nil {
			cancel()
			wg.Wait()
			return errors.Join(inErr, s.closeResources())
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			Listen(ctx, events, &s.hold)
		}()
	}

	cmds := make(chan command, commandQueueSize)
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		s.dispatch(cmds)
	}()

	var edges EdgeTracker
	defer func() {
		cancel()
		wg.Wait()
		if edges.Holding() {
			monitoring.Logf("capture: releasing held touch on shutdown")
			cmds <- command{edge: EdgeStop, x: s.cfg.TouchX, y: s.cfg.TouchY}
		}
		close(cmds)
		<-dispatched

		st := s.Stats()
		monitoring.Logf("capture: stopped after %d frames (%d misses, %d starts, %d stops)", st.Frames, st.Misses, st.Starts, st.Stops)
		err = s.closeResources()
	}()

	interval := s.Interval()
	ticker := s.cfg.Clock.NewTicker(interval)
	defer ticker.Stop()

	monitoring.Logf("capture: running at %.1f fps (touch at %d,%d)", s.cfg.FPSLimit, s.cfg.TouchX, s.cfg.TouchY)

	var (
		lastTick   time.Time
		frameCount int
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
		}

		now := s.cfg.Clock.Now()
		if !lastTick.IsZero() && now.Sub(lastTick) < interval-gateSlack {
			continue
		}

		img, capErr := s.source.CaptureFrame(ctx)
		if capErr != nil || img == nil {
			if ctx.Err() != nil {
				continue
			}
			s.misses.Add(1)
			if capErr != nil {
				s.missLog.Logf("capture: frame source error: %v", capErr)
			} else {
				s.missLog.Logf("capture: no frame available, backing off %v", s.cfg.NoFrameBackoff)
			}
			s.cfg.Clock.Sleep(s.cfg.NoFrameBackoff)
			continue
		}

		holding := s.hold.Load()
		action := 0
		if holding {
			action = 1
		}
		if edge := edges.Next(holding); edge != EdgeNone {
			cmd := command{edge: edge, x: s.cfg.TouchX, y: s.cfg.TouchY}
			select {
			case cmds <- cmd:
			default:
				monitoring.Logf("warning: actuator queue full, waiting to send %s", edge)
				cmds <- cmd
			}
		}

		s.record(img, session.ActionRecord{
			FrameID:   frameCount,
			Action:    action,
			Timestamp: timeutil.UnixSeconds(now),
		})
		frameCount++
		lastTick = now
	}
}

func (s *Synchronizer) closeResources() error {
	var errs []error
	if s.sink != nil {
		if err := s.sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c, ok := s.source.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Synchronizer) record(img image.Image, rec session.ActionRecord) {
	s.frames.Add(1)
	if s.sink == nil {
		return
	}
	if err := s.sink.Record(img, rec); err != nil {
		s.writeErrs.Add(1)
		monitoring.Logf("capture: failed to record frame %d: %v", rec.FrameID, err)
	}
}

// dispatch sends queued commands to the actuator in order. Errors are
// logged and the queue keeps draining.
func (s *Synchronizer) dispatch(cmds <-chan command) {
	for cmd := range cmds {
		var err error
		switch cmd.edge {
		case EdgeStart:
			s.starts.Add(1)
			err = s.actuator.SendStart(cmd.x, cmd.y)
		case EdgeStop:
			s.stops.Add(1)
			err = s.actuator.SendStop(cmd.x, cmd.y)
		}
		if err != nil {
			s.actErrs.Add(1)
			monitoring.Logf("capture: actuator %s failed: %v", cmd.edge, err)
		}
	}
}
