// Package dataset builds the behaviour cloning sample set: every recorded
// tick becomes a window of the last K frames labelled with the action taken
// on the newest one.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/swingbot/internal/frame"
	"github.com/banshee-data/swingbot/internal/fsutil"
	"github.com/banshee-data/swingbot/internal/monitoring"
	"github.com/banshee-data/swingbot/internal/session"
	"github.com/banshee-data/swingbot/internal/timeutil"
)

var (
	// ErrIndexOutOfRange is returned by Get for an index outside [0, Size).
	ErrIndexOutOfRange = errors.New("sample index out of range")
	// ErrWindowLength means a built window does not hold exactly K slots.
	ErrWindowLength = errors.New("window length does not match stack size")
	// ErrWindowOrder means a window's padding is not a prefix or its frames
	// are not in strictly increasing frame id order ending at the sample.
	ErrWindowOrder = errors.New("window frames out of order")
)

// DefaultStackSize is the number of frames per observation window.
const DefaultStackSize = 4

// Options configures Build. Zero values select defaults.
type Options struct {
	Root      string
	StackSize int
	Width     int
	Height    int
	// Workers bounds parallel decoding; 0 uses GOMAXPROCS.
	Workers int

	FS      fsutil.FileSystem
	Decoder Decoder
}

// StackedSample is one training example.
type StackedSample struct {
	// Window holds K frames, oldest first. PAD slots get their own zero
	// frames; real frames share pixels with the cache and must not be
	// modified.
	Window []frame.Frame
	// Paths are the image paths behind Window; Pad for padded slots.
	Paths []string
	Label int
}

// SessionSummary describes one session's contribution to the dataset.
type SessionSummary struct {
	Dir     string
	Samples int
	Dropped int
	Skipped int
}

// RejectedSession is a session left out of the dataset.
type RejectedSession struct {
	Dir    string
	Reason string
}

// Summary describes a built dataset.
type Summary struct {
	Sessions []SessionSummary
	Rejected []RejectedSession
	Total    int
	// HoldFraction is the mean label, the share of samples labelled hold.
	HoldFraction float64
	Cache        CacheStats
}

type sample struct {
	window []string
	label  int
}

// Dataset is a flat, session-major list of samples backed by a FrameCache.
type Dataset struct {
	k             int
	width, height int
	samples       []sample
	cache         *FrameCache
	sessions      []SessionSummary
	rejected      []RejectedSession
}

// Build discovers the sessions under opts.Root, windows every record and
// preloads each referenced image once. A missing root yields an empty
// dataset with a warning. A session whose log cannot be read is left out
// with a warning. Duplicate frame ids and malformed windows abort the
// build.
func Build(ctx context.Context, opts Options) (*Dataset, error) {
	if opts.StackSize <= 0 {
		opts.StackSize = DefaultStackSize
	}
	if opts.FS == nil {
		opts.FS = fsutil.OSFileSystem{}
	}
	pre := frame.NewPreprocessor(opts.Width, opts.Height)
	if opts.Decoder == nil {
		opts.Decoder = FileDecoder{FS: opts.FS, Pre: pre}
	}

	d := &Dataset{
		k:      opts.StackSize,
		width:  pre.Width,
		height: pre.Height,
		cache:  NewFrameCache(pre.Width, pre.Height),
	}

	dirs, err := session.Discover(opts.FS, opts.Root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			monitoring.Logf("WARNING: data root %s does not exist; dataset is EMPTY", opts.Root)
			return d, nil
		}
		return nil, err
	}

	var entries []Entry
	for _, dir := range dirs {
		sl, err := session.Load(opts.FS, dir)
		if errors.Is(err, session.ErrDuplicateFrameID) {
			return nil, fmt.Errorf("load session: %w", err)
		}
		if err != nil {
			monitoring.Logf("warning: skipping %s: %v", filepath.Base(dir), err)
			d.rejected = append(d.rejected, RejectedSession{Dir: dir, Reason: err.Error()})
			continue
		}

		ids := make(map[string]int, sl.Len())
		for i, rec := range sl.Records {
			ids[sl.Paths[i]] = rec.FrameID
			entries = append(entries, Entry{
				Path:      sl.Paths[i],
				ID:        rec.FrameID,
				Timestamp: timeutil.FromUnixSeconds(rec.Timestamp),
			})
		}
		for i, rec := range sl.Records {
			w := Window(sl.Paths, i, d.k)
			if err := checkWindow(w, i, d.k, sl.Paths[i], ids); err != nil {
				return nil, fmt.Errorf("%s index %d: %w", filepath.Base(dir), i, err)
			}
			d.samples = append(d.samples, sample{window: w, label: rec.Action})
		}

		d.sessions = append(d.sessions, SessionSummary{
			Dir:     dir,
			Samples: sl.Len(),
			Dropped: sl.Dropped,
			Skipped: sl.Skipped,
		})
		monitoring.Logf("session %s: %d samples", filepath.Base(dir), sl.Len())
	}

	if err := d.cache.Preload(ctx, opts.Decoder, entries, opts.Workers); err != nil {
		return nil, err
	}

	if len(d.samples) == 0 {
		monitoring.Logf("WARNING: no samples found under %s; dataset is EMPTY", opts.Root)
	} else {
		monitoring.Logf("dataset: %d samples from %d sessions (%d frames cached)", len(d.samples), len(d.sessions), d.cache.Len())
	}
	return d, nil
}

// Size returns the number of samples.
func (d *Dataset) Size() int { return len(d.samples) }

// StackSize returns K.
func (d *Dataset) StackSize() int { return d.k }

// Get returns sample idx with PAD slots and cache misses materialised as
// zero frames.
func (d *Dataset) Get(idx int) (StackedSample, error) {
	if idx < 0 || idx >= len(d.samples) {
		return StackedSample{}, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, idx, len(d.samples))
	}
	s := d.samples[idx]

	out := StackedSample{
		Window: make([]frame.Frame, len(s.window)),
		Paths:  append([]string(nil), s.window...),
		Label:  s.label,
	}
	for i, p := range s.window {
		if p == Pad {
			out.Window[i] = frame.Zero(d.width, d.height)
			continue
		}
		f, ok := d.cache.Lookup(p)
		if !ok {
			monitoring.Logf("warning: frame cache miss for %s, using zero frame", p)
			f = frame.Zero(d.width, d.height)
		}
		out.Window[i] = f
	}
	return out, nil
}

// Labels returns every sample label in dataset order.
func (d *Dataset) Labels() []int {
	labels := make([]int, len(d.samples))
	for i, s := range d.samples {
		labels[i] = s.label
	}
	return labels
}

// Summary reports per-session counts, the total and the label balance.
func (d *Dataset) Summary() Summary {
	sum := Summary{
		Sessions: append([]SessionSummary(nil), d.sessions...),
		Rejected: append([]RejectedSession(nil), d.rejected...),
		Total:    len(d.samples),
		Cache:    d.cache.Stats(),
	}
	if len(d.samples) > 0 {
		xs := make([]float64, len(d.samples))
		for i, s := range d.samples {
			xs[i] = float64(s.label)
		}
		sum.HoldFraction = stat.Mean(xs, nil)
	}
	return sum
}
