package dataset

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/swingbot/internal/frame"
	"github.com/banshee-data/swingbot/internal/fsutil"
	"github.com/banshee-data/swingbot/internal/monitoring"
)

// Decoder turns a frame image path into a preprocessed frame.
type Decoder interface {
	Decode(path string) (frame.Frame, error)
}

// FileDecoder reads images through FS and preprocesses them with Pre.
type FileDecoder struct {
	FS  fsutil.FileSystem
	Pre frame.Preprocessor
}

// Decode implements Decoder.
func (d FileDecoder) Decode(path string) (frame.Frame, error) {
	data, err := d.FS.ReadFile(path)
	if err != nil {
		return frame.Frame{}, err
	}
	f, err := d.Pre.Decode(data)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// CacheStats counts preload outcomes.
type CacheStats struct {
	Decoded int
	Failed  int
}

// Entry names one frame image to preload and the record it came from.
type Entry struct {
	Path      string
	ID        int
	Timestamp time.Time
}

// FrameCache maps image paths to decoded frames. Entries are written once
// during Preload and only read afterwards; nothing is evicted.
type FrameCache struct {
	width, height int

	mu     sync.RWMutex
	frames map[string]frame.Frame
	stats  CacheStats
}

// NewFrameCache returns an empty cache. Frames that fail to decode are
// stored as zero frames of the given size.
func NewFrameCache(width, height int) *FrameCache {
	return &FrameCache{
		width:  width,
		height: height,
		frames: make(map[string]frame.Frame),
	}
}

// Preload decodes every distinct, non-PAD path not already cached, each
// exactly once, using at most workers goroutines. Cached frames carry the
// entry's frame id and timestamp. Decode failures are cached as zero frames
// and logged; only cancellation is returned.
func (c *FrameCache) Preload(ctx context.Context, dec Decoder, entries []Entry, workers int) error {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	c.mu.RLock()
	seen := make(map[string]bool, len(entries))
	var todo []Entry
	for _, e := range entries {
		if e.Path == Pad || seen[e.Path] {
			continue
		}
		seen[e.Path] = true
		if _, ok := c.frames[e.Path]; !ok {
			todo = append(todo, e)
		}
	}
	c.mu.RUnlock()

	if len(todo) == 0 {
		return nil
	}

	// Each goroutine owns one slot; the map is filled afterwards on this
	// goroutine.
	results := make([]frame.Frame, len(todo))
	failed := make([]error, len(todo))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, e := range todo {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			f, err := dec.Decode(e.Path)
			if err != nil {
				failed[i] = err
				return nil
			}
			results[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("preload frames: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range todo {
		if _, ok := c.frames[e.Path]; ok {
			continue
		}
		f := results[i]
		if failed[i] != nil {
			monitoring.Logf("warning: failed to decode %s, using zero frame: %v", e.Path, failed[i])
			f = frame.Zero(c.width, c.height)
			c.stats.Failed++
		} else {
			c.stats.Decoded++
		}
		f.ID = e.ID
		f.Timestamp = e.Timestamp
		c.frames[e.Path] = f
	}
	return nil
}

// Lookup returns the cached frame for path.
func (c *FrameCache) Lookup(path string) (frame.Frame, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.frames[path]
	return f, ok
}

// Len returns the number of cached paths.
func (c *FrameCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.frames)
}

// Stats returns preload counts.
func (c *FrameCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}
