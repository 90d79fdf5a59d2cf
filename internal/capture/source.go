package capture

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/swingbot/internal/fsutil"
	"github.com/banshee-data/swingbot/internal/session"
)

// FrameSource supplies the current screen image. A nil image with a nil
// error means no frame is available yet.
type FrameSource interface {
	CaptureFrame(ctx context.Context) (image.Image, error)
}

// Actuator presses and releases the touch point on the remote device.
type Actuator interface {
	SendStart(x, y int) error
	SendStop(x, y int) error
}

// InputSource delivers hold (true) and release (false) events from the
// operator's controller. The channel is closed when the source ends.
type InputSource interface {
	Events(ctx context.Context) (<-chan bool, error)
}

// Sink persists captured ticks. session.Recorder implements it.
type Sink interface {
	Record(img image.Image, rec session.ActionRecord) error
	Close() error
}

// SnapshotSource fetches the current frame from an HTTP endpoint serving a
// single JPEG or PNG image per request.
type SnapshotSource struct {
	URL    string
	Client *http.Client
}

// NewSnapshotSource returns a SnapshotSource with a bounded request timeout.
func NewSnapshotSource(url string, timeout time.Duration) *SnapshotSource {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &SnapshotSource{URL: url, Client: &http.Client{Timeout: timeout}}
}

// CaptureFrame implements FrameSource. 204 and 404 responses mean no frame.
func (s *SnapshotSource) CaptureFrame(ctx context.Context) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return nil, nil
	default:
		return nil, fmt.Errorf("fetch snapshot: unexpected status %s", resp.Status)
	}

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return img, nil
}

// DirSource replays the images of a directory in name order, one per call.
// Once exhausted it reports no frame.
type DirSource struct {
	fs    fsutil.FileSystem
	paths []string
	next  int
}

// NewDirSource lists the .jpg and .png files in dir.
func NewDirSource(fsys fsutil.FileSystem, dir string) (*DirSource, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list replay frames: %w", err)
	}
	src := &DirSource{fs: fsys}
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".jpg" && ext != ".jpeg" && ext != ".png") {
			continue
		}
		src.paths = append(src.paths, filepath.Join(dir, e.Name()))
	}
	return src, nil
}

// Remaining returns the number of frames not yet replayed.
func (s *DirSource) Remaining() int { return len(s.paths) - s.next }

// CaptureFrame implements FrameSource.
func (s *DirSource) CaptureFrame(ctx context.Context) (image.Image, error) {
	if s.next >= len(s.paths) {
		return nil, nil
	}
	path := s.paths[s.next]
	s.next++

	f, err := s.fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}
