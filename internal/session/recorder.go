package session

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"image"
	"io"
	"path/filepath"
	"sync"

	"github.com/banshee-data/swingbot/internal/frame"
	"github.com/banshee-data/swingbot/internal/fsutil"
)

// ErrClosed is returned by Record after Close.
var ErrClosed = errors.New("recorder is closed")

// Recorder writes a session to disk as it is captured. The frame image is
// written before its row so a row never names an image that does not exist.
type Recorder struct {
	fs        fsutil.FileSystem
	dir       string
	framesDir string

	file io.WriteCloser
	w    *csv.Writer
	buf  bytes.Buffer

	mu     sync.Mutex
	count  int
	closed bool
}

// NewRecorder creates dir with its frames/ subdirectory and an actions.csv
// holding only the header row.
func NewRecorder(fsys fsutil.FileSystem, dir string) (*Recorder, error) {
	framesDir := filepath.Join(dir, FramesDir)
	if err := fsys.MkdirAll(framesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	file, err := fsys.Create(filepath.Join(dir, ActionsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", ActionsFile, err)
	}

	w := csv.NewWriter(file)
	if err := w.Write(Header); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	return &Recorder{
		fs:        fsys,
		dir:       dir,
		framesDir: framesDir,
		file:      file,
		w:         w,
	}, nil
}

// Dir returns the session directory.
func (r *Recorder) Dir() string { return r.dir }

// Count returns the number of records written.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Record persists img as the frame for rec and appends rec to actions.csv.
// The row is flushed immediately.
func (r *Recorder) Record(img image.Image, rec ActionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	r.buf.Reset()
	if err := frame.EncodeJPEG(&r.buf, img); err != nil {
		return fmt.Errorf("failed to encode frame %d: %w", rec.FrameID, err)
	}
	path := filepath.Join(r.framesDir, FrameFileName(rec.FrameID))
	if err := r.fs.WriteFile(path, r.buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write frame %d: %w", rec.FrameID, err)
	}

	if err := r.w.Write(rec.Row()); err != nil {
		return fmt.Errorf("failed to write row %d: %w", rec.FrameID, err)
	}
	r.w.Flush()
	if err := r.w.Error(); err != nil {
		return fmt.Errorf("failed to flush row %d: %w", rec.FrameID, err)
	}

	r.count++
	return nil
}

// Close flushes and closes actions.csv. It is safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	r.w.Flush()
	flushErr := r.w.Error()
	closeErr := r.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
