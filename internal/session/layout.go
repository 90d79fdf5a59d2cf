// Package session reads and writes recorded play sessions. A session is a
// directory holding frames/frame_NNNNNN.jpg images and an actions.csv table
// with one row per capture tick:
//
//	session_20260102_150405/
//	  actions.csv        frame_id,action,timestamp,reward
//	  frames/
//	    frame_000000.jpg
//	    frame_000001.jpg
//
// The layout matches existing recordings and must not change.
package session

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/swingbot/internal/fsutil"
)

const (
	// DirPrefix starts every session directory name.
	DirPrefix = "session_"
	// ActionsFile is the per-session action table.
	ActionsFile = "actions.csv"
	// FramesDir holds the captured frame images.
	FramesDir = "frames"
	// FrameExt is the image extension used for captured frames.
	FrameExt = ".jpg"

	dirTimeLayout = "20060102_150405"
)

// Header is the actions.csv header row.
var Header = []string{"frame_id", "action", "timestamp", "reward"}

// FrameFileName returns the file name for frame id, zero-padded to six
// digits to match the frame_id column.
func FrameFileName(id int) string {
	return fmt.Sprintf("frame_%06d%s", id, FrameExt)
}

// FramePath returns the image path for frame id inside session dir.
func FramePath(dir string, id int) string {
	return filepath.Join(dir, FramesDir, FrameFileName(id))
}

// NewDir returns the directory for a session started at t under root.
func NewDir(root string, t time.Time) string {
	return filepath.Join(root, DirPrefix+t.Format(dirTimeLayout))
}

// Discover lists session directories under root in name order, which is
// also chronological order. A missing root is reported as fs.ErrNotExist.
func Discover(fsys fsutil.FileSystem, root string) ([]string, error) {
	entries, err := fsys.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("data root %s: %w", root, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("list sessions in %s: %w", root, err)
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), DirPrefix) {
			dirs = append(dirs, filepath.Join(root, e.Name()))
		}
	}
	return dirs, nil
}
