// Package testutil provides shared test fixtures: on-disk session layouts
// with synthetic frames whose pixel value identifies the frame they came
// from.
package testutil

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/swingbot/internal/fsutil"
)

// Row is one actions.csv line in a fixture session.
type Row struct {
	FrameID   int
	Action    int
	Timestamp float64
	Reward    float64
}

// Rows returns n rows with ids 0..n-1 and the given actions (cycled).
func Rows(n int, actions ...int) []Row {
	if len(actions) == 0 {
		actions = []int{0}
	}
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = Row{
			FrameID:   i,
			Action:    actions[i%len(actions)],
			Timestamp: 1700000000 + float64(i)/30,
		}
	}
	return rows
}

// FrameIntensity is the gray level used for fixture frame id within a
// session identified by seed. Distinct (seed, id) pairs give distinct values
// for small fixtures so tests can tell frames apart after decoding.
func FrameIntensity(seed, id int) uint8 {
	return uint8(10 + (seed*50+id*7)%240)
}

// FrameImage returns a uniform gray image for fixture frame id.
func FrameImage(seed, id int) image.Image {
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	v := FrameIntensity(seed, id)
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

// UniformImage returns a w x h image filled with c.
func UniformImage(w, h int, c color.Gray) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = c.Y
	}
	return img
}

// WriteSession writes an actions.csv with rows (in the given order) and a
// frame file for every row whose id is not listed in missing. Frames are PNG
// encoded under the usual .jpg names so pixel values survive exactly; the
// decoder sniffs the format.
func WriteSession(t testing.TB, fsys fsutil.FileSystem, dir string, seed int, rows []Row, missing ...int) {
	t.Helper()

	skip := make(map[int]bool, len(missing))
	for _, id := range missing {
		skip[id] = true
	}

	framesDir := filepath.Join(dir, "frames")
	if err := fsys.MkdirAll(framesDir, 0755); err != nil {
		t.Fatalf("mkdir %s: %v", framesDir, err)
	}

	var csv strings.Builder
	csv.WriteString("frame_id,action,timestamp,reward\n")
	for _, r := range rows {
		fmt.Fprintf(&csv, "%06d,%d,%.6f,%g\n", r.FrameID, r.Action, r.Timestamp, r.Reward)
		if skip[r.FrameID] {
			continue
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, FrameImage(seed, r.FrameID)); err != nil {
			t.Fatalf("encode frame %d: %v", r.FrameID, err)
		}
		name := filepath.Join(framesDir, fmt.Sprintf("frame_%06d.jpg", r.FrameID))
		if err := fsys.WriteFile(name, buf.Bytes(), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	if err := fsys.WriteFile(filepath.Join(dir, "actions.csv"), []byte(csv.String()), 0644); err != nil {
		t.Fatalf("write actions.csv: %v", err)
	}
}
