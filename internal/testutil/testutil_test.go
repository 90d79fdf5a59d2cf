package testutil

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/swingbot/internal/fsutil"
)

func TestWriteSession(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	WriteSession(t, fsys, "/data/session_1", 0, Rows(3, 0, 1), 1)

	csv, err := fsys.ReadFile("/data/session_1/actions.csv")
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(csv)), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d csv lines, want 4", len(lines))
	}
	if !strings.HasPrefix(lines[2], "000001,1,") {
		t.Errorf("row 1 = %q", lines[2])
	}

	for id, want := range map[int]bool{0: true, 1: false, 2: true} {
		name := filepath.Join("/data/session_1/frames", "frame_00000"+string(rune('0'+id))+".jpg")
		if got := fsys.Exists(name); got != want {
			t.Errorf("frame %d exists = %v, want %v", id, got, want)
		}
	}
}

func TestFrameIntensityDistinct(t *testing.T) {
	seen := map[uint8]bool{}
	for seed := 0; seed < 2; seed++ {
		for id := 0; id < 5; id++ {
			v := FrameIntensity(seed, id)
			if seen[v] {
				t.Fatalf("duplicate intensity %d for seed %d id %d", v, seed, id)
			}
			seen[v] = true
		}
	}
}
