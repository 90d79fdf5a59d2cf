package session

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/banshee-data/swingbot/internal/fsutil"
)

// Report summarises the integrity of one recorded session.
type Report struct {
	Dir        string
	Rows       int
	Skipped    int
	FrameFiles int
	// Missing lists frame ids that have a row but no image.
	Missing []int
	// Orphans counts images that no row refers to.
	Orphans int
}

// Mismatch reports whether the number of rows differs from the number of
// frame files, the check a recording is expected to pass.
func (r Report) Mismatch() bool {
	return r.Rows != r.FrameFiles
}

func (r Report) String() string {
	status := "ok"
	if r.Mismatch() {
		status = "MISMATCH"
	}
	return fmt.Sprintf("%s: rows=%d frames=%d missing=%d orphans=%d skipped=%d [%s]",
		filepath.Base(r.Dir), r.Rows, r.FrameFiles, len(r.Missing), r.Orphans, r.Skipped, status)
}

// Verify compares dir/actions.csv against dir/frames without dropping
// anything.
func Verify(fsys fsutil.FileSystem, dir string) (Report, error) {
	rep := Report{Dir: dir}

	records, skipped, err := readActions(fsys, filepath.Join(dir, ActionsFile))
	if err != nil {
		return rep, fmt.Errorf("%s: %w", filepath.Base(dir), err)
	}
	rep.Rows = len(records)
	rep.Skipped = skipped

	files := make(map[string]bool)
	entries, err := fsys.ReadDir(filepath.Join(dir, FramesDir))
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), FrameExt) {
				files[e.Name()] = true
			}
		}
	}
	rep.FrameFiles = len(files)

	referenced := make(map[string]bool, len(records))
	for _, rec := range records {
		name := FrameFileName(rec.FrameID)
		referenced[name] = true
		if !files[name] {
			rep.Missing = append(rep.Missing, rec.FrameID)
		}
	}
	for name := range files {
		if !referenced[name] {
			rep.Orphans++
		}
	}
	return rep, nil
}
