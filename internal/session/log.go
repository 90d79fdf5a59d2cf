package session

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/banshee-data/swingbot/internal/fsutil"
	"github.com/banshee-data/swingbot/internal/monitoring"
)

var (
	// ErrNoActionLog is returned when a session directory has no actions.csv.
	ErrNoActionLog = errors.New("session has no " + ActionsFile)
	// ErrDuplicateFrameID means two rows of one session share a frame id.
	ErrDuplicateFrameID = errors.New("duplicate frame id")
	// ErrBadHeader means actions.csv lacks a required column.
	ErrBadHeader = errors.New("actions.csv header missing required column")
)

// ActionRecord is one capture tick: the frame that was on screen and the
// action (1 = holding, 0 = released) that was applied.
type ActionRecord struct {
	FrameID   int
	Action    int
	Timestamp float64
	Reward    float64
}

// Row formats the record as an actions.csv row.
func (r ActionRecord) Row() []string {
	return []string{
		fmt.Sprintf("%06d", r.FrameID),
		strconv.Itoa(r.Action),
		strconv.FormatFloat(r.Timestamp, 'f', 6, 64),
		strconv.FormatFloat(r.Reward, 'g', -1, 64),
	}
}

// Log is one session's records in strictly increasing frame id order, each
// paired with the image that backs it.
type Log struct {
	Dir     string
	Records []ActionRecord
	Paths   []string

	// Dropped counts rows whose frame image was missing.
	Dropped int
	// Skipped counts rows that could not be parsed.
	Skipped int
}

// Len returns the number of usable records.
func (l *Log) Len() int { return len(l.Records) }

// Load parses dir/actions.csv, orders the rows by frame id and drops rows
// whose image file is absent. Malformed rows are skipped with a warning.
// Duplicate frame ids violate the session invariant and fail the load.
func Load(fsys fsutil.FileSystem, dir string) (*Log, error) {
	records, skipped, err := readActions(fsys, filepath.Join(dir, ActionsFile))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(dir), err)
	}

	sort.SliceStable(records, func(i, j int) bool { return records[i].FrameID < records[j].FrameID })
	for i := 1; i < len(records); i++ {
		if records[i].FrameID == records[i-1].FrameID {
			return nil, fmt.Errorf("%s: frame %d: %w", filepath.Base(dir), records[i].FrameID, ErrDuplicateFrameID)
		}
	}

	l := &Log{
		Dir:     dir,
		Records: make([]ActionRecord, 0, len(records)),
		Paths:   make([]string, 0, len(records)),
		Skipped: skipped,
	}
	var firstMissing string
	for _, rec := range records {
		path := FramePath(dir, rec.FrameID)
		if !fsys.Exists(path) {
			if l.Dropped == 0 {
				firstMissing = filepath.Base(path)
			}
			l.Dropped++
			continue
		}
		l.Records = append(l.Records, rec)
		l.Paths = append(l.Paths, path)
	}

	if l.Dropped > 0 {
		monitoring.Logf("session %s: dropped %d records with missing frames (first %s)", filepath.Base(dir), l.Dropped, firstMissing)
	}
	if l.Skipped > 0 {
		monitoring.Logf("session %s: skipped %d malformed rows", filepath.Base(dir), l.Skipped)
	}
	return l, nil
}

// readActions parses an actions.csv file. Columns are located by header
// name so extra or reordered columns are tolerated; timestamp and reward
// are optional.
func readActions(fsys fsutil.FileSystem, path string) ([]ActionRecord, int, error) {
	if !fsys.Exists(path) {
		return nil, 0, ErrNoActionLog
	}
	f, err := fsys.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", ActionsFile, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read %s header: %w", ActionsFile, err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"frame_id", "action"} {
		if _, ok := cols[required]; !ok {
			return nil, 0, fmt.Errorf("%w: %s", ErrBadHeader, required)
		}
	}

	var (
		records []ActionRecord
		skipped int
	)
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				skipped++
				continue
			}
			return nil, 0, fmt.Errorf("read %s: %w", ActionsFile, err)
		}
		rec, ok := parseRow(row, cols)
		if !ok {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	return records, skipped, nil
}

func parseRow(row []string, cols map[string]int) (ActionRecord, bool) {
	field := func(name string) (string, bool) {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return "", false
		}
		return strings.TrimSpace(row[i]), true
	}

	var rec ActionRecord
	v, ok := field("frame_id")
	if !ok {
		return rec, false
	}
	id, err := strconv.Atoi(v)
	if err != nil || id < 0 {
		return rec, false
	}
	rec.FrameID = id

	v, ok = field("action")
	if !ok {
		return rec, false
	}
	action, err := strconv.Atoi(v)
	if err != nil || (action != 0 && action != 1) {
		return rec, false
	}
	rec.Action = action

	if v, ok := field("timestamp"); ok && v != "" {
		ts, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return rec, false
		}
		rec.Timestamp = ts
	}
	if v, ok := field("reward"); ok && v != "" {
		reward, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return rec, false
		}
		rec.Reward = reward
	}
	return rec, true
}
