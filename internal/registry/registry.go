// Package registry records collection sessions and training runs in a
// sqlite database so past work can be listed, plotted and queried from the
// debug console.
package registry

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/swingbot/internal/timeutil"
)

// ErrNotFound is returned when an id does not exist.
var ErrNotFound = errors.New("not found")

// Run status values.
const (
	StatusRunning     = "running"
	StatusCompleted   = "completed"
	StatusInterrupted = "interrupted"
	StatusFailed      = "failed"
)

type Registry struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the registry at path and applies
// migrations.
func Open(path string) (*Registry, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; a single connection also keeps :memory:
	// databases shared between statements.
	db.SetMaxOpenConns(1)

	r := &Registry{DB: db, path: path}
	if err := r.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// SessionRecord is one recorded collection session.
type SessionRecord struct {
	ID         string
	Dir        string
	StartedAt  time.Time
	FinishedAt *time.Time
	Frames     int
	Misses     int
	Starts     int
	Stops      int
}

// SessionCounts are the capture counters stored when a session finishes.
type SessionCounts struct {
	Frames, Misses, Starts, Stops int
}

// StartSession registers a new session directory and returns its id.
func (r *Registry) StartSession(dir string, started time.Time) (string, error) {
	id := uuid.New().String()
	_, err := r.Exec(`INSERT INTO sessions (session_id, dir, started_at) VALUES (?, ?, ?)`,
		id, dir, timeutil.UnixSeconds(started))
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return id, nil
}

// FinishSession stores the final counters of a session.
func (r *Registry) FinishSession(id string, finished time.Time, c SessionCounts) error {
	res, err := r.Exec(`UPDATE sessions SET finished_at = ?, frames = ?, misses = ?, starts = ?, stops = ? WHERE session_id = ?`,
		timeutil.UnixSeconds(finished), c.Frames, c.Misses, c.Starts, c.Stops, id)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return expectOne(res, "session", id)
}

// Sessions lists sessions, oldest first.
func (r *Registry) Sessions() ([]SessionRecord, error) {
	rows, err := r.Query(`SELECT session_id, dir, started_at, finished_at, frames, misses, starts, stops FROM sessions ORDER BY started_at, dir`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var (
			s        SessionRecord
			started  float64
			finished sql.NullFloat64
		)
		if err := rows.Scan(&s.ID, &s.Dir, &started, &finished, &s.Frames, &s.Misses, &s.Starts, &s.Stops); err != nil {
			return nil, err
		}
		s.StartedAt = timeutil.FromUnixSeconds(started)
		if finished.Valid {
			t := timeutil.FromUnixSeconds(finished.Float64)
			s.FinishedAt = &t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// RunRecord is one training run.
type RunRecord struct {
	ID              string
	StartedAt       time.Time
	FinishedAt      *time.Time
	TotalSteps      int
	Status          string
	PauseFailures   int
	UnpauseFailures int
}

// StartRun registers a training run and returns its id.
func (r *Registry) StartRun(started time.Time, totalSteps int) (string, error) {
	id := uuid.New().String()
	_, err := r.Exec(`INSERT INTO runs (run_id, started_at, total_steps, status) VALUES (?, ?, ?, ?)`,
		id, timeutil.UnixSeconds(started), totalSteps, StatusRunning)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// FinishRun stores a run's final status and phase failure counts.
func (r *Registry) FinishRun(id string, finished time.Time, status string, pauseFailures, unpauseFailures int) error {
	res, err := r.Exec(`UPDATE runs SET finished_at = ?, status = ?, pause_failures = ?, unpause_failures = ? WHERE run_id = ?`,
		timeutil.UnixSeconds(finished), status, pauseFailures, unpauseFailures, id)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return expectOne(res, "run", id)
}

// Run returns one run.
func (r *Registry) Run(id string) (RunRecord, error) {
	var (
		run      RunRecord
		started  float64
		finished sql.NullFloat64
	)
	err := r.QueryRow(`SELECT run_id, started_at, finished_at, total_steps, status, pause_failures, unpause_failures FROM runs WHERE run_id = ?`, id).
		Scan(&run.ID, &started, &finished, &run.TotalSteps, &run.Status, &run.PauseFailures, &run.UnpauseFailures)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return RunRecord{}, err
	}
	run.StartedAt = timeutil.FromUnixSeconds(started)
	if finished.Valid {
		t := timeutil.FromUnixSeconds(finished.Float64)
		run.FinishedAt = &t
	}
	return run, nil
}

// RolloutRecord is the stored summary of one rollout.
type RolloutRecord struct {
	RunID        string
	Index        int
	Steps        int
	Episodes     int
	TotalReward  float64
	MeanReward   float64
	StdReward    float64
	PolicyErrors int
	UpdateFailed bool
	Interrupted  bool
	StartedAt    time.Time
	Duration     time.Duration
}

// RecordRollout stores a rollout summary.
func (r *Registry) RecordRollout(rec RolloutRecord) error {
	_, err := r.Exec(`INSERT INTO rollouts (
			run_id, rollout_index, steps, episodes, total_reward, mean_reward, std_reward,
			policy_errors, update_failed, interrupted, started_at, duration_s
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Index, rec.Steps, rec.Episodes, rec.TotalReward, rec.MeanReward, rec.StdReward,
		rec.PolicyErrors, rec.UpdateFailed, rec.Interrupted,
		timeutil.UnixSeconds(rec.StartedAt), rec.Duration.Seconds())
	if err != nil {
		return fmt.Errorf("insert rollout %d: %w", rec.Index, err)
	}
	return nil
}

// Rollouts returns a run's rollouts in order.
func (r *Registry) Rollouts(runID string) ([]RolloutRecord, error) {
	rows, err := r.Query(`SELECT rollout_index, steps, episodes, total_reward, mean_reward, std_reward,
			policy_errors, update_failed, interrupted, started_at, duration_s
		FROM rollouts WHERE run_id = ? ORDER BY rollout_index`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RolloutRecord
	for rows.Next() {
		rec := RolloutRecord{RunID: runID}
		var started, duration float64
		if err := rows.Scan(&rec.Index, &rec.Steps, &rec.Episodes, &rec.TotalReward, &rec.MeanReward, &rec.StdReward,
			&rec.PolicyErrors, &rec.UpdateFailed, &rec.Interrupted, &started, &duration); err != nil {
			return nil, err
		}
		rec.StartedAt = timeutil.FromUnixSeconds(started)
		rec.Duration = time.Duration(duration * float64(time.Second))
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AttachAdminRoutes mounts the tailsql console for the registry under
// /debug/tailsql/.
func (r *Registry) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://"+r.path, r.DB, &tailsql.DBOptions{
		Label: "swingbot registry",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
}

func expectOne(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
