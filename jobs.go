package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	JobDexSnapshots = "dex-snapshots"
	JobSentiment    = "sentiment"
	JobWhaleEntries = "whale-entries"
)

// Advisory lock keys, one per job so different jobs can overlap.
var jobLockIDs = map[string]int64{
	JobDexSnapshots: 824173931,
	JobSentiment:    824173932,
	JobWhaleEntries: 824173933,
}

var errJobNotConfigured = errors.New("job source not configured")

type JobSummary struct {
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
	Job        string `json:"job"`
	Processed  int    `json:"processed"`
	Failed     int    `json:"failed"`
	Skipped    bool   `json:"skipped"`
	DurationMs int64  `json:"durationMs"`
}

// jobRun tracks one execution: item pacing and per-item outcomes.
type jobRun struct {
	name      string
	limiter   *rate.Limiter
	processed int
	failed    int
}

type jobFunc func(ctx context.Context, run *jobRun) error

func newJobRun(name string, delay time.Duration) *jobRun {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &jobRun{name: name, limiter: rate.NewLimiter(limit, 1)}
}

func (r *jobRun) pace(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

func (r *jobRun) itemDone() {
	r.processed++
}

func (r *jobRun) itemFailed(item string, err error) {
	r.failed++
	log.Warn().Err(err).Str("job", r.name).Str("item", item).Msg("job item failed")
}

func recordCronRun(ctx context.Context, db *sql.DB, job string, started, finished time.Time, run *jobRun, jobErr error) error {
	var errText sql.NullString
	if jobErr != nil {
		errText = sql.NullString{String: jobErr.Error(), Valid: true}
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO cron_runs (job, started_at, finished_at, processed, failed, error)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, job, started, finished, run.processed, run.failed, errText)
	return err
}

// runJob executes fn under the job's advisory lock. A held lock is a skip, not a failure.
func runJob(ctx context.Context, db *sql.DB, name string, delay time.Duration, fn jobFunc) (JobSummary, error) {
	lockID, ok := jobLockIDs[name]
	if !ok {
		return JobSummary{Job: name}, fmt.Errorf("unknown job %q", name)
	}
	conn, acquired, err := tryAdvisoryLock(ctx, db, lockID)
	if err != nil {
		return JobSummary{Job: name}, fmt.Errorf("acquire lock: %w", err)
	}
	if !acquired {
		log.Info().Str("job", name).Msg("job already running, skipped")
		return JobSummary{OK: true, Job: name, Skipped: true}, nil
	}
	defer releaseAdvisoryLock(conn, lockID)

	started := time.Now().UTC()
	run := newJobRun(name, delay)
	jobErr := fn(ctx, run)
	finished := time.Now().UTC()

	if err := recordCronRun(ctx, db, name, started, finished, run, jobErr); err != nil {
		log.Warn().Err(err).Str("job", name).Msg("cron run record failed")
	}

	summary := JobSummary{
		OK:         jobErr == nil,
		Job:        name,
		Processed:  run.processed,
		Failed:     run.failed,
		DurationMs: finished.Sub(started).Milliseconds(),
	}
	log.Info().
		Str("job", name).
		Int("processed", run.processed).
		Int("failed", run.failed).
		Dur("duration", finished.Sub(started)).
		AnErr("error", jobErr).
		Msg("job finished")
	return summary, jobErr
}

func cronJobHandler(db *sql.DB, cfg *Config, name string, fn jobFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireCronSecret(cfg, w, r) {
			return
		}
		if !requireFeature(w, cfg.Features().Cron, "Cron jobs") {
			return
		}
		summary, err := runJob(r.Context(), db, name, cfg.JobItemDelay, fn)
		if err != nil {
			log.Error().Err(err).Str("job", name).Msg("job failed")
			summary.OK = false
			summary.Error = "Job failed"
			if errors.Is(err, errJobNotConfigured) {
				summary.Error = "Job source not configured"
			}
			writeJSON(w, http.StatusInternalServerError, summary)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}
