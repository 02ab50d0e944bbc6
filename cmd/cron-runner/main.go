package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var knownJobs = []string{"dex-snapshots", "sentiment", "whale-entries"}

type JobSummary struct {
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
	Job        string `json:"job"`
	Processed  int    `json:"processed"`
	Failed     int    `json:"failed"`
	Skipped    bool   `json:"skipped"`
	DurationMs int64  `json:"durationMs"`
}

type runner struct {
	baseURL string
	secret  string
	client  *http.Client
	out     io.Writer
}

func (r *runner) triggerJob(ctx context.Context, job string) (*JobSummary, error) {
	endpoint := strings.TrimRight(r.baseURL, "/") + "/api/cron/" + job
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+r.secret)
	req.Header.Set("Accept", "application/json")
	res, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var summary JobSummary
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&summary); err != nil {
		return nil, fmt.Errorf("%s: status %d, unreadable body: %w", job, res.StatusCode, err)
	}
	if summary.Job == "" {
		summary.Job = job
	}
	return &summary, nil
}

func (r *runner) run(ctx context.Context, jobs []string) error {
	var failed []string
	for _, job := range jobs {
		summary, err := r.triggerJob(ctx, job)
		if err != nil {
			fmt.Fprintf(r.out, "%-14s error: %v\n", job, err)
			failed = append(failed, job)
			continue
		}
		switch {
		case !summary.OK:
			fmt.Fprintf(r.out, "%-14s failed: %s\n", job, summary.Error)
			failed = append(failed, job)
		case summary.Skipped:
			fmt.Fprintf(r.out, "%-14s skipped (already running)\n", job)
		default:
			fmt.Fprintf(r.out, "%-14s ok processed=%d failed=%d duration=%dms\n",
				job, summary.Processed, summary.Failed, summary.DurationMs)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("jobs failed: %s", strings.Join(failed, ", "))
	}
	return nil
}

func isKnownJob(job string) bool {
	for _, known := range knownJobs {
		if known == job {
			return true
		}
	}
	return false
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func rootCmd() *cobra.Command {
	r := &runner{out: os.Stdout}
	var timeout time.Duration

	root := &cobra.Command{
		Use:           "cron-runner",
		Short:         "Trigger Akari cron jobs over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if r.secret == "" {
				return errors.New("cron secret required (--secret or CRON_SECRET)")
			}
			r.client = &http.Client{Timeout: timeout}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&r.baseURL, "base-url", envOr("AKARI_API_URL", "http://localhost:8080"), "API base URL")
	root.PersistentFlags().StringVar(&r.secret, "secret", os.Getenv("CRON_SECRET"), "cron shared secret")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "per-job request timeout")

	root.AddCommand(&cobra.Command{
		Use:       "run <job>",
		Short:     "Trigger a single job",
		Args:      cobra.ExactArgs(1),
		ValidArgs: knownJobs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isKnownJob(args[0]) {
				return fmt.Errorf("unknown job %q (known: %s)", args[0], strings.Join(knownJobs, ", "))
			}
			return r.run(cmd.Context(), args)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "all",
		Short: "Trigger every job in sequence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.run(cmd.Context(), knownJobs)
		},
	})
	return root
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
