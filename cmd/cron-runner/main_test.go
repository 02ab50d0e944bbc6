package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner(t *testing.T, handler http.HandlerFunc) (*runner, *bytes.Buffer) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	out := &bytes.Buffer{}
	return &runner{baseURL: srv.URL, secret: "s3cret", client: srv.Client(), out: out}, out
}

func TestTriggerJobSendsBearerSecret(t *testing.T) {
	var gotAuth, gotPath, gotMethod string
	r, _ := newTestRunner(t, func(w http.ResponseWriter, req *http.Request) {
		gotAuth = req.Header.Get("Authorization")
		gotPath = req.URL.Path
		gotMethod = req.Method
		_ = json.NewEncoder(w).Encode(JobSummary{OK: true, Job: "sentiment", Processed: 3})
	})

	summary, err := r.triggerJob(context.Background(), "sentiment")
	require.NoError(t, err)
	assert.Equal(t, "Bearer s3cret", gotAuth)
	assert.Equal(t, "/api/cron/sentiment", gotPath)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.True(t, summary.OK)
	assert.Equal(t, 3, summary.Processed)
}

func TestRunReportsFailedJobs(t *testing.T) {
	r, out := newTestRunner(t, func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/api/cron/whale-entries" {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(JobSummary{OK: false, Error: "Job source not configured"})
			return
		}
		_ = json.NewEncoder(w).Encode(JobSummary{OK: true, Skipped: true})
	})

	err := r.run(context.Background(), knownJobs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "whale-entries")
	assert.NotContains(t, err.Error(), "sentiment")
	assert.Contains(t, out.String(), "skipped")
}

func TestRunUnreadableBody(t *testing.T) {
	r, _ := newTestRunner(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	})
	err := r.run(context.Background(), []string{"dex-snapshots"})
	assert.Error(t, err)
}

func TestIsKnownJob(t *testing.T) {
	assert.True(t, isKnownJob("dex-snapshots"))
	assert.False(t, isKnownJob("drop-tables"))
}

func TestRootCmdRequiresSecret(t *testing.T) {
	t.Setenv("CRON_SECRET", "")
	cmd := rootCmd()
	cmd.SetArgs([]string{"all"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cron secret required")
}
