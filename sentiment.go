package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const sentimentSmoothing = 0.3

type sentimentReading struct {
	Score    float64 `json:"score"`
	Positive int     `json:"positive"`
	Negative int     `json:"negative"`
	Neutral  int     `json:"neutral"`
}

type sentimentClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newSentimentClient(baseURL, apiKey string, client *http.Client) *sentimentClient {
	return &sentimentClient{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, http: client}
}

func (c *sentimentClient) FetchSentiment(ctx context.Context, handle string) (*sentimentReading, error) {
	endpoint := c.baseURL + "/v1/sentiment?" + url.Values{"handle": {handle}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sentiment get: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sentiment status %d", resp.StatusCode)
	}
	var reading sentimentReading
	if err := json.NewDecoder(resp.Body).Decode(&reading); err != nil {
		return nil, fmt.Errorf("sentiment decode: %w", err)
	}
	reading.Score = clampScore(reading.Score)
	return &reading, nil
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// smoothSentiment blends a new reading into the previous score. The first reading is kept as is.
func smoothSentiment(previous *float64, next float64) float64 {
	if previous == nil {
		return next
	}
	return roundTo(sentimentSmoothing*next+(1-sentimentSmoothing)*(*previous), 4)
}

type sentimentTarget struct {
	ProjectID string
	Handle    string
	Previous  *float64
}

func loadSentimentTargets(ctx context.Context, db *sql.DB) ([]sentimentTarget, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT p.id, p.x_handle, s.score
		FROM projects p
		LEFT JOIN project_sentiment s ON s.project_id = p.id
		WHERE p.is_arc_active = TRUE AND COALESCE(p.x_handle, '') <> ''
		ORDER BY p.name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	targets := []sentimentTarget{}
	for rows.Next() {
		var t sentimentTarget
		var previous sql.NullFloat64
		if err := rows.Scan(&t.ProjectID, &t.Handle, &previous); err != nil {
			return nil, err
		}
		if previous.Valid {
			value := previous.Float64
			t.Previous = &value
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

func storeSentiment(ctx context.Context, db *sql.DB, retries int, projectID string, score float64, reading *sentimentReading, now time.Time) error {
	_, err := withDBRetry(ctx, retries, func() (sql.Result, error) {
		return db.ExecContext(ctx, `
			INSERT INTO project_sentiment (project_id, score, raw_score, positive, negative, neutral, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (project_id) DO UPDATE SET
				score = EXCLUDED.score,
				raw_score = EXCLUDED.raw_score,
				positive = EXCLUDED.positive,
				negative = EXCLUDED.negative,
				neutral = EXCLUDED.neutral,
				updated_at = EXCLUDED.updated_at
		`, projectID, score, reading.Score, reading.Positive, reading.Negative, reading.Neutral, now)
	})
	return err
}

func sentimentJob(db *sql.DB, client *sentimentClient, retries int) jobFunc {
	return func(ctx context.Context, run *jobRun) error {
		if client == nil || client.baseURL == "" {
			return errJobNotConfigured
		}
		targets, err := loadSentimentTargets(ctx, db)
		if err != nil {
			return fmt.Errorf("load projects: %w", err)
		}
		for _, target := range targets {
			if err := run.pace(ctx); err != nil {
				return err
			}
			handle := normalizeHandle(target.Handle)
			if handle == "" {
				run.itemFailed(target.ProjectID, fmt.Errorf("invalid handle %q", target.Handle))
				continue
			}
			reading, err := client.FetchSentiment(ctx, handle)
			if err != nil {
				run.itemFailed(target.ProjectID, err)
				continue
			}
			score := smoothSentiment(target.Previous, reading.Score)
			if err := storeSentiment(ctx, db, retries, target.ProjectID, score, reading, time.Now().UTC()); err != nil {
				run.itemFailed(target.ProjectID, err)
				continue
			}
			run.itemDone()
		}
		return nil
	}
}
