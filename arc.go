package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
)

type Project struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Slug             string `json:"slug"`
	XHandle          string `json:"xHandle,omitempty"`
	ArcTier          string `json:"arcTier,omitempty"`
	StripeCustomerID string `json:"-"`
}

const projectColumns = `id, name, slug, COALESCE(x_handle, ''), COALESCE(arc_tier, ''), COALESCE(stripe_customer_id, '')`

func scanProject(row interface{ Scan(...interface{}) error }) (*Project, error) {
	var p Project
	if err := row.Scan(&p.ID, &p.Name, &p.Slug, &p.XHandle, &p.ArcTier, &p.StripeCustomerID); err != nil {
		return nil, err
	}
	return &p, nil
}

func loadArcProjects(ctx context.Context, db *sql.DB) ([]Project, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE is_arc_active = TRUE
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := []Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// loadProjectBySlug returns nil without error for an unknown slug.
func loadProjectBySlug(ctx context.Context, db *sql.DB, slug string) (*Project, error) {
	p, err := scanProject(db.QueryRowContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE slug = $1
	`, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func loadProjectByID(ctx context.Context, q queryer, id string) (*Project, error) {
	p, err := scanProject(q.QueryRowContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

const tweetColumns = `tweet_id, project_id, author_handle, author_followers, likes, retweets, replies, quotes, views, is_official, created_at`

func scanTweets(rows *sql.Rows) ([]TweetMetrics, error) {
	defer rows.Close()
	tweets := []TweetMetrics{}
	for rows.Next() {
		var t TweetMetrics
		if err := rows.Scan(&t.TweetID, &t.ProjectID, &t.AuthorHandle, &t.AuthorFollowers, &t.Likes, &t.Retweets,
			&t.Replies, &t.Quotes, &t.Views, &t.IsOfficial, &t.CreatedAt); err != nil {
			return nil, err
		}
		tweets = append(tweets, t)
	}
	return tweets, rows.Err()
}

// loadProjectTweets returns a project's tweets created in [from, to).
func loadProjectTweets(ctx context.Context, db *sql.DB, projectID string, from, to time.Time) ([]TweetMetrics, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+tweetColumns+`
		FROM project_tweets
		WHERE project_id = $1 AND created_at >= $2 AND created_at < $3
	`, projectID, from, to)
	if err != nil {
		return nil, err
	}
	return scanTweets(rows)
}

func loadActiveProjectTweets(ctx context.Context, db *sql.DB, from, to time.Time) ([]TweetMetrics, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+tweetColumns+`
		FROM project_tweets
		WHERE created_at >= $1 AND created_at < $2
			AND project_id IN (SELECT id FROM projects WHERE is_arc_active = TRUE)
	`, from, to)
	if err != nil {
		return nil, err
	}
	return scanTweets(rows)
}

func projectNames(projects []Project) map[string]string {
	names := make(map[string]string, len(projects))
	for _, p := range projects {
		names[p.ID] = p.Name
	}
	return names
}

func arcProjectsHandler(db *sql.DB, cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireSession(db, cfg, w, r); !ok {
			return
		}
		ctx := r.Context()
		projects, err := loadArcProjects(ctx, db)
		if err != nil {
			writeInternalError(w, err, "arc projects query failed")
			return
		}
		now := time.Now().UTC()
		tweets, err := loadActiveProjectTweets(ctx, db, now.Add(-mindshareWindows[defaultMindshareWindow]), now)
		if err != nil {
			writeInternalError(w, err, "arc tweets query failed")
			return
		}
		shares := map[string]MindshareEntry{}
		for _, entry := range scoreProjects(tweets, projectNames(projects)) {
			shares[entry.Key] = entry
		}

		type projectView struct {
			Project
			MindshareBps int     `json:"mindshareBps"`
			MindsharePct float64 `json:"mindsharePct"`
			Rank         int     `json:"rank"`
		}
		views := make([]projectView, 0, len(projects))
		for _, p := range projects {
			share := shares[p.ID]
			views = append(views, projectView{Project: p, MindshareBps: share.MindshareBps, MindsharePct: share.MindsharePct, Rank: share.Rank})
		}
		writeOK(w, payload{"projects": views, "window": defaultMindshareWindow})
	}
}

func arcProjectLeaderboardHandler(db *sql.DB, cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireSession(db, cfg, w, r); !ok {
			return
		}
		window, span, err := parseMindshareWindow(r.URL.Query().Get("window"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "window must be one of 24h, 7d, 30d, 90d")
			return
		}
		slug := strings.ToLower(chi.URLParam(r, "slug"))
		if !isValidSlug(slug) {
			writeError(w, http.StatusBadRequest, "Invalid project slug")
			return
		}
		ctx := r.Context()
		project, err := loadProjectBySlug(ctx, db, slug)
		if err != nil {
			writeInternalError(w, err, "project lookup failed")
			return
		}
		if project == nil {
			writeError(w, http.StatusNotFound, "Project not found")
			return
		}
		now := time.Now().UTC()
		tweets, err := loadProjectTweets(ctx, db, project.ID, now.Add(-span), now)
		if err != nil {
			writeInternalError(w, err, "project tweets query failed")
			return
		}
		writeOK(w, payload{
			"project":     project,
			"window":      window,
			"leaderboard": scoreCreators(tweets, nil, nil),
		})
	}
}

func arcMindshareHandler(db *sql.DB, cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireSession(db, cfg, w, r); !ok {
			return
		}
		window, span, err := parseMindshareWindow(r.URL.Query().Get("window"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "window must be one of 24h, 7d, 30d, 90d")
			return
		}
		ctx := r.Context()
		projects, err := loadArcProjects(ctx, db)
		if err != nil {
			writeInternalError(w, err, "arc projects query failed")
			return
		}
		now := time.Now().UTC()
		tweets, err := loadActiveProjectTweets(ctx, db, now.Add(-span), now)
		if err != nil {
			writeInternalError(w, err, "arc tweets query failed")
			return
		}
		writeOK(w, payload{"window": window, "projects": scoreProjects(tweets, projectNames(projects))})
	}
}
