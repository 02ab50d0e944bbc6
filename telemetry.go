package main

import (
	"database/sql"
	"net/http"
	"strings"
	"time"
)

type TrackViewRequest struct {
	ProjectID string `json:"projectId"`
	Page      string `json:"page"`
}

var trackedPages = map[string]bool{
	"overview":    true,
	"leaderboard": true,
	"arena":       true,
	"programs":    true,
	"mindshare":   true,
}

func arcTrackViewHandler(db *sql.DB, cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := requireSession(db, cfg, w, r)
		if !ok {
			return
		}
		var req TrackViewRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request")
			return
		}
		req.Page = strings.ToLower(strings.TrimSpace(req.Page))
		if !isValidUUID(req.ProjectID) {
			writeError(w, http.StatusBadRequest, "projectId must be a uuid")
			return
		}
		if !trackedPages[req.Page] {
			writeError(w, http.StatusBadRequest, "Unknown page")
			return
		}

		res, err := db.ExecContext(r.Context(), `
			INSERT INTO arc_page_views (project_id, user_id, page, created_at)
			SELECT id, NULLIF($2, '')::uuid, $3, $4
			FROM projects
			WHERE id = $1
		`, req.ProjectID, user.UserID, req.Page, time.Now().UTC())
		if err != nil {
			writeInternalError(w, err, "page view insert failed")
			return
		}
		if n, _ := res.RowsAffected(); n == 0 {
			writeError(w, http.StatusNotFound, "Project not found")
			return
		}
		writeOK(w, nil)
	}
}
