package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	ArenaScheduled = "scheduled"
	ArenaActive    = "active"
	ArenaEnded     = "ended"
	ArenaCancelled = "cancelled"

	maxArenaMultiplier = 5.0
)

type Arena struct {
	ID               string    `json:"id"`
	ProjectID        string    `json:"projectId"`
	ProjectSlug      string    `json:"projectSlug"`
	Name             string    `json:"name"`
	Slug             string    `json:"slug"`
	StartsAt         time.Time `json:"startsAt"`
	EndsAt           time.Time `json:"endsAt"`
	Status           string    `json:"status"`
	SecondsRemaining int64     `json:"secondsRemaining"`
	storedStatus     string
}

type ArenaCreator struct {
	Handle     string  `json:"handle"`
	Multiplier float64 `json:"multiplier"`
}

// arenaStatus derives the lifecycle phase from the clock; only cancellation is stored.
func arenaStatus(stored string, startsAt, endsAt, now time.Time) string {
	switch {
	case stored == ArenaCancelled:
		return ArenaCancelled
	case now.Before(startsAt):
		return ArenaScheduled
	case now.Before(endsAt):
		return ArenaActive
	default:
		return ArenaEnded
	}
}

// arenaScoringWindow is [start, min(now, end)); ok is false before the arena starts.
func arenaScoringWindow(startsAt, endsAt, now time.Time) (time.Time, time.Time, bool) {
	to := endsAt
	if now.Before(to) {
		to = now
	}
	return startsAt, to, to.After(startsAt)
}

func arenaSecondsRemaining(endsAt, now time.Time) int64 {
	remaining := endsAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return int64(remaining.Seconds())
}

func loadArenaBySlug(ctx context.Context, db *sql.DB, slug string, now time.Time) (*Arena, error) {
	var a Arena
	err := db.QueryRowContext(ctx, `
		SELECT a.id, a.project_id, p.slug, a.name, a.slug, a.starts_at, a.ends_at, a.status
		FROM arenas a
		JOIN projects p ON p.id = a.project_id
		WHERE a.slug = $1
	`, slug).Scan(&a.ID, &a.ProjectID, &a.ProjectSlug, &a.Name, &a.Slug, &a.StartsAt, &a.EndsAt, &a.storedStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.Status = arenaStatus(a.storedStatus, a.StartsAt, a.EndsAt, now)
	a.SecondsRemaining = arenaSecondsRemaining(a.EndsAt, now)
	return &a, nil
}

func loadArenaCreators(ctx context.Context, db *sql.DB, arenaID string) ([]ArenaCreator, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT creator_handle, multiplier::float8
		FROM arena_creators
		WHERE arena_id = $1
		ORDER BY creator_handle
	`, arenaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	creators := []ArenaCreator{}
	for rows.Next() {
		var c ArenaCreator
		if err := rows.Scan(&c.Handle, &c.Multiplier); err != nil {
			return nil, err
		}
		creators = append(creators, c)
	}
	return creators, rows.Err()
}

// arenaLeaderboard ranks arena creators only, each scaled by its multiplier.
func arenaLeaderboard(tweets []TweetMetrics, creators []ArenaCreator) []MindshareEntry {
	allowed := make(map[string]bool, len(creators))
	multipliers := make(map[string]float64, len(creators))
	for _, c := range creators {
		handle := strings.ToLower(c.Handle)
		allowed[handle] = true
		multipliers[handle] = c.Multiplier
	}
	return scoreCreators(tweets, multipliers, allowed)
}

func arenaFromRequest(db *sql.DB, w http.ResponseWriter, r *http.Request) (*Arena, bool) {
	slug := strings.ToLower(chi.URLParam(r, "slug"))
	if !isValidSlug(slug) {
		writeError(w, http.StatusBadRequest, "Invalid arena slug")
		return nil, false
	}
	arena, err := loadArenaBySlug(r.Context(), db, slug, time.Now().UTC())
	if err != nil {
		writeInternalError(w, err, "arena lookup failed")
		return nil, false
	}
	if arena == nil {
		writeError(w, http.StatusNotFound, "Arena not found")
		return nil, false
	}
	return arena, true
}

func arenaDetailHandler(db *sql.DB, cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireSession(db, cfg, w, r); !ok {
			return
		}
		arena, ok := arenaFromRequest(db, w, r)
		if !ok {
			return
		}
		creators, err := loadArenaCreators(r.Context(), db, arena.ID)
		if err != nil {
			writeInternalError(w, err, "arena creators query failed")
			return
		}
		writeOK(w, payload{"arena": arena, "creators": creators})
	}
}

func arenaLeaderboardHandler(db *sql.DB, cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireSession(db, cfg, w, r); !ok {
			return
		}
		arena, ok := arenaFromRequest(db, w, r)
		if !ok {
			return
		}
		ctx := r.Context()
		creators, err := loadArenaCreators(ctx, db, arena.ID)
		if err != nil {
			writeInternalError(w, err, "arena creators query failed")
			return
		}
		from, to, started := arenaScoringWindow(arena.StartsAt, arena.EndsAt, time.Now().UTC())
		tweets := []TweetMetrics{}
		if started && len(creators) > 0 {
			tweets, err = loadProjectTweets(ctx, db, arena.ProjectID, from, to)
			if err != nil {
				writeInternalError(w, err, "arena tweets query failed")
				return
			}
		}
		writeOK(w, payload{"arena": arena, "leaderboard": arenaLeaderboard(tweets, creators)})
	}
}

func arenaJoinHandler(db *sql.DB, cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := requireSession(db, cfg, w, r)
		if !ok {
			return
		}
		handle := normalizeHandle(user.XUsername)
		if handle == "" {
			writeError(w, http.StatusBadRequest, "Link your X account before joining an arena")
			return
		}
		arena, ok := arenaFromRequest(db, w, r)
		if !ok {
			return
		}
		if arena.Status == ArenaEnded || arena.Status == ArenaCancelled {
			writeError(w, http.StatusBadRequest, "Arena is "+arena.Status)
			return
		}
		res, err := db.ExecContext(r.Context(), `
			INSERT INTO arena_creators (arena_id, creator_handle, user_id, multiplier, joined_at)
			VALUES ($1, $2, $3, 1, NOW())
			ON CONFLICT (arena_id, creator_handle) DO NOTHING
		`, arena.ID, handle, user.UserID)
		if err != nil {
			writeInternalError(w, err, "arena join failed")
			return
		}
		if n, _ := res.RowsAffected(); n == 0 {
			writeError(w, http.StatusBadRequest, "Already joined")
			return
		}
		writeOK(w, payload{"arena": arena.Slug, "handle": handle})
	}
}

type CreateArenaRequest struct {
	ProjectSlug string    `json:"projectSlug"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	StartsAt    time.Time `json:"startsAt"`
	EndsAt      time.Time `json:"endsAt"`
}

func adminCreateArenaHandler(db *sql.DB, cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		admin, ok := requirePortalAdmin(db, cfg, w, r)
		if !ok {
			return
		}
		var req CreateArenaRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request")
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		req.Slug = strings.ToLower(strings.TrimSpace(req.Slug))
		if req.Name == "" || !isValidSlug(req.Slug) {
			writeError(w, http.StatusBadRequest, "name and a valid slug are required")
			return
		}
		if req.StartsAt.IsZero() || !req.EndsAt.After(req.StartsAt) {
			writeError(w, http.StatusBadRequest, "endsAt must be after startsAt")
			return
		}
		ctx := r.Context()
		project, err := loadProjectBySlug(ctx, db, strings.ToLower(strings.TrimSpace(req.ProjectSlug)))
		if err != nil {
			writeInternalError(w, err, "project lookup failed")
			return
		}
		if project == nil {
			writeError(w, http.StatusNotFound, "Project not found")
			return
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			writeInternalError(w, err, "arena create failed")
			return
		}
		defer tx.Rollback()

		id := uuid.NewString()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO arenas (id, project_id, name, slug, starts_at, ends_at, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, 'active', NOW())
		`, id, project.ID, req.Name, req.Slug, req.StartsAt.UTC(), req.EndsAt.UTC()); err != nil {
			if isUniqueViolation(err) {
				writeError(w, http.StatusBadRequest, "Arena slug already taken")
				return
			}
			writeInternalError(w, err, "arena insert failed")
			return
		}
		if err := recordAdminAudit(ctx, tx, admin.Actor(), "arena_create", "arena", id, map[string]string{
			"project": project.Slug,
			"slug":    req.Slug,
		}); err != nil {
			writeInternalError(w, err, "arena audit failed")
			return
		}
		if err := tx.Commit(); err != nil {
			writeInternalError(w, err, "arena commit failed")
			return
		}
		log.Info().Str("arena", req.Slug).Str("project", project.Slug).Msg("arena created")
		writeOK(w, payload{"id": id, "slug": req.Slug})
	}
}

func adminSetArenaCreatorHandler(db *sql.DB, cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		admin, ok := requirePortalAdmin(db, cfg, w, r)
		if !ok {
			return
		}
		arena, ok := arenaFromRequest(db, w, r)
		if !ok {
			return
		}
		var req ArenaCreator
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request")
			return
		}
		handle := normalizeHandle(req.Handle)
		if handle == "" {
			writeError(w, http.StatusBadRequest, "Invalid handle")
			return
		}
		if req.Multiplier <= 0 || req.Multiplier > maxArenaMultiplier {
			writeError(w, http.StatusBadRequest, "multiplier must be greater than 0 and at most 5")
			return
		}

		ctx := r.Context()
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			writeInternalError(w, err, "arena creator update failed")
			return
		}
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO arena_creators (arena_id, creator_handle, multiplier, joined_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (arena_id, creator_handle) DO UPDATE SET multiplier = EXCLUDED.multiplier
		`, arena.ID, handle, req.Multiplier); err != nil {
			writeInternalError(w, err, "arena creator upsert failed")
			return
		}
		if err := recordAdminAudit(ctx, tx, admin.Actor(), "arena_creator_set", "arena", arena.ID, map[string]interface{}{
			"handle":     handle,
			"multiplier": req.Multiplier,
		}); err != nil {
			writeInternalError(w, err, "arena creator audit failed")
			return
		}
		if err := tx.Commit(); err != nil {
			writeInternalError(w, err, "arena creator commit failed")
			return
		}
		writeOK(w, payload{"handle": handle, "multiplier": req.Multiplier})
	}
}
