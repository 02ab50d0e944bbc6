package main

import (
	"database/sql"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	LeaderboardPeriodAll  = "all"
	LeaderboardPeriodWeek = "week"

	leaderboardWeek = 7 * 24 * time.Hour
)

type leaderboardFilters struct {
	Period   string
	Query    string
	Page     int
	PageSize int
}

type LeaderboardEntry struct {
	Rank        int64  `json:"rank"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoUrl,omitempty"`
	Points      int64  `json:"points"`
}

type LeaderboardResponse struct {
	OK       bool               `json:"ok"`
	Period   string             `json:"period"`
	Page     int                `json:"page"`
	PageSize int                `json:"pageSize"`
	Total    int                `json:"total"`
	Results  []LeaderboardEntry `json:"results"`
}

func parseLeaderboardFilters(r *http.Request) (leaderboardFilters, error) {
	query := r.URL.Query()
	pageSize := parsePositiveInt(query.Get("pageSize"), 50)
	if pageSize > 200 {
		pageSize = 200
	}
	period := strings.ToLower(strings.TrimSpace(query.Get("period")))
	switch period {
	case "":
		period = LeaderboardPeriodAll
	case LeaderboardPeriodAll, LeaderboardPeriodWeek:
	default:
		return leaderboardFilters{}, fmt.Errorf("unknown period %q", period)
	}
	return leaderboardFilters{
		Period:   period,
		Query:    trimTo(query.Get("q"), 64),
		Page:     parsePositiveInt(query.Get("page"), 1),
		PageSize: pageSize,
	}, nil
}

// leaderboardBaseCTE ranks every Mini App user before any name filter so ranks stay global.
func leaderboardBaseCTE(period string) string {
	score := "u.points"
	join := ""
	if period == LeaderboardPeriodWeek {
		score = "COALESCE(SUM(pl.amount), 0)"
		join = "LEFT JOIN points_ledger pl ON pl.user_id = u.id AND pl.created_at >= $1"
	}
	return fmt.Sprintf(`
		WITH scored AS (
			SELECT
				u.id,
				COALESCE(NULLIF(u.display_name, ''), NULLIF(u.username, ''), NULLIF(u.first_name, ''), 'anon') AS display_name,
				COALESCE(u.photo_url, '') AS photo_url,
				%s AS score,
				u.created_at
			FROM akari_users u
			%s
			WHERE u.telegram_id IS NOT NULL
			GROUP BY u.id
		),
		ranked AS (
			SELECT
				ROW_NUMBER() OVER (ORDER BY score DESC, created_at ASC, id ASC) AS rank,
				id,
				display_name,
				photo_url,
				score
			FROM scored
		)
	`, score, join)
}

func leaderboardHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filters, err := parseLeaderboardFilters(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "period must be all or week")
			return
		}

		// $1 is always the week cutoff so placeholder numbering is stable across periods.
		args := []interface{}{time.Now().UTC().Add(-leaderboardWeek)}
		where := "WHERE $1::timestamptz IS NOT NULL"
		if filters.Query != "" {
			args = append(args, "%"+filters.Query+"%")
			where += " AND display_name ILIKE $" + strconv.Itoa(len(args))
		}
		base := leaderboardBaseCTE(filters.Period)

		var total int
		if err := db.QueryRowContext(r.Context(), base+"SELECT COUNT(*) FROM ranked "+where, args...).Scan(&total); err != nil {
			writeInternalError(w, err, "leaderboard count failed")
			return
		}

		offset := (filters.Page - 1) * filters.PageSize
		pageArgs := append(append([]interface{}{}, args...), filters.PageSize, offset)
		rows, err := db.QueryContext(r.Context(), fmt.Sprintf(`%s
			SELECT rank, id, display_name, photo_url, score
			FROM ranked
			%s
			ORDER BY rank
			LIMIT $%d OFFSET $%d
		`, base, where, len(args)+1, len(args)+2), pageArgs...)
		if err != nil {
			writeInternalError(w, err, "leaderboard query failed")
			return
		}
		defer rows.Close()

		results := []LeaderboardEntry{}
		for rows.Next() {
			var entry LeaderboardEntry
			if err := rows.Scan(&entry.Rank, &entry.UserID, &entry.DisplayName, &entry.PhotoURL, &entry.Points); err != nil {
				writeInternalError(w, err, "leaderboard scan failed")
				return
			}
			results = append(results, entry)
		}
		if err := rows.Err(); err != nil {
			writeInternalError(w, err, "leaderboard rows failed")
			return
		}

		writeJSON(w, http.StatusOK, LeaderboardResponse{
			OK:       true,
			Period:   filters.Period,
			Page:     filters.Page,
			PageSize: filters.PageSize,
			Total:    total,
			Results:  results,
		})
	}
}

func parsePositiveInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}
