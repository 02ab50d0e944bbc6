package main

import (
	"context"
	"database/sql"
	"net/http"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type ProjectReport struct {
	ProjectID      string          `json:"projectId"`
	Name           string          `json:"name"`
	Slug           string          `json:"slug"`
	Tweets         int             `json:"tweets"`
	SignalTweets   int             `json:"signalTweets"`
	Views          int64           `json:"views"`
	Engagement     int64           `json:"engagement"`
	UniqueCreators int             `json:"uniqueCreators"`
	PageViews      int64           `json:"pageViews"`
	Revenue        decimal.Decimal `json:"revenue"`
	PendingRevenue decimal.Decimal `json:"pendingRevenue"`
}

type PlatformReport struct {
	Window   string          `json:"window"`
	From     time.Time       `json:"from"`
	To       time.Time       `json:"to"`
	Projects []ProjectReport `json:"projects"`
	Totals   ProjectReport   `json:"totals"`
}

type billingRow struct {
	ProjectID string
	Status    string
	Amount    decimal.Decimal
}

// buildPlatformReport rolls fetched rows up per project. Rows for unknown projects are ignored.
func buildPlatformReport(projects []Project, tweets []TweetMetrics, pageViews map[string]int64, billing []billingRow) ([]ProjectReport, ProjectReport) {
	byID := make(map[string]*ProjectReport, len(projects))
	creators := make(map[string]map[string]bool, len(projects))
	for _, p := range projects {
		byID[p.ID] = &ProjectReport{ProjectID: p.ID, Name: p.Name, Slug: p.Slug, Revenue: decimal.Zero, PendingRevenue: decimal.Zero}
		creators[p.ID] = map[string]bool{}
	}

	allCreators := map[string]bool{}
	for _, t := range tweets {
		report, ok := byID[t.ProjectID]
		if !ok {
			continue
		}
		report.Tweets++
		if classifyTweet(t) == TweetSignal {
			report.SignalTweets++
		}
		report.Views += t.Views
		report.Engagement += tweetEngagement(t)
		if handle := normalizeHandle(t.AuthorHandle); handle != "" && !t.IsOfficial {
			creators[t.ProjectID][handle] = true
			allCreators[handle] = true
		}
	}
	for id, count := range pageViews {
		if report, ok := byID[id]; ok {
			report.PageViews += count
		}
	}
	for _, b := range billing {
		report, ok := byID[b.ProjectID]
		if !ok {
			continue
		}
		switch b.Status {
		case BillingStatusPaid:
			report.Revenue = report.Revenue.Add(b.Amount)
		case BillingStatusPending:
			report.PendingRevenue = report.PendingRevenue.Add(b.Amount)
		}
	}

	totals := ProjectReport{Name: "total", Revenue: decimal.Zero, PendingRevenue: decimal.Zero}
	out := make([]ProjectReport, 0, len(byID))
	for id, report := range byID {
		report.UniqueCreators = len(creators[id])
		totals.Tweets += report.Tweets
		totals.SignalTweets += report.SignalTweets
		totals.Views += report.Views
		totals.Engagement += report.Engagement
		totals.PageViews += report.PageViews
		totals.Revenue = totals.Revenue.Add(report.Revenue)
		totals.PendingRevenue = totals.PendingRevenue.Add(report.PendingRevenue)
		out = append(out, *report)
	}
	totals.UniqueCreators = len(allCreators)

	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Revenue.Cmp(out[j].Revenue); c != 0 {
			return c > 0
		}
		return out[i].Name < out[j].Name
	})
	return out, totals
}

func loadAllProjects(ctx context.Context, db *sql.DB) ([]Project, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects`)
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

func loadPageViewCounts(ctx context.Context, db *sql.DB, from, to time.Time) (map[string]int64, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT project_id, COUNT(*)
		FROM arc_page_views
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY project_id
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int64{}
	for rows.Next() {
		var id string
		var count int64
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		counts[id] = count
	}
	return counts, rows.Err()
}

func loadBillingRows(ctx context.Context, db *sql.DB, from, to time.Time) ([]billingRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT project_id, status, final_amount
		FROM arc_billing_records
		WHERE created_at >= $1 AND created_at < $2
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []billingRow{}
	for rows.Next() {
		var b billingRow
		if err := rows.Scan(&b.ProjectID, &b.Status, &b.Amount); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func loadAllTweets(ctx context.Context, db *sql.DB, from, to time.Time) ([]TweetMetrics, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+tweetColumns+`
		FROM project_tweets
		WHERE created_at >= $1 AND created_at < $2
	`, from, to)
	if err != nil {
		return nil, err
	}
	return scanTweets(rows)
}

func adminPlatformReportHandler(db *sql.DB, cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requirePortalAdmin(db, cfg, w, r); !ok {
			return
		}
		raw := r.URL.Query().Get("window")
		if raw == "" {
			raw = "30d"
		}
		window, span, err := parseMindshareWindow(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "window must be one of 24h, 7d, 30d, 90d")
			return
		}

		ctx := r.Context()
		to := time.Now().UTC()
		from := to.Add(-span)

		projects, err := loadAllProjects(ctx, db)
		if err != nil {
			writeInternalError(w, err, "report projects query failed")
			return
		}
		tweets, err := loadAllTweets(ctx, db, from, to)
		if err != nil {
			writeInternalError(w, err, "report tweets query failed")
			return
		}
		views, err := loadPageViewCounts(ctx, db, from, to)
		if err != nil {
			writeInternalError(w, err, "report views query failed")
			return
		}
		billing, err := loadBillingRows(ctx, db, from, to)
		if err != nil {
			writeInternalError(w, err, "report billing query failed")
			return
		}

		rows, totals := buildPlatformReport(projects, tweets, views, billing)
		writeOK(w, payload{"report": PlatformReport{
			Window:   window,
			From:     from,
			To:       to,
			Projects: rows,
			Totals:   totals,
		}})
	}
}
