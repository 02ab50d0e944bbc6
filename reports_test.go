package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPlatformReport(t *testing.T) {
	projects := []Project{
		{ID: "p1", Name: "Alpha", Slug: "alpha"},
		{ID: "p2", Name: "Beta", Slug: "beta"},
		{ID: "p3", Name: "Gamma", Slug: "gamma"},
	}
	tweets := []TweetMetrics{
		{ProjectID: "p1", AuthorHandle: "Alice", AuthorFollowers: 1000, Likes: 10, Views: 100},
		{ProjectID: "p1", AuthorHandle: "alice", AuthorFollowers: 1000, Likes: 1, Views: 50},
		{ProjectID: "p1", AuthorHandle: "alpha", AuthorFollowers: 9000, Likes: 50, IsOfficial: true},
		{ProjectID: "p2", AuthorHandle: "bob", AuthorFollowers: 1000, Likes: 8},
		{ProjectID: "ghost", AuthorHandle: "carol", Likes: 100},
	}
	pageViews := map[string]int64{"p1": 7, "p3": 2, "ghost": 99}
	billing := []billingRow{
		{ProjectID: "p2", Status: BillingStatusPaid, Amount: dec("1500")},
		{ProjectID: "p2", Status: BillingStatusPending, Amount: dec("250")},
		{ProjectID: "p1", Status: BillingStatusPaid, Amount: dec("500")},
		{ProjectID: "ghost", Status: BillingStatusPaid, Amount: dec("1")},
	}

	out, totals := buildPlatformReport(projects, tweets, pageViews, billing)
	require.Len(t, out, 3)

	assert.Equal(t, []string{"Beta", "Alpha", "Gamma"}, []string{out[0].Name, out[1].Name, out[2].Name})

	alpha := out[1]
	assert.Equal(t, 3, alpha.Tweets)
	assert.Equal(t, 2, alpha.SignalTweets)
	assert.Equal(t, int64(150), alpha.Views)
	assert.Equal(t, int64(61), alpha.Engagement)
	assert.Equal(t, 1, alpha.UniqueCreators)
	assert.Equal(t, int64(7), alpha.PageViews)
	assert.True(t, alpha.Revenue.Equal(dec("500")))

	beta := out[0]
	assert.True(t, beta.Revenue.Equal(dec("1500")))
	assert.True(t, beta.PendingRevenue.Equal(dec("250")))

	assert.Equal(t, 4, totals.Tweets)
	assert.Equal(t, int64(9), totals.PageViews)
	assert.Equal(t, 2, totals.UniqueCreators)
	assert.True(t, totals.Revenue.Equal(dec("2000")))
	assert.True(t, totals.PendingRevenue.Equal(dec("250")))
}

func TestBuildPlatformReportTiesSortByName(t *testing.T) {
	projects := []Project{{ID: "b", Name: "Zed"}, {ID: "a", Name: "Ace"}}
	out, totals := buildPlatformReport(projects, nil, nil, nil)
	require.Len(t, out, 2)
	assert.Equal(t, "Ace", out[0].Name)
	assert.True(t, totals.Revenue.IsZero())
}

func TestPlatformReportCreatorsMatchLeaderboard(t *testing.T) {
	tweets := []TweetMetrics{
		{TweetID: "1", ProjectID: "p1", AuthorHandle: "@Foo", AuthorFollowers: 1000, Likes: 10},
		{TweetID: "2", ProjectID: "p1", AuthorHandle: "foo", AuthorFollowers: 1000, Likes: 12},
	}
	out, _ := buildPlatformReport([]Project{{ID: "p1", Name: "Alpha"}}, tweets, nil, nil)
	require.Len(t, out, 1)

	board := scoreCreators(tweets, nil, nil)
	require.Len(t, board, 1)
	assert.Equal(t, "foo", board[0].Key)
	assert.Equal(t, len(board), out[0].UniqueCreators)
}

func reportRequest(cfg *Config, query string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/portal/admin/reports/platform"+query, nil)
	r.Header.Set("Authorization", "Bearer "+cfg.AdminToken)
	return r
}

func TestPlatformReportHandlerDefaultsToThirtyDays(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM projects").WillReturnRows(projectRow("p-1"))
	mock.ExpectQuery("FROM project_tweets").WillReturnRows(sqlmock.NewRows([]string{"tweet_id", "project_id", "author_handle",
		"author_followers", "likes", "retweets", "replies", "quotes", "views", "is_official", "created_at"}))
	mock.ExpectQuery("FROM arc_page_views").WillReturnRows(sqlmock.NewRows([]string{"project_id", "count"}).AddRow("p-1", 4))
	mock.ExpectQuery("FROM arc_billing_records").WillReturnRows(sqlmock.NewRows([]string{"project_id", "status", "final_amount"}).
		AddRow("p-1", BillingStatusPaid, "1500.00"))

	cfg := testConfig()
	w := httptest.NewRecorder()
	adminPlatformReportHandler(db, cfg)(w, reportRequest(cfg, ""))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		OK     bool           `json:"ok"`
		Report PlatformReport `json:"report"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.OK)
	assert.Equal(t, "30d", body.Report.Window)
	assert.WithinDuration(t, body.Report.To.Add(-30*24*time.Hour), body.Report.From, time.Second)
	require.Len(t, body.Report.Projects, 1)
	assert.Equal(t, int64(4), body.Report.Projects[0].PageViews)
	assert.True(t, body.Report.Totals.Revenue.Equal(dec("1500")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlatformReportHandlerRejectsUnknownWindow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := testConfig()
	w := httptest.NewRecorder()
	adminPlatformReportHandler(db, cfg)(w, reportRequest(cfg, "?window=365d"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
