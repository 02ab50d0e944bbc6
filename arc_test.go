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

var tweetRowColumns = []string{"tweet_id", "project_id", "author_handle", "author_followers", "likes", "retweets", "replies", "quotes", "views", "is_official", "created_at"}

func portalRequest(path string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	r.AddCookie(&http.Cookie{Name: "akari_session", Value: "tok"})
	return r
}

func TestArcProjectLeaderboard(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Now().UTC().Add(-time.Hour)
	mock.ExpectQuery("FROM akari_user_sessions").WillReturnRows(sessionRow("ada"))
	mock.ExpectQuery("FROM projects").WithArgs("alpha").WillReturnRows(projectRow("p-1"))
	mock.ExpectQuery("FROM project_tweets").WithArgs("p-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(tweetRowColumns).
			AddRow("1", "p-1", "@Ada_L", 5000, 40, 2, 3, 0, 0, false, created).
			AddRow("2", "p-1", "alpha", 90000, 900, 0, 0, 0, 0, true, created))

	w := httptest.NewRecorder()
	r := withURLParams(portalRequest("/api/portal/arc/projects/Alpha/leaderboard?window=24h"), "slug", "Alpha")
	arcProjectLeaderboardHandler(db, testConfig())(w, r)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		OK          bool             `json:"ok"`
		Window      string           `json:"window"`
		Leaderboard []MindshareEntry `json:"leaderboard"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "24h", body.Window)
	require.Len(t, body.Leaderboard, 1)
	assert.Equal(t, "ada_l", body.Leaderboard[0].Key)
	assert.Equal(t, 10000, body.Leaderboard[0].MindshareBps)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArcProjectLeaderboardUnknownWindow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM akari_user_sessions").WillReturnRows(sessionRow("ada"))

	w := httptest.NewRecorder()
	r := withURLParams(portalRequest("/api/portal/arc/projects/alpha/leaderboard?window=1y"), "slug", "alpha")
	arcProjectLeaderboardHandler(db, testConfig())(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArcProjectLeaderboardUnknownSlug(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM akari_user_sessions").WillReturnRows(sessionRow("ada"))
	mock.ExpectQuery("FROM projects").WithArgs("ghost").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	w := httptest.NewRecorder()
	r := withURLParams(portalRequest("/api/portal/arc/projects/ghost/leaderboard"), "slug", "ghost")
	arcProjectLeaderboardHandler(db, testConfig())(w, r)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"ok":false,"error":"Project not found"}`, w.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArcMindshare(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Now().UTC().Add(-time.Hour)
	mock.ExpectQuery("FROM akari_user_sessions").WillReturnRows(sessionRow("ada"))
	mock.ExpectQuery("FROM projects").WillReturnRows(projectRow("p-1"))
	mock.ExpectQuery("FROM project_tweets").
		WillReturnRows(sqlmock.NewRows(tweetRowColumns).
			AddRow("1", "p-1", "ada", 5000, 40, 2, 3, 0, 0, false, created))

	w := httptest.NewRecorder()
	arcMindshareHandler(db, testConfig())(w, portalRequest("/api/portal/arc/mindshare"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Window   string           `json:"window"`
		Projects []MindshareEntry `json:"projects"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "7d", body.Window)
	require.Len(t, body.Projects, 1)
	assert.Equal(t, "Alpha", body.Projects[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArcMindshareUnknownWindow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM akari_user_sessions").WillReturnRows(sessionRow("ada"))

	w := httptest.NewRecorder()
	arcMindshareHandler(db, testConfig())(w, portalRequest("/api/portal/arc/mindshare?window=forever"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
