package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProgramID = "9e8d7c6b-5a49-4382-a1b0-c9d8e7f6a5b4"

func applyRequest() *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api/portal/arc/programs/"+testProgramID+"/apply", nil)
	r.AddCookie(&http.Cookie{Name: "akari_session", Value: "tok"})
	return withURLParams(r, "id", testProgramID)
}

func TestProgramApply(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM akari_user_sessions").WillReturnRows(sessionRow("ada"))
	mock.ExpectQuery("SELECT status FROM creator_programs").WithArgs(testProgramID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("open"))
	mock.ExpectExec("INSERT INTO creator_program_members").WithArgs(testProgramID, "u-1").WillReturnResult(sqlmock.NewResult(0, 1))

	w := httptest.NewRecorder()
	arcProgramApplyHandler(db, testConfig())(w, applyRequest())
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"ok":true,"status":"pending"}`, w.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProgramApplyUnknownProgram(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM akari_user_sessions").WillReturnRows(sessionRow("ada"))
	mock.ExpectQuery("SELECT status FROM creator_programs").WillReturnRows(sqlmock.NewRows([]string{"status"}))

	w := httptest.NewRecorder()
	arcProgramApplyHandler(db, testConfig())(w, applyRequest())
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"ok":false,"error":"Program not found"}`, w.Body.String())
}

func TestProgramApplyClosed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM akari_user_sessions").WillReturnRows(sessionRow("ada"))
	mock.ExpectQuery("SELECT status FROM creator_programs").WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("closed"))

	w := httptest.NewRecorder()
	arcProgramApplyHandler(db, testConfig())(w, applyRequest())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProgramApplyTwice(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM akari_user_sessions").WillReturnRows(sessionRow("ada"))
	mock.ExpectQuery("SELECT status FROM creator_programs").WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("open"))
	mock.ExpectExec("INSERT INTO creator_program_members").WillReturnResult(sqlmock.NewResult(0, 0))

	w := httptest.NewRecorder()
	arcProgramApplyHandler(db, testConfig())(w, applyRequest())
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"ok":false,"error":"Already applied"}`, w.Body.String())
}

func TestProgramDecisionByAdminToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE creator_program_members").WithArgs(testProgramID, testUserID, "approved").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO admin_audit_log").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectExec("INSERT INTO notifications").WillReturnResult(sqlmock.NewResult(1, 1))

	cfg := testConfig()
	r := httptest.NewRequest(http.MethodPost, "/api/portal/admin/programs/x/members/y", strings.NewReader(`{"status":"approved"}`))
	r.Header.Set("Authorization", "Bearer "+cfg.AdminToken)
	w := httptest.NewRecorder()
	adminProgramMemberHandler(db, cfg)(w, withURLParams(r, "id", testProgramID, "userId", testUserID))
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProgramDecisionRejectsUnknownStatus(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := testConfig()
	r := httptest.NewRequest(http.MethodPost, "/api/portal/admin/programs/x/members/y", strings.NewReader(`{"status":"maybe"}`))
	r.Header.Set("Authorization", "Bearer "+cfg.AdminToken)
	w := httptest.NewRecorder()
	adminProgramMemberHandler(db, cfg)(w, withURLParams(r, "id", testProgramID, "userId", testUserID))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
