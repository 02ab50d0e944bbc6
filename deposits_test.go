package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDepositID = "3f1e2d3c-4b5a-4968-8776-a5b4c3d2e1f0"

func TestConfirmDepositCreditsMyst(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM deposits").WithArgs(testDepositID).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "amount_usd", "status"}).AddRow(testUserID, "12.50", "pending"))
	mock.ExpectQuery("SELECT myst_balance").WithArgs(testUserID).WillReturnRows(sqlmock.NewRows([]string{"myst_balance"}).AddRow("1"))
	mock.ExpectExec("UPDATE akari_users").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO myst_ledger").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE deposits").WithArgs(testDepositID, sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO admin_audit_log").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	dep, err := confirmDeposit(context.Background(), db, testDepositID, dec("100"))
	require.NoError(t, err)
	assert.True(t, dep.MystCredited.Equal(dec("1250")), dep.MystCredited.String())
	assert.True(t, dep.Balance.Equal(dec("1251")), dep.Balance.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmDepositTwice(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM deposits").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "amount_usd", "status"}).AddRow(testUserID, "12.50", "confirmed"))
	mock.ExpectRollback()

	_, err = confirmDeposit(context.Background(), db, testDepositID, dec("100"))
	assert.ErrorIs(t, err, errDepositNotPending)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdminConfirmDepositNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM deposits").WillReturnRows(sqlmock.NewRows([]string{"user_id", "amount_usd", "status"}))
	mock.ExpectRollback()

	cfg := testConfig()
	r := httptest.NewRequest(http.MethodPost, "/api/admin/deposits/"+testDepositID+"/confirm", nil)
	r.Header.Set("Authorization", "Bearer "+cfg.AdminToken)
	w := httptest.NewRecorder()
	adminConfirmDepositHandler(db, cfg)(w, withURLParams(r, "id", testDepositID))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"ok":false,"error":"Deposit not found"}`, w.Body.String())
}

func TestAdminConfirmDepositRejectsBadID(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := testConfig()
	r := httptest.NewRequest(http.MethodPost, "/api/admin/deposits/nope/confirm", nil)
	r.Header.Set("Authorization", "Bearer "+cfg.AdminToken)
	w := httptest.NewRecorder()
	adminConfirmDepositHandler(db, cfg)(w, withURLParams(r, "id", "nope"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func depositRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/api/miniapp/deposits", strings.NewReader(body))
	r.Header.Set("X-Telegram-Init-Data", signedInitData(t, testBotToken, time.Now(), `{"id":42,"first_name":"Ada","username":"ada_l"}`))
	return r
}

func TestCreateDeposit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM akari_users").WithArgs(int64(42)).WillReturnRows(userRow(testUserID, 42))
	mock.ExpectQuery("INSERT INTO deposits").WithArgs(sqlmock.AnyArg(), testUserID, "0xabc123def4567890", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(testDepositID))

	w := httptest.NewRecorder()
	miniAppCreateDepositHandler(db, testConfig())(w, depositRequest(t, `{"txHash":" 0xabc123def4567890 ","amountUsd":"25.50"}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"ok":true,"id":"`+testDepositID+`","status":"pending"}`, w.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDepositDuplicateTxHash(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM akari_users").WillReturnRows(userRow(testUserID, 42))
	mock.ExpectQuery("INSERT INTO deposits").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	w := httptest.NewRecorder()
	miniAppCreateDepositHandler(db, testConfig())(w, depositRequest(t, `{"txHash":"0xabc123def4567890","amountUsd":"25"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"ok":false,"error":"Deposit already submitted"}`, w.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDepositRejectsBadAmount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for _, amount := range []string{`"0"`, `"-5"`, `"1.005"`} {
		mock.ExpectQuery("FROM akari_users").WillReturnRows(userRow(testUserID, 42))
		w := httptest.NewRecorder()
		miniAppCreateDepositHandler(db, testConfig())(w, depositRequest(t, `{"txHash":"0xabc123def4567890","amountUsd":`+amount+`}`))
		assert.Equal(t, http.StatusBadRequest, w.Code, amount)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDepositDisabled(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := testConfig()
	cfg.EnableDeposits = false
	w := httptest.NewRecorder()
	miniAppCreateDepositHandler(db, cfg)(w, depositRequest(t, `{"txHash":"0xabc123def4567890","amountUsd":"25"}`))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
