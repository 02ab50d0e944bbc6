package main

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchNotificationsClampsLimit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM notifications").WithArgs(testUserID, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "kind", "message", "payload", "is_read", "created_at"}).
			AddRow(int64(9), NotificationKindDeposit, "Deposit confirmed", []byte(`{"depositId":"d"}`), false, created).
			AddRow(int64(4), NotificationKindMyst, "Balance adjusted", nil, true, created))

	items, err := fetchNotifications(context.Background(), db, testUserID, 500)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.JSONEq(t, `{"depositId":"d"}`, string(items[0].Payload))
	assert.Nil(t, items[1].Payload)
	assert.True(t, items[1].IsRead)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkNotificationsReadSkipsEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	n, err := markNotificationsRead(context.Background(), db, testUserID, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkNotificationsRead(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE notifications").WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := markNotificationsRead(context.Background(), db, testUserID, []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestEmitNotificationsContinuesAfterFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO notifications").WillReturnError(assert.AnError)
	mock.ExpectExec("INSERT INTO notifications").WithArgs("u-2", NotificationKindProgram, "Approved", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	emitNotifications(context.Background(), db, []NotificationInput{
		{UserID: "u-1", Kind: NotificationKindProgram, Message: "Rejected"},
		{UserID: "u-2", Kind: NotificationKindProgram, Message: " Approved "},
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}
