package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func entryColumns() []string {
	return []string{"id", "event_id", "aggregate_id", "event_type", "payload", "status", "retry_count", "last_error", "processed_at", "created_at", "updated_at"}
}

func TestSQLStore_CreateEntry(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLStore(db, zap.NewNop())

	entry, err := NewEntry("txn-1", TransactionCreated{
		TransactionID: "txn-1",
		MerchantID:    "m-1",
		Amount:        2500,
		Currency:      "USD",
		Token:         "tok_abc",
	})
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO outbox_entries").
		WithArgs(entry.EventID, "txn-1", "transaction.created", entry.Payload, "pending").
		WillReturnResult(sqlmock.NewResult(7, 1))

	err = store.CreateEntry(context.Background(), entry)
	require.NoError(t, err)

	assert.Equal(t, int64(7), entry.ID)
	assert.Equal(t, StatusPending, entry.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_CreateEntry_DuplicateEventID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLStore(db, zap.NewNop())

	entry, err := NewEntry("txn-1", TransactionCreated{TransactionID: "txn-1"})
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO outbox_entries").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	err = store.CreateEntry(context.Background(), entry)
	assert.ErrorIs(t, err, ErrEntryAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_GetPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLStore(db, zap.NewNop())

	now := time.Now()
	rows := sqlmock.NewRows(entryColumns()).
		AddRow(1, "ev-1", "txn-1", "transaction.created", []byte(`{}`), "pending", 0, nil, nil, now, now).
		AddRow(2, "ev-2", "txn-2", "refund.requested", []byte(`{}`), "pending", 2, "kafka is down", nil, now, now)

	mock.ExpectQuery("SELECT (.+) FROM outbox_entries WHERE status = \\?").
		WithArgs("pending", 50).
		WillReturnRows(rows)

	entries, err := store.GetPending(context.Background(), 50)
	require.NoError(t, err)

	require.Len(t, entries, 2)
	assert.Equal(t, EventTransactionCreated, entries[0].EventType)
	assert.Equal(t, StatusPending, entries[0].Status)
	assert.Nil(t, entries[0].ProcessedAt)
	assert.Equal(t, 2, entries[1].RetryCount)
	assert.Equal(t, "kafka is down", entries[1].LastError)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_MarkProcessing_ClaimsOnlyPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLStore(db, zap.NewNop())

	mock.ExpectExec("UPDATE outbox_entries SET status = \\? WHERE id = \\? AND status = \\?").
		WithArgs("processing", 1, "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Entry 2 was already claimed elsewhere, no rows match.
	mock.ExpectExec("UPDATE outbox_entries SET status = \\? WHERE id = \\? AND status = \\?").
		WithArgs("processing", 2, "pending").
		WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err := store.MarkProcessing(context.Background(), []int64{1, 2})
	require.NoError(t, err)

	assert.Equal(t, []int64{1}, claimed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_MarkFailed_IncrementsRetryCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLStore(db, zap.NewNop())

	mock.ExpectExec("UPDATE outbox_entries(.+)retry_count = retry_count \\+ 1").
		WithArgs("failed", "broker unreachable", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = store.MarkFailed(context.Background(), 3, "broker unreachable")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_RetryFailed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLStore(db, zap.NewNop())

	mock.ExpectExec("UPDATE outbox_entries SET status = \\? WHERE status = \\? AND retry_count < \\?").
		WithArgs("pending", "failed", 3).
		WillReturnResult(sqlmock.NewResult(0, 4))

	requeued, err := store.RetryFailed(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(4), requeued)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_ResetEntry(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLStore(db, zap.NewNop())

	mock.ExpectExec("UPDATE outbox_entries SET status = \\?, retry_count = 0, last_error = ''").
		WithArgs("pending", 42).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = store.ResetEntry(context.Background(), 42)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_ResetStuck(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLStore(db, zap.NewNop())

	cutoff := time.Now().Add(-10 * time.Minute)
	mock.ExpectExec("UPDATE outbox_entries SET status = \\? WHERE status = \\? AND updated_at < \\?").
		WithArgs("pending", "processing", cutoff).
		WillReturnResult(sqlmock.NewResult(0, 2))

	recovered, err := store.ResetStuck(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), recovered)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Stats(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLStore(db, zap.NewNop())

	mock.ExpectQuery("SELECT COUNT").WithArgs("pending").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(10))
	mock.ExpectQuery("SELECT COUNT").WithArgs("processing").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT COUNT").WithArgs("completed").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(100))
	mock.ExpectQuery("SELECT COUNT").WithArgs("failed", 3).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery("SELECT COUNT").WithArgs("failed", 3).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	stats, err := store.Stats(context.Background(), 3)
	require.NoError(t, err)

	assert.Equal(t, int64(10), stats.Pending)
	assert.Equal(t, int64(1), stats.Processing)
	assert.Equal(t, int64(100), stats.Completed)
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, int64(1), stats.PermanentlyFailed)
	require.NoError(t, mock.ExpectationsWereMet())
}
