package merchant

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/overtonx/paygate/errs"
)

func merchantColumns() []string {
	return []string{"id", "name", "api_key", "api_secret", "webhook_urls", "balance", "version", "created_at", "updated_at"}
}

func TestSQLStore_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLStore(db, zap.NewNop())

	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM merchants WHERE id = \\?").
		WithArgs("m-1").
		WillReturnRows(sqlmock.NewRows(merchantColumns()).
			AddRow("m-1", "Acme", "key-1", "secret-1", []byte(`["https://acme.test/hooks"]`), 5000, 3, now, now))

	m, err := store.Get(context.Background(), "m-1")
	require.NoError(t, err)

	assert.Equal(t, "m-1", m.ID)
	assert.Equal(t, []string{"https://acme.test/hooks"}, m.WebhookURLs)
	assert.Equal(t, int64(5000), m.Balance)
	assert.Equal(t, int64(3), m.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Get_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLStore(db, zap.NewNop())

	mock.ExpectQuery("SELECT (.+) FROM merchants WHERE id = \\?").
		WithArgs("m-unknown").
		WillReturnRows(sqlmock.NewRows(merchantColumns()))

	_, err = store.Get(context.Background(), "m-unknown")
	assert.True(t, errs.IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_GetByAPIKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLStore(db, zap.NewNop())

	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM merchants WHERE api_key = \\?").
		WithArgs("key-1").
		WillReturnRows(sqlmock.NewRows(merchantColumns()).
			AddRow("m-1", "Acme", "key-1", "secret-1", []byte(`[]`), 0, 0, now, now))

	m, err := store.GetByAPIKey(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, "m-1", m.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_CompareAndSwapBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLStore(db, zap.NewNop())

	mock.ExpectExec("UPDATE merchants(.+)WHERE id = \\? AND version = \\?").
		WithArgs(1500, "m-1", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	swapped, err := store.CompareAndSwapBalance(context.Background(), "m-1", 3, 1500)
	require.NoError(t, err)
	assert.True(t, swapped)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_CompareAndSwapBalance_VersionMoved(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLStore(db, zap.NewNop())

	mock.ExpectExec("UPDATE merchants(.+)WHERE id = \\? AND version = \\?").
		WithArgs(1500, "m-1", 3).
		WillReturnResult(sqlmock.NewResult(0, 0))

	swapped, err := store.CompareAndSwapBalance(context.Background(), "m-1", 3, 1500)
	require.NoError(t, err)
	assert.False(t, swapped)
	require.NoError(t, mock.ExpectationsWereMet())
}
