package vault

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/overtonx/paygate/errs"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestNewService_RejectsBadKey(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewService(db, "not-hex", zap.NewNop())
	assert.Error(t, err)

	_, err = NewService(db, "abcd", zap.NewNop())
	assert.Error(t, err, "key too short")
}

func TestService_Tokenize(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc, err := NewService(db, testKey, zap.NewNop())
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO vault_tokens").
		WithArgs(sqlmock.AnyArg(), "m-1", "4242", "visa", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	info, err := svc.Tokenize(context.Background(), "m-1", validCard())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(info.Token, "tok_"))
	assert.Equal(t, "m-1", info.MerchantID)
	assert.Equal(t, "4242", info.Last4)
	assert.Equal(t, "visa", info.Brand)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Tokenize_InvalidCard(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc, err := NewService(db, testKey, zap.NewNop())
	require.NoError(t, err)

	card := validCard()
	card.Number = "4242424242424241"

	_, err = svc.Tokenize(context.Background(), "m-1", card)
	assert.True(t, errs.IsValidation(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Detokenize_RoundTrip(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc, err := NewService(db, testKey, zap.NewNop())
	require.NoError(t, err)

	card := validCard()
	ciphertext, err := svc.seal(card)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM vault_tokens WHERE token = \\?").
		WithArgs("tok_abc").
		WillReturnRows(sqlmock.NewRows([]string{"token", "merchant_id", "last4", "brand", "ciphertext", "created_at"}).
			AddRow("tok_abc", "m-1", "4242", "visa", ciphertext, time.Now()))

	got, err := svc.Detokenize(context.Background(), "tok_abc", "m-1")
	require.NoError(t, err)
	assert.Equal(t, card, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Detokenize_CrossOwnerLooksLikeNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc, err := NewService(db, testKey, zap.NewNop())
	require.NoError(t, err)

	ciphertext, err := svc.seal(validCard())
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM vault_tokens WHERE token = \\?").
		WithArgs("tok_abc").
		WillReturnRows(sqlmock.NewRows([]string{"token", "merchant_id", "last4", "brand", "ciphertext", "created_at"}).
			AddRow("tok_abc", "m-1", "4242", "visa", ciphertext, time.Now()))

	_, err = svc.Detokenize(context.Background(), "tok_abc", "m-other")
	assert.True(t, errs.IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Detokenize_UnknownToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc, err := NewService(db, testKey, zap.NewNop())
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM vault_tokens WHERE token = \\?").
		WithArgs("tok_missing").
		WillReturnRows(sqlmock.NewRows([]string{"token", "merchant_id", "last4", "brand", "ciphertext", "created_at"}))

	_, err = svc.Detokenize(context.Background(), "tok_missing", "m-1")
	assert.True(t, errs.IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}
