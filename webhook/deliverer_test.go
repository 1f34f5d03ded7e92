package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/overtonx/paygate/merchant"
	"github.com/overtonx/paygate/outbox"
	"github.com/overtonx/paygate/signing"
)

func testNotification() outbox.WebhookNotification {
	return outbox.WebhookNotification{
		TransactionID: "txn-1",
		MerchantID:    "m-1",
		Status:        "authorized",
		Success:       true,
		Amount:        500,
		Timestamp:     time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
	}
}

func testMerchant(urls ...string) *merchant.Merchant {
	return &merchant.Merchant{
		ID:          "m-1",
		APISecret:   "whsec_test",
		WebhookURLs: urls,
	}
}

func fastDeliverer(store merchant.Store) *Deliverer {
	return NewDeliverer(store, zap.NewNop(),
		WithBaseDelay(time.Millisecond),
		WithMaxAttempts(3))
}

func TestDeliverer_Deliver_SignatureVerifies(t *testing.T) {
	var gotSig, gotTS string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(HeaderSignature)
		gotTS = r.Header.Get(HeaderTimestamp)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := new(merchant.MockStore)
	store.On("Get", mock.Anything, "m-1").Return(testMerchant(srv.URL), nil).Once()

	err := fastDeliverer(store).Deliver(context.Background(), testNotification())
	require.NoError(t, err)

	// The receiver recomputes the signature over the body it got.
	var received map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &received))
	payload, err := signing.BuildPayload(received, gotTS)
	require.NoError(t, err)
	assert.True(t, signing.Verify(payload, gotSig, "whsec_test"))
}

func TestDeliverer_Deliver_RetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := new(merchant.MockStore)
	store.On("Get", mock.Anything, "m-1").Return(testMerchant(srv.URL), nil).Once()

	err := fastDeliverer(store).Deliver(context.Background(), testNotification())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDeliverer_Deliver_AllEndpointsExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := new(merchant.MockStore)
	store.On("Get", mock.Anything, "m-1").Return(testMerchant(srv.URL), nil).Once()

	err := fastDeliverer(store).Deliver(context.Background(), testNotification())
	assert.Error(t, err)
	assert.Equal(t, int32(3), calls.Load(), "three attempts per endpoint")
}

func TestDeliverer_Deliver_OneEndpointSucceeding_IsEnough(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer good.Close()

	store := new(merchant.MockStore)
	store.On("Get", mock.Anything, "m-1").Return(testMerchant(bad.URL, good.URL), nil).Once()

	err := fastDeliverer(store).Deliver(context.Background(), testNotification())
	assert.NoError(t, err)
}

func TestDeliverer_Deliver_NoEndpointsIsNoOp(t *testing.T) {
	store := new(merchant.MockStore)
	store.On("Get", mock.Anything, "m-1").Return(testMerchant(), nil).Once()

	err := fastDeliverer(store).Deliver(context.Background(), testNotification())
	assert.NoError(t, err)
}
