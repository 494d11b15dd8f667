package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/speedrun-hq/paywatch/pkg/circuitbreaker"
	"github.com/speedrun-hq/paywatch/pkg/jsonvalue"
	"github.com/speedrun-hq/paywatch/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string, breaker *circuitbreaker.CircuitBreaker) *Client {
	return New(url, "UPI", breaker, &logger.EmptyLogger{})
}

func TestCreateIntentRequest(t *testing.T) {
	var got intentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/donations", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, err := uuid.Parse(r.Header.Get("Idempotency-Key"))
		assert.NoError(t, err)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_, _ = w.Write([]byte(`{"success":true,"amountToPay":50,"orderId":"ord_9","payments":[{"upiId":"a@b","qrCode":"data:image/png;base64,AAA"}]}`))
	}))
	defer srv.Close()

	intent, err := newTestClient(srv.URL+"/api/donations", nil).CreateIntent(context.Background(), "50", "tok")
	require.NoError(t, err)

	assert.Equal(t, intentRequest{Amount: "50", PaymentMethod: "UPI"}, got)
	assert.Equal(t, "ord_9", intent.ID)
	assert.Equal(t, "50", intent.Amount)
	assert.Equal(t, "a@b", intent.UPIID)
	assert.True(t, intent.HasQRImage())
	require.Len(t, intent.Payments, 1)
	assert.Equal(t, jsonvalue.Object, intent.Raw.Kind())
	assert.False(t, intent.CreatedAt.IsZero())
}

func TestDecodeIntentShapes(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		id     string
		amount string
		upi    string
		txn    string
	}{
		{
			name:   "nested data",
			body:   `{"data":{"_id":"abc","totalAmount":"12.50","vpa":"shop@upi"}}`,
			id:     "abc",
			amount: "12.50",
			upi:    "shop@upi",
		},
		{
			name:   "donation container",
			body:   `{"donation":{"donationId":7,"amount":100,"transactionRef":"T-1"}}`,
			id:     "7",
			amount: "100",
			txn:    "T-1",
		},
		{
			name:   "transaction ref used as id",
			body:   `{"payableAmount":5,"txnId":"TX5"}`,
			id:     "TX5",
			amount: "5",
			txn:    "TX5",
		},
		{
			name:   "top level wins over containers",
			body:   `{"amount":1,"id":"top","order":{"id":"inner","amount":2}}`,
			id:     "top",
			amount: "1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := jsonvalue.Parse([]byte(tt.body))
			require.NoError(t, err)

			intent, err := decodeIntent(body)
			require.NoError(t, err)
			assert.Equal(t, tt.id, intent.ID)
			assert.Equal(t, tt.amount, intent.Amount)
			assert.Equal(t, tt.upi, intent.UPIID)
			assert.Equal(t, tt.txn, intent.TransactionRef)
		})
	}
}

func TestCreateIntentFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
		outage  bool
	}{
		{"rejected", http.StatusOK, `{"success":false,"message":"amount too low"}`, ErrIntentRejected, false},
		{"no amount", http.StatusOK, `{"success":true,"orderId":"x"}`, ErrMissingAmount, false},
		{"server error", http.StatusInternalServerError, `oops`, nil, true},
		{"bad request", http.StatusBadRequest, `{"message":"bad"}`, nil, false},
		{"not json", http.StatusOK, `<html>`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			breaker := circuitbreaker.NewCircuitBreaker(true, 1, time.Minute, time.Minute, &logger.EmptyLogger{})
			_, err := newTestClient(srv.URL, breaker).CreateIntent(context.Background(), "10", "")
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, tt.outage, breaker.IsOpen())

			var statusErr *StatusError
			if tt.status != http.StatusOK {
				require.True(t, errors.As(err, &statusErr))
				assert.Equal(t, tt.status, statusErr.Code)
			}
		})
	}
}

func TestCreateIntentCircuitOpen(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	breaker := circuitbreaker.NewCircuitBreaker(true, 2, time.Minute, time.Minute, &logger.EmptyLogger{})
	client := newTestClient(srv.URL, breaker)

	for i := 0; i < 2; i++ {
		_, err := client.CreateIntent(context.Background(), "1", "")
		require.Error(t, err)
	}
	require.True(t, breaker.IsOpen())

	_, err := client.CreateIntent(context.Background(), "1", "")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load(), "open breaker must not send requests")

	breaker.Reset()
	_, err = client.CreateIntent(context.Background(), "1", "")
	assert.NotErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(3), hits.Load())
}

func TestCreateIntentInvalidAmount(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, nil)
	for _, amount := range []string{"", "abc", "0", "0.00", "-5", "NaN", "Inf", "+Inf", "0x1p3", "1e3", " 5", "5."} {
		_, err := client.CreateIntent(context.Background(), amount, "")
		assert.ErrorIs(t, err, ErrInvalidAmount, amount)
	}
	assert.Zero(t, hits.Load())
}

func TestCreateIntentNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	breaker := circuitbreaker.NewCircuitBreaker(true, 1, time.Minute, time.Minute, &logger.EmptyLogger{})
	_, err := newTestClient(url, breaker).CreateIntent(context.Background(), "1", "")
	require.Error(t, err)
	assert.True(t, breaker.IsOpen())
}

func TestValidateAmountAcceptsDecimals(t *testing.T) {
	for _, amount := range []string{"50", "12.50", "0.01", "100000"} {
		assert.NoError(t, validateAmount(amount), amount)
	}
}

func TestCreateIntentCanceledDoesNotTripBreaker(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	breaker := circuitbreaker.NewCircuitBreaker(true, 1, time.Minute, time.Minute, &logger.EmptyLogger{})
	client := newTestClient(srv.URL, breaker)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := client.CreateIntent(ctx, "1", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, breaker.IsOpen())
}
