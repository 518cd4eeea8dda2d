package payout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidbanez/park-angel-settlement/internal/common"
	"github.com/davidbanez/park-angel-settlement/internal/model"
	"github.com/davidbanez/park-angel-settlement/internal/service"
)

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient("", "key")
	assert.True(t, common.IsValidation(err))

	_, err = NewClient("https://rail.example.com", "")
	assert.True(t, common.IsValidation(err))

	client, err := NewClient("https://rail.example.com", "key")
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestCreatePayout(t *testing.T) {
	var captured payoutRequest
	var gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/payouts", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		_ = json.NewEncoder(w).Encode(payoutResponse{
			ID:          "payout-123",
			RecipientID: captured.RecipientID,
			AccountID:   captured.DestinationAccountID,
			Amount:      captured.Amount,
			Currency:    captured.Currency,
			Status:      "pending",
			CreatedAt:   1751440000,
		})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "secret-key")
	require.NoError(t, err)

	payout, err := client.CreatePayout(context.Background(), service.PayoutRequest{
		RecipientID:          "op-1",
		Amount:               decimal.RequireFromString("125.50"),
		Currency:             "PHP",
		DestinationAccountID: "acct-1",
		SourceIDs:            []string{"share-1", "share-2"},
	})
	require.NoError(t, err)

	assert.Equal(t, "payout-123", payout.ID)
	assert.Equal(t, model.PayoutPending, payout.Status)
	assert.True(t, payout.Amount.Equal(decimal.RequireFromString("125.50")))
	assert.Equal(t, []string{"share-1", "share-2"}, payout.SourceIDs)

	assert.Equal(t, "Bearer secret-key", gotAuth)
	assert.Equal(t, "125.50", captured.Amount)
	// The first source id keys deduplication on the rail side.
	assert.Equal(t, "share-1", captured.IdempotencyKey)
}

func TestCreatePayoutErrorMapping(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantRetryable bool
	}{
		{"server error is retryable", http.StatusInternalServerError, true},
		{"bad gateway is retryable", http.StatusBadGateway, true},
		{"rate limit is retryable", http.StatusTooManyRequests, true},
		{"bad request is not", http.StatusBadRequest, false},
		{"unprocessable is not", http.StatusUnprocessableEntity, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(errorResponse{Code: "err", Message: "nope"})
			}))
			defer server.Close()

			client, err := NewClient(server.URL, "key")
			require.NoError(t, err)

			_, err = client.CreatePayout(context.Background(), service.PayoutRequest{
				RecipientID: "op-1",
				Amount:      decimal.RequireFromString("10.00"),
				Currency:    "PHP",
			})
			require.Error(t, err)

			var retryable *common.RetryableError
			assert.Equal(t, tt.wantRetryable, errors.As(err, &retryable))

			var external *common.ExternalServiceError
			require.True(t, errors.As(err, &external))
			assert.Contains(t, external.Error(), "nope")
		})
	}
}

func TestCreatePayoutNetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close() // refuse connections

	client, err := NewClient(server.URL, "key")
	require.NoError(t, err)

	_, err = client.CreatePayout(context.Background(), service.PayoutRequest{
		RecipientID: "op-1",
		Amount:      decimal.RequireFromString("10.00"),
		Currency:    "PHP",
	})
	require.Error(t, err)
	assert.True(t, common.IsRetryable(err))
}

func TestGetPayoutStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payouts/payout-123", r.URL.Path)
		_ = json.NewEncoder(w).Encode(payoutResponse{ID: "payout-123", Status: "paid"})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "key")
	require.NoError(t, err)

	status, err := client.GetPayoutStatus(context.Background(), "payout-123")
	require.NoError(t, err)
	assert.Equal(t, model.PayoutPaid, status)
}

func TestGetAccount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/accounts/acct-1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(accountResponse{ID: "acct-1", OwnerID: "op-1", Verified: true})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "key")
	require.NoError(t, err)

	account, err := client.GetAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "acct-1", account.ID)
	assert.Equal(t, "op-1", account.OwnerID)
	assert.True(t, account.Verified)
}

func TestCreatePayoutMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "key")
	require.NoError(t, err)

	_, err = client.CreatePayout(context.Background(), service.PayoutRequest{
		RecipientID: "op-1",
		Amount:      decimal.RequireFromString("10.00"),
		Currency:    "PHP",
	})
	require.Error(t, err)
	var external *common.ExternalServiceError
	assert.True(t, errors.As(err, &external))
}
