// Package payout implements the HTTP client for the external disbursement
// rail that executes bank transfers to operators and hosts.
package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidbanez/park-angel-settlement/internal/common"
	"github.com/davidbanez/park-angel-settlement/internal/model"
	"github.com/davidbanez/park-angel-settlement/internal/service"
)

const serviceName = "payout-rail"

// Client implements service.PayoutExecutor and service.AccountRegistry
// against the disbursement rail's JSON API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a payout rail client.
func NewClient(baseURL, apiKey string) (*Client, error) {
	if baseURL == "" {
		return nil, common.NewValidationError("baseURL", "required")
	}
	if apiKey == "" {
		return nil, common.NewValidationError("apiKey", "required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, common.NewValidationError("baseURL", fmt.Sprintf("invalid URL: %v", err))
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// API payload types.
type payoutRequest struct {
	IdempotencyKey       string   `json:"idempotencyKey"`
	RecipientID          string   `json:"recipientId"`
	DestinationAccountID string   `json:"destinationAccountId"`
	Amount               string   `json:"amount"`
	Currency             string   `json:"currency"`
	SourceIDs            []string `json:"sourceIds"`
}

type payoutResponse struct {
	ID          string `json:"id"`
	RecipientID string `json:"recipientId"`
	AccountID   string `json:"accountId"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	CreatedAt   int64  `json:"createdAt"`
}

type accountResponse struct {
	ID       string `json:"id"`
	OwnerID  string `json:"ownerId"`
	Verified bool   `json:"verified"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreatePayout submits one transfer. The rail deduplicates on the
// idempotency key, so retrying a timed-out submission with the same source
// run id never double-pays.
func (c *Client) CreatePayout(ctx context.Context, req service.PayoutRequest) (*model.Payout, error) {
	idempotencyKey := ""
	if len(req.SourceIDs) > 0 {
		idempotencyKey = req.SourceIDs[0]
	}

	body := payoutRequest{
		IdempotencyKey:       idempotencyKey,
		RecipientID:          req.RecipientID,
		DestinationAccountID: req.DestinationAccountID,
		Amount:               req.Amount.StringFixed(2),
		Currency:             req.Currency,
		SourceIDs:            req.SourceIDs,
	}

	var resp payoutResponse
	if err := c.do(ctx, http.MethodPost, "/v1/payouts", body, &resp); err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(resp.Amount)
	if err != nil {
		return nil, common.NewExternalServiceError(serviceName,
			fmt.Errorf("invalid amount %q in payout response: %w", resp.Amount, err))
	}

	return &model.Payout{
		ID:            resp.ID,
		RecipientID:   resp.RecipientID,
		BankAccountID: resp.AccountID,
		Amount:        amount,
		Currency:      resp.Currency,
		Status:        model.PayoutStatus(resp.Status),
		SourceIDs:     req.SourceIDs,
		CreatedAt:     time.Unix(resp.CreatedAt, 0).UTC(),
	}, nil
}

// GetPayoutStatus returns the rail's current view of a transfer.
func (c *Client) GetPayoutStatus(ctx context.Context, payoutID string) (model.PayoutStatus, error) {
	var resp payoutResponse
	if err := c.do(ctx, http.MethodGet, "/v1/payouts/"+url.PathEscape(payoutID), nil, &resp); err != nil {
		return "", err
	}
	return model.PayoutStatus(resp.Status), nil
}

// GetAccount implements service.AccountRegistry.
func (c *Client) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var resp accountResponse
	if err := c.do(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &model.Account{
		ID:       resp.ID,
		OwnerID:  resp.OwnerID,
		Verified: resp.Verified,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network failures are worth retrying.
		return common.NewRetryableError(common.NewExternalServiceError(serviceName, err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return c.apiError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return common.NewExternalServiceError(serviceName,
				fmt.Errorf("failed to decode response: %w", err))
		}
	}

	return nil
}

// apiError maps HTTP failures: 5xx and 429 are retryable, 4xx are not.
func (c *Client) apiError(resp *http.Response) error {
	var apiErr errorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(data, &apiErr)

	msg := apiErr.Message
	if msg == "" {
		msg = string(data)
	}

	err := common.NewExternalServiceError(serviceName,
		fmt.Errorf("status %d: %s", resp.StatusCode, msg))

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return common.NewRetryableError(err)
	}
	return err
}
