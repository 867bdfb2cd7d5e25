package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnauthorized reports a rejected bearer credential.
var ErrUnauthorized = errors.New("credential rejected")

const clientBodyLimit = 1 << 20 // 1 MiB

// APIClient talks to the entitlement service over HTTP. It implements
// StatusVerifier and CheckoutTransport.
type APIClient struct {
	baseURL string
	httpc   *http.Client
}

// NewAPIClient returns a client for the service at baseURL.
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

// CheckSubscription calls the subscription-check endpoint.
func (c *APIClient) CheckSubscription(ctx context.Context, token string) (SubscriptionStatus, error) {
	body, err := c.call(ctx, http.MethodGet, "/api/subscription/check", token)
	if err != nil {
		return DefaultStatus(), err
	}

	var status SubscriptionStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return DefaultStatus(), fmt.Errorf("decode subscription status: %w", err)
	}
	return status, nil
}

// CreateCheckoutSession calls the checkout creation endpoint and returns
// the raw payload.
func (c *APIClient) CreateCheckoutSession(ctx context.Context, token string) ([]byte, error) {
	return c.call(ctx, http.MethodPost, "/api/checkout/session", token)
}

// OpenCustomerPortal calls the customer portal endpoint and returns the
// raw payload.
func (c *APIClient) OpenCustomerPortal(ctx context.Context, token string) ([]byte, error) {
	return c.call(ctx, http.MethodPost, "/api/checkout/portal", token)
}

func (c *APIClient) call(ctx context.Context, method, path, token string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, clientBodyLimit))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		var payload urlPayload
		_ = json.Unmarshal(body, &payload)
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Message: payload.Error}
	}
	return body, nil
}
