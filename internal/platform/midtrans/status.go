package midtrans

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fatflowers/invoicing/internal/app/apperr"
	cfgpkg "github.com/fatflowers/invoicing/pkg/config"
)

const (
	sandboxBaseURL    = "https://api.sandbox.midtrans.com"
	productionBaseURL = "https://api.midtrans.com"
)

// StatusClient reads the current state of a transaction from the Midtrans
// Core API. signature_key covers order_id, status_code and gross_amount only,
// so a signed body replayed with another transaction_status still verifies;
// Confirm takes the status from here instead.
type StatusClient struct {
	baseURL   string
	serverKey string
	client    *http.Client
}

func NewStatusClient(cfg *cfgpkg.Config) *StatusClient {
	base := cfg.Midtrans.APIBaseURL
	if base == "" {
		base = sandboxBaseURL
		if cfg.Midtrans.IsProd {
			base = productionBaseURL
		}
	}
	return &StatusClient{
		baseURL:   strings.TrimRight(base, "/"),
		serverKey: cfg.Midtrans.ServerKey,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Status fetches GET /v2/{order_id}/status. Transport failures and 5xx
// answers are retryable; an order Midtrans does not know is an authenticity
// failure.
func (c *StatusClient) Status(ctx context.Context, orderID string) (*Notification, error) {
	endpoint := c.baseURL + "/v2/" + url.PathEscape(orderID) + "/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("midtrans: create status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.serverKey, "")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: midtrans status %s: %v", apperr.ErrTransientStorage, orderID, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: midtrans status %s: read body: %v", apperr.ErrTransientStorage, orderID, err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: midtrans status %s: http %d", apperr.ErrTransientStorage, orderID, resp.StatusCode)
	}

	var st Notification
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("%w: midtrans status %s: decode: %v", apperr.ErrTransientStorage, orderID, err)
	}
	// the API answers 200 with the error code in the body
	if resp.StatusCode == http.StatusNotFound || st.StatusCode == "404" || st.TransactionID == "" {
		return nil, fmt.Errorf("%w: midtrans: order %s unknown to the gateway", apperr.ErrAuthenticity, orderID)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: midtrans status %s: http %d", apperr.ErrTransientStorage, orderID, resp.StatusCode)
	}
	return &st, nil
}

// Confirm replaces the unsigned state fields of n with the gateway's current
// record of the transaction.
func (c *StatusClient) Confirm(ctx context.Context, n *Notification) (*Notification, error) {
	st, err := c.Status(ctx, n.OrderID)
	if err != nil {
		return nil, err
	}
	if st.TransactionID != n.TransactionID {
		return nil, fmt.Errorf("%w: midtrans: order %s belongs to transaction %s, not %s",
			apperr.ErrAuthenticity, n.OrderID, st.TransactionID, n.TransactionID)
	}
	out := *n
	out.TransactionStatus = st.TransactionStatus
	out.FraudStatus = st.FraudStatus
	if st.SettlementTime != "" {
		out.SettlementTime = st.SettlementTime
	}
	return &out, nil
}
