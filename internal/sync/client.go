package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SyncRequest is the outbound payload for one order, one attempt. The same
// idempotency key is submitted on every attempt so the cloud can deduplicate
// retried submissions.
type SyncRequest struct {
	LocalOrderID   string        `json:"localOrderId"`
	StoreID        string        `json:"storeId"`
	CreatedAt      time.Time     `json:"createdAt"`
	IdempotencyKey string        `json:"idempotencyKey"`
	OrderData      SyncOrderData `json:"orderData"`
}

// SyncOrderData is the order snapshot embedded in a sync request.
type SyncOrderData struct {
	OrderNumber   string     `json:"orderNumber"`
	CustomerName  string     `json:"customerName,omitempty"`
	CustomerPhone string     `json:"customerPhone,omitempty"`
	OrderType     string     `json:"orderType"`
	Status        string     `json:"status"`
	Subtotal      string     `json:"subtotal"`
	TaxAmount     string     `json:"taxAmount"`
	Discount      string     `json:"discount"`
	Total         string     `json:"total"`
	PaymentStatus string     `json:"paymentStatus"`
	PaymentMethod string     `json:"paymentMethod,omitempty"`
	AmountPaid    string     `json:"amountPaid,omitempty"`
	Items         []SyncItem `json:"items"`
}

// SyncItem is one order line in a sync request.
type SyncItem struct {
	ItemRef    string `json:"itemRef"`
	Name       string `json:"name"`
	Quantity   int32  `json:"quantity"`
	UnitPrice  string `json:"unitPrice"`
	TotalPrice string `json:"totalPrice"`
	Notes      string `json:"notes,omitempty"`
}

type syncResponse struct {
	RemoteOrderID string `json:"remoteOrderId"`
}

// CloudClient submits order snapshots to the cloud sync endpoint.
type CloudClient struct {
	url     string
	apiKey  string
	storeID string
	client  *http.Client
}

// NewCloudClient posts to baseURL + "/sync/orders" with the store's bearer
// credential. timeout bounds each individual attempt.
func NewCloudClient(baseURL, apiKey, storeID string, timeout time.Duration) *CloudClient {
	return &CloudClient{
		url:     baseURL + "/sync/orders",
		apiKey:  apiKey,
		storeID: storeID,
		client:  &http.Client{Timeout: timeout},
	}
}

// Submit pushes one order snapshot upstream and returns the remote order id.
// Any non-2xx response is a failed attempt; the caller owns retry policy.
func (c *CloudClient) Submit(ctx context.Context, req SyncRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal sync request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build sync request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("X-Store-ID", c.storeID)
	httpReq.Header.Set("X-POS-Terminal", "true")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sync request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		// Drain a little of the body for the log line; upstream error pages
		// can be arbitrarily large.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("sync request: status %d: %s", resp.StatusCode, snippet)
	}

	var parsed syncResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode sync response: %w", err)
	}
	if parsed.RemoteOrderID == "" {
		return "", fmt.Errorf("sync response missing remote order id")
	}
	return parsed.RemoteOrderID, nil
}
