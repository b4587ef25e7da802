package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/BillFox/internal/pkg/env"
)

const defaultAPIBaseURL = "https://api.payfox.io/v1"

// Client talks to the payment provider's REST API. It is consumed read-only
// for reconciliation; the provider stays the source of truth for billing.
type Client struct {
	APIKey     string
	APIBaseURL string

	HTTPClient *http.Client
}

// Subscription is the provider's subscription object as consumed here.
type Subscription struct {
	ID                 string `json:"id"`
	CustomerID         string `json:"customer"`
	Status             string `json:"status"`
	PriceID            string `json:"price_id"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
}

// Customer is the provider's customer object as consumed here.
type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// NewClientFromEnv builds a client from environment configuration. Provider
// calls are bounded to 30 seconds; the API is rate-limited so callers must
// keep in-flight requests bounded too.
func NewClientFromEnv() *Client {
	return &Client{
		APIKey:     strings.TrimSpace(env.GetEnv("PROVIDER_API_KEY", "")),
		APIBaseURL: strings.TrimSpace(env.GetEnv("PROVIDER_API_BASE_URL", defaultAPIBaseURL)),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// PeriodBounds converts the unix period timestamps into times, nil when unset.
func (s *Subscription) PeriodBounds() (start, end *time.Time) {
	if s.CurrentPeriodStart > 0 {
		t := time.Unix(s.CurrentPeriodStart, 0).UTC()
		start = &t
	}
	if s.CurrentPeriodEnd > 0 {
		t := time.Unix(s.CurrentPeriodEnd, 0).UTC()
		end = &t
	}
	return start, end
}

// GetSubscription fetches the authoritative subscription object.
func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	id := strings.TrimSpace(subscriptionID)
	if id == "" {
		return nil, errors.New("subscription id is required")
	}

	var sub Subscription
	if err := c.get(ctx, "/subscriptions/"+url.PathEscape(id), &sub); err != nil {
		return nil, err
	}
	if strings.TrimSpace(sub.ID) == "" {
		return nil, errors.New("provider subscription response missing id")
	}
	return &sub, nil
}

// GetCustomer fetches the authoritative customer object.
func (c *Client) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	id := strings.TrimSpace(customerID)
	if id == "" {
		return nil, errors.New("customer id is required")
	}

	var cust Customer
	if err := c.get(ctx, "/customers/"+url.PathEscape(id), &cust); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cust.ID) == "" {
		return nil, errors.New("provider customer response missing id")
	}
	return &cust, nil
}

// ListSubscriptions fetches a page of subscriptions for diagnostics.
func (c *Client) ListSubscriptions(ctx context.Context, limit int) ([]Subscription, error) {
	if limit <= 0 {
		limit = 10
	}

	var out struct {
		Data []Subscription `json:"data"`
	}
	path := "/subscriptions?limit=" + strconv.Itoa(limit)
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Ping performs a cheap read call as a connectivity probe.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ListSubscriptions(ctx, 1)
	return err
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("PROVIDER_API_KEY is not configured")
	}

	baseURL := strings.TrimRight(c.APIBaseURL, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider request failed: path=%s status=%d body=%s", path, resp.StatusCode, string(body))
	}

	return json.Unmarshal(body, out)
}
