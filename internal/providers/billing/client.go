// Package billing checks the remaining credit behind the gateway credential.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vivagen/internal/infra"
)

// Options configures the billing client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
}

// Client queries the gateway's billing endpoints.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// dollars tolerates gateways that quote numeric fields as strings.
type dollars float64

func (d *dollars) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("billing: parse amount %q: %w", s, err)
	}
	*d = dollars(v)
	return nil
}

type subscriptionResponse struct {
	RemainingAmount *dollars `json:"remaining_amount"`
	Balance         *dollars `json:"balance"`
	HardLimitUSD    *dollars `json:"hard_limit_usd"`
}

type usageResponse struct {
	TotalUsage dollars `json:"total_usage"`
}

// NewClient constructs a billing client with sane defaults.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("billing: api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = infra.FixedBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: httpClient,
		now:        time.Now,
	}, nil
}

// RemainingBalance returns the remaining credit in dollars. Gateways expose
// the figure three different ways: a direct remaining_amount, a balance
// field, or a hard limit that must be reduced by usage over the last 90 days.
func (c *Client) RemainingBalance(ctx context.Context) (float64, error) {
	var sub subscriptionResponse
	if err := c.getJSON(ctx, c.baseURL+"/v1/dashboard/billing/subscription", &sub); err != nil {
		return 0, err
	}
	switch {
	case sub.RemainingAmount != nil:
		return float64(*sub.RemainingAmount), nil
	case sub.Balance != nil:
		return float64(*sub.Balance), nil
	case sub.HardLimitUSD != nil:
		total := float64(*sub.HardLimitUSD)
		used, err := c.usageDollars(ctx)
		if err != nil {
			// Usage endpoint absent on some gateways; report the hard limit.
			return total, nil
		}
		remaining := total - used
		if remaining < 0 {
			remaining = 0
		}
		return remaining, nil
	default:
		return 0, errors.New("billing: no balance figure in response")
	}
}

func (c *Client) usageDollars(ctx context.Context) (float64, error) {
	now := c.now()
	start := now.Add(-90 * 24 * time.Hour).Format("2006-01-02")
	end := now.Add(24 * time.Hour).Format("2006-01-02")
	endpoint := fmt.Sprintf("%s/v1/dashboard/billing/usage?start_date=%s&end_date=%s", c.baseURL, start, end)
	var usage usageResponse
	if err := c.getJSON(ctx, endpoint, &usage); err != nil {
		return 0, err
	}
	// total_usage is reported in cents.
	return float64(usage.TotalUsage) / 100, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("billing: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("billing: http request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("billing: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("billing: status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("billing: decode response: %w", err)
	}
	return nil
}
