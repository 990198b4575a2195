package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/metrifyhq/metrify_backend/config"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	maxRetries       = 3
	baseBackoff      = time.Second
	maxBackoff       = 10 * time.Second
	defaultRateDelay = 5 * time.Second
	lowCreditDelay   = 2 * time.Second
	interPageDelay   = 100 * time.Millisecond

	// lowCreditFraction is the remaining-throttle-credit share below which
	// the client sheds load before the platform hard-throttles it.
	lowCreditFraction = 0.2
)

// Client executes GraphQL operations against the commerce platform under a
// shared rate limiter with bounded retry. Construct one per process and pass
// it by reference; the limiter channel is the single concurrency slot, so
// submission order is service order.
type Client struct {
	endpoint    string
	accessToken string
	http        *http.Client
	limiter     <-chan time.Time
	logger      *logrus.Logger

	// sleep is swapped out by tests.
	sleep func(time.Duration)
}

func NewClient(cfg config.ShopifyConfig, logger *logrus.Logger) *Client {
	rate := cfg.RateLimit
	if rate <= 0 {
		rate = 2
	}
	endpoint := fmt.Sprintf("https://%s/admin/api/%s/graphql.json",
		strings.TrimSuffix(cfg.Host, "/"), cfg.APIVersion)

	return &Client{
		endpoint:    endpoint,
		accessToken: cfg.AccessToken,
		http:        &http.Client{Timeout: 30 * time.Second},
		limiter:     time.Tick(time.Second / time.Duration(rate)),
		logger:      logger,
		sleep:       time.Sleep,
	}
}

// Execute runs one GraphQL operation. Classification per attempt:
// 429 sleeps Retry-After (default 5s) and retries; other 4xx and GraphQL
// access denials abort immediately; transport/5xx failures retry with
// exponential backoff (1s base, 10s cap, 3 retries) before propagating.
// Non-fatal GraphQL errors come back in-band on the response.
func (c *Client) Execute(ctx context.Context, query string, variables map[string]interface{}) (*GraphQLResponse, error) {
	select {
	case <-c.limiter:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			var rl *RateLimitedError
			if errors.As(lastErr, &rl) {
				delay := defaultRateDelay
				if rl.RetryAfterSeconds > 0 {
					delay = time.Duration(rl.RetryAfterSeconds) * time.Second
				}
				c.logger.WithField("delay", delay.String()).Warn("rate limited by platform, waiting")
				c.sleep(delay)
			} else {
				c.sleep(backoffDelay(attempt))
			}
			c.logger.WithFields(logrus.Fields{
				"attempt":     attempt + 1,
				"retriesLeft": maxRetries - attempt,
			}).Warn("retrying query: " + lastErr.Error())
		}

		resp, err := c.post(ctx, query, variables)
		if err != nil {
			var ce *ClientError
			if errors.As(err, &ce) {
				return nil, err
			}
			var pd *PermissionDeniedError
			if errors.As(err, &pd) {
				return nil, err
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		c.observeThrottle(resp)
		return resp, nil
	}
	return nil, lastErr
}

func (c *Client) post(ctx context.Context, query string, variables map[string]interface{}) (*GraphQLResponse, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 0
		if v := resp.Header.Get("Retry-After"); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				retryAfter = n
			}
		}
		return nil, &RateLimitedError{RetryAfterSeconds: retryAfter}
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, &ClientError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("platform api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed GraphQLResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}

	if len(parsed.Errors) > 0 {
		first := parsed.Errors[0]
		c.logger.WithField("error", first.Message).Error("graphql query error")
		if isAccessDenied(first.Message) {
			return nil, &PermissionDeniedError{Message: first.Message}
		}
	}
	return &parsed, nil
}

// observeThrottle proactively slows down when the remaining throttle credit
// drops below 20% of maximum.
func (c *Client) observeThrottle(resp *GraphQLResponse) {
	if resp.Extensions == nil || resp.Extensions.Cost == nil {
		return
	}
	ts := resp.Extensions.Cost.ThrottleStatus
	c.logger.WithFields(logrus.Fields{
		"available":   ts.CurrentlyAvailable,
		"maximum":     ts.MaximumAvailable,
		"restoreRate": ts.RestoreRate,
	}).Debug("platform api throttle status")

	if ts.MaximumAvailable > 0 && ts.CurrentlyAvailable < ts.MaximumAvailable*lowCreditFraction {
		c.logger.Warn("platform api rate limit approaching, throttling requests")
		c.sleep(lowCreditDelay)
	}
}

func backoffDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return baseBackoff
	}
	// base * 2^(attempt-1), capped.
	delay := baseBackoff << uint(attempt-1)
	if delay > maxBackoff {
		return maxBackoff
	}
	return delay
}

// MutateVariantPrice pushes a price to the platform. userErrors on the
// mutation payload are a RemoteMutationFailure: the caller skips the variant
// and moves on.
func (c *Client) MutateVariantPrice(ctx context.Context, variantGid string, price decimal.Decimal) error {
	variables := map[string]interface{}{
		"input": map[string]interface{}{
			"id":    variantGid,
			"price": price.StringFixed(2),
		},
	}

	resp, err := c.Execute(ctx, MutationUpdateVariantPrice, variables)
	if err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		return fmt.Errorf("price mutation failed: %s", resp.Errors[0].Message)
	}

	var result struct {
		ProductVariantUpdate struct {
			UserErrors []struct {
				Field   []string `json:"field"`
				Message string   `json:"message"`
			} `json:"userErrors"`
		} `json:"productVariantUpdate"`
	}
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return err
	}
	if len(result.ProductVariantUpdate.UserErrors) > 0 {
		return fmt.Errorf("price mutation rejected: %s", result.ProductVariantUpdate.UserErrors[0].Message)
	}
	return nil
}
