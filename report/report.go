package report

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/probekit/mailprobe/model"
)

// Push URLs carry a per-monitor secret token, so they are never logged.

const (
	maxMsgLen   = 200
	pushTimeout = 10 * time.Second
)

// Client reports probe outcomes to a health-push endpoint with a single
// HTTP GET per outcome. A push failure never changes the account's verdict
// or the process exit code.
type Client struct {
	http   *http.Client
	logger *slog.Logger
}

func NewClient(logger *slog.Logger) *Client {
	return &Client{
		http:   &http.Client{Timeout: pushTimeout},
		logger: logger,
	}
}

// Push issues the status GET with query parameters status (up|down), msg
// (truncated to 200 characters) and ping (integer milliseconds, when the
// send latency was measured).
func (c *Client) Push(ctx context.Context, pushURL string, outcome model.Outcome) error {
	u, err := url.Parse(pushURL)
	if err != nil {
		return fmt.Errorf("parse push url: %w", err)
	}

	status := "down"
	if outcome.Success {
		status = "up"
	}

	q := u.Query()
	q.Set("status", status)
	if outcome.Message != "" {
		q.Set("msg", truncate(outcome.Message, maxMsgLen))
	}
	if outcome.SendLatency != nil {
		q.Set("ping", strconv.FormatInt(outcome.SendLatency.Milliseconds(), 10))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("push status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("push endpoint returned %s", resp.Status)
	}

	c.logger.Info("reported health status", "account", outcome.Account, "status", status)
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
