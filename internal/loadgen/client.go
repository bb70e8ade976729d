package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/okian/scoreboard/internal/domain/model"
	"github.com/okian/scoreboard/internal/domain/types"
	"github.com/okian/scoreboard/internal/retry"
)

// errThrottled marks a 429 response; the submission is retried.
var errThrottled = errors.New("throttled")

// errServer marks a 5xx response; the submission is retried.
var errServer = errors.New("server error")

// Client talks to the scoreboard HTTP API.
type Client struct {
	http    *http.Client
	baseURL string
	retrier *retry.Retrier
}

// NewClient creates a client with the given request timeout.
func NewClient(baseURL string, timeout time.Duration, retrier *retry.Retrier) *Client {
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
		retrier: retrier,
	}
}

// Health checks GET /healthz.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service health check failed with status: %d", resp.StatusCode)
	}
	return nil
}

// SaveScore submits one score, retrying throttled and 5xx responses. It
// reports how many of the attempts were throttled.
func (c *Client) SaveScore(ctx context.Context, id model.Identity, name string, score int64) (int, error) {
	body, err := json.Marshal(types.SaveScoreRequest{UserID: &id, Username: &name, Score: &score})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request body: %w", err)
	}

	throttled := 0
	retryable := func(err error) bool { return errors.Is(err, errThrottled) || errors.Is(err, errServer) }
	_, err = c.retrier.Do(ctx, "loadgen.save_score", retryable, func(ctx context.Context, _ int) error {
		err := c.postScore(ctx, body)
		if errors.Is(err, errThrottled) {
			throttled++
		}
		return err
	})
	return throttled, err
}

func (c *Client) postScore(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/save_score", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errServer, err)
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return errThrottled
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d: %s", errServer, resp.StatusCode, bytes.TrimSpace(payload))
	default:
		return fmt.Errorf("save_score rejected with status %d: %s", resp.StatusCode, bytes.TrimSpace(payload))
	}
}

// Leaderboard fetches the top limit records.
func (c *Client) Leaderboard(ctx context.Context, limit int) (types.LeaderboardResponse, error) {
	var out types.LeaderboardResponse

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/get_leaderboard_with_rank?"+q.Encode(), nil)
	if err != nil {
		return out, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return out, fmt.Errorf("failed to fetch leaderboard: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("leaderboard request failed with status: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("failed to decode leaderboard: %w", err)
	}
	return out, nil
}
