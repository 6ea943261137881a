package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx answer from the API. Anything else returned by the
// client is a transport failure.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Body)
}

// IsAPIError reports whether err came back from the server rather than from
// the network.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// IsUnsent reports whether err happened before the request could reach the
// server, so replaying it cannot apply it twice. Timeouts and dropped
// connections after the dial are not unsent: the server may have applied
// the write.
func IsUnsent(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// SessionInput mirrors the session-complete request body.
type SessionInput struct {
	UserID          string   `json:"userId"`
	PuzzleNamespace string   `json:"puzzleNamespace,omitempty"`
	Themes          []string `json:"themes,omitempty"`
	DurationMs      int64    `json:"durationMs,omitempty"`
	RevealsUsed     int64    `json:"revealsUsed,omitempty"`
	Checks          int64    `json:"checks,omitempty"`
	WrongCells      int64    `json:"wrongCells,omitempty"`
	WordsCount      int64    `json:"wordsCount,omitempty"`
	LettersCount    int64    `json:"lettersCount,omitempty"`
	PuzzleScore     *int64   `json:"puzzleScore,omitempty"`
	CompletedAt     int64    `json:"completedAt,omitempty"`
}

func (in SessionInput) Body() (map[string]any, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SubmitSession(ctx context.Context, in SessionInput) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/session-complete", in, &out)
	return out, err
}

func (c *Client) UserStats(ctx context.Context, userID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/user-stats", map[string]any{"userId": userID}, &out)
	return out, err
}

func (c *Client) GlobalStats(ctx context.Context, timeseries bool, days int) (map[string]any, error) {
	body := map[string]any{"global": true}
	if timeseries {
		body["timeseries"] = true
		if days > 0 {
			body["days"] = days
		}
	}
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/user-stats", body, &out)
	return out, err
}

func (c *Client) GameGenerated(ctx context.Context, namespace string) (map[string]any, error) {
	body := map[string]any{}
	if namespace != "" {
		body["puzzleNamespace"] = namespace
	}
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/game-generated", body, &out)
	return out, err
}

func (c *Client) SetCooldowns(ctx context.Context, userID, namespace string, ids []string, ttlSeconds int64) error {
	body := map[string]any{"userId": userID, "ids": ids}
	if namespace != "" {
		body["puzzleNamespace"] = namespace
	}
	if ttlSeconds > 0 {
		body["ttlSeconds"] = ttlSeconds
	}
	return c.jsonRequest(ctx, http.MethodPost, "/cooldown-set", body, nil)
}

func (c *Client) GetCooldowns(ctx context.Context, userID, namespace string, ids []string) (map[string]any, error) {
	body := map[string]any{"userId": userID, "ids": ids}
	if namespace != "" {
		body["puzzleNamespace"] = namespace
	}
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/cooldown-get", body, &out)
	return out, err
}

func (c *Client) Do(ctx context.Context, method, path string, body map[string]any) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, method, path, body, &out)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
