package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Upstash talks to an Upstash Redis REST endpoint. Each call is one
// command posted as a JSON array; the reply carries either "result" or
// "error".
type Upstash struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type upstashReply struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func NewUpstash(baseURL, token string) *Upstash {
	return &Upstash{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

func (c *Upstash) Get(ctx context.Context, key string) (Value, error) {
	var out *string
	if err := c.command(ctx, &out, "GET", key); err != nil {
		return Value{}, err
	}
	if out == nil {
		return Value{}, nil
	}
	return Present(*out), nil
}

func (c *Upstash) MGet(ctx context.Context, keys ...string) ([]Value, error) {
	if len(keys) == 0 {
		return []Value{}, nil
	}
	args := make([]any, 0, len(keys)+1)
	args = append(args, "MGET")
	for _, k := range keys {
		args = append(args, k)
	}
	var raw []*string
	if err := c.command(ctx, &raw, args...); err != nil {
		return nil, err
	}
	if len(raw) != len(keys) {
		return nil, fmt.Errorf("upstash mget: got %d values for %d keys", len(raw), len(keys))
	}
	out := make([]Value, len(keys))
	for i, v := range raw {
		if v != nil {
			out[i] = Present(*v)
		}
	}
	return out, nil
}

func (c *Upstash) Set(ctx context.Context, key, value string) error {
	return c.command(ctx, nil, "SET", key, value)
}

func (c *Upstash) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.command(ctx, nil, "SET", key, value, "EX", ttlSeconds(ttl))
}

func (c *Upstash) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.command(ctx, nil, "EXPIRE", key, ttlSeconds(ttl))
}

func (c *Upstash) Incr(ctx context.Context, key string) (int64, error) {
	var n int64
	err := c.command(ctx, &n, "INCR", key)
	return n, err
}

func (c *Upstash) IncrBy(ctx context.Context, key string, by int64) (int64, error) {
	var n int64
	err := c.command(ctx, &n, "INCRBY", key, by)
	return n, err
}

func (c *Upstash) LPush(ctx context.Context, key string, values ...string) (int64, error) {
	args := make([]any, 0, len(values)+2)
	args = append(args, "LPUSH", key)
	for _, v := range values {
		args = append(args, v)
	}
	var n int64
	err := c.command(ctx, &n, args...)
	return n, err
}

func (c *Upstash) LTrim(ctx context.Context, key string, start, stop int64) error {
	return c.command(ctx, nil, "LTRIM", key, start, stop)
}

func (c *Upstash) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	var out []string
	if err := c.command(ctx, &out, "LRANGE", key, start, stop); err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func (c *Upstash) Ping(ctx context.Context) error {
	return c.command(ctx, nil, "PING")
}

func (c *Upstash) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Upstash) command(ctx context.Context, out any, args ...any) error {
	op := strings.ToLower(fmt.Sprint(args[0]))
	body, err := json.Marshal(args)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upstash %s: %w", op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("upstash %s: read body: %w", op, err)
	}
	var reply upstashReply
	if jerr := json.Unmarshal(raw, &reply); jerr != nil || resp.StatusCode >= 300 {
		if reply.Error != "" {
			return fmt.Errorf("upstash %s status %d: %s", op, resp.StatusCode, reply.Error)
		}
		if resp.StatusCode >= 300 {
			return fmt.Errorf("upstash %s status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		return fmt.Errorf("upstash %s: decode reply: %w", op, jerr)
	}
	if reply.Error != "" {
		return fmt.Errorf("upstash %s: %s", op, reply.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(reply.Result, out); err != nil {
		return fmt.Errorf("upstash %s: decode result: %w", op, err)
	}
	return nil
}

func ttlSeconds(ttl time.Duration) int64 {
	s := int64(ttl / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}
