// Package store adapts a primitive key-value store (string keys, string
// values, atomic integer increments, capped lists) to the typed reads and
// writes the progress service needs. No multi-key transactions are assumed:
// every call is atomic on its own and nothing more.
package store

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotInteger = errors.New("value is not an integer or out of range")
	ErrWrongType  = errors.New("operation against a key holding the wrong kind of value")
)

// KV is the primitive surface every backend provides.
type KV interface {
	Get(ctx context.Context, key string) (Value, error)
	// MGet returns one Value per key, in request order.
	MGet(ctx context.Context, keys ...string) ([]Value, error)
	Set(ctx context.Context, key, value string) error
	SetEX(ctx context.Context, key, value string, ttl time.Duration) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	IncrBy(ctx context.Context, key string, by int64) (int64, error)
	LPush(ctx context.Context, key string, values ...string) (int64, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Value is one slot of a get-many reply.
type Value struct {
	Raw     string
	Present bool
}

func Present(raw string) Value {
	return Value{Raw: raw, Present: true}
}

// Int decodes a non-negative integer counter. Absent, malformed and
// negative values all decode to def.
func (v Value) Int(def int64) int64 {
	if !v.Present {
		return def
	}
	return ParseCount(v.Raw, def)
}

// Str returns the raw string and whether the key was present.
func (v Value) Str() (string, bool) {
	return v.Raw, v.Present
}

// ParseCount parses s as a non-negative integer, flooring decimal input.
func ParseCount(s string, def int64) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return def
		}
		return n
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > math.MaxInt64 {
		return def
	}
	return int64(math.Floor(f))
}

// Ints decodes every value of a get-many reply as a counter.
func Ints(values []Value, def int64) []int64 {
	out := make([]int64, len(values))
	for i, v := range values {
		out[i] = v.Int(def)
	}
	return out
}

// listSpan resolves inclusive Redis-style list indices against a list of
// length n. ok is false when the range selects nothing.
func listSpan(start, stop, n int64) (lo, hi int64, ok bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop, true
}
