package store

import (
	"context"
	"time"
)

// Observer receives the outcome of every store call.
type Observer interface {
	ObserveStoreOp(op string, elapsed time.Duration, err error)
}

type timeoutKV struct {
	next    KV
	timeout time.Duration
}

// WithTimeout bounds each call on next by d. A call that runs out of time
// fails with the context error; nothing is retried.
func WithTimeout(next KV, d time.Duration) KV {
	if d <= 0 {
		return next
	}
	return &timeoutKV{next: next, timeout: d}
}

func (t *timeoutKV) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.timeout)
}

func (t *timeoutKV) Get(ctx context.Context, key string) (Value, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.Get(ctx, key)
}

func (t *timeoutKV) MGet(ctx context.Context, keys ...string) ([]Value, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.MGet(ctx, keys...)
}

func (t *timeoutKV) Set(ctx context.Context, key, value string) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.Set(ctx, key, value)
}

func (t *timeoutKV) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.SetEX(ctx, key, value, ttl)
}

func (t *timeoutKV) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.Expire(ctx, key, ttl)
}

func (t *timeoutKV) Incr(ctx context.Context, key string) (int64, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.Incr(ctx, key)
}

func (t *timeoutKV) IncrBy(ctx context.Context, key string, by int64) (int64, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.IncrBy(ctx, key, by)
}

func (t *timeoutKV) LPush(ctx context.Context, key string, values ...string) (int64, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.LPush(ctx, key, values...)
}

func (t *timeoutKV) LTrim(ctx context.Context, key string, start, stop int64) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.LTrim(ctx, key, start, stop)
}

func (t *timeoutKV) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.LRange(ctx, key, start, stop)
}

func (t *timeoutKV) Ping(ctx context.Context) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.Ping(ctx)
}

func (t *timeoutKV) Close() error { return t.next.Close() }

type observedKV struct {
	next KV
	obs  Observer
}

// Instrument reports every call on next to obs.
func Instrument(next KV, obs Observer) KV {
	if obs == nil {
		return next
	}
	return &observedKV{next: next, obs: obs}
}

func (o *observedKV) done(op string, start time.Time, err error) {
	o.obs.ObserveStoreOp(op, time.Since(start), err)
}

func (o *observedKV) Get(ctx context.Context, key string) (Value, error) {
	start := time.Now()
	v, err := o.next.Get(ctx, key)
	o.done("get", start, err)
	return v, err
}

func (o *observedKV) MGet(ctx context.Context, keys ...string) ([]Value, error) {
	start := time.Now()
	out, err := o.next.MGet(ctx, keys...)
	o.done("mget", start, err)
	return out, err
}

func (o *observedKV) Set(ctx context.Context, key, value string) error {
	start := time.Now()
	err := o.next.Set(ctx, key, value)
	o.done("set", start, err)
	return err
}

func (o *observedKV) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	start := time.Now()
	err := o.next.SetEX(ctx, key, value, ttl)
	o.done("setex", start, err)
	return err
}

func (o *observedKV) Expire(ctx context.Context, key string, ttl time.Duration) error {
	start := time.Now()
	err := o.next.Expire(ctx, key, ttl)
	o.done("expire", start, err)
	return err
}

func (o *observedKV) Incr(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	n, err := o.next.Incr(ctx, key)
	o.done("incr", start, err)
	return n, err
}

func (o *observedKV) IncrBy(ctx context.Context, key string, by int64) (int64, error) {
	start := time.Now()
	n, err := o.next.IncrBy(ctx, key, by)
	o.done("incrby", start, err)
	return n, err
}

func (o *observedKV) LPush(ctx context.Context, key string, values ...string) (int64, error) {
	start := time.Now()
	n, err := o.next.LPush(ctx, key, values...)
	o.done("lpush", start, err)
	return n, err
}

func (o *observedKV) LTrim(ctx context.Context, key string, start, stop int64) error {
	began := time.Now()
	err := o.next.LTrim(ctx, key, start, stop)
	o.done("ltrim", began, err)
	return err
}

func (o *observedKV) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	began := time.Now()
	out, err := o.next.LRange(ctx, key, start, stop)
	o.done("lrange", began, err)
	return out, err
}

func (o *observedKV) Ping(ctx context.Context) error {
	start := time.Now()
	err := o.next.Ping(ctx)
	o.done("ping", start, err)
	return err
}

func (o *observedKV) Close() error { return o.next.Close() }
