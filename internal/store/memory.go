package store

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memEntry struct {
	str     string
	list    []string
	isList  bool
	expires time.Time
}

// Memory is a process-local KV. It backs tests and single-process
// development runs; its state is lost on exit.
type Memory struct {
	mu   sync.Mutex
	data map[string]*memEntry
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		data: make(map[string]*memEntry),
		now:  time.Now,
	}
}

// SetClock replaces the clock used for expiry checks.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) live(key string) *memEntry {
	e, ok := m.data[key]
	if !ok {
		return nil
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.data, key)
		return nil
	}
	return e
}

func (m *Memory) Get(_ context.Context, key string) (Value, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil {
		return Value{}, nil
	}
	if e.isList {
		return Value{}, ErrWrongType
	}
	return Present(e.str), nil
}

func (m *Memory) MGet(_ context.Context, keys ...string) ([]Value, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Value, len(keys))
	for i, k := range keys {
		// Like MGET, a list key reads as absent rather than failing the batch.
		if e := m.live(k); e != nil && !e.isList {
			out[i] = Present(e.str)
		}
	}
	return out, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = &memEntry{str: value}
	return nil
}

func (m *Memory) SetEX(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = &memEntry{str: value, expires: m.now().Add(ttl)}
	return nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.live(key); e != nil {
		e.expires = m.now().Add(ttl)
	}
	return nil
}

func (m *Memory) Incr(ctx context.Context, key string) (int64, error) {
	return m.IncrBy(ctx, key, 1)
}

func (m *Memory) IncrBy(_ context.Context, key string, by int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil {
		e = &memEntry{str: "0"}
		m.data[key] = e
	}
	if e.isList {
		return 0, ErrWrongType
	}
	cur, err := strconv.ParseInt(e.str, 10, 64)
	if err != nil {
		return 0, ErrNotInteger
	}
	next := cur + by
	if (by > 0 && next < cur) || (by < 0 && next > cur) {
		return 0, ErrNotInteger
	}
	e.str = strconv.FormatInt(next, 10)
	return next, nil
}

func (m *Memory) LPush(_ context.Context, key string, values ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil {
		e = &memEntry{isList: true}
		m.data[key] = e
	}
	if !e.isList {
		return 0, ErrWrongType
	}
	head := make([]string, 0, len(values)+len(e.list))
	for i := len(values) - 1; i >= 0; i-- {
		head = append(head, values[i])
	}
	e.list = append(head, e.list...)
	return int64(len(e.list)), nil
}

func (m *Memory) LTrim(_ context.Context, key string, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil {
		return nil
	}
	if !e.isList {
		return ErrWrongType
	}
	lo, hi, ok := listSpan(start, stop, int64(len(e.list)))
	if !ok {
		delete(m.data, key)
		return nil
	}
	e.list = append([]string(nil), e.list[lo:hi+1]...)
	return nil
}

func (m *Memory) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil {
		return []string{}, nil
	}
	if !e.isList {
		return nil, ErrWrongType
	}
	lo, hi, ok := listSpan(start, stop, int64(len(e.list)))
	if !ok {
		return []string{}, nil
	}
	return append([]string(nil), e.list[lo:hi+1]...), nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
