// Package cooldown remembers which puzzle items a player has seen recently
// so the generator can skip them until the cooldown expires.
package cooldown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"raetsel/internal/progress"
	"raetsel/internal/store"
)

const (
	DefaultTTL = 24 * time.Hour
	MaxTTL     = 30 * 24 * time.Hour
	MaxItems   = 200
)

var (
	ErrNoItems      = errors.New("ids[] required")
	ErrTooManyItems = fmt.Errorf("at most %d ids per request", MaxItems)
	ErrInvalidItem  = errors.New("ids must be non-empty and must not contain ':' or whitespace")
)

type Lookup struct {
	Cooled []string        `json:"cooled"`
	Map    map[string]bool `json:"map"`
}

type Service struct {
	kv  store.KV
	log *slog.Logger
}

func NewService(kv store.KV, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{kv: kv, log: logger}
}

// ClampTTL maps a requested ttl in seconds onto [1s, MaxTTL]; zero or less
// selects DefaultTTL.
func ClampTTL(seconds int64) time.Duration {
	if seconds <= 0 {
		return DefaultTTL
	}
	if seconds > int64(MaxTTL/time.Second) {
		return MaxTTL
	}
	return time.Duration(seconds) * time.Second
}

// Set puts every id of namespace on cooldown for userID.
func (s *Service) Set(ctx context.Context, userID, namespace string, ids []string, ttlSeconds int64) error {
	keys, err := s.keys(userID, namespace, ids)
	if err != nil {
		return err
	}
	ttl := ClampTTL(ttlSeconds)

	var g errgroup.Group
	g.SetLimit(8)
	errs := make([]error, len(keys))
	for i, key := range keys {
		g.Go(func() error {
			errs[i] = s.kv.SetEX(ctx, key, "1", ttl)
			return nil
		})
	}
	_ = g.Wait()
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("set cooldowns: %w", err)
	}
	return nil
}

// Get reports which ids are still cooling down, with one get-many.
func (s *Service) Get(ctx context.Context, userID, namespace string, ids []string) (*Lookup, error) {
	keys, err := s.keys(userID, namespace, ids)
	if err != nil {
		return nil, err
	}
	vals, err := s.kv.MGet(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("read cooldowns: %w", err)
	}
	out := &Lookup{Cooled: []string{}, Map: make(map[string]bool, len(ids))}
	for i, v := range vals {
		id := strings.TrimSpace(ids[i])
		out.Map[id] = v.Present
		if v.Present {
			out.Cooled = append(out.Cooled, id)
		}
	}
	return out, nil
}

func (s *Service) keys(userID, namespace string, ids []string) ([]string, error) {
	userID, err := progress.ValidateUserID(userID)
	if err != nil {
		return nil, err
	}
	ns, err := progress.NormalizeNamespace(namespace)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNoItems
	}
	if len(ids) > MaxItems {
		return nil, ErrTooManyItems
	}
	if s.kv == nil {
		return nil, progress.ErrStoreUnavailable
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || strings.ContainsAny(id, ": \t\r\n") {
			return nil, ErrInvalidItem
		}
		keys[i] = "cd:" + userID + ":" + ns + ":" + id
	}
	return keys, nil
}
