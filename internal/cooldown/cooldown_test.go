package cooldown

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raetsel/internal/progress"
	"raetsel/internal/store"
)

func TestSetThenGet(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 8, 6, 12, 0, 0, 0, time.UTC)
	kv := store.NewMemory()
	kv.SetClock(func() time.Time { return now })
	svc := NewService(kv, nil)

	require.NoError(t, svc.Set(ctx, "u1", "", []string{"101", "102"}, 0))
	require.NoError(t, svc.Set(ctx, "u1", "history", []string{"103"}, 60))

	got, err := svc.Get(ctx, "u1", "classic", []string{"101", "103", " 102 "})
	require.NoError(t, err)
	assert.Equal(t, []string{"101", "102"}, got.Cooled)
	assert.Equal(t, map[string]bool{"101": true, "103": false, "102": true}, got.Map)

	now = now.Add(2 * time.Minute)
	got, err = svc.Get(ctx, "u1", "history", []string{"103"})
	require.NoError(t, err)
	assert.Empty(t, got.Cooled)

	now = now.Add(24 * time.Hour)
	got, err = svc.Get(ctx, "u1", "classic", []string{"101"})
	require.NoError(t, err)
	assert.False(t, got.Map["101"])
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	svc := NewService(store.NewMemory(), nil)

	assert.ErrorIs(t, svc.Set(ctx, "", "", []string{"1"}, 0), progress.ErrMissingUserID)
	assert.ErrorIs(t, svc.Set(ctx, "u1", "", nil, 0), ErrNoItems)
	assert.ErrorIs(t, svc.Set(ctx, "u1", "", []string{"a:b"}, 0), ErrInvalidItem)
	assert.ErrorIs(t, svc.Set(ctx, "u1", "Bad NS", []string{"1"}, 0), progress.ErrInvalidNamespace)

	many := strings.Split(strings.Repeat("x,", MaxItems+1), ",")
	_, err := svc.Get(ctx, "u1", "", many)
	assert.ErrorIs(t, err, ErrTooManyItems)
}

func TestClampTTL(t *testing.T) {
	assert.Equal(t, DefaultTTL, ClampTTL(0))
	assert.Equal(t, DefaultTTL, ClampTTL(-5))
	assert.Equal(t, 90*time.Second, ClampTTL(90))
	assert.Equal(t, MaxTTL, ClampTTL(1<<40))
}
