// Package storetest holds the behaviour every store.KV backend must share.
package storetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raetsel/internal/store"
)

// Run exercises kv. Keys are namespaced per run so a shared database can be
// reused between runs.
func Run(t *testing.T, kv store.KV) {
	t.Helper()
	prefix := "t:" + strings.ReplaceAll(uuid.NewString(), "-", "") + ":"
	key := func(name string) string { return prefix + name }
	ctx := context.Background()

	t.Run("ping", func(t *testing.T) {
		require.NoError(t, kv.Ping(ctx))
	})

	t.Run("get absent", func(t *testing.T) {
		v, err := kv.Get(ctx, key("absent"))
		require.NoError(t, err)
		assert.False(t, v.Present)
		assert.Equal(t, int64(7), v.Int(7))
	})

	t.Run("set then get", func(t *testing.T) {
		require.NoError(t, kv.Set(ctx, key("s"), "20250806"))
		v, err := kv.Get(ctx, key("s"))
		require.NoError(t, err)
		assert.True(t, v.Present)
		assert.Equal(t, "20250806", v.Raw)

		require.NoError(t, kv.Set(ctx, key("s"), "2025-W32"))
		v, err = kv.Get(ctx, key("s"))
		require.NoError(t, err)
		assert.Equal(t, "2025-W32", v.Raw)
	})

	t.Run("mget keeps request order", func(t *testing.T) {
		require.NoError(t, kv.Set(ctx, key("m1"), "1"))
		require.NoError(t, kv.Set(ctx, key("m3"), "3"))
		got, err := kv.MGet(ctx, key("m1"), key("m2"), key("m3"))
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, store.Present("1"), got[0])
		assert.False(t, got[1].Present)
		assert.Equal(t, store.Present("3"), got[2])
		assert.Equal(t, []int64{1, 0, 3}, store.Ints(got, 0))
	})

	t.Run("incr creates and adds", func(t *testing.T) {
		n, err := kv.Incr(ctx, key("c"))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		n, err = kv.IncrBy(ctx, key("c"), 41)
		require.NoError(t, err)
		assert.Equal(t, int64(42), n)
		v, err := kv.Get(ctx, key("c"))
		require.NoError(t, err)
		assert.Equal(t, "42", v.Raw)
	})

	t.Run("incr rejects non integer", func(t *testing.T) {
		require.NoError(t, kv.Set(ctx, key("bad"), "abc"))
		_, err := kv.Incr(ctx, key("bad"))
		require.Error(t, err)
	})

	t.Run("concurrent increments are not lost", func(t *testing.T) {
		const workers = 25
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := kv.Incr(ctx, key("race")); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		v, err := kv.Get(ctx, key("race"))
		require.NoError(t, err)
		assert.Equal(t, int64(workers), v.Int(0))
	})

	t.Run("lpush puts newest first", func(t *testing.T) {
		for _, s := range []string{"a", "b", "c"} {
			_, err := kv.LPush(ctx, key("l"), s)
			require.NoError(t, err)
		}
		n, err := kv.LPush(ctx, key("l"), "d", "e")
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)

		got, err := kv.LRange(ctx, key("l"), 0, -1)
		require.NoError(t, err)
		assert.Equal(t, []string{"e", "d", "c", "b", "a"}, got)

		got, err = kv.LRange(ctx, key("l"), -2, -1)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "a"}, got)

		got, err = kv.LRange(ctx, key("l"), 1, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"d", "c"}, got)
	})

	t.Run("ltrim caps the list", func(t *testing.T) {
		for i := 0; i < 35; i++ {
			_, err := kv.LPush(ctx, key("cap"), fmt.Sprint(i))
			require.NoError(t, err)
			require.NoError(t, kv.LTrim(ctx, key("cap"), 0, 29))
		}
		got, err := kv.LRange(ctx, key("cap"), 0, -1)
		require.NoError(t, err)
		require.Len(t, got, 30)
		assert.Equal(t, "34", got[0])
		assert.Equal(t, "5", got[29])
	})

	t.Run("lrange absent is empty", func(t *testing.T) {
		got, err := kv.LRange(ctx, key("nolist"), 0, 9)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("setex and expire keep value readable", func(t *testing.T) {
		require.NoError(t, kv.SetEX(ctx, key("cd"), "1", time.Hour))
		v, err := kv.Get(ctx, key("cd"))
		require.NoError(t, err)
		assert.Equal(t, store.Present("1"), v)

		require.NoError(t, kv.Set(ctx, key("ex"), "1"))
		require.NoError(t, kv.Expire(ctx, key("ex"), time.Hour))
		v, err = kv.Get(ctx, key("ex"))
		require.NoError(t, err)
		assert.True(t, v.Present)

		require.NoError(t, kv.Expire(ctx, key("ex-missing"), time.Hour))
	})
}
