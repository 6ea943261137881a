package progress

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raetsel/internal/store"
)

var refNow = time.Date(2025, 8, 6, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, kv store.KV, opts Options) *Service {
	t.Helper()
	if opts.Now == nil {
		opts.Now = func() time.Time { return refNow }
	}
	svc, err := NewService(kv, nil, opts)
	require.NoError(t, err)
	return svc
}

// failingKV fails writes to keys containing any of the given fragments.
type failingKV struct {
	store.KV
	fragments []string
}

func (f *failingKV) fails(key string) bool {
	for _, frag := range f.fragments {
		if strings.Contains(key, frag) {
			return true
		}
	}
	return false
}

func (f *failingKV) IncrBy(ctx context.Context, key string, by int64) (int64, error) {
	if f.fails(key) {
		return 0, errors.New("connection reset")
	}
	return f.KV.IncrBy(ctx, key, by)
}

func (f *failingKV) Incr(ctx context.Context, key string) (int64, error) {
	if f.fails(key) {
		return 0, errors.New("connection reset")
	}
	return f.KV.Incr(ctx, key)
}

func (f *failingKV) Set(ctx context.Context, key, value string) error {
	if f.fails(key) {
		return errors.New("connection reset")
	}
	return f.KV.Set(ctx, key, value)
}

type countingRecorder struct {
	mu        sync.Mutex
	recorded  int
	failed    int
	aux       []string
	generated int
}

func (c *countingRecorder) SubmissionRecorded(string, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recorded++
}

func (c *countingRecorder) SubmissionFailed(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed += n
}

func (c *countingRecorder) AuxiliaryFailed(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aux = append(c.aux, name)
}

func (c *countingRecorder) GameGenerated(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generated++
}

func TestSubmitFirstSession(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	svc := newTestService(t, kv, Options{})

	res, err := svc.Submit(ctx, Submission{
		UserID:    "u1",
		Telemetry: Telemetry{DurationMs: 30_000, LettersCount: 60},
	})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "classic", res.Puzzle)
	assert.Equal(t, []string{}, res.Themes)
	assert.Equal(t, int64(92), res.Score)
	assert.Equal(t, int64(9), res.CoinsEarned)
	assert.Equal(t, SubmissionTotals{
		Completed:  1,
		DurationMs: 30_000,
		BestTimeMs: 30_000,
		TotalScore: 92,
		Coins:      9,
		Streak:     1,
		MaxStreak:  1,
	}, res.Totals)
	assert.Nil(t, res.Special)

	vals, err := kv.MGet(ctx, "usr:u1:lastDate", "usr:u1:letters", "games:completed", "games:completed:classic", "games:completed:2025-08-06", "games:completed:classic:2025-08-06")
	require.NoError(t, err)
	assert.Equal(t, "20250806", vals[0].Raw)
	assert.Equal(t, []int64{60, 1, 1, 1}, store.Ints(vals[1:], 0))

	v, err := kv.Get(ctx, "usr:u1:reveal")
	require.NoError(t, err)
	assert.False(t, v.Present, "zero sums are not written")
}

func TestSubmitValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, store.NewMemory(), Options{})

	_, err := svc.Submit(ctx, Submission{})
	assert.ErrorIs(t, err, ErrMissingUserID)
	_, err = svc.Submit(ctx, Submission{UserID: "a b"})
	assert.ErrorIs(t, err, ErrInvalidUserID)
	_, err = svc.Submit(ctx, Submission{UserID: "u1", Namespace: "bad:ns"})
	assert.ErrorIs(t, err, ErrInvalidNamespace)

	nilStore := newTestService(t, nil, Options{})
	_, err = nilStore.Submit(ctx, Submission{UserID: "u1"})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	_, err = nilStore.Submit(ctx, Submission{})
	assert.ErrorIs(t, err, ErrMissingUserID, "validation runs before the store is touched")
}

func TestSubmitStreakAcrossDays(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, store.NewMemory(), Options{})
	day := func(d int) time.Time { return time.Date(2025, 8, d, 9, 0, 0, 0, time.UTC) }

	steps := []struct {
		at        time.Time
		streak    int64
		maxStreak int64
	}{
		{at: day(1), streak: 1, maxStreak: 1},
		{at: day(1).Add(14 * time.Hour), streak: 1, maxStreak: 1},
		{at: day(2), streak: 2, maxStreak: 2},
		{at: day(3), streak: 3, maxStreak: 3},
		{at: day(6), streak: 1, maxStreak: 3},
		{at: day(7), streak: 2, maxStreak: 3},
	}
	for i, step := range steps {
		res, err := svc.Submit(ctx, Submission{UserID: "u1", CompletedAt: step.at})
		require.NoError(t, err)
		assert.Equal(t, step.streak, res.Totals.Streak, "step %d streak", i)
		assert.Equal(t, step.maxStreak, res.Totals.MaxStreak, "step %d max", i)
	}
}

func TestSubmitBestTime(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, store.NewMemory(), Options{})

	for _, d := range []int64{50_000, 0, 42_000, 61_000, 0} {
		_, err := svc.Submit(ctx, Submission{UserID: "u1", Telemetry: Telemetry{DurationMs: d}})
		require.NoError(t, err)
	}
	stats, err := svc.UserStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(42_000), stats.Totals.BestTimeMs)
	assert.Equal(t, int64(5), stats.Totals.Completed)
	assert.Equal(t, int64(153_000), stats.Totals.DurationMs)
	assert.Equal(t, int64(30_600), stats.Totals.AvgTimeMs)
}

func TestSubmitKeepsThirtyRecentScores(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	svc := newTestService(t, kv, Options{})

	for i := int64(1); i <= 32; i++ {
		score := (i * 10) % 101
		_, err := svc.Submit(ctx, Submission{UserID: "u1", ClientScore: &score})
		require.NoError(t, err)
	}
	all, err := kv.LRange(ctx, "usr:u1:scores", 0, -1)
	require.NoError(t, err)
	require.Len(t, all, RecentCapacity)
	for i, raw := range all {
		want := ((32 - int64(i)) * 10) % 101
		assert.Equal(t, want, store.ParseCount(raw, -1), "position %d", i)
	}

	stats, err := svc.UserStats(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, stats.Recent.LastScores, RecentShown)
	assert.Equal(t, store.ParseCount(all[0], 0), stats.Recent.LastScores[0])
}

func TestSubmitWeeklySpecial(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	svc := newTestService(t, kv, Options{})

	res, err := svc.Submit(ctx, Submission{UserID: "u1", Namespace: "history", CompletedAt: refNow})
	require.NoError(t, err)
	require.Contains(t, res.Special, "history")
	assert.Equal(t, "2025-W32", res.Special["history"].WeekKey)

	res, err = svc.Submit(ctx, Submission{UserID: "u2", Themes: []string{"animals", "history"}, CompletedAt: refNow})
	require.NoError(t, err)
	assert.Equal(t, "classic", res.Puzzle)
	assert.Equal(t, "2025-W32", res.Special["history"].WeekKey)

	// Theme matching is exact.
	res, err = svc.Submit(ctx, Submission{UserID: "u4", Themes: []string{"History"}, CompletedAt: refNow})
	require.NoError(t, err)
	assert.Nil(t, res.Special)

	stats, err := svc.UserStats(ctx, "u1")
	require.NoError(t, err)
	status := stats.Special["history"]
	assert.True(t, status.ThisWeek)
	assert.Equal(t, "2025-W32", status.WeekKey)
	require.NotNil(t, status.LastWeek)
	assert.Equal(t, "2025-W32", *status.LastWeek)

	stats, err = svc.UserStats(ctx, "u3")
	require.NoError(t, err)
	assert.False(t, stats.Special["history"].ThisWeek)
	assert.Nil(t, stats.Special["history"].LastWeek)
}

func TestWeeklySpecialExpiresNextWeek(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	now := refNow
	svc := newTestService(t, kv, Options{Now: func() time.Time { return now }})

	_, err := svc.Submit(ctx, Submission{UserID: "u1", Namespace: "history"})
	require.NoError(t, err)

	// Sunday 2025-08-10 23:30 Berlin is still week 32; 00:30 Monday is not.
	now = time.Date(2025, 8, 10, 21, 30, 0, 0, time.UTC)
	stats, err := svc.UserStats(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, stats.Special["history"].ThisWeek)

	now = time.Date(2025, 8, 10, 22, 30, 0, 0, time.UTC)
	stats, err = svc.UserStats(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, stats.Special["history"].ThisWeek)
	assert.Equal(t, "2025-W33", stats.Special["history"].WeekKey)
}

func TestSubmitPrimaryFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	rec := &countingRecorder{}
	svc := newTestService(t, &failingKV{KV: mem, fragments: []string{":scoreTotal"}}, Options{Recorder: rec})

	res, err := svc.Submit(ctx, Submission{UserID: "u1", Telemetry: Telemetry{DurationMs: 30_000}})
	require.Error(t, err)
	assert.Nil(t, res)
	var mutErr *MutationError
	require.ErrorAs(t, err, &mutErr)
	assert.Equal(t, 1, mutErr.Failed)
	assert.Contains(t, err.Error(), "score_total")

	// Writes that succeeded are not rolled back.
	v, err := mem.Get(ctx, "usr:u1:completed")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.Int(0))
	assert.Equal(t, 1, rec.failed)
	assert.Zero(t, rec.recorded)
}

func TestSubmitSwallowsAuxiliaryFailures(t *testing.T) {
	ctx := context.Background()
	rec := &countingRecorder{}
	kv := &failingKV{KV: store.NewMemory(), fragments: []string{":2025-08-06", ":lastThemes"}}
	svc := newTestService(t, kv, Options{Recorder: rec})

	res, err := svc.Submit(ctx, Submission{UserID: "u1", Themes: []string{"animals"}, CompletedAt: refNow})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Totals.Completed)
	assert.ElementsMatch(t, []string{"day_completed", "namespace_day_completed", "last_themes"}, rec.aux)
	assert.Equal(t, 1, rec.recorded)
}

func TestSubmitStreakWriteIsPrimary(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, &failingKV{KV: store.NewMemory(), fragments: []string{":streak", ":special:"}}, Options{})

	_, err := svc.Submit(ctx, Submission{UserID: "u1", Namespace: "history"})
	var mutErr *MutationError
	require.ErrorAs(t, err, &mutErr)
	assert.Equal(t, 2, mutErr.Failed)
}

func TestSubmitReadFailure(t *testing.T) {
	svc := newTestService(t, brokenReads{store.NewMemory()}, Options{})
	_, err := svc.Submit(context.Background(), Submission{UserID: "u1"})
	require.Error(t, err)
	var mutErr *MutationError
	assert.False(t, errors.As(err, &mutErr))
	assert.Contains(t, err.Error(), "read aggregates")
}

type brokenReads struct{ store.KV }

func (brokenReads) MGet(context.Context, ...string) ([]store.Value, error) {
	return nil, errors.New("upstash mget status 401: Unauthorized")
}

func TestConcurrentSubmissionsKeepCounters(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, store.NewMemory(), Options{SerializePerUser: true})

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Submit(ctx, Submission{UserID: "u1", Telemetry: Telemetry{DurationMs: 3_000}})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stats, err := svc.UserStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(n), stats.Totals.Completed)
	assert.Equal(t, int64(n*99), stats.Totals.TotalScore)
	assert.Equal(t, int64(n*9), stats.Totals.Coins)
	assert.Equal(t, int64(1), stats.Totals.Streak)

	global, err := svc.GlobalStats(ctx, false, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(n), global.Completed)
}

func TestMonotonicTotalsProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 50
	properties := gopter.NewProperties(params)

	properties.Property("totals never decrease", prop.ForAll(
		func(durations []int64) bool {
			ctx := context.Background()
			svc, err := NewService(store.NewMemory(), nil, Options{Now: func() time.Time { return refNow }})
			if err != nil {
				return false
			}
			var prev SubmissionTotals
			var prevGlobal int64
			for i, d := range durations {
				res, err := svc.Submit(ctx, Submission{
					UserID:      "p1",
					Telemetry:   Telemetry{DurationMs: d, WrongCells: int64(i)},
					CompletedAt: refNow.Add(time.Duration(i) * 20 * time.Hour),
				})
				if err != nil {
					return false
				}
				cur := res.Totals
				if cur.Completed < prev.Completed || cur.TotalScore < prev.TotalScore ||
					cur.Coins < prev.Coins || cur.DurationMs < prev.DurationMs ||
					cur.Streak > cur.MaxStreak || cur.MaxStreak < prev.MaxStreak {
					return false
				}
				if prev.BestTimeMs > 0 && cur.BestTimeMs > prev.BestTimeMs {
					return false
				}
				g, err := svc.GlobalStats(ctx, false, 0)
				if err != nil || g.Completed < prevGlobal {
					return false
				}
				prev, prevGlobal = cur, g.Completed
			}
			return true
		},
		gen.SliceOfN(12, gen.Int64Range(0, 400_000)),
	))

	properties.TestingRun(t)
}

func TestRecordGeneratedAndGlobalStats(t *testing.T) {
	ctx := context.Background()
	rec := &countingRecorder{}
	svc := newTestService(t, store.NewMemory(), Options{Recorder: rec})

	yesterday := refNow.Add(-24 * time.Hour)
	for _, call := range []struct {
		ns string
		at time.Time
	}{
		{"classic", refNow}, {"classic", yesterday}, {"history", refNow}, {"", refNow},
	} {
		_, err := svc.RecordGenerated(ctx, call.ns, call.at)
		require.NoError(t, err)
	}
	_, err := svc.Submit(ctx, Submission{UserID: "u1", Namespace: "history", CompletedAt: refNow})
	require.NoError(t, err)
	_, err = svc.Submit(ctx, Submission{UserID: "u1", CompletedAt: yesterday})
	require.NoError(t, err)
	assert.Equal(t, 4, rec.generated)

	g, err := svc.GlobalStats(ctx, true, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(4), g.Generated)
	assert.Equal(t, int64(2), g.Completed)
	assert.Equal(t, NamespaceCounter{Generated: 3, Completed: 1}, g.ByNamespace["classic"])
	assert.Equal(t, NamespaceCounter{Generated: 1, Completed: 1}, g.ByNamespace["history"])

	require.NotNil(t, g.Timeseries)
	assert.Equal(t, []string{"2025-08-04", "2025-08-05", "2025-08-06"}, g.Timeseries.Days)
	assert.Len(t, g.Timeseries.Series, 6)
	assert.Equal(t, []int64{0, 1, 3}, g.Timeseries.Series["generated"])
	assert.Equal(t, []int64{0, 1, 1}, g.Timeseries.Series["completed"])
	assert.Equal(t, []int64{0, 1, 2}, g.Timeseries.Series["generated:classic"])
	assert.Equal(t, []int64{0, 0, 1}, g.Timeseries.Series["generated:history"])
	assert.Equal(t, []int64{0, 1, 0}, g.Timeseries.Series["completed:classic"])
	assert.Equal(t, []int64{0, 0, 1}, g.Timeseries.Series["completed:history"])

	plain, err := svc.GlobalStats(ctx, false, 3)
	require.NoError(t, err)
	assert.Nil(t, plain.Timeseries)
}

func TestClampSeriesDays(t *testing.T) {
	for in, want := range map[int]int{-3: DefaultSeriesDays, 0: DefaultSeriesDays, 1: 1, 30: 30, 31: 30, 365: 30} {
		assert.Equal(t, want, ClampSeriesDays(in), "days=%d", in)
	}
}

func TestUserStatsAverages(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, store.NewMemory(), Options{})
	for _, score := range []int64{90, 85, 70} {
		s := score
		_, err := svc.Submit(ctx, Submission{UserID: "u9", ClientScore: &s, Themes: []string{"space", " "}, Telemetry: Telemetry{DurationMs: 1_000, RevealsUsed: 1}})
		require.NoError(t, err)
	}
	stats, err := svc.UserStats(ctx, "u9")
	require.NoError(t, err)
	assert.Equal(t, 81.67, stats.Recent.AvgScore)
	assert.Equal(t, []int64{70, 85, 90}, stats.Recent.LastScores)
	assert.Equal(t, int64(3), stats.Totals.RevealsUsed)
	assert.Equal(t, int64(9+8+7), stats.Totals.Coins)
	assert.Equal(t, []string{"space"}, stats.LastThemes)

	empty, err := svc.UserStats(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.Totals.AvgTimeMs)
	assert.Equal(t, 0.0, empty.Recent.AvgScore)
	assert.Empty(t, empty.Recent.LastScores)
	assert.NotNil(t, empty.Recent.LastScores)

	_, err = svc.UserStats(ctx, "")
	assert.ErrorIs(t, err, ErrMissingUserID)
}

// cancelOnRead cancels the caller's context as soon as the snapshot is read
// and, like the network backends, refuses writes on a cancelled context.
type cancelOnRead struct {
	store.KV
	cancel context.CancelFunc
}

func (c *cancelOnRead) MGet(ctx context.Context, keys ...string) ([]store.Value, error) {
	out, err := c.KV.MGet(ctx, keys...)
	c.cancel()
	return out, err
}

func (c *cancelOnRead) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.KV.Set(ctx, key, value)
}

func (c *cancelOnRead) Incr(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.KV.Incr(ctx, key)
}

func (c *cancelOnRead) IncrBy(ctx context.Context, key string, by int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.KV.IncrBy(ctx, key, by)
}

func (c *cancelOnRead) LPush(ctx context.Context, key string, values ...string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.KV.LPush(ctx, key, values...)
}

func (c *cancelOnRead) LTrim(ctx context.Context, key string, start, stop int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.KV.LTrim(ctx, key, start, stop)
}

func TestSubmitCompletesWritesAfterCallerCancels(t *testing.T) {
	mem := store.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &countingRecorder{}
	svc := newTestService(t, &cancelOnRead{KV: mem, cancel: cancel}, Options{Recorder: rec})

	res, err := svc.Submit(ctx, Submission{
		UserID:    "u1",
		Themes:    []string{"space"},
		Telemetry: Telemetry{DurationMs: 30_000, LettersCount: 60, Checks: 2},
	})
	require.NoError(t, err)
	require.Error(t, ctx.Err())
	assert.Equal(t, int64(92), res.Score)
	assert.Empty(t, rec.aux)
	assert.Equal(t, 1, rec.recorded)

	bg := context.Background()
	day := "2025-08-06"
	vals, err := mem.MGet(bg,
		userKey("u1", fieldCompleted),
		userKey("u1", fieldScoreTotal),
		userKey("u1", fieldStreak),
		userKey("u1", fieldLastDate),
		userKey("u1", fieldBest),
		userKey("u1", fieldChecks),
		globalKey(FamilyCompleted),
		globalKey(FamilyCompleted, day),
		userKey("u1", fieldLastThemes),
	)
	require.NoError(t, err)
	assert.Equal(t, int64(1), vals[0].Int(0))
	assert.Equal(t, int64(92), vals[1].Int(0))
	assert.Equal(t, int64(1), vals[2].Int(0))
	assert.Equal(t, "20250806", vals[3].Raw)
	assert.Equal(t, int64(30_000), vals[4].Int(0))
	assert.Equal(t, int64(2), vals[5].Int(0))
	assert.Equal(t, int64(1), vals[6].Int(0))
	assert.Equal(t, int64(1), vals[7].Int(0))
	assert.Equal(t, "space", vals[8].Raw)

	scores, err := mem.LRange(bg, userKey("u1", fieldScores), 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"92"}, scores)
}

func TestRecordGeneratedIgnoresCallerCancel(t *testing.T) {
	mem := store.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc := newTestService(t, &cancelOnRead{KV: mem, cancel: func() {}}, Options{})

	res, err := svc.RecordGenerated(ctx, "history", refNow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Generated)

	v, err := mem.Get(context.Background(), globalKey(FamilyGenerated, "history", "2025-08-06"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.Int(0))
}
