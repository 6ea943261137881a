package progress

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"raetsel/internal/calendar"
	"raetsel/internal/store"
)

// Recorder receives submission outcomes for metrics.
type Recorder interface {
	SubmissionRecorded(namespace string, score int64)
	SubmissionFailed(failed int)
	AuxiliaryFailed(name string)
	GameGenerated(namespace string)
}

type nopRecorder struct{}

func (nopRecorder) SubmissionRecorded(string, int64) {}
func (nopRecorder) SubmissionFailed(int)             {}
func (nopRecorder) AuxiliaryFailed(string)           {}
func (nopRecorder) GameGenerated(string)             {}

type Options struct {
	// WeekZone is the IANA zone the weekly special's ISO week is taken in.
	WeekZone         string
	SpecialNamespace string
	// Namespaces are reported by GlobalStats, in order.
	Namespaces       []string
	SerializePerUser bool
	Recorder         Recorder
	Now              func() time.Time
}

type Service struct {
	kv         store.KV
	log        *slog.Logger
	week       calendar.WeekKeyer
	special    string
	namespaces []string
	locks      *userLocks
	rec        Recorder
	now        func() time.Time
}

func NewService(kv store.KV, logger *slog.Logger, opts Options) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	week, err := calendar.NewWeekKeyer(opts.WeekZone)
	if err != nil {
		return nil, err
	}
	special, err := NormalizeNamespace(opts.SpecialNamespace)
	if err != nil {
		return nil, fmt.Errorf("special namespace: %w", err)
	}
	if strings.TrimSpace(opts.SpecialNamespace) == "" {
		special = DefaultSpecialNamespace
	}
	namespaces := make([]string, 0, len(opts.Namespaces))
	for _, ns := range opts.Namespaces {
		norm, err := NormalizeNamespace(ns)
		if err != nil {
			return nil, fmt.Errorf("namespace %q: %w", ns, err)
		}
		if !slices.Contains(namespaces, norm) {
			namespaces = append(namespaces, norm)
		}
	}
	if len(namespaces) == 0 {
		namespaces = []string{DefaultNamespace, DefaultSpecialNamespace}
	}

	s := &Service{
		kv:         kv,
		log:        logger,
		week:       week,
		special:    special,
		namespaces: namespaces,
		rec:        opts.Recorder,
		now:        opts.Now,
	}
	if s.rec == nil {
		s.rec = nopRecorder{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.SerializePerUser {
		s.locks = &userLocks{}
	}
	return s, nil
}

func (s *Service) Namespaces() []string {
	return slices.Clone(s.namespaces)
}

// Submit folds one finished session into the player's aggregates and the
// global counters. The returned totals are derived from the values read
// before the writes, not read back. When any primary write fails the result
// is nil and the error is a *MutationError; writes that went through stay.
func (s *Service) Submit(ctx context.Context, in Submission) (*SubmissionResult, error) {
	userID, err := ValidateUserID(in.UserID)
	if err != nil {
		return nil, err
	}
	ns, err := NormalizeNamespace(in.Namespace)
	if err != nil {
		return nil, err
	}
	if s.kv == nil {
		return nil, ErrStoreUnavailable
	}
	tel := in.Telemetry.normalized()
	themes := cleanThemes(in.Themes)
	completedAt := in.CompletedAt
	if completedAt.IsZero() {
		completedAt = s.now()
	}

	defer s.locks.lock(userID)()

	snap, err := s.kv.MGet(ctx,
		userKey(userID, fieldBest),
		userKey(userID, fieldLastDate),
		userKey(userID, fieldStreak),
		userKey(userID, fieldMaxStreak),
		userKey(userID, fieldCompleted),
		userKey(userID, fieldDuration),
		userKey(userID, fieldScoreTotal),
		userKey(userID, fieldCoins),
	)
	if err != nil {
		return nil, fmt.Errorf("read aggregates: %w", err)
	}
	best := snap[0].Int(0)
	lastDate, hasLast := snap[1].Str()
	prevStreak := streakFromStored(lastDate, hasLast, snap[2].Int(0), snap[3].Int(0))
	completed := snap[4].Int(0)
	duration := snap[5].Int(0)
	scoreTotal := snap[6].Int(0)
	coins := snap[7].Int(0)

	score := ResolveScore(tel, in.ClientScore)
	coinsEarned := CoinsFor(score)
	streak := NextStreak(prevStreak, calendar.DayIndex(completedAt))
	isBest := IsBestTime(tel.DurationMs, best)
	special := ns == s.special || slices.Contains(themes, s.special)
	weekKey := s.week.Key(completedAt)
	day := calendar.DashedDay(completedAt)

	muts := s.submissionMutations(userID, ns, tel, themes, submissionWrites{
		score:       score,
		coinsEarned: coinsEarned,
		streak:      streak,
		today:       calendar.CompactDay(completedAt),
		isBest:      isBest,
		special:     special,
		weekKey:     weekKey,
		day:         day,
	})
	// Once the snapshot is read the batch runs to completion; only the
	// per-call store timeout bounds it.
	outcome := runBatch(context.WithoutCancel(ctx), muts)
	for name, auxErr := range outcome.aux {
		s.rec.AuxiliaryFailed(name)
		s.log.Warn("auxiliary update failed", "user_id", userID, "update", name, "error", auxErr)
	}
	if err := outcome.err(); err != nil {
		s.rec.SubmissionFailed(len(outcome.primary))
		s.log.Error("submission partially applied", "user_id", userID, "failed", len(outcome.primary), "total", outcome.total, "error", err)
		return nil, err
	}
	s.rec.SubmissionRecorded(ns, score)

	bestOut := best
	if isBest {
		bestOut = tel.DurationMs
	}
	res := &SubmissionResult{
		OK:          true,
		Puzzle:      ns,
		Themes:      themes,
		Score:       score,
		CoinsEarned: coinsEarned,
		Totals: SubmissionTotals{
			Completed:  completed + 1,
			DurationMs: duration + tel.DurationMs,
			BestTimeMs: bestOut,
			TotalScore: scoreTotal + score,
			Coins:      coins + coinsEarned,
			Streak:     streak.Streak,
			MaxStreak:  streak.MaxStreak,
		},
	}
	if special {
		res.Special = map[string]WeeklyMark{s.special: {WeekKey: weekKey}}
	}
	return res, nil
}

type submissionWrites struct {
	score       int64
	coinsEarned int64
	streak      StreakState
	today       string
	isBest      bool
	special     bool
	weekKey     string
	day         string
}

func (s *Service) submissionMutations(userID, ns string, tel Telemetry, themes []string, w submissionWrites) []mutation {
	kv := s.kv
	incrBy := func(key string, by int64) func(context.Context) error {
		return func(ctx context.Context) error {
			_, err := kv.IncrBy(ctx, key, by)
			return err
		}
	}
	set := func(key, value string) func(context.Context) error {
		return func(ctx context.Context) error {
			return kv.Set(ctx, key, value)
		}
	}
	itoa := func(n int64) string { return strconv.FormatInt(n, 10) }

	muts := []mutation{
		{name: "completed", run: incrBy(userKey(userID, fieldCompleted), 1)},
		{name: "score_total", run: incrBy(userKey(userID, fieldScoreTotal), w.score)},
		{name: "last_date", run: set(userKey(userID, fieldLastDate), w.today)},
		{name: "streak", run: set(userKey(userID, fieldStreak), itoa(w.streak.Streak))},
		{name: "max_streak", run: set(userKey(userID, fieldMaxStreak), itoa(w.streak.MaxStreak))},
		{name: "recent_scores", run: func(ctx context.Context) error {
			key := userKey(userID, fieldScores)
			if _, err := kv.LPush(ctx, key, itoa(w.score)); err != nil {
				return err
			}
			return kv.LTrim(ctx, key, 0, RecentCapacity-1)
		}},
		{name: "global_completed", run: incrBy(globalKey(FamilyCompleted), 1)},
		{name: "namespace_completed", run: incrBy(globalKey(FamilyCompleted, ns), 1)},
		{name: "day_completed", aux: true, run: incrBy(globalKey(FamilyCompleted, w.day), 1)},
		{name: "namespace_day_completed", aux: true, run: incrBy(globalKey(FamilyCompleted, ns, w.day), 1)},
	}
	sums := []struct {
		name  string
		field string
		by    int64
	}{
		{"duration", fieldDuration, tel.DurationMs},
		{"reveals", fieldReveals, tel.RevealsUsed},
		{"checks", fieldChecks, tel.Checks},
		{"wrong_cells", fieldWrong, tel.WrongCells},
		{"letters", fieldLetters, tel.LettersCount},
		{"coins", fieldCoins, w.coinsEarned},
	}
	for _, sum := range sums {
		if sum.by > 0 {
			muts = append(muts, mutation{name: sum.name, run: incrBy(userKey(userID, sum.field), sum.by)})
		}
	}
	if w.isBest {
		muts = append(muts, mutation{name: "best_time", run: set(userKey(userID, fieldBest), itoa(tel.DurationMs))})
	}
	if w.special {
		muts = append(muts, mutation{name: "weekly_special", run: set(weeklyKey(userID, s.special), w.weekKey)})
	}
	if len(themes) > 0 {
		muts = append(muts, mutation{name: "last_themes", aux: true, run: set(userKey(userID, fieldLastThemes), strings.Join(themes, ","))})
	}
	return muts
}

// UserStats reads a player's aggregates, the last RecentShown scores and the
// weekly special status for the current week.
func (s *Service) UserStats(ctx context.Context, userID string) (*UserStats, error) {
	userID, err := ValidateUserID(userID)
	if err != nil {
		return nil, err
	}
	if s.kv == nil {
		return nil, ErrStoreUnavailable
	}

	var (
		vals   []store.Value
		scores []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vals, err = s.kv.MGet(gctx,
			userKey(userID, fieldCompleted),
			userKey(userID, fieldDuration),
			userKey(userID, fieldBest),
			userKey(userID, fieldStreak),
			userKey(userID, fieldMaxStreak),
			userKey(userID, fieldScoreTotal),
			userKey(userID, fieldCoins),
			userKey(userID, fieldReveals),
			userKey(userID, fieldChecks),
			userKey(userID, fieldWrong),
			userKey(userID, fieldLetters),
			weeklyKey(userID, s.special),
			userKey(userID, fieldLastThemes),
		)
		return err
	})
	g.Go(func() error {
		var err error
		scores, err = s.kv.LRange(gctx, userKey(userID, fieldScores), 0, RecentShown-1)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("read stats: %w", err)
	}

	ints := store.Ints(vals[:11], 0)
	totals := StatsTotals{
		Completed:   ints[0],
		DurationMs:  ints[1],
		BestTimeMs:  ints[2],
		Streak:      ints[3],
		MaxStreak:   ints[4],
		TotalScore:  ints[5],
		Coins:       ints[6],
		RevealsUsed: ints[7],
		Checks:      ints[8],
		WrongCells:  ints[9],
		Letters:     ints[10],
	}
	var avgScore float64
	if totals.Completed > 0 {
		totals.AvgTimeMs = int64(math.Round(float64(totals.DurationMs) / float64(totals.Completed)))
		avgScore = math.Round(float64(totals.TotalScore)/float64(totals.Completed)*100) / 100
	}

	lastScores := make([]int64, 0, len(scores))
	for _, raw := range scores {
		lastScores = append(lastScores, store.ParseCount(raw, 0))
	}

	weekKey := s.week.Key(s.now())
	status := WeeklyStatus{WeekKey: weekKey}
	if last, ok := vals[11].Str(); ok && last != "" {
		status.LastWeek = &last
		status.ThisWeek = last == weekKey
	}

	out := &UserStats{
		OK:      true,
		Totals:  totals,
		Recent:  RecentScores{LastScores: lastScores, AvgScore: avgScore},
		Special: map[string]WeeklyStatus{s.special: status},
	}
	if themes, ok := vals[12].Str(); ok {
		out.LastThemes = cleanThemes(strings.Split(themes, ","))
	}
	return out, nil
}

// GlobalStats reads the all-time counters and, with timeseries set, the
// per-day counters of the trailing window of days (clamped to [1, 30]; zero
// or less means the default window).
func (s *Service) GlobalStats(ctx context.Context, timeseries bool, days int) (*GlobalStats, error) {
	if s.kv == nil {
		return nil, ErrStoreUnavailable
	}
	families := []string{FamilyGenerated, FamilyCompleted}

	keys := make([]string, 0, 2+2*len(s.namespaces))
	for _, f := range families {
		keys = append(keys, globalKey(f))
	}
	for _, ns := range s.namespaces {
		for _, f := range families {
			keys = append(keys, globalKey(f, ns))
		}
	}

	var (
		dayList []string
		series  []string
	)
	if timeseries {
		dayList = calendar.TrailingDays(s.now(), ClampSeriesDays(days))
		for _, f := range families {
			series = append(series, SeriesName(f, ""))
		}
		for _, ns := range s.namespaces {
			for _, f := range families {
				series = append(series, SeriesName(f, ns))
			}
		}
		for _, name := range series {
			for _, d := range dayList {
				keys = append(keys, "games:"+name+":"+d)
			}
		}
	}

	vals, err := s.kv.MGet(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("read global counters: %w", err)
	}
	ints := store.Ints(vals, 0)

	out := &GlobalStats{
		OK:          true,
		Generated:   ints[0],
		Completed:   ints[1],
		ByNamespace: make(map[string]NamespaceCounter, len(s.namespaces)),
	}
	next := 2
	for _, ns := range s.namespaces {
		out.ByNamespace[ns] = NamespaceCounter{Generated: ints[next], Completed: ints[next+1]}
		next += 2
	}
	if timeseries {
		ts := &Timeseries{Days: dayList, Series: make(map[string][]int64, len(series))}
		for _, name := range series {
			ts.Series[name] = ints[next : next+len(dayList)]
			next += len(dayList)
		}
		out.Timeseries = ts
	}
	return out, nil
}

// RecordGenerated counts a newly generated puzzle. The per-day counters are
// best effort; a failed all-time counter is returned as *MutationError.
func (s *Service) RecordGenerated(ctx context.Context, namespace string, at time.Time) (*GeneratedResult, error) {
	ns, err := NormalizeNamespace(namespace)
	if err != nil {
		return nil, err
	}
	if s.kv == nil {
		return nil, ErrStoreUnavailable
	}
	if at.IsZero() {
		at = s.now()
	}
	day := calendar.DashedDay(at)

	var total int64
	muts := []mutation{
		{name: "global_generated", run: func(ctx context.Context) error {
			n, err := s.kv.Incr(ctx, globalKey(FamilyGenerated))
			total = n
			return err
		}},
		{name: "namespace_generated", run: func(ctx context.Context) error {
			_, err := s.kv.Incr(ctx, globalKey(FamilyGenerated, ns))
			return err
		}},
		{name: "day_generated", aux: true, run: func(ctx context.Context) error {
			_, err := s.kv.Incr(ctx, globalKey(FamilyGenerated, day))
			return err
		}},
		{name: "namespace_day_generated", aux: true, run: func(ctx context.Context) error {
			_, err := s.kv.Incr(ctx, globalKey(FamilyGenerated, ns, day))
			return err
		}},
	}
	outcome := runBatch(context.WithoutCancel(ctx), muts)
	for name, auxErr := range outcome.aux {
		s.rec.AuxiliaryFailed(name)
		s.log.Warn("auxiliary update failed", "update", name, "error", auxErr)
	}
	if err := outcome.err(); err != nil {
		return nil, err
	}
	s.rec.GameGenerated(ns)
	return &GeneratedResult{OK: true, Puzzle: ns, Generated: total}, nil
}

func ClampSeriesDays(days int) int {
	switch {
	case days <= 0:
		return DefaultSeriesDays
	case days > MaxSeriesDays:
		return MaxSeriesDays
	}
	return days
}

func cleanThemes(in []string) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Ping checks that the backing store answers.
func (s *Service) Ping(ctx context.Context) error {
	if s.kv == nil {
		return ErrStoreUnavailable
	}
	return s.kv.Ping(ctx)
}
