package progress

import (
	"errors"
	"math"
	"regexp"
	"strings"

	"raetsel/internal/calendar"
)

const (
	MaxScore = 100

	// RecentCapacity is how many scores the per-user history keeps.
	RecentCapacity = 30
	// RecentShown is how many of them the stats read returns.
	RecentShown = 10

	DefaultNamespace        = "classic"
	DefaultSpecialNamespace = "history"

	DefaultSeriesDays = 14
	MaxSeriesDays     = 30
)

var (
	ErrMissingUserID    = errors.New("userId required")
	ErrInvalidUserID    = errors.New("userId must be 1-128 characters of letters, digits, '.', '_' or '-'")
	ErrInvalidNamespace = errors.New("puzzleNamespace must be 1-32 lowercase letters, digits, '_' or '-' starting with a letter")
	ErrStoreUnavailable = errors.New("store not configured")
)

var (
	userIDRE    = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)
	namespaceRE = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,31}$`)
)

func ValidateUserID(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", ErrMissingUserID
	}
	if !userIDRE.MatchString(userID) {
		return "", ErrInvalidUserID
	}
	return userID, nil
}

// NormalizeNamespace lowercases ns and falls back to the classic namespace
// when it is blank.
func NormalizeNamespace(ns string) (string, error) {
	ns = strings.ToLower(strings.TrimSpace(ns))
	if ns == "" {
		return DefaultNamespace, nil
	}
	if !namespaceRE.MatchString(ns) {
		return "", ErrInvalidNamespace
	}
	return ns, nil
}

// Telemetry is what a client reports about one finished session. Negative
// values are treated as zero.
type Telemetry struct {
	DurationMs   int64
	RevealsUsed  int64
	Checks       int64
	WrongCells   int64
	WordsCount   int64
	LettersCount int64
}

func (t Telemetry) normalized() Telemetry {
	return Telemetry{
		DurationMs:   nonNegative(t.DurationMs),
		RevealsUsed:  nonNegative(t.RevealsUsed),
		Checks:       nonNegative(t.Checks),
		WrongCells:   nonNegative(t.WrongCells),
		WordsCount:   nonNegative(t.WordsCount),
		LettersCount: nonNegative(t.LettersCount),
	}
}

// ComputeScore maps session telemetry to a score in [0, 100].
//
// About one point is lost per three seconds of play (at most 40), eight per
// reveal and half a point per wrong cell; large grids earn up to ten back.
func ComputeScore(t Telemetry) float64 {
	t = t.normalized()
	timePenalty := math.Min(40, float64(t.DurationMs)/3000)
	revealPenalty := 8 * float64(t.RevealsUsed)
	errorPenalty := 0.5 * float64(t.WrongCells)
	sizeBonus := math.Min(10, float64(t.LettersCount)/30)
	raw := 100 - timePenalty - revealPenalty - errorPenalty + sizeBonus
	return clamp(raw, 0, MaxScore)
}

// ResolveScore picks the stored score for a session: a client-supplied score
// in [0, 100] is taken as is, anything else falls back to ComputeScore.
func ResolveScore(t Telemetry, clientScore *int64) int64 {
	score := ComputeScore(t)
	if clientScore != nil && *clientScore >= 0 && *clientScore <= MaxScore {
		score = float64(*clientScore)
	}
	return int64(clamp(math.Round(score), 0, MaxScore))
}

func CoinsFor(score int64) int64 {
	if score <= 0 {
		return 0
	}
	return score / 10
}

// StreakState is the stored daily-activity state of a player. LastDay is a
// UTC day index and only meaningful when HasLast is set.
type StreakState struct {
	LastDay   int64
	HasLast   bool
	Streak    int64
	MaxStreak int64
}

// NextStreak applies one completion on UTC day today.
func NextStreak(prev StreakState, today int64) StreakState {
	next := StreakState{LastDay: today, HasLast: true}
	switch {
	case !prev.HasLast:
		next.Streak = 1
	case prev.LastDay == today:
		next.Streak = max(prev.Streak, 1)
	case prev.LastDay == today-1:
		next.Streak = prev.Streak + 1
	default:
		next.Streak = 1
	}
	next.MaxStreak = max(prev.MaxStreak, next.Streak)
	return next
}

// streakFromStored decodes the stored lastDate marker. An unreadable marker
// counts as no previous activity.
func streakFromStored(lastDate string, present bool, streak, maxStreak int64) StreakState {
	st := StreakState{Streak: streak, MaxStreak: maxStreak}
	if !present {
		return st
	}
	day, err := calendar.ParseCompactDay(lastDate)
	if err != nil {
		return st
	}
	st.LastDay = day
	st.HasLast = true
	return st
}

// IsBestTime reports whether a session of durationMs beats the stored best.
// best <= 0 means no best has been recorded yet.
func IsBestTime(durationMs, best int64) bool {
	return durationMs > 0 && (best <= 0 || durationMs < best)
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
