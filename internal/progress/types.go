package progress

import "time"

type Submission struct {
	UserID    string
	Namespace string
	Themes    []string
	Telemetry Telemetry
	// ClientScore is the score the client computed itself, if any.
	ClientScore *int64
	// CompletedAt defaults to the service clock when zero.
	CompletedAt time.Time
}

type SubmissionResult struct {
	OK          bool                  `json:"ok"`
	Puzzle      string                `json:"puzzle"`
	Themes      []string              `json:"themes"`
	Score       int64                 `json:"score"`
	CoinsEarned int64                 `json:"coinsEarned"`
	Totals      SubmissionTotals      `json:"totals"`
	Special     map[string]WeeklyMark `json:"special,omitempty"`
}

type SubmissionTotals struct {
	Completed  int64 `json:"completed"`
	DurationMs int64 `json:"durationMs"`
	BestTimeMs int64 `json:"bestTimeMs"`
	TotalScore int64 `json:"totalScore"`
	Coins      int64 `json:"coins"`
	Streak     int64 `json:"streak"`
	MaxStreak  int64 `json:"maxStreak"`
}

type WeeklyMark struct {
	WeekKey string `json:"weekKey"`
}

type UserStats struct {
	OK         bool                    `json:"ok"`
	Totals     StatsTotals             `json:"totals"`
	Recent     RecentScores            `json:"recent"`
	LastThemes []string                `json:"lastThemes,omitempty"`
	Special    map[string]WeeklyStatus `json:"special"`
}

type StatsTotals struct {
	Completed   int64 `json:"completed"`
	BestTimeMs  int64 `json:"bestTimeMs"`
	AvgTimeMs   int64 `json:"avgTimeMs"`
	Streak      int64 `json:"streak"`
	MaxStreak   int64 `json:"maxStreak"`
	TotalScore  int64 `json:"totalScore"`
	Coins       int64 `json:"coins"`
	DurationMs  int64 `json:"durationMs"`
	RevealsUsed int64 `json:"revealsUsed"`
	Checks      int64 `json:"checks"`
	WrongCells  int64 `json:"wrongCells"`
	Letters     int64 `json:"letters"`
}

type RecentScores struct {
	LastScores []int64 `json:"lastScores"`
	AvgScore   float64 `json:"avgScore"`
}

type WeeklyStatus struct {
	ThisWeek bool    `json:"thisWeek"`
	WeekKey  string  `json:"weekKey"`
	LastWeek *string `json:"lastWeek"`
}

type GlobalStats struct {
	OK          bool                        `json:"ok"`
	Generated   int64                       `json:"generated"`
	Completed   int64                       `json:"completed"`
	ByNamespace map[string]NamespaceCounter `json:"byNamespace"`
	Timeseries  *Timeseries                 `json:"timeseries,omitempty"`
}

type NamespaceCounter struct {
	Generated int64 `json:"generated"`
	Completed int64 `json:"completed"`
}

// Timeseries aligns every series with Days, oldest day first.
type Timeseries struct {
	Days   []string           `json:"days"`
	Series map[string][]int64 `json:"series"`
}

type GeneratedResult struct {
	OK        bool   `json:"ok"`
	Puzzle    string `json:"puzzle"`
	Generated int64  `json:"generated"`
}
