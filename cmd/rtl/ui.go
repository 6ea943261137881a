package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"raetsel/internal/progress"

	"github.com/fatih/color"
)

var (
	accent  = color.New(color.FgCyan, color.Bold)
	success = color.New(color.FgGreen, color.Bold)
	warn    = color.New(color.FgYellow, color.Bold)
	danger  = color.New(color.FgRed, color.Bold)
	neutral = color.New(color.FgHiWhite)
)

type generatedPayload = progress.GeneratedResult

type cooldownPayload struct {
	Cooled []string        `json:"cooled"`
	Map    map[string]bool `json:"map"`
}

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func renderSubmission(raw map[string]any) error {
	r, err := decodeInto[progress.SubmissionResult](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== %s SOLVED ==\n", strings.ToUpper(r.Puzzle))
	fmt.Printf("Score:      %s\n", colorizeScore(r.Score))
	fmt.Printf("Coins:      +%d (total %s)\n", r.CoinsEarned, comma(r.Totals.Coins))
	fmt.Printf("Streak:     %d (best %d)\n", r.Totals.Streak, r.Totals.MaxStreak)
	fmt.Printf("Completed:  %s\n", comma(r.Totals.Completed))
	if r.Totals.BestTimeMs > 0 {
		fmt.Printf("Best time:  %s\n", formatMs(r.Totals.BestTimeMs))
	}
	if len(r.Themes) > 0 {
		fmt.Printf("Themes:     %s\n", truncate(strings.Join(r.Themes, ", "), 60))
	}
	for name, mark := range r.Special {
		printSuccess(fmt.Sprintf("Weekly %s done for %s.", name, mark.WeekKey))
	}
	fmt.Println()
	return nil
}

func renderUserStats(raw map[string]any, userID string) error {
	s, err := decodeInto[progress.UserStats](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== STATS %s ==\n", truncate(userID, 16))
	if s.Totals.Completed == 0 {
		printInfo("No puzzles completed yet.")
		return nil
	}
	t := s.Totals
	fmt.Printf("Completed:    %s\n", comma(t.Completed))
	fmt.Printf("Total score:  %s\n", comma(t.TotalScore))
	fmt.Printf("Coins:        %s\n", comma(t.Coins))
	fmt.Printf("Streak:       %d (best %d)\n", t.Streak, t.MaxStreak)
	fmt.Printf("Best time:    %s\n", formatMs(t.BestTimeMs))
	fmt.Printf("Average time: %s\n", formatMs(t.AvgTimeMs))
	fmt.Printf("Reveals:      %s  Checks: %s  Wrong: %s  Letters: %s\n",
		comma(t.RevealsUsed), comma(t.Checks), comma(t.WrongCells), comma(t.Letters))

	fmt.Println()
	accent.Println("Recent")
	scores := make([]string, 0, len(s.Recent.LastScores))
	for _, v := range s.Recent.LastScores {
		scores = append(scores, colorizeScore(v))
	}
	fmt.Printf("%s  (avg %.2f)\n", strings.Join(scores, " "), s.Recent.AvgScore)
	if len(s.LastThemes) > 0 {
		fmt.Printf("Last themes: %s\n", truncate(strings.Join(s.LastThemes, ", "), 60))
	}

	for name, w := range s.Special {
		fmt.Println()
		accent.Printf("Weekly %s (%s)\n", name, w.WeekKey)
		switch {
		case w.ThisWeek:
			printSuccess("Done this week.")
		case w.LastWeek != nil:
			printWarn(fmt.Sprintf("Open. Last done %s.", *w.LastWeek))
		default:
			printInfo("Never played.")
		}
	}
	fmt.Println()
	return nil
}

func renderGlobalStats(raw map[string]any) error {
	g, err := decodeInto[progress.GlobalStats](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== GLOBAL ==")
	fmt.Printf("%-14s %12s %12s\n", "PUZZLE", "GENERATED", "COMPLETED")
	fmt.Printf("%-14s %12s %12s\n", "all", comma(g.Generated), comma(g.Completed))
	names := make([]string, 0, len(g.ByNamespace))
	for name := range g.ByNamespace {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := g.ByNamespace[name]
		fmt.Printf("%-14s %12s %12s\n", truncate(name, 14), comma(c.Generated), comma(c.Completed))
	}

	if g.Timeseries != nil && len(g.Timeseries.Days) > 0 {
		fmt.Println()
		accent.Printf("Daily (%s to %s)\n", g.Timeseries.Days[0], g.Timeseries.Days[len(g.Timeseries.Days)-1])
		series := make([]string, 0, len(g.Timeseries.Series))
		for name := range g.Timeseries.Series {
			series = append(series, name)
		}
		sort.Strings(series)
		for _, name := range series {
			values := g.Timeseries.Series[name]
			var total int64
			for _, v := range values {
				total += v
			}
			fmt.Printf("%-24s %s %8s\n", truncate(name, 24), sparkline(values), comma(total))
		}
	}
	fmt.Println()
	return nil
}

func renderCooldowns(raw map[string]any, ids []string) error {
	out, err := decodeInto[cooldownPayload](raw)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if out.Map[id] {
			fmt.Printf("%-20s %s\n", truncate(id, 20), warn.Sprint("cooling"))
			continue
		}
		fmt.Printf("%-20s %s\n", truncate(id, 20), success.Sprint("free"))
	}
	return nil
}

func decodeInto[T any](in any) (T, error) {
	var out T
	raw, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func colorizeScore(v int64) string {
	text := strconv.FormatInt(v, 10)
	switch {
	case v >= 80:
		return success.Sprint(text)
	case v >= 50:
		return warn.Sprint(text)
	default:
		return danger.Sprint(text)
	}
}

func formatMs(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return (time.Duration(ms) * time.Millisecond).Round(time.Second).String()
}

var sparkTicks = []rune("▁▂▃▄▅▆▇█")

func sparkline(values []int64) string {
	var peak int64
	for _, v := range values {
		peak = max(peak, v)
	}
	var b strings.Builder
	for _, v := range values {
		if peak == 0 || v <= 0 {
			b.WriteRune(' ')
			continue
		}
		idx := int(v * int64(len(sparkTicks)-1) / peak)
		b.WriteRune(sparkTicks[idx])
	}
	return b.String()
}

func comma(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	b.WriteString(sign)
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		b.WriteByte(',')
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
