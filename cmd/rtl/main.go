package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	cl "raetsel/internal/cli"
	"raetsel/internal/config"
	"raetsel/internal/syncq"

	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "rtl",
		Short:        "Raetsel progress client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newIDCmd(),
		newSubmitCmd(&apiBase),
		newStatsCmd(&apiBase),
		newGlobalCmd(&apiBase),
		newGeneratedCmd(&apiBase),
		newCooldownCmd(&apiBase),
		newSyncCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func newIDCmd() *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "id",
		Short: "Show the local player id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if reset {
				if err := cl.ClearIdentity(); err != nil {
					return err
				}
			}
			id, created, err := cl.EnsureIdentity()
			if err != nil {
				return err
			}
			if created {
				printSuccess("New player id minted.")
			}
			fmt.Printf("Player: %s\n", accent.Sprint(id.UserID))
			fmt.Printf("Since:  %s\n", id.CreatedAt.Local().Format(time.DateTime))
			return nil
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "discard the current id and mint a new one")
	return cmd
}

func newSubmitCmd(apiBase *string) *cobra.Command {
	var (
		namespace string
		themes    []string
		duration  time.Duration
		reveals   int64
		checks    int64
		wrong     int64
		words     int64
		letters   int64
		score     int64
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Record a completed puzzle",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _, err := cl.EnsureIdentity()
			if err != nil {
				return err
			}
			in := cl.SessionInput{
				UserID:          id.UserID,
				PuzzleNamespace: namespace,
				Themes:          themes,
				DurationMs:      duration.Milliseconds(),
				RevealsUsed:     reveals,
				Checks:          checks,
				WrongCells:      wrong,
				WordsCount:      words,
				LettersCount:    letters,
				// Pinned so a replay from the queue counts for the day it was played.
				CompletedAt: time.Now().UnixMilli(),
			}
			if cmd.Flags().Changed("score") {
				in.PuzzleScore = &score
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).SubmitSession(ctx, in)
			if err != nil {
				body, encErr := in.Body()
				if encErr != nil {
					return err
				}
				return queueOnNetworkError(err, syncq.Command{Method: http.MethodPost, Path: "/session-complete", Body: body})
			}
			return renderSubmission(out)
		},
	}
	cmd.Flags().StringVarP(&namespace, "puzzle", "p", "", "puzzle namespace (default classic)")
	cmd.Flags().StringSliceVarP(&themes, "themes", "t", nil, "comma separated themes")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "time spent, e.g. 4m30s")
	cmd.Flags().Int64Var(&reveals, "reveals", 0, "cells revealed")
	cmd.Flags().Int64Var(&checks, "checks", 0, "checks used")
	cmd.Flags().Int64Var(&wrong, "wrong", 0, "wrong cells")
	cmd.Flags().Int64Var(&words, "words", 0, "words in the grid")
	cmd.Flags().Int64Var(&letters, "letters", 0, "letters in the grid")
	cmd.Flags().Int64Var(&score, "score", 0, "score computed by the client (0-100)")
	return cmd
}

func newStatsCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats [user-id]",
		Short: "Show player statistics",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := ""
			if len(args) == 1 {
				userID = strings.TrimSpace(args[0])
			} else {
				id, _, err := cl.EnsureIdentity()
				if err != nil {
					return err
				}
				userID = id.UserID
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).UserStats(ctx, userID)
			if err != nil {
				return err
			}
			return renderUserStats(out, userID)
		},
	}
}

func newGlobalCmd(apiBase *string) *cobra.Command {
	var (
		timeseries bool
		days       int
	)
	cmd := &cobra.Command{
		Use:   "global",
		Short: "Show global game counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).GlobalStats(ctx, timeseries, days)
			if err != nil {
				return err
			}
			return renderGlobalStats(out)
		},
	}
	cmd.Flags().BoolVar(&timeseries, "timeseries", false, "include daily series")
	cmd.Flags().IntVar(&days, "days", 0, "days of history (default 14, max 30)")
	return cmd
}

func newGeneratedCmd(apiBase *string) *cobra.Command {
	var namespace string
	cmd := &cobra.Command{
		Use:   "generated",
		Short: "Count a freshly generated puzzle",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).GameGenerated(ctx, namespace)
			if err != nil {
				body := map[string]any{"generatedAt": time.Now().UnixMilli()}
				if namespace != "" {
					body["puzzleNamespace"] = namespace
				}
				return queueOnNetworkError(err, syncq.Command{Method: http.MethodPost, Path: "/game-generated", Body: body})
			}
			res, err := decodeInto[generatedPayload](out)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Counted. %s puzzles generated so far: %s", res.Puzzle, comma(res.Generated)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&namespace, "puzzle", "p", "", "puzzle namespace (default classic)")
	return cmd
}

func newCooldownCmd(apiBase *string) *cobra.Command {
	cooldown := &cobra.Command{
		Use:   "cooldown",
		Short: "Mark or look up recently played puzzle ids",
	}

	var (
		setNamespace string
		ttl          time.Duration
	)
	set := &cobra.Command{
		Use:   "set <id>...",
		Short: "Put puzzle ids on cooldown",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _, err := cl.EnsureIdentity()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := newClient(apiBase).SetCooldowns(ctx, id.UserID, setNamespace, args, int64(ttl/time.Second)); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("%d ids on cooldown.", len(args)))
			return nil
		},
	}
	set.Flags().StringVarP(&setNamespace, "puzzle", "p", "", "puzzle namespace (default classic)")
	set.Flags().DurationVar(&ttl, "ttl", 0, "cooldown length (default 24h, max 720h)")

	var getNamespace string
	get := &cobra.Command{
		Use:   "get <id>...",
		Short: "Show which puzzle ids are cooling down",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _, err := cl.EnsureIdentity()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).GetCooldowns(ctx, id.UserID, getNamespace, args)
			if err != nil {
				return err
			}
			return renderCooldowns(out, args)
		},
	}
	get.Flags().StringVarP(&getNamespace, "puzzle", "p", "", "puzzle namespace (default classic)")

	cooldown.AddCommand(set, get)
	return cooldown
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay locally queued offline writes",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := syncq.Load()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			remaining := make([]syncq.Command, 0, len(queue))
			replayed, dropped := 0, 0
			for _, q := range queue {
				_, err := client.Do(ctx, q.Method, q.Path, q.Body)
				switch {
				case err == nil:
					replayed++
				case cl.IsAPIError(err):
					// The server answered; retrying will not change its mind.
					dropped++
					printError(fmt.Sprintf("Rejected %s %s: %v", q.Method, q.Path, err))
				case cl.IsUnsent(err):
					remaining = append(remaining, q)
					printWarn(fmt.Sprintf("Still offline for %s %s: %v", q.Method, q.Path, err))
				default:
					// May have been applied; another replay could count it twice.
					dropped++
					printError(fmt.Sprintf("Outcome unknown for %s %s, dropped: %v", q.Method, q.Path, err))
				}
			}
			if err := syncq.Save(remaining); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d dropped=%d remaining=%d", replayed, dropped, len(remaining)))
			return nil
		},
	}
}

func queueOnNetworkError(err error, q syncq.Command) error {
	if err == nil {
		return nil
	}
	if cl.IsAPIError(err) {
		return err
	}
	if !cl.IsUnsent(err) {
		return fmt.Errorf("request outcome unknown, not queued (check `rtl stats` before retrying): %w", err)
	}
	if qErr := syncq.Push(q); qErr != nil {
		return fmt.Errorf("request failed: %v (queue: %w)", err, qErr)
	}
	printWarn("API unreachable. Queued for `rtl sync`.")
	return nil
}
