package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/scoreboard/internal/loadgen"
	"github.com/okian/scoreboard/pkg/logger"
)

// Default run parameters.
const (
	defaultPlayers  = 50
	defaultRounds   = 5
	defaultMaxScore = 100_000
	defaultTimeout  = 30 * time.Second
	defaultDeadline = 10 * time.Minute
)

var (
	baseURL   string
	logFormat string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "loadgen",
	Short: "Drive a scoreboard service with concurrent score submissions",
	Long: `A load and verification tool for the scoreboard service. It submits
generated scores for many players concurrently and then checks that the
leaderboard holds exactly the scores the merge policy implies.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logger.InitWithWriter(os.Stdout, logFormat)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", "http://localhost:10000", "Base URL of the service")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log output format: text or json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", defaultTimeout, "HTTP request timeout")

	runCmd.Flags().IntVar(&runFlags.players, "players", defaultPlayers, "Number of distinct players")
	runCmd.Flags().IntVar(&runFlags.rounds, "rounds", defaultRounds, "Submissions per player")
	runCmd.Flags().IntVar(&runFlags.workers, "workers", runtime.NumCPU(), "Number of concurrent workers")
	runCmd.Flags().Int64Var(&runFlags.maxScore, "max-score", defaultMaxScore, "Upper bound (exclusive) for generated scores")
	runCmd.Flags().StringVar(&runFlags.policy, "policy", "overwrite", "Merge policy the server runs with: overwrite or monotonic")
	runCmd.Flags().IntVar(&runFlags.limit, "limit", loadgen.DefaultLimit, "Leaderboard entries fetched for verification (at most the server's max_leaderboard_limit)")
	runCmd.Flags().DurationVar(&runFlags.deadline, "deadline", defaultDeadline, "Overall deadline for the run")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "loadgen: %v\n", err)
		os.Exit(1)
	}
}
