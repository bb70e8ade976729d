package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/scoreboard/internal/domain/leaderboard"
	"github.com/okian/scoreboard/internal/loadgen"
	"github.com/okian/scoreboard/pkg/logger"
)

var runFlags struct {
	players  int
	rounds   int
	workers  int
	maxScore int64
	policy   string
	limit    int
	deadline time.Duration
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Submit a generated workload and verify the leaderboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		policy, err := leaderboard.ParsePolicy(runFlags.policy)
		if err != nil {
			return err
		}
		r, err := loadgen.NewRunner(loadgen.Config{
			BaseURL:  baseURL,
			Players:  runFlags.players,
			Rounds:   runFlags.rounds,
			Workers:  runFlags.workers,
			MaxScore: runFlags.maxScore,
			Timeout:  timeout,
			Policy:   policy,
			Limit:    runFlags.limit,
		}, logger.Named("loadgen"))
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), runFlags.deadline)
		defer cancel()
		_, err = r.Run(ctx)
		return err
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the service is healthy",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := loadgen.NewRunner(loadgen.Config{
			BaseURL:  baseURL,
			Players:  1,
			Rounds:   1,
			Workers:  1,
			MaxScore: 1,
			Timeout:  timeout,
			Policy:   leaderboard.PolicyOverwrite,
		}, logger.Named("loadgen"))
		if err != nil {
			return err
		}
		return r.Check(cmd.Context())
	},
}
