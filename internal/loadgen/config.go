// Package loadgen drives a running scoreboard service with concurrent
// submissions and verifies the resulting leaderboard.
package loadgen

import (
	"errors"
	"fmt"
	"time"

	"github.com/okian/scoreboard/internal/domain/leaderboard"
)

// ErrVerification is returned when the leaderboard does not match the submitted plan.
var ErrVerification = errors.New("leaderboard verification failed")

// DefaultLimit matches the server's default max_leaderboard_limit.
const DefaultLimit = 100

// Config holds configuration for a load run.
type Config struct {
	BaseURL  string             // Base URL of the service
	Players  int                // Distinct players
	Rounds   int                // Submissions per player
	Workers  int                // Concurrent workers
	MaxScore int64              // Upper bound (exclusive) for generated scores
	Timeout  time.Duration      // HTTP request timeout
	Policy   leaderboard.Policy // Merge policy the server runs with
	Limit    int                // Leaderboard entries fetched for verification; at most the server's max_leaderboard_limit
}

// Validate checks the run parameters.
func (c *Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return fmt.Errorf("base url must not be empty")
	case c.Players < 1 || c.Rounds < 1 || c.Workers < 1:
		return fmt.Errorf("players, rounds and workers must be positive")
	case c.MaxScore < 1:
		return fmt.Errorf("max score must be positive")
	case c.Limit < 0:
		return fmt.Errorf("limit must not be negative")
	}
	if _, err := leaderboard.ParsePolicy(string(c.Policy)); err != nil {
		return err
	}
	return nil
}

// Stats holds run statistics.
type Stats struct {
	Submitted  int64
	Successful int64
	Failed     int64
	Throttled  int64
	Entries    int
	Unlisted   int
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
}
