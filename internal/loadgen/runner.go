package loadgen

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/scoreboard/internal/retry"
	"github.com/okian/scoreboard/pkg/logger"
)

// Submission retry bounds. Throttling by the server is expected under load.
const (
	submitAttempts  = 10
	submitBaseDelay = 100 * time.Millisecond
	submitMaxDelay  = 2 * time.Second
)

// Runner executes load runs against one service.
type Runner struct {
	cfg    Config
	client *Client
	log    logger.Logger
}

// NewRunner validates cfg and builds a Runner.
func NewRunner(cfg Config, log logger.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Limit == 0 {
		cfg.Limit = DefaultLimit
	}
	retrier := retry.New(retry.Policy{
		MaxAttempts: submitAttempts,
		BaseDelay:   submitBaseDelay,
		MaxDelay:    submitMaxDelay,
	}, retry.WithLogger(log))
	return &Runner{cfg: cfg, client: NewClient(cfg.BaseURL, cfg.Timeout, retrier), log: log}, nil
}

// Check verifies the service is reachable.
func (r *Runner) Check(ctx context.Context) error {
	r.log.Info(ctx, "checking service health", logger.String("baseURL", r.cfg.BaseURL))
	if err := r.client.Health(ctx); err != nil {
		return err
	}
	r.log.Info(ctx, "service is healthy")
	return nil
}

// Run executes the complete load test: health check, concurrent submission
// of a generated plan, then verification of the leaderboard.
func (r *Runner) Run(ctx context.Context) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}

	r.log.Info(ctx, "starting scoreboard load test",
		logger.String("baseURL", r.cfg.BaseURL),
		logger.Int("players", r.cfg.Players),
		logger.Int("rounds", r.cfg.Rounds),
		logger.Int("workers", r.cfg.Workers),
		logger.String("policy", string(r.cfg.Policy)))

	if err := r.Check(ctx); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	plan := NewPlan(r.cfg.Players, r.cfg.Rounds, r.cfg.MaxScore)
	r.submit(ctx, plan, stats)
	if stats.Failed > 0 {
		return stats, fmt.Errorf("%d of %d submissions failed", stats.Failed, stats.Submitted)
	}

	board, err := r.client.Leaderboard(ctx, r.cfg.Limit)
	if err != nil {
		return stats, fmt.Errorf("leaderboard retrieval failed: %w", err)
	}
	stats.Entries = len(board.Leaderboard)

	unlisted, err := Verify(plan.Expected(r.cfg.Policy), board.Leaderboard, r.cfg.Limit)
	stats.Unlisted = unlisted
	if err != nil {
		return stats, err
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	r.report(ctx, stats)
	return stats, nil
}

// submit pins each player to one worker so its rounds arrive in plan order.
func (r *Runner) submit(ctx context.Context, plan Plan, stats *Stats) {
	r.log.Info(ctx, "submitting scores", logger.Int("submissions", plan.Submissions()), logger.Int("workers", r.cfg.Workers))

	var wg sync.WaitGroup
	for w := 0; w < r.cfg.Workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := worker; i < len(plan.Players); i += r.cfg.Workers {
				p := plan.Players[i]
				for _, score := range p.Scores {
					if ctx.Err() != nil {
						return
					}
					throttled, err := r.client.SaveScore(ctx, p.Identity, p.Name, score)
					atomic.AddInt64(&stats.Submitted, 1)
					atomic.AddInt64(&stats.Throttled, int64(throttled))
					if err != nil {
						atomic.AddInt64(&stats.Failed, 1)
						r.log.Warn(ctx, "submission failed", logger.String("user_id", p.Identity.String()), logger.Error(err))
						continue
					}
					atomic.AddInt64(&stats.Successful, 1)
				}
			}
		}(w)
	}
	wg.Wait()
}

func (r *Runner) report(ctx context.Context, stats *Stats) {
	var perSecond float64
	if stats.Duration > 0 {
		perSecond = float64(stats.Submitted) / stats.Duration.Seconds()
	}
	r.log.Info(ctx, "final statistics",
		logger.Int64("submitted", stats.Submitted),
		logger.Int64("successful", stats.Successful),
		logger.Int64("failed", stats.Failed),
		logger.Int64("throttled", stats.Throttled),
		logger.Int("leaderboardEntries", stats.Entries),
		logger.Int("unlistedPlayers", stats.Unlisted),
		logger.Duration("duration", stats.Duration),
		logger.Float64("submissionsPerSecond", perSecond))
}
