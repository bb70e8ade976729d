// Package service provides the leaderboard service used by the HTTP API. It
// owns the fetch, merge and write cycle against a versioned store and derives
// ranked snapshots from it.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/okian/scoreboard/internal/adapters/store"
	"github.com/okian/scoreboard/internal/domain/leaderboard"
	"github.com/okian/scoreboard/internal/domain/model"
	"github.com/okian/scoreboard/internal/retry"
	"github.com/okian/scoreboard/pkg/logger"
	"github.com/okian/scoreboard/pkg/metrics"
)

const (
	tracerName = "github.com/okian/scoreboard/internal/app"

	opSubmit = "submit"
	opQuery  = "query"

	defaultMaxTopN = 100
)

// Submission is a score reported by the game client.
type Submission struct {
	Identity    model.Identity
	DisplayName string
	Score       int64
}

func (s Submission) validate() error {
	switch {
	case s.Identity.IsZero():
		return fmt.Errorf("%w: missing user_id", ErrValidation)
	case strings.TrimSpace(s.DisplayName) == "":
		return fmt.Errorf("%w: missing username", ErrValidation)
	case s.Score < 0:
		return fmt.Errorf("%w: score must not be negative", ErrValidation)
	}
	return nil
}

// SubmitResult reports what a submission did. Both flags are false when the
// submission was accepted without changing state.
type SubmitResult struct {
	Created  bool
	Updated  bool
	Attempts int
}

// Query asks for the top entries and, when Identity is set, the requester's rank.
type Query struct {
	TopN        int
	Identity    model.Identity
	ClientScore int64
}

// LeaderboardView is the answer to a Query.
type LeaderboardView struct {
	Entries []model.ScoreRecord
	// Rank is nil when the query carried no identity.
	Rank *int
}

// Service implements the API dependencies for the leaderboard.
type Service struct {
	store   store.VersionedStore
	policy  leaderboard.Policy
	retrier *retry.Retrier
	retryP  retry.Policy
	maxTopN int
	tracer  trace.Tracer
	logger  logger.Logger

	submitted   atomic.Int64
	created     atomic.Int64
	updated     atomic.Int64
	unchanged   atomic.Int64
	failed      atomic.Int64
	queries     atomic.Int64
	lastRecords atomic.Int64
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithPolicy sets the merge policy. Defaults to overwrite.
func WithPolicy(p leaderboard.Policy) Option {
	return func(s *Service) {
		if p != "" {
			s.policy = p
		}
	}
}

// WithRetryPolicy sets the bounds of the fetch/merge/write retry loop.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Service) {
		s.retryP = p
	}
}

// WithMaxTopN caps the number of entries a query may return.
func WithMaxTopN(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxTopN = n
		}
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service over st.
func New(st store.VersionedStore, opts ...Option) *Service {
	s := &Service{
		store:   st,
		policy:  leaderboard.PolicyOverwrite,
		retryP:  retry.DefaultPolicy(),
		maxTopN: defaultMaxTopN,
		tracer:  otel.Tracer(tracerName),
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.retrier = retry.New(s.retryP, retry.WithLogger(s.logger))
	return s
}

// Policy returns the configured merge policy.
func (s *Service) Policy() leaderboard.Policy { return s.policy }

// SubmitScore merges sub into the stored records. Conflicting and transient
// failures rerun the whole cycle on fresh state; a submission that changes
// nothing is accepted without a write.
func (s *Service) SubmitScore(ctx context.Context, sub Submission) (SubmitResult, error) {
	if err := sub.validate(); err != nil {
		metrics.RecordSubmission("invalid")
		return SubmitResult{}, err
	}
	s.submitted.Add(1)

	ctx, span := s.tracer.Start(ctx, "Service.SubmitScore", trace.WithAttributes(
		attribute.String("score.identity", sub.Identity.String()),
		attribute.Int64("score.value", sub.Score),
		attribute.String("merge.policy", string(s.policy)),
	))
	defer span.End()

	rec := model.ScoreRecord{Identity: sub.Identity, DisplayName: sub.DisplayName, Score: sub.Score}
	var outcome leaderboard.Outcome
	attempts, err := s.retrier.Do(ctx, opSubmit, store.Retryable, func(ctx context.Context, attempt int) error {
		o, err := s.submitOnce(ctx, rec)
		if err != nil {
			s.logger.Debug(ctx, "submit cycle failed",
				logger.Int("attempt", attempt),
				logger.String("kind", store.Kind(err)),
				logger.Error(err))
			return err
		}
		outcome = o
		return nil
	})
	span.SetAttributes(attribute.Int("submit.attempts", attempts))

	if err != nil {
		s.failed.Add(1)
		metrics.RecordSubmission("failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		s.logFailure(ctx, "score submission failed", err,
			logger.String("user_id", sub.Identity.String()),
			logger.Int("attempts", attempts))
		return SubmitResult{Attempts: attempts}, err
	}

	switch outcome {
	case leaderboard.Created:
		s.created.Add(1)
	case leaderboard.Updated:
		s.updated.Add(1)
	default:
		s.unchanged.Add(1)
	}
	metrics.RecordSubmission(outcome.String())
	metrics.RecordCycleAttempts(attempts)
	span.SetAttributes(attribute.String("submit.outcome", outcome.String()))
	s.logger.Info(ctx, "score saved",
		logger.String("user_id", sub.Identity.String()),
		logger.Int64("score", sub.Score),
		logger.String("outcome", outcome.String()),
		logger.Int("attempts", attempts))

	return SubmitResult{
		Created:  outcome == leaderboard.Created,
		Updated:  outcome == leaderboard.Updated,
		Attempts: attempts,
	}, nil
}

func (s *Service) submitOnce(ctx context.Context, rec model.ScoreRecord) (leaderboard.Outcome, error) {
	doc, err := s.fetchOrProvision(ctx)
	if err != nil {
		return leaderboard.Unchanged, err
	}
	merged, outcome := leaderboard.Merge(doc.Records, rec, s.policy)
	if outcome == leaderboard.Unchanged {
		return outcome, nil
	}
	if _, err := s.store.Write(ctx, merged, doc.Revision); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Removed after the fetch; the next cycle provisions it again.
			return leaderboard.Unchanged, fmt.Errorf("%w: document removed: %v", store.ErrConflict, err)
		}
		return leaderboard.Unchanged, err
	}
	s.lastRecords.Store(int64(len(merged)))
	return outcome, nil
}

// fetchOrProvision returns the current document, creating it on first use.
// A concurrent provision surfaces as ErrConflict and restarts the cycle.
func (s *Service) fetchOrProvision(ctx context.Context) (model.Document, error) {
	doc, err := s.store.Fetch(ctx)
	if err == nil {
		s.lastRecords.Store(int64(len(doc.Records)))
		return doc, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return model.Document{}, err
	}

	s.logger.Info(ctx, "leaderboard document missing, provisioning")
	rev, err := s.store.Provision(ctx)
	if err != nil {
		return model.Document{}, err
	}
	s.lastRecords.Store(0)
	return model.Document{Records: []model.ScoreRecord{}, Revision: rev}, nil
}

// QueryLeaderboard returns the top q.TopN entries and the requester's rank.
// It never writes; a missing document reads as empty.
func (s *Service) QueryLeaderboard(ctx context.Context, q Query) (LeaderboardView, error) {
	if q.TopN < 1 {
		metrics.RecordQuery("invalid")
		return LeaderboardView{}, fmt.Errorf("%w: limit must be at least 1", ErrValidation)
	}
	if q.TopN > s.maxTopN {
		q.TopN = s.maxTopN
	}
	s.queries.Add(1)

	ctx, span := s.tracer.Start(ctx, "Service.QueryLeaderboard", trace.WithAttributes(
		attribute.Int("query.top_n", q.TopN),
		attribute.Bool("query.has_identity", !q.Identity.IsZero()),
	))
	defer span.End()

	var records []model.ScoreRecord
	_, err := s.retrier.Do(ctx, opQuery, isTransient, func(ctx context.Context, _ int) error {
		doc, err := s.store.Fetch(ctx)
		switch {
		case err == nil:
			records = doc.Records
		case errors.Is(err, store.ErrNotFound):
			records = nil
		default:
			return err
		}
		return nil
	})
	if err != nil {
		metrics.RecordQuery("failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		s.logFailure(ctx, "leaderboard query failed", err)
		return LeaderboardView{}, err
	}
	s.lastRecords.Store(int64(len(records)))

	view := LeaderboardView{Entries: leaderboard.Top(leaderboard.Snapshot(records), q.TopN)}
	if !q.Identity.IsZero() {
		effective := leaderboard.EffectiveScore(records, q.Identity, q.ClientScore)
		rank := leaderboard.RankOf(records, effective)
		view.Rank = &rank
		span.SetAttributes(attribute.Int("query.rank", rank))
	}
	metrics.RecordQuery("ok")
	return view, nil
}

func isTransient(err error) bool {
	return errors.Is(err, store.ErrTransient)
}

// logFailure logs fatal store errors at error level and everything else at warn.
func (s *Service) logFailure(ctx context.Context, msg string, err error, fields ...logger.Field) {
	fields = append(fields, logger.String("kind", store.Kind(err)), logger.Error(err))
	if errors.Is(err, store.ErrFatal) || errors.Is(err, ErrRetriesExhausted) {
		s.logger.Error(ctx, msg, fields...)
		return
	}
	s.logger.Warn(ctx, msg, fields...)
}

// Verify checks the store credentials when the backend supports it.
func (s *Service) Verify(ctx context.Context) error {
	if v, ok := s.store.(store.Verifier); ok {
		return v.Verify(ctx)
	}
	return nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"backend":       s.store.Name(),
		"mergePolicy":   string(s.policy),
		"maxAttempts":   s.retrier.Policy().MaxAttempts,
		"records":       s.lastRecords.Load(),
		"submissions":   s.submitted.Load(),
		"created":       s.created.Load(),
		"updated":       s.updated.Load(),
		"unchanged":     s.unchanged.Load(),
		"failedSubmits": s.failed.Load(),
		"queries":       s.queries.Load(),
	}
}
