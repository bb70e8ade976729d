package store

import (
	"context"
	"errors"
	"time"

	"github.com/okian/scoreboard/internal/domain/model"
	"github.com/okian/scoreboard/pkg/logger"
	"github.com/okian/scoreboard/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/okian/scoreboard/internal/adapters/store"

// Instrumented decorates a VersionedStore with a per-call deadline, tracing
// spans, Prometheus metrics and debug logging.
type Instrumented struct {
	inner   VersionedStore
	timeout time.Duration
	tracer  trace.Tracer
	log     logger.Logger
}

// InstrumentOption configures an Instrumented store.
type InstrumentOption func(*Instrumented)

// WithCallTimeout bounds every backend call. Zero disables the bound.
func WithCallTimeout(d time.Duration) InstrumentOption {
	return func(i *Instrumented) {
		if d >= 0 {
			i.timeout = d
		}
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) InstrumentOption {
	return func(i *Instrumented) {
		if t != nil {
			i.tracer = t
		}
	}
}

// WithLogger sets the logger used for per-call debug records.
func WithLogger(l logger.Logger) InstrumentOption {
	return func(i *Instrumented) {
		if l != nil {
			i.log = l
		}
	}
}

// Instrument wraps inner.
func Instrument(inner VersionedStore, opts ...InstrumentOption) *Instrumented {
	i := &Instrumented{
		inner:  inner,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Name implements VersionedStore.
func (i *Instrumented) Name() string { return i.inner.Name() }

// Fetch implements VersionedStore.
func (i *Instrumented) Fetch(ctx context.Context) (model.Document, error) {
	var doc model.Document
	err := i.call(ctx, "fetch", func(ctx context.Context) error {
		var err error
		doc, err = i.inner.Fetch(ctx)
		return err
	}, func(span trace.Span) {
		span.SetAttributes(attribute.Int("store.records", len(doc.Records)))
	})
	if err == nil {
		metrics.UpdateLeaderboardRecords(len(doc.Records))
	}
	return doc, err
}

// Provision implements VersionedStore.
func (i *Instrumented) Provision(ctx context.Context) (string, error) {
	var rev string
	err := i.call(ctx, "provision", func(ctx context.Context) error {
		var err error
		rev, err = i.inner.Provision(ctx)
		return err
	}, nil)
	if err == nil {
		metrics.RecordStoreProvision()
	}
	return rev, err
}

// Write implements VersionedStore.
func (i *Instrumented) Write(ctx context.Context, records []model.ScoreRecord, expectedRevision string) (string, error) {
	var rev string
	err := i.call(ctx, "write", func(ctx context.Context) error {
		var err error
		rev, err = i.inner.Write(ctx, records, expectedRevision)
		return err
	}, func(span trace.Span) {
		span.SetAttributes(attribute.Int("store.records", len(records)))
	})
	if errors.Is(err, ErrConflict) {
		metrics.RecordStoreConflict()
	}
	return rev, err
}

// Verify forwards to the wrapped backend when it supports credential checks.
func (i *Instrumented) Verify(ctx context.Context) error {
	v, ok := i.inner.(Verifier)
	if !ok {
		return nil
	}
	return i.call(ctx, "verify", v.Verify, nil)
}

func (i *Instrumented) call(ctx context.Context, op string, fn func(context.Context) error, annotate func(trace.Span)) error {
	ctx, span := i.tracer.Start(ctx, "store."+op, trace.WithAttributes(
		attribute.String("store.backend", i.inner.Name()),
	))
	defer span.End()

	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx)
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTransient) {
		err = ClassifyTransport(op, err)
	}
	elapsed := time.Since(start)
	kind := Kind(err)

	metrics.RecordStoreOperation(i.inner.Name(), op, kind, float64(elapsed.Microseconds())/1000)
	span.SetAttributes(attribute.String("store.result", kind))
	if annotate != nil && err == nil {
		annotate(span)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		if kind != "conflict" && kind != "not_found" {
			metrics.RecordErrorByComponent("store", kind)
			metrics.RecordErrorLatency("store", kind, float64(elapsed.Milliseconds()))
		}
	}
	if i.log != nil {
		i.log.Debug(ctx, "store call",
			logger.String("op", op),
			logger.String("result", kind),
			logger.Duration("elapsed", elapsed))
	}
	return err
}
