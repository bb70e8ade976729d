package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/okian/scoreboard/internal/adapters/store"
	"github.com/okian/scoreboard/internal/adapters/store/memstore"
	service "github.com/okian/scoreboard/internal/app"
	"github.com/okian/scoreboard/internal/domain/leaderboard"
	"github.com/okian/scoreboard/internal/domain/model"
	"github.com/okian/scoreboard/internal/retry"
	"github.com/okian/scoreboard/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func fastRetry(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 3 * time.Millisecond}
}

func newService(st store.VersionedStore, opts ...service.Option) *service.Service {
	base := []service.Option{
		service.WithRetryPolicy(fastRetry(5)),
		service.WithTracer(noop.NewTracerProvider().Tracer("test")),
		service.WithLogger(logger.Get()),
	}
	return service.New(st, append(base, opts...)...)
}

// countingStore records how many calls reach the backend.
type countingStore struct {
	store.VersionedStore
	calls  atomic.Int64
	failOn map[string]int // op -> remaining transient failures
	mu     sync.Mutex
}

func (c *countingStore) fail(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failOn[op] > 0 {
		c.failOn[op]--
		return fmt.Errorf("%s: %w", op, store.ErrTransient)
	}
	return nil
}

func (c *countingStore) Fetch(ctx context.Context) (model.Document, error) {
	c.calls.Add(1)
	if err := c.fail("fetch"); err != nil {
		return model.Document{}, err
	}
	return c.VersionedStore.Fetch(ctx)
}

func (c *countingStore) Provision(ctx context.Context) (string, error) {
	c.calls.Add(1)
	return c.VersionedStore.Provision(ctx)
}

func (c *countingStore) Write(ctx context.Context, r []model.ScoreRecord, rev string) (string, error) {
	c.calls.Add(1)
	return c.VersionedStore.Write(ctx, r, rev)
}

func TestService_Validation(t *testing.T) {
	Convey("Given a service over a counting store", t, func() {
		cs := &countingStore{VersionedStore: memstore.New()}
		svc := newService(cs)
		ctx := context.Background()

		Convey("When submissions are malformed", func() {
			bad := []service.Submission{
				{Identity: "", DisplayName: "x", Score: 1},
				{Identity: "1", DisplayName: "  ", Score: 1},
				{Identity: "1", DisplayName: "x", Score: -5},
			}
			for _, sub := range bad {
				_, err := svc.SubmitScore(ctx, sub)
				So(errors.Is(err, service.ErrValidation), ShouldBeTrue)
			}

			Convey("Then the store is never touched", func() {
				So(cs.calls.Load(), ShouldEqual, 0)
			})
		})

		Convey("When a query asks for no entries", func() {
			_, err := svc.QueryLeaderboard(ctx, service.Query{TopN: 0})

			Convey("Then it is rejected without store calls", func() {
				So(errors.Is(err, service.ErrValidation), ShouldBeTrue)
				So(cs.calls.Load(), ShouldEqual, 0)
			})
		})
	})
}

func TestService_SubmitScore(t *testing.T) {
	Convey("Given an empty, unprovisioned store", t, func() {
		ms := memstore.New()
		svc := newService(ms)
		ctx := context.Background()

		Convey("When the first score is submitted", func() {
			res, err := svc.SubmitScore(ctx, service.Submission{Identity: "42", DisplayName: "neo", Score: 10})

			Convey("Then the document is provisioned and the record created", func() {
				So(err, ShouldBeNil)
				So(res.Created, ShouldBeTrue)
				So(res.Attempts, ShouldEqual, 1)
				So(ms.Records(), ShouldResemble, []model.ScoreRecord{{Identity: "42", DisplayName: "neo", Score: 10}})
			})

			Convey("And a second submission for the same identity updates in place", func() {
				res, err := svc.SubmitScore(ctx, service.Submission{Identity: "42", DisplayName: "neo2", Score: 3})
				So(err, ShouldBeNil)
				So(res.Updated, ShouldBeTrue)
				So(ms.Records(), ShouldResemble, []model.ScoreRecord{{Identity: "42", DisplayName: "neo2", Score: 3}})
			})

			Convey("And an identical resubmission skips the write", func() {
				writes := ms.Writes()
				res, err := svc.SubmitScore(ctx, service.Submission{Identity: "42", DisplayName: "neo", Score: 10})
				So(err, ShouldBeNil)
				So(res.Created || res.Updated, ShouldBeFalse)
				So(ms.Writes(), ShouldEqual, writes)
			})
		})
	})

	Convey("Given a monotonic service", t, func() {
		ms := memstore.New(memstore.WithRecords([]model.ScoreRecord{{Identity: "u", DisplayName: "U", Score: 50}}))
		svc := newService(ms, service.WithPolicy(leaderboard.PolicyMonotonic))
		ctx := context.Background()

		Convey("When a lower score arrives", func() {
			res, err := svc.SubmitScore(ctx, service.Submission{Identity: "u", DisplayName: "renamed", Score: 40})

			Convey("Then it is accepted with no state change and no write", func() {
				So(err, ShouldBeNil)
				So(res.Updated, ShouldBeFalse)
				So(ms.Writes(), ShouldEqual, 0)
				So(ms.Records()[0], ShouldResemble, model.ScoreRecord{Identity: "u", DisplayName: "U", Score: 50})
			})
		})

		Convey("When the same submission is applied twice", func() {
			sub := service.Submission{Identity: "u", DisplayName: "U", Score: 70}
			_, err1 := svc.SubmitScore(ctx, sub)
			after1 := ms.Records()
			_, err2 := svc.SubmitScore(ctx, sub)

			Convey("Then the second leaves the state unchanged", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(ms.Records(), ShouldResemble, after1)
				So(after1[0].Score, ShouldEqual, 70)
			})
		})
	})
}

func TestService_ConflictRetry(t *testing.T) {
	Convey("Given a store where another writer commits before our first two writes", t, func() {
		var ms *memstore.Store
		ms = memstore.New(
			memstore.WithRecords([]model.ScoreRecord{{Identity: "a", DisplayName: "A", Score: 1}}),
			memstore.WithWriteHook(func(_ context.Context, n int) error {
				if n <= 2 {
					ms.Put(append(ms.Records(), model.ScoreRecord{Identity: model.Identity(fmt.Sprintf("ext-%d", n)), DisplayName: "ext", Score: int64(n)}))
				}
				return nil
			}),
		)
		svc := newService(ms)

		Convey("When a score is submitted", func() {
			res, err := svc.SubmitScore(context.Background(), service.Submission{Identity: "b", DisplayName: "B", Score: 5})

			Convey("Then it converges on the third cycle over the fresh state", func() {
				So(err, ShouldBeNil)
				So(res.Attempts, ShouldEqual, 3)
				So(res.Created, ShouldBeTrue)
				ids := []model.Identity{}
				for _, r := range ms.Records() {
					ids = append(ids, r.Identity)
				}
				So(ids, ShouldResemble, []model.Identity{"a", "ext-1", "ext-2", "b"})
			})
		})
	})

	Convey("Given a store that always loses the race", t, func() {
		var ms *memstore.Store
		ms = memstore.New(
			memstore.WithRecords(nil),
			memstore.WithWriteHook(func(_ context.Context, n int) error {
				ms.Put(ms.Records())
				return nil
			}),
		)
		svc := newService(ms, service.WithRetryPolicy(fastRetry(4)))

		Convey("When a score is submitted", func() {
			res, err := svc.SubmitScore(context.Background(), service.Submission{Identity: "b", DisplayName: "B", Score: 5})

			Convey("Then retries are exhausted and the last cause is kept", func() {
				So(errors.Is(err, service.ErrRetriesExhausted), ShouldBeTrue)
				So(errors.Is(err, store.ErrConflict), ShouldBeTrue)
				So(res.Attempts, ShouldEqual, 4)
				So(ms.Records(), ShouldBeEmpty)
			})
		})
	})

	Convey("Given a document that is deleted between our fetch and write", t, func() {
		var ms *memstore.Store
		ms = memstore.New(
			memstore.WithRecords([]model.ScoreRecord{{Identity: "a", DisplayName: "A", Score: 1}}),
			memstore.WithWriteHook(func(_ context.Context, n int) error {
				if n == 1 {
					ms.Remove()
				}
				return nil
			}),
		)
		svc := newService(ms)

		Convey("When a score is submitted", func() {
			res, err := svc.SubmitScore(context.Background(), service.Submission{Identity: "b", DisplayName: "B", Score: 5})

			Convey("Then the next cycle provisions a fresh document and writes to it", func() {
				So(err, ShouldBeNil)
				So(res.Attempts, ShouldEqual, 2)
				So(res.Created, ShouldBeTrue)
				So(ms.Records(), ShouldResemble, []model.ScoreRecord{{Identity: "b", DisplayName: "B", Score: 5}})
			})
		})
	})

	Convey("Given a store that rejects writes fatally", t, func() {
		ms := memstore.New(
			memstore.WithRecords(nil),
			memstore.WithWriteHook(func(context.Context, int) error {
				return fmt.Errorf("write: %w", store.ErrFatal)
			}),
		)
		svc := newService(ms)

		Convey("When a score is submitted", func() {
			res, err := svc.SubmitScore(context.Background(), service.Submission{Identity: "b", DisplayName: "B", Score: 5})

			Convey("Then it aborts after one attempt", func() {
				So(errors.Is(err, store.ErrFatal), ShouldBeTrue)
				So(errors.Is(err, service.ErrRetriesExhausted), ShouldBeFalse)
				So(res.Attempts, ShouldEqual, 1)
			})
		})
	})
}

func TestService_ConcurrentDistinctIdentities(t *testing.T) {
	Convey("Given concurrent submissions for distinct identities on an empty store", t, func() {
		ms := memstore.New()
		svc := newService(ms, service.WithRetryPolicy(retry.Policy{
			MaxAttempts: 200, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond,
		}))
		const players = 10

		var wg sync.WaitGroup
		errs := make(chan error, players)
		for i := 0; i < players; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := svc.SubmitScore(context.Background(), service.Submission{
					Identity:    model.Identity(fmt.Sprintf("p%d", i)),
					DisplayName: fmt.Sprintf("player %d", i),
					Score:       int64(i * 10),
				})
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)

		Convey("Then no update is lost", func() {
			for err := range errs {
				So(err, ShouldBeNil)
			}
			recs := ms.Records()
			So(recs, ShouldHaveLength, players)
			seen := map[model.Identity]int64{}
			for _, r := range recs {
				seen[r.Identity] = r.Score
			}
			for i := 0; i < players; i++ {
				So(seen[model.Identity(fmt.Sprintf("p%d", i))], ShouldEqual, int64(i*10))
			}
		})
	})
}

// commitLog serializes writes to the wrapped store and remembers the score
// each successful write stored for one identity.
type commitLog struct {
	store.VersionedStore
	id        model.Identity
	mu        sync.Mutex
	committed []int64
}

func (c *commitLog) Write(ctx context.Context, r []model.ScoreRecord, rev string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, err := c.VersionedStore.Write(ctx, r, rev)
	if err == nil {
		for _, rec := range r {
			if rec.Identity == c.id {
				c.committed = append(c.committed, rec.Score)
			}
		}
	}
	return next, err
}

func TestService_ConcurrentSameIdentity(t *testing.T) {
	const submitters = 20

	submitAll := func(svc *service.Service) []error {
		var wg sync.WaitGroup
		errs := make([]error, submitters)
		for i := 0; i < submitters; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = svc.SubmitScore(context.Background(), service.Submission{
					Identity:    "p",
					DisplayName: fmt.Sprintf("attempt %d", i+1),
					Score:       int64(i + 1),
				})
			}(i)
		}
		wg.Wait()
		return errs
	}
	patient := service.WithRetryPolicy(retry.Policy{
		MaxAttempts: 500, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond,
	})

	Convey("Given concurrent submissions for one identity under the monotonic policy", t, func() {
		ms := memstore.New()
		svc := newService(ms, patient, service.WithPolicy(leaderboard.PolicyMonotonic))

		errs := submitAll(svc)

		Convey("Then the highest score wins regardless of commit order", func() {
			for _, err := range errs {
				So(err, ShouldBeNil)
			}
			recs := ms.Records()
			So(recs, ShouldHaveLength, 1)
			So(recs[0].Identity, ShouldEqual, model.Identity("p"))
			So(recs[0].Score, ShouldEqual, int64(submitters))
		})
	})

	Convey("Given concurrent submissions for one identity under the overwrite policy", t, func() {
		ms := memstore.New()
		log := &commitLog{VersionedStore: ms, id: "p"}
		svc := newService(log, patient)

		errs := submitAll(svc)

		Convey("Then the last committed write wins", func() {
			for _, err := range errs {
				So(err, ShouldBeNil)
			}
			recs := ms.Records()
			So(recs, ShouldHaveLength, 1)
			So(log.committed, ShouldHaveLength, submitters)
			So(recs[0].Score, ShouldEqual, log.committed[len(log.committed)-1])
			So(recs[0].Score, ShouldBeBetweenOrEqual, int64(1), int64(submitters))
		})
	})
}

func TestService_QueryLeaderboard(t *testing.T) {
	Convey("Given an unprovisioned store", t, func() {
		ms := memstore.New()
		svc := newService(ms)

		Convey("When querying with an identity", func() {
			view, err := svc.QueryLeaderboard(context.Background(), service.Query{TopN: 10, Identity: "x", ClientScore: 0})

			Convey("Then the board is empty, rank is 1 and nothing is provisioned", func() {
				So(err, ShouldBeNil)
				So(view.Entries, ShouldBeEmpty)
				So(*view.Rank, ShouldEqual, 1)
				_, ferr := ms.Fetch(context.Background())
				So(errors.Is(ferr, store.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When querying without an identity", func() {
			view, err := svc.QueryLeaderboard(context.Background(), service.Query{TopN: 10})

			Convey("Then rank is absent", func() {
				So(err, ShouldBeNil)
				So(view.Rank, ShouldBeNil)
			})
		})
	})

	Convey("Given records A=50, B=80, C=80, D=10", t, func() {
		ms := memstore.New(memstore.WithRecords([]model.ScoreRecord{
			{Identity: "A", DisplayName: "a", Score: 50},
			{Identity: "B", DisplayName: "b", Score: 80},
			{Identity: "C", DisplayName: "c", Score: 80},
			{Identity: "D", DisplayName: "d", Score: 10},
		}))
		svc := newService(ms, service.WithMaxTopN(3))
		ctx := context.Background()

		rankOf := func(id model.Identity, reported int64) int {
			view, err := svc.QueryLeaderboard(ctx, service.Query{TopN: 1, Identity: id, ClientScore: reported})
			So(err, ShouldBeNil)
			return *view.Rank
		}

		Convey("Then ranks follow strict-greater counting", func() {
			So(rankOf("A", 0), ShouldEqual, 3)
			So(rankOf("B", 0), ShouldEqual, 1)
			So(rankOf("C", 0), ShouldEqual, 1)
			So(rankOf("D", 0), ShouldEqual, 4)
		})

		Convey("Then a higher reported score outranks the stored one", func() {
			So(rankOf("D", 60), ShouldEqual, 3)
			So(rankOf("new", 90), ShouldEqual, 1)
		})

		Convey("When asking for more entries than allowed", func() {
			view, err := svc.QueryLeaderboard(ctx, service.Query{TopN: 50})

			Convey("Then the limit is capped and ties keep document order", func() {
				So(err, ShouldBeNil)
				So(view.Entries, ShouldHaveLength, 3)
				So(view.Entries[0].Identity, ShouldEqual, model.Identity("B"))
				So(view.Entries[1].Identity, ShouldEqual, model.Identity("C"))
				So(view.Entries[2].Identity, ShouldEqual, model.Identity("A"))
			})
		})
	})

	Convey("Given a store whose first two reads fail transiently", t, func() {
		cs := &countingStore{
			VersionedStore: memstore.New(memstore.WithRecords([]model.ScoreRecord{{Identity: "a", DisplayName: "A", Score: 1}})),
			failOn:         map[string]int{"fetch": 2},
		}
		svc := newService(cs)

		Convey("When querying", func() {
			view, err := svc.QueryLeaderboard(context.Background(), service.Query{TopN: 10})

			Convey("Then the read is retried", func() {
				So(err, ShouldBeNil)
				So(view.Entries, ShouldHaveLength, 1)
				So(cs.calls.Load(), ShouldEqual, 3)
			})
		})
	})
}

func TestService_Stats(t *testing.T) {
	Convey("Given a service with one submission", t, func() {
		svc := newService(memstore.New())
		_, err := svc.SubmitScore(context.Background(), service.Submission{Identity: "1", DisplayName: "x", Score: 1})
		So(err, ShouldBeNil)

		Convey("Then stats reflect it", func() {
			stats := svc.GetStats()
			So(stats["backend"], ShouldEqual, "memory")
			So(stats["mergePolicy"], ShouldEqual, "overwrite")
			So(stats["created"], ShouldEqual, int64(1))
			So(stats["records"], ShouldEqual, int64(1))
			So(svc.Verify(context.Background()), ShouldBeNil)
		})
	})
}
