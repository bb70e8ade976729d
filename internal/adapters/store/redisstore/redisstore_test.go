package redisstore

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/okian/scoreboard/internal/adapters/store"
	"github.com/okian/scoreboard/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestParseAddr(t *testing.T) {
	Convey("Given redis addresses", t, func() {
		Convey("When a host:port is given", func() {
			opts, err := parseAddr("localhost:6379")
			So(err, ShouldBeNil)
			So(opts.Addr, ShouldEqual, "localhost:6379")
		})

		Convey("When a URL with a database is given", func() {
			opts, err := parseAddr("redis://:secret@cache:6380/2")
			So(err, ShouldBeNil)
			So(opts.Addr, ShouldEqual, "cache:6380")
			So(opts.Password, ShouldEqual, "secret")
			So(opts.DB, ShouldEqual, 2)
		})

		Convey("When nothing is given", func() {
			_, err := parseAddr(" ")
			So(errors.Is(err, ErrInvalidConfig), ShouldBeTrue)
		})
	})

	Convey("Given an empty key", t, func() {
		_, err := New("localhost:6379", "")
		So(errors.Is(err, ErrInvalidConfig), ShouldBeTrue)
	})
}

// TestRedisStoreCompareAndSwap runs against a live server when
// SCOREBOARD_TEST_REDIS_ADDR is set.
func TestRedisStoreCompareAndSwap(t *testing.T) {
	addr := os.Getenv("SCOREBOARD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SCOREBOARD_TEST_REDIS_ADDR not set")
	}

	Convey("Given a fresh key", t, func() {
		ctx := context.Background()
		key := "scoreboard:test:" + uuid.NewString()
		s, err := New(addr, key)
		So(err, ShouldBeNil)
		Reset(func() {
			s.rdb.Del(ctx, s.key, s.revKey)
			_ = s.Close()
		})
		So(s.Verify(ctx), ShouldBeNil)

		_, err = s.Fetch(ctx)
		So(errors.Is(err, store.ErrNotFound), ShouldBeTrue)

		Convey("When provisioned and written", func() {
			rev, err := s.Provision(ctx)
			So(err, ShouldBeNil)
			_, err = s.Provision(ctx)
			So(errors.Is(err, store.ErrConflict), ShouldBeTrue)

			next, err := s.Write(ctx, []model.ScoreRecord{{Identity: "7", DisplayName: "x", Score: 3}}, rev)
			So(err, ShouldBeNil)

			Convey("Then the stale revision conflicts and the fresh one is readable", func() {
				_, err := s.Write(ctx, nil, rev)
				So(errors.Is(err, store.ErrConflict), ShouldBeTrue)

				doc, err := s.Fetch(ctx)
				So(err, ShouldBeNil)
				So(doc.Revision, ShouldEqual, next)
				So(doc.Records, ShouldResemble, []model.ScoreRecord{{Identity: "7", DisplayName: "x", Score: 3}})
			})
		})
	})
}
