package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/okian/scoreboard/internal/adapters/http/api"
	"github.com/okian/scoreboard/internal/adapters/store"
	"github.com/okian/scoreboard/internal/config"
	"github.com/okian/scoreboard/internal/domain/types"
	"github.com/okian/scoreboard/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func memoryConfig() *config.Config {
	cfg := config.New(context.Background())
	cfg.StoreBackend = config.BackendMemory
	cfg.TopN = 2
	cfg.RateLimitRPS = 0
	return cfg
}

func TestOpenStore(t *testing.T) {
	convey.Convey("Given the backend selection", t, func() {
		ctx := context.Background()

		convey.Convey("When the memory backend is selected", func() {
			st, closeStore, err := openStore(ctx, memoryConfig(), logger.Nop())

			convey.Convey("Then an instrumented in-memory store is returned", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(st.Name(), convey.ShouldEqual, "memory")
				convey.So(closeStore(), convey.ShouldBeNil)
			})
		})

		convey.Convey("When the github backend has no repository", func() {
			cfg := memoryConfig()
			cfg.StoreBackend = config.BackendGitHub
			cfg.GitHubToken = "tok"

			_, _, err := openStore(ctx, cfg, logger.Nop())

			convey.Convey("Then it is rejected", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When the github backend logs through the process logger", func() {
			gh := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"login":"octocat"}`))
			}))
			defer gh.Close()

			var buf bytes.Buffer
			convey.So(logger.InitWithWriter(&buf, "json"), convey.ShouldBeNil)
			defer func() { _ = logger.Init() }()

			cfg := memoryConfig()
			cfg.StoreBackend = config.BackendGitHub
			cfg.GitHubToken = "tok"
			cfg.GitHubRepo = "acme/game"
			cfg.GitHubAPIURL = gh.URL
			st, _, err := openStore(ctx, cfg, logger.Get())
			convey.So(err, convey.ShouldBeNil)

			v, ok := st.(store.Verifier)
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(v.Verify(ctx), convey.ShouldBeNil)

			convey.Convey("Then each record names its component once", func() {
				line := strings.TrimSpace(buf.String())
				convey.So(line, convey.ShouldContainSubstring, "github token accepted")
				convey.So(strings.Count(line, `"component"`), convey.ShouldEqual, 1)
				convey.So(line, convey.ShouldContainSubstring, `"component":"githubstore"`)
			})
		})

		convey.Convey("When the backend is unknown", func() {
			cfg := memoryConfig()
			cfg.StoreBackend = "s3"

			_, _, err := openStore(ctx, cfg, logger.Nop())

			convey.Convey("Then it is an invalid config", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func TestNewHandler(t *testing.T) {
	convey.Convey("Given a fully wired handler on the memory backend", t, func() {
		cfg := memoryConfig()
		st, _, err := openStore(context.Background(), cfg, logger.Nop())
		convey.So(err, convey.ShouldBeNil)
		svc, err := newService(cfg, st, logger.Nop())
		convey.So(err, convey.ShouldBeNil)
		convey.So(svc.Verify(context.Background()), convey.ShouldBeNil)
		h := newHandler(cfg, svc, logger.Nop())

		save := func(body string) *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodPost, "/save_score", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			return rec
		}

		convey.Convey("When three players submit and one queries", func() {
			convey.So(save(`{"user_id": 1, "username": "ann", "score": 30}`).Code, convey.ShouldEqual, http.StatusOK)
			convey.So(save(`{"user_id": 2, "username": "bob", "score": 20}`).Code, convey.ShouldEqual, http.StatusOK)
			convey.So(save(`{"user_id": 3, "username": "cy", "score": 10}`).Code, convey.ShouldEqual, http.StatusOK)

			req := httptest.NewRequest(http.MethodGet, "/get_leaderboard_with_rank?user_id=3&score=25", nil)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			convey.Convey("Then the configured top_n applies and the rank uses the better score", func() {
				convey.So(rec.Code, convey.ShouldEqual, http.StatusOK)
				convey.So(rec.Header().Get(api.RequestIDHeader), convey.ShouldNotBeEmpty)

				var resp types.LeaderboardResponse
				convey.So(json.Unmarshal(rec.Body.Bytes(), &resp), convey.ShouldBeNil)
				convey.So(resp.Status, convey.ShouldEqual, types.StatusOK)
				convey.So(len(resp.Leaderboard), convey.ShouldEqual, 2)
				convey.So(resp.Leaderboard[0].DisplayName, convey.ShouldEqual, "ann")
				convey.So(resp.UserRank, convey.ShouldNotBeNil)
				convey.So(*resp.UserRank, convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When the API docs are requested", func() {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))

			convey.Convey("Then the embedded document is served", func() {
				convey.So(rec.Code, convey.ShouldEqual, http.StatusOK)
				convey.So(rec.Body.String(), convey.ShouldContainSubstring, "/save_score")
			})
		})
	})
}

func TestUpdateSystemMetrics(t *testing.T) {
	convey.Convey("Given the system metrics updater", t, func() {
		convey.So(updateSystemMetrics, convey.ShouldNotPanic)
	})
}
