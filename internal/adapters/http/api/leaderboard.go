package api

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"

	service "github.com/okian/scoreboard/internal/app"
	"github.com/okian/scoreboard/internal/domain/model"
	"github.com/okian/scoreboard/internal/domain/types"
	"github.com/okian/scoreboard/pkg/logger"
)

// LeaderboardDependencies defines the interface for leaderboard queries.
type LeaderboardDependencies interface {
	QueryLeaderboard(ctx context.Context, q service.Query) (service.LeaderboardView, error)
}

// LeaderboardHandler handles leaderboard requests.
type LeaderboardHandler struct {
	deps         LeaderboardDependencies
	defaultLimit int
	logger       logger.Logger
}

// NewLeaderboardHandler creates a new leaderboard handler.
func NewLeaderboardHandler(deps LeaderboardDependencies, defaultLimit int, l logger.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{
		deps:         deps,
		defaultLimit: defaultLimit,
		logger:       l,
	}
}

// HandleGetLeaderboard handles GET /get_leaderboard_with_rank?user_id=&score=&limit= requests.
func (h *LeaderboardHandler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	params := r.URL.Query()

	score, err := intParam(params.Get("score"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "score must be an integer")
		return
	}
	limit, err := intParam(params.Get("limit"), int64(h.defaultLimit))
	if err != nil || limit < 1 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	if limit > math.MaxInt32 {
		limit = math.MaxInt32
	}

	view, err := h.deps.QueryLeaderboard(ctx, service.Query{
		TopN:        int(limit),
		Identity:    model.ParseIdentity(params.Get("user_id")),
		ClientScore: score,
	})
	switch {
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error(ctx, "failed to load leaderboard",
			logger.String("request_id", RequestID(ctx)),
			logger.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load leaderboard")
		return
	}

	entries := view.Entries
	if entries == nil {
		entries = []model.ScoreRecord{}
	}
	writeJSON(w, http.StatusOK, types.LeaderboardResponse{
		Status:      types.StatusOK,
		Leaderboard: entries,
		UserRank:    view.Rank,
	})
}

// intParam parses an optional integer query parameter.
func intParam(raw string, def int64) (int64, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
