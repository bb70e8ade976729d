package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	service "github.com/okian/scoreboard/internal/app"
	"github.com/okian/scoreboard/internal/domain/types"
	"github.com/okian/scoreboard/pkg/logger"
)

const maxBodyBytes = 1 << 16

// ScoresDependencies defines the interface for score submission.
type ScoresDependencies interface {
	SubmitScore(ctx context.Context, sub service.Submission) (service.SubmitResult, error)
}

// ScoresHandler handles score submissions.
type ScoresHandler struct {
	deps   ScoresDependencies
	logger logger.Logger
}

// NewScoresHandler creates a new scores handler.
func NewScoresHandler(deps ScoresDependencies, l logger.Logger) *ScoresHandler {
	return &ScoresHandler{deps: deps, logger: l}
}

// HandleSaveScore handles POST /save_score requests.
func (h *ScoresHandler) HandleSaveScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sub, err := decodeSubmission(r.Body)
	if err != nil {
		h.logger.Warn(ctx, "invalid save_score request", logger.String("request_id", RequestID(ctx)), logger.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.deps.SubmitScore(ctx, sub)
	switch {
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error(ctx, "failed to save score",
			logger.String("request_id", RequestID(ctx)),
			logger.String("user_id", sub.Identity.String()),
			logger.Int("attempts", res.Attempts),
			logger.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save score")
		return
	}
	writeJSON(w, http.StatusOK, types.StatusResponse{Status: types.StatusOK})
}

func decodeSubmission(body io.Reader) (service.Submission, error) {
	var req types.SaveScoreRequest
	dec := json.NewDecoder(io.LimitReader(body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		return service.Submission{}, fmt.Errorf("%w: invalid data: %v", ErrBadRequest, err)
	}
	switch {
	case req.UserID == nil || req.UserID.IsZero():
		return service.Submission{}, fmt.Errorf("%w: missing user_id", ErrBadRequest)
	case req.Username == nil:
		return service.Submission{}, fmt.Errorf("%w: missing username", ErrBadRequest)
	case req.Score == nil:
		return service.Submission{}, fmt.Errorf("%w: missing score", ErrBadRequest)
	}
	return service.Submission{
		Identity:    *req.UserID,
		DisplayName: *req.Username,
		Score:       *req.Score,
	}, nil
}
