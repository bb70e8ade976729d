// Package types contains the HTTP wire shapes shared by the API and its clients.
package types

import "github.com/okian/scoreboard/internal/domain/model"

// Response status values.
const (
	StatusOK    = "OK"
	StatusError = "error"
)

// SaveScoreRequest is the body of POST /save_score. Fields are pointers so a
// missing field can be told apart from a zero value.
type SaveScoreRequest struct {
	UserID   *model.Identity `json:"user_id"`
	Username *string         `json:"username"`
	Score    *int64          `json:"score"`
}

// StatusResponse is returned by mutating endpoints and on every error.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// LeaderboardResponse is the body of GET /get_leaderboard_with_rank.
type LeaderboardResponse struct {
	Status      string              `json:"status"`
	Leaderboard []model.ScoreRecord `json:"leaderboard"`
	// UserRank is null when no user_id was supplied.
	UserRank *int `json:"user_rank"`
}
