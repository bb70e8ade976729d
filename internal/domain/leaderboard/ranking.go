package leaderboard

import (
	"sort"

	"github.com/okian/scoreboard/internal/domain/model"
)

// Snapshot returns the records ordered by score descending. Equal scores keep
// their document order.
func Snapshot(records []model.ScoreRecord) []model.ScoreRecord {
	out := make([]model.ScoreRecord, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// Top returns at most n leading entries of a snapshot.
func Top(snapshot []model.ScoreRecord, n int) []model.ScoreRecord {
	if n < 0 {
		n = 0
	}
	if n > len(snapshot) {
		n = len(snapshot)
	}
	return snapshot[:n]
}

// Find returns the stored record for id, if any.
func Find(records []model.ScoreRecord, id model.Identity) (model.ScoreRecord, bool) {
	for _, r := range records {
		if r.Identity == id {
			return r, true
		}
	}
	return model.ScoreRecord{}, false
}

// EffectiveScore is the score a requester is ranked by: the client-reported
// score when nothing is stored, otherwise the larger of stored and reported.
func EffectiveScore(records []model.ScoreRecord, id model.Identity, reported int64) int64 {
	stored, ok := Find(records, id)
	if !ok || reported > stored.Score {
		return reported
	}
	return stored.Score
}

// RankOf returns 1 + the number of records scoring strictly more than score.
// Equal scores share a rank.
func RankOf(records []model.ScoreRecord, score int64) int {
	rank := 1
	for _, r := range records {
		if r.Score > score {
			rank++
		}
	}
	return rank
}
