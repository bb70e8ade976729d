package loadgen

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"

	"github.com/okian/scoreboard/internal/domain/leaderboard"
	"github.com/okian/scoreboard/internal/domain/model"
)

// Player is one synthetic player and the scores it will submit, in order.
type Player struct {
	Identity model.Identity
	Name     string
	Scores   []int64
}

// Plan is the full set of submissions for a run.
type Plan struct {
	Players []Player
}

// NewPlan generates players with unique identities and random scores.
func NewPlan(players, rounds int, maxScore int64) Plan {
	p := Plan{Players: make([]Player, players)}
	for i := range p.Players {
		id := uuid.NewString()
		scores := make([]int64, rounds)
		for r := range scores {
			scores[r] = randomScore(maxScore)
		}
		p.Players[i] = Player{Identity: model.Identity(id), Name: "player-" + id[:8], Scores: scores}
	}
	return p
}

// Expected returns the score each player should end with under policy.
func (p Plan) Expected(policy leaderboard.Policy) map[model.Identity]int64 {
	out := make(map[model.Identity]int64, len(p.Players))
	for _, pl := range p.Players {
		if len(pl.Scores) == 0 {
			continue
		}
		final := pl.Scores[len(pl.Scores)-1]
		if policy == leaderboard.PolicyMonotonic {
			for _, s := range pl.Scores {
				final = max(final, s)
			}
		}
		out[pl.Identity] = final
	}
	return out
}

// Submissions returns the total number of submissions in the plan.
func (p Plan) Submissions() int {
	n := 0
	for _, pl := range p.Players {
		n += len(pl.Scores)
	}
	return n
}

func randomScore(limit int64) int64 {
	n, err := rand.Int(rand.Reader, big.NewInt(limit))
	if err != nil {
		return 0
	}
	return n.Int64()
}
