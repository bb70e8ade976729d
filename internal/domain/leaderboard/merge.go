// Package leaderboard holds the pure record-set transforms: merging a submission
// into the persisted records and ranking a snapshot of them.
package leaderboard

import (
	"errors"
	"fmt"
	"strings"

	"github.com/okian/scoreboard/internal/domain/model"
)

// ErrUnknownPolicy is returned by ParsePolicy for unsupported names.
var ErrUnknownPolicy = errors.New("unknown merge policy")

// Policy decides how a submission for an existing identity is applied.
type Policy string

const (
	// PolicyOverwrite unconditionally replaces display name and score.
	PolicyOverwrite Policy = "overwrite"
	// PolicyMonotonic replaces display name and score only when the new score is
	// strictly higher than the stored one.
	PolicyMonotonic Policy = "monotonic"
)

// ParsePolicy maps a configuration value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyOverwrite, PolicyMonotonic:
		return p, nil
	case "":
		return PolicyOverwrite, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// Outcome describes what a merge did to the record set.
type Outcome int

const (
	// Unchanged means the records are identical to the input.
	Unchanged Outcome = iota
	// Created means a new record was appended.
	Created
	// Updated means an existing record was modified in place.
	Updated
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// Merge applies sub to records under policy and returns the resulting records.
// The input slice is never modified. Document order is preserved; new identities
// are appended so that tie ordering stays stable across writes.
func Merge(records []model.ScoreRecord, sub model.ScoreRecord, policy Policy) ([]model.ScoreRecord, Outcome) {
	out := make([]model.ScoreRecord, len(records), len(records)+1)
	copy(out, records)

	for i := range out {
		if out[i].Identity != sub.Identity {
			continue
		}
		cur := out[i]
		switch policy {
		case PolicyMonotonic:
			if sub.Score <= cur.Score {
				return out, Unchanged
			}
		default:
			if cur.DisplayName == sub.DisplayName && cur.Score == sub.Score {
				return out, Unchanged
			}
		}
		out[i].DisplayName = sub.DisplayName
		out[i].Score = sub.Score
		return out, Updated
	}

	return append(out, sub), Created
}
