package loadgen

import (
	"fmt"
	"strings"

	"github.com/okian/scoreboard/internal/domain/model"
)

// maxReportedProblems bounds the error message on large runs.
const maxReportedProblems = 10

// Verify checks that entries are sorted by score descending and that every
// expected player is present with its expected score. Entries for players
// outside the plan are allowed. limit is the size that was requested: when
// the board came back full, a player whose expected score does not beat the
// lowest listed score may have been pushed off it and is counted as unlisted
// instead of missing.
func Verify(expected map[model.Identity]int64, entries []model.ScoreRecord, limit int) (int, error) {
	var problems []string
	for i := 1; i < len(entries); i++ {
		if entries[i].Score > entries[i-1].Score {
			problems = append(problems, fmt.Sprintf("entry %d (%d) outranks entry %d (%d)", i, entries[i].Score, i-1, entries[i-1].Score))
		}
	}

	full := limit > 0 && len(entries) >= limit
	var lowest int64
	if len(entries) > 0 {
		lowest = entries[len(entries)-1].Score
	}

	got := make(map[model.Identity]int64, len(entries))
	for _, e := range entries {
		got[e.Identity] = e.Score
	}
	unlisted := 0
	for id, want := range expected {
		have, ok := got[id]
		switch {
		case !ok && full && want <= lowest:
			unlisted++
		case !ok:
			problems = append(problems, fmt.Sprintf("%s missing", id))
		case have != want:
			problems = append(problems, fmt.Sprintf("%s has %d, want %d", id, have, want))
		}
	}

	if len(problems) == 0 {
		return unlisted, nil
	}
	total := len(problems)
	if total > maxReportedProblems {
		problems = problems[:maxReportedProblems]
	}
	return unlisted, fmt.Errorf("%w: %d problems: %s", ErrVerification, total, strings.Join(problems, "; "))
}
