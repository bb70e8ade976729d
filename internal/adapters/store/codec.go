package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/okian/scoreboard/internal/domain/model"
)

// Encode renders records as the persisted JSON array, indented by two spaces.
// A nil slice is written as an empty array.
func Encode(records []model.ScoreRecord) ([]byte, error) {
	if records == nil {
		records = []model.ScoreRecord{}
	}
	out, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode records: %w: %v", ErrFatal, err)
	}
	return out, nil
}

// Decode parses the persisted JSON array. Empty content decodes to no records.
// Malformed content is fatal: retrying would read the same bytes again.
func Decode(data []byte) ([]model.ScoreRecord, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return []model.ScoreRecord{}, nil
	}
	var records []model.ScoreRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode records: %w: %v", ErrFatal, err)
	}
	if records == nil {
		records = []model.ScoreRecord{}
	}
	return dedupe(records), nil
}

// dedupe keeps the first record per identity. Documents written by this
// service never contain duplicates; hand-edited ones might.
func dedupe(records []model.ScoreRecord) []model.ScoreRecord {
	seen := make(map[model.Identity]struct{}, len(records))
	out := records[:0]
	for _, r := range records {
		if _, ok := seen[r.Identity]; ok {
			continue
		}
		seen[r.Identity] = struct{}{}
		out = append(out, r)
	}
	return out
}
