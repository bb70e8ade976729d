// Package model contains domain models passed between layers.
package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidIdentity is returned when a user_id is neither a JSON string nor an integer.
var ErrInvalidIdentity = errors.New("invalid identity")

// Identity is an opaque, stable player identifier.
//
// Game clients historically sent numeric ids, so an identity that is a canonical
// base-10 integer is encoded as a JSON number; anything else is a JSON string.
type Identity string

// IsZero reports whether the identity is empty.
func (id Identity) IsZero() bool { return strings.TrimSpace(string(id)) == "" }

func (id Identity) String() string { return string(id) }

// MarshalJSON implements json.Marshaler.
func (id Identity) MarshalJSON() ([]byte, error) {
	if n, ok := id.numeric(); ok {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(id))
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *Identity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
		}
		*id = ParseIdentity(s)
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidIdentity, data)
	}
	*id = Identity(strconv.FormatInt(n, 10))
	return nil
}

// ParseIdentity builds an identity from free text such as a query parameter.
// The text is taken verbatim, exactly as a JSON string user_id is, so "007"
// and 7 are different players while "7" and 7 are the same one.
func ParseIdentity(s string) Identity {
	return Identity(s)
}

func (id Identity) numeric() (int64, bool) {
	s := string(id)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || strconv.FormatInt(n, 10) != s {
		return 0, false
	}
	return n, true
}

// ScoreRecord is one player's persisted leaderboard row.
type ScoreRecord struct {
	Identity    Identity `json:"user_id"`
	DisplayName string   `json:"username"`
	Score       int64    `json:"score"`
}

// Document is the decoded content of the versioned store together with the
// revision it was read at.
type Document struct {
	Records  []ScoreRecord
	Revision string
}
