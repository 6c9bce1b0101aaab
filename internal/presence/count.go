// Package presence derives the per-group online-user count. The counter side
// tolerates every payload shape the backend has been observed to emit; the
// registry side maintains the authoritative online sets in Redis.
package presence

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Count computes a non-negative online count from a raw presence payload.
// The payload shape is not contractually fixed, so an ordered fallback chain
// is applied instead of a single decode:
//
//  1. a bare number is used directly (negative values clamp to 0)
//  2. a JSON array counts as its length
//  3. an object with a "users" array counts as that array's length
//  4. anything else counts as 0
//
// Malformed payloads are never an error; the count degrades to 0. That
// includes number-likes ParseFloat accepts but no real count can be: NaN,
// ±Inf, and values too large for an int conversion to be defined.
func Count(payload []byte) int {
	raw := strings.TrimSpace(string(payload))
	if raw == "" {
		return 0
	}

	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		if math.IsNaN(n) || math.IsInf(n, 0) || n < 0 || n > math.MaxInt32 {
			return 0
		}
		return int(n)
	}

	var list []json.RawMessage
	if err := json.Unmarshal(payload, &list); err == nil {
		return len(list)
	}

	var obj struct {
		Users []json.RawMessage `json:"users"`
	}
	if err := json.Unmarshal(payload, &obj); err == nil && obj.Users != nil {
		return len(obj.Users)
	}

	return 0
}
