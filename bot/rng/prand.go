// Package rng provides the deterministic seeded selection used to keep
// randomized quest content stable for the duration of one quest attempt.
package rng

import (
	"errors"
	"strconv"
)

// ErrEmptyRange is returned when a selection is requested from an empty range.
var ErrEmptyRange = errors.New("rng: empty range")

const (
	mersenne31  = 2147483647 // 2^31 - 1
	parkMillerG = 16807
)

// Pick deterministically maps a seed to an index in [0, length).
//
// The seed is reduced modulo 2^31-1 (kept positive) and advanced one step of
// the Park-Miller minimal-standard generator. The same seed and length always
// produce the same index, across calls and process restarts.
func Pick(seed int64, length int) (int, error) {
	if length <= 0 {
		return 0, ErrEmptyRange
	}
	s := seed % mersenne31
	if s <= 0 {
		s += mersenne31 - 1
	}
	v := s * parkMillerG % mersenne31 // in [1, 2^31-2]
	frac := float64(v-1) / float64(mersenne31-1)
	return int(frac * float64(length)), nil
}

// FoldSeed folds an arbitrary string into a non-negative integer seed by
// digit-summing: digits keep their value, any other rune contributes its
// code point modulo 10. Used to derive a numeric seed from platform user IDs,
// which are decimal strings too long for an int64.
func FoldSeed(s string) int64 {
	buf := make([]byte, 0, len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			buf = append(buf, byte(r))
		} else {
			buf = append(buf, byte('0'+r%10))
		}
	}
	// int64 holds 18 full decimal digits.
	if len(buf) > 18 {
		buf = buf[:18]
	}
	if len(buf) == 0 {
		return 0
	}
	n, err := strconv.ParseInt(string(buf), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// AttemptSeed derives the per-attempt seed from the attempt start time and
// the user's ID. Re-displays within one attempt share the seed; a restarted
// attempt gets a fresh startTime and therefore a fresh ordering.
func AttemptSeed(startTime int64, userID string) int64 {
	return startTime + FoldSeed(userID)
}
