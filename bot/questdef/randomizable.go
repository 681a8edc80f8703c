package questdef

import (
	"encoding/json"
	"errors"
	"math/rand"

	"github.com/kasuganosora/factionbot/bot/rng"
)

// ErrEmptyRandomizable is returned when a Randomizable holds no candidates.
// An empty candidate list is a configuration bug and is surfaced loudly
// instead of resolving to a zero value.
var ErrEmptyRandomizable = errors.New("questdef: empty randomizable")

// Randomizable holds either a single value or a list of candidate values.
// In JSON it decodes from a bare value or an array of values.
type Randomizable[T any] struct {
	values []T
}

// One wraps a single fixed value.
func One[T any](v T) Randomizable[T] {
	return Randomizable[T]{values: []T{v}}
}

// Any wraps a list of candidate values.
func Any[T any](vs ...T) Randomizable[T] {
	return Randomizable[T]{values: vs}
}

// IsZero reports whether the Randomizable was never set.
func (r Randomizable[T]) IsZero() bool { return r.values == nil }

// Multi reports whether more than one candidate is present.
func (r Randomizable[T]) Multi() bool { return len(r.values) > 1 }

// Candidates returns the underlying candidate slice.
func (r Randomizable[T]) Candidates() []T { return r.values }

// Resolve picks one candidate with fresh uniform randomness. Used for
// incidental values such as point deltas and flavor text.
func (r Randomizable[T]) Resolve() (T, error) {
	var zero T
	if len(r.values) == 0 {
		return zero, ErrEmptyRandomizable
	}
	if len(r.values) == 1 {
		return r.values[0], nil
	}
	return r.values[rand.Intn(len(r.values))], nil
}

// ResolveSeeded picks one candidate deterministically from the given seed.
// Used for quest content shown during an active attempt, so a re-displayed
// question keeps its wording and answer order.
func (r Randomizable[T]) ResolveSeeded(seed int64) (T, error) {
	var zero T
	if len(r.values) == 0 {
		return zero, ErrEmptyRandomizable
	}
	idx, err := rng.Pick(seed, len(r.values))
	if err != nil {
		return zero, err
	}
	return r.values[idx], nil
}

func (r *Randomizable[T]) UnmarshalJSON(b []byte) error {
	var list []T
	if err := json.Unmarshal(b, &list); err == nil {
		r.values = list
		return nil
	}
	var single T
	if err := json.Unmarshal(b, &single); err != nil {
		return err
	}
	r.values = []T{single}
	return nil
}

func (r Randomizable[T]) MarshalJSON() ([]byte, error) {
	if len(r.values) == 1 {
		return json.Marshal(r.values[0])
	}
	return json.Marshal(r.values)
}
