// internal/rules/options.go
package rules

import (
	"fmt"
	"math/rand/v2"
)

// Options wraps the per-game tunables supplied at creation time.
// Values arrive from JSON, so numbers are usually float64.
type Options map[string]any

// Int reads key as an integer no smaller than minVal, falling back to def when absent.
func (o Options) Int(key string, def, minVal int) (int, error) {
	val, exists := o[key]
	if !exists || val == nil {
		return def, nil
	}
	var n int
	switch v := val.(type) {
	case float64:
		n = int(v)
	case int:
		n = v
	case int64:
		n = int(v)
	default:
		return 0, fmt.Errorf("invalid type for %s", key)
	}
	if n < minVal {
		return 0, fmt.Errorf("%s must be at least %d", key, minVal)
	}
	return n, nil
}

// Bool reads key as a bool, falling back to def when absent.
func (o Options) Bool(key string, def bool) (bool, error) {
	val, exists := o[key]
	if !exists || val == nil {
		return def, nil
	}
	b, ok := val.(bool)
	if !ok {
		return false, fmt.Errorf("invalid type for %s", key)
	}
	return b, nil
}

// Ints reads key as a list of integers each no smaller than minVal.
// A nil result with nil error means the key was absent.
func (o Options) Ints(key string, minVal int) ([]int, error) {
	val, exists := o[key]
	if !exists || val == nil {
		return nil, nil
	}
	var raw []any
	switch v := val.(type) {
	case []any:
		raw = v
	case []int:
		for _, n := range v {
			raw = append(raw, n)
		}
	default:
		return nil, fmt.Errorf("invalid type for %s", key)
	}
	out := make([]int, 0, len(raw))
	for i, item := range raw {
		n, err := Options{key: item}.Int(key, 0, minVal)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// NewRand returns a deterministic generator for the given seed and stream.
// Engines store the seed in their state and pick a stream per deal or
// shuffle so replays draw identical sequences.
func NewRand(seed uint64, stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, stream))
}
