package schedule

import (
	"math/rand/v2"
	"time"
)

// Rand is the randomness a sampler draws from. *rand.Rand satisfies it.
type Rand interface {
	Int64N(n int64) int64
}

type globalRand struct{}

func (globalRand) Int64N(n int64) int64 { return rand.Int64N(n) }

// DefaultRand draws from the process-wide generator and is safe for
// concurrent use.
var DefaultRand Rand = globalRand{}

// Sample returns an instant drawn uniformly, at whole-second granularity,
// from the window [begin, end] as resolved by Bounds. The result is in UTC.
func Sample(rng Rand, signup time.Time, loc *time.Location, w Window) (time.Time, error) {
	begin, end, err := w.Bounds(signup, loc)
	if err != nil {
		return time.Time{}, err
	}
	if rng == nil {
		rng = DefaultRand
	}
	secs := int64(end.Sub(begin) / time.Second)
	offset := rng.Int64N(secs + 1)
	return begin.Add(time.Duration(offset) * time.Second).UTC(), nil
}
