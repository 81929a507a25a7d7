package sim

import "fmt"

// SimInstant is a point in simulated time, counted in whole microseconds
// since rollout start. All clock arithmetic is exact-integer: a rollout may
// run for hours of simulated time and any floating-point representation
// would accumulate drift across the camera/pose/control clock domains.
type SimInstant int64

// US returns the instant as a raw microsecond count.
func (t SimInstant) US() int64 { return int64(t) }

func (t SimInstant) String() string {
	return fmt.Sprintf("%dus", int64(t))
}

// Before reports whether t precedes u.
func (t SimInstant) Before(u SimInstant) bool { return t < u }

// Add returns the instant shifted by d microseconds.
func (t SimInstant) Add(d int64) SimInstant { return t + SimInstant(d) }
