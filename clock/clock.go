// Package clock provides the monotonic microsecond clock the transport stamps
// packets with, plus a hand-advanced fake for tests.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock is the time source for timestamping and sync math. NowMicros must be
// monotonic; the zero point is arbitrary but fixed for the clock's lifetime.
type Clock interface {
	NowMicros() uint64
	Now() time.Time
}

// System measures from the moment it was created, which keeps timestamps
// small and strips wall-clock jumps.
type System struct {
	start time.Time
}

func NewSystem() *System {
	return &System{start: time.Now()}
}

func (s *System) NowMicros() uint64 {
	return uint64(time.Since(s.start) / time.Microsecond)
}

func (s *System) Now() time.Time {
	return time.Now()
}

// Fake is a manually advanced clock for deterministic tests.
type Fake struct {
	micros atomic.Uint64
}

func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) NowMicros() uint64 {
	return f.micros.Load()
}

func (f *Fake) Now() time.Time {
	return time.Unix(0, int64(f.micros.Load())*int64(time.Microsecond))
}

// Advance moves the clock forward; never backwards.
func (f *Fake) Advance(d time.Duration) {
	if d < 0 {
		panic("clock: cannot advance backwards")
	}
	f.micros.Add(uint64(d / time.Microsecond))
}

// Set jumps directly to an absolute microsecond reading.
func (f *Fake) Set(micros uint64) {
	f.micros.Store(micros)
}
