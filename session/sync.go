package session

import (
	"slices"

	"golang.org/x/exp/constraints"
)

// maxSyncSamples is how many completed CK rounds feed the running median.
const maxSyncSamples = 5

// SyncSample is one completed CK0/CK1 round trip.
type SyncSample struct {
	// Offset is the peer clock minus ours in microseconds, positive when the
	// peer reads ahead.
	Offset int64
	// RTT is the round trip in microseconds.
	RTT uint64
}

// computeSample derives a sample from a CK1 reply. t0 is our CK0 send time,
// t1 the peer's timestamp, t3 our CK1 arrival time, all in clock micros. The
// peer stamps once, so its receive and transmit instants coincide.
func computeSample(t0, t1, t3 uint64) SyncSample {
	t2 := t1
	offset := ((int64(t1) - int64(t0)) + (int64(t2) - int64(t3))) / 2
	return SyncSample{Offset: offset, RTT: t3 - t0}
}

// syncTracker keeps the most recent samples and reports the median offset,
// which shrugs off the odd delayed reply that a mean would smear in.
type syncTracker struct {
	samples []SyncSample
}

func (s *syncTracker) add(sm SyncSample) {
	s.samples = append(s.samples, sm)
	if len(s.samples) > maxSyncSamples {
		s.samples = s.samples[1:]
	}
}

func (s *syncTracker) reset() {
	s.samples = nil
}

// offset returns the median clock offset, or 0 before the first sample.
func (s *syncTracker) offset() int64 {
	if len(s.samples) == 0 {
		return 0
	}
	offsets := make([]int64, len(s.samples))
	for i, sm := range s.samples {
		offsets[i] = sm.Offset
	}
	return median(offsets)
}

// latest returns the newest sample.
func (s *syncTracker) latest() (SyncSample, bool) {
	if len(s.samples) == 0 {
		return SyncSample{}, false
	}
	return s.samples[len(s.samples)-1], true
}

// median returns the middle element of xs, or the lower of the two middles
// for even counts. xs is not modified.
func median[T constraints.Ordered](xs []T) T {
	sorted := slices.Clone(xs)
	slices.Sort(sorted)
	return sorted[(len(sorted)-1)/2]
}
