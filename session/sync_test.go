package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeSample(t *testing.T) {
	assert := assert.New(t)

	tests := []struct {
		name       string
		t0, t1, t3 uint64
		wantOffset int64
		wantRTT    uint64
	}{
		{
			name: "peer clock ahead",
			t0:   1000, t1: 5000, t3: 1400,
			wantOffset: 3800, wantRTT: 400,
		},
		{
			name: "peer clock behind",
			t0:   1000, t1: 200, t3: 1100,
			wantOffset: -850, wantRTT: 100,
		},
		{
			name: "symmetric path",
			t0:   0, t1: 250, t3: 300,
			wantOffset: 100, wantRTT: 300,
		},
		{
			name: "aligned clocks zero rtt",
			t0:   500, t1: 500, t3: 500,
			wantOffset: 0, wantRTT: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := computeSample(tt.t0, tt.t1, tt.t3)
			assert.Equal(tt.wantOffset, got.Offset)
			assert.Equal(tt.wantRTT, got.RTT)
		})
	}
}

func TestMedian(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(int64(5), median([]int64{5}))
	assert.Equal(int64(1), median([]int64{9, 1}))
	assert.Equal(int64(2), median([]int64{3, 1, 2}))
	assert.Equal(int64(2), median([]int64{4, 1, 3, 2}))
	assert.Equal(uint64(30), median([]uint64{50, 10, 30, 20, 40}))

	// Input order survives.
	xs := []int64{3, 1, 2}
	median(xs)
	assert.Equal([]int64{3, 1, 2}, xs)
}

func TestSyncTrackerMedianOffset(t *testing.T) {
	assert := assert.New(t)

	var tr syncTracker
	assert.Equal(int64(0), tr.offset())

	tr.add(SyncSample{Offset: 100, RTT: 10})
	assert.Equal(int64(100), tr.offset())

	// One wild outlier does not move the median.
	tr.add(SyncSample{Offset: 100_000, RTT: 900})
	tr.add(SyncSample{Offset: 110, RTT: 12})
	assert.Equal(int64(110), tr.offset())
}

func TestSyncTrackerWindow(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var tr syncTracker
	for _, off := range []int64{10, 20, 30, 40, 50, 60} {
		tr.add(SyncSample{Offset: off, RTT: 1})
	}
	// Only the newest five remain: 20..60, median 40.
	assert.Equal(int64(40), tr.offset())

	last, ok := tr.latest()
	require.True(ok)
	assert.Equal(int64(60), last.Offset)

	tr.reset()
	assert.Equal(int64(0), tr.offset())
	_, ok = tr.latest()
	assert.False(ok)
}
