package visualizer

import (
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgraeff/midihub/status"
)

// captureDriver records every frame it is handed.
type captureDriver struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (d *captureDriver) Write(frame []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames = append(d.frames, slices.Clone(frame))
	return nil
}

func (d *captureDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *captureDriver) last() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.frames) == 0 {
		return nil
	}
	return d.frames[len(d.frames)-1]
}

func (d *captureDriver) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.frames)
}

func (d *captureDriver) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func TestVisualizerEndToEnd(t *testing.T) {
	assert := assert.New(t)
	drv := &captureDriver{}
	counters := &status.Counters{}
	v := New(Config{OSCAddr: "127.0.0.1:0", Driver: drv, Counters: counters})
	require.NoError(t, v.Start())
	defer v.Stop()

	require.NotZero(t, v.LocalPort())
	client := osc.NewClient("127.0.0.1", v.LocalPort())
	require.NoError(t, client.Send(osc.NewMessage("/noteOn", int32(0), int32(127))))

	// Note 0 paints LED 0 red at full strip brightness.
	require.Eventually(t, func() bool {
		f := drv.last()
		return f != nil && f[0] == 150
	}, 2*time.Second, 5*time.Millisecond)

	v.Stop()
	assert.True(drv.isClosed())

	// The render loop is down; no more frames arrive.
	n := drv.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(n, drv.count())
	assert.Zero(counters.ParseErrors.Load())
}

func TestVisualizerStopWithoutStart(t *testing.T) {
	v := New(Config{OSCAddr: "127.0.0.1:0"})
	assert.NotPanics(t, v.Stop)
}
