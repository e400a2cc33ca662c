package visualizer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jgraeff/midihub/clock"
	"github.com/jgraeff/midihub/logging"
	"github.com/jgraeff/midihub/status"
	"github.com/jgraeff/midihub/visualizer/led"
)

// DefaultOSCAddr is where the reference firmware listens.
const DefaultOSCAddr = ":8000"

// Config sets up a visualizer. Zero values fall back to the reference
// hardware: port 8000, 23 LEDs, 60 fps, discard driver.
type Config struct {
	// OSCAddr is the UDP listen address, for example ":8000".
	OSCAddr string
	NumLEDs int
	FPS     int
	// Driver receives rendered frames. Defaults to led.Null.
	Driver led.Driver
	// Counters receives drop and error counts. Defaults to a private set.
	Counters *status.Counters
}

// Visualizer owns the OSC receiver, the animation engine, and the LED
// driver, and runs the render loop between them.
type Visualizer struct {
	receiver *Receiver
	engine   *Engine
	driver   led.Driver
	clk      *clock.System
	log      *slog.Logger

	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func New(cfg Config) *Visualizer {
	if cfg.OSCAddr == "" {
		cfg.OSCAddr = DefaultOSCAddr
	}
	if cfg.Driver == nil {
		cfg.Driver = led.Null{}
	}
	if cfg.Counters == nil {
		cfg.Counters = &status.Counters{}
	}
	q := &Queue{}
	return &Visualizer{
		receiver: NewReceiver(cfg.OSCAddr, q, cfg.Counters),
		engine:   NewEngine(q, cfg.NumLEDs, cfg.FPS),
		driver:   cfg.Driver,
		clk:      clock.NewSystem(),
		log:      logging.Get(logging.VIZ),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Engine exposes the animation engine, mainly for effect registration.
func (v *Visualizer) Engine() *Engine { return v.engine }

// LocalPort reports the bound OSC port once started.
func (v *Visualizer) LocalPort() int { return v.receiver.LocalPort() }

// Start binds the OSC port and launches the render loop.
func (v *Visualizer) Start() error {
	if err := v.receiver.Start(); err != nil {
		return err
	}
	v.started = true
	go v.run()
	return nil
}

// Stop shuts the receiver down, waits for the render loop, and closes the
// driver. A no-op if Start never succeeded.
func (v *Visualizer) Stop() {
	v.stopOnce.Do(func() {
		if !v.started {
			return
		}
		close(v.stop)
		<-v.done
		v.receiver.Stop()
		if err := v.driver.Close(); err != nil {
			v.log.Warn("led driver close", "err", err)
		}
	})
}

// run polls the queue every millisecond the way the firmware loop does; the
// engine decides when a frame is actually due. A failed strip write is
// logged and skipped, never fatal.
func (v *Visualizer) run() {
	defer close(v.done)
	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-v.stop:
			return
		case <-tick.C:
			frame, ok := v.engine.Step(v.clk.NowMicros() / 1000)
			if !ok {
				continue
			}
			if err := v.driver.Write(frame); err != nil {
				v.log.Warn("led write failed", "err", err)
			}
		}
	}
}
