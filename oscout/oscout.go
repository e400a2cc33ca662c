// Package oscout translates the inbound MIDI stream into the OSC vocabulary
// the LED visualizer listens for and sends each message over UDP. One MIDI
// event becomes at most one OSC message; events with no visual meaning are
// skipped.
package oscout

import (
	"log/slog"

	"github.com/hypebeast/go-osc/osc"
	midi "gitlab.com/gomidi/midi/v2"

	"github.com/jgraeff/midihub/logging"
	"github.com/jgraeff/midihub/router"
	"github.com/jgraeff/midihub/status"
	"github.com/jgraeff/midihub/wire"
)

// Sender sends one OSC packet. *osc.Client satisfies it; tests substitute a
// capture.
type Sender interface {
	Send(p osc.Packet) error
}

// Emitter drains the router's OSC cursor and forwards translated messages.
// Visualizer traffic is decorative: anything that cannot be sent right now
// is dropped and counted, never retried.
type Emitter struct {
	sender   Sender
	ring     *router.Ring[wire.Event]
	counters *status.Counters
	log      *slog.Logger

	stop chan struct{}
	done chan struct{}
	seen uint64
}

// New wires an emitter to the ring. Nothing runs until Start.
func New(sender Sender, ring *router.Ring[wire.Event], counters *status.Counters) *Emitter {
	return &Emitter{
		sender:   sender,
		ring:     ring,
		counters: counters,
		log:      logging.Get(logging.OSC_OUT),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start spawns the consumer loop.
func (e *Emitter) Start() {
	go e.loop()
}

// Stop ends the loop and waits for it.
func (e *Emitter) Stop() {
	close(e.stop)
	<-e.done
}

func (e *Emitter) loop() {
	defer close(e.done)
	for {
		select {
		case <-e.stop:
			return
		case <-e.ring.Wake(router.ConsumerOSC):
			e.drain()
		}
	}
}

func (e *Emitter) drain() {
	if d := e.ring.Drops(router.ConsumerOSC); d > e.seen {
		e.counters.OSCDrops.Add(d - e.seen)
		e.seen = d
	}
	for {
		ev, ok := e.ring.TryNext(router.ConsumerOSC)
		if !ok {
			return
		}
		msg, ok := Translate(ev.Msg)
		if !ok {
			continue
		}
		if err := e.sender.Send(msg); err != nil {
			e.counters.OSCDrops.Add(1)
			e.log.Warn("send failed", "addr", msg.Address, "err", err)
			continue
		}
		e.log.Debug("sent", "addr", msg.Address, "args", msg.Arguments)
	}
}

// Translate maps one MIDI message onto the visualizer's OSC surface. A
// velocity-zero NoteOn counts as a NoteOff. ok=false means the event has no
// OSC representation.
func Translate(m midi.Message) (msg *osc.Message, ok bool) {
	var ch, key, vel, ctrl, val, prog uint8
	var rel int16
	var abs uint16
	switch {
	case m.GetNoteStart(&ch, &key, &vel):
		return osc.NewMessage("/noteOn", int32(key), int32(vel)), true
	case m.GetNoteEnd(&ch, &key):
		return osc.NewMessage("/noteOff", int32(key)), true
	case m.GetControlChange(&ch, &ctrl, &val):
		return osc.NewMessage("/cc", int32(ctrl), int32(val)), true
	case m.GetPitchBend(&ch, &rel, &abs):
		return osc.NewMessage("/pitchBend", bendValue(rel)), true
	case m.GetProgramChange(&ch, &prog):
		return osc.NewMessage("/config/setEffect", int32(prog)), true
	}
	return nil, false
}

// bendValue maps the 14-bit bend range onto [-1, 1].
func bendValue(rel int16) float32 {
	v := float32(rel) / 8192
	if v > 1 {
		v = 1
	}
	if v < -1 {
		v = -1
	}
	return v
}
