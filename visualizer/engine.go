package visualizer

import (
	"log/slog"

	"github.com/jgraeff/midihub/logging"
)

const (
	// NumNotes is the MIDI key space the engine tracks.
	NumNotes = 128
	// DefaultNumLEDs matches the reference strip.
	DefaultNumLEDs = 23
	// DefaultFPS is the render cadence.
	DefaultFPS = 60
	// Brightness scales the whole strip after effects render.
	Brightness = 150

	// fadeMillis is how long a released note takes to reach black.
	fadeMillis = 2000
	// sustainPedalCC is the damper pedal controller.
	sustainPedalCC = 64
)

// Note is the live state of one MIDI key.
type Note struct {
	Active          bool
	Fading          bool
	Velocity        uint8
	StartMillis     uint64
	FadeStartMillis uint64
}

// Engine drains the command queue into per-key note state and renders frames
// at a fixed cadence. It is single-threaded: one goroutine calls Step.
type Engine struct {
	queue    *Queue
	log      *slog.Logger
	registry *Registry[uint8]

	numLEDs       int
	frameInterval uint64

	notes   [NumNotes]Note
	sustain bool
	bend    float32

	lastFrame uint64
	frame     []byte
}

// NewEngine builds an engine over q with the default effect set. Zero or
// negative numLEDs and fps fall back to the reference strip values.
func NewEngine(q *Queue, numLEDs, fps int) *Engine {
	if numLEDs <= 0 {
		numLEDs = DefaultNumLEDs
	}
	if fps <= 0 {
		fps = DefaultFPS
	}
	reg := NewRegistry[uint8](0, Chromatic{})
	reg.Register(1, Pulse{})
	return &Engine{
		queue:         q,
		log:           logging.Get(logging.VIZ),
		registry:      reg,
		numLEDs:       numLEDs,
		frameInterval: uint64(1000 / fps),
		frame:         make([]byte, numLEDs*3),
	}
}

// RegisterEffect adds eff to the selectable set under id.
func (e *Engine) RegisterEffect(id uint8, eff Effect) {
	e.registry.Register(id, eff)
}

// Step drains pending commands, ages fades, and renders one frame when the
// cadence is due. The returned slice is reused between frames; callers must
// consume it before the next Step.
func (e *Engine) Step(nowMillis uint64) ([]byte, bool) {
	for {
		cmd, ok := e.queue.TryPop()
		if !ok {
			break
		}
		e.apply(cmd, nowMillis)
	}
	e.updateFades(nowMillis)
	if nowMillis-e.lastFrame < e.frameInterval {
		return nil, false
	}
	e.lastFrame = nowMillis
	for i := range e.frame {
		e.frame[i] = 0
	}
	_, effect := e.registry.Current()
	effect.Render(e.frame, e.notes[:], nowMillis)
	for i := range e.frame {
		e.frame[i] = scale8(e.frame[i], Brightness)
	}
	return e.frame, true
}

func (e *Engine) apply(cmd Command, nowMillis uint64) {
	switch cmd.Kind {
	case CmdNoteOn:
		if cmd.A >= NumNotes {
			return
		}
		n := &e.notes[cmd.A]
		n.Active = true
		n.Fading = false
		n.Velocity = cmd.B
		n.StartMillis = nowMillis
	case CmdNoteOff:
		if cmd.A >= NumNotes {
			return
		}
		n := &e.notes[cmd.A]
		if !n.Active {
			return
		}
		if e.sustain {
			n.Fading = false
			return
		}
		n.Fading = true
		n.FadeStartMillis = nowMillis
	case CmdControlChange:
		if cmd.A != sustainPedalCC {
			return
		}
		down := cmd.B >= 64
		if e.sustain && !down {
			e.releaseSustained(nowMillis)
		}
		e.sustain = down
	case CmdPitchBend:
		e.bend = cmd.Bend
		e.log.Debug("pitch bend", "value", cmd.Bend)
	case CmdSetEffect:
		if cmd.A >= NumNotes {
			e.log.Warn("effect id out of range", "id", cmd.A)
			return
		}
		if !e.registry.Select(cmd.A) {
			e.log.Warn("unknown effect", "id", cmd.A)
			return
		}
		e.log.Info("effect selected", "id", cmd.A)
	}
}

// releaseSustained starts the fade on every sounding note when the pedal
// lifts. Keys still physically down fade too; their next NoteOn re-arms them.
func (e *Engine) releaseSustained(nowMillis uint64) {
	for i := range e.notes {
		n := &e.notes[i]
		if n.Active && !n.Fading {
			n.Fading = true
			n.FadeStartMillis = nowMillis
		}
	}
}

func (e *Engine) updateFades(nowMillis uint64) {
	for i := range e.notes {
		n := &e.notes[i]
		if n.Active && n.Fading && nowMillis-n.FadeStartMillis > fadeMillis {
			n.Active = false
			n.Fading = false
		}
	}
}

// ActiveNotes reports how many keys are currently sounding.
func (e *Engine) ActiveNotes() int {
	count := 0
	for i := range e.notes {
		if e.notes[i].Active {
			count++
		}
	}
	return count
}

// NoteState returns the live state for one key.
func (e *Engine) NoteState(key uint8) Note {
	if key >= NumNotes {
		return Note{}
	}
	return e.notes[key]
}

// Sustain reports whether the damper pedal is down.
func (e *Engine) Sustain() bool { return e.sustain }

// Bend returns the last pitch bend value in [-1, 1].
func (e *Engine) Bend() float32 { return e.bend }

// EffectID returns the id of the active effect.
func (e *Engine) EffectID() uint8 {
	id, _ := e.registry.Current()
	return id
}
