package visualizer

import (
	"golang.org/x/exp/constraints"
)

// Effect composes one RGB frame from the live note state. frame arrives
// zeroed; effects add color, the engine applies strip brightness afterwards.
type Effect interface {
	Name() string
	Render(frame []byte, notes []Note, nowMillis uint64)
}

// Registry tracks the selectable effects and the active one. Selecting an
// unknown id keeps the current effect, so a stray program change can never
// black out the strip.
type Registry[ID constraints.Integer] struct {
	effects map[ID]Effect
	current ID
}

func NewRegistry[ID constraints.Integer](id ID, def Effect) *Registry[ID] {
	return &Registry[ID]{
		effects: map[ID]Effect{id: def},
		current: id,
	}
}

// Register adds or replaces the effect under id.
func (r *Registry[ID]) Register(id ID, e Effect) {
	r.effects[id] = e
}

// Select switches the active effect, reporting false for unknown ids.
func (r *Registry[ID]) Select(id ID) bool {
	if _, ok := r.effects[id]; !ok {
		return false
	}
	r.current = id
	return true
}

// Current returns the active effect and its id.
func (r *Registry[ID]) Current() (ID, Effect) {
	return r.current, r.effects[r.current]
}

// noteValue is the brightness a note contributes: velocity mapped onto
// 50..255, scaled toward zero across the fade window once the note is
// released.
func noteValue(n Note, nowMillis uint64) uint8 {
	val := mapRange(int64(n.Velocity), 0, 127, 50, 255)
	if n.Fading {
		fade := int64(nowMillis - n.FadeStartMillis)
		val = mapRange(fade, 0, fadeMillis, val, 0)
		if val < 0 {
			val = 0
		}
	}
	return uint8(val)
}

// mapRange rescales x from [inMin,inMax] onto [outMin,outMax] with integer
// truncation.
func mapRange[T constraints.Signed](x, inMin, inMax, outMin, outMax T) T {
	return (x-inMin)*(outMax-outMin)/(inMax-inMin) + outMin
}

// Chromatic is the default effect: each note lights the LED at note mod
// strip length, hue walks two steps per semitone, and overlapping notes add.
type Chromatic struct{}

func (Chromatic) Name() string { return "chromatic" }

func (Chromatic) Render(frame []byte, notes []Note, nowMillis uint64) {
	numLEDs := len(frame) / 3
	for note := range notes {
		n := notes[note]
		if !n.Active {
			continue
		}
		led := note % numLEDs
		hue := uint8(note * 2)
		r, g, b := hsvToRGB(hue, 255, noteValue(n, nowMillis))
		frame[led*3] = addClamped(frame[led*3], r)
		frame[led*3+1] = addClamped(frame[led*3+1], g)
		frame[led*3+2] = addClamped(frame[led*3+2], b)
	}
}

// Pulse floods the whole strip with the color of the loudest sounding note,
// for setups where a single glow reads better than per-note pixels.
type Pulse struct{}

func (Pulse) Name() string { return "pulse" }

func (Pulse) Render(frame []byte, notes []Note, nowMillis uint64) {
	bestVal := uint8(0)
	bestNote := -1
	for note := range notes {
		n := notes[note]
		if !n.Active {
			continue
		}
		if v := noteValue(n, nowMillis); v > bestVal {
			bestVal = v
			bestNote = note
		}
	}
	if bestNote < 0 {
		return
	}
	r, g, b := hsvToRGB(uint8(bestNote*2), 255, bestVal)
	for i := 0; i+2 < len(frame); i += 3 {
		frame[i] = r
		frame[i+1] = g
		frame[i+2] = b
	}
}
