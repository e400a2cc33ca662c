package visualizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, *Queue) {
	t.Helper()
	q := &Queue{}
	return NewEngine(q, DefaultNumLEDs, DefaultFPS), q
}

func enqueue(t *testing.T, q *Queue, cmds ...Command) {
	t.Helper()
	for _, c := range cmds {
		require.True(t, q.TryPush(c))
	}
}

func TestEngineNoteLifecycle(t *testing.T) {
	assert := assert.New(t)
	e, q := newTestEngine(t)

	enqueue(t, q, Command{Kind: CmdNoteOn, A: 60, B: 100})
	_, ok := e.Step(16)
	assert.True(ok)
	assert.Equal(1, e.ActiveNotes())
	n := e.NoteState(60)
	assert.True(n.Active)
	assert.False(n.Fading)
	assert.Equal(uint8(100), n.Velocity)
	assert.Equal(uint64(16), n.StartMillis)

	// Release starts the fade; commands apply even between frames.
	enqueue(t, q, Command{Kind: CmdNoteOff, A: 60})
	_, ok = e.Step(20)
	assert.False(ok)
	n = e.NoteState(60)
	assert.True(n.Active)
	assert.True(n.Fading)
	assert.Equal(uint64(20), n.FadeStartMillis)

	// Still sounding exactly at the end of the fade window.
	e.Step(20 + fadeMillis)
	assert.Equal(1, e.ActiveNotes())

	// Strictly past it the note clears.
	e.Step(20 + fadeMillis + 1)
	assert.Equal(0, e.ActiveNotes())
	assert.False(e.NoteState(60).Fading)
}

func TestEngineNoteOffWithoutNoteOnIgnored(t *testing.T) {
	assert := assert.New(t)
	e, q := newTestEngine(t)

	enqueue(t, q, Command{Kind: CmdNoteOff, A: 61})
	e.Step(16)
	assert.Equal(0, e.ActiveNotes())
	assert.Equal(Note{}, e.NoteState(61))
}

func TestEngineSustainHoldsReleasedNotes(t *testing.T) {
	assert := assert.New(t)
	e, q := newTestEngine(t)

	enqueue(t, q, Command{Kind: CmdControlChange, A: 64, B: 127})
	e.Step(1)
	assert.True(e.Sustain())

	enqueue(t, q, Command{Kind: CmdNoteOn, A: 60, B: 90})
	e.Step(2)
	enqueue(t, q, Command{Kind: CmdNoteOff, A: 60})
	e.Step(3)

	// Held by the pedal: no fade, no timeout.
	n := e.NoteState(60)
	assert.True(n.Active)
	assert.False(n.Fading)
	e.Step(5000)
	assert.Equal(1, e.ActiveNotes())

	// Pedal up starts the fade.
	enqueue(t, q, Command{Kind: CmdControlChange, A: 64, B: 0})
	e.Step(6000)
	assert.False(e.Sustain())
	n = e.NoteState(60)
	assert.True(n.Active)
	assert.True(n.Fading)
	assert.Equal(uint64(6000), n.FadeStartMillis)

	e.Step(6000 + fadeMillis)
	assert.Equal(1, e.ActiveNotes())
	e.Step(6000 + fadeMillis + 1)
	assert.Equal(0, e.ActiveNotes())
}

func TestEngineSustainReleaseFadesHeldKeys(t *testing.T) {
	assert := assert.New(t)
	e, q := newTestEngine(t)

	// The engine does not track which keys are physically down, so a pedal
	// release fades every sounding note.
	enqueue(t, q, Command{Kind: CmdNoteOn, A: 50, B: 80})
	e.Step(1)
	enqueue(t, q, Command{Kind: CmdControlChange, A: 64, B: 127})
	e.Step(2)
	enqueue(t, q, Command{Kind: CmdControlChange, A: 64, B: 0})
	e.Step(3)

	n := e.NoteState(50)
	assert.True(n.Active)
	assert.True(n.Fading)
	assert.Equal(uint64(3), n.FadeStartMillis)

	// Re-striking the key re-arms it.
	enqueue(t, q, Command{Kind: CmdNoteOn, A: 50, B: 80})
	e.Step(4)
	assert.False(e.NoteState(50).Fading)
}

func TestEngineNonSustainControlChangeIgnored(t *testing.T) {
	assert := assert.New(t)
	e, q := newTestEngine(t)

	enqueue(t, q, Command{Kind: CmdControlChange, A: 7, B: 127})
	e.Step(16)
	assert.False(e.Sustain())
}

func TestNoteValueVelocityMap(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(uint8(50), noteValue(Note{Velocity: 0}, 0))
	assert.Equal(uint8(51), noteValue(Note{Velocity: 1}, 0))
	assert.Equal(uint8(255), noteValue(Note{Velocity: 127}, 0))

	prev := uint8(0)
	for vel := 0; vel < 128; vel++ {
		v := noteValue(Note{Velocity: uint8(vel)}, 0)
		assert.GreaterOrEqual(v, prev, "value must not dip as velocity rises")
		prev = v
	}

	// Fade scales the velocity value toward zero across the window.
	fading := Note{Velocity: 127, Fading: true, FadeStartMillis: 0}
	assert.Equal(uint8(128), noteValue(fading, 1000))
	assert.Equal(uint8(0), noteValue(fading, 2000))
}

func TestEngineVelocityBrightness(t *testing.T) {
	// Note 0 renders pure red on LED 0, so the red channel exposes the
	// velocity map with strip brightness applied.
	cases := []struct {
		vel  uint8
		want uint8
	}{
		{vel: 0, want: 29},
		{vel: 1, want: 30},
		{vel: 127, want: 150},
	}
	for _, tc := range cases {
		e, q := newTestEngine(t)
		enqueue(t, q, Command{Kind: CmdNoteOn, A: 0, B: tc.vel})
		frame, ok := e.Step(16)
		require.True(t, ok)
		assert.Equal(t, tc.want, frame[0], "velocity %d", tc.vel)
		assert.Zero(t, frame[1])
		assert.Zero(t, frame[2])
	}
}

func TestEngineAdditiveBlendClamps(t *testing.T) {
	assert := assert.New(t)
	e, q := newTestEngine(t)

	// Notes 10 and 33 share LED 10 on a 23-pixel strip. Their red channels
	// sum past 255; modular wrap would land on 68 instead of 150.
	enqueue(t, q,
		Command{Kind: CmdNoteOn, A: 10, B: 127},
		Command{Kind: CmdNoteOn, A: 33, B: 127},
	)
	frame, ok := e.Step(16)
	require.True(t, ok)
	assert.Equal(uint8(150), frame[10*3])
	assert.Equal(uint8(150), frame[10*3+1])
	assert.Zero(frame[10*3+2])
}

func TestEngineFrameCadence(t *testing.T) {
	assert := assert.New(t)
	e, _ := newTestEngine(t)

	_, ok := e.Step(15)
	assert.False(ok)
	frame, ok := e.Step(16)
	assert.True(ok)
	assert.Len(frame, DefaultNumLEDs*3)
	_, ok = e.Step(31)
	assert.False(ok)
	_, ok = e.Step(32)
	assert.True(ok)
	// A long stall still yields a single frame.
	_, ok = e.Step(100)
	assert.True(ok)
	_, ok = e.Step(101)
	assert.False(ok)
}

func TestEngineDefaults(t *testing.T) {
	assert := assert.New(t)
	q := &Queue{}
	e := NewEngine(q, 0, 0)

	frame, ok := e.Step(16)
	assert.True(ok)
	assert.Len(frame, DefaultNumLEDs*3)
}

func TestEngineEffectSelection(t *testing.T) {
	assert := assert.New(t)
	e, q := newTestEngine(t)

	assert.Equal(uint8(0), e.EffectID())

	enqueue(t, q, Command{Kind: CmdSetEffect, A: 1})
	e.Step(1)
	assert.Equal(uint8(1), e.EffectID())

	// Unknown ids keep the current effect.
	enqueue(t, q, Command{Kind: CmdSetEffect, A: 9})
	e.Step(2)
	assert.Equal(uint8(1), e.EffectID())

	// Ids past the MIDI program range are ignored outright.
	enqueue(t, q, Command{Kind: CmdSetEffect, A: 200})
	e.Step(3)
	assert.Equal(uint8(1), e.EffectID())

	e.RegisterEffect(7, Pulse{})
	enqueue(t, q, Command{Kind: CmdSetEffect, A: 7})
	e.Step(4)
	assert.Equal(uint8(7), e.EffectID())
}

func TestEnginePitchBendStored(t *testing.T) {
	assert := assert.New(t)
	e, q := newTestEngine(t)

	enqueue(t, q, Command{Kind: CmdPitchBend, Bend: -0.5})
	e.Step(1)
	assert.Equal(float32(-0.5), e.Bend())
}

func TestEngineFadeBrightnessDecays(t *testing.T) {
	assert := assert.New(t)
	e, q := newTestEngine(t)

	enqueue(t, q,
		Command{Kind: CmdNoteOn, A: 0, B: 127},
		Command{Kind: CmdNoteOff, A: 0},
	)
	frame, ok := e.Step(16)
	require.True(t, ok)
	assert.Equal(uint8(150), frame[0], "fade starts at full velocity value")

	frame, ok = e.Step(1016)
	require.True(t, ok)
	assert.Equal(uint8(75), frame[0], "half faded")

	frame, ok = e.Step(2016)
	require.True(t, ok)
	assert.Zero(frame[0], "fully faded")
	assert.Equal(1, e.ActiveNotes(), "note clears only strictly past the window")

	e.Step(2017)
	assert.Equal(0, e.ActiveNotes())
}

func TestPulseEffectFloodsStrip(t *testing.T) {
	assert := assert.New(t)
	e, q := newTestEngine(t)

	enqueue(t, q,
		Command{Kind: CmdSetEffect, A: 1},
		Command{Kind: CmdNoteOn, A: 0, B: 127},
		Command{Kind: CmdNoteOn, A: 5, B: 50},
	)
	frame, ok := e.Step(16)
	require.True(t, ok)

	// The loudest note wins: note 0 at full velocity paints the whole strip
	// its red.
	for led := 0; led < DefaultNumLEDs; led++ {
		assert.Equal(uint8(150), frame[led*3], "led %d red", led)
		assert.Zero(frame[led*3+1], "led %d green", led)
		assert.Zero(frame[led*3+2], "led %d blue", led)
	}
}
