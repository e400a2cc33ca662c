package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	midi "gitlab.com/gomidi/midi/v2"

	"github.com/jgraeff/midihub/rtp"
	"github.com/jgraeff/midihub/wire"
)

func TestPacketizerWindow(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	p := newPacketizer(20_000)
	assert.False(p.due(0))
	_, ok := p.nextDeadline()
	assert.False(ok)

	full := p.add(wire.Event{Msg: midi.NoteOn(0, 60, 100), Micros: 1000}, 1000)
	assert.Nil(full)

	dl, ok := p.nextDeadline()
	require.True(ok)
	assert.Equal(uint64(21_000), dl)
	assert.False(p.due(20_999))
	assert.True(p.due(21_000))

	// Later events ride the window the first one opened.
	full = p.add(wire.Event{Msg: midi.NoteOff(0, 60), Micros: 5000}, 5000)
	assert.Nil(full)
	dl, _ = p.nextDeadline()
	assert.Equal(uint64(21_000), dl)

	batch := p.flush()
	assert.Len(batch, 2)
	assert.False(p.due(30_000))
	assert.Nil(p.flush())
}

func TestPacketizerByteBudget(t *testing.T) {
	assert := assert.New(t)

	p := newPacketizer(20_000)
	big := wire.Event{Msg: midi.Message(make([]byte, 296))} // 300 bytes of section budget

	for i := 0; i < 4; i++ {
		assert.Nil(p.add(big, 0))
	}
	// The fifth would overflow the section: the open batch comes back full
	// and the new event starts the next window.
	full := p.add(big, 500)
	assert.Len(full, 4)

	dl, ok := p.nextDeadline()
	assert.True(ok)
	assert.Equal(uint64(20_500), dl)
	assert.Len(p.flush(), 1)
}

func TestPacketizerCommands(t *testing.T) {
	assert := assert.New(t)

	batch := []wire.Event{
		{Msg: midi.NoteOn(0, 60, 100), Micros: 50_000},
		{Msg: midi.NoteOn(0, 64, 100), Micros: 50_250},
		{Msg: midi.NoteOn(0, 67, 100), Micros: 50_250},
		{Msg: midi.NoteOff(0, 60), Micros: 51_250},
	}
	cmds := commands(batch)

	assert.Equal([]rtp.Command{
		{Delta: 0, Msg: midi.NoteOn(0, 60, 100)},
		{Delta: 2, Msg: midi.NoteOn(0, 64, 100)}, // 250 us = 2.5 ticks, truncated
		{Delta: 0, Msg: midi.NoteOn(0, 67, 100)},
		{Delta: 10, Msg: midi.NoteOff(0, 60)},
	}, cmds)
}

func TestPacketizerCommandsNonMonotonic(t *testing.T) {
	assert := assert.New(t)

	// A source timestamp running backwards must not underflow the delta.
	batch := []wire.Event{
		{Msg: midi.NoteOn(0, 60, 100), Micros: 5000},
		{Msg: midi.NoteOn(0, 61, 100), Micros: 4000},
	}
	cmds := commands(batch)
	assert.Equal(uint32(0), cmds[1].Delta)
}
