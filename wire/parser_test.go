package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	midi "gitlab.com/gomidi/midi/v2"
)

func TestParserCompleteMessages(t *testing.T) {
	tests := []struct {
		name        string
		in          []byte
		want        []midi.Message
		wantDropped int
	}{
		{
			name: "explicit status",
			in:   []byte{0x90, 0x3C, 0x64, 0x80, 0x3C, 0x00},
			want: []midi.Message{midi.NoteOn(0, 60, 100), midi.NoteOff(0, 60)},
		},
		{
			name: "running status",
			in:   []byte{0x90, 0x3C, 0x64, 0x3E, 0x50},
			want: []midi.Message{midi.NoteOn(0, 60, 100), midi.NoteOn(0, 62, 80)},
		},
		{
			name: "one data byte kinds",
			in:   []byte{0xC1, 0x05, 0x06, 0xD1, 0x40},
			want: []midi.Message{
				midi.ProgramChange(1, 5),
				midi.ProgramChange(1, 6),
				midi.AfterTouch(1, 64),
			},
		},
		{
			name: "real-time interleaved mid-message",
			in:   []byte{0x90, 0x3C, 0xF8, 0x64},
			want: []midi.Message{{0xF8}, midi.NoteOn(0, 60, 100)},
		},
		{
			name:        "stray data bytes dropped until status",
			in:          []byte{0x3C, 0x64, 0x90, 0x3C, 0x64},
			want:        []midi.Message{midi.NoteOn(0, 60, 100)},
			wantDropped: 2,
		},
		{
			name:        "new status aborts a truncated message",
			in:          []byte{0x90, 0x3C, 0xB0, 0x40, 0x7F},
			want:        []midi.Message{midi.ControlChange(0, 64, 127)},
			wantDropped: 2,
		},
		{
			name: "sysex",
			in:   []byte{0xF0, 0x01, 0x02, 0x03, 0xF7},
			want: []midi.Message{{0xF0, 0x01, 0x02, 0x03, 0xF7}},
		},
		{
			name:        "sysex aborted by channel status",
			in:          []byte{0xF0, 0x01, 0x02, 0x90, 0x3C, 0x64},
			want:        []midi.Message{midi.NoteOn(0, 60, 100)},
			wantDropped: 3,
		},
		{
			name:        "system common resets running status",
			in:          []byte{0x90, 0x3C, 0x64, 0xF3, 0x01, 0x3C, 0x64},
			want:        []midi.Message{midi.NoteOn(0, 60, 100), {0xF3, 0x01}},
			wantDropped: 2,
		},
		{
			name:        "undefined system bytes skipped",
			in:          []byte{0xF4, 0xF5, 0xF6},
			want:        []midi.Message{{0xF6}},
			wantDropped: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p Parser
			msgs, dropped := p.Feed(tt.in)
			assert.Equal(t, tt.want, msgs)
			assert.Equal(t, tt.wantDropped, dropped)
		})
	}
}

func TestParserCarriesStateAcrossFeeds(t *testing.T) {
	assert := assert.New(t)
	var p Parser

	msgs, dropped := p.Feed([]byte{0x90, 0x3C})
	assert.Empty(msgs)
	assert.Zero(dropped)

	msgs, dropped = p.Feed([]byte{0x64})
	assert.Equal([]midi.Message{midi.NoteOn(0, 60, 100)}, msgs)
	assert.Zero(dropped)

	// Running status survives the frame boundary too.
	msgs, _ = p.Feed([]byte{0x3E, 0x50})
	assert.Equal([]midi.Message{midi.NoteOn(0, 62, 80)}, msgs)
}

func TestParserSysExAcrossFeeds(t *testing.T) {
	assert := assert.New(t)
	var p Parser

	msgs, _ := p.Feed([]byte{0xF0, 0x7E, 0x00})
	assert.Empty(msgs)

	msgs, dropped := p.Feed([]byte{0x09, 0x01, 0xF7})
	assert.Zero(dropped)
	assert.Equal([]midi.Message{{0xF0, 0x7E, 0x00, 0x09, 0x01, 0xF7}}, msgs)
}

func TestParserSysExOverflow(t *testing.T) {
	assert := assert.New(t)
	var p Parser

	p.Feed([]byte{0xF0})
	big := make([]byte, maxSysExLen+10)
	msgs, dropped := p.Feed(big)
	assert.Empty(msgs)
	assert.Greater(dropped, maxSysExLen)

	// Parser is usable again afterwards.
	msgs, _ = p.Feed([]byte{0x90, 0x3C, 0x64})
	assert.Equal([]midi.Message{midi.NoteOn(0, 60, 100)}, msgs)
}
