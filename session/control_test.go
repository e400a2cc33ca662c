package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgraeff/midihub/status"
)

func TestControlMessageEncode(t *testing.T) {
	assert := assert.New(t)

	tests := []struct {
		name string
		msg  ControlMessage
		want []byte
	}{
		{
			name: "invitation with name",
			msg:  ControlMessage{Kind: CmdInvite, Token: 0x11223344, SSRC: 0xAABBCCDD, Name: "hub"},
			want: []byte{
				0xFF, 0xFF, 'I', 'N',
				0x00, 0x00, 0x00, 0x02,
				0x11, 0x22, 0x33, 0x44,
				0xAA, 0xBB, 0xCC, 0xDD,
				'h', 'u', 'b', 0x00,
			},
		},
		{
			name: "acceptance with name",
			msg:  ControlMessage{Kind: CmdAccept, Token: 1, SSRC: 2, Name: "daw"},
			want: []byte{
				0xFF, 0xFF, 'O', 'K',
				0x00, 0x00, 0x00, 0x02,
				0x00, 0x00, 0x00, 0x01,
				0x00, 0x00, 0x00, 0x02,
				'd', 'a', 'w', 0x00,
			},
		},
		{
			name: "rejection has no name",
			msg:  ControlMessage{Kind: CmdReject, Token: 1, SSRC: 2},
			want: []byte{
				0xFF, 0xFF, 'N', 'O',
				0x00, 0x00, 0x00, 0x02,
				0x00, 0x00, 0x00, 0x01,
				0x00, 0x00, 0x00, 0x02,
			},
		},
		{
			name: "end has no name",
			msg:  ControlMessage{Kind: CmdEnd, Token: 7, SSRC: 8},
			want: []byte{
				0xFF, 0xFF, 'B', 'Y',
				0x00, 0x00, 0x00, 0x02,
				0x00, 0x00, 0x00, 0x07,
				0x00, 0x00, 0x00, 0x08,
			},
		},
		{
			name: "clock sync",
			msg: ControlMessage{
				Kind:       CmdSync,
				SSRC:       0x01020304,
				Count:      1,
				Timestamps: [3]uint64{2, 3, 0},
			},
			want: []byte{
				0xFF, 0xFF, 'C', 'K',
				0x01, 0x02, 0x03, 0x04,
				0x01, 0x00, 0x00, 0x00,
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02,
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x03,
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			},
		},
		{
			name: "receiver feedback",
			msg:  ControlMessage{Kind: CmdFeedback, SSRC: 5, Seq: 0x0102},
			want: []byte{
				0xFF, 0xFF, 'R', 'S',
				0x00, 0x00, 0x00, 0x05,
				0x01, 0x02, 0x00, 0x00,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(tt.want, tt.msg.Encode())
		})
	}
}

func TestControlMessageRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  ControlMessage
	}{
		{"invite", ControlMessage{Kind: CmdInvite, Token: 0xDEAD, SSRC: 0xBEEF, Name: "midihub"}},
		{"accept", ControlMessage{Kind: CmdAccept, Token: 1, SSRC: 2, Name: "Logic Pro"}},
		{"reject", ControlMessage{Kind: CmdReject, Token: 9, SSRC: 10}},
		{"end", ControlMessage{Kind: CmdEnd, Token: 3, SSRC: 4}},
		{"sync", ControlMessage{Kind: CmdSync, SSRC: 11, Count: 2, Timestamps: [3]uint64{100, 200, 300}}},
		{"feedback", ControlMessage{Kind: CmdFeedback, SSRC: 12, Seq: 65000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseControl(tt.msg.Encode())
			require.NoError(t, err)
			assert.Equal(t, tt.msg, got)
		})
	}
}

func TestParseControlErrors(t *testing.T) {
	assert := assert.New(t)

	tests := []struct {
		name string
		in   []byte
	}{
		{"too short for preamble", []byte{0xFF}},
		{"rtp packet is not control", []byte{0x80, 0x61, 0x00, 0x01}},
		{"unknown command", []byte{0xFF, 0xFF, 'X', 'X', 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0, 0}},
		{"invite truncated", []byte{0xFF, 0xFF, 'I', 'N', 0, 0, 0, 2, 0, 0}},
		{"invite wrong version", []byte{0xFF, 0xFF, 'I', 'N', 0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0, 2}},
		{"sync truncated", append([]byte{0xFF, 0xFF, 'C', 'K'}, make([]byte, 20)...)},
		{"feedback truncated", []byte{0xFF, 0xFF, 'R', 'S', 0, 0, 0, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseControl(tt.in)
			assert.ErrorIs(err, status.ErrParse)
		})
	}
}

func TestIsControlPacket(t *testing.T) {
	assert := assert.New(t)

	assert.True(IsControlPacket([]byte{0xFF, 0xFF, 'I', 'N'}))
	assert.False(IsControlPacket([]byte{0x80, 0x61}))
	assert.False(IsControlPacket([]byte{0xFF}))
	assert.False(IsControlPacket(nil))
}

func TestCommandKindString(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("IN", CmdInvite.String())
	assert.Equal("OK", CmdAccept.String())
	assert.Equal("NO", CmdReject.String())
	assert.Equal("BY", CmdEnd.String())
	assert.Equal("CK", CmdSync.String())
	assert.Equal("RS", CmdFeedback.String())
}
