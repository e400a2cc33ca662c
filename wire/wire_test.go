package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jgraeff/midihub/status"
)

func TestSplitFrames(t *testing.T) {
	assert := assert.New(t)

	var dg []byte
	dg = AppendFrame(dg, []byte{0x90, 0x3C, 0x64})
	dg = AppendFrame(dg, []byte{0x80, 0x3C, 0x00})

	frames, err := SplitFrames(dg)
	assert.NoError(err)
	assert.Equal([][]byte{{0x90, 0x3C, 0x64}, {0x80, 0x3C, 0x00}}, frames)
}

func TestSplitFramesSkipsEmpty(t *testing.T) {
	dg := AppendFrame(nil, nil)
	dg = AppendFrame(dg, []byte{0xF8})

	frames, err := SplitFrames(dg)
	assert.NoError(t, err)
	assert.Equal(t, [][]byte{{0xF8}}, frames)
}

func TestSplitFramesErrors(t *testing.T) {
	tests := []struct {
		name string
		dg   []byte
		want int // frames recovered before the error
	}{
		{"dangling length byte", []byte{0x00}, 0},
		{"length beyond datagram", []byte{0x00, 0x05, 0x90, 0x3C}, 0},
		{"oversized frame", []byte{0x08, 0x00}, 0},
		{"good frame then truncated", append(AppendFrame(nil, []byte{0xF8}), 0x00, 0x09), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames, err := SplitFrames(tt.dg)
			assert.ErrorIs(t, err, status.ErrParse)
			assert.Len(t, frames, tt.want)
		})
	}
}
