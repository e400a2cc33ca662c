// Package wire is the hub's source ingress: the length-prefixed MIDI-over-UDP
// framing the controller sends, a running-status byte-stream parser, and the
// listener that feeds parsed events into the router.
package wire

import (
	"encoding/binary"
	"fmt"

	midi "gitlab.com/gomidi/midi/v2"

	"github.com/jgraeff/midihub/status"
)

// Event is a parsed MIDI message stamped with the monotonic microsecond time
// it entered the hub. Seq is assigned by the RTP packetizer when the event is
// packed; it is zero until then.
type Event struct {
	Msg    midi.Message
	Micros uint64
	Seq    uint16
}

// maxFrameLen bounds a single framed MIDI run. Anything longer than this in
// one frame is garbage, not music.
const maxFrameLen = 1024

// SplitFrames walks a datagram of [u16 big-endian length][payload] frames and
// returns the payloads. A truncated or oversized tail frame terminates the
// walk with ErrParse; the frames before it are still returned.
func SplitFrames(datagram []byte) ([][]byte, error) {
	var frames [][]byte
	rest := datagram
	for len(rest) > 0 {
		if len(rest) < 2 {
			return frames, fmt.Errorf("%w: dangling frame length byte", status.ErrParse)
		}
		n := int(binary.BigEndian.Uint16(rest))
		rest = rest[2:]
		if n == 0 {
			continue
		}
		if n > maxFrameLen {
			return frames, fmt.Errorf("%w: frame length %d exceeds limit %d", status.ErrParse, n, maxFrameLen)
		}
		if n > len(rest) {
			return frames, fmt.Errorf("%w: frame length %d exceeds remaining %d bytes", status.ErrParse, n, len(rest))
		}
		frames = append(frames, rest[:n])
		rest = rest[n:]
	}
	return frames, nil
}

// AppendFrame appends one length-prefixed frame to dst. Used by senders (the
// hardware tap, tests); the ingress only reads.
func AppendFrame(dst, payload []byte) []byte {
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(payload)))
	dst = append(dst, l[:]...)
	return append(dst, payload...)
}
