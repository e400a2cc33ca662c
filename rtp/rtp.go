// Package rtp encodes and decodes the RTP-MIDI payload format (RFC 6295):
// the fixed RTP header, the MIDI command section with its variable-length
// delta-times, and the recovery journal appended for loss concealment. The
// package is a pure codec; sockets, retransmission policy, and session state
// live in package session.
package rtp

import (
	"encoding/binary"
	"fmt"

	midi "gitlab.com/gomidi/midi/v2"

	"github.com/jgraeff/midihub/status"
)

const (
	// PayloadType identifies RTP-MIDI in the RTP header. 97 is the first
	// dynamic payload type and the conventional choice for Apple MIDI peers.
	PayloadType = 97

	rtpVersion = 2
	headerLen  = 12

	// TicksPerSecond is the RTP media clock rate. Delta-times and header
	// timestamps count 100 microsecond ticks.
	TicksPerSecond = 10000

	maxVLQ        = 0x0FFFFFFF
	maxSectionLen = 0x0FFF
)

// MicrosToTicks converts a monotonic microsecond reading to RTP timestamp
// ticks, truncating to the 32-bit media clock.
func MicrosToTicks(micros uint64) uint32 {
	return uint32(micros / 100)
}

// Header is the fixed 12-byte RTP header carried on every data-port packet.
// Version is always 2 and the payload type always 97; padding, extensions,
// and CSRC lists are never emitted and rejected on parse.
type Header struct {
	Marker    bool
	Seq       uint16
	Timestamp uint32
	SSRC      uint32
}

// AppendTo appends the encoded header to dst and returns the extended slice.
func (h Header) AppendTo(dst []byte) []byte {
	b0 := byte(rtpVersion << 6)
	b1 := byte(PayloadType)
	if h.Marker {
		b1 |= 0x80
	}
	dst = append(dst, b0, b1)
	dst = binary.BigEndian.AppendUint16(dst, h.Seq)
	dst = binary.BigEndian.AppendUint32(dst, h.Timestamp)
	return binary.BigEndian.AppendUint32(dst, h.SSRC)
}

// ParseHeader decodes the fixed header and returns the remaining payload.
func ParseHeader(b []byte) (Header, []byte, error) {
	var h Header
	if len(b) < headerLen {
		return h, nil, fmt.Errorf("%w: rtp packet %d bytes, need %d", status.ErrParse, len(b), headerLen)
	}
	if v := b[0] >> 6; v != rtpVersion {
		return h, nil, fmt.Errorf("%w: rtp version %d", status.ErrParse, v)
	}
	if b[0]&0x3F != 0 {
		return h, nil, fmt.Errorf("%w: rtp padding/extension/csrc not supported", status.ErrParse)
	}
	if pt := b[1] & 0x7F; pt != PayloadType {
		return h, nil, fmt.Errorf("%w: rtp payload type %d, want %d", status.ErrParse, pt, PayloadType)
	}
	h.Marker = b[1]&0x80 != 0
	h.Seq = binary.BigEndian.Uint16(b[2:])
	h.Timestamp = binary.BigEndian.Uint32(b[6:])
	h.SSRC = binary.BigEndian.Uint32(b[8:])
	return h, b[headerLen:], nil
}

// Command is one MIDI message in a command section, tagged with the
// delta-time in ticks separating it from the previous command. The first
// command of a packet usually carries delta zero.
type Command struct {
	Delta uint32
	Msg   midi.Message
}

// Packet is a fully decoded RTP-MIDI data packet.
type Packet struct {
	Header   Header
	Commands []Command
	Journal  *Journal
}

// Encode serializes the packet: header, command section, and journal when
// present. The command section length is bounded at 4095 bytes; the session
// packetizer stays far below that.
func (p Packet) Encode() ([]byte, error) {
	buf := p.Header.AppendTo(make([]byte, 0, 64))
	buf, err := appendCommands(buf, p.Commands, p.Journal != nil)
	if err != nil {
		return nil, err
	}
	if p.Journal != nil {
		buf, err = p.Journal.AppendTo(buf)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// Parse decodes a complete data-port packet. Trailing bytes beyond the
// sections announced by the flags are an error.
func Parse(b []byte) (Packet, error) {
	var p Packet
	h, rest, err := ParseHeader(b)
	if err != nil {
		return p, err
	}
	p.Header = h
	cmds, rest, hasJournal, err := parseCommands(rest)
	if err != nil {
		return p, err
	}
	p.Commands = cmds
	if hasJournal {
		j, rest2, err := ParseJournal(rest)
		if err != nil {
			return p, err
		}
		p.Journal = &j
		rest = rest2
	}
	if len(rest) != 0 {
		return p, fmt.Errorf("%w: %d trailing bytes after rtp payload", status.ErrParse, len(rest))
	}
	return p, nil
}

// Command section flag bits (RFC 6295 section 3.1).
const (
	flagB = 0x80 // header is two bytes, 12-bit length
	flagJ = 0x40 // journal section follows
	flagZ = 0x20 // list begins with a delta-time for the first command
	flagP = 0x10 // first command status is phantom (carried from prior packet)
)

// appendCommands encodes the MIDI command section. Every command is written
// with explicit status; the Z flag is set only when the first command has a
// nonzero delta.
func appendCommands(dst []byte, cmds []Command, journal bool) ([]byte, error) {
	body := make([]byte, 0, 32)
	var flags byte
	for i, c := range cmds {
		if len(c.Msg) == 0 {
			return nil, fmt.Errorf("empty midi command at index %d", i)
		}
		if i == 0 {
			if c.Delta != 0 {
				flags |= flagZ
				var err error
				body, err = appendVLQ(body, c.Delta)
				if err != nil {
					return nil, err
				}
			}
		} else {
			var err error
			body, err = appendVLQ(body, c.Delta)
			if err != nil {
				return nil, err
			}
		}
		body = append(body, c.Msg...)
	}
	if journal {
		flags |= flagJ
	}
	n := len(body)
	if n > maxSectionLen {
		return nil, fmt.Errorf("command section %d bytes exceeds %d", n, maxSectionLen)
	}
	if n > 0x0F {
		dst = append(dst, flags|flagB|byte(n>>8), byte(n))
	} else {
		dst = append(dst, flags|byte(n))
	}
	return append(dst, body...), nil
}

// parseCommands decodes the command section, returning the commands, the
// bytes that follow the section, and whether the J flag announced a journal.
// Running status within the list is honored; a phantom first status (P=1) is
// not, because the hub never emits one and reconstructing it would require
// cross-packet state that loss makes unreliable.
func parseCommands(b []byte) ([]Command, []byte, bool, error) {
	if len(b) < 1 {
		return nil, nil, false, fmt.Errorf("%w: missing command section header", status.ErrParse)
	}
	flags := b[0]
	if flags&flagP != 0 {
		return nil, nil, false, fmt.Errorf("%w: phantom running status (P=1) not supported", status.ErrParse)
	}
	n := int(flags & 0x0F)
	at := 1
	if flags&flagB != 0 {
		if len(b) < 2 {
			return nil, nil, false, fmt.Errorf("%w: truncated two-byte section header", status.ErrParse)
		}
		n = n<<8 | int(b[1])
		at = 2
	}
	if len(b) < at+n {
		return nil, nil, false, fmt.Errorf("%w: command section %d bytes, %d available", status.ErrParse, n, len(b)-at)
	}
	body := b[at : at+n]
	rest := b[at+n:]
	hasJournal := flags&flagJ != 0

	var cmds []Command
	var running byte
	first := true
	for len(body) > 0 {
		var delta uint32
		if !first || flags&flagZ != 0 {
			var used int
			var err error
			delta, used, err = readVLQ(body)
			if err != nil {
				return nil, nil, false, err
			}
			body = body[used:]
			if len(body) == 0 {
				return nil, nil, false, fmt.Errorf("%w: delta-time with no command", status.ErrParse)
			}
		}
		first = false
		msg, used, newRunning, err := readCommand(body, running)
		if err != nil {
			return nil, nil, false, err
		}
		running = newRunning
		body = body[used:]
		cmds = append(cmds, Command{Delta: delta, Msg: msg})
	}
	return cmds, rest, hasJournal, nil
}

// readCommand decodes one MIDI command from the head of body, resolving
// running status against the previous channel-voice status in this section.
func readCommand(body []byte, running byte) (midi.Message, int, byte, error) {
	st := body[0]
	used := 1
	if st < 0x80 {
		if running == 0 {
			return nil, 0, 0, fmt.Errorf("%w: data byte 0x%02X with no running status", status.ErrParse, st)
		}
		st = running
		used = 0
	}
	switch {
	case st >= 0xF8:
		// Real-time: single byte, running status untouched.
		return midi.Message(body[:1]), 1, running, nil
	case st == 0xF0:
		end := -1
		for i := used; i < len(body); i++ {
			if body[i] == 0xF7 {
				end = i
				break
			}
		}
		if end < 0 {
			return nil, 0, 0, fmt.Errorf("%w: unterminated sysex in command section", status.ErrParse)
		}
		return midi.Message(body[:end+1]), end + 1, 0, nil
	case st >= 0xF1:
		n := systemDataLen(st)
		if n < 0 {
			return nil, 0, 0, fmt.Errorf("%w: unexpected system byte 0x%02X", status.ErrParse, st)
		}
		if len(body) < used+n {
			return nil, 0, 0, fmt.Errorf("%w: truncated system message 0x%02X", status.ErrParse, st)
		}
		return midi.Message(body[:used+n]), used + n, 0, nil
	default:
		n := channelDataLen(st)
		if len(body) < used+n {
			return nil, 0, 0, fmt.Errorf("%w: truncated command 0x%02X, need %d data bytes", status.ErrParse, st, n)
		}
		for i := used; i < used+n; i++ {
			if body[i] >= 0x80 {
				return nil, 0, 0, fmt.Errorf("%w: status byte 0x%02X inside command data", status.ErrParse, body[i])
			}
		}
		var msg midi.Message
		if used == 0 {
			// Running status: rebuild the explicit form.
			msg = append(midi.Message{st}, body[:n]...)
		} else {
			msg = midi.Message(body[:1+n])
		}
		return msg, used + n, st, nil
	}
}

// channelDataLen returns the data byte count for a channel-voice status.
func channelDataLen(st byte) int {
	if st&0xE0 == 0xC0 { // 0xC0 program change, 0xD0 channel pressure
		return 1
	}
	return 2
}

// systemDataLen returns the data byte count for system-common statuses, or
// -1 for bytes that never appear mid-stream (0xF4, 0xF5, stray 0xF7).
func systemDataLen(st byte) int {
	switch st {
	case 0xF1, 0xF3:
		return 1
	case 0xF2:
		return 2
	case 0xF6:
		return 0
	default:
		return -1
	}
}

// appendVLQ appends v as a big-endian variable-length quantity, 7 bits per
// byte with the high bit marking continuation. Values fit in four bytes.
func appendVLQ(dst []byte, v uint32) ([]byte, error) {
	if v > maxVLQ {
		return nil, fmt.Errorf("delta-time %d exceeds four-byte quantity", v)
	}
	switch {
	case v >= 1<<21:
		dst = append(dst, byte(v>>21)|0x80)
		fallthrough
	case v >= 1<<14:
		dst = append(dst, byte(v>>14)|0x80)
		fallthrough
	case v >= 1<<7:
		dst = append(dst, byte(v>>7)|0x80)
		fallthrough
	default:
		dst = append(dst, byte(v&0x7F))
	}
	return dst, nil
}

// readVLQ decodes a variable-length quantity from the head of b.
func readVLQ(b []byte) (uint32, int, error) {
	var v uint32
	for i := 0; i < len(b) && i < 4; i++ {
		v = v<<7 | uint32(b[i]&0x7F)
		if b[i]&0x80 == 0 {
			return v, i + 1, nil
		}
	}
	if len(b) >= 4 {
		return 0, 0, fmt.Errorf("%w: delta-time longer than four bytes", status.ErrParse)
	}
	return 0, 0, fmt.Errorf("%w: truncated delta-time", status.ErrParse)
}
