package wire

import (
	midi "gitlab.com/gomidi/midi/v2"
)

// maxSysExLen bounds an in-flight SysEx accumulation. A controller tap has
// no business streaming dumps bigger than this through the hub.
const maxSysExLen = 1024

// Parser reassembles complete MIDI messages from the framed byte stream,
// honoring running status and real-time interleaving the way a DIN serial
// stream does. State carries across Feed calls, so a message split between
// two frames still comes out whole.
//
// Parser is not safe for concurrent use; the ingress loop owns one.
type Parser struct {
	running byte
	pending []byte
	inSysEx bool
}

// Feed consumes one frame payload and returns the complete messages found,
// plus the number of bytes discarded while resynchronizing. Returned
// messages own their bytes; the caller may reuse b.
func (p *Parser) Feed(b []byte) (msgs []midi.Message, dropped int) {
	for _, c := range b {
		switch {
		case c >= 0xF8:
			// Real-time bytes may interleave anywhere, even inside another
			// message, and never disturb running status or the pending tail.
			msgs = append(msgs, midi.Message{c})

		case c >= 0x80:
			if p.inSysEx {
				if c == 0xF7 {
					msg := append(p.pending, c)
					if len(msg) > 2 {
						msgs = append(msgs, midi.Message(msg))
					} else {
						dropped += len(msg)
					}
					p.pending = nil
					p.inSysEx = false
					continue
				}
				// New status aborts the dump.
				dropped += len(p.pending)
				p.pending = nil
				p.inSysEx = false
			} else if len(p.pending) > 0 {
				// Truncated message interrupted by a new status.
				dropped += len(p.pending)
				p.pending = nil
			}
			switch {
			case c == 0xF0:
				p.inSysEx = true
				p.pending = []byte{c}
			case c >= 0xF1:
				// System common resets running status.
				p.running = 0
				switch c {
				case 0xF1, 0xF2, 0xF3:
					p.pending = []byte{c}
				case 0xF6:
					msgs = append(msgs, midi.Message{c})
				default:
					// 0xF4, 0xF5, stray 0xF7: undefined here, skip.
					dropped++
				}
			default:
				p.running = c
				p.pending = []byte{c}
			}

		default: // data byte
			switch {
			case p.inSysEx:
				if len(p.pending) >= maxSysExLen {
					dropped += len(p.pending) + 1
					p.pending = nil
					p.inSysEx = false
					continue
				}
				p.pending = append(p.pending, c)
			case len(p.pending) > 0:
				p.pending = append(p.pending, c)
			case p.running != 0:
				p.pending = []byte{p.running, c}
			default:
				// Data with no status to attach to.
				dropped++
				continue
			}
			if !p.inSysEx && len(p.pending) == 1+dataLen(p.pending[0]) {
				msgs = append(msgs, midi.Message(p.pending))
				p.pending = nil
			}
		}
	}
	return msgs, dropped
}

// dataLen returns the data byte count that completes a message starting with
// the given status byte. SysEx and real-time never reach here.
func dataLen(st byte) int {
	switch {
	case st >= 0xF1:
		switch st {
		case 0xF2:
			return 2
		case 0xF1, 0xF3:
			return 1
		default:
			return 0
		}
	case st&0xE0 == 0xC0: // program change, channel pressure
		return 1
	default:
		return 2
	}
}
