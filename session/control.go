// Package session drives one RTP-MIDI peering: the Apple MIDI handshake and
// clock sync on the control plane, packetized command sections with recovery
// journals on the data plane, and the single goroutine that owns all of it.
package session

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/jgraeff/midihub/status"
)

// Apple MIDI session packets open with two 0xFF bytes, which can never start
// an RTP packet (version bits would read 3). That is the whole demux.

const (
	protocolVersion = 2

	exchangeLen = 16
	syncLen     = 36
	feedbackLen = 12
)

// CommandKind tags the six Apple MIDI session commands.
type CommandKind uint8

const (
	CmdInvite CommandKind = iota // IN
	CmdAccept                    // OK
	CmdReject                    // NO
	CmdEnd                       // BY
	CmdSync                      // CK
	CmdFeedback                  // RS
)

func (k CommandKind) String() string {
	switch k {
	case CmdInvite:
		return "IN"
	case CmdAccept:
		return "OK"
	case CmdReject:
		return "NO"
	case CmdEnd:
		return "BY"
	case CmdSync:
		return "CK"
	case CmdFeedback:
		return "RS"
	default:
		return "??"
	}
}

func (k CommandKind) bytes() [2]byte {
	s := k.String()
	return [2]byte{s[0], s[1]}
}

// ControlMessage is one decoded Apple MIDI session packet. Which fields are
// meaningful depends on Kind: the exchange commands (IN/OK/NO/BY) carry
// Token, SSRC, and for IN/OK a Name; CK carries SSRC, Count, and Timestamps;
// RS carries SSRC and Seq.
type ControlMessage struct {
	Kind       CommandKind
	Token      uint32
	SSRC       uint32
	Name       string
	Count      uint8
	Timestamps [3]uint64
	Seq        uint16
}

// IsControlPacket reports whether a datagram is Apple MIDI rather than RTP.
func IsControlPacket(b []byte) bool {
	return len(b) >= 2 && b[0] == 0xFF && b[1] == 0xFF
}

// Encode serializes the message.
func (m ControlMessage) Encode() []byte {
	cmd := m.Kind.bytes()
	buf := make([]byte, 0, exchangeLen+len(m.Name)+1)
	buf = append(buf, 0xFF, 0xFF, cmd[0], cmd[1])
	switch m.Kind {
	case CmdInvite, CmdAccept, CmdReject, CmdEnd:
		buf = binary.BigEndian.AppendUint32(buf, protocolVersion)
		buf = binary.BigEndian.AppendUint32(buf, m.Token)
		buf = binary.BigEndian.AppendUint32(buf, m.SSRC)
		if m.Kind == CmdInvite || m.Kind == CmdAccept {
			buf = append(buf, m.Name...)
			buf = append(buf, 0)
		}
	case CmdSync:
		buf = binary.BigEndian.AppendUint32(buf, m.SSRC)
		buf = append(buf, m.Count, 0, 0, 0)
		for _, ts := range m.Timestamps {
			buf = binary.BigEndian.AppendUint64(buf, ts)
		}
	case CmdFeedback:
		buf = binary.BigEndian.AppendUint32(buf, m.SSRC)
		buf = binary.BigEndian.AppendUint16(buf, m.Seq)
		buf = append(buf, 0, 0)
	}
	return buf
}

// ParseControl decodes one Apple MIDI session packet.
func ParseControl(b []byte) (ControlMessage, error) {
	var m ControlMessage
	if len(b) < 4 {
		return m, fmt.Errorf("%w: control packet %d bytes", status.ErrParse, len(b))
	}
	if !IsControlPacket(b) {
		return m, fmt.Errorf("%w: control packet without 0xFFFF preamble", status.ErrParse)
	}
	switch {
	case b[2] == 'I' && b[3] == 'N':
		m.Kind = CmdInvite
	case b[2] == 'O' && b[3] == 'K':
		m.Kind = CmdAccept
	case b[2] == 'N' && b[3] == 'O':
		m.Kind = CmdReject
	case b[2] == 'B' && b[3] == 'Y':
		m.Kind = CmdEnd
	case b[2] == 'C' && b[3] == 'K':
		m.Kind = CmdSync
	case b[2] == 'R' && b[3] == 'S':
		m.Kind = CmdFeedback
	default:
		return m, fmt.Errorf("%w: unknown session command %q", status.ErrParse, string(b[2:4]))
	}

	switch m.Kind {
	case CmdInvite, CmdAccept, CmdReject, CmdEnd:
		if len(b) < exchangeLen {
			return m, fmt.Errorf("%w: %s packet %d bytes, need %d", status.ErrParse, m.Kind, len(b), exchangeLen)
		}
		if v := binary.BigEndian.Uint32(b[4:]); v != protocolVersion {
			return m, fmt.Errorf("%w: session protocol version %d, want %d", status.ErrParse, v, protocolVersion)
		}
		m.Token = binary.BigEndian.Uint32(b[8:])
		m.SSRC = binary.BigEndian.Uint32(b[12:])
		if m.Kind == CmdInvite || m.Kind == CmdAccept {
			name := b[exchangeLen:]
			if i := bytes.IndexByte(name, 0); i >= 0 {
				name = name[:i]
			}
			m.Name = string(name)
		}
	case CmdSync:
		if len(b) < syncLen {
			return m, fmt.Errorf("%w: CK packet %d bytes, need %d", status.ErrParse, len(b), syncLen)
		}
		m.SSRC = binary.BigEndian.Uint32(b[4:])
		m.Count = b[8]
		for i := range m.Timestamps {
			m.Timestamps[i] = binary.BigEndian.Uint64(b[12+8*i:])
		}
	case CmdFeedback:
		if len(b) < feedbackLen {
			return m, fmt.Errorf("%w: RS packet %d bytes, need %d", status.ErrParse, len(b), feedbackLen)
		}
		m.SSRC = binary.BigEndian.Uint32(b[4:])
		m.Seq = binary.BigEndian.Uint16(b[8:])
	}
	return m, nil
}
