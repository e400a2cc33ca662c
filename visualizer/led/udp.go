package led

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
)

const (
	// DefaultDDPPort is the standard DDP data port.
	DefaultDDPPort = 4048

	ddpVersion = 0x40
	ddpPush    = 0x01
	ddpDest    = 1

	// ddpChunkMax keeps each datagram under a typical MTU.
	ddpChunkMax = 1440
	ddpHeader   = 10
)

// UDP streams frames to a network pixel controller in the DDP wire format.
// Frames larger than one datagram split into offset chunks; the push flag
// rides on the last chunk so the controller latches the whole frame at once.
type UDP struct {
	conn net.Conn
	seq  uint8
	buf  []byte
}

// DialUDP connects to the controller at host. Zero or negative port uses the
// standard DDP port.
func DialUDP(host string, port int) (*UDP, error) {
	if port <= 0 {
		port = DefaultDDPPort
	}
	conn, err := net.Dial("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("ddp dial: %w", err)
	}
	return &UDP{conn: conn, buf: make([]byte, 0, ddpHeader+ddpChunkMax)}, nil
}

func (u *UDP) Write(frame []byte) error {
	if len(frame) == 0 {
		return nil
	}
	// Sequence numbers cycle 1..15; zero marks an untracked sender.
	u.seq++
	if u.seq > 15 {
		u.seq = 1
	}
	for offset := 0; offset < len(frame); offset += ddpChunkMax {
		end := offset + ddpChunkMax
		if end > len(frame) {
			end = len(frame)
		}
		chunk := frame[offset:end]
		flags := byte(ddpVersion)
		if end == len(frame) {
			flags |= ddpPush
		}
		u.buf = append(u.buf[:0], flags, u.seq, 0x00, ddpDest)
		u.buf = binary.BigEndian.AppendUint32(u.buf, uint32(offset))
		u.buf = binary.BigEndian.AppendUint16(u.buf, uint16(len(chunk)))
		u.buf = append(u.buf, chunk...)
		if _, err := u.conn.Write(u.buf); err != nil {
			return fmt.Errorf("ddp write: %w", err)
		}
	}
	return nil
}

func (u *UDP) Close() error { return u.conn.Close() }
