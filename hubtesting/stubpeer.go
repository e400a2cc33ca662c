package hubtesting

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/jgraeff/midihub/rtp"
	"github.com/jgraeff/midihub/session"
)

// StubPeer impersonates the DAW side of an Apple MIDI peering on loopback:
// it accepts invitations, answers clock sync, acknowledges data packets, and
// records everything it hears. Knobs inject rejection and loss.
type StubPeer struct {
	Name string
	SSRC uint32

	control *net.UDPConn
	data    *net.UDPConn
	done    sync.WaitGroup

	mu             sync.Mutex
	sessionControl *net.UDPAddr // learned from the session's packets
	sessionData    *net.UDPAddr
	packets        []rtp.Packet
	feedback       []uint16 // RS seqs the session sent us
	invites        int
	byes           int
	syncRounds     int
	rejectNext     int
	dropEvery      int
	dataCount      int
	mute           bool
}

// NewStubPeer binds an ephemeral control/data pair on adjacent ports, the
// layout Apple MIDI peers expect, and starts answering.
func NewStubPeer() (*StubPeer, error) {
	control, data, err := bindAdjacent()
	if err != nil {
		return nil, err
	}
	p := &StubPeer{
		Name:    "stub-daw",
		SSRC:    0x5AB0DA3,
		control: control,
		data:    data,
	}
	p.done.Add(2)
	go p.serve(control, false)
	go p.serve(data, true)
	return p, nil
}

// bindAdjacent bids for ephemeral ports until the next one up is also free.
func bindAdjacent() (*net.UDPConn, *net.UDPConn, error) {
	for attempt := 0; attempt < 16; attempt++ {
		control, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
		if err != nil {
			return nil, nil, err
		}
		port := control.LocalAddr().(*net.UDPAddr).Port
		data, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port + 1})
		if err == nil {
			return control, data, nil
		}
		control.Close()
	}
	return nil, nil, errors.New("stubpeer: no adjacent udp port pair available")
}

// Close stops both sockets.
func (p *StubPeer) Close() {
	p.control.Close()
	p.data.Close()
	p.done.Wait()
}

// ControlAddr is the address a session should invite.
func (p *StubPeer) ControlAddr() *net.UDPAddr {
	return p.control.LocalAddr().(*net.UDPAddr)
}

// DataAddr is the stub's data port.
func (p *StubPeer) DataAddr() *net.UDPAddr {
	return p.data.LocalAddr().(*net.UDPAddr)
}

// RejectInvites makes the stub answer NO to the next n invitations.
func (p *StubPeer) RejectInvites(n int) {
	p.mu.Lock()
	p.rejectNext = n
	p.mu.Unlock()
}

// DropEvery discards every nth inbound data packet (1-based). 0 disables.
func (p *StubPeer) DropEvery(n int) {
	p.mu.Lock()
	p.dropEvery = n
	p.mu.Unlock()
}

// Mute stops all automatic replies, simulating a dead peer.
func (p *StubPeer) Mute(on bool) {
	p.mu.Lock()
	p.mute = on
	p.mu.Unlock()
}

// Packets returns the accepted data packets in arrival order.
func (p *StubPeer) Packets() []rtp.Packet {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]rtp.Packet(nil), p.packets...)
}

// Feedback returns the RS sequence numbers received from the session.
func (p *StubPeer) Feedback() []uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint16(nil), p.feedback...)
}

// Invites reports how many IN packets arrived on either socket.
func (p *StubPeer) Invites() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.invites
}

// Byes reports how many BY packets arrived.
func (p *StubPeer) Byes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.byes
}

// Seen reports how many data packets arrived, dropped ones included.
func (p *StubPeer) Seen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dataCount
}

// SyncRounds reports how many CK0 packets the stub answered.
func (p *StubPeer) SyncRounds() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.syncRounds
}

// SessionAddrs reports the session's control and data addresses as learned
// from its traffic; nil before contact.
func (p *StubPeer) SessionAddrs() (control, data *net.UDPAddr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionControl, p.sessionData
}

// InjectData writes a raw datagram from the stub's data socket to the
// session's data port.
func (p *StubPeer) InjectData(b []byte) error {
	p.mu.Lock()
	to := p.sessionData
	p.mu.Unlock()
	if to == nil {
		return errors.New("stubpeer: session data address not learned yet")
	}
	_, err := p.data.WriteToUDP(b, to)
	return err
}

// InjectControl writes a raw datagram from the stub's control socket to the
// session's control port.
func (p *StubPeer) InjectControl(b []byte) error {
	p.mu.Lock()
	to := p.sessionControl
	p.mu.Unlock()
	if to == nil {
		return errors.New("stubpeer: session control address not learned yet")
	}
	_, err := p.control.WriteToUDP(b, to)
	return err
}

// SendFeedback acknowledges seq from the stub's control socket.
func (p *StubPeer) SendFeedback(seq uint16) error {
	msg := session.ControlMessage{Kind: session.CmdFeedback, SSRC: p.SSRC, Seq: seq}
	return p.InjectControl(msg.Encode())
}

func (p *StubPeer) serve(conn *net.UDPConn, onData bool) {
	defer p.done.Done()
	buf := make([]byte, 2048)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		b := make([]byte, n)
		copy(b, buf[:n])
		p.handle(conn, onData, b, from)
	}
}

func (p *StubPeer) handle(conn *net.UDPConn, onData bool, b []byte, from *net.UDPAddr) {
	p.mu.Lock()
	if onData {
		p.sessionData = from
	} else {
		p.sessionControl = from
	}
	mute := p.mute
	p.mu.Unlock()

	if session.IsControlPacket(b) {
		msg, err := session.ParseControl(b)
		if err != nil {
			return
		}
		switch msg.Kind {
		case session.CmdInvite:
			p.mu.Lock()
			p.invites++
			reject := p.rejectNext > 0
			if reject {
				p.rejectNext--
			}
			p.mu.Unlock()
			if mute {
				return
			}
			kind := session.CmdAccept
			if reject {
				kind = session.CmdReject
			}
			reply := session.ControlMessage{Kind: kind, Token: msg.Token, SSRC: p.SSRC, Name: p.Name}
			conn.WriteToUDP(reply.Encode(), from)
		case session.CmdSync:
			if msg.Count == 0 {
				p.mu.Lock()
				p.syncRounds++
				p.mu.Unlock()
				if mute {
					return
				}
				reply := session.ControlMessage{
					Kind:       session.CmdSync,
					SSRC:       p.SSRC,
					Count:      1,
					Timestamps: [3]uint64{msg.Timestamps[0], uint64(time.Now().UnixMicro()), 0},
				}
				conn.WriteToUDP(reply.Encode(), from)
			}
		case session.CmdEnd:
			p.mu.Lock()
			p.byes++
			p.mu.Unlock()
		case session.CmdFeedback:
			p.mu.Lock()
			p.feedback = append(p.feedback, msg.Seq)
			p.mu.Unlock()
		}
		return
	}

	pkt, err := rtp.Parse(b)
	if err != nil {
		return
	}
	p.mu.Lock()
	p.dataCount++
	drop := p.dropEvery > 0 && p.dataCount%p.dropEvery == 0
	if !drop {
		p.packets = append(p.packets, pkt)
	}
	mute = p.mute
	sessionControl := p.sessionControl
	p.mu.Unlock()
	if drop || mute || sessionControl == nil {
		return
	}
	ack := session.ControlMessage{Kind: session.CmdFeedback, SSRC: p.SSRC, Seq: pkt.Header.Seq}
	p.control.WriteToUDP(ack.Encode(), sessionControl)
}
