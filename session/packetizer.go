package session

import (
	"github.com/jgraeff/midihub/rtp"
	"github.com/jgraeff/midihub/wire"
)

// maxSectionBytes caps the encoded command section of one packet. With the
// 12-byte header and a journal riding along, packets stay inside a single
// conservative MTU.
const maxSectionBytes = 1200

// packetizer coalesces outbound events: everything arriving within one
// window leaves as a single command section with intra-packet delta-times.
// The session goroutine owns it.
type packetizer struct {
	windowMicros uint64

	pending  []wire.Event
	bytes    int
	deadline uint64
}

func newPacketizer(windowMicros uint64) *packetizer {
	return &packetizer{windowMicros: windowMicros}
}

// add queues ev. When the byte budget would overflow, the queued batch is
// returned for immediate sending and ev starts the next one.
func (p *packetizer) add(ev wire.Event, now uint64) []wire.Event {
	// Worst case wire cost: four delta bytes plus the message.
	cost := 4 + len(ev.Msg)
	var full []wire.Event
	if p.bytes+cost > maxSectionBytes && len(p.pending) > 0 {
		full = p.flush()
	}
	if len(p.pending) == 0 {
		p.deadline = now + p.windowMicros
	}
	p.pending = append(p.pending, ev)
	p.bytes += cost
	return full
}

// due reports whether the window closed on a non-empty batch.
func (p *packetizer) due(now uint64) bool {
	return len(p.pending) > 0 && now >= p.deadline
}

// nextDeadline reports when the open batch must flush.
func (p *packetizer) nextDeadline() (uint64, bool) {
	if len(p.pending) == 0 {
		return 0, false
	}
	return p.deadline, true
}

// flush hands over the open batch.
func (p *packetizer) flush() []wire.Event {
	batch := p.pending
	p.pending = nil
	p.bytes = 0
	return batch
}

// commands converts a batch into wire commands, turning the source
// timestamps into tick deltas. The first command's delta is zero; the
// packet's RTP timestamp locates it absolutely.
func commands(batch []wire.Event) []rtp.Command {
	cmds := make([]rtp.Command, len(batch))
	for i, ev := range batch {
		var delta uint32
		if i > 0 {
			prev := batch[i-1].Micros
			if ev.Micros > prev {
				delta = rtp.MicrosToTicks(ev.Micros - prev)
			}
		}
		cmds[i] = rtp.Command{Delta: delta, Msg: ev.Msg}
	}
	return cmds
}
