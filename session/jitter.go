package session

import (
	"log/slog"

	"github.com/jgraeff/midihub/rtp"
	"github.com/jgraeff/midihub/status"
	"github.com/jgraeff/midihub/wire"
)

const (
	// jitterSlots bounds how many out-of-order packets are held back.
	jitterSlots = 10
)

// heldPacket is one out-of-order packet waiting for its gap to fill.
type heldPacket struct {
	pkt      rtp.Packet
	deadline uint64 // clock micros; past this the hold gives up
}

// receiveState orders the inbound data stream: duplicates are discarded,
// small reorderings are healed by a bounded hold-back buffer, and losses are
// concealed from the sender's recovery journal when one rides along.
//
// Owned by the session goroutine; no locking.
type receiveState struct {
	counters   *status.Counters
	log        *slog.Logger
	holdMicros uint64

	started       bool
	lastDelivered uint16
	buf           []heldPacket // ascending seq
}

func newReceiveState(counters *status.Counters, log *slog.Logger, holdMicros uint64) *receiveState {
	return &receiveState{counters: counters, log: log, holdMicros: holdMicros}
}

func (r *receiveState) reset() {
	r.started = false
	r.lastDelivered = 0
	r.buf = nil
}

// accept processes one parsed data packet. It returns the commands now
// deliverable in order, and ok=true with the new delivery cursor when an RS
// acknowledgment should go out.
func (r *receiveState) accept(pkt rtp.Packet, now uint64) (deliver []rtp.Command, ackSeq uint16, ok bool) {
	seq := pkt.Header.Seq

	if !r.started {
		r.started = true
		r.lastDelivered = seq
		return pkt.Commands, seq, true
	}

	if rtp.SeqDup(seq, r.lastDelivered) {
		r.counters.DupDiscards.Add(1)
		r.log.Debug("duplicate packet discarded", "seq", seq, "delivered", r.lastDelivered)
		return nil, 0, false
	}

	expected := r.lastDelivered + 1
	if seq == expected {
		deliver = append(deliver, pkt.Commands...)
		r.lastDelivered = seq
		deliver = r.drainConsecutive(deliver)
		return deliver, r.lastDelivered, true
	}

	// Gap. A journal that covers any of it lets us repair and jump without
	// waiting for retransmission that will never come.
	if recovered := r.recoverFromJournal(pkt.Journal, seq); recovered != nil {
		deliver = append(deliver, recovered...)
		deliver = append(deliver, pkt.Commands...)
		r.lastDelivered = seq
		deliver = r.drainConsecutive(deliver)
		return deliver, r.lastDelivered, true
	}

	// Hold and hope the gap fills.
	if !r.hold(pkt, now) {
		// Overflow: stop waiting, emit everything we have in order.
		r.log.Warn("jitter buffer overflow, flushing", "held", len(r.buf), "delivered", r.lastDelivered)
		deliver = r.flushAll(deliver)
		return deliver, r.lastDelivered, true
	}
	return nil, 0, false
}

// expire releases held packets whose deadline passed, accepting the loss of
// whatever never arrived before them.
func (r *receiveState) expire(now uint64) (deliver []rtp.Command, ackSeq uint16, ok bool) {
	for len(r.buf) > 0 && r.buf[0].deadline <= now {
		head := r.buf[0]
		r.buf = r.buf[1:]
		r.log.Warn("reorder hold expired, skipping gap",
			"from", r.lastDelivered, "to", head.pkt.Header.Seq)
		deliver = append(deliver, head.pkt.Commands...)
		r.lastDelivered = head.pkt.Header.Seq
		deliver = r.drainConsecutive(deliver)
		ok = true
	}
	return deliver, r.lastDelivered, ok
}

// nextDeadline reports when expire next has work.
func (r *receiveState) nextDeadline() (uint64, bool) {
	if len(r.buf) == 0 {
		return 0, false
	}
	return r.buf[0].deadline, true
}

// pending reports how many packets are held back.
func (r *receiveState) pending() int {
	return len(r.buf)
}

// recoverFromJournal pulls the journal entries strictly between the delivery
// cursor and seq, parsing their raw MIDI back into commands. Returns nil
// when the journal covers none of the gap.
func (r *receiveState) recoverFromJournal(j *rtp.Journal, seq uint16) []rtp.Command {
	if j == nil {
		return nil
	}
	var out []rtp.Command
	for _, e := range j.Entries {
		if !rtp.SeqLess(r.lastDelivered, e.Seq) || !rtp.SeqLess(e.Seq, seq) {
			continue
		}
		var p wire.Parser
		msgs, dropped := p.Feed(e.Raw)
		if dropped > 0 {
			r.counters.ParseErrors.Add(uint64(dropped))
		}
		for _, msg := range msgs {
			out = append(out, rtp.Command{Msg: msg})
		}
		r.log.Info("recovered lost packet from journal", "seq", e.Seq, "commands", len(msgs))
	}
	if out == nil {
		return nil
	}
	r.counters.JournalRecoveries.Add(1)
	return out
}

// hold buffers pkt sorted by seq. ok=false means the buffer is full and the
// caller must flush. A seq already held counts as a duplicate.
func (r *receiveState) hold(pkt rtp.Packet, now uint64) bool {
	seq := pkt.Header.Seq
	at := len(r.buf)
	for i, h := range r.buf {
		d := rtp.SeqDiff(seq, h.pkt.Header.Seq)
		if d == 0 {
			r.counters.DupDiscards.Add(1)
			return true
		}
		if d < 0 {
			at = i
			break
		}
	}
	r.buf = append(r.buf, heldPacket{})
	copy(r.buf[at+1:], r.buf[at:])
	r.buf[at] = heldPacket{pkt: pkt, deadline: now + r.holdMicros}
	return len(r.buf) <= jitterSlots
}

// flushAll empties the buffer in seq order, jumping every gap.
func (r *receiveState) flushAll(deliver []rtp.Command) []rtp.Command {
	for _, h := range r.buf {
		if rtp.SeqDup(h.pkt.Header.Seq, r.lastDelivered) {
			continue
		}
		deliver = append(deliver, h.pkt.Commands...)
		r.lastDelivered = h.pkt.Header.Seq
	}
	r.buf = nil
	return deliver
}

// drainConsecutive emits held packets that the advanced cursor made
// in-order, and drops ones it made stale.
func (r *receiveState) drainConsecutive(deliver []rtp.Command) []rtp.Command {
	for len(r.buf) > 0 {
		seq := r.buf[0].pkt.Header.Seq
		if rtp.SeqDup(seq, r.lastDelivered) {
			r.buf = r.buf[1:]
			continue
		}
		if seq != r.lastDelivered+1 {
			break
		}
		deliver = append(deliver, r.buf[0].pkt.Commands...)
		r.lastDelivered = seq
		r.buf = r.buf[1:]
	}
	return deliver
}
