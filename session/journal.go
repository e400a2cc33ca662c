package session

import (
	midi "gitlab.com/gomidi/midi/v2"

	"github.com/jgraeff/midihub/rtp"
)

// historyCap bounds the send history to the sequence window the receiver
// feedback horizon works in. With no feedback at all the journal still never
// outgrows one window.
const historyCap = 128

// sendHistory retains the command section of every sent data packet so the
// next packet can carry a recovery journal, and trims on receiver feedback:
// everything older than lastAcked-128 is gone for good.
type sendHistory struct {
	entries   []rtp.JournalEntry // ascending seq
	lastAcked uint16
	acked     bool
}

// record appends one sent packet. raw must not be reused by the caller.
func (h *sendHistory) record(seq uint16, raw []byte) {
	if len(raw) == 0 {
		return
	}
	h.entries = append(h.entries, rtp.JournalEntry{Seq: seq, Raw: raw})
	if len(h.entries) > historyCap {
		h.entries = h.entries[1:]
	}
}

// ack records receiver feedback and evicts entries behind the horizon.
func (h *sendHistory) ack(seq uint16) {
	if h.acked && !rtp.SeqLess(h.lastAcked, seq) {
		return // stale or duplicate feedback
	}
	h.lastAcked = seq
	h.acked = true
	horizon := seq - historyCap
	i := 0
	for i < len(h.entries) && rtp.SeqLess(h.entries[i].Seq, horizon) {
		i++
	}
	h.entries = h.entries[i:]
}

// journal snapshots the retained history, or nil when there is nothing to
// recover from.
func (h *sendHistory) journal() *rtp.Journal {
	if len(h.entries) == 0 {
		return nil
	}
	return &rtp.Journal{
		Checkpoint: h.entries[0].Seq,
		Entries:    append([]rtp.JournalEntry(nil), h.entries...),
	}
}

func (h *sendHistory) reset() {
	h.entries = nil
	h.acked = false
	h.lastAcked = 0
}

// noteTracker mirrors which notes the peer currently hears, so teardown can
// silence them instead of leaving a chord hanging in the DAW.
type noteTracker struct {
	sounding map[noteKey]struct{}
}

type noteKey struct {
	channel uint8
	key     uint8
}

func newNoteTracker() *noteTracker {
	return &noteTracker{sounding: make(map[noteKey]struct{})}
}

// observe updates the sounding set from one sent message.
func (n *noteTracker) observe(msg midi.Message) {
	var ch, key, vel uint8
	switch {
	case msg.GetNoteStart(&ch, &key, &vel):
		n.sounding[noteKey{ch, key}] = struct{}{}
	case msg.GetNoteEnd(&ch, &key):
		delete(n.sounding, noteKey{ch, key})
	}
}

// flush returns a NoteOff for every note still sounding and clears the set.
func (n *noteTracker) flush() []midi.Message {
	if len(n.sounding) == 0 {
		return nil
	}
	msgs := make([]midi.Message, 0, len(n.sounding))
	for k := range n.sounding {
		msgs = append(msgs, midi.NoteOff(k.channel, k.key))
	}
	n.sounding = make(map[noteKey]struct{})
	return msgs
}

func (n *noteTracker) count() int {
	return len(n.sounding)
}
