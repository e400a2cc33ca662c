package rtp

import (
	"encoding/binary"
	"fmt"

	"github.com/jgraeff/midihub/status"
)

// Journal is the recovery section appended to data packets: a snapshot of
// recently sent command sections so a receiver can conceal single and burst
// loss without retransmission. Entries are ordered by ascending sequence
// number; Checkpoint is the seq of the oldest entry still covered.
//
// The layout is a compact state journal rather than the full RFC 6295
// chapter encoding:
//
//	[S|reserved(7)] [checkpoint u16] [count u8]
//	count x { [seq u16] [len u16] [len bytes of MIDI, explicit status] }
type Journal struct {
	Checkpoint uint16
	Entries    []JournalEntry
}

// JournalEntry retains the raw MIDI of one previously sent packet.
type JournalEntry struct {
	Seq uint16
	Raw []byte
}

const (
	journalFlagS       = 0x80 // single-packet-loss coverage starts at Checkpoint
	maxJournalEntryLen = maxSectionLen
	maxJournalEntries  = 255
)

// AppendTo appends the encoded journal to dst.
func (j Journal) AppendTo(dst []byte) ([]byte, error) {
	if len(j.Entries) > maxJournalEntries {
		return nil, fmt.Errorf("journal holds %d entries, limit %d", len(j.Entries), maxJournalEntries)
	}
	dst = append(dst, journalFlagS)
	dst = binary.BigEndian.AppendUint16(dst, j.Checkpoint)
	dst = append(dst, byte(len(j.Entries)))
	for _, e := range j.Entries {
		if len(e.Raw) > maxJournalEntryLen {
			return nil, fmt.Errorf("journal entry seq %d is %d bytes, limit %d", e.Seq, len(e.Raw), maxJournalEntryLen)
		}
		dst = binary.BigEndian.AppendUint16(dst, e.Seq)
		dst = binary.BigEndian.AppendUint16(dst, uint16(len(e.Raw)))
		dst = append(dst, e.Raw...)
	}
	return dst, nil
}

// ParseJournal decodes a journal section and returns the bytes that follow.
func ParseJournal(b []byte) (Journal, []byte, error) {
	var j Journal
	if len(b) < 4 {
		return j, nil, fmt.Errorf("%w: journal header %d bytes, need 4", status.ErrParse, len(b))
	}
	if b[0]&journalFlagS == 0 {
		return j, nil, fmt.Errorf("%w: journal without S bit", status.ErrParse)
	}
	j.Checkpoint = binary.BigEndian.Uint16(b[1:])
	count := int(b[3])
	rest := b[4:]
	for i := 0; i < count; i++ {
		if len(rest) < 4 {
			return j, nil, fmt.Errorf("%w: journal entry %d truncated", status.ErrParse, i)
		}
		seq := binary.BigEndian.Uint16(rest)
		n := int(binary.BigEndian.Uint16(rest[2:]))
		rest = rest[4:]
		if len(rest) < n {
			return j, nil, fmt.Errorf("%w: journal entry seq %d wants %d bytes, %d available", status.ErrParse, seq, n, len(rest))
		}
		j.Entries = append(j.Entries, JournalEntry{Seq: seq, Raw: rest[:n]})
		rest = rest[n:]
	}
	return j, rest, nil
}
