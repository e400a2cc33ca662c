package status

import "sync/atomic"

// Counters is the set of monotonic drop/error counters every stage reports
// into. All fields are safe for concurrent increment; reads are snapshots,
// not fences.
type Counters struct {
	ParseErrors       atomic.Uint64 // malformed frames, packets, or MIDI bytes
	SourceDrops       atomic.Uint64 // ingress frames discarded before parsing
	RTPDrops          atomic.Uint64 // ring entries dropped for the RTP consumer
	OSCDrops          atomic.Uint64 // ring entries dropped for the OSC consumer, plus OSC send drops
	SendFailures      atomic.Uint64 // RTP data/control send errors
	QueueOverflows    atomic.Uint64 // visualizer command queue rejections
	DupDiscards       atomic.Uint64 // duplicate RTP packets discarded on receive
	JournalRecoveries atomic.Uint64 // loss events repaired from a peer journal
}

// Snapshot copies the counters into a plain struct for reporting.
func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		ParseErrors:       c.ParseErrors.Load(),
		SourceDrops:       c.SourceDrops.Load(),
		RTPDrops:          c.RTPDrops.Load(),
		OSCDrops:          c.OSCDrops.Load(),
		SendFailures:      c.SendFailures.Load(),
		QueueOverflows:    c.QueueOverflows.Load(),
		DupDiscards:       c.DupDiscards.Load(),
		JournalRecoveries: c.JournalRecoveries.Load(),
	}
}

type CounterSnapshot struct {
	ParseErrors       uint64
	SourceDrops       uint64
	RTPDrops          uint64
	OSCDrops          uint64
	SendFailures      uint64
	QueueOverflows    uint64
	DupDiscards       uint64
	JournalRecoveries uint64
}

// Status is the facade-visible view of a running (or stopped) service.
type Status struct {
	Running  bool
	Session  string // current session state name
	WLEDIP   string
	Counters CounterSnapshot
}
