// Package visualizer turns the hub's OSC stream into LED frames: an OSC
// receiver feeds a bounded command queue, an animation engine evolves
// per-note state and composes frames at a fixed rate, and an led.Driver
// pushes them to the strip.
package visualizer

// CommandKind tags the animation commands the OSC surface can carry.
type CommandKind uint8

const (
	CmdNoteOn CommandKind = iota
	CmdNoteOff
	CmdControlChange
	CmdPitchBend
	CmdSetEffect
)

func (k CommandKind) String() string {
	switch k {
	case CmdNoteOn:
		return "noteOn"
	case CmdNoteOff:
		return "noteOff"
	case CmdControlChange:
		return "cc"
	case CmdPitchBend:
		return "pitchBend"
	case CmdSetEffect:
		return "setEffect"
	default:
		return "unknown"
	}
}

// Command is one decoded animation instruction. It is a fixed-size value so
// the queue can pass it between goroutines by copy. A carries the note,
// controller, or effect id; B the velocity or controller value.
type Command struct {
	Kind CommandKind
	A    uint8
	B    uint8
	Bend float32
}
