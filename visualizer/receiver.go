package visualizer

import (
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/hypebeast/go-osc/osc"

	"github.com/jgraeff/midihub/logging"
	"github.com/jgraeff/midihub/status"
)

// Receiver listens for the hub's OSC stream and enqueues animation commands.
// Malformed messages bump ParseErrors; a full queue bumps QueueOverflows and
// drops the command. The network read never blocks on the engine.
type Receiver struct {
	queue    *Queue
	counters *status.Counters
	log      *slog.Logger
	addr     string

	conn net.PacketConn
	done chan struct{}
}

func NewReceiver(addr string, q *Queue, counters *status.Counters) *Receiver {
	return &Receiver{
		queue:    q,
		counters: counters,
		log:      logging.Get(logging.VIZ),
		addr:     addr,
		done:     make(chan struct{}),
	}
}

// Start binds the OSC port and serves until Stop.
func (r *Receiver) Start() error {
	conn, err := net.ListenPacket("udp", r.addr)
	if err != nil {
		return fmt.Errorf("%w: osc listen on %s: %v", status.ErrBindFailed, r.addr, err)
	}
	r.conn = conn

	d := osc.NewStandardDispatcher()
	handlers := map[string]func(*osc.Message){
		"/noteOn":           r.onNoteOn,
		"/noteOff":          r.onNoteOff,
		"/cc":               r.onControlChange,
		"/pitchBend":        r.onPitchBend,
		"/config/setEffect": r.onSetEffect,
	}
	for addr, h := range handlers {
		if err := d.AddMsgHandler(addr, h); err != nil {
			conn.Close()
			return fmt.Errorf("osc handler %s: %w", addr, err)
		}
	}
	srv := &osc.Server{Dispatcher: d}
	go func() {
		defer close(r.done)
		if err := srv.Serve(conn); err != nil && !errors.Is(err, net.ErrClosed) {
			r.log.Error("osc server exited", "err", err)
		}
	}()
	r.log.Info("visualizer listening", "addr", conn.LocalAddr())
	return nil
}

// Stop closes the socket and waits for the serve loop to exit.
func (r *Receiver) Stop() {
	if r.conn == nil {
		return
	}
	r.conn.Close()
	<-r.done
}

// LocalPort reports the bound UDP port.
func (r *Receiver) LocalPort() int {
	if r.conn == nil {
		return 0
	}
	return r.conn.LocalAddr().(*net.UDPAddr).Port
}

func (r *Receiver) onNoteOn(msg *osc.Message) {
	if len(msg.Arguments) < 2 {
		r.reject(msg, "want note and velocity")
		return
	}
	note, ok := r.byteArg(msg, 0)
	if !ok {
		return
	}
	vel, ok := r.byteArg(msg, 1)
	if !ok {
		return
	}
	r.push(Command{Kind: CmdNoteOn, A: note, B: vel})
}

func (r *Receiver) onNoteOff(msg *osc.Message) {
	if len(msg.Arguments) < 1 {
		r.reject(msg, "want note")
		return
	}
	note, ok := r.byteArg(msg, 0)
	if !ok {
		return
	}
	r.push(Command{Kind: CmdNoteOff, A: note})
}

func (r *Receiver) onControlChange(msg *osc.Message) {
	if len(msg.Arguments) < 2 {
		r.reject(msg, "want controller and value")
		return
	}
	ctrl, ok := r.byteArg(msg, 0)
	if !ok {
		return
	}
	val, ok := r.byteArg(msg, 1)
	if !ok {
		return
	}
	r.push(Command{Kind: CmdControlChange, A: ctrl, B: val})
}

func (r *Receiver) onPitchBend(msg *osc.Message) {
	if len(msg.Arguments) < 1 {
		r.reject(msg, "want bend value")
		return
	}
	bend, ok := asFloat(msg.Arguments[0])
	if !ok {
		r.reject(msg, "bend not numeric")
		return
	}
	if bend < -1 {
		bend = -1
	}
	if bend > 1 {
		bend = 1
	}
	r.push(Command{Kind: CmdPitchBend, Bend: bend})
}

func (r *Receiver) onSetEffect(msg *osc.Message) {
	if len(msg.Arguments) < 1 {
		r.reject(msg, "want effect id")
		return
	}
	id, ok := r.byteArg(msg, 0)
	if !ok {
		return
	}
	r.push(Command{Kind: CmdSetEffect, A: id})
}

func (r *Receiver) push(cmd Command) {
	if !r.queue.TryPush(cmd) {
		r.counters.QueueOverflows.Add(1)
		r.log.Warn("command queue full", "kind", cmd.Kind)
	}
}

func (r *Receiver) reject(msg *osc.Message, why string) {
	r.counters.ParseErrors.Add(1)
	r.log.Warn("bad osc message", "addr", msg.Address, "why", why)
}

// byteArg decodes argument i as an integer in 0..255, counting anything else
// as a parse error.
func (r *Receiver) byteArg(msg *osc.Message, i int) (uint8, bool) {
	v, ok := asInt(msg.Arguments[i])
	if !ok || v < 0 || v > 255 {
		r.reject(msg, fmt.Sprintf("argument %d out of range", i))
		return 0, false
	}
	return uint8(v), true
}

// asInt coerces the integer types go-osc may deliver.
func asInt(arg interface{}) (int64, bool) {
	switch v := arg.(type) {
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

// asFloat coerces the numeric types go-osc may deliver.
func asFloat(arg interface{}) (float32, bool) {
	switch v := arg.(type) {
	case float32:
		return v, true
	case float64:
		return float32(v), true
	case int32:
		return float32(v), true
	default:
		return 0, false
	}
}
