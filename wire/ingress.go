package wire

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/jgraeff/midihub/clock"
	"github.com/jgraeff/midihub/logging"
	"github.com/jgraeff/midihub/router"
	"github.com/jgraeff/midihub/status"
)

// readTimeout is how long one blocking read waits before rechecking the stop
// flag. It bounds shutdown latency, not throughput.
const readTimeout = 500 * time.Millisecond

// Ingress owns the UDP socket the controller tap sends framed MIDI to, and
// the goroutine that splits, parses, and publishes events into the router.
type Ingress struct {
	conn     *net.UDPConn
	ring     *router.Ring[Event]
	clk      clock.Clock
	counters *status.Counters
	log      *slog.Logger

	parser Parser
	stop   chan struct{}
	done   chan struct{}
}

// Listen binds the ingress socket. Port 0 picks an ephemeral port, which
// tests use; LocalPort reports the actual binding.
func Listen(port int, ring *router.Ring[Event], clk clock.Clock, counters *status.Counters) (*Ingress, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return nil, fmt.Errorf("%w: source udp port %d: %v", status.ErrBindFailed, port, err)
	}
	return &Ingress{
		conn:     conn,
		ring:     ring,
		clk:      clk,
		counters: counters,
		log:      logging.Get(logging.SOURCE_IN),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// LocalPort reports the bound UDP port.
func (in *Ingress) LocalPort() int {
	return in.conn.LocalAddr().(*net.UDPAddr).Port
}

// Start spawns the read loop.
func (in *Ingress) Start() {
	go in.loop()
}

// Stop terminates the read loop and closes the socket. Safe to call once.
func (in *Ingress) Stop() {
	close(in.stop)
	in.conn.Close()
	<-in.done
}

func (in *Ingress) loop() {
	defer close(in.done)
	buf := make([]byte, 2048)
	for {
		select {
		case <-in.stop:
			return
		default:
		}
		in.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, addr, err := in.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			in.log.Warn("source read failed", "err", err)
			continue
		}
		in.handle(buf[:n], addr)
	}
}

// handle splits one datagram into frames and publishes the parsed events.
// Each event is stamped at parse time; the stamp rides with the event all
// the way to the RTP timestamp and the OSC emission log.
func (in *Ingress) handle(datagram []byte, addr *net.UDPAddr) {
	frames, err := SplitFrames(datagram)
	if err != nil {
		in.counters.ParseErrors.Add(1)
		in.counters.SourceDrops.Add(1)
		in.log.Warn("bad source datagram", "from", addr, "err", err)
	}
	for _, frame := range frames {
		msgs, dropped := in.parser.Feed(frame)
		if dropped > 0 {
			in.counters.ParseErrors.Add(uint64(dropped))
			in.log.Warn("resynchronized midi stream", "from", addr, "dropped_bytes", dropped)
		}
		micros := in.clk.NowMicros()
		for _, msg := range msgs {
			in.ring.Publish(Event{Msg: msg, Micros: micros})
			in.log.Debug("source event", "msg", msg.String(), "micros", micros)
		}
	}
}
