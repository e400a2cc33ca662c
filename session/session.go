package session

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	midi "gitlab.com/gomidi/midi/v2"

	"github.com/jgraeff/midihub/clock"
	"github.com/jgraeff/midihub/logging"
	"github.com/jgraeff/midihub/router"
	"github.com/jgraeff/midihub/rtp"
	"github.com/jgraeff/midihub/status"
	"github.com/jgraeff/midihub/wire"
)

// State is the session lifecycle position. Transitions happen only on the
// session goroutine; State() reads a mirror.
type State int32

const (
	StateIdle State = iota
	StateInviting
	StateTimestampSync
	StateEstablished
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInviting:
		return "inviting"
	case StateTimestampSync:
		return "timestamp_sync"
	case StateEstablished:
		return "established"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Timeouts gathers every schedule the session runs on. Tests compress them;
// production uses DefaultTimeouts.
type Timeouts struct {
	InviteTimeout  time.Duration // first attempt; doubles per retry
	InviteAttempts int
	SyncInterval   time.Duration // CK cadence once established
	SyncTimeout    time.Duration // per CK round
	SyncFailLimit  int           // consecutive CK timeouts before giving up
	IdleTimeout    time.Duration // no inbound at all
	ReinviteDelay  time.Duration // after peer BY or idle teardown
	CoalesceWindow time.Duration // outbound batching
	JitterHold     time.Duration // inbound reorder hold
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		InviteTimeout:  5 * time.Second,
		InviteAttempts: 3,
		SyncInterval:   10 * time.Second,
		SyncTimeout:    2 * time.Second,
		SyncFailLimit:  3,
		IdleTimeout:    30 * time.Second,
		ReinviteDelay:  5 * time.Second,
		CoalesceWindow: 20 * time.Millisecond,
		JitterHold:     20 * time.Millisecond,
	}
}

// Config describes one peering. PeerControl non-nil makes the session the
// initiator; nil leaves it listening for an inbound invitation.
type Config struct {
	// Name is sent in invitations and acceptances.
	Name string
	// SSRC identifies our stream; 0 picks a random one.
	SSRC uint32
	// PeerControl and PeerData are the remote Apple MIDI port pair.
	PeerControl *net.UDPAddr
	PeerData    *net.UDPAddr
	// LocalPort fixes the local control port (data = port+1); 0 bids for an
	// ephemeral adjacent pair.
	LocalPort int
	Timeouts  Timeouts
	// OnReceive delivers inbound MIDI in order. Called from the session
	// goroutine; keep it brief.
	OnReceive func([]midi.Message)
}

// Info is a point-in-time snapshot for status reporting.
type Info struct {
	State             State
	PeerName          string
	PeerSSRC          uint32
	ClockOffsetMicros int64
	LastRTTMicros     uint64
	Err               error
}

// inbound is one datagram handed from a reader goroutine to the owner.
type inbound struct {
	data []byte
	from *net.UDPAddr
}

// Session is one RTP-MIDI peering. All protocol state lives on a single
// owner goroutine; readers and the router only touch channels and atomics.
type Session struct {
	cfg      Config
	clk      clock.Clock
	ring     *router.Ring[wire.Event]
	counters *status.Counters

	log    *slog.Logger
	logIn  *slog.Logger
	logOut *slog.Logger

	controlConn *net.UDPConn
	dataConn    *net.UDPConn

	controlIn chan inbound
	dataIn    chan inbound
	stopCh    chan struct{}
	done      chan struct{}
	started   bool
	stopOnce  sync.Once

	stateMirror    atomic.Int32
	offset         atomic.Int64
	rtt            atomic.Uint64
	peerSSRCMirror atomic.Uint32

	mu       sync.Mutex
	peerName string
	lastErr  error

	// Everything below is owner-goroutine state.
	state       State
	ssrc        uint32
	token       uint32
	seq         uint16
	peerControl *net.UDPAddr
	peerData    *net.UDPAddr
	peerSSRC    uint32
	controlOK   bool
	dataOK      bool

	inviteAttempt int
	inviteAt      time.Time
	syncDueAt     time.Time
	syncTimeoutAt time.Time
	idleAt        time.Time
	reinviteAt    time.Time
	syncT0        uint64
	syncFails     int

	history  sendHistory
	notes    *noteTracker
	recv     *receiveState
	pz       *packetizer
	tracker  syncTracker
	ringSeen uint64
}

// New binds the local port pair and prepares the session. Nothing moves on
// the network until Start.
func New(cfg Config, clk clock.Clock, ring *router.Ring[wire.Event], counters *status.Counters) (*Session, error) {
	if cfg.Timeouts == (Timeouts{}) {
		cfg.Timeouts = DefaultTimeouts()
	}
	controlConn, dataConn, err := bindPair(cfg.LocalPort)
	if err != nil {
		return nil, err
	}
	ssrc := cfg.SSRC
	if ssrc == 0 {
		ssrc = randomNonZero()
	}
	s := &Session{
		cfg:         cfg,
		clk:         clk,
		ring:        ring,
		counters:    counters,
		log:         logging.Get(logging.SESSION),
		logIn:       logging.Get(logging.RTP_IN),
		logOut:      logging.Get(logging.RTP_OUT),
		controlConn: controlConn,
		dataConn:    dataConn,
		controlIn:   make(chan inbound, 64),
		dataIn:      make(chan inbound, 64),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
		ssrc:        ssrc,
		seq:         uint16(randomNonZero()),
		peerControl: cfg.PeerControl,
		peerData:    cfg.PeerData,
		notes:       newNoteTracker(),
		pz:          newPacketizer(uint64(cfg.Timeouts.CoalesceWindow / time.Microsecond)),
	}
	s.recv = newReceiveState(counters, s.logIn, uint64(cfg.Timeouts.JitterHold/time.Microsecond))
	return s, nil
}

// bindPair acquires adjacent UDP ports for the Apple MIDI control/data pair.
func bindPair(port int) (*net.UDPConn, *net.UDPConn, error) {
	if port != 0 {
		control, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: port})
		if err != nil {
			return nil, nil, fmt.Errorf("%w: control port %d: %v", status.ErrBindFailed, port, err)
		}
		data, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: port + 1})
		if err != nil {
			control.Close()
			return nil, nil, fmt.Errorf("%w: data port %d: %v", status.ErrBindFailed, port+1, err)
		}
		return control, data, nil
	}
	// Ephemeral: keep bidding until the next port up is also free.
	for attempt := 0; attempt < 16; attempt++ {
		control, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero})
		if err != nil {
			return nil, nil, fmt.Errorf("%w: ephemeral control port: %v", status.ErrBindFailed, err)
		}
		p := control.LocalAddr().(*net.UDPAddr).Port
		data, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: p + 1})
		if err == nil {
			return control, data, nil
		}
		control.Close()
	}
	return nil, nil, fmt.Errorf("%w: no adjacent udp port pair available", status.ErrBindFailed)
}

// LocalPorts reports the bound control and data ports.
func (s *Session) LocalPorts() (control, data int) {
	return s.controlConn.LocalAddr().(*net.UDPAddr).Port,
		s.dataConn.LocalAddr().(*net.UDPAddr).Port
}

// Start spawns the reader and owner goroutines. An initiator session begins
// the handshake immediately.
func (s *Session) Start() {
	if s.started {
		return
	}
	s.started = true
	go s.readLoop(s.controlConn, s.controlIn)
	go s.readLoop(s.dataConn, s.dataIn)
	go s.run()
}

// Stop tears the session down: sounding notes are silenced, BY is sent when
// a peer is attached, and both sockets close. Safe to call more than once.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		if s.started {
			close(s.stopCh)
			<-s.done
		}
		s.controlConn.Close()
		s.dataConn.Close()
	})
}

// State reads the lifecycle mirror.
func (s *Session) State() State {
	return State(s.stateMirror.Load())
}

// ClockOffsetMicros reports the median peer clock offset.
func (s *Session) ClockOffsetMicros() int64 {
	return s.offset.Load()
}

// Info snapshots the session for status reporting.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		State:             s.State(),
		PeerName:          s.peerName,
		PeerSSRC:          s.peerSSRCMirror.Load(),
		ClockOffsetMicros: s.offset.Load(),
		LastRTTMicros:     s.rtt.Load(),
		Err:               s.lastErr,
	}
}

func (s *Session) readLoop(conn *net.UDPConn, out chan<- inbound) {
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
		select {
		case out <- inbound{data: b, from: from}:
		default:
			// Owner is saturated; dropping beats blocking the socket.
		}
	}
}

func (s *Session) run() {
	defer close(s.done)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	if s.cfg.PeerControl != nil {
		s.startInvite()
	} else {
		s.setState(StateIdle)
	}

	for {
		s.armTimer(timer)
		select {
		case <-s.stopCh:
			s.setState(StateClosing)
			s.teardown(true)
			s.setState(StateIdle)
			return
		case in := <-s.controlIn:
			s.handleControl(in, false)
		case in := <-s.dataIn:
			s.handleData(in)
		case <-s.ring.Wake(router.ConsumerRTP):
			s.drainRing()
		case <-timer.C:
			s.onTimer()
		}
	}
}

// armTimer points the loop timer at the earliest pending deadline.
func (s *Session) armTimer(timer *time.Timer) {
	var earliest time.Time
	closer := func(t time.Time) {
		if !t.IsZero() && (earliest.IsZero() || t.Before(earliest)) {
			earliest = t
		}
	}
	closer(s.inviteAt)
	closer(s.syncDueAt)
	closer(s.syncTimeoutAt)
	closer(s.idleAt)
	closer(s.reinviteAt)
	nowMicros := s.clk.NowMicros()
	if dl, ok := s.recv.nextDeadline(); ok {
		closer(time.Now().Add(microsUntil(nowMicros, dl)))
	}
	if dl, ok := s.pz.nextDeadline(); ok {
		closer(time.Now().Add(microsUntil(nowMicros, dl)))
	}

	d := time.Hour
	if !earliest.IsZero() {
		d = time.Until(earliest)
		if d < 0 {
			d = 0
		}
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
}

func microsUntil(now, deadline uint64) time.Duration {
	if deadline <= now {
		return 0
	}
	return time.Duration(deadline-now) * time.Microsecond
}

func (s *Session) onTimer() {
	now := time.Now()
	due := func(t time.Time) bool { return !t.IsZero() && !now.Before(t) }

	if due(s.inviteAt) {
		s.onInviteTimeout()
	}
	if due(s.syncTimeoutAt) {
		s.onSyncTimeout()
	}
	if due(s.syncDueAt) {
		s.syncDueAt = time.Time{}
		s.sendSync0()
	}
	if due(s.idleAt) {
		s.onIdleTimeout()
	}
	if due(s.reinviteAt) {
		s.reinviteAt = time.Time{}
		s.startInvite()
	}

	nowMicros := s.clk.NowMicros()
	if dl, ok := s.recv.nextDeadline(); ok && nowMicros >= dl {
		deliver, ackSeq, ack := s.recv.expire(nowMicros)
		s.deliver(deliver)
		if ack {
			s.sendFeedback(ackSeq)
		}
	}
	if s.pz.due(nowMicros) {
		s.sendBatch(s.pz.flush())
	}
}

// --- handshake -------------------------------------------------------------

func (s *Session) startInvite() {
	if s.cfg.PeerControl == nil {
		return
	}
	s.setErr(nil)
	s.token = randomNonZero()
	s.controlOK = false
	s.dataOK = false
	s.inviteAttempt = 1
	s.peerControl = s.cfg.PeerControl
	s.peerData = s.cfg.PeerData
	s.setState(StateInviting)
	s.sendInvite(false)
	s.inviteAt = time.Now().Add(s.cfg.Timeouts.InviteTimeout)
}

func (s *Session) sendInvite(dataLeg bool) {
	msg := ControlMessage{Kind: CmdInvite, Token: s.token, SSRC: s.ssrc, Name: s.cfg.Name}
	var err error
	if dataLeg {
		err = s.writeData(msg.Encode())
	} else {
		err = s.writeControl(msg.Encode())
	}
	if err != nil {
		s.counters.SendFailures.Add(1)
		s.log.Warn("invitation send failed", "data_leg", dataLeg, "err", err)
		return
	}
	s.log.Info("invitation sent", "data_leg", dataLeg, "attempt", s.inviteAttempt, "token", s.token)
}

func (s *Session) onInviteTimeout() {
	s.inviteAttempt++
	if s.inviteAttempt > s.cfg.Timeouts.InviteAttempts {
		s.inviteAt = time.Time{}
		err := fmt.Errorf("%w: no answer after %d invitations", status.ErrHandshakeTimeout, s.cfg.Timeouts.InviteAttempts)
		s.log.Error("handshake abandoned", "err", err)
		s.setErr(err)
		s.clearPeerState()
		s.setState(StateIdle)
		return
	}
	// 5 s, 10 s, 20 s with the defaults.
	timeout := s.cfg.Timeouts.InviteTimeout << (s.inviteAttempt - 1)
	s.sendInvite(s.controlOK)
	s.inviteAt = time.Now().Add(timeout)
}

func (s *Session) onAccept(msg ControlMessage, onData bool) {
	if msg.Token != s.token || s.state != StateInviting {
		return
	}
	switch {
	case !onData && !s.controlOK:
		s.controlOK = true
		s.peerSSRC = msg.SSRC
		s.peerSSRCMirror.Store(msg.SSRC)
		s.setPeerName(msg.Name)
		s.log.Info("control leg accepted", "peer", msg.Name, "peer_ssrc", msg.SSRC)
		s.sendInvite(true)
		s.inviteAt = time.Now().Add(s.cfg.Timeouts.InviteTimeout)
	case onData && s.controlOK && !s.dataOK:
		s.dataOK = true
		s.inviteAt = time.Time{}
		s.log.Info("data leg accepted, starting clock sync")
		s.setState(StateTimestampSync)
		s.touchIdle()
		s.syncFails = 0
		s.sendSync0()
	}
}

func (s *Session) onReject(msg ControlMessage) {
	if msg.Token != s.token || s.state != StateInviting {
		return
	}
	// Most likely an SSRC collision on the peer. Take a fresh identity and
	// try again; the attempt budget still applies.
	s.inviteAttempt++
	if s.inviteAttempt > s.cfg.Timeouts.InviteAttempts {
		s.inviteAt = time.Time{}
		err := fmt.Errorf("%w: peer rejected invitation", status.ErrHandshakeTimeout)
		s.log.Error("handshake abandoned", "err", err)
		s.setErr(err)
		s.clearPeerState()
		s.setState(StateIdle)
		return
	}
	s.ssrc = randomNonZero()
	s.token = randomNonZero()
	s.seq = uint16(randomNonZero())
	s.controlOK = false
	s.dataOK = false
	s.log.Warn("invitation rejected, retrying with fresh identity", "ssrc", s.ssrc)
	s.sendInvite(false)
	s.inviteAt = time.Now().Add(s.cfg.Timeouts.InviteTimeout << (s.inviteAttempt - 1))
}

// respondInvite is the responder half: answer OK on whichever leg the
// invitation arrived, learning the peer's addresses as they come.
func (s *Session) respondInvite(msg ControlMessage, in inbound, onData bool) {
	if s.busyWith(msg.SSRC) {
		no := ControlMessage{Kind: CmdReject, Token: msg.Token, SSRC: s.ssrc}
		var err error
		if onData {
			err = s.writeDataTo(no.Encode(), in.from)
		} else {
			err = s.writeControlTo(no.Encode(), in.from)
		}
		if err != nil {
			s.counters.SendFailures.Add(1)
		}
		s.log.Warn("rejected invitation while peered", "from", in.from, "ssrc", msg.SSRC)
		return
	}
	reply := ControlMessage{Kind: CmdAccept, Token: msg.Token, SSRC: s.ssrc, Name: s.cfg.Name}
	if !onData {
		s.peerControl = in.from
		s.peerSSRC = msg.SSRC
		s.peerSSRCMirror.Store(msg.SSRC)
		s.setPeerName(msg.Name)
		if err := s.writeControlTo(reply.Encode(), in.from); err != nil {
			s.counters.SendFailures.Add(1)
			s.log.Warn("acceptance send failed", "err", err)
			return
		}
		if s.state == StateInviting {
			// Both sides invited at once; let the peer drive.
			s.inviteAt = time.Time{}
		}
		s.setState(StateInviting)
		s.log.Info("accepted control invitation", "peer", msg.Name, "from", in.from)
		return
	}
	s.peerData = in.from
	if err := s.writeDataTo(reply.Encode(), in.from); err != nil {
		s.counters.SendFailures.Add(1)
		s.log.Warn("acceptance send failed", "err", err)
		return
	}
	s.setState(StateTimestampSync)
	s.touchIdle()
	s.log.Info("accepted data invitation, awaiting clock sync", "from", in.from)
}

// busyWith reports whether an invitation from ssrc would displace a live
// peering. Re-invitations from the current peer are never busy.
func (s *Session) busyWith(ssrc uint32) bool {
	if s.state != StateTimestampSync && s.state != StateEstablished {
		return false
	}
	return s.peerSSRC != 0 && s.peerSSRC != ssrc
}

// --- clock sync ------------------------------------------------------------

func (s *Session) sendSync0() {
	now := s.clk.NowMicros()
	s.syncT0 = now
	msg := ControlMessage{Kind: CmdSync, SSRC: s.ssrc, Count: 0, Timestamps: [3]uint64{now, 0, 0}}
	if err := s.writeData(msg.Encode()); err != nil {
		s.counters.SendFailures.Add(1)
		s.log.Warn("CK0 send failed", "err", err)
	}
	s.syncTimeoutAt = time.Now().Add(s.cfg.Timeouts.SyncTimeout)
}

func (s *Session) onSync(msg ControlMessage, in inbound) {
	switch msg.Count {
	case 0:
		// Peer-initiated round: echo t0, add our receive time.
		reply := ControlMessage{
			Kind:       CmdSync,
			SSRC:       s.ssrc,
			Count:      1,
			Timestamps: [3]uint64{msg.Timestamps[0], s.clk.NowMicros(), 0},
		}
		if err := s.writeDataTo(reply.Encode(), in.from); err != nil {
			s.counters.SendFailures.Add(1)
			s.log.Warn("CK1 send failed", "err", err)
			return
		}
		if s.state == StateTimestampSync {
			// Responder side counts the peer's first round as sync.
			s.setState(StateEstablished)
		}
	case 1:
		if msg.Timestamps[0] != s.syncT0 {
			s.log.Debug("stale CK1 ignored", "t0", msg.Timestamps[0])
			return
		}
		t3 := s.clk.NowMicros()
		sample := computeSample(msg.Timestamps[0], msg.Timestamps[1], t3)
		s.tracker.add(sample)
		s.offset.Store(s.tracker.offset())
		s.rtt.Store(sample.RTT)
		s.syncTimeoutAt = time.Time{}
		s.syncFails = 0
		s.syncDueAt = time.Now().Add(s.cfg.Timeouts.SyncInterval)
		reply := ControlMessage{
			Kind:       CmdSync,
			SSRC:       s.ssrc,
			Count:      2,
			Timestamps: [3]uint64{msg.Timestamps[0], msg.Timestamps[1], t3},
		}
		if err := s.writeDataTo(reply.Encode(), in.from); err != nil {
			s.counters.SendFailures.Add(1)
			s.log.Warn("CK2 send failed", "err", err)
		}
		s.log.Debug("clock sync sample",
			"offset_us", sample.Offset, "rtt_us", sample.RTT, "median_us", s.tracker.offset())
		if s.state == StateTimestampSync {
			s.setState(StateEstablished)
		}
	case 2:
		// Our CK1 answer completed the peer's round; nothing to record.
	}
}

func (s *Session) onSyncTimeout() {
	s.syncTimeoutAt = time.Time{}
	s.syncFails++
	if s.syncFails >= s.cfg.Timeouts.SyncFailLimit {
		err := fmt.Errorf("%w: %d clock sync rounds unanswered", status.ErrPeerUnreachable, s.syncFails)
		s.log.Error("peer lost, ending session", "err", err)
		s.setErr(err)
		s.teardown(true)
		s.setState(StateIdle)
		s.scheduleReinvite()
		return
	}
	s.log.Warn("clock sync timed out, retrying", "fails", s.syncFails)
	s.sendSync0()
}

// --- inbound ---------------------------------------------------------------

func (s *Session) handleControl(in inbound, onData bool) {
	msg, err := ParseControl(in.data)
	if err != nil {
		s.counters.ParseErrors.Add(1)
		s.logIn.Warn("bad session packet", "from", in.from, "err", err)
		return
	}
	s.touchIdle()
	switch msg.Kind {
	case CmdInvite:
		s.respondInvite(msg, in, onData)
	case CmdAccept:
		s.onAccept(msg, onData)
	case CmdReject:
		s.onReject(msg)
	case CmdEnd:
		s.onPeerBye()
	case CmdSync:
		s.onSync(msg, in)
	case CmdFeedback:
		s.history.ack(msg.Seq)
		s.logOut.Debug("receiver feedback", "acked", msg.Seq)
	}
}

func (s *Session) handleData(in inbound) {
	if IsControlPacket(in.data) {
		s.handleControl(in, true)
		return
	}
	pkt, err := rtp.Parse(in.data)
	if err != nil {
		s.counters.ParseErrors.Add(1)
		s.logIn.Warn("bad rtp packet", "from", in.from, "err", err)
		return
	}
	if s.peerSSRC != 0 && pkt.Header.SSRC != s.peerSSRC {
		s.logIn.Debug("packet from unknown ssrc ignored", "ssrc", pkt.Header.SSRC)
		return
	}
	s.touchIdle()
	deliver, ackSeq, ack := s.recv.accept(pkt, s.clk.NowMicros())
	s.deliver(deliver)
	if ack {
		s.sendFeedback(ackSeq)
	}
}

// deliver hands ordered inbound commands to the receive callback.
func (s *Session) deliver(cmds []rtp.Command) {
	if len(cmds) == 0 {
		return
	}
	msgs := make([]midi.Message, len(cmds))
	for i, c := range cmds {
		msgs[i] = c.Msg
		s.logIn.Debug("received", "msg", c.Msg.String(), "delta", c.Delta)
	}
	if s.cfg.OnReceive != nil {
		s.cfg.OnReceive(msgs)
	}
}

func (s *Session) sendFeedback(seq uint16) {
	msg := ControlMessage{Kind: CmdFeedback, SSRC: s.ssrc, Seq: seq}
	if err := s.writeControl(msg.Encode()); err != nil {
		s.counters.SendFailures.Add(1)
		s.logIn.Warn("feedback send failed", "err", err)
	}
}

// --- outbound --------------------------------------------------------------

// drainRing pulls pending source events. Anything arriving while no session
// stands is dropped and counted; a live session batches them.
func (s *Session) drainRing() {
	if d := s.ring.Drops(router.ConsumerRTP); d > s.ringSeen {
		s.counters.RTPDrops.Add(d - s.ringSeen)
		s.ringSeen = d
	}
	for {
		ev, ok := s.ring.TryNext(router.ConsumerRTP)
		if !ok {
			break
		}
		if s.state != StateEstablished {
			s.counters.RTPDrops.Add(1)
			continue
		}
		if full := s.pz.add(ev, s.clk.NowMicros()); full != nil {
			s.sendBatch(full)
		}
	}
	if s.pz.due(s.clk.NowMicros()) {
		s.sendBatch(s.pz.flush())
	}
}

// sendBatch encodes one coalesced batch as the next data packet. The packet
// is recorded in the send history before any send verdict: a failed send is
// exactly a lost packet, and the journal on the next one repairs it.
func (s *Session) sendBatch(batch []wire.Event) {
	if len(batch) == 0 {
		return
	}
	seq := s.seq
	var raw []byte
	for i := range batch {
		batch[i].Seq = seq
		raw = append(raw, batch[i].Msg...)
	}
	pkt := rtp.Packet{
		Header: rtp.Header{
			Marker:    true,
			Seq:       seq,
			Timestamp: rtp.MicrosToTicks(batch[0].Micros),
			SSRC:      s.ssrc,
		},
		Commands: commands(batch),
		Journal:  s.history.journal(),
	}
	b, err := pkt.Encode()
	if err != nil {
		s.logOut.Error("packet encode failed", "seq", seq, "err", err)
		return
	}
	s.history.record(seq, raw)
	s.seq++
	for _, ev := range batch {
		s.notes.observe(ev.Msg)
	}
	if err := s.writeData(b); err != nil {
		s.counters.SendFailures.Add(1)
		s.logOut.Warn("data send failed", "seq", seq, "err", err)
		return
	}
	s.logOut.Debug("sent packet", "seq", seq, "commands", len(batch), "journal", pkt.Journal != nil)
}

// --- teardown --------------------------------------------------------------

func (s *Session) onPeerBye() {
	if s.state == StateIdle {
		return
	}
	s.log.Info("peer ended the session")
	s.setErr(fmt.Errorf("%w: peer sent BY", status.ErrSessionTerminated))
	// Pending outbound events have no destination anymore.
	if dropped := len(s.pz.flush()); dropped > 0 {
		s.counters.RTPDrops.Add(uint64(dropped))
	}
	s.clearPeerState()
	s.setState(StateIdle)
	s.scheduleReinvite()
}

func (s *Session) onIdleTimeout() {
	s.log.Warn("session idle, ending", "timeout", s.cfg.Timeouts.IdleTimeout)
	s.teardown(true)
	s.setState(StateIdle)
	s.scheduleReinvite()
}

// teardown flushes sounding notes, optionally sends BY, and clears peer
// state. The caller decides the next state.
func (s *Session) teardown(sendBye bool) {
	if s.state == StateEstablished || s.state == StateTimestampSync || s.state == StateClosing {
		if pending := s.pz.flush(); len(pending) > 0 {
			s.sendBatch(pending)
		}
		if offs := s.notes.flush(); len(offs) > 0 {
			now := s.clk.NowMicros()
			batch := make([]wire.Event, len(offs))
			for i, m := range offs {
				batch[i] = wire.Event{Msg: m, Micros: now}
			}
			s.log.Info("silencing sounding notes", "count", len(batch))
			s.sendBatch(batch)
		}
		if sendBye && s.peerControl != nil {
			bye := ControlMessage{Kind: CmdEnd, Token: s.token, SSRC: s.ssrc}
			if err := s.writeControl(bye.Encode()); err != nil {
				s.counters.SendFailures.Add(1)
				s.log.Warn("BY send failed", "err", err)
			}
		}
	}
	s.clearPeerState()
}

func (s *Session) clearPeerState() {
	s.controlOK = false
	s.dataOK = false
	s.peerSSRC = 0
	s.peerSSRCMirror.Store(0)
	s.syncFails = 0
	s.syncT0 = 0
	s.inviteAt = time.Time{}
	s.syncDueAt = time.Time{}
	s.syncTimeoutAt = time.Time{}
	s.idleAt = time.Time{}
	s.history.reset()
	s.recv.reset()
	s.tracker.reset()
	s.offset.Store(0)
	s.rtt.Store(0)
	if s.cfg.PeerControl != nil {
		s.peerControl = s.cfg.PeerControl
		s.peerData = s.cfg.PeerData
	}
}

func (s *Session) scheduleReinvite() {
	if s.cfg.PeerControl == nil {
		return
	}
	s.reinviteAt = time.Now().Add(s.cfg.Timeouts.ReinviteDelay)
	s.log.Info("re-invite scheduled", "in", s.cfg.Timeouts.ReinviteDelay)
}

// --- plumbing --------------------------------------------------------------

func (s *Session) touchIdle() {
	if s.state == StateTimestampSync || s.state == StateEstablished {
		s.idleAt = time.Now().Add(s.cfg.Timeouts.IdleTimeout)
	}
}

func (s *Session) setState(st State) {
	if s.state == st {
		return
	}
	s.log.Info("session state", "from", s.state.String(), "to", st.String())
	s.state = st
	s.stateMirror.Store(int32(st))
	if st == StateTimestampSync || st == StateEstablished {
		s.touchIdle()
	} else {
		s.idleAt = time.Time{}
	}
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Session) setPeerName(name string) {
	s.mu.Lock()
	s.peerName = name
	s.mu.Unlock()
}

func (s *Session) writeControl(b []byte) error {
	if s.peerControl == nil {
		return fmt.Errorf("%w: no control address", status.ErrPeerUnreachable)
	}
	return s.writeControlTo(b, s.peerControl)
}

func (s *Session) writeControlTo(b []byte, to *net.UDPAddr) error {
	_, err := s.controlConn.WriteToUDP(b, to)
	return err
}

func (s *Session) writeData(b []byte) error {
	if s.peerData == nil {
		return fmt.Errorf("%w: no data address", status.ErrPeerUnreachable)
	}
	return s.writeDataTo(b, s.peerData)
}

func (s *Session) writeDataTo(b []byte, to *net.UDPAddr) error {
	_, err := s.dataConn.WriteToUDP(b, to)
	return err
}

// randomNonZero draws from crypto/rand; zero is reserved for "unset".
func randomNonZero() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	v := binary.BigEndian.Uint32(b[:])
	if v == 0 {
		v = 1
	}
	return v
}
