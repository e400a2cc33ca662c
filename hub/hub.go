// Package hub is the embedding facade: one Service owns the source ingress,
// the DAW session, and the OSC emitter, and exposes lifecycle, preset
// control, and a status snapshot.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/hypebeast/go-osc/osc"

	"github.com/jgraeff/midihub/clock"
	"github.com/jgraeff/midihub/config"
	"github.com/jgraeff/midihub/logging"
	"github.com/jgraeff/midihub/oscout"
	"github.com/jgraeff/midihub/router"
	"github.com/jgraeff/midihub/session"
	"github.com/jgraeff/midihub/status"
	"github.com/jgraeff/midihub/wire"
	"github.com/jgraeff/midihub/wled"
)

const (
	ringCapacity = 1024
	stopJoinMax  = 5 * time.Second
)

// Service wires the pipeline together: framed MIDI in over UDP, RTP-MIDI
// out toward the DAW, OSC out toward the visualizer. Methods are safe for
// concurrent use; lifecycle serializes on one mutex.
type Service struct {
	mu        sync.Mutex
	cfg       config.Config
	log       *slog.Logger
	counters  *status.Counters
	clk       *clock.System
	running   bool
	destroyed bool

	ingress *wire.Ingress
	sess    *session.Session
	emitter *oscout.Emitter
	wled    *wled.Client
}

// Create loads and validates the config at path without binding anything.
// An empty path runs on defaults.
func Create(path string) (*Service, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:      cfg,
		log:      logging.Get(logging.APP),
		counters: &status.Counters{},
		clk:      clock.NewSystem(),
		wled:     wled.NewClient(cfg.ESPIP),
	}, nil
}

// Start runs the pipeline against the configured peers.
func (s *Service) Start() error {
	return s.StartWithPeers("", 0, "", 0)
}

// StartWithPeers runs the pipeline, overriding the configured ESP and DAW
// endpoints where arguments are non-zero. It returns once every loop is
// spawned; starting a running service is a no-op.
func (s *Service) StartWithPeers(espIP string, espPort int, dawIP string, dawPort int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return status.ErrSessionTerminated
	}
	if s.running {
		return nil
	}
	if espIP != "" {
		s.cfg.ESPIP = espIP
	}
	if espPort > 0 {
		s.cfg.ESPPort = espPort
	}
	if dawIP != "" {
		s.cfg.DAWIP = dawIP
	}
	if dawPort > 0 {
		s.cfg.DAWPort = dawPort
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	// A fresh ring per run keeps consumer cursors and drop counts from a
	// previous run out of this one.
	ring := router.NewRing[wire.Event](ringCapacity)
	ingress, err := wire.Listen(s.cfg.SourcePort, ring, s.clk, s.counters)
	if err != nil {
		return err
	}
	ingress.Start()

	peerControl, err := net.ResolveUDPAddr("udp", s.cfg.DAWControlAddr())
	if err != nil {
		ingress.Stop()
		return fmt.Errorf("%w: daw address: %v", status.ErrConfigInvalid, err)
	}
	peerData, err := net.ResolveUDPAddr("udp", s.cfg.DAWDataAddr())
	if err != nil {
		ingress.Stop()
		return fmt.Errorf("%w: daw address: %v", status.ErrConfigInvalid, err)
	}
	sess, err := session.New(session.Config{
		Name:        s.cfg.SessionName,
		SSRC:        s.cfg.SSRC(),
		PeerControl: peerControl,
		PeerData:    peerData,
	}, s.clk, ring, s.counters)
	if err != nil {
		ingress.Stop()
		return err
	}
	sess.Start()

	emitter := oscout.New(osc.NewClient(s.cfg.ESPIP, s.cfg.ESPPort), ring, s.counters)
	emitter.Start()

	s.wled = wled.NewClient(s.cfg.ESPIP)
	s.ingress, s.sess, s.emitter = ingress, sess, emitter
	s.running = true
	s.log.Info("hub started",
		"source_port", ingress.LocalPort(),
		"daw", s.cfg.DAWControlAddr(),
		"esp", s.cfg.ESPAddr())
	return nil
}

// Stop tears the pipeline down: the ingress first so nothing new enters the
// ring, then the session (which flushes sounding notes and says BY), then
// the emitter. Idempotent.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Service) stopLocked() {
	if !s.running {
		return
	}
	ingress, sess, emitter := s.ingress, s.sess, s.emitter
	joined := make(chan struct{})
	go func() {
		ingress.Stop()
		sess.Stop()
		emitter.Stop()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(stopJoinMax):
		s.log.Error("stop join timed out", "limit", stopJoinMax)
	}
	s.running = false
	s.ingress, s.sess, s.emitter = nil, nil, nil
	s.log.Info("hub stopped")
}

// Destroy stops the pipeline and retires the handle: every later call
// reports ErrSessionTerminated, with Stop and Destroy staying no-ops.
func (s *Service) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.stopLocked()
	s.destroyed = true
	s.log.Info("hub destroyed")
}

// SetPreset switches the WLED preset on the visualizer strip.
func (s *Service) SetPreset(ctx context.Context, id uint8) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return status.ErrSessionTerminated
	}
	client := s.wled
	s.mu.Unlock()
	return client.SetPreset(ctx, id)
}

// WLEDIP reports the strip address presets go to.
func (s *Service) WLEDIP() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.ESPIP
}

// Status snapshots the service state and counters.
func (s *Service) Status() status.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := status.Status{
		Running:  s.running,
		Session:  session.StateIdle.String(),
		WLEDIP:   s.cfg.ESPIP,
		Counters: s.counters.Snapshot(),
	}
	if s.sess != nil {
		st.Session = s.sess.State().String()
	}
	return st
}

// SourcePort reports the bound ingress port, 0 when not running.
func (s *Service) SourcePort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ingress == nil {
		return 0
	}
	return s.ingress.LocalPort()
}

// Config returns the effective configuration, including peer overrides.
func (s *Service) Config() config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}
