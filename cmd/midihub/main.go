// Command midihub runs the hub: framed MIDI in on the source port, RTP-MIDI
// toward the DAW, OSC toward the visualizer. Flags override the config file
// peers the same way the embedding API does.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/jgraeff/midihub/hub"
	"github.com/jgraeff/midihub/logging"
)

func main() {
	configPath := flag.String("config", "", "hub config file (empty runs defaults)")
	espIP := flag.String("esp-ip", "", "override: visualizer IP")
	espPort := flag.Int("esp-port", 0, "override: visualizer OSC port")
	dawIP := flag.String("daw-ip", "", "override: DAW IP")
	dawPort := flag.Int("daw-port", 0, "override: DAW Apple MIDI control port")
	preset := flag.Int("preset", -1, "WLED preset to apply once running (-1 skips)")
	levelAddr := flag.String("log-control", "", "OSC address for runtime log level control (empty disables)")
	flag.Parse()

	log := logging.Get(logging.APP)

	svc, err := hub.Create(*configPath)
	if err != nil {
		log.Error("config rejected", "err", err)
		os.Exit(1)
	}
	if *levelAddr != "" {
		if err := logging.EnableRemoteLevelControl(*levelAddr); err != nil {
			log.Warn("log level control unavailable", "err", err)
		}
	}
	if err := svc.StartWithPeers(*espIP, *espPort, *dawIP, *dawPort); err != nil {
		log.Error("start failed", "err", err)
		os.Exit(1)
	}
	cfg := svc.Config()
	log.Info("midihub running",
		"source_port", svc.SourcePort(),
		"daw", cfg.DAWControlAddr(),
		"esp", cfg.ESPAddr())

	if p := *preset; p >= 0 {
		if p > 255 {
			log.Warn("preset out of range", "preset", p)
		} else if err := svc.SetPreset(context.Background(), uint8(p)); err != nil {
			log.Warn("startup preset failed", "err", err)
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	svc.Destroy()
}
