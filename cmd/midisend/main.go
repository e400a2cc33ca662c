// Command midisend relays a hardware MIDI in-port to the hub's source
// ingress as length-prefixed UDP frames. Run without -port to list inputs.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/jgraeff/midihub/logging"
	"github.com/jgraeff/midihub/wire"
)

func main() {
	hubAddr := flag.String("hub", "127.0.0.1:5008", "hub source ingress address")
	portName := flag.String("port", "", "MIDI in-port name substring (empty lists ports)")
	flag.Parse()

	log := logging.Get(logging.APP)

	drv, err := rtmididrv.New()
	if err != nil {
		log.Error("midi driver failed", "err", err)
		os.Exit(1)
	}
	defer drv.Close()

	ins, err := drv.Ins()
	if err != nil {
		log.Error("listing midi inputs failed", "err", err)
		os.Exit(1)
	}
	if *portName == "" {
		fmt.Println("available MIDI inputs:")
		for _, in := range ins {
			fmt.Printf("  %s\n", in.String())
		}
		return
	}

	var inPort drivers.In
	for _, in := range ins {
		if strings.Contains(strings.ToLower(in.String()), strings.ToLower(*portName)) {
			inPort = in
			break
		}
	}
	if inPort == nil {
		log.Error("no midi input matches", "port", *portName)
		os.Exit(1)
	}
	if err := inPort.Open(); err != nil {
		log.Error("opening midi input failed", "port", inPort.String(), "err", err)
		os.Exit(1)
	}
	defer inPort.Close()

	conn, err := net.Dial("udp", *hubAddr)
	if err != nil {
		log.Error("hub unreachable", "addr", *hubAddr, "err", err)
		os.Exit(1)
	}
	defer conn.Close()

	stop, err := midi.ListenTo(inPort, func(msg midi.Message, _ int32) {
		if _, err := conn.Write(wire.AppendFrame(nil, msg.Bytes())); err != nil {
			log.Warn("relay send failed", "err", err)
		}
	}, midi.HandleError(func(listenErr error) {
		log.Warn("midi listener error", "err", listenErr)
	}))
	if err != nil {
		log.Error("midi listen failed", "port", inPort.String(), "err", err)
		os.Exit(1)
	}
	defer stop()
	log.Info("relaying", "port", inPort.String(), "hub", *hubAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}
