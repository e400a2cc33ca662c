// Command oscdump prints every OSC message arriving on a port. Point the
// hub's esp_ip/esp_port here to watch the visualizer stream (/noteOn,
// /noteOff, /cc, /pitchBend, /config/setEffect) without hardware.
package main

import (
	"flag"
	"fmt"
	"log"
	"strconv"

	"github.com/hypebeast/go-osc/osc"
)

func main() {
	port := flag.Int("port", 8000, "UDP port to listen for OSC messages")
	flag.Parse()

	addr := "0.0.0.0:" + strconv.Itoa(*port)

	dispatcher := osc.NewStandardDispatcher()
	dispatcher.AddMsgHandler("*", func(msg *osc.Message) {
		fmt.Printf("%s %v\n", msg.Address, msg.Arguments)
	})

	server := &osc.Server{
		Addr:       addr,
		Dispatcher: dispatcher,
	}

	fmt.Printf("listening for OSC on %s\n", addr)
	if err := server.ListenAndServe(); err != nil {
		log.Fatalf("osc server: %v", err)
	}
}
