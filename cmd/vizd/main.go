// Command vizd runs the LED visualizer standalone: OSC in from the hub,
// frames out through the chosen strip driver.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/jgraeff/midihub/logging"
	"github.com/jgraeff/midihub/visualizer"
	"github.com/jgraeff/midihub/visualizer/led"
)

func main() {
	addr := flag.String("listen", visualizer.DefaultOSCAddr, "OSC listen address")
	numLEDs := flag.Int("leds", visualizer.DefaultNumLEDs, "number of LEDs on the strip")
	fps := flag.Int("fps", visualizer.DefaultFPS, "render rate")
	driverName := flag.String("driver", "null", "led driver: serial, udp, or null")
	serialDev := flag.String("serial-device", "/dev/ttyUSB0", "serial driver: device path")
	serialBaud := flag.Int("serial-baud", 0, "serial driver: baud rate (0 = default)")
	udpHost := flag.String("udp-host", "127.0.0.1", "udp driver: pixel controller host")
	udpPort := flag.Int("udp-port", 0, "udp driver: pixel controller port (0 = DDP default)")
	flag.Parse()

	log := logging.Get(logging.APP)

	var driver led.Driver
	var err error
	switch *driverName {
	case "serial":
		driver, err = led.OpenSerial(*serialDev, *serialBaud)
	case "udp":
		driver, err = led.DialUDP(*udpHost, *udpPort)
	case "null":
		driver = led.Null{}
	default:
		log.Error("unknown driver", "driver", *driverName)
		os.Exit(1)
	}
	if err != nil {
		log.Error("led driver failed", "driver", *driverName, "err", err)
		os.Exit(1)
	}

	v := visualizer.New(visualizer.Config{
		OSCAddr: *addr,
		NumLEDs: *numLEDs,
		FPS:     *fps,
		Driver:  driver,
	})
	if err := v.Start(); err != nil {
		log.Error("start failed", "err", err)
		os.Exit(1)
	}
	log.Info("vizd running", "listen", *addr, "driver", *driverName, "leds", *numLEDs)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	v.Stop()
}
