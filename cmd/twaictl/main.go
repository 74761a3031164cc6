// Command twaictl drives a TWAI controller interactively, either over the
// in-memory simulator or a Linux SocketCAN interface.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/notnil/twai"
)

var chips = map[string]twai.Chip{
	twai.ChipESP32.Name:     twai.ChipESP32,
	twai.ChipESP32Rev3.Name: twai.ChipESP32Rev3,
	twai.ChipESP32S3.Name:   twai.ChipESP32S3,
	twai.ChipESP32C3.Name:   twai.ChipESP32C3,
}

func main() {
	iface := flag.String("iface", "", "SocketCAN interface (linux); empty uses the simulator")
	chipName := flag.String("chip", twai.ChipESP32S3.Name, "target chip, decides the low speed tiers")
	verbose := flag.Bool("v", false, "log driver calls and frames")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	chip, ok := chips[*chipName]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown chip %q\n", *chipName)
		os.Exit(2)
	}

	drv, closeDrv, err := openDriver(*iface, logger)
	if err != nil {
		logger.Error("open driver", "error", err)
		os.Exit(1)
	}
	defer closeDrv()
	if *verbose {
		drv = twai.NewLoggedDriver(drv, logger, slog.LevelDebug, twai.LogAll)
	}

	c := twai.New(drv, twai.WithChip(chip), twai.WithLogger(logger))
	defer c.Stop()

	sh := &shell{c: c, out: os.Stdout}
	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stdout, "twai> ")
		if !in.Scan() {
			return
		}
		if quit := sh.exec(in.Text()); quit {
			return
		}
	}
}
