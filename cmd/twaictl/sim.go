package main

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/notnil/twai"
)

// openSim returns a simulated driver sharing a bus with an echo node. The
// echo node runs at the default speed and answers every frame with the next
// identifier and the same payload.
func openSim(logger *slog.Logger) (twai.Driver, func(), error) {
	bus := twai.NewSimBus()
	echo := twai.New(bus.Open(), twai.WithLogger(logger.With("node", "echo")))
	if !echo.StartDefault() {
		bus.Close()
		return nil, nil, errors.New("twaictl: echo node failed to start")
	}
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		echoLoop(echo, stop)
	}()
	closeFn := func() {
		close(stop)
		wg.Wait()
		echo.Stop()
		bus.Close()
	}
	return bus.Open(), closeFn, nil
}

func echoLoop(c *twai.Controller, stop <-chan struct{}) {
	var f twai.Frame
	for {
		select {
		case <-stop:
			return
		default:
		}
		if !c.ReadFrame(&f, 50*time.Millisecond) {
			continue
		}
		f.ID = (f.ID + 1) & maxID(f.Extended)
		c.WriteFrame(&f, twai.DefaultWriteTimeout)
	}
}

func maxID(extended bool) uint32 {
	if extended {
		return 0x1FFFFFFF
	}
	return 0x7FF
}
