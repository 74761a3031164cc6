//go:build !linux

package main

import (
	"errors"
	"log/slog"

	"github.com/notnil/twai"
)

func openDriver(iface string, logger *slog.Logger) (twai.Driver, func(), error) {
	if iface != "" {
		return nil, nil, errors.New("twaictl: -iface requires linux")
	}
	return openSim(logger)
}
