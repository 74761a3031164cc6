//go:build linux

package main

import (
	"log/slog"

	"github.com/notnil/twai"
	"github.com/notnil/twai/socketcan"
)

func openDriver(iface string, logger *slog.Logger) (twai.Driver, func(), error) {
	if iface == "" {
		return openSim(logger)
	}
	logger.Info("using socketcan", "iface", iface)
	return socketcan.New(iface), func() {}, nil
}
