//go:build linux

package socketcan

import (
	"errors"
	"fmt"
	"os/exec"
	"strconv"

	"golang.org/x/sys/unix"
)

// Interface flag helpers toggle IFF_UP via ioctl on a datagram socket.
// Bringing interfaces up or down requires CAP_NET_ADMIN; without it the
// calls return EPERM.

func interfaceFlags(name string) (uint16, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return 0, err
	}
	defer unix.Close(fd)
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return 0, fmt.Errorf("socketcan: invalid interface name %q: %w", name, err)
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFFLAGS, ifr); err != nil {
		return 0, err
	}
	return ifr.Uint16(), nil
}

func setInterfaceFlags(name string, flags uint16) error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return fmt.Errorf("socketcan: invalid interface name %q: %w", name, err)
	}
	ifr.SetUint16(flags)
	return unix.IoctlIfreq(fd, unix.SIOCSIFFLAGS, ifr)
}

// IsInterfaceUp reports whether the network interface has IFF_UP set.
func IsInterfaceUp(name string) (bool, error) {
	flags, err := interfaceFlags(name)
	if err != nil {
		return false, err
	}
	return flags&unix.IFF_UP != 0, nil
}

// SetInterfaceUp sets IFF_UP on the interface.
func SetInterfaceUp(name string) error {
	flags, err := interfaceFlags(name)
	if err != nil {
		return err
	}
	if flags&unix.IFF_UP != 0 {
		return nil
	}
	return setInterfaceFlags(name, flags|unix.IFF_UP)
}

// SetInterfaceDown clears IFF_UP on the interface.
func SetInterfaceDown(name string) error {
	flags, err := interfaceFlags(name)
	if err != nil {
		return err
	}
	if flags&unix.IFF_UP == 0 {
		return nil
	}
	return setInterfaceFlags(name, flags&^unix.IFF_UP)
}

// RequireRootOrCapNetAdmin maps EPERM to an error advising to grant
// CAP_NET_ADMIN.
func RequireRootOrCapNetAdmin(err error) error {
	if errors.Is(err, unix.EPERM) {
		return fmt.Errorf("operation requires CAP_NET_ADMIN (or root): %w", err)
	}
	return err
}

// InterfaceOptions are CAN link parameters applied through iproute2. Nil
// fields are left unchanged. Bitrate and mode changes need the interface
// down.
type InterfaceOptions struct {
	Bitrate    *uint32 // bits per second
	RestartMs  *uint32 // automatic bus-off restart delay, 0 disables
	TxQueueLen *uint32
	ListenOnly *bool
	PresumeAck *bool
}

// runner executes an external command and returns its standard output.
type runner func(name string, args ...string) ([]byte, error)

func execRunner(name string, args ...string) ([]byte, error) {
	out, err := exec.Command(name, args...).Output()
	var ee *exec.ExitError
	if errors.As(err, &ee) && len(ee.Stderr) > 0 {
		return out, fmt.Errorf("%w; output: %s", err, ee.Stderr)
	}
	return out, err
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// configureArgs returns the ip(8) invocations needed for opts.
func configureArgs(name string, opts InterfaceOptions) [][]string {
	var cmds [][]string
	if opts.TxQueueLen != nil {
		cmds = append(cmds, []string{"link", "set", "dev", name, "txqueuelen", strconv.FormatUint(uint64(*opts.TxQueueLen), 10)})
	}
	args := []string{"link", "set", "dev", name, "type", "can"}
	n := len(args)
	if opts.Bitrate != nil {
		args = append(args, "bitrate", strconv.FormatUint(uint64(*opts.Bitrate), 10))
	}
	if opts.RestartMs != nil {
		args = append(args, "restart-ms", strconv.FormatUint(uint64(*opts.RestartMs), 10))
	}
	if opts.ListenOnly != nil {
		args = append(args, "listen-only", onOff(*opts.ListenOnly))
	}
	if opts.PresumeAck != nil {
		args = append(args, "presume-ack", onOff(*opts.PresumeAck))
	}
	if len(args) > n {
		cmds = append(cmds, args)
	}
	return cmds
}

func configureInterface(run runner, name string, opts InterfaceOptions) error {
	for _, args := range configureArgs(name, opts) {
		if _, err := run("ip", args...); err != nil {
			return RequireRootOrCapNetAdmin(fmt.Errorf("ip %v failed: %w", args, err))
		}
	}
	return nil
}

// ConfigureInterface applies opts to a CAN network interface by invoking
// the system ip command. Requires CAP_NET_ADMIN (or root).
func ConfigureInterface(name string, opts InterfaceOptions) error {
	return configureInterface(execRunner, name, opts)
}
