//go:build linux

package socketcan

import (
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/notnil/twai"
)

// frameSize is sizeof(struct can_frame).
const frameSize = 16

// clockHz is the source clock the twai timing presets are expressed for.
const clockHz = 80_000_000

// Driver implements twai.Driver over a Linux SocketCAN interface such as
// "can0". Install configures the link through iproute2, Start brings it up
// and opens a raw socket, Stop closes the socket and takes the link down.
//
// Transmit and Receive may be called from different goroutines; lifecycle
// calls wait for in-flight I/O to finish.
type Driver struct {
	iface     string
	restartMs *uint32
	run       runner

	mu         sync.RWMutex
	installed  bool
	recovering bool
	fd         int
	general    twai.GeneralConfig
	filters    []unix.CanFilter
}

// Option configures a Driver.
type Option func(*Driver)

// WithRestartMs enables the kernel's automatic bus-off restart after ms
// milliseconds. By default restarts are left to Controller.Recover.
func WithRestartMs(ms uint32) Option {
	return func(d *Driver) { d.restartMs = &ms }
}

// New returns a driver for the named CAN interface.
func New(iface string, opts ...Option) *Driver {
	d := &Driver{iface: iface, run: execRunner, fd: -1}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func fail(op string, code twai.Code, err error) error {
	if err == nil {
		return fmt.Errorf("socketcan: %s: %w", op, code)
	}
	return fmt.Errorf("socketcan: %s: %w: %w", op, code, err)
}

// Bitrate returns the bit rate t produces from the 80 MHz source clock the
// twai presets assume.
func Bitrate(t twai.TimingConfig) (uint32, error) {
	div := t.BRP * (1 + uint32(t.TSeg1) + uint32(t.TSeg2))
	if div == 0 {
		return 0, fmt.Errorf("socketcan: invalid timing %+v", t)
	}
	return clockHz / div, nil
}

func canFilters(f twai.FilterConfig) []unix.CanFilter {
	ids := f.IDFilters()
	out := make([]unix.CanFilter, 0, len(ids))
	for _, id := range ids {
		cf := unix.CanFilter{Id: id.ID, Mask: id.Mask | unix.CAN_EFF_FLAG}
		if id.Extended {
			cf.Id |= unix.CAN_EFF_FLAG
		}
		out = append(out, cf)
	}
	return out
}

func (d *Driver) Install(g twai.GeneralConfig, t twai.TimingConfig, f twai.FilterConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.installed {
		return fail("install", twai.ErrInvalidState, nil)
	}
	if g.RxQueueLen == 0 || g.Mode > twai.ModeListenOnly {
		return fail("install", twai.ErrInvalidArg, nil)
	}
	bitrate, err := Bitrate(t)
	if err != nil {
		return fail("install", twai.ErrInvalidArg, err)
	}
	if err := SetInterfaceDown(d.iface); err != nil {
		return fail("install", twai.ErrFail, RequireRootOrCapNetAdmin(err))
	}
	listenOnly := g.Mode == twai.ModeListenOnly
	presumeAck := g.Mode == twai.ModeNoAck
	opts := InterfaceOptions{
		Bitrate:    &bitrate,
		RestartMs:  d.restartMs,
		ListenOnly: &listenOnly,
		PresumeAck: &presumeAck,
	}
	if g.TxQueueLen > 0 {
		opts.TxQueueLen = &g.TxQueueLen
	}
	if err := configureInterface(d.run, d.iface, opts); err != nil {
		return fail("install", twai.ErrFail, err)
	}
	d.general = g
	d.filters = canFilters(f)
	d.installed = true
	d.recovering = false
	return nil
}

func (d *Driver) Uninstall() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.installed || d.fd >= 0 {
		return fail("uninstall", twai.ErrInvalidState, nil)
	}
	d.installed = false
	d.recovering = false
	return nil
}

func (d *Driver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.installed {
		return fail("start", twai.ErrInvalidState, nil)
	}
	if d.recovering {
		// The kernel restarted the controller; resume on the open socket.
		if d.fd < 0 {
			return fail("start", twai.ErrInvalidState, nil)
		}
		d.recovering = false
		return nil
	}
	if d.fd >= 0 {
		return fail("start", twai.ErrInvalidState, nil)
	}
	if err := SetInterfaceUp(d.iface); err != nil {
		return fail("start", twai.ErrFail, RequireRootOrCapNetAdmin(err))
	}
	fd, err := d.open()
	if err != nil {
		return fail("start", twai.ErrFail, err)
	}
	d.fd = fd
	return nil
}

func (d *Driver) open() (int, error) {
	netIf, err := net.InterfaceByName(d.iface)
	if err != nil {
		return -1, err
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.CAN_RAW)
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptCanRawFilter(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, d.filters); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, int(d.general.RxQueueLen)*frameSize); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: netIf.Index}); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return fail("stop", twai.ErrInvalidState, nil)
	}
	err := unix.Close(d.fd)
	d.fd = -1
	d.recovering = false
	if derr := SetInterfaceDown(d.iface); derr != nil && err == nil {
		err = RequireRootOrCapNetAdmin(derr)
	}
	if err != nil {
		return fail("stop", twai.ErrFail, err)
	}
	return nil
}

// pollTimeout converts a remaining wait to poll(2) milliseconds, rounding up
// so short waits still block.
func pollTimeout(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}

// wait blocks until fd is ready for events or the deadline passes.
func wait(fd int, events int16, deadline time.Time) error {
	for {
		fds := [1]unix.PollFd{{Fd: int32(fd), Events: events}}
		n, err := unix.Poll(fds[:], pollTimeout(time.Until(deadline)))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return twai.ErrTimeout
		}
		return nil
	}
}

func (d *Driver) Transmit(f *twai.Frame, timeout time.Duration) error {
	if f == nil {
		return fail("transmit", twai.ErrInvalidArg, nil)
	}
	var buf [frameSize]byte
	if err := f.EncodeTo(buf[:]); err != nil {
		return fail("transmit", twai.ErrInvalidArg, err)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.fd < 0 || d.recovering {
		return fail("transmit", twai.ErrInvalidState, nil)
	}
	if d.general.Mode == twai.ModeListenOnly {
		return fail("transmit", twai.ErrNotSupported, nil)
	}
	deadline := time.Now().Add(timeout)
	for {
		n, err := unix.Write(d.fd, buf[:])
		switch {
		case err == nil && n == frameSize:
			return nil
		case err == nil:
			return fail("transmit", twai.ErrFail, fmt.Errorf("short write %d", n))
		case err == unix.EAGAIN || err == unix.ENOBUFS:
			if timeout <= 0 {
				return twai.ErrTimeout
			}
			if werr := wait(d.fd, unix.POLLOUT, deadline); werr != nil {
				return werr
			}
		default:
			return fail("transmit", twai.ErrFail, err)
		}
	}
}

func (d *Driver) Receive(f *twai.Frame, timeout time.Duration) error {
	if f == nil {
		return fail("receive", twai.ErrInvalidArg, nil)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.fd < 0 {
		return fail("receive", twai.ErrInvalidState, nil)
	}
	var buf [frameSize]byte
	deadline := time.Now().Add(timeout)
	for {
		n, err := unix.Read(d.fd, buf[:])
		switch {
		case err == nil && n == frameSize:
			if uerr := f.UnmarshalBinary(buf[:]); uerr != nil {
				return fail("receive", twai.ErrFail, uerr)
			}
			return nil
		case err == nil:
			return fail("receive", twai.ErrFail, fmt.Errorf("short read %d", n))
		case err == unix.EAGAIN:
			if timeout <= 0 {
				return twai.ErrTimeout
			}
			if werr := wait(d.fd, unix.POLLIN, deadline); werr != nil {
				return werr
			}
		default:
			return fail("receive", twai.ErrFail, err)
		}
	}
}

func (d *Driver) StatusInfo() (twai.Status, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.installed {
		return twai.Status{}, fail("status", twai.ErrInvalidState, nil)
	}
	link, err := queryLink(d.run, d.iface)
	if err != nil {
		return twai.Status{}, fail("status", twai.ErrFail, err)
	}
	st := link.status(d.fd >= 0, d.recovering)
	if d.fd >= 0 {
		if n, err := unix.IoctlGetInt(d.fd, unix.SIOCINQ); err == nil {
			st.MsgsToRx = uint32(n) / frameSize
		}
		if n, err := unix.IoctlGetInt(d.fd, unix.SIOCOUTQ); err == nil {
			st.MsgsToTx = uint32(n) / frameSize
		}
	}
	return st, nil
}

// InitiateRecovery asks the kernel to restart a bus-off controller. Once the
// link reports a running state again the driver reads as stopped until
// Start, matching the vendor recovery sequence.
func (d *Driver) InitiateRecovery() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.installed {
		return fail("recovery", twai.ErrInvalidState, nil)
	}
	link, err := queryLink(d.run, d.iface)
	if err != nil {
		return fail("recovery", twai.ErrFail, err)
	}
	if link.LinkInfo.InfoData.State != kernelBusOff {
		return fail("recovery", twai.ErrInvalidState, nil)
	}
	if _, err := d.run("ip", "link", "set", "dev", d.iface, "type", "can", "restart"); err != nil {
		return fail("recovery", twai.ErrFail, RequireRootOrCapNetAdmin(err))
	}
	d.recovering = true
	return nil
}

// ResetPin is a no-op: SocketCAN controllers have no host-visible GPIOs.
func (d *Driver) ResetPin(int8) {}

var _ twai.Driver = (*Driver)(nil)
