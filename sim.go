package twai

import (
	"sync"
	"time"
)

// SimBus is an in-memory CAN bus for tests and host tooling. Drivers opened
// from the same bus exchange frames.
type SimBus struct {
	mu      sync.RWMutex
	closed  bool
	drivers map[*SimDriver]struct{}
}

// NewSimBus creates a new simulated bus.
func NewSimBus() *SimBus {
	return &SimBus{drivers: make(map[*SimDriver]struct{})}
}

// Open creates a new simulated driver attached to the bus.
func (b *SimBus) Open() *SimDriver {
	d := &SimDriver{bus: b}
	b.mu.Lock()
	if !b.closed {
		b.drivers[d] = struct{}{}
	}
	b.mu.Unlock()
	return d
}

// Close detaches every driver. Drivers keep working locally but no longer
// see each other's frames.
func (b *SimBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.drivers = make(map[*SimDriver]struct{})
	b.mu.Unlock()
	return nil
}

func (b *SimBus) peers(self *SimDriver) []*SimDriver {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*SimDriver, 0, len(b.drivers))
	for d := range b.drivers {
		if d != self {
			out = append(out, d)
		}
	}
	return out
}

// Error counter thresholds from the CAN fault confinement rules.
const (
	tecPerError = 8
	busOffLimit = 256
)

// simClockHz is the source clock the timing presets assume.
const simClockHz = 80_000_000

// SimDriver is a Driver backed by a SimBus. It follows the driver's state
// rules: Install/Uninstall only while stopped, Transmit only while running,
// recovery only from bus-off. Transmission is instantaneous, so the TX
// queue never holds frames.
//
// A transmission in normal mode that no other running node acknowledges
// fails and raises the transmit error counter; enough of them take the
// driver bus-off.
type SimDriver struct {
	bus *SimBus

	// BRPMax rejects timing configurations with a larger prescaler when
	// non-zero.
	BRPMax uint32
	// RecoveryTime is how long a recovery takes before the driver reports
	// stopped again.
	RecoveryTime time.Duration

	mu        sync.Mutex
	installed bool
	state     State
	general   GeneralConfig
	filter    FilterConfig
	bitrate   uint32
	rx        chan Frame
	done      chan struct{}
	recovered time.Time
	resets    []int8

	tec, rec  uint32
	txFailed  uint32
	rxMissed  uint32
	busErrors uint32
}

func (d *SimDriver) Install(g GeneralConfig, t TimingConfig, f FilterConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.installed {
		return ErrInvalidState
	}
	if g.RxQueueLen == 0 || g.TxIO < 0 || g.RxIO < 0 || g.Mode > ModeListenOnly {
		return ErrInvalidArg
	}
	if t.BRP == 0 || (d.BRPMax != 0 && t.BRP > d.BRPMax) {
		return ErrInvalidArg
	}
	d.installed = true
	d.state = StateStopped
	d.general = g
	d.filter = f
	d.bitrate = simClockHz / (t.BRP * (1 + uint32(t.TSeg1) + uint32(t.TSeg2)))
	d.rx = make(chan Frame, g.RxQueueLen)
	d.done = make(chan struct{})
	d.tec, d.rec = 0, 0
	d.txFailed, d.rxMissed, d.busErrors = 0, 0, 0
	return nil
}

func (d *SimDriver) Uninstall() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.installed || (d.state != StateStopped && d.state != StateBusOff) {
		return ErrInvalidState
	}
	d.installed = false
	d.state = StateStopped
	close(d.done)
	return nil
}

func (d *SimDriver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.settle()
	if !d.installed || d.state != StateStopped {
		return ErrInvalidState
	}
	d.state = StateRunning
	return nil
}

func (d *SimDriver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.installed || d.state != StateRunning {
		return ErrInvalidState
	}
	d.state = StateStopped
	return nil
}

func (d *SimDriver) Transmit(f *Frame, timeout time.Duration) error {
	if f == nil || f.Validate() != nil {
		return ErrInvalidArg
	}
	d.mu.Lock()
	if !d.installed || d.state != StateRunning {
		d.mu.Unlock()
		return ErrInvalidState
	}
	mode, bitrate := d.general.Mode, d.bitrate
	d.mu.Unlock()
	if mode == ModeListenOnly {
		return ErrNotSupported
	}

	frame := *f
	acked := false
	for _, p := range d.bus.peers(d) {
		if p.deliver(frame, bitrate) {
			acked = true
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if acked || mode == ModeNoAck {
		if d.tec > 0 {
			d.tec--
		}
		if frame.SelfReception {
			d.enqueue(frame)
		}
		return nil
	}
	// No acknowledge. Hardware would retransmit; counting each attempt as
	// one failure keeps the counters meaningful without a retry loop.
	d.txFailed++
	d.busErrors++
	d.tec += tecPerError
	if d.tec >= busOffLimit {
		d.state = StateBusOff
	}
	return nil
}

// deliver offers a frame seen on the bus and reports whether this node
// acknowledged it.
func (d *SimDriver) deliver(f Frame, bitrate uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.installed || d.state != StateRunning {
		return false
	}
	if d.bitrate != bitrate {
		d.busErrors++
		d.rec++
		return false
	}
	if d.rec > 0 {
		d.rec--
	}
	d.enqueue(f)
	return d.general.Mode != ModeListenOnly
}

func (d *SimDriver) enqueue(f Frame) {
	if !d.filter.Accepts(f) {
		return
	}
	select {
	case d.rx <- f:
	default:
		d.rxMissed++
	}
}

func (d *SimDriver) Receive(f *Frame, timeout time.Duration) error {
	if f == nil {
		return ErrInvalidArg
	}
	d.mu.Lock()
	if !d.installed {
		d.mu.Unlock()
		return ErrInvalidState
	}
	rx, done := d.rx, d.done
	d.mu.Unlock()

	if timeout <= 0 {
		select {
		case *f = <-rx:
			return nil
		default:
			return ErrTimeout
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case *f = <-rx:
		return nil
	case <-done:
		return ErrInvalidState
	case <-t.C:
		return ErrTimeout
	}
}

func (d *SimDriver) StatusInfo() (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.installed {
		return Status{}, ErrInvalidState
	}
	d.settle()
	return Status{
		State:          d.state,
		MsgsToRx:       uint32(len(d.rx)),
		TxErrorCounter: d.tec,
		RxErrorCounter: d.rec,
		TxFailedCount:  d.txFailed,
		RxMissedCount:  d.rxMissed,
		BusErrorCount:  d.busErrors,
	}, nil
}

func (d *SimDriver) InitiateRecovery() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.installed || d.state != StateBusOff {
		return ErrInvalidState
	}
	d.state = StateRecovering
	d.recovered = time.Now().Add(d.RecoveryTime)
	return nil
}

// settle completes a pending recovery once RecoveryTime has passed.
func (d *SimDriver) settle() {
	if d.state == StateRecovering && !time.Now().Before(d.recovered) {
		d.state = StateStopped
		d.tec, d.rec = 0, 0
	}
}

func (d *SimDriver) ResetPin(pin int8) {
	d.mu.Lock()
	d.resets = append(d.resets, pin)
	d.mu.Unlock()
}

// ResetPins returns the pins passed to ResetPin, in call order.
func (d *SimDriver) ResetPins() []int8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int8(nil), d.resets...)
}

// InjectBusOff drives the transmit error counter past the bus-off limit, as
// a burst of bus errors would.
func (d *SimDriver) InjectBusOff() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.installed || d.state != StateRunning {
		return
	}
	d.tec = busOffLimit
	d.busErrors++
	d.state = StateBusOff
}

var _ Driver = (*SimDriver)(nil)
