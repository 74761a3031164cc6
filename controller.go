package twai

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// QueueKeep passed as a queue size leaves the configured size unchanged.
const QueueKeep uint16 = 0xFFFF

// Default frame I/O timeouts.
const (
	DefaultReadTimeout  = time.Second
	DefaultWriteTimeout = time.Millisecond
)

// Defaults applied by New.
const (
	DefaultTxPin   int8   = 5
	DefaultRxPin   int8   = 4
	DefaultTxQueue uint16 = 5
	DefaultRxQueue uint16 = 5
)

// Controller is a facade over one TWAI peripheral. It caches speed, pins
// and queue sizes until Start installs the driver with them.
//
// A Controller is meant to have a single owner. It does no locking; callers
// sharing one across goroutines must serialize access themselves.
type Controller struct {
	drv    Driver
	logger *slog.Logger
	chip   Chip
	mode   Mode

	active  bool
	tx      int8
	rx      int8
	txQueue uint16
	rxQueue uint16
	speed   Speed
}

// Option configures a Controller in New.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	chip    Chip
	mode    Mode
	speed   Speed
	tx, rx  int8
	txQueue uint16
	rxQueue uint16
}

// WithLogger sets the diagnostic logger. Without one nothing is logged.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithChip selects the target chip, which decides the usable low speed
// tiers. The default is ChipESP32S3.
func WithChip(chip Chip) Option {
	return func(o *options) { o.chip = chip }
}

// WithMode sets the mode used by the preset general configuration.
func WithMode(m Mode) Option {
	return func(o *options) { o.mode = m }
}

// WithSpeed sets the initial speed, subject to the same checks as SetSpeed.
func WithSpeed(s Speed) Option {
	return func(o *options) { o.speed = s }
}

// WithPins sets the initial pins, subject to the same checks as SetPins.
func WithPins(tx, rx int8) Option {
	return func(o *options) { o.tx, o.rx = tx, rx }
}

// WithQueueSizes sets the initial queue depths. QueueKeep leaves a default
// in place.
func WithQueueSizes(tx, rx uint16) Option {
	return func(o *options) { o.txQueue, o.rxQueue = tx, rx }
}

// New returns an inactive Controller for drv with default configuration.
func New(drv Driver, opts ...Option) *Controller {
	o := options{
		chip:    ChipESP32S3,
		mode:    ModeNormal,
		speed:   SpeedSize,
		tx:      -1,
		rx:      -1,
		txQueue: QueueKeep,
		rxQueue: QueueKeep,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Controller{
		drv:     drv,
		logger:  o.logger,
		chip:    o.chip,
		mode:    o.mode,
		tx:      DefaultTxPin,
		rx:      DefaultRxPin,
		txQueue: DefaultTxQueue,
		rxQueue: DefaultRxQueue,
		speed:   DefaultSpeed,
	}
	c.SetSpeed(o.speed)
	if o.tx >= 0 {
		c.tx = o.tx
	}
	if o.rx >= 0 {
		c.rx = o.rx
	}
	c.SetTxQueueSize(o.txQueue)
	c.SetRxQueueSize(o.rxQueue)
	return c
}

// Active reports whether the driver is installed and started.
func (c *Controller) Active() bool { return c.active }

// Chip returns the chip the controller targets.
func (c *Controller) Chip() Chip { return c.chip }

// Speed returns the configured speed.
func (c *Controller) Speed() Speed { return c.speed }

// SetSpeed changes the configured speed. Values at or beyond SpeedSize, or
// tiers the chip cannot produce, are ignored. The new speed applies on the
// next Start.
func (c *Controller) SetSpeed(s Speed) {
	if s < SpeedSize && c.chip.Supports(s) {
		c.speed = s
	}
}

// SpeedNumeric returns the configured speed in kbit/s.
func (c *Controller) SpeedNumeric() uint32 {
	return SpeedToNumeric(c.chip, c.speed)
}

// ConvertSpeed maps a rate in kbit/s to a Speed, e.g.
// c.SetSpeed(c.ConvertSpeed(500)). A rate with no matching tier returns the
// current speed.
func (c *Controller) ConvertSpeed(kbps uint16) Speed {
	if s, ok := numericToSpeed(c.chip, kbps); ok {
		return s
	}
	return c.speed
}

// Pins returns the configured TX and RX GPIOs.
func (c *Controller) Pins() (tx, rx int8) { return c.tx, c.rx }

// SetPins stores each non-negative pin. It reports false if either pin is
// negative or the bus is active, even though any valid pin has been stored.
func (c *Controller) SetPins(tx, rx int8) bool {
	ok := !c.active
	if tx >= 0 {
		c.tx = tx
	} else {
		ok = false
	}
	if rx >= 0 {
		c.rx = rx
	} else {
		ok = false
	}
	if !ok {
		c.logger.Debug("twai: wrong pins or bus already running", "tx", tx, "rx", rx, "active", c.active)
	}
	return ok
}

// QueueSizes returns the configured TX and RX queue depths.
func (c *Controller) QueueSizes() (tx, rx uint16) { return c.txQueue, c.rxQueue }

// SetTxQueueSize sets the TX queue depth used by the next Start. QueueKeep
// is ignored; other values are passed to the driver unchecked.
func (c *Controller) SetTxQueueSize(n uint16) {
	if n != QueueKeep {
		c.txQueue = n
	}
}

// SetRxQueueSize sets the RX queue depth used by the next Start. QueueKeep
// is ignored; other values are passed to the driver unchecked.
func (c *Controller) SetRxQueueSize(n uint16) {
	if n != QueueKeep {
		c.rxQueue = n
	}
}

// StartDefault starts the bus with the currently configured settings.
func (c *Controller) StartDefault() bool {
	return c.Start(SpeedSize, -1, -1, QueueKeep, QueueKeep, nil)
}

// Start (re)installs and starts the driver. Any running instance is
// stopped first, so Start can also be used to change speed. SpeedSize, a
// negative pin and QueueKeep keep the configured value. Non-nil fields of
// ov replace the matching preset configuration.
//
// If the initial Stop fails, Start returns false and the controller stays
// active, since the driver is still installed. Any later failure leaves the
// controller inactive.
func (c *Controller) Start(speed Speed, txPin, rxPin int8, txQueue, rxQueue uint16, ov *Overrides) bool {
	if !c.Stop() {
		return false
	}
	c.active = true
	c.SetSpeed(speed)
	c.SetPins(txPin, rxPin)

	c.drv.ResetPin(c.rx)
	c.drv.ResetPin(c.tx)

	c.SetTxQueueSize(txQueue)
	c.SetRxQueueSize(rxQueue)

	g := generalConfigFor(c.mode, c.tx, c.rx, c.txQueue, c.rxQueue)
	t, _ := TimingPreset(c.speed)
	f := FilterAcceptAll()
	if ov != nil {
		if ov.General != nil {
			g = *ov.General
		}
		if ov.Timing != nil {
			t = *ov.Timing
		}
		if ov.Filter != nil {
			f = *ov.Filter
		}
	}

	ok := false
	if err := c.drv.Install(g, t, f); err != nil {
		c.logger.Error("twai: failed to install driver", "error", err)
	} else {
		c.logger.Debug("twai: driver installed", "speed", c.speed, "tx", g.TxIO, "rx", g.RxIO)
		if err := c.drv.Start(); err != nil {
			c.logger.Error("twai: failed to start driver", "error", err)
		} else {
			c.logger.Debug("twai: driver started")
			ok = true
		}
	}
	if !ok {
		// The driver may refuse to uninstall something it never installed;
		// the controller is inactive either way.
		c.Stop()
		c.active = false
	}
	return ok
}

// Stop stops and uninstalls the driver. It is a no-op returning true when
// the bus is not active. Uninstall is attempted even if the driver's stop
// fails, and only the uninstall result decides the return value.
func (c *Controller) Stop() bool {
	if !c.active {
		return true
	}
	if err := c.drv.Stop(); err != nil {
		c.logger.Error("twai: failed to stop driver", "error", err)
	} else {
		c.logger.Debug("twai: driver stopped")
	}
	if err := c.drv.Uninstall(); err != nil {
		c.logger.Error("twai: failed to uninstall driver", "error", err)
		return false
	}
	c.logger.Debug("twai: driver uninstalled")
	c.active = false
	return true
}

// ReadFrame waits up to timeout for a received frame and copies it into
// frame. A zero timeout polls. It reports false for a nil frame or when
// nothing arrived.
func (c *Controller) ReadFrame(frame *Frame, timeout time.Duration) bool {
	if frame == nil || c.drv.Receive(frame, timeout) != nil {
		return false
	}
	if c.logger.Enabled(context.Background(), slog.LevelDebug) {
		c.logger.Debug("twai: frame received", "id", frame.ID)
	}
	return true
}

// WriteFrame queues frame for transmission, waiting up to timeout for room
// in the TX queue. A zero timeout does not block.
func (c *Controller) WriteFrame(frame *Frame, timeout time.Duration) bool {
	if frame == nil || c.drv.Transmit(frame, timeout) != nil {
		return false
	}
	if c.logger.Enabled(context.Background(), slog.LevelDebug) {
		c.logger.Debug("twai: frame sent", "id", frame.ID)
	}
	return true
}

// StatusInfo fetches a fresh status snapshot from the driver. The second
// result is false if the driver could not report one.
func (c *Controller) StatusInfo() (Status, bool) {
	st, err := c.drv.StatusInfo()
	if err != nil {
		return Status{}, false
	}
	return st, true
}

// The counters below return 0 when the status cannot be read, which is
// indistinguishable from a real zero. Use StatusInfo to tell them apart.

// InTxQueue returns the number of frames waiting to be sent.
func (c *Controller) InTxQueue() uint32 {
	st, _ := c.StatusInfo()
	return st.MsgsToTx
}

// InRxQueue returns the number of frames waiting to be read.
func (c *Controller) InRxQueue() uint32 {
	st, _ := c.StatusInfo()
	return st.MsgsToRx
}

// RxErrorCounter returns the receive error counter (REC).
func (c *Controller) RxErrorCounter() uint32 {
	st, _ := c.StatusInfo()
	return st.RxErrorCounter
}

// TxErrorCounter returns the transmit error counter (TEC).
func (c *Controller) TxErrorCounter() uint32 {
	st, _ := c.StatusInfo()
	return st.TxErrorCounter
}

// RxMissedCounter returns how many frames were lost to a full RX queue.
func (c *Controller) RxMissedCounter() uint32 {
	st, _ := c.StatusInfo()
	return st.RxMissedCount
}

// TxFailedCounter returns how many transmissions failed.
func (c *Controller) TxFailedCounter() uint32 {
	st, _ := c.StatusInfo()
	return st.TxFailedCount
}

// BusErrCounter returns how many bus errors were seen.
func (c *Controller) BusErrCounter() uint32 {
	st, _ := c.StatusInfo()
	return st.BusErrorCount
}

// CanState returns the controller state; StateStopped if it cannot be read.
func (c *Controller) CanState() State {
	st, _ := c.StatusInfo()
	return st.State
}

// Recover starts bus-off recovery. It reports true when recovery was
// initiated, is already in progress, or the controller is stopped.
func (c *Controller) Recover() bool {
	st, ok := c.StatusInfo()
	if !ok {
		c.logger.Error("twai: status read failed")
		return false
	}
	switch st.State {
	case StateBusOff:
		c.logger.Info("twai: bus was off, starting recovery")
		if err := c.drv.InitiateRecovery(); err != nil {
			c.logger.Error("twai: failed to initiate recovery", "error", err)
			return false
		}
		return true
	case StateRecovering, StateStopped:
		return true
	default:
		c.logger.Debug("twai: wrong state for recovery", "state", st.State)
		return false
	}
}

// Restart starts the driver again after a completed recovery, which leaves
// the controller stopped. Any other state reports false.
func (c *Controller) Restart() bool {
	st, ok := c.StatusInfo()
	if !ok {
		c.logger.Error("twai: status read failed")
		return false
	}
	if st.State != StateStopped {
		c.logger.Debug("twai: wrong state for restart", "state", st.State)
		return false
	}
	if err := c.drv.Start(); err != nil {
		c.logger.Error("twai: failed to restart driver", "error", err)
		return false
	}
	return true
}
