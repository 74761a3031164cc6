package twai

import (
	"context"
	"log/slog"
	"time"
)

// LogOption is a bitmask for selecting which driver calls to log.
type LogOption uint8

const (
	LogNone LogOption = 0
	LogRead LogOption = 1 << (iota - 1)
	LogWrite
	LogLifecycle
	LogAll = LogRead | LogWrite | LogLifecycle
)

// NewLoggedDriver wraps inner and logs the selected calls at the given
// level. Failures are logged at error level.
func NewLoggedDriver(inner Driver, logger *slog.Logger, level slog.Level, opts LogOption) Driver {
	return &loggedDriver{inner: inner, logger: logger, level: level, opts: opts}
}

// NewLoggedDriverWithFilter is NewLoggedDriver but frame logging is limited
// to frames that satisfy filter. A nil filter logs every frame.
func NewLoggedDriverWithFilter(inner Driver, logger *slog.Logger, level slog.Level, opts LogOption, filter FrameFilter) Driver {
	return &loggedDriver{inner: inner, logger: logger, level: level, opts: opts, filter: filter}
}

type loggedDriver struct {
	inner  Driver
	logger *slog.Logger
	level  slog.Level
	opts   LogOption
	filter FrameFilter
}

func (l *loggedDriver) frame(msg string, f *Frame) {
	if l.filter != nil && !l.filter(*f) {
		return
	}
	l.logger.Log(context.Background(), l.level, msg,
		"id", f.ID,
		"extended", f.Extended,
		"rtr", f.RTR,
		"len", int(f.Len),
		"data", f.Payload(),
		"string", f.String(),
	)
}

func (l *loggedDriver) call(op string, err error, attrs ...any) error {
	if l.opts&LogLifecycle == 0 {
		return err
	}
	if err != nil {
		l.logger.Log(context.Background(), slog.LevelError, "twai "+op+" error", append(attrs, "error", err)...)
		return err
	}
	l.logger.Log(context.Background(), l.level, "twai "+op, attrs...)
	return nil
}

func (l *loggedDriver) Install(g GeneralConfig, t TimingConfig, f FilterConfig) error {
	return l.call("install", l.inner.Install(g, t, f),
		"mode", g.Mode,
		"tx_io", g.TxIO,
		"rx_io", g.RxIO,
		"tx_queue", g.TxQueueLen,
		"rx_queue", g.RxQueueLen,
		"brp", t.BRP,
	)
}

func (l *loggedDriver) Uninstall() error { return l.call("uninstall", l.inner.Uninstall()) }
func (l *loggedDriver) Start() error     { return l.call("start", l.inner.Start()) }
func (l *loggedDriver) Stop() error      { return l.call("stop", l.inner.Stop()) }

func (l *loggedDriver) InitiateRecovery() error {
	return l.call("recovery", l.inner.InitiateRecovery())
}

// Transmit logs the frame and the result when write logging is enabled.
func (l *loggedDriver) Transmit(f *Frame, timeout time.Duration) error {
	if l.opts&LogWrite != 0 {
		l.frame("twai send", f)
	}
	err := l.inner.Transmit(f, timeout)
	if l.opts&LogWrite != 0 && err != nil {
		l.logger.Log(context.Background(), slog.LevelError, "twai send error",
			"id", f.ID,
			"error", err,
		)
	}
	return err
}

// Receive logs the received frame when read logging is enabled. Timeouts
// are not errors for a polling reader and are not logged.
func (l *loggedDriver) Receive(f *Frame, timeout time.Duration) error {
	err := l.inner.Receive(f, timeout)
	if l.opts&LogRead == 0 {
		return err
	}
	switch {
	case err == nil:
		l.frame("twai receive", f)
	case CodeOf(err) != ErrTimeout:
		l.logger.Log(context.Background(), slog.LevelError, "twai receive error", "error", err)
	}
	return err
}

func (l *loggedDriver) StatusInfo() (Status, error) { return l.inner.StatusInfo() }

func (l *loggedDriver) ResetPin(pin int8) {
	l.inner.ResetPin(pin)
	if l.opts&LogLifecycle != 0 {
		l.logger.Log(context.Background(), l.level, "twai reset pin", "pin", pin)
	}
}
