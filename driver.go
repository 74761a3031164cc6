package twai

import (
	"errors"
	"fmt"
	"time"
)

// Driver is the vendor TWAI driver the Controller delegates to. A nil error
// means the call returned OK; any other value is a failure.
type Driver interface {
	Install(g GeneralConfig, t TimingConfig, f FilterConfig) error
	Uninstall() error
	Start() error
	Stop() error

	// Transmit queues frame for sending, waiting up to timeout for room in
	// the TX queue. A zero timeout does not block.
	Transmit(frame *Frame, timeout time.Duration) error

	// Receive copies the next frame from the RX queue into frame, waiting up
	// to timeout for one to arrive. A zero timeout does not block.
	Receive(frame *Frame, timeout time.Duration) error

	StatusInfo() (Status, error)
	InitiateRecovery() error

	// ResetPin returns a GPIO to its power-on electrical state.
	ResetPin(pin int8)
}

// State is the controller state reported by the driver.
type State uint32

const (
	StateStopped State = iota
	StateRunning
	StateBusOff
	StateRecovering
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateBusOff:
		return "bus-off"
	case StateRecovering:
		return "recovering"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

// Status is a snapshot of the driver's queues and error counters.
type Status struct {
	State          State
	MsgsToTx       uint32
	MsgsToRx       uint32
	TxErrorCounter uint32
	RxErrorCounter uint32
	TxFailedCount  uint32
	RxMissedCount  uint32
	RxOverrunCount uint32
	ArbLostCount   uint32
	BusErrorCount  uint32
}

// Code is a driver result code. It is comparable and implements error.
type Code string

func (c Code) Error() string { return string(c) }

const (
	ErrInvalidArg   Code = "invalid_arg"
	ErrInvalidState Code = "invalid_state"
	ErrTimeout      Code = "timeout"
	ErrNotSupported Code = "not_supported"
	ErrNoMem        Code = "no_mem"
	ErrFail         Code = "fail"
)

// CodeOf extracts the driver Code carried by err. Nil maps to "", anything
// without a Code maps to ErrFail.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return ErrFail
}
