package twai

import "fmt"

// Mode is the operating mode of the controller.
type Mode uint8

const (
	ModeNormal     Mode = iota // send, receive and acknowledge
	ModeNoAck                  // transmissions succeed without an acknowledge (self test)
	ModeListenOnly             // receive only, never drive the bus
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeNoAck:
		return "no-ack"
	case ModeListenOnly:
		return "listen-only"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// IOUnused marks an optional GPIO as not connected.
const IOUnused int8 = -1

// Alert flags the driver may raise. Only the mask is carried; the
// Controller never enables alerts itself.
type Alert uint32

const (
	AlertNone         Alert = 0
	AlertTxIdle       Alert = 1 << 0
	AlertTxSuccess    Alert = 1 << 1
	AlertRxData       Alert = 1 << 2
	AlertBusOff       Alert = 1 << 12
	AlertBusRecovered Alert = 1 << 13
	AlertAll          Alert = 0x7FFF
)

// Interrupt allocation flags.
const IntrFlagLevel1 = 1 << 1

// GeneralConfig carries mode, pins and queue depths for Install.
type GeneralConfig struct {
	Mode          Mode
	TxIO          int8
	RxIO          int8
	ClkOutIO      int8
	BusOffIO      int8
	TxQueueLen    uint32
	RxQueueLen    uint32
	Alerts        Alert
	ClkOutDivider uint32
	IntrFlags     int
}

// generalConfigFor builds the preset general configuration used when the
// caller does not supply one.
func generalConfigFor(mode Mode, tx, rx int8, txQueue, rxQueue uint16) GeneralConfig {
	return GeneralConfig{
		Mode:       mode,
		TxIO:       tx,
		RxIO:       rx,
		ClkOutIO:   IOUnused,
		BusOffIO:   IOUnused,
		TxQueueLen: uint32(txQueue),
		RxQueueLen: uint32(rxQueue),
		Alerts:     AlertNone,
		IntrFlags:  IntrFlagLevel1,
	}
}

// TimingConfig holds bit timing segments for the controller's bit timing
// logic.
type TimingConfig struct {
	BRP            uint32 // baud rate prescaler
	TSeg1          uint8
	TSeg2          uint8
	SJW            uint8
	TripleSampling bool
}

// timingPresets are the vendor presets for an 80 MHz source clock.
var timingPresets = [SpeedSize]TimingConfig{
	Speed1K:    {BRP: 4000, TSeg1: 15, TSeg2: 4, SJW: 3},
	Speed5K:    {BRP: 800, TSeg1: 15, TSeg2: 4, SJW: 3},
	Speed10K:   {BRP: 400, TSeg1: 15, TSeg2: 4, SJW: 3},
	Speed12_5K: {BRP: 256, TSeg1: 16, TSeg2: 8, SJW: 3},
	Speed16K:   {BRP: 200, TSeg1: 16, TSeg2: 8, SJW: 3},
	Speed20K:   {BRP: 200, TSeg1: 15, TSeg2: 4, SJW: 3},
	Speed100K:  {BRP: 40, TSeg1: 15, TSeg2: 4, SJW: 3},
	Speed125K:  {BRP: 32, TSeg1: 15, TSeg2: 4, SJW: 3},
	Speed250K:  {BRP: 16, TSeg1: 15, TSeg2: 4, SJW: 3},
	Speed500K:  {BRP: 8, TSeg1: 15, TSeg2: 4, SJW: 3},
	Speed800K:  {BRP: 4, TSeg1: 16, TSeg2: 8, SJW: 3},
	Speed1M:    {BRP: 4, TSeg1: 15, TSeg2: 4, SJW: 3},
}

// TimingPreset returns the preset timing for s. The second result is false
// when s is not a valid speed.
func TimingPreset(s Speed) (TimingConfig, bool) {
	if s >= SpeedSize {
		return TimingConfig{}, false
	}
	return timingPresets[s], true
}

// Overrides replace the preset configurations Start would otherwise build.
// A nil field means "use the preset"; a non-nil one is passed to the driver
// verbatim.
type Overrides struct {
	General *GeneralConfig
	Timing  *TimingConfig
	Filter  *FilterConfig
}
