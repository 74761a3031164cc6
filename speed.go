package twai

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// Speed selects one of the bit rates the driver has timing presets for.
type Speed uint8

const (
	Speed1K Speed = iota
	Speed5K
	Speed10K
	Speed12_5K
	Speed16K
	Speed20K
	Speed100K
	Speed125K
	Speed250K
	Speed500K
	Speed800K
	Speed1M

	// SpeedSize marks the end of the enumeration. Passed to Start it means
	// "keep the current speed".
	SpeedSize
)

// DefaultSpeed is the speed a new Controller starts with.
const DefaultSpeed = Speed500K

var speedKbps = [SpeedSize]uint32{
	Speed1K:    1,
	Speed5K:    5,
	Speed10K:   10,
	Speed12_5K: 12,
	Speed16K:   16,
	Speed20K:   20,
	Speed100K:  100,
	Speed125K:  125,
	Speed250K:  250,
	Speed500K:  500,
	Speed800K:  800,
	Speed1M:    1000,
}

func (s Speed) String() string {
	switch {
	case s == Speed12_5K:
		return "12.5kbps"
	case s < SpeedSize:
		return fmt.Sprintf("%dkbps", speedKbps[s])
	default:
		return fmt.Sprintf("Speed(%d)", uint8(s))
	}
}

// Chip describes the prescaler range of a TWAI controller revision, which
// decides whether the low speed tiers can be produced.
type Chip struct {
	Name     string
	BRPMax   uint32
	Revision uint16 // e.g. 300 for ESP32 v3.0
}

var (
	ChipESP32     = Chip{Name: "esp32", BRPMax: 128, Revision: 100}
	ChipESP32Rev3 = Chip{Name: "esp32-rev3", BRPMax: 128, Revision: 300}
	ChipESP32S3   = Chip{Name: "esp32s3", BRPMax: 16384, Revision: 0}
	ChipESP32C3   = Chip{Name: "esp32c3", BRPMax: 16384, Revision: 0}
)

// Supports reports whether the chip can run at s.
func (c Chip) Supports(s Speed) bool {
	switch s {
	case Speed1K, Speed5K, Speed10K:
		return c.BRPMax > 256
	case Speed12_5K, Speed16K, Speed20K:
		return c.BRPMax > 128 || c.Revision >= 200
	default:
		return s < SpeedSize
	}
}

// SupportedSpeeds lists the speeds available on the chip, slowest first.
// Speed values are declared in ascending rate order.
func (c Chip) SupportedSpeeds() []Speed {
	out := make([]Speed, 0, SpeedSize)
	for s := Speed(0); s < SpeedSize; s++ {
		if c.Supports(s) {
			out = append(out, s)
		}
	}
	return out
}

// SpeedToNumeric returns the nominal rate of s in kbit/s for chip c.
// Unknown speeds, and tiers the chip cannot produce, report 500.
func SpeedToNumeric(c Chip, s Speed) uint32 {
	if !c.Supports(s) {
		return 500
	}
	return speedKbps[s]
}

// numericToSpeed looks up the tier for kbps. 13 is accepted for 12.5 kbit/s.
func numericToSpeed(c Chip, kbps uint16) (Speed, bool) {
	if kbps == 13 {
		kbps = 12
	}
	speeds := c.SupportedSpeeds()
	i := slices.IndexFunc(speeds, func(s Speed) bool { return speedKbps[s] == uint32(kbps) })
	if i < 0 {
		return 0, false
	}
	return speeds[i], true
}
