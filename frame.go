package twai

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Frame is a classical CAN (2.0A/2.0B) frame in the shape the TWAI driver
// queues it.
type Frame struct {
	ID            uint32 // 11-bit (std) or 29-bit (ext)
	Extended      bool   // 29-bit identifier
	RTR           bool   // remote transmission request
	SingleShot    bool   // transmit once, no retransmission on error
	SelfReception bool   // also deliver to our own RX queue
	DLCNonComp    bool   // Len may exceed 8 (only 8 bytes are carried)
	Len           uint8
	Data          [8]byte
}

const (
	maxStdID = 0x7FF
	maxExtID = 0x1FFFFFFF
)

var (
	ErrInvalidID  = errors.New("twai: invalid identifier")
	ErrInvalidLen = errors.New("twai: invalid data length")
)

// Validate returns an error if the frame cannot be put on the bus.
func (f Frame) Validate() error {
	if f.Len > 15 || (f.Len > 8 && !f.DLCNonComp) {
		return ErrInvalidLen
	}
	if f.Extended {
		if f.ID > maxExtID {
			return ErrInvalidID
		}
	} else if f.ID > maxStdID {
		return ErrInvalidID
	}
	return nil
}

// Payload returns the data bytes carried by the frame.
func (f *Frame) Payload() []byte {
	n := f.Len
	if n > 8 {
		n = 8
	}
	if f.RTR {
		n = 0
	}
	return f.Data[:n]
}

// MustFrame constructs a data frame and panics if invalid. Convenience for
// examples and tests.
func MustFrame(id uint32, data []byte) Frame {
	var f Frame
	f.ID = id
	if id > maxStdID {
		f.Extended = true
	}
	if len(data) > 8 {
		panic(ErrInvalidLen)
	}
	f.Len = uint8(len(data))
	copy(f.Data[:], data)
	if err := f.Validate(); err != nil {
		panic(err)
	}
	return f
}

// String formats the frame like candump: "123 [2] DE AD".
func (f Frame) String() string {
	var b strings.Builder
	if f.Extended {
		fmt.Fprintf(&b, "%08X", f.ID)
	} else {
		fmt.Fprintf(&b, "%03X", f.ID)
	}
	fmt.Fprintf(&b, " [%d]", f.Len)
	if f.RTR {
		b.WriteString(" RTR")
		return b.String()
	}
	for _, v := range f.Payload() {
		fmt.Fprintf(&b, " %02X", v)
	}
	return b.String()
}

// SocketCAN can_id flag bits.
const (
	canEffFlag = 0x80000000
	canRtrFlag = 0x40000000
	canEffMask = 0x1FFFFFFF
	canStdMask = 0x7FF
)

// MarshalBinary encodes the frame to the Linux SocketCAN "struct can_frame"
// layout (16 bytes, little-endian):
//
//	0..3  can_id (with EFF/RTR flags)
//	4     len
//	5..7  padding
//	8..15 data
//
// Driver-only flags (single shot, self reception) are not represented.
func (f Frame) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 16)
	if err := f.marshalTo(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (f *Frame) marshalTo(buf []byte) error {
	if err := f.Validate(); err != nil {
		return err
	}
	id := f.ID
	if f.Extended {
		id |= canEffFlag
	}
	if f.RTR {
		id |= canRtrFlag
	}
	binary.LittleEndian.PutUint32(buf[0:4], id)
	n := f.Len
	if n > 8 {
		n = 8
	}
	buf[4] = n
	buf[5], buf[6], buf[7] = 0, 0, 0
	copy(buf[8:16], f.Data[:])
	return nil
}

// UnmarshalBinary decodes a frame from the SocketCAN can_frame layout.
func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) < 16 {
		return fmt.Errorf("twai: need 16 bytes, got %d", len(data))
	}
	id := binary.LittleEndian.Uint32(data[0:4])
	*f = Frame{}
	f.Extended = id&canEffFlag != 0
	f.RTR = id&canRtrFlag != 0
	if f.Extended {
		f.ID = id & canEffMask
	} else {
		f.ID = id & canStdMask
	}
	f.Len = data[4]
	copy(f.Data[:], data[8:16])
	return f.Validate()
}

// EncodeTo is MarshalBinary writing into a caller buffer of at least 16
// bytes, so hot paths can reuse storage.
func (f *Frame) EncodeTo(buf []byte) error {
	if len(buf) < 16 {
		return fmt.Errorf("twai: need 16 bytes, got %d", len(buf))
	}
	return f.marshalTo(buf)
}
