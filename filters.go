package twai

// FrameFilter decides whether a frame should be delivered to a subscriber.
type FrameFilter func(Frame) bool

// ByID returns a filter that matches frames with the exact identifier.
func ByID(id uint32) FrameFilter {
	return func(f Frame) bool { return f.ID == id }
}

// ByIDs returns a filter that matches any of the provided identifiers.
func ByIDs(ids ...uint32) FrameFilter {
	m := make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return func(f Frame) bool {
		_, ok := m[f.ID]
		return ok
	}
}

// ByRange matches frames whose ID is within [minID, maxID], inclusive.
func ByRange(minID, maxID uint32) FrameFilter {
	if maxID < minID {
		minID, maxID = maxID, minID
	}
	return func(f Frame) bool { return f.ID >= minID && f.ID <= maxID }
}

// ByMask matches when (frame.ID & mask) == (id & mask).
func ByMask(id uint32, mask uint32) FrameFilter {
	want := id & mask
	return func(f Frame) bool { return (f.ID & mask) == want }
}

// StandardOnly matches standard (11-bit) identifiers.
func StandardOnly() FrameFilter {
	return func(f Frame) bool { return !f.Extended }
}

// ExtendedOnly matches extended (29-bit) identifiers.
func ExtendedOnly() FrameFilter {
	return func(f Frame) bool { return f.Extended }
}

// DataOnly matches non-RTR frames.
func DataOnly() FrameFilter {
	return func(f Frame) bool { return !f.RTR }
}

// RTROnly matches remote transmission request frames.
func RTROnly() FrameFilter {
	return func(f Frame) bool { return f.RTR }
}

// LenAtMost matches frames whose DLC is at most n. A non-compliant DLC
// above 8 is compared as sent, not as the 8 bytes carried.
func LenAtMost(n uint8) FrameFilter {
	return func(f Frame) bool { return f.Len <= n }
}

// LenExactly matches frames whose DLC equals n.
func LenExactly(n uint8) FrameFilter {
	return func(f Frame) bool { return f.Len == n }
}

// And composes two filters; the result matches when both match.
func And(a, b FrameFilter) FrameFilter {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	default:
		return func(f Frame) bool { return a(f) && b(f) }
	}
}

// Or composes two filters; the result matches when either matches.
func Or(a, b FrameFilter) FrameFilter {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	default:
		return func(f Frame) bool { return a(f) || b(f) }
	}
}

// Not inverts a filter.
func Not(a FrameFilter) FrameFilter {
	if a == nil {
		return func(f Frame) bool { return false }
	}
	return func(f Frame) bool { return !a(f) }
}

// FilterConfig is the hardware acceptance filter. AcceptanceCode and
// AcceptanceMask are left aligned as in the acceptance registers; a set mask
// bit means "don't care".
//
// Single filter layout:
//
//	standard: 31..21 ID, 20 RTR, 15..8 data[0], 7..0 data[1]
//	extended: 31..3 ID, 2 RTR
//
// Dual filter layout:
//
//	standard: filter 1 = 31..21 ID, 20 RTR, 19..16 data[0] high, 3..0 data[0] low
//	          filter 2 = 15..5 ID, 4 RTR
//	extended: filter 1 = 31..16 ID[28:13], filter 2 = 15..0 ID[28:13]
type FilterConfig struct {
	AcceptanceCode uint32
	AcceptanceMask uint32
	SingleFilter   bool
}

// FilterAcceptAll is the preset filter that passes every frame.
func FilterAcceptAll() FilterConfig {
	return FilterConfig{AcceptanceCode: 0, AcceptanceMask: 0xFFFFFFFF, SingleFilter: true}
}

// FilterSingleStd accepts standard frames whose ID matches id on the bits
// set in mask. RTR and data bytes are ignored.
func FilterSingleStd(id, mask uint32) FilterConfig {
	return FilterConfig{
		AcceptanceCode: (id & maxStdID) << 21,
		AcceptanceMask: ^((mask & maxStdID) << 21),
		SingleFilter:   true,
	}
}

// FilterSingleExt accepts extended frames whose ID matches id on the bits
// set in mask. The RTR bit is ignored.
func FilterSingleExt(id, mask uint32) FilterConfig {
	return FilterConfig{
		AcceptanceCode: (id & maxExtID) << 3,
		AcceptanceMask: ^((mask & maxExtID) << 3),
		SingleFilter:   true,
	}
}

// Accepts reports whether the hardware filter would let f into the RX queue.
// Data bytes the frame does not carry never cause a rejection.
func (c FilterConfig) Accepts(f Frame) bool {
	match := func(bits, care uint32) bool {
		return (bits^c.AcceptanceCode)&^c.AcceptanceMask&care == 0
	}
	var rtr uint32
	if f.RTR {
		rtr = 1
	}
	data := f.Payload()
	var d0, d1 uint32
	var care0, care1 uint32
	if len(data) > 0 {
		d0, care0 = uint32(data[0]), 0xFF
	}
	if len(data) > 1 {
		d1, care1 = uint32(data[1]), 0xFF
	}

	if c.SingleFilter {
		if f.Extended {
			return match(f.ID<<3|rtr<<2, 0xFFFFFFFC)
		}
		bits := f.ID<<21 | rtr<<20 | d0<<8 | d1
		return match(bits, 0xFFF00000|care0<<8|care1)
	}

	if f.Extended {
		hi := f.ID >> 13
		return match(hi<<16, 0xFFFF0000) || match(hi, 0x0000FFFF)
	}
	f1 := f.ID<<21 | rtr<<20 | (d0>>4)<<16 | d0&0x0F
	f1care := uint32(0xFFF00000) | (care0>>4)<<16 | care0&0x0F
	f2 := f.ID<<5 | rtr<<4
	return match(f1, f1care) || match(f2, 0x0000FFF0)
}

// IDFilter is an identifier-level view of a FilterConfig, for backends that
// filter on (id & mask) only. Mask bits set here must match.
type IDFilter struct {
	ID       uint32
	Mask     uint32
	Extended bool
}

// IDFilters projects the acceptance filter onto identifier filters. RTR and
// data byte conditions are dropped, so the result may accept more frames
// than Accepts does.
func (c FilterConfig) IDFilters() []IDFilter {
	care := ^c.AcceptanceMask
	if c.SingleFilter {
		return []IDFilter{
			{ID: c.AcceptanceCode >> 21, Mask: (care >> 21) & maxStdID},
			{ID: c.AcceptanceCode >> 3, Mask: (care >> 3) & maxExtID, Extended: true},
		}
	}
	return []IDFilter{
		{ID: c.AcceptanceCode >> 21, Mask: (care >> 21) & maxStdID},
		{ID: (c.AcceptanceCode >> 5) & maxStdID, Mask: (care >> 5) & maxStdID},
		{ID: (c.AcceptanceCode >> 16) << 13, Mask: ((care >> 16) & 0xFFFF) << 13, Extended: true},
		{ID: (c.AcceptanceCode & 0xFFFF) << 13, Mask: (care & 0xFFFF) << 13, Extended: true},
	}
}
