package lorawan

import "fmt"

// RangeError is returned when a value does not fit its field, or when the field
// does not fit the buffer.
type RangeError struct {
	BitOffset uint
	BitWidth  uint
	Value     uint64
	BufBits   uint
}

func (e *RangeError) Error() string {
	if e.BitOffset+e.BitWidth > e.BufBits {
		return fmt.Sprintf("bit range [%d,%d) exceeds buffer of %d bits", e.BitOffset, e.BitOffset+e.BitWidth, e.BufBits)
	}
	return fmt.Sprintf("value %d does not fit in %d bits", e.Value, e.BitWidth)
}

// SetField writes value into buf at the given bit range. Bit offset 0 is the most
// significant bit of buf[0]; offsets grow towards the least significant bit and
// then into the following bytes. Bits outside the range are left untouched.
func SetField(buf []byte, bitOffset, bitWidth uint, value uint64) error {
	bufBits := uint(len(buf)) * 8
	if bitWidth == 0 || bitWidth > 64 || bitOffset+bitWidth > bufBits {
		return &RangeError{BitOffset: bitOffset, BitWidth: bitWidth, Value: value, BufBits: bufBits}
	}
	if bitWidth < 64 && value>>bitWidth != 0 {
		return &RangeError{BitOffset: bitOffset, BitWidth: bitWidth, Value: value, BufBits: bufBits}
	}

	for i := uint(0); i < bitWidth; i++ {
		pos := bitOffset + i
		mask := byte(0x80) >> (pos % 8)
		if value&(1<<(bitWidth-1-i)) != 0 {
			buf[pos/8] |= mask
		} else {
			buf[pos/8] &^= mask
		}
	}
	return nil
}

// GetField reads the bit range written by SetField.
func GetField(buf []byte, bitOffset, bitWidth uint) (uint64, error) {
	bufBits := uint(len(buf)) * 8
	if bitWidth == 0 || bitWidth > 64 || bitOffset+bitWidth > bufBits {
		return 0, &RangeError{BitOffset: bitOffset, BitWidth: bitWidth, BufBits: bufBits}
	}

	var v uint64
	for i := uint(0); i < bitWidth; i++ {
		pos := bitOffset + i
		v <<= 1
		if buf[pos/8]&(byte(0x80)>>(pos%8)) != 0 {
			v |= 1
		}
	}
	return v, nil
}

// Field layouts, as (offset, width) pairs inside the one-byte fields.
const (
	mhdrMTypeOffset, mhdrMTypeWidth = 0, 3
	mhdrMajorOffset, mhdrMajorWidth = 6, 2

	dlOptNegOffset, dlOptNegWidth         = 0, 1
	dlRX1DROffsetOffset, dlRX1DROffsetWid = 1, 3
	dlRX2DROffset, dlRX2DRWidth           = 4, 4

	rxDelayOffset, rxDelayWidth = 4, 4
)

// MHDR represents the MAC header
type MHDR struct {
	MType MType
	Major Major
}

// MarshalBinary implements encoding.BinaryMarshaler
func (h MHDR) MarshalBinary() ([]byte, error) {
	b := make([]byte, 1)
	if err := SetField(b, mhdrMTypeOffset, mhdrMTypeWidth, uint64(h.MType)); err != nil {
		return nil, fmt.Errorf("mtype: %w", err)
	}
	if err := SetField(b, mhdrMajorOffset, mhdrMajorWidth, uint64(h.Major)); err != nil {
		return nil, fmt.Errorf("major: %w", err)
	}
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (h *MHDR) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return fmt.Errorf("MHDR: expected 1 byte, got %d", len(data))
	}
	mtype, _ := GetField(data, mhdrMTypeOffset, mhdrMTypeWidth)
	major, _ := GetField(data, mhdrMajorOffset, mhdrMajorWidth)
	h.MType = MType(mtype)
	h.Major = Major(major)
	return nil
}

// DLSettings represents downlink settings
type DLSettings struct {
	OptNeg      bool
	RX1DROffset uint8
	RX2DataRate uint8
}

// MarshalBinary implements encoding.BinaryMarshaler
func (d DLSettings) MarshalBinary() ([]byte, error) {
	b := make([]byte, 1)
	var optNeg uint64
	if d.OptNeg {
		optNeg = 1
	}
	if err := SetField(b, dlOptNegOffset, dlOptNegWidth, optNeg); err != nil {
		return nil, err
	}
	if err := SetField(b, dlRX1DROffsetOffset, dlRX1DROffsetWid, uint64(d.RX1DROffset)); err != nil {
		return nil, fmt.Errorf("rx1 dr offset: %w", err)
	}
	if err := SetField(b, dlRX2DROffset, dlRX2DRWidth, uint64(d.RX2DataRate)); err != nil {
		return nil, fmt.Errorf("rx2 data rate: %w", err)
	}
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (d *DLSettings) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return fmt.Errorf("DLSettings: expected 1 byte, got %d", len(data))
	}
	optNeg, _ := GetField(data, dlOptNegOffset, dlOptNegWidth)
	rx1, _ := GetField(data, dlRX1DROffsetOffset, dlRX1DROffsetWid)
	rx2, _ := GetField(data, dlRX2DROffset, dlRX2DRWidth)
	d.OptNeg = optNeg == 1
	d.RX1DROffset = uint8(rx1)
	d.RX2DataRate = uint8(rx2)
	return nil
}

// RxDelay is the delay in seconds of the first receive window. 0 means 1 second.
type RxDelay uint8

// MarshalBinary implements encoding.BinaryMarshaler
func (r RxDelay) MarshalBinary() ([]byte, error) {
	b := make([]byte, 1)
	if err := SetField(b, rxDelayOffset, rxDelayWidth, uint64(r)); err != nil {
		return nil, fmt.Errorf("rx delay: %w", err)
	}
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (r *RxDelay) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return fmt.Errorf("RxDelay: expected 1 byte, got %d", len(data))
	}
	v, _ := GetField(data, rxDelayOffset, rxDelayWidth)
	*r = RxDelay(v)
	return nil
}
