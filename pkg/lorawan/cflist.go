package lorawan

import "fmt"

// CFListType values.
const (
	CFListTypeFrequencies byte = 0
)

// CFList is the frequency-list form of the optional join-accept channel list:
// up to five extra channel frequencies in Hz. Unused slots are zero.
type CFList struct {
	Frequencies [5]uint32
}

// NewCFList builds a CFList from at most five frequencies.
func NewCFList(freqs []uint32) (*CFList, error) {
	if len(freqs) == 0 {
		return nil, nil
	}
	if len(freqs) > 5 {
		return nil, fmt.Errorf("cflist holds at most 5 frequencies, got %d", len(freqs))
	}
	var cf CFList
	copy(cf.Frequencies[:], freqs)
	return &cf, nil
}

// MarshalBinary encodes each frequency as 3 bytes little-endian in units of
// 100 Hz, followed by the CFListType in the last byte.
func (c CFList) MarshalBinary() ([]byte, error) {
	out := make([]byte, CFListSize)
	for i, f := range c.Frequencies {
		if f%100 != 0 {
			return nil, fmt.Errorf("frequency %d is not a multiple of 100 Hz", f)
		}
		v := f / 100
		if v >= 1<<24 {
			return nil, fmt.Errorf("frequency %d out of range", f)
		}
		out[i*3] = byte(v)
		out[i*3+1] = byte(v >> 8)
		out[i*3+2] = byte(v >> 16)
	}
	out[15] = CFListTypeFrequencies
	return out, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (c *CFList) UnmarshalBinary(data []byte) error {
	if len(data) != CFListSize {
		return fmt.Errorf("invalid CFList length: expected %d, got %d", CFListSize, len(data))
	}
	if data[15] != CFListTypeFrequencies {
		return fmt.Errorf("unsupported CFListType %d", data[15])
	}
	for i := range c.Frequencies {
		v := uint32(data[i*3]) | uint32(data[i*3+1])<<8 | uint32(data[i*3+2])<<16
		c.Frequencies[i] = v * 100
	}
	return nil
}
