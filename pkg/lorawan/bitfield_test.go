package lorawan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetFieldRoundTrip(t *testing.T) {
	sentinel := []byte{0xa5, 0x5a}

	for width := uint(1); width <= 8; width++ {
		for offset := uint(0); offset+width <= 16; offset++ {
			for v := uint64(0); v < 1<<width; v++ {
				buf := append([]byte(nil), sentinel...)
				require.NoError(t, SetField(buf, offset, width, v))

				got, err := GetField(buf, offset, width)
				require.NoError(t, err)
				require.Equal(t, v, got, "offset=%d width=%d", offset, width)

				for bit := uint(0); bit < 16; bit++ {
					if bit >= offset && bit < offset+width {
						continue
					}
					want, _ := GetField(sentinel, bit, 1)
					have, _ := GetField(buf, bit, 1)
					require.Equal(t, want, have, "bit %d disturbed (offset=%d width=%d value=%d)", bit, offset, width, v)
				}
			}
		}
	}
}

func TestSetFieldRangeError(t *testing.T) {
	buf := make([]byte, 1)

	err := SetField(buf, 4, 4, 16)
	var rangeErr *RangeError
	require.True(t, errors.As(err, &rangeErr))
	assert.Equal(t, uint64(16), rangeErr.Value)
	assert.Equal(t, []byte{0}, buf)

	err = SetField(buf, 6, 4, 1)
	assert.True(t, errors.As(err, &rangeErr))

	_, err = GetField(buf, 0, 9)
	assert.True(t, errors.As(err, &rangeErr))
}

func TestMHDR(t *testing.T) {
	tests := []struct {
		Name     string
		MHDR     MHDR
		Expected byte
	}{
		{"join-request", MHDR{MType: JoinRequest, Major: LoRaWANR1}, 0x00},
		{"join-accept", MHDR{MType: JoinAccept, Major: LoRaWANR1}, 0x20},
		{"rejoin-request", MHDR{MType: RejoinRequest, Major: LoRaWANR1}, 0xc0},
		{"proprietary", MHDR{MType: Proprietary, Major: 3}, 0xe3},
	}

	for _, tst := range tests {
		t.Run(tst.Name, func(t *testing.T) {
			b, err := tst.MHDR.MarshalBinary()
			require.NoError(t, err)
			assert.Equal(t, []byte{tst.Expected}, b)

			var h MHDR
			require.NoError(t, h.UnmarshalBinary(b))
			assert.Equal(t, tst.MHDR, h)
		})
	}

	_, err := MHDR{MType: 8}.MarshalBinary()
	assert.Error(t, err)
}

func TestDLSettings(t *testing.T) {
	dl := DLSettings{OptNeg: true, RX1DROffset: 4, RX2DataRate: 0}
	b, err := dl.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xc0}, b)

	dl = DLSettings{RX1DROffset: 2, RX2DataRate: 9}
	b, err = dl.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x29}, b)

	var out DLSettings
	require.NoError(t, out.UnmarshalBinary(b))
	assert.Equal(t, dl, out)

	_, err = DLSettings{RX1DROffset: 8}.MarshalBinary()
	assert.Error(t, err)
}

func TestRxDelay(t *testing.T) {
	b, err := RxDelay(1).MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, b)

	var r RxDelay
	require.NoError(t, r.UnmarshalBinary([]byte{0xf5}))
	assert.Equal(t, RxDelay(5), r)

	_, err = RxDelay(16).MarshalBinary()
	assert.Error(t, err)
}
