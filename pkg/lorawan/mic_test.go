package lorawan

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func mustKey(t *testing.T, s string) AES128Key {
	t.Helper()
	var k AES128Key
	require.NoError(t, k.UnmarshalText([]byte(s)))
	return k
}

func mustEUI(t *testing.T, s string) EUI64 {
	t.Helper()
	var e EUI64
	require.NoError(t, e.UnmarshalText([]byte(s)))
	return e
}

// RFC 4493 section 4 examples, truncated to the MIC length.
func TestCalculateMICKnownAnswers(t *testing.T) {
	key := mustKey(t, "2b7e151628aed2a6abf7158809cf4f3c")

	tests := []struct {
		Name string
		Msg  string
		MIC  string
	}{
		{"empty", "", "bb1d6929"},
		{"one block", "6bc1bee22e409f96e93d7e117393172a", "070a16b4"},
		{"40 bytes", "6bc1bee22e409f96e93d7e117393172aae2d8a571e03ac9c9eb76fac45af8e5130c81c46a35ce411", "dfa66747"},
		{"64 bytes", "6bc1bee22e409f96e93d7e117393172aae2d8a571e03ac9c9eb76fac45af8e5130c81c46a35ce411e5fbc1191a0a52eff69f2445df4f9b17ad2b417be66c3710", "51f0bebf"},
	}

	for _, tst := range tests {
		t.Run(tst.Name, func(t *testing.T) {
			mic, err := calculateMIC(key, mustHex(t, tst.Msg))
			require.NoError(t, err)
			assert.Equal(t, tst.MIC, mic.String())
		})
	}
}

func testJoinRequest(t *testing.T) JoinRequestPayload {
	return JoinRequestPayload{
		JoinEUI:  mustEUI(t, "0102030405060708"),
		DevEUI:   mustEUI(t, "1112131415161718"),
		DevNonce: 0x0a0b,
	}
}

func TestJoinRequestMIC(t *testing.T) {
	key := mustKey(t, "000102030405060708090a0b0c0d0e0f")
	jr := testJoinRequest(t)
	mhdr := MHDR{MType: JoinRequest}

	mic, err := ComputeJoinRequestMIC(key, mhdr, jr)
	require.NoError(t, err)

	t.Run("field order", func(t *testing.T) {
		raw := mustHex(t, "00"+"0807060504030201"+"1817161514131211"+"0b0a")
		expected, err := calculateMIC(key, raw)
		require.NoError(t, err)
		assert.Equal(t, expected, mic)
	})

	t.Run("round trip", func(t *testing.T) {
		again, err := ComputeJoinRequestMIC(key, mhdr, jr)
		require.NoError(t, err)
		assert.True(t, VerifyMIC(again, mic))
	})

	t.Run("flipped key bit", func(t *testing.T) {
		for i := 0; i < len(key)*8; i++ {
			k := key
			k[i/8] ^= 1 << (i % 8)
			other, err := ComputeJoinRequestMIC(k, mhdr, jr)
			require.NoError(t, err)
			require.False(t, VerifyMIC(other, mic), "key bit %d", i)
		}
	})

	t.Run("flipped field bit", func(t *testing.T) {
		wire, err := jr.MarshalBinary()
		require.NoError(t, err)
		for i := 0; i < len(wire)*8; i++ {
			b := append([]byte(nil), wire...)
			b[i/8] ^= 1 << (i % 8)
			var flipped JoinRequestPayload
			require.NoError(t, flipped.UnmarshalBinary(b))
			other, err := ComputeJoinRequestMIC(key, mhdr, flipped)
			require.NoError(t, err)
			require.False(t, VerifyMIC(other, mic), "payload bit %d", i)
		}
	})
}

func TestRejoinRequestMIC(t *testing.T) {
	key := mustKey(t, "0f0e0d0c0b0a09080706050403020100")
	mhdr := MHDR{MType: RejoinRequest}

	rr0 := RejoinRequestPayload{
		RejoinType: RejoinType0,
		NetID:      NetID{0x01, 0x02, 0x03},
		DevEUI:     mustEUI(t, "1112131415161718"),
		RJCount:    7,
	}
	mic, err := ComputeRejoinRequestMIC(key, mhdr, rr0)
	require.NoError(t, err)
	expected, err := calculateMIC(key, mustHex(t, "c0"+"00"+"030201"+"1817161514131211"+"0700"))
	require.NoError(t, err)
	assert.Equal(t, expected, mic)

	rr1 := RejoinRequestPayload{
		RejoinType: RejoinType1,
		JoinEUI:    mustEUI(t, "0102030405060708"),
		DevEUI:     mustEUI(t, "1112131415161718"),
		RJCount:    0x0102,
	}
	mic, err = ComputeRejoinRequestMIC(key, mhdr, rr1)
	require.NoError(t, err)
	expected, err = calculateMIC(key, mustHex(t, "c0"+"01"+"0807060504030201"+"1817161514131211"+"0201"))
	require.NoError(t, err)
	assert.Equal(t, expected, mic)
}

func TestJoinAcceptMIC(t *testing.T) {
	key := mustKey(t, "000102030405060708090a0b0c0d0e0f")
	mhdr := MHDR{MType: JoinAccept}
	ja := JoinAcceptPayload{
		JoinNonce:  JoinNonce{0x01, 0x02, 0x03},
		NetID:      NetID{0x00, 0x00, 0x13},
		DevAddr:    DevAddr{0x26, 0x01, 0x02, 0x03},
		DLSettings: DLSettings{RX1DROffset: 1, RX2DataRate: 2},
		RxDelay:    1,
	}

	mic, err := ComputeJoinAcceptMIC(key, mhdr, ja)
	require.NoError(t, err)
	expected, err := calculateMIC(key, mustHex(t, "20"+"030201"+"130000"+"03020126"+"12"+"01"))
	require.NoError(t, err)
	assert.Equal(t, expected, mic)

	mic11, err := ComputeJoinAcceptMIC11(key, JoinReqTypeJoin, mustEUI(t, "0102030405060708"), 0x0005, mhdr, ja)
	require.NoError(t, err)
	expected, err = calculateMIC(key, mustHex(t, "ff"+"0807060504030201"+"0500"+"20"+"030201"+"130000"+"03020126"+"12"+"01"))
	require.NoError(t, err)
	assert.Equal(t, expected, mic11)

	cf, err := NewCFList([]uint32{867100000})
	require.NoError(t, err)
	ja.CFList = cf
	withCF, err := ComputeJoinAcceptMIC(key, mhdr, ja)
	require.NoError(t, err)
	assert.NotEqual(t, mic, withCF)
}
