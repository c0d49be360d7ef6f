package lorawan

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePlan(t *testing.T) {
	plans := []FrequencyPlan{
		{Name: "433", Center: 433000000},
		{Name: "868", Center: 868000000, Defaults: RegionDefaults{Channels: []uint32{868100000}}},
		{Name: "915", Center: 915000000},
	}

	tests := []struct {
		Freq     uint32
		Expected string
	}{
		{900000000, "915"},
		{433175000, "433"},
		{868100000, "868"},
		{100000000, "433"},
		{2400000000, "915"},
		// equidistant from 868 and 915: first listed wins
		{891500000, "868"},
	}

	for _, tst := range tests {
		p, err := ResolvePlan(tst.Freq, plans)
		require.NoError(t, err)
		assert.Equal(t, tst.Expected, p.Name, "freq %d", tst.Freq)
	}

	t.Run("copy", func(t *testing.T) {
		p, err := ResolvePlan(868100000, plans)
		require.NoError(t, err)
		p.Defaults.Channels[0] = 1
		assert.Equal(t, uint32(868100000), plans[1].Defaults.Channels[0])
	})

	t.Run("empty", func(t *testing.T) {
		_, err := ResolvePlan(868100000, nil)
		assert.True(t, errors.Is(err, ErrNoFrequencyPlans))
	})
}

func TestDefaultFrequencyPlans(t *testing.T) {
	plans := DefaultFrequencyPlans()

	p, err := ResolvePlan(433175000, plans)
	require.NoError(t, err)
	assert.Equal(t, "EU433", p.Name)

	p, err = ResolvePlan(471100000, plans)
	require.NoError(t, err)
	assert.Equal(t, "CN470", p.Name)
	assert.Len(t, p.Defaults.Channels, 8)
	assert.Equal(t, uint32(470300000), p.Defaults.Channels[0])

	p, err = ResolvePlan(904100000, plans)
	require.NoError(t, err)
	assert.Equal(t, "US915", p.Name)

	_, err = PlanByName("EU868", plans)
	assert.NoError(t, err)
	_, err = PlanByName("XX", plans)
	assert.Error(t, err)
}

func TestJoinRequestPayload(t *testing.T) {
	wire := mustHex(t, "0807060504030201"+"1817161514131211"+"0b0a")

	var jr JoinRequestPayload
	require.NoError(t, jr.UnmarshalBinary(wire))
	assert.Equal(t, "0102030405060708", jr.JoinEUI.String())
	assert.Equal(t, "1112131415161718", jr.DevEUI.String())
	assert.Equal(t, DevNonce(0x0a0b), jr.DevNonce)

	b, err := jr.MarshalBinary()
	require.NoError(t, err)
	assert.True(t, bytes.Equal(wire, b))

	assert.Error(t, jr.UnmarshalBinary(wire[:17]))
}

func TestRejoinRequestPayload(t *testing.T) {
	var rr RejoinRequestPayload
	require.NoError(t, rr.UnmarshalBinary(mustHex(t, "02"+"030201"+"1817161514131211"+"0500")))
	assert.Equal(t, RejoinType2, rr.RejoinType)
	assert.Equal(t, NetID{0x01, 0x02, 0x03}, rr.NetID)
	assert.Equal(t, uint16(5), rr.RJCount)

	require.NoError(t, rr.UnmarshalBinary(mustHex(t, "01"+"0807060504030201"+"1817161514131211"+"0100")))
	assert.Equal(t, RejoinType1, rr.RejoinType)
	assert.Equal(t, "0102030405060708", rr.JoinEUI.String())

	assert.Error(t, rr.UnmarshalBinary(mustHex(t, "03"+"030201"+"1817161514131211"+"0500")))
	assert.Error(t, rr.UnmarshalBinary(mustHex(t, "00"+"030201")))
	assert.Error(t, rr.UnmarshalBinary(nil))
}

func TestPHYPayload(t *testing.T) {
	raw := mustHex(t, "00"+"0807060504030201"+"1817161514131211"+"0b0a"+"01020304")

	var phy PHYPayload
	require.NoError(t, phy.UnmarshalBinary(raw))
	assert.Equal(t, JoinRequest, phy.MHDR.MType)
	assert.Len(t, phy.MACPayload, JoinRequestSize)
	assert.Equal(t, MIC{1, 2, 3, 4}, phy.MIC)

	b, err := phy.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, raw, b)

	assert.Error(t, phy.UnmarshalBinary(raw[:5]))
}

func TestNonceSources(t *testing.T) {
	n, err := RandomNonceSource{Reader: bytes.NewReader([]byte{1, 2, 3})}.Next(nil)
	require.NoError(t, err)
	assert.Equal(t, JoinNonce{1, 2, 3}, n)

	_, err = RandomNonceSource{Reader: bytes.NewReader([]byte{1})}.Next(nil)
	assert.Error(t, err)

	var c CounterNonceSource
	n, err = c.Next(nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), n.Uint32())

	last := JoinNonceFromUint32(0x0000ff)
	n, err = c.Next(&last)
	require.NoError(t, err)
	assert.Equal(t, JoinNonce{0x00, 0x01, 0x00}, n)

	last = JoinNonceFromUint32(0xffffff)
	_, err = c.Next(&last)
	assert.True(t, errors.Is(err, ErrJoinNonceExhausted))
}

func TestProtocolVersion(t *testing.T) {
	for in, want := range map[string]ProtocolVersion{"1.0": Version10, "1.0.3": Version10, "1.1": Version11, "1.1.0": Version11} {
		v, err := ParseProtocolVersion(in)
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}
	_, err := ParseProtocolVersion("2.0")
	assert.Error(t, err)
	assert.Equal(t, "1.1", Version11.String())
}
