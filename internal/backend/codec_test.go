package backend

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lorawan-join-server/pkg/lorawan"
)

func TestDecodeUplinkFrame(t *testing.T) {
	f, err := DecodeUplinkFrame([]byte(`{
		"gatewayID": "aa555a0000000101",
		"rxpk": {"data": "AAECAw==", "freq": 867.1, "datr": "SF9BW125", "codr": "4/5", "tmst": 3512348611},
		"context": "AQID",
		"timestamp": 1700000000
	}`))
	require.NoError(t, err)

	assert.Equal(t, "aa555a0000000101", f.GatewayID)
	assert.Equal(t, []byte{0, 1, 2, 3}, f.PHYPayload)
	assert.Equal(t, uint32(867100000), f.Frequency)
	assert.Equal(t, json.RawMessage(`"AQID"`), f.Context)
	assert.Equal(t, "SF9BW125", f.RxInfo["datr"])
	assert.Equal(t, time.Unix(1700000000, 0), f.ReceivedAt)
}

func TestDecodeUplinkFrameErrors(t *testing.T) {
	tests := []struct {
		Name string
		Data string
	}{
		{"invalid json", `{`},
		{"missing rxpk", `{"gatewayID":"x"}`},
		{"missing data", `{"rxpk":{"freq":868.1}}`},
		{"invalid base64", `{"rxpk":{"data":"!!","freq":868.1}}`},
		{"missing freq", `{"rxpk":{"data":"AAE="}}`},
	}

	for _, tst := range tests {
		t.Run(tst.Name, func(t *testing.T) {
			_, err := DecodeUplinkFrame([]byte(tst.Data))
			assert.ErrorIs(t, err, ErrInvalidFrame)
		})
	}
}

func decodeTX(t *testing.T, b []byte) txMessage {
	t.Helper()
	var msg txMessage
	require.NoError(t, json.Unmarshal(b, &msg))
	return msg
}

func TestEncodeJoinAccept(t *testing.T) {
	up := UplinkFrame{
		GatewayID: "gw",
		Frequency: 868100000,
		RxInfo:    map[string]interface{}{"datr": "SF7BW125", "tmst": float64(1000)},
	}
	devAddr := lorawan.DevAddr{0x26, 0x01, 0x02, 0x03}
	phy := []byte{0x20, 1, 2, 3}

	t.Run("tmst", func(t *testing.T) {
		b, err := EncodeJoinAccept(NewJoinAcceptFrame(up, devAddr, phy))
		require.NoError(t, err)
		msg := decodeTX(t, b)

		assert.Equal(t, "gw", msg.GatewayID)
		assert.Equal(t, "26010203", msg.DevAddr)
		assert.Nil(t, msg.Timing)
		assert.Equal(t, false, msg.TXPK["imme"])
		assert.Equal(t, float64(5001000), msg.TXPK["tmst"])
		assert.Equal(t, 868.1, msg.TXPK["freq"])
		assert.Equal(t, "SF7BW125", msg.TXPK["datr"])
		assert.Equal(t, "4/5", msg.TXPK["codr"])
		assert.Equal(t, true, msg.TXPK["ipol"])
		assert.Equal(t, float64(4), msg.TXPK["size"])
		assert.Equal(t, "IAECAw==", msg.TXPK["data"])
	})

	t.Run("context", func(t *testing.T) {
		withCtx := up
		withCtx.Context = json.RawMessage(`"Y3R4"`)
		b, err := EncodeJoinAccept(NewJoinAcceptFrame(withCtx, devAddr, phy))
		require.NoError(t, err)
		msg := decodeTX(t, b)

		require.NotNil(t, msg.Timing)
		assert.Equal(t, "5000ms", msg.Timing.Delay)
		assert.Equal(t, json.RawMessage(`"Y3R4"`), msg.Context)
		assert.NotContains(t, msg.TXPK, "tmst")
	})

	t.Run("immediate", func(t *testing.T) {
		b, err := EncodeJoinAccept(NewJoinAcceptFrame(UplinkFrame{GatewayID: "gw", Frequency: 868100000}, devAddr, phy))
		require.NoError(t, err)
		msg := decodeTX(t, b)

		assert.Equal(t, true, msg.TXPK["imme"])
		assert.NotContains(t, msg.TXPK, "tmst")
	})
}

func TestNewTXPKTimestampWrap(t *testing.T) {
	f := JoinAcceptFrame{
		Frequency: 868100000,
		Delay:     JoinAcceptDelay1,
		RxInfo:    map[string]interface{}{"tmst": float64(4294967000)},
	}
	txpk := NewTXPK(f)
	assert.Equal(t, uint32(4294967000+5000000-(1<<32)), txpk["tmst"])
	assert.Equal(t, false, txpk["imme"])
}
