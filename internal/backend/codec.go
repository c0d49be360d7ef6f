package backend

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidFrame is returned for uplink messages that cannot be decoded.
var ErrInvalidFrame = errors.New("invalid frame")

const txPower = 14

type rxMessage struct {
	GatewayID string                 `json:"gatewayID"`
	RXPK      map[string]interface{} `json:"rxpk"`
	Context   json.RawMessage        `json:"context,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

type txMessage struct {
	GatewayID string                 `json:"gatewayID"`
	DevAddr   string                 `json:"devAddr"`
	TXPK      map[string]interface{} `json:"txpk"`
	Context   json.RawMessage        `json:"context,omitempty"`
	Timing    *txTiming              `json:"timing,omitempty"`
}

type txTiming struct {
	Delay string `json:"delay"`
}

// DecodeUplinkFrame decodes the gateway bridge JSON: the packet forwarder
// rxpk object with base64 data and the frequency in MHz.
func DecodeUplinkFrame(data []byte) (UplinkFrame, error) {
	var msg rxMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return UplinkFrame{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if msg.RXPK == nil {
		return UplinkFrame{}, fmt.Errorf("%w: missing rxpk", ErrInvalidFrame)
	}

	f, err := NewUplinkFrame(msg.GatewayID, msg.RXPK)
	if err != nil {
		return UplinkFrame{}, err
	}
	if len(msg.Context) > 0 && string(msg.Context) != "null" {
		f.Context = msg.Context
	}
	if msg.Timestamp > 0 {
		f.ReceivedAt = time.Unix(msg.Timestamp, 0)
	}
	return f, nil
}

// NewUplinkFrame builds an UplinkFrame from a packet forwarder rxpk object.
func NewUplinkFrame(gatewayID string, rxpk map[string]interface{}) (UplinkFrame, error) {
	dataStr, ok := rxpk["data"].(string)
	if !ok {
		return UplinkFrame{}, fmt.Errorf("%w: missing rxpk data", ErrInvalidFrame)
	}
	phy, err := base64.StdEncoding.DecodeString(dataStr)
	if err != nil {
		return UplinkFrame{}, fmt.Errorf("%w: decode rxpk data: %v", ErrInvalidFrame, err)
	}

	freq, ok := rxpk["freq"].(float64)
	if !ok || freq <= 0 {
		return UplinkFrame{}, fmt.Errorf("%w: missing rxpk freq", ErrInvalidFrame)
	}

	return UplinkFrame{
		PHYPayload: phy,
		Frequency:  uint32(math.Round(freq * 1e6)),
		GatewayID:  gatewayID,
		RxInfo:     rxpk,
		ReceivedAt: time.Now(),
	}, nil
}

// NewTXPK returns the packet forwarder txpk object of a join-accept. It is
// scheduled on the uplink tmst plus the frame delay, or sent immediately when
// the uplink carried no tmst.
func NewTXPK(f JoinAcceptFrame) map[string]interface{} {
	txpk := map[string]interface{}{
		"imme": false,
		"rfch": 0,
		"powe": txPower,
		"ant":  0,
		"brd":  0,
		"freq": float64(f.Frequency) / 1e6,
		"modu": "LORA",
		"datr": stringField(f.RxInfo, "datr", ""),
		"codr": stringField(f.RxInfo, "codr", "4/5"),
		"ipol": true,
		"size": len(f.PHYPayload),
		"data": base64.StdEncoding.EncodeToString(f.PHYPayload),
	}

	if tmst, ok := f.RxInfo["tmst"].(float64); ok {
		// the concentrator counter wraps at 32 bits
		txpk["tmst"] = uint32(uint64(tmst) + uint64(f.Delay.Microseconds()))
	} else {
		txpk["imme"] = true
	}
	return txpk
}

// EncodeJoinAccept encodes the downlink for the gateway bridge. With a gateway
// context the bridge schedules on context and delay, otherwise the txpk
// timing of NewTXPK applies.
func EncodeJoinAccept(f JoinAcceptFrame) ([]byte, error) {
	txpk := NewTXPK(f)
	msg := txMessage{
		GatewayID: f.GatewayID,
		DevAddr:   f.DevAddr.String(),
		TXPK:      txpk,
	}

	if len(f.Context) > 0 {
		delete(txpk, "tmst")
		txpk["imme"] = false
		msg.Context = f.Context
		msg.Timing = &txTiming{Delay: fmt.Sprintf("%dms", f.Delay.Milliseconds())}
	}

	return json.Marshal(msg)
}

func stringField(m map[string]interface{}, key, def string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return def
}
