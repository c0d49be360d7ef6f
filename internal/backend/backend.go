// Package backend defines the transport between gateways and the join server.
package backend

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lorawan-server/lorawan-join-server/internal/models"
	"github.com/lorawan-server/lorawan-join-server/pkg/lorawan"
)

// JoinAcceptDelay1 is the RX1 delay of a join-accept.
const JoinAcceptDelay1 = 5 * time.Second

// UplinkFrame is an uplink received by a gateway.
type UplinkFrame struct {
	PHYPayload []byte
	// Frequency in Hz.
	Frequency  uint32
	GatewayID  string
	Context    json.RawMessage
	RxInfo     map[string]interface{}
	ReceivedAt time.Time
}

// JoinAcceptFrame is the downlink answering an uplink join or rejoin.
type JoinAcceptFrame struct {
	GatewayID  string
	DevAddr    lorawan.DevAddr
	PHYPayload []byte
	Frequency  uint32
	Delay      time.Duration
	Context    json.RawMessage
	RxInfo     map[string]interface{}
}

// NewJoinAcceptFrame builds the RX1 downlink for the given uplink.
func NewJoinAcceptFrame(up UplinkFrame, devAddr lorawan.DevAddr, phy []byte) JoinAcceptFrame {
	return JoinAcceptFrame{
		GatewayID:  up.GatewayID,
		DevAddr:    devAddr,
		PHYPayload: phy,
		Frequency:  up.Frequency,
		Delay:      JoinAcceptDelay1,
		Context:    up.Context,
		RxInfo:     up.RxInfo,
	}
}

// Backend is implemented by the gateway transports.
type Backend interface {
	// UplinkFrameChan returns the channel uplinks are delivered on. It is
	// closed by Close.
	UplinkFrameChan() <-chan UplinkFrame

	// SendJoinAccept sends a join-accept through the gateway that received
	// the request.
	SendJoinAccept(ctx context.Context, frame JoinAcceptFrame) error

	// PublishJoinEvent publishes a completed join.
	PublishJoinEvent(ctx context.Context, event models.JoinEvent) error

	Close() error
}
