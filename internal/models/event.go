package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lorawan-server/lorawan-join-server/pkg/lorawan"
)

// JoinEvent is published after a device completed a join or rejoin
type JoinEvent struct {
	ID              uuid.UUID               `json:"id"`
	DevEUI          lorawan.EUI64           `json:"devEUI"`
	JoinEUI         lorawan.EUI64           `json:"joinEUI"`
	DevAddr         lorawan.DevAddr         `json:"devAddr"`
	Kind            string                  `json:"kind"`
	ProtocolVersion lorawan.ProtocolVersion `json:"protocolVersion"`
	FrequencyPlan   string                  `json:"frequencyPlan"`
	GatewayID       string                  `json:"gatewayID,omitempty"`
	RxInfo          Variables               `json:"rxInfo,omitempty"`
	Timestamp       time.Time               `json:"timestamp"`
}
