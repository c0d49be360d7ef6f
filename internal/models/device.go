package models

import (
	"time"

	"github.com/lorawan-server/lorawan-join-server/pkg/lorawan"
)

// Device is the join server view of an end-device: its identity, root keys,
// replay counters and the outcome of the last join.
type Device struct {
	Timestamps

	DevEUI          lorawan.EUI64           `json:"devEUI" db:"dev_eui"`
	JoinEUI         lorawan.EUI64           `json:"joinEUI" db:"join_eui"`
	ProtocolVersion lorawan.ProtocolVersion `json:"protocolVersion" db:"protocol_version"`
	Name            string                  `json:"name" db:"name"`

	// Root keys. A device without an AppKey is not registered for OTAA.
	AppKey *lorawan.AES128Key `json:"-" db:"app_key"`
	NwkKey *lorawan.AES128Key `json:"-" db:"nwk_key"`

	DevAddr   *lorawan.DevAddr  `json:"devAddr,omitempty" db:"dev_addr"`
	DevNonce  *lorawan.DevNonce `json:"devNonce,omitempty" db:"dev_nonce"`
	RJCount0  uint16            `json:"rjCount0" db:"rj_count0"`
	RJCount1  uint16            `json:"rjCount1" db:"rj_count1"`
	JoinNonce uint32            `json:"joinNonce" db:"join_nonce"`

	SessionKeys lorawan.SessionKeys `json:"-"`
	JoinedAt    *time.Time          `json:"joinedAt,omitempty" db:"joined_at"`
}

// Registered reports whether the device can take part in a join.
func (d *Device) Registered() bool {
	if d.AppKey == nil {
		return false
	}
	if d.ProtocolVersion == lorawan.Version11 && d.NwkKey == nil {
		return false
	}
	return true
}

// LastJoinNonce returns the last issued JoinNonce, or nil before the first
// join.
func (d *Device) LastJoinNonce() *lorawan.JoinNonce {
	if d.JoinedAt == nil {
		return nil
	}
	n := lorawan.JoinNonceFromUint32(d.JoinNonce)
	return &n
}

// DeviceKeys represents device root keys (for OTAA)
type DeviceKeys struct {
	AppKey lorawan.AES128Key  `json:"appKey" validate:"required"`
	NwkKey *lorawan.AES128Key `json:"nwkKey,omitempty"`
}

// DeviceConfig is the radio configuration handed to a device by its last
// join, keyed by the assigned DevAddr.
type DeviceConfig struct {
	DevAddr       lorawan.DevAddr `json:"devAddr" db:"dev_addr"`
	DevEUI        lorawan.EUI64   `json:"devEUI" db:"dev_eui"`
	FrequencyPlan string          `json:"frequencyPlan" db:"frequency_plan"`
	RX1DROffset   uint8           `json:"rx1DROffset" db:"rx1_dr_offset"`
	RX2DataRate   uint8           `json:"rx2DataRate" db:"rx2_dr"`
	RX2Frequency  uint32          `json:"rx2Frequency" db:"rx2_frequency"`
	RxDelay       uint8           `json:"rxDelay" db:"rx_delay"`
	Channels      Frequencies     `json:"channels" db:"channels"`
	ExtraChannels Frequencies     `json:"extraChannels,omitempty" db:"extra_channels"`
	UpdatedAt     time.Time       `json:"updatedAt" db:"updated_at"`
}

// NewDeviceConfig merges the plan defaults with the join outcome.
func NewDeviceConfig(devAddr lorawan.DevAddr, devEUI lorawan.EUI64, plan lorawan.FrequencyPlan) *DeviceConfig {
	d := plan.Defaults.Copy()
	return &DeviceConfig{
		DevAddr:       devAddr,
		DevEUI:        devEUI,
		FrequencyPlan: plan.Name,
		RX1DROffset:   d.RX1DROffset,
		RX2DataRate:   d.RX2DataRate,
		RX2Frequency:  d.RX2Frequency,
		RxDelay:       d.RxDelay,
		Channels:      Frequencies(d.Channels),
		ExtraChannels: Frequencies(d.ExtraChannels),
	}
}
