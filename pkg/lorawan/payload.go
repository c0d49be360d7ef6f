package lorawan

import (
	"encoding/binary"
	"fmt"
)

// Payload sizes, in bytes.
const (
	JoinRequestSize     = 18
	RejoinType02Size    = 14
	RejoinType1Size     = 19
	JoinAcceptSize      = 12
	CFListSize          = 16
	phyOverhead         = 1 + 4
	maxJoinAcceptPHYLen = 1 + JoinAcceptSize + CFListSize + 4
)

// RejoinType is the first byte of a rejoin-request MAC payload.
type RejoinType uint8

const (
	RejoinType0 RejoinType = 0
	RejoinType1 RejoinType = 1
	RejoinType2 RejoinType = 2
)

// JoinReqType is the value mixed into the LoRaWAN 1.1 join-accept MIC.
type JoinReqType uint8

const (
	JoinReqTypeJoin    JoinReqType = 0xff
	JoinReqTypeRejoin0 JoinReqType = 0x00
	JoinReqTypeRejoin1 JoinReqType = 0x01
	JoinReqTypeRejoin2 JoinReqType = 0x02
)

// PHYPayload represents the physical payload
type PHYPayload struct {
	MHDR       MHDR
	MACPayload []byte
	MIC        MIC
}

// UnmarshalBinary splits a raw uplink into MHDR, MAC payload and MIC.
func (p *PHYPayload) UnmarshalBinary(data []byte) error {
	if len(data) < phyOverhead+1 {
		return fmt.Errorf("PHYPayload too short: %d bytes", len(data))
	}

	if err := p.MHDR.UnmarshalBinary(data[0:1]); err != nil {
		return err
	}
	p.MACPayload = append([]byte(nil), data[1:len(data)-4]...)
	copy(p.MIC[:], data[len(data)-4:])
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler
func (p PHYPayload) MarshalBinary() ([]byte, error) {
	mhdr, err := p.MHDR.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(p.MACPayload)+phyOverhead)
	out = append(out, mhdr...)
	out = append(out, p.MACPayload...)
	out = append(out, p.MIC[:]...)
	return out, nil
}

// JoinRequestPayload represents join request
type JoinRequestPayload struct {
	JoinEUI  EUI64
	DevEUI   EUI64
	DevNonce DevNonce
}

// MarshalBinary encodes the payload in wire order (every field little-endian).
func (j JoinRequestPayload) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, JoinRequestSize)
	out = append(out, reverse(j.JoinEUI[:])...)
	out = append(out, reverse(j.DevEUI[:])...)
	out = binary.LittleEndian.AppendUint16(out, uint16(j.DevNonce))
	return out, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (j *JoinRequestPayload) UnmarshalBinary(data []byte) error {
	if len(data) != JoinRequestSize {
		return fmt.Errorf("invalid JoinRequest length: expected %d, got %d", JoinRequestSize, len(data))
	}

	copy(j.JoinEUI[:], reverse(data[0:8]))
	copy(j.DevEUI[:], reverse(data[8:16]))
	j.DevNonce = DevNonce(binary.LittleEndian.Uint16(data[16:18]))
	return nil
}

// RejoinRequestPayload represents a rejoin request. NetID is set for types 0
// and 2, JoinEUI for type 1. RJCount holds RJcount0 or RJcount1.
type RejoinRequestPayload struct {
	RejoinType RejoinType
	NetID      NetID
	JoinEUI    EUI64
	DevEUI     EUI64
	RJCount    uint16
}

// MarshalBinary implements encoding.BinaryMarshaler
func (r RejoinRequestPayload) MarshalBinary() ([]byte, error) {
	switch r.RejoinType {
	case RejoinType0, RejoinType2:
		out := make([]byte, 0, RejoinType02Size)
		out = append(out, byte(r.RejoinType))
		out = append(out, reverse(r.NetID[:])...)
		out = append(out, reverse(r.DevEUI[:])...)
		return binary.LittleEndian.AppendUint16(out, r.RJCount), nil
	case RejoinType1:
		out := make([]byte, 0, RejoinType1Size)
		out = append(out, byte(r.RejoinType))
		out = append(out, reverse(r.JoinEUI[:])...)
		out = append(out, reverse(r.DevEUI[:])...)
		return binary.LittleEndian.AppendUint16(out, r.RJCount), nil
	}
	return nil, fmt.Errorf("invalid rejoin type %d", r.RejoinType)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (r *RejoinRequestPayload) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty RejoinRequest payload")
	}

	r.RejoinType = RejoinType(data[0])
	switch r.RejoinType {
	case RejoinType0, RejoinType2:
		if len(data) != RejoinType02Size {
			return fmt.Errorf("invalid RejoinRequest type %d length: expected %d, got %d", r.RejoinType, RejoinType02Size, len(data))
		}
		copy(r.NetID[:], reverse(data[1:4]))
		copy(r.DevEUI[:], reverse(data[4:12]))
		r.RJCount = binary.LittleEndian.Uint16(data[12:14])
	case RejoinType1:
		if len(data) != RejoinType1Size {
			return fmt.Errorf("invalid RejoinRequest type 1 length: expected %d, got %d", RejoinType1Size, len(data))
		}
		copy(r.JoinEUI[:], reverse(data[1:9]))
		copy(r.DevEUI[:], reverse(data[9:17]))
		r.RJCount = binary.LittleEndian.Uint16(data[17:19])
	default:
		return fmt.Errorf("invalid rejoin type %d", r.RejoinType)
	}
	return nil
}

// JoinAcceptPayload represents join accept
type JoinAcceptPayload struct {
	JoinNonce  JoinNonce
	NetID      NetID
	DevAddr    DevAddr
	DLSettings DLSettings
	RxDelay    RxDelay
	CFList     *CFList
}

// MarshalBinary encodes the plaintext join-accept payload in wire order.
func (j JoinAcceptPayload) MarshalBinary() ([]byte, error) {
	dl, err := j.DLSettings.MarshalBinary()
	if err != nil {
		return nil, err
	}
	rx, err := j.RxDelay.MarshalBinary()
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, JoinAcceptSize+CFListSize)
	out = append(out, reverse(j.JoinNonce[:])...)
	out = append(out, reverse(j.NetID[:])...)
	out = append(out, reverse(j.DevAddr[:])...)
	out = append(out, dl...)
	out = append(out, rx...)

	if j.CFList != nil {
		cf, err := j.CFList.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("cflist: %w", err)
		}
		out = append(out, cf...)
	}
	return out, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (j *JoinAcceptPayload) UnmarshalBinary(data []byte) error {
	if len(data) != JoinAcceptSize && len(data) != JoinAcceptSize+CFListSize {
		return fmt.Errorf("invalid JoinAccept length: expected %d or %d, got %d", JoinAcceptSize, JoinAcceptSize+CFListSize, len(data))
	}

	copy(j.JoinNonce[:], reverse(data[0:3]))
	copy(j.NetID[:], reverse(data[3:6]))
	copy(j.DevAddr[:], reverse(data[6:10]))
	if err := j.DLSettings.UnmarshalBinary(data[10:11]); err != nil {
		return err
	}
	if err := j.RxDelay.UnmarshalBinary(data[11:12]); err != nil {
		return err
	}

	j.CFList = nil
	if len(data) > JoinAcceptSize {
		var cf CFList
		if err := cf.UnmarshalBinary(data[JoinAcceptSize:]); err != nil {
			return fmt.Errorf("cflist: %w", err)
		}
		j.CFList = &cf
	}
	return nil
}
