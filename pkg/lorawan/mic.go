package lorawan

import (
	"crypto/subtle"
	"encoding/binary"
	"fmt"

	"github.com/jacobsa/crypto/cmac"
)

// calculateMIC returns the first four bytes of AES-CMAC(key, data).
func calculateMIC(key AES128Key, data []byte) (MIC, error) {
	var mic MIC
	h, err := cmac.New(key[:])
	if err != nil {
		return mic, fmt.Errorf("new cmac: %w", err)
	}
	if _, err := h.Write(data); err != nil {
		return mic, fmt.Errorf("cmac write: %w", err)
	}
	copy(mic[:], h.Sum(nil)[0:4])
	return mic, nil
}

// ComputeJoinRequestMIC computes the MIC of a join request:
// cmac(key, MHDR | JoinEUI | DevEUI | DevNonce). The key is AppKey for LoRaWAN
// 1.0 devices and NwkKey for LoRaWAN 1.1 devices.
func ComputeJoinRequestMIC(key AES128Key, mhdr MHDR, jr JoinRequestPayload) (MIC, error) {
	b, err := mhdr.MarshalBinary()
	if err != nil {
		return MIC{}, err
	}
	pl, err := jr.MarshalBinary()
	if err != nil {
		return MIC{}, err
	}
	return calculateMIC(key, append(b, pl...))
}

// ComputeRejoinRequestMIC computes the MIC of a rejoin request. Types 0 and 2
// use SNwkSIntKey, type 1 uses JSIntKey.
func ComputeRejoinRequestMIC(key AES128Key, mhdr MHDR, rr RejoinRequestPayload) (MIC, error) {
	b, err := mhdr.MarshalBinary()
	if err != nil {
		return MIC{}, err
	}
	pl, err := rr.MarshalBinary()
	if err != nil {
		return MIC{}, err
	}
	return calculateMIC(key, append(b, pl...))
}

// ComputeJoinAcceptMIC computes the LoRaWAN 1.0 join-accept MIC:
// cmac(key, MHDR | JoinNonce | NetID | DevAddr | DLSettings | RxDelay [| CFList]).
// It also applies to LoRaWAN 1.1 devices answered with OptNeg unset.
func ComputeJoinAcceptMIC(key AES128Key, mhdr MHDR, ja JoinAcceptPayload) (MIC, error) {
	b, err := mhdr.MarshalBinary()
	if err != nil {
		return MIC{}, err
	}
	pl, err := ja.MarshalBinary()
	if err != nil {
		return MIC{}, err
	}
	return calculateMIC(key, append(b, pl...))
}

// ComputeJoinAcceptMIC11 computes the LoRaWAN 1.1 join-accept MIC:
// cmac(JSIntKey, JoinReqType | JoinEUI | DevNonce | MHDR | JoinNonce | NetID |
// DevAddr | DLSettings | RxDelay [| CFList]). For rejoins devNonce carries
// RJcount0 or RJcount1.
func ComputeJoinAcceptMIC11(jsIntKey AES128Key, joinReqType JoinReqType, joinEUI EUI64, devNonce DevNonce, mhdr MHDR, ja JoinAcceptPayload) (MIC, error) {
	b, err := mhdr.MarshalBinary()
	if err != nil {
		return MIC{}, err
	}
	pl, err := ja.MarshalBinary()
	if err != nil {
		return MIC{}, err
	}

	data := make([]byte, 0, 1+8+2+1+len(pl))
	data = append(data, byte(joinReqType))
	data = append(data, reverse(joinEUI[:])...)
	data = binary.LittleEndian.AppendUint16(data, uint16(devNonce))
	data = append(data, b...)
	data = append(data, pl...)
	return calculateMIC(jsIntKey, data)
}

// VerifyMIC compares two MICs in constant time.
func VerifyMIC(expected, received MIC) bool {
	return subtle.ConstantTimeCompare(expected[:], received[:]) == 1
}
