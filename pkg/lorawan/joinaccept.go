package lorawan

import (
	"crypto/aes"
	"fmt"
)

// JoinAcceptOptions carries what is needed to build one join-accept.
type JoinAcceptOptions struct {
	Version ProtocolVersion
	ReqType JoinReqType
	Payload JoinAcceptPayload

	// JoinEUI and DevNonce feed the LoRaWAN 1.1 MIC. For rejoins DevNonce holds
	// RJcount0 or RJcount1.
	JoinEUI  EUI64
	DevNonce DevNonce

	AppKey   AES128Key
	NwkKey   AES128Key
	JSIntKey AES128Key
	JSEncKey AES128Key
}

// EncryptionKey returns the key the join-accept is encrypted with.
func (o JoinAcceptOptions) EncryptionKey() AES128Key {
	if o.Version == Version10 {
		return o.AppKey
	}
	if o.ReqType == JoinReqTypeJoin {
		return o.NwkKey
	}
	return o.JSEncKey
}

func (o JoinAcceptOptions) mic(mhdr MHDR) (MIC, error) {
	switch {
	case o.Version == Version10:
		return ComputeJoinAcceptMIC(o.AppKey, mhdr, o.Payload)
	case o.Payload.DLSettings.OptNeg:
		return ComputeJoinAcceptMIC11(o.JSIntKey, o.ReqType, o.JoinEUI, o.DevNonce, mhdr, o.Payload)
	default:
		return ComputeJoinAcceptMIC(o.NwkKey, mhdr, o.Payload)
	}
}

// PackageJoinAccept builds the join-accept PHYPayload: MHDR followed by the
// encrypted payload and MIC.
func PackageJoinAccept(o JoinAcceptOptions) ([]byte, error) {
	mhdr := MHDR{MType: JoinAccept, Major: LoRaWANR1}

	mic, err := o.mic(mhdr)
	if err != nil {
		return nil, fmt.Errorf("join-accept mic: %w", err)
	}

	pl, err := o.Payload.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal join-accept: %w", err)
	}
	plain := append(pl, mic[:]...)

	cipherText, err := encryptJoinAccept(o.EncryptionKey(), plain)
	if err != nil {
		return nil, err
	}

	mhdrB, err := mhdr.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return append(mhdrB, cipherText...), nil
}

// encryptJoinAccept applies the AES *decrypt* transform in ECB mode, without
// padding. The device recovers the payload with the AES encrypt transform, so
// the server side must run the inverse cipher here. Using block.Encrypt would
// produce frames no device can read.
func encryptJoinAccept(key AES128Key, plain []byte) ([]byte, error) {
	if len(plain)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("invalid join-accept length for AES ECB: %d", len(plain))
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(plain))
	for i := 0; i < len(plain); i += aes.BlockSize {
		block.Decrypt(out[i:i+aes.BlockSize], plain[i:i+aes.BlockSize])
	}
	return out, nil
}

// DecryptJoinAccept reverses PackageJoinAccept the way a device does. It returns
// the decoded payload and the MIC found in it; the MIC is not verified.
func DecryptJoinAccept(key AES128Key, phy []byte) (JoinAcceptPayload, MIC, error) {
	var ja JoinAcceptPayload
	var mic MIC

	if len(phy) < 1+aes.BlockSize || len(phy) > maxJoinAcceptPHYLen {
		return ja, mic, fmt.Errorf("invalid join-accept PHYPayload length %d", len(phy))
	}
	var mhdr MHDR
	if err := mhdr.UnmarshalBinary(phy[0:1]); err != nil {
		return ja, mic, err
	}
	if mhdr.MType != JoinAccept {
		return ja, mic, fmt.Errorf("expected JoinAccept, got %s", mhdr.MType)
	}

	enc := phy[1:]
	if len(enc)%aes.BlockSize != 0 {
		return ja, mic, fmt.Errorf("invalid join-accept length for AES ECB: %d", len(enc))
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return ja, mic, err
	}
	plain := make([]byte, len(enc))
	for i := 0; i < len(enc); i += aes.BlockSize {
		block.Encrypt(plain[i:i+aes.BlockSize], enc[i:i+aes.BlockSize])
	}

	copy(mic[:], plain[len(plain)-4:])
	if err := ja.UnmarshalBinary(plain[:len(plain)-4]); err != nil {
		return ja, mic, err
	}
	return ja, mic, nil
}
