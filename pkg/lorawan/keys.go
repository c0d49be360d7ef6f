package lorawan

import (
	"crypto/aes"
	"encoding/binary"
	"fmt"
)

// Key-type discriminants of the derivation block.
const (
	keyTypeNwkSKey     byte = 0x01 // LoRaWAN 1.0
	keyTypeFNwkSIntKey byte = 0x01 // LoRaWAN 1.1
	keyTypeAppSKey     byte = 0x02
	keyTypeSNwkSIntKey byte = 0x03
	keyTypeNwkSEncKey  byte = 0x04
	keyTypeJSEncKey    byte = 0x05
	keyTypeJSIntKey    byte = 0x06
)

// deriveKey encrypts one zero-padded block holding typ followed by fields with
// AES-128 under root.
func deriveKey(root AES128Key, typ byte, fields ...[]byte) (AES128Key, error) {
	var out AES128Key

	block := make([]byte, aes.BlockSize)
	block[0] = typ
	pos := 1
	for _, f := range fields {
		if pos+len(f) > len(block) {
			return out, fmt.Errorf("key derivation input exceeds one block")
		}
		pos += copy(block[pos:], f)
	}

	c, err := aes.NewCipher(root[:])
	if err != nil {
		return out, err
	}
	c.Encrypt(out[:], block)
	return out, nil
}

func devNonceBytes(n DevNonce) []byte {
	return binary.LittleEndian.AppendUint16(nil, uint16(n))
}

// DeriveSessionKeys10 derives the LoRaWAN 1.0 session keys:
//
//	NwkSKey = aes128_encrypt(AppKey, 0x01 | AppNonce | NetID | DevNonce | pad16)
//	AppSKey = aes128_encrypt(AppKey, 0x02 | AppNonce | NetID | DevNonce | pad16)
func DeriveSessionKeys10(appKey AES128Key, appNonce JoinNonce, netID NetID, devNonce DevNonce) (SessionKeys, error) {
	var keys SessionKeys
	var err error

	nonce := reverse(appNonce[:])
	net := reverse(netID[:])
	dn := devNonceBytes(devNonce)

	if keys.NwkSKey, err = deriveKey(appKey, keyTypeNwkSKey, nonce, net, dn); err != nil {
		return keys, fmt.Errorf("derive NwkSKey: %w", err)
	}
	if keys.AppSKey, err = deriveKey(appKey, keyTypeAppSKey, nonce, net, dn); err != nil {
		return keys, fmt.Errorf("derive AppSKey: %w", err)
	}
	return keys, nil
}

// DeriveSessionKeys11 derives the LoRaWAN 1.1 session keys. The network keys
// use NwkKey, AppSKey uses AppKey, all over
// JoinNonce | JoinEUI | DevNonce. JSIntKey and JSEncKey are included.
func DeriveSessionKeys11(nwkKey, appKey AES128Key, joinNonce JoinNonce, joinEUI, devEUI EUI64, devNonce DevNonce) (SessionKeys, error) {
	var keys SessionKeys
	var err error

	nonce := reverse(joinNonce[:])
	eui := reverse(joinEUI[:])
	dn := devNonceBytes(devNonce)

	if keys.FNwkSIntKey, err = deriveKey(nwkKey, keyTypeFNwkSIntKey, nonce, eui, dn); err != nil {
		return keys, fmt.Errorf("derive FNwkSIntKey: %w", err)
	}
	if keys.SNwkSIntKey, err = deriveKey(nwkKey, keyTypeSNwkSIntKey, nonce, eui, dn); err != nil {
		return keys, fmt.Errorf("derive SNwkSIntKey: %w", err)
	}
	if keys.NwkSEncKey, err = deriveKey(nwkKey, keyTypeNwkSEncKey, nonce, eui, dn); err != nil {
		return keys, fmt.Errorf("derive NwkSEncKey: %w", err)
	}
	if keys.AppSKey, err = deriveKey(appKey, keyTypeAppSKey, nonce, eui, dn); err != nil {
		return keys, fmt.Errorf("derive AppSKey: %w", err)
	}
	if keys.JSIntKey, keys.JSEncKey, err = DeriveJSKeys(nwkKey, devEUI); err != nil {
		return keys, err
	}
	return keys, nil
}

// DeriveJSKeys derives the LoRaWAN 1.1 join-server keys from NwkKey and DevEUI:
//
//	JSEncKey = aes128_encrypt(NwkKey, 0x05 | DevEUI | pad16)
//	JSIntKey = aes128_encrypt(NwkKey, 0x06 | DevEUI | pad16)
func DeriveJSKeys(nwkKey AES128Key, devEUI EUI64) (jsIntKey, jsEncKey AES128Key, err error) {
	eui := reverse(devEUI[:])
	if jsIntKey, err = deriveKey(nwkKey, keyTypeJSIntKey, eui); err != nil {
		return jsIntKey, jsEncKey, fmt.Errorf("derive JSIntKey: %w", err)
	}
	if jsEncKey, err = deriveKey(nwkKey, keyTypeJSEncKey, eui); err != nil {
		return jsIntKey, jsEncKey, fmt.Errorf("derive JSEncKey: %w", err)
	}
	return jsIntKey, jsEncKey, nil
}
