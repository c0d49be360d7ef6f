package lorawan

import "crypto/sha256"

// GenerateDevAddr derives a device address from the device identity: the
// network identifier byte followed by the first three bytes of
// SHA-256(JoinEUI | DevEUI). The same inputs always give the same address.
func GenerateDevAddr(joinEUI, devEUI EUI64, nwkID byte) DevAddr {
	h := sha256.New()
	h.Write(joinEUI[:])
	h.Write(devEUI[:])
	sum := h.Sum(nil)

	return DevAddr{nwkID, sum[0], sum[1], sum[2]}
}
