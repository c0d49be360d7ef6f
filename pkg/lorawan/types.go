package lorawan

import (
	"database/sql/driver"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// EUI64 represents an 8-byte Extended Unique Identifier, stored MSB first.
type EUI64 [8]byte

// String returns hex string representation
func (e EUI64) String() string {
	return hex.EncodeToString(e[:])
}

// MarshalText implements encoding.TextMarshaler
func (e EUI64) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (e *EUI64) UnmarshalText(text []byte) error {
	return decodeHexInto(e[:], string(text), "EUI64")
}

// Scan implements sql.Scanner for bytea columns.
func (e *EUI64) Scan(src interface{}) error {
	return scanBytes(e[:], src, "EUI64")
}

// Value implements driver.Valuer.
func (e EUI64) Value() (driver.Value, error) {
	return e[:], nil
}

// DevAddr represents a 4-byte device address, stored MSB first.
type DevAddr [4]byte

// String returns hex string representation
func (d DevAddr) String() string {
	return hex.EncodeToString(d[:])
}

// NwkID returns the leading byte carrying the network identifier.
func (d DevAddr) NwkID() byte {
	return d[0]
}

// MarshalText implements encoding.TextMarshaler
func (d DevAddr) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *DevAddr) UnmarshalText(text []byte) error {
	return decodeHexInto(d[:], string(text), "DevAddr")
}

// Scan implements sql.Scanner for bytea columns.
func (d *DevAddr) Scan(src interface{}) error {
	return scanBytes(d[:], src, "DevAddr")
}

// Value implements driver.Valuer.
func (d DevAddr) Value() (driver.Value, error) {
	return d[:], nil
}

// AES128Key represents a 128-bit AES key
type AES128Key [16]byte

// String returns hex string representation
func (k AES128Key) String() string {
	return hex.EncodeToString(k[:])
}

// MarshalText implements encoding.TextMarshaler
func (k AES128Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *AES128Key) UnmarshalText(text []byte) error {
	return decodeHexInto(k[:], string(text), "AES128Key")
}

// Scan implements sql.Scanner for bytea columns.
func (k *AES128Key) Scan(src interface{}) error {
	return scanBytes(k[:], src, "AES128Key")
}

// Value implements driver.Valuer.
func (k AES128Key) Value() (driver.Value, error) {
	return k[:], nil
}

// NetID is the 3-byte network identifier, stored MSB first.
type NetID [3]byte

// String returns hex string representation
func (n NetID) String() string {
	return hex.EncodeToString(n[:])
}

// MarshalText implements encoding.TextMarshaler
func (n NetID) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (n *NetID) UnmarshalText(text []byte) error {
	return decodeHexInto(n[:], string(text), "NetID")
}

// JoinNonce is the 3-byte server nonce (AppNonce in LoRaWAN 1.0), stored MSB first.
type JoinNonce [3]byte

// JoinNonceFromUint32 returns the low 24 bits of v as a JoinNonce.
func JoinNonceFromUint32(v uint32) JoinNonce {
	return JoinNonce{byte(v >> 16), byte(v >> 8), byte(v)}
}

// Uint32 returns the nonce as an integer.
func (n JoinNonce) Uint32() uint32 {
	return uint32(n[0])<<16 | uint32(n[1])<<8 | uint32(n[2])
}

// String returns hex string representation
func (n JoinNonce) String() string {
	return hex.EncodeToString(n[:])
}

// DevNonce is the 2-byte device nonce. In LoRaWAN 1.1 it is a counter.
type DevNonce uint16

// MarshalBinary encodes the nonce little-endian, as on the wire.
func (n DevNonce) MarshalBinary() ([]byte, error) {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(n))
	return b, nil
}

// MIC is a 4-byte message integrity code.
type MIC [4]byte

// String returns hex string representation
func (m MIC) String() string {
	return hex.EncodeToString(m[:])
}

// MType represents the message type
type MType byte

const (
	JoinRequest MType = iota
	JoinAccept
	UnconfirmedDataUp
	UnconfirmedDataDown
	ConfirmedDataUp
	ConfirmedDataDown
	RejoinRequest
	Proprietary
)

func (m MType) String() string {
	switch m {
	case JoinRequest:
		return "JoinRequest"
	case JoinAccept:
		return "JoinAccept"
	case UnconfirmedDataUp:
		return "UnconfirmedDataUp"
	case UnconfirmedDataDown:
		return "UnconfirmedDataDown"
	case ConfirmedDataUp:
		return "ConfirmedDataUp"
	case ConfirmedDataDown:
		return "ConfirmedDataDown"
	case RejoinRequest:
		return "RejoinRequest"
	case Proprietary:
		return "Proprietary"
	}
	return fmt.Sprintf("MType(%d)", byte(m))
}

// Major represents the LoRaWAN major version
type Major byte

const (
	LoRaWANR1 Major = 0
)

// ProtocolVersion selects the key hierarchy used for a device.
type ProtocolVersion int

const (
	Version10 ProtocolVersion = iota
	Version11
)

func (v ProtocolVersion) String() string {
	switch v {
	case Version10:
		return "1.0"
	case Version11:
		return "1.1"
	}
	return fmt.Sprintf("ProtocolVersion(%d)", int(v))
}

// ParseProtocolVersion accepts "1.0", "1.0.x", "1.1" and "1.1.x".
func ParseProtocolVersion(s string) (ProtocolVersion, error) {
	switch {
	case s == "1.0" || strings.HasPrefix(s, "1.0."):
		return Version10, nil
	case s == "1.1" || strings.HasPrefix(s, "1.1."):
		return Version11, nil
	}
	return 0, fmt.Errorf("unknown protocol version %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (v ProtocolVersion) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (v *ProtocolVersion) UnmarshalText(text []byte) error {
	pv, err := ParseProtocolVersion(string(text))
	if err != nil {
		return err
	}
	*v = pv
	return nil
}

// Scan implements sql.Scanner for text columns.
func (v *ProtocolVersion) Scan(src interface{}) error {
	switch s := src.(type) {
	case string:
		return v.UnmarshalText([]byte(s))
	case []byte:
		return v.UnmarshalText(s)
	}
	return fmt.Errorf("unsupported protocol version type %T", src)
}

// Value implements driver.Valuer.
func (v ProtocolVersion) Value() (driver.Value, error) {
	return v.String(), nil
}

// SessionKeys holds the keys derived by one join. Keys that do not apply to the
// device protocol version are left zero.
type SessionKeys struct {
	// LoRaWAN 1.0
	NwkSKey AES128Key `json:"-"`

	// LoRaWAN 1.1
	FNwkSIntKey AES128Key `json:"-"`
	SNwkSIntKey AES128Key `json:"-"`
	NwkSEncKey  AES128Key `json:"-"`
	JSEncKey    AES128Key `json:"-"`
	JSIntKey    AES128Key `json:"-"`

	AppSKey AES128Key `json:"-"`
}

// reverse returns a reversed copy of b.
func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}

func decodeHexInto(dst []byte, s, name string) error {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	if len(b) != len(dst) {
		return fmt.Errorf("invalid %s length: expected %d bytes, got %d", name, len(dst), len(b))
	}
	copy(dst, b)
	return nil
}

func scanBytes(dst []byte, src interface{}, name string) error {
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("scan %s: expected []byte, got %T", name, src)
	}
	if len(b) != len(dst) {
		return fmt.Errorf("scan %s: expected %d bytes, got %d", name, len(dst), len(b))
	}
	copy(dst, b)
	return nil
}
