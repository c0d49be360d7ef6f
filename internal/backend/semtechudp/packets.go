package semtechudp

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/lorawan-server/lorawan-join-server/pkg/lorawan"
)

// protocolVersion is the packet forwarder protocol version.
const protocolVersion = 2

// PacketType is the identifier byte of a packet forwarder packet.
type PacketType byte

const (
	PushData PacketType = 0x00
	PushAck  PacketType = 0x01
	PullData PacketType = 0x02
	PullResp PacketType = 0x03
	PullAck  PacketType = 0x04
	TxAck    PacketType = 0x05
)

func (t PacketType) String() string {
	switch t {
	case PushData:
		return "PUSH_DATA"
	case PushAck:
		return "PUSH_ACK"
	case PullData:
		return "PULL_DATA"
	case PullResp:
		return "PULL_RESP"
	case PullAck:
		return "PULL_ACK"
	case TxAck:
		return "TX_ACK"
	default:
		return fmt.Sprintf("PacketType(%d)", byte(t))
	}
}

var errInvalidPacket = errors.New("invalid packet")

// header is the common start of all packets. GatewayID is only set for the
// packet types sent by gateways.
type header struct {
	Token     uint16
	Type      PacketType
	GatewayID lorawan.EUI64
}

func parseHeader(data []byte) (header, error) {
	var h header
	if len(data) < 4 {
		return h, fmt.Errorf("%w: %d bytes", errInvalidPacket, len(data))
	}
	if data[0] != protocolVersion {
		return h, fmt.Errorf("%w: protocol version %d", errInvalidPacket, data[0])
	}
	h.Token = binary.BigEndian.Uint16(data[1:3])
	h.Type = PacketType(data[3])

	switch h.Type {
	case PushData, PullData, TxAck:
		if len(data) < 12 {
			return h, fmt.Errorf("%w: %s of %d bytes", errInvalidPacket, h.Type, len(data))
		}
		copy(h.GatewayID[:], data[4:12])
	}
	return h, nil
}

func ackPacket(token uint16, t PacketType) []byte {
	b := []byte{protocolVersion, 0, 0, byte(t)}
	binary.BigEndian.PutUint16(b[1:3], token)
	return b
}
