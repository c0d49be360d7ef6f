package join

import (
	"fmt"

	"github.com/lorawan-server/lorawan-join-server/pkg/lorawan"
)

// Kind is the type of a join transaction.
type Kind int

const (
	KindJoin Kind = iota
	KindRejoin0
	KindRejoin1
	KindRejoin2
)

func (k Kind) String() string {
	switch k {
	case KindJoin:
		return "join"
	case KindRejoin0:
		return "rejoin0"
	case KindRejoin1:
		return "rejoin1"
	case KindRejoin2:
		return "rejoin2"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// IsRejoin reports whether k is one of the rejoin kinds.
func (k Kind) IsRejoin() bool {
	return k != KindJoin
}

// JoinReqType returns the value used in the LoRaWAN 1.1 join-accept MIC.
func (k Kind) JoinReqType() lorawan.JoinReqType {
	switch k {
	case KindRejoin0:
		return lorawan.JoinReqTypeRejoin0
	case KindRejoin1:
		return lorawan.JoinReqTypeRejoin1
	case KindRejoin2:
		return lorawan.JoinReqTypeRejoin2
	default:
		return lorawan.JoinReqTypeJoin
	}
}

// Classify decides the kind of the request carried by phy.
func Classify(phy lorawan.PHYPayload) (Kind, error) {
	switch phy.MHDR.MType {
	case lorawan.JoinRequest:
		return KindJoin, nil
	case lorawan.RejoinRequest:
		if len(phy.MACPayload) == 0 {
			return 0, fmt.Errorf("%w: empty rejoin request", ErrInvalidMessage)
		}
		switch lorawan.RejoinType(phy.MACPayload[0]) {
		case lorawan.RejoinType0:
			return KindRejoin0, nil
		case lorawan.RejoinType1:
			return KindRejoin1, nil
		case lorawan.RejoinType2:
			return KindRejoin2, nil
		default:
			return 0, fmt.Errorf("%w: unknown rejoin type %d", ErrInvalidMessage, phy.MACPayload[0])
		}
	default:
		return 0, fmt.Errorf("%w: unexpected mtype %s", ErrInvalidMessage, phy.MHDR.MType)
	}
}
