package semtechudp

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/lorawan-server/lorawan-join-server/internal/backend"
	"github.com/lorawan-server/lorawan-join-server/internal/config"
	"github.com/lorawan-server/lorawan-join-server/pkg/lorawan"
)

type BackendTestSuite struct {
	suite.Suite

	backend *Backend
	gwConn  *net.UDPConn
	gwID    lorawan.EUI64
}

func TestBackend(t *testing.T) {
	suite.Run(t, new(BackendTestSuite))
}

func (ts *BackendTestSuite) SetupTest() {
	b, err := NewBackend(config.UDPConfig{Bind: "127.0.0.1:0", GatewayTimeout: time.Minute})
	ts.Require().NoError(err)
	ts.backend = b

	conn, err := net.DialUDP("udp", nil, b.conn.LocalAddr().(*net.UDPAddr))
	ts.Require().NoError(err)
	ts.gwConn = conn
	ts.gwID = lorawan.EUI64{0xaa, 0x55, 0x5a, 0, 0, 0, 1, 1}
}

func (ts *BackendTestSuite) TearDownTest() {
	ts.backend.Close()
	ts.backend.Disconnect()
	ts.gwConn.Close()
}

func (ts *BackendTestSuite) send(token uint16, t PacketType, payload []byte) {
	b := append(ackPacket(token, t), ts.gwID[:]...)
	_, err := ts.gwConn.Write(append(b, payload...))
	ts.Require().NoError(err)
}

func (ts *BackendTestSuite) read() []byte {
	buf := make([]byte, 65507)
	ts.Require().NoError(ts.gwConn.SetReadDeadline(time.Now().Add(time.Second)))
	n, err := ts.gwConn.Read(buf)
	ts.Require().NoError(err)
	return buf[:n]
}

func (ts *BackendTestSuite) TestUplinkAndJoinAccept() {
	ts.send(0x0102, PullData, nil)
	ts.Equal([]byte{protocolVersion, 0x01, 0x02, byte(PullAck)}, ts.read())

	ts.send(0x0304, PushData, []byte(`{"rxpk":[{"tmst":1000,"freq":868.1,"datr":"SF7BW125","codr":"4/5","data":"AAECAw=="}]}`))
	ts.Equal([]byte{protocolVersion, 0x03, 0x04, byte(PushAck)}, ts.read())

	var up backend.UplinkFrame
	select {
	case up = <-ts.backend.UplinkFrameChan():
	case <-time.After(time.Second):
		ts.FailNow("no uplink received")
	}
	ts.Equal(ts.gwID.String(), up.GatewayID)
	ts.Equal(uint32(868100000), up.Frequency)
	ts.Equal([]byte{0, 1, 2, 3}, up.PHYPayload)

	ja := backend.NewJoinAcceptFrame(up, lorawan.DevAddr{0x26, 1, 2, 3}, []byte{0x20, 9, 9})
	ts.Require().NoError(ts.backend.SendJoinAccept(context.Background(), ja))

	resp := ts.read()
	ts.Equal([]byte{protocolVersion, 0x01, 0x02, byte(PullResp)}, resp[:4])

	var msg struct {
		TXPK map[string]interface{} `json:"txpk"`
	}
	ts.Require().NoError(json.Unmarshal(resp[4:], &msg))
	ts.Equal(float64(5001000), msg.TXPK["tmst"])
	ts.Equal("SF7BW125", msg.TXPK["datr"])
	ts.Equal("IAkJ", msg.TXPK["data"])
}

func (ts *BackendTestSuite) TestJoinAcceptUnknownGateway() {
	err := ts.backend.SendJoinAccept(context.Background(), backend.JoinAcceptFrame{GatewayID: ts.gwID.String()})
	ts.ErrorIs(err, ErrGatewayNotConnected)

	err = ts.backend.SendJoinAccept(context.Background(), backend.JoinAcceptFrame{GatewayID: "nope"})
	ts.Error(err)
}

func (ts *BackendTestSuite) TestRemoveStaleGateways() {
	ts.send(1, PullData, nil)
	ts.read()

	ts.backend.removeStaleGateways(time.Now())
	ts.Equal(1, ts.gatewayCount())

	ts.backend.removeStaleGateways(time.Now().Add(2 * time.Minute))
	ts.Equal(0, ts.gatewayCount())
}

func (ts *BackendTestSuite) gatewayCount() int {
	ts.backend.mu.RLock()
	defer ts.backend.mu.RUnlock()
	return len(ts.backend.gateways)
}

func (ts *BackendTestSuite) TestCloseClosesChannel() {
	ts.Require().NoError(ts.backend.Close())
	_, ok := <-ts.backend.UplinkFrameChan()
	ts.False(ok)
}

func TestParseHeader(t *testing.T) {
	_, err := parseHeader([]byte{2, 0})
	require.ErrorIs(t, err, errInvalidPacket)

	_, err = parseHeader([]byte{1, 0, 0, 0})
	require.ErrorIs(t, err, errInvalidPacket)

	_, err = parseHeader([]byte{2, 0, 0, byte(PushData), 1, 2})
	require.ErrorIs(t, err, errInvalidPacket)

	h, err := parseHeader([]byte{2, 0xab, 0xcd, byte(TxAck), 1, 2, 3, 4, 5, 6, 7, 8})
	require.NoError(t, err)
	require.Equal(t, uint16(0xabcd), h.Token)
	require.Equal(t, TxAck, h.Type)
	require.Equal(t, lorawan.EUI64{1, 2, 3, 4, 5, 6, 7, 8}, h.GatewayID)
}
