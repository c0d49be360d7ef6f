// Package semtechudp implements the gateway backend speaking the Semtech UDP
// packet forwarder protocol directly to gateways.
package semtechudp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-join-server/internal/backend"
	"github.com/lorawan-server/lorawan-join-server/internal/config"
	"github.com/lorawan-server/lorawan-join-server/internal/models"
	"github.com/lorawan-server/lorawan-join-server/pkg/lorawan"
)

// ErrGatewayNotConnected is returned when a downlink targets a gateway that
// has not sent PULL_DATA.
var ErrGatewayNotConnected = errors.New("gateway not connected")

const cleanupInterval = 30 * time.Second

type gateway struct {
	pullAddr  *net.UDPAddr
	pullToken uint16
	lastSeen  time.Time
}

// Backend implements backend.Backend on a UDP socket.
type Backend struct {
	conn   *net.UDPConn
	config config.UDPConfig

	mu       sync.RWMutex
	gateways map[lorawan.EUI64]*gateway

	wg      sync.WaitGroup
	once    sync.Once
	closing chan struct{}
	done    chan struct{}

	uplinkFrameChan chan backend.UplinkFrame
}

// NewBackend listens on conf.Bind and starts reading packets.
func NewBackend(conf config.UDPConfig) (*Backend, error) {
	addr, err := net.ResolveUDPAddr("udp", conf.Bind)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", conf.Bind, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", conf.Bind, err)
	}

	b := &Backend{
		conn:            conn,
		config:          conf,
		gateways:        make(map[lorawan.EUI64]*gateway),
		closing:         make(chan struct{}),
		done:            make(chan struct{}),
		uplinkFrameChan: make(chan backend.UplinkFrame),
	}

	log.Info().Str("addr", conn.LocalAddr().String()).Msg("Semtech UDP backend listening")

	b.wg.Add(1)
	go b.readPackets()
	go b.cleanupGateways()

	return b, nil
}

// UplinkFrameChan returns the uplink-frame channel.
func (b *Backend) UplinkFrameChan() <-chan backend.UplinkFrame {
	return b.uplinkFrameChan
}

// Close stops reading uplinks. The socket stays open for downlinks until
// Disconnect.
func (b *Backend) Close() error {
	b.once.Do(func() {
		close(b.closing)
		// unblock the reader
		b.conn.SetReadDeadline(time.Now())
		b.wg.Wait()
		close(b.uplinkFrameChan)
	})
	return nil
}

// Disconnect closes the socket.
func (b *Backend) Disconnect() {
	close(b.done)
	if err := b.conn.Close(); err != nil {
		log.Error().Err(err).Msg("Close UDP socket error")
	}
}

// SendJoinAccept sends the join-accept as PULL_RESP to the gateway.
func (b *Backend) SendJoinAccept(ctx context.Context, f backend.JoinAcceptFrame) error {
	var gatewayID lorawan.EUI64
	if err := gatewayID.UnmarshalText([]byte(f.GatewayID)); err != nil {
		return fmt.Errorf("gateway id: %w", err)
	}

	b.mu.RLock()
	gw, ok := b.gateways[gatewayID]
	var addr *net.UDPAddr
	var token uint16
	if ok {
		addr, token = gw.pullAddr, gw.pullToken
	}
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrGatewayNotConnected, f.GatewayID)
	}

	payload, err := json.Marshal(struct {
		TXPK map[string]interface{} `json:"txpk"`
	}{backend.NewTXPK(f)})
	if err != nil {
		return fmt.Errorf("marshal txpk: %w", err)
	}

	if err := b.write(append(ackPacket(token, PullResp), payload...), addr, PullResp); err != nil {
		return err
	}

	log.Debug().
		Str("gatewayID", f.GatewayID).
		Str("devAddr", f.DevAddr.String()).
		Str("addr", addr.String()).
		Msg("Join-accept sent as PULL_RESP")
	return nil
}

// PublishJoinEvent logs the event. The packet forwarder protocol has no
// channel for events.
func (b *Backend) PublishJoinEvent(ctx context.Context, event models.JoinEvent) error {
	log.Info().
		Str("id", event.ID.String()).
		Str("devEUI", event.DevEUI.String()).
		Str("devAddr", event.DevAddr.String()).
		Str("kind", event.Kind).
		Msg("Device joined")
	return nil
}

func (b *Backend) write(data []byte, addr *net.UDPAddr, t PacketType) error {
	if _, err := b.conn.WriteToUDP(data, addr); err != nil {
		return fmt.Errorf("write %s to %s: %w", t, addr, err)
	}
	udpWriteCounter.WithLabelValues(t.String()).Inc()
	return nil
}

func (b *Backend) readPackets() {
	defer b.wg.Done()

	buf := make([]byte, 65507)
	for {
		n, addr, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-b.closing:
				return
			default:
			}
			log.Error().Err(err).Msg("Read UDP packet error")
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			if err := b.handlePacket(data, addr); err != nil {
				log.Error().Err(err).Str("addr", addr.String()).Msg("Handle UDP packet error")
			}
		}()
	}
}

func (b *Backend) handlePacket(data []byte, addr *net.UDPAddr) error {
	h, err := parseHeader(data)
	if err != nil {
		return err
	}
	udpReadCounter.WithLabelValues(h.Type.String()).Inc()

	switch h.Type {
	case PushData:
		return b.handlePushData(h, data[12:], addr)
	case PullData:
		return b.handlePullData(h, addr)
	case TxAck:
		return b.handleTxAck(h, data[12:])
	default:
		return fmt.Errorf("%w: unexpected %s", errInvalidPacket, h.Type)
	}
}

func (b *Backend) handlePushData(h header, payload []byte, addr *net.UDPAddr) error {
	if err := b.write(ackPacket(h.Token, PushAck), addr, PushAck); err != nil {
		return err
	}

	var msg struct {
		RXPK []map[string]interface{} `json:"rxpk"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode PUSH_DATA: %w", err)
	}

	for _, rxpk := range msg.RXPK {
		f, err := backend.NewUplinkFrame(h.GatewayID.String(), rxpk)
		if err != nil {
			log.Warn().Err(err).Str("gatewayID", h.GatewayID.String()).Msg("Skipping rxpk")
			continue
		}

		select {
		case b.uplinkFrameChan <- f:
		case <-b.closing:
			return nil
		}
	}
	return nil
}

func (b *Backend) handlePullData(h header, addr *net.UDPAddr) error {
	b.mu.Lock()
	gw, ok := b.gateways[h.GatewayID]
	if !ok {
		gw = &gateway{}
		b.gateways[h.GatewayID] = gw
		gatewayGauge.Set(float64(len(b.gateways)))
		log.Info().Str("gatewayID", h.GatewayID.String()).Str("addr", addr.String()).Msg("Gateway connected")
	}
	gw.pullAddr = addr
	gw.pullToken = h.Token
	gw.lastSeen = time.Now()
	b.mu.Unlock()

	return b.write(ackPacket(h.Token, PullAck), addr, PullAck)
}

func (b *Backend) handleTxAck(h header, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}

	var msg struct {
		TXPKAck struct {
			Error string `json:"error"`
		} `json:"txpk_ack"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode TX_ACK: %w", err)
	}
	if msg.TXPKAck.Error != "" && msg.TXPKAck.Error != "NONE" {
		log.Warn().
			Str("gatewayID", h.GatewayID.String()).
			Str("error", msg.TXPKAck.Error).
			Msg("Gateway rejected join-accept")
	}
	return nil
}

func (b *Backend) cleanupGateways() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.removeStaleGateways(time.Now())
		}
	}
}

func (b *Backend) removeStaleGateways(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, gw := range b.gateways {
		if now.Sub(gw.lastSeen) > b.config.GatewayTimeout {
			delete(b.gateways, id)
			log.Info().Str("gatewayID", id.String()).Msg("Gateway timed out")
		}
	}
	gatewayGauge.Set(float64(len(b.gateways)))
}
