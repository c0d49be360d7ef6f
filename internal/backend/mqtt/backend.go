// Package mqtt implements the gateway backend over an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-join-server/internal/backend"
	"github.com/lorawan-server/lorawan-join-server/internal/config"
	"github.com/lorawan-server/lorawan-join-server/internal/models"
)

const connectRetry = 2 * time.Second

// Backend implements backend.Backend using MQTT.
type Backend struct {
	wg   sync.WaitGroup
	once sync.Once

	// mu orders rxHandler's wg.Add against Close closing the channel.
	mu      sync.RWMutex
	closing chan struct{}

	conn   paho.Client
	config config.MQTTConfig

	uplinkFrameChan chan backend.UplinkFrame
}

// NewBackend connects to the broker and subscribes to the uplink topic on
// every (re)connect. It blocks until the first connection succeeds or ctx is
// done.
func NewBackend(ctx context.Context, conf config.MQTTConfig) (*Backend, error) {
	b := newBackend(conf)

	opts := paho.NewClientOptions()
	opts.AddBroker(conf.Server)
	opts.SetUsername(conf.Username)
	opts.SetPassword(conf.Password)
	opts.SetCleanSession(conf.CleanSession)
	opts.SetClientID(conf.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(b.onConnected)
	opts.SetConnectionLostHandler(b.onConnectionLost)

	log.Info().Str("server", conf.Server).Msg("Connecting to MQTT broker")
	b.conn = paho.NewClient(opts)
	for {
		token := b.conn.Connect()
		if token.Wait() && token.Error() == nil {
			break
		}
		log.Error().Err(token.Error()).Msg("Connecting to MQTT broker failed, will retry in 2s")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectRetry):
		}
	}

	return b, nil
}

func newBackend(conf config.MQTTConfig) *Backend {
	return &Backend{
		config:          conf,
		closing:         make(chan struct{}),
		uplinkFrameChan: make(chan backend.UplinkFrame),
	}
}

// UplinkFrameChan returns the uplink-frame channel.
func (b *Backend) UplinkFrameChan() <-chan backend.UplinkFrame {
	return b.uplinkFrameChan
}

// Close unsubscribes and waits for in-flight uplinks. Downlinks can still be
// sent until Disconnect.
func (b *Backend) Close() error {
	var err error
	b.once.Do(func() {
		b.mu.Lock()
		close(b.closing)
		b.mu.Unlock()

		log.Info().Str("topic", b.config.UplinkTopic).Msg("Unsubscribing from uplink topic")
		if token := b.conn.Unsubscribe(b.config.UplinkTopic); token.Wait() && token.Error() != nil {
			err = fmt.Errorf("unsubscribe %s: %w", b.config.UplinkTopic, token.Error())
		}
		b.wg.Wait()
		close(b.uplinkFrameChan)
	})
	return err
}

// Disconnect closes the broker connection.
func (b *Backend) Disconnect() {
	b.conn.Disconnect(250)
}

// SendJoinAccept publishes the join-accept on the gateway command topic.
func (b *Backend) SendJoinAccept(ctx context.Context, f backend.JoinAcceptFrame) error {
	data, err := backend.EncodeJoinAccept(f)
	if err != nil {
		return fmt.Errorf("encode join-accept: %w", err)
	}

	topic := fmt.Sprintf(b.config.DownlinkTopic, f.GatewayID)
	if err := b.publish(ctx, topic, data); err != nil {
		return err
	}
	mqttCommandCounter("down").Inc()

	log.Debug().
		Str("topic", topic).
		Str("devAddr", f.DevAddr.String()).
		Msg("Join-accept published")
	return nil
}

// PublishJoinEvent publishes the join event on the device topic.
func (b *Backend) PublishJoinEvent(ctx context.Context, event models.JoinEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal join event: %w", err)
	}

	topic := fmt.Sprintf(b.config.EventTopic, event.DevEUI)
	if err := b.publish(ctx, topic, data); err != nil {
		return err
	}
	mqttCommandCounter("join").Inc()
	return nil
}

func (b *Backend) publish(ctx context.Context, topic string, data []byte) error {
	token := b.conn.Publish(topic, b.config.QOS, false, data)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// acquire registers an in-flight uplink unless Close has started.
func (b *Backend) acquire() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	select {
	case <-b.closing:
		return false
	default:
	}
	b.wg.Add(1)
	return true
}

func (b *Backend) rxHandler(c paho.Client, msg paho.Message) {
	if !b.acquire() {
		return
	}
	defer b.wg.Done()

	f, err := backend.DecodeUplinkFrame(msg.Payload())
	if err != nil {
		mqttEventCounter("invalid").Inc()
		log.Error().Err(err).Str("topic", msg.Topic()).Msg("Failed to decode uplink")
		return
	}
	if f.GatewayID == "" {
		f.GatewayID = gatewayIDFromTopic(msg.Topic())
	}

	mqttEventCounter("up").Inc()
	select {
	case b.uplinkFrameChan <- f:
	case <-b.closing:
		log.Warn().Str("gatewayID", f.GatewayID).Msg("Backend closing, uplink dropped")
	}
}

func (b *Backend) onConnected(c paho.Client) {
	mqttConnectCounter.Inc()
	log.Info().Msg("Connected to MQTT broker")

	for {
		log.Info().
			Str("topic", b.config.UplinkTopic).
			Uint8("qos", b.config.QOS).
			Msg("Subscribing to uplink topic")
		if token := c.Subscribe(b.config.UplinkTopic, b.config.QOS, b.rxHandler); token.Wait() && token.Error() != nil {
			log.Error().Err(token.Error()).Str("topic", b.config.UplinkTopic).Msg("Subscribe error")
			time.Sleep(time.Second)
			continue
		}
		return
	}
}

func (b *Backend) onConnectionLost(c paho.Client, err error) {
	mqttDisconnectCounter.Inc()
	log.Error().Err(err).Msg("MQTT connection error")
}

// gatewayIDFromTopic returns the second level of gateway/<id>/event/up.
func gatewayIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
