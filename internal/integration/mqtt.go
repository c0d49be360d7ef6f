package integration

import (
	"context"
	"encoding/json"
	"fmt"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-join-server/internal/config"
	"github.com/lorawan-server/lorawan-join-server/internal/models"
)

// MQTTIntegration publishes join events to an application broker.
type MQTTIntegration struct {
	conn         paho.Client
	topicPattern string
	qos          byte
}

// NewMQTTIntegration connects to the broker.
func NewMQTTIntegration(ctx context.Context, conf config.MQTTIntegrationConfig) (*MQTTIntegration, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(conf.Server)
	opts.SetUsername(conf.Username)
	opts.SetPassword(conf.Password)
	opts.SetClientID(conf.ClientID)
	opts.SetAutoReconnect(true)

	conn := paho.NewClient(opts)
	token := conn.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", conf.Server, err)
	}
	log.Info().Str("server", conf.Server).Msg("MQTT integration connected")

	return newMQTTIntegration(conn, conf), nil
}

func newMQTTIntegration(conn paho.Client, conf config.MQTTIntegrationConfig) *MQTTIntegration {
	return &MQTTIntegration{
		conn:         conn,
		topicPattern: conf.TopicPattern,
		qos:          conf.QOS,
	}
}

// PublishJoinEvent publishes the event on the device join topic.
func (i *MQTTIntegration) PublishJoinEvent(ctx context.Context, event models.JoinEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal join event: %w", err)
	}

	topic := fmt.Sprintf(i.topicPattern, event.DevEUI)
	token := i.conn.Publish(topic, i.qos, false, data)
	select {
	case <-token.Done():
	case <-ctx.Done():
		eventCounter("mqtt", "error").Inc()
		return fmt.Errorf("publish %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		eventCounter("mqtt", "error").Inc()
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	eventCounter("mqtt", "ok").Inc()
	return nil
}

// Close disconnects from the broker.
func (i *MQTTIntegration) Close() error {
	i.conn.Disconnect(250)
	return nil
}
