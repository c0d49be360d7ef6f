// Package nats implements the gateway backend over NATS subjects.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-join-server/internal/backend"
	"github.com/lorawan-server/lorawan-join-server/internal/config"
	"github.com/lorawan-server/lorawan-join-server/internal/models"
)

// Backend implements backend.Backend using NATS.
type Backend struct {
	wg   sync.WaitGroup
	once sync.Once

	// mu orders rxHandler's wg.Add against Close closing the channel.
	mu      sync.RWMutex
	closing chan struct{}

	nc     *nats.Conn
	config config.NATSConfig
	sub    *nats.Subscription

	uplinkFrameChan chan backend.UplinkFrame
}

// Connect opens a NATS connection using the reconnect settings of conf.
func Connect(conf config.NATSConfig) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("lorawan-join-server"),
		nats.ReconnectWait(conf.ReconnectInterval),
		nats.MaxReconnects(conf.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if conf.Username != "" {
		opts = append(opts, nats.UserInfo(conf.Username, conf.Password))
	}

	nc, err := nats.Connect(conf.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// NewBackend subscribes to the uplink subject on nc. The connection stays
// owned by the caller.
func NewBackend(nc *nats.Conn, conf config.NATSConfig) (*Backend, error) {
	b := newBackend(nc, conf)

	sub, err := nc.Subscribe(conf.UplinkSubject, b.rxHandler)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", conf.UplinkSubject, err)
	}
	b.sub = sub

	log.Info().Str("subject", conf.UplinkSubject).Msg("NATS backend subscribed")
	return b, nil
}

func newBackend(nc *nats.Conn, conf config.NATSConfig) *Backend {
	return &Backend{
		nc:              nc,
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
// sent afterwards.
func (b *Backend) Close() error {
	var err error
	b.once.Do(func() {
		b.mu.Lock()
		close(b.closing)
		b.mu.Unlock()

		if b.sub != nil {
			if uerr := b.sub.Unsubscribe(); uerr != nil {
				err = fmt.Errorf("unsubscribe %s: %w", b.config.UplinkSubject, uerr)
			}
		}
		b.wg.Wait()
		close(b.uplinkFrameChan)
	})
	return err
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

func (b *Backend) rxHandler(msg *nats.Msg) {
	if !b.acquire() {
		return
	}
	defer b.wg.Done()

	f, err := backend.DecodeUplinkFrame(msg.Data)
	if err != nil {
		natsEventCounter("invalid").Inc()
		log.Error().Err(err).Str("subject", msg.Subject).Msg("Failed to decode uplink")
		return
	}
	if f.GatewayID == "" {
		f.GatewayID = gatewayIDFromSubject(msg.Subject)
	}

	natsEventCounter("up").Inc()
	select {
	case b.uplinkFrameChan <- f:
	case <-b.closing:
		log.Warn().Str("gatewayID", f.GatewayID).Msg("Backend closing, uplink dropped")
	}
}

// SendJoinAccept publishes the join-accept to the gateway subject.
func (b *Backend) SendJoinAccept(ctx context.Context, f backend.JoinAcceptFrame) error {
	data, err := backend.EncodeJoinAccept(f)
	if err != nil {
		return fmt.Errorf("encode join-accept: %w", err)
	}

	subject := fmt.Sprintf(b.config.DownlinkSubject, f.GatewayID)
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	natsCommandCounter("down").Inc()

	log.Debug().
		Str("subject", subject).
		Str("devAddr", f.DevAddr.String()).
		Msg("Join-accept published")
	return nil
}

// PublishJoinEvent publishes the join event to the device subject.
func (b *Backend) PublishJoinEvent(ctx context.Context, event models.JoinEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal join event: %w", err)
	}

	subject := fmt.Sprintf(b.config.EventSubject, event.DevEUI)
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	natsCommandCounter("join").Inc()
	return nil
}

// gatewayIDFromSubject returns the second token of gateway.<id>.rx.
func gatewayIDFromSubject(subject string) string {
	parts := strings.Split(subject, ".")
	if len(parts) < 3 {
		return ""
	}
	return parts[1]
}
