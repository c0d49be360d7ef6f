// Package server consumes gateway uplinks and answers join requests.
package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-join-server/internal/backend"
	"github.com/lorawan-server/lorawan-join-server/internal/join"
	"github.com/lorawan-server/lorawan-join-server/internal/models"
)

// JoinHandler runs one join transaction.
type JoinHandler interface {
	Handle(ctx context.Context, frame backend.UplinkFrame) (*join.Result, error)
}

// EventPublisher receives join events in addition to the backend.
type EventPublisher interface {
	PublishJoinEvent(ctx context.Context, event models.JoinEvent) error
}

// Consumer reads uplinks from a backend and hands them to the join handler,
// at most workers at a time.
type Consumer struct {
	backend backend.Backend
	handler JoinHandler
	events  []EventPublisher
	sem     chan struct{}
	wg      sync.WaitGroup
}

// NewConsumer creates a Consumer.
func NewConsumer(b backend.Backend, h JoinHandler, workers int, events ...EventPublisher) *Consumer {
	if workers < 1 {
		workers = 1
	}
	return &Consumer{
		backend: b,
		handler: h,
		events:  events,
		sem:     make(chan struct{}, workers),
	}
}

// Run blocks until the uplink channel of the backend is closed and all
// in-flight transactions have finished.
func (c *Consumer) Run(ctx context.Context) {
	log.Info().Int("workers", cap(c.sem)).Msg("Join consumer started")

	for frame := range c.backend.UplinkFrameChan() {
		c.sem <- struct{}{}
		c.wg.Add(1)
		go func(frame backend.UplinkFrame) {
			defer func() {
				<-c.sem
				c.wg.Done()
			}()
			c.handleFrame(ctx, frame)
		}(frame)
	}

	c.wg.Wait()
	log.Info().Msg("Join consumer stopped")
}

func (c *Consumer) handleFrame(ctx context.Context, frame backend.UplinkFrame) {
	// the join-accept is useless once the RX1 window has passed
	ctx, cancel := context.WithTimeout(ctx, backend.JoinAcceptDelay1)
	defer cancel()

	res, err := c.handler.Handle(ctx, frame)
	result := join.Observe(err)
	if err != nil {
		if errors.Is(err, join.ErrAbort) {
			return
		}
		log.Error().
			Err(err).
			Str("gatewayID", frame.GatewayID).
			Str("result", result).
			Msg("Join request dropped")
		return
	}

	ja := backend.NewJoinAcceptFrame(frame, res.DevAddr, res.PHYPayload)
	if err := c.backend.SendJoinAccept(ctx, ja); err != nil {
		log.Error().
			Err(err).
			Str("devEUI", res.DevEUI.String()).
			Str("gatewayID", frame.GatewayID).
			Msg("Send join-accept error")
		return
	}

	event := models.JoinEvent{
		ID:              res.ID,
		DevEUI:          res.DevEUI,
		JoinEUI:         res.JoinEUI,
		DevAddr:         res.DevAddr,
		Kind:            res.Kind.String(),
		ProtocolVersion: res.ProtocolVersion,
		FrequencyPlan:   res.FrequencyPlan,
		GatewayID:       frame.GatewayID,
		RxInfo:          models.Variables(frame.RxInfo),
		Timestamp:       time.Now().UTC(),
	}
	if err := c.backend.PublishJoinEvent(ctx, event); err != nil {
		log.Warn().Err(err).Str("devEUI", res.DevEUI.String()).Msg("Publish join event error")
	}
	for _, p := range c.events {
		if err := p.PublishJoinEvent(ctx, event); err != nil {
			log.Warn().Err(err).Str("devEUI", res.DevEUI.String()).Msg("Forward join event error")
		}
	}
}
