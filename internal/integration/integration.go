// Package integration forwards join events to external systems.
package integration

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-join-server/internal/models"
)

// Integration receives join events.
type Integration interface {
	PublishJoinEvent(ctx context.Context, event models.JoinEvent) error
	Close() error
}

// Forwarder fans a join event out to all configured integrations.
type Forwarder struct {
	integrations []Integration
}

// NewForwarder creates a Forwarder. Nil integrations are skipped.
func NewForwarder(integrations ...Integration) *Forwarder {
	var f Forwarder
	for _, i := range integrations {
		if i != nil {
			f.integrations = append(f.integrations, i)
		}
	}
	return &f
}

// Len returns the number of integrations.
func (f *Forwarder) Len() int {
	return len(f.integrations)
}

// PublishJoinEvent forwards the event to every integration concurrently and
// returns the joined errors.
func (f *Forwarder) PublishJoinEvent(ctx context.Context, event models.JoinEvent) error {
	errs := make([]error, len(f.integrations))

	var wg sync.WaitGroup
	for i, integ := range f.integrations {
		wg.Add(1)
		go func(i int, integ Integration) {
			defer wg.Done()
			errs[i] = integ.PublishJoinEvent(ctx, event)
		}(i, integ)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// Close closes all integrations.
func (f *Forwarder) Close() error {
	var errs []error
	for _, i := range f.integrations {
		if err := i.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		log.Debug().Int("count", len(f.integrations)).Msg("Integrations closed")
	}
	return errors.Join(errs...)
}
