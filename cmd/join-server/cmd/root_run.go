package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lorawan-server/lorawan-join-server/internal/api"
	"github.com/lorawan-server/lorawan-join-server/internal/backend"
	mqttbackend "github.com/lorawan-server/lorawan-join-server/internal/backend/mqtt"
	natsbackend "github.com/lorawan-server/lorawan-join-server/internal/backend/nats"
	"github.com/lorawan-server/lorawan-join-server/internal/backend/semtechudp"
	"github.com/lorawan-server/lorawan-join-server/internal/config"
	"github.com/lorawan-server/lorawan-join-server/internal/integration"
	"github.com/lorawan-server/lorawan-join-server/internal/join"
	"github.com/lorawan-server/lorawan-join-server/internal/lock"
	"github.com/lorawan-server/lorawan-join-server/internal/server"
	"github.com/lorawan-server/lorawan-join-server/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg)

	log.Info().
		Str("version", cfg.Server.Version).
		Str("netID", cfg.Join.NetID.String()).
		Str("backend", cfg.Backend.Type).
		Msg("Starting join server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := setupStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	locker, err := setupLocker(ctx, cfg)
	if err != nil {
		return err
	}

	b, disconnect, err := setupBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer disconnect()

	forwarder, err := setupIntegrations(ctx, cfg)
	if err != nil {
		return err
	}
	defer forwarder.Close()

	handler := join.NewHandler(store, locker, cfg.Join)
	var consumer *server.Consumer
	if forwarder.Len() > 0 {
		consumer = server.NewConsumer(b, handler, cfg.Join.Workers, forwarder)
	} else {
		consumer = server.NewConsumer(b, handler, cfg.Join.Workers)
	}
	consumerDone := make(chan struct{})
	go func() {
		consumer.Run(ctx)
		close(consumerDone)
	}()

	var restServer *api.RESTServer
	if cfg.API.Bind != "" {
		restServer = api.NewRESTServer(cfg, store)
		go func() {
			if err := restServer.ListenAndServe(cfg.API.Bind); err != nil {
				log.Error().Err(err).Msg("REST API server error")
				cancel()
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Signal received, shutting down")
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if restServer != nil {
		if err := restServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("REST API shutdown error")
		}
	}

	// stop taking uplinks, then let running transactions finish
	if err := b.Close(); err != nil {
		log.Error().Err(err).Msg("Backend close error")
	}
	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("Timeout waiting for running join transactions")
	}

	log.Info().Msg("Join server stopped")
	return nil
}

func setupStorage(cfg *config.Config) (*storage.PostgresStore, error) {
	store, err := storage.NewPostgresStore(cfg.Database.DSN, storage.PostgresOptions{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if cfg.Database.Automigrate {
		if err := store.Migrate(); err != nil {
			store.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}
	return store, nil
}

func setupLocker(ctx context.Context, cfg *config.Config) (lock.Locker, error) {
	if cfg.Join.Lock != config.LockRedis {
		return lock.NewKeyedMutex(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	log.Info().Str("addr", cfg.Redis.Addr).Dur("ttl", cfg.Redis.LockTTL).Msg("Using Redis device lock")
	return lock.NewRedisLocker(client, cfg.Redis.LockTTL), nil
}

// setupBackend returns the configured transport and a func closing its
// connection, to be called after the consumer has stopped.
func setupBackend(ctx context.Context, cfg *config.Config) (backend.Backend, func(), error) {
	switch cfg.Backend.Type {
	case config.BackendMQTT:
		b, err := mqttbackend.NewBackend(ctx, cfg.Backend.MQTT)
		if err != nil {
			return nil, nil, fmt.Errorf("setup mqtt backend: %w", err)
		}
		return b, b.Disconnect, nil
	case config.BackendUDP:
		b, err := semtechudp.NewBackend(cfg.Backend.UDP)
		if err != nil {
			return nil, nil, fmt.Errorf("setup udp backend: %w", err)
		}
		return b, b.Disconnect, nil
	default:
		nc, err := natsbackend.Connect(cfg.Backend.NATS)
		if err != nil {
			return nil, nil, err
		}
		b, err := natsbackend.NewBackend(nc, cfg.Backend.NATS)
		if err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("setup nats backend: %w", err)
		}
		return b, nc.Close, nil
	}
}

func setupIntegrations(ctx context.Context, cfg *config.Config) (*integration.Forwarder, error) {
	var integs []integration.Integration

	if conf := cfg.Integration.HTTP; conf.Endpoint != "" {
		log.Info().Str("endpoint", conf.Endpoint).Msg("HTTP integration enabled")
		integs = append(integs, integration.NewHTTPIntegration(conf))
	}
	if conf := cfg.Integration.MQTT; conf.Server != "" {
		i, err := integration.NewMQTTIntegration(ctx, conf)
		if err != nil {
			return nil, fmt.Errorf("setup mqtt integration: %w", err)
		}
		integs = append(integs, i)
	}

	return integration.NewForwarder(integs...), nil
}
