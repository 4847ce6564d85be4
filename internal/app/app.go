package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/channelchat-server/internal/auth"
	redisbus "github.com/vovakirdan/channelchat-server/internal/bus/redis"
	"github.com/vovakirdan/channelchat-server/internal/config"
	"github.com/vovakirdan/channelchat-server/internal/core"
	"github.com/vovakirdan/channelchat-server/internal/store"
	"github.com/vovakirdan/channelchat-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/channelchat-server/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	persister       *core.Persister
	bus             *redisbus.Bus
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}
	authService := auth.NewService(st, jwtConfig)

	if err := bootstrap(ctx, cfg, authService, st, logger); err != nil {
		_ = st.Close()
		return nil, err
	}

	persistLog := logger.With().Str("component", "persister").Logger()
	persister := core.NewPersister(st, core.PersisterOptions{
		QueueSize:  cfg.PersistQueueSize,
		MaxRetries: cfg.PersistMaxRetries,
		RetryBase:  cfg.PersistRetryBase,
	}, &persistLog)

	deps := core.Deps{Directory: st, Persister: persister}

	var bus *redisbus.Bus
	if cfg.RedisURL != "" {
		busLog := logger.With().Str("component", "bus").Logger()
		bus, err = redisbus.New(ctx, cfg.RedisURL, &busLog)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("init bus: %w", err)
		}
		deps.Bus = bus
		logger.Info().Str("topic", redisbus.DefaultTopic).Msg("cross-instance fan-out enabled")
	}

	hubLog := logger.With().Str("component", "hub").Logger()
	deps.Logger = &hubLog
	hub := core.NewHub(deps, core.Options{
		MaxMessageLength:  cfg.MaxMessageLength,
		MessagesPerMinute: cfg.MessagesPerMinute,
		HistoryOnJoin:     cfg.HistoryOnJoin,
		LogPresence:       cfg.LogPresence,
		PersistFirst:      cfg.DeliveryMode == config.DeliveryPersistFirst,
		PersistTimeout:    cfg.PersistFirstTimeout,
	})

	server := transporthttp.NewServer(hub, authService, st, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		persister:       persister,
		bus:             bus,
		store:           st,
		log:             logger,
	}, nil
}

// bootstrap creates the default admin and the @public channel when an admin password is configured.
func bootstrap(ctx context.Context, cfg *config.Config, authService *auth.Service, st store.Store, logger *zerolog.Logger) error {
	if cfg.BootstrapAdminPassword == "" {
		logger.Debug().Msg("bootstrap_admin_password not set, skipping bootstrap")
		return nil
	}

	admin, created, err := authService.EnsureAdmin(ctx, cfg.BootstrapAdminUsername, cfg.BootstrapAdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if created {
		logger.Info().Str("username", admin.Username).Msg("bootstrap admin created")
	}

	_, err = st.GetChannel(ctx, store.PublicChannelID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("lookup public channel: %w", err)
	}
	err = st.CreateChannel(ctx, &store.Channel{
		ChannelID:   store.PublicChannelID,
		Name:        "Public",
		Description: "Channel for everyone",
		IsPublic:    true,
		IsActive:    true,
		CreatorID:   admin.ID,
	})
	if err != nil && !errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("create public channel: %w", err)
	}
	logger.Info().Str("channel_id", store.PublicChannelID).Msg("public channel created")
	return nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	a.persister.Start()

	g, gctx := errgroup.WithContext(ctx)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go a.hub.Run(hubCtx)

	g.Go(func() error {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		return a.server.Shutdown(shutdownCtx)
	})

	err := g.Wait()

	stopHub()
	<-a.hub.Done()
	a.cleanup()
	return err
}

// cleanup drains the persister and closes the bus and database.
func (a *App) cleanup() {
	a.persister.Close()
	a.log.Info().
		Int64("stored", a.persister.Stored()).
		Int64("failed", a.persister.Failures()).
		Msg("persister drained")

	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close bus")
		}
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
