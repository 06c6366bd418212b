package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"wa-gateway-lite/internal/auth"
	"wa-gateway-lite/internal/authstate"
	"wa-gateway-lite/internal/connector/bridge"
	"wa-gateway-lite/internal/hub"
	"wa-gateway-lite/internal/idempotency"
	"wa-gateway-lite/internal/normalize"
	"wa-gateway-lite/internal/reconnect"
	"wa-gateway-lite/internal/server"
	"wa-gateway-lite/internal/session"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and resume stored sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	gin.SetMode(cfg.GinMode)

	awsCfg := &awsLazy{}
	secret, err := resolveMasterSecret(ctx, cfg, awsCfg)
	if err != nil {
		return fmt.Errorf("resolve master secret: %w", err)
	}

	policy := reconnect.DefaultPolicy()
	policy.Base, policy.Cap = cfg.ReconnectBase, cfg.ReconnectCap
	if cfg.ReconnectPolicyFile != "" {
		if policy, err = reconnect.LoadPolicyFile(cfg.ReconnectPolicyFile, policy); err != nil {
			return err
		}
	}

	b, err := openBackends(ctx, cfg, logger, awsCfg)
	if err != nil {
		return err
	}
	defer b.Close(logger)

	hotState, err := authstate.NewHotState(b.hot)
	if err != nil {
		return err
	}
	synchronizer, err := authstate.NewSynchronizer(hotState, b.snapshots, logger.With().Str("component", "authstate").Logger())
	if err != nil {
		return err
	}
	guard, err := idempotency.NewGuard(b.hot, logger.With().Str("component", "idempotency").Logger())
	if err != nil {
		return err
	}
	norm, err := normalize.New(b.uploader)
	if err != nil {
		return err
	}

	realtime := hub.New(logger.With().Str("component", "hub").Logger())
	manager, err := session.NewManager(session.Deps{
		Sessions:   b.repoSessions,
		Messages:   b.repoMessages,
		Auth:       synchronizer,
		Cache:      b.hot,
		Guard:      guard,
		Normalizer: norm,
		Factory:    &bridge.Factory{URL: cfg.ConnectorURL, Logger: logger.With().Str("component", "bridge").Logger()},
		Policy:     policy,
		Tracker:    reconnect.NewTracker(),
		Publisher:  realtime,
		Logger:     logger.With().Str("component", "session").Logger(),
	}, session.Config{
		QRTTL:       cfg.QRTTL,
		InboundTTL:  cfg.InboundDedupeTTL,
		OutboundTTL: cfg.OutboundDedupeTTL,
		FallbackTTL: cfg.OutboundFallbackTTL,
	})
	if err != nil {
		return err
	}
	defer manager.Shutdown()

	resumed := manager.Resume(ctx)
	logger.Info().Int("sessions", resumed).Msg("resumed stored sessions")

	router, stopRouter := server.NewRouter(server.Deps{
		Manager: manager,
		Hub:     realtime,
		TokenConfig: auth.TokenConfig{
			Secret: secret,
			Expiry: cfg.TokenExpiry,
			Issuer: "wa-gateway-lite",
		},
		Logger:        logger.With().Str("component", "http").Logger(),
		SendRateLimit: cfg.SendRateLimitPerMin,
		MediaRoute:    localMediaRoute(cfg),
		MediaDir:      cfg.BlobDir,
	})

	logger.Info().Int("port", cfg.Port).Msg("listening")
	if err := server.Run(ctx, cfg, router, stopRouter); err != nil {
		return err
	}
	logger.Info().Msg("shutting down")
	return nil
}
