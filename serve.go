package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/auth"
	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/config"
	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/graph"
	natsbus "github.com/leapyear1969/Microsoft-Graph-Webhook/internal/nats"
	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/push"
	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/server"
	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/session"
	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/subscription"
	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/tasks"
	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/webhook"
)

const shutdownTimeout = 5 * time.Second

func serve(parent context.Context, cfg *config.Config, log zerolog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if log.GetLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := cfg.RequireIdentity(); err != nil {
		log.Warn().Err(err).Msg("sign-in is not configured; /auth routes will fail")
	}
	if err := cfg.RequireSubscriptions(); err != nil {
		log.Warn().Err(err).Msg("subscriptions are not configured; create will fail")
	}

	factory := graph.NewFactory(cfg.GraphBaseURL)
	sessions := session.NewStore(log)
	registry := push.NewRegistry(log)

	if cfg.NATSURL != "" {
		pub, err := natsbus.NewPublisher(cfg.NATSURL, log)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer pub.Close()
		registry.SetMirror(pub, cfg.NATSSubject)
	}

	endpoint := auth.Endpoint(cfg.TenantID)

	// Ingestion outlives the signal context so that accepted batches drain.
	ingestCtx, cancelIngest := context.WithCancel(context.Background())
	defer cancelIngest()

	var fetcher webhook.MessageFetcher
	if cfg.ClientID != "" && cfg.ClientSecret != "" {
		app, err := factory.ForTokenSource(auth.AppTokenSource(ingestCtx, cfg.ClientID, cfg.ClientSecret, endpoint))
		if err != nil {
			return fmt.Errorf("graph app client: %w", err)
		}
		fetcher = app
	} else {
		log.Warn().Msg("client credentials not configured; notifications will not be enriched")
	}

	var verifier *auth.IDTokenVerifier
	if cfg.VerifyIDToken {
		v, err := auth.NewIDTokenVerifier(ctx, auth.JWKSURL(cfg.TenantID), cfg.ClientID)
		if err != nil {
			return fmt.Errorf("id token verifier: %w", err)
		}
		verifier = v
	}

	ingestor := webhook.NewIngestor(ingestCtx, fetcher, registry, webhook.Options{
		Secret:  cfg.SubscriptionSecret,
		Policy:  cfg.ClientStatePolicy,
		Timeout: cfg.EnrichmentTimeout,
	}, log)

	subs := subscription.NewManager(cfg, func(accessToken string) (subscription.Client, error) {
		c, err := factory.ForToken(accessToken)
		if err != nil {
			return nil, err
		}
		return c, nil
	}, log)

	srv := server.New(server.Deps{
		Config:        cfg,
		Sessions:      sessions,
		Profiles:      factory,
		Identity:      auth.NewIdentity(cfg.ClientID, cfg.ClientSecret, cfg.RedirectURI, endpoint, verifier),
		Subscriptions: subs,
		Ingestor:      ingestor,
		Registry:      registry,
		Log:           log,
	}).HTTPServer()

	background := tasks.NewManager(log)
	if err := background.Every(ctx, "session-sweep", cfg.SessionSweepEvery, func(context.Context) {
		if n := sessions.Sweep(); n > 0 {
			log.Debug().Int("removed", n).Msg("expired sessions swept")
		}
	}); err != nil {
		return err
	}
	if err := background.Every(ctx, "dedup-prune", cfg.DedupPruneEvery, func(context.Context) {
		if n := ingestor.Dedup().Prune(); n > 0 {
			log.Debug().Int("removed", n).Msg("dedup entries pruned")
		}
	}); err != nil {
		background.StopAll()
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("notification_url", cfg.NotificationURL()).Msg("graph relay listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case serveErr = <-errCh:
		log.Error().Err(serveErr).Msg("http server stopped")
	}

	// Open event streams hold their requests; close them so Shutdown can finish.
	registry.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}

	background.StopAll()

	drained := make(chan struct{})
	go func() {
		ingestor.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		log.Warn().Msg("abandoning in-flight notification batches")
		cancelIngest()
		<-drained
	}

	return serveErr
}
