package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"

	"github.com/franc0510/streamlit-shine-sparkle-sub000/internal/allowlist"
	"github.com/franc0510/streamlit-shine-sparkle-sub000/internal/billing"
	"github.com/franc0510/streamlit-shine-sparkle-sub000/internal/identity"
	"github.com/franc0510/streamlit-shine-sparkle-sub000/internal/logging"
	"github.com/franc0510/streamlit-shine-sparkle-sub000/internal/matchfeed"
	"github.com/franc0510/streamlit-shine-sparkle-sub000/internal/stripewebhook"
	"github.com/franc0510/streamlit-shine-sparkle-sub000/internal/subscription"
)

// Run starts the prediction server with graceful shutdown.
func Run(ctx context.Context, version string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "predictd",
	})

	log.Info().Str("version", version).Msg("Starting prediction server")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	stripelib.Key = cfg.StripeAPIKey
	if cfg.StripeAPIKey == "" {
		log.Warn().Msg("STRIPE_API_KEY not set, live subscription checks will fail")
	}

	grants, err := allowlist.Open(cfg.AllowlistDir())
	if err != nil {
		return fmt.Errorf("open allowlist: %w", err)
	}
	defer grants.Close()

	feed, err := matchfeed.Open(cfg.MatchFeedPath)
	if err != nil {
		return fmt.Errorf("open match feed: %w", err)
	}

	resolver := identity.NewResolver(cfg.SessionSecret)
	verifier := subscription.NewVerifier(resolver, grants)
	billingHandlers := billing.NewHandlers(billing.Config{
		PremiumPriceID: cfg.PremiumPriceID,
		BaseURL:        cfg.BaseURL,
	}, resolver, subscription.FindCustomerByEmail)
	reconciler := stripewebhook.NewReconciler(grants, grants)
	webhookHandler := stripewebhook.NewHandler(cfg.StripeWebhookSecret, reconciler)

	mux := http.NewServeMux()
	deps := &Deps{
		Config:   cfg,
		Grants:   grants,
		Feed:     feed,
		Verifier: verifier,
		Billing:  billingHandlers,
		Webhook:  webhookHandler,
		Version:  version,
	}
	RegisterRoutes(mux, deps)

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Hot-reload the feed on file changes
	go func() {
		if err := feed.Watch(ctx); err != nil {
			log.Warn().Err(err).Msg("Feed watcher stopped")
		}
	}()

	go func() {
		log.Info().Str("addr", addr).Msg("Prediction server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down...")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	cancel()
	log.Info().Msg("Prediction server stopped")
	return nil
}
