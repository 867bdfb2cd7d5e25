package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/franc0510/streamlit-shine-sparkle-sub000/internal/allowlist"
	"github.com/franc0510/streamlit-shine-sparkle-sub000/internal/billing"
	"github.com/franc0510/streamlit-shine-sparkle-sub000/internal/matchfeed"
	"github.com/franc0510/streamlit-shine-sparkle-sub000/internal/stripewebhook"
	"github.com/franc0510/streamlit-shine-sparkle-sub000/internal/subscription"
)

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	Config   *Config
	Grants   *allowlist.Store
	Feed     *matchfeed.Feed
	Verifier *subscription.Verifier
	Billing  *billing.Handlers
	Webhook  *stripewebhook.Handler
	Version  string
}

// RegisterRoutes wires all HTTP handlers onto the given ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	adminAuth := func(next http.Handler) http.Handler {
		return AdminKeyMiddleware(deps.Config.AdminKey, next)
	}

	// Health / readiness are unauthenticated liveness/readiness probes.
	mux.HandleFunc("/healthz", HandleHealthz)
	mux.HandleFunc("/readyz", HandleReadyz(deps.Grants))

	// Status and metrics are private.
	mux.Handle("/status", adminAuth(http.HandlerFunc(HandleStatus(deps.Grants, deps.Feed, deps.Version))))
	mux.Handle("/metrics", adminAuth(promhttp.Handler()))

	// Stripe webhook (signature-authenticated)
	webhookLimiter := NewRateLimiter(120, time.Minute)
	mux.Handle("/api/stripe/webhook", webhookLimiter.Middleware(deps.Webhook))

	// Client API (bearer-token-authenticated where it matters)
	mux.Handle("/api/subscription/check", requestID(subscription.HandleCheck(deps.Verifier)))
	mux.Handle("/api/checkout/session", requestID(http.HandlerFunc(deps.Billing.HandleCreateCheckout)))
	mux.Handle("/api/checkout/portal", requestID(http.HandlerFunc(deps.Billing.HandleCustomerPortal)))

	// Match feed (public)
	mux.Handle("/api/matches", requestID(http.HandlerFunc(deps.Feed.HandleList)))
	mux.Handle("/api/matches/{id}", requestID(http.HandlerFunc(deps.Feed.HandleGet)))

	// Admin API (key-authenticated)
	mux.Handle("/admin/grants", adminAuth(HandleGrants(deps.Grants)))
	mux.Handle("/admin/grants/{user_id}", adminAuth(HandleDeleteGrant(deps.Grants)))
	mux.Handle("/admin/profiles", adminAuth(HandleUpsertProfile(deps.Grants)))
}
