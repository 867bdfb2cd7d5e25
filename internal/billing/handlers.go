package billing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/franc0510/streamlit-shine-sparkle-sub000/internal/identity"
	"github.com/franc0510/streamlit-shine-sparkle-sub000/internal/metrics"
	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"
)

// IdentityResolver resolves a bearer credential to the caller identity.
type IdentityResolver interface {
	Resolve(authorization string) (identity.Identity, error)
}

// Config carries the Stripe knobs the handlers need.
type Config struct {
	// PremiumPriceID is the recurring price offered at checkout.
	PremiumPriceID string
	// BaseURL is the public site URL used to build redirect targets.
	BaseURL string
}

// Handlers creates Stripe checkout and customer portal sessions for
// authenticated callers.
type Handlers struct {
	cfg      Config
	resolver IdentityResolver

	createCheckoutSession func(params *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error)
	createPortalSession   func(params *stripelib.BillingPortalSessionParams) (*stripelib.BillingPortalSession, error)
	findCustomerByEmail   func(ctx context.Context, email string) (*stripelib.Customer, error)
}

// NewHandlers creates Handlers backed by the live Stripe API.
func NewHandlers(cfg Config, resolver IdentityResolver, findCustomerByEmail func(ctx context.Context, email string) (*stripelib.Customer, error)) *Handlers {
	return &Handlers{
		cfg:                   cfg,
		resolver:              resolver,
		createCheckoutSession: stripesession.New,
		createPortalSession:   portalsession.New,
		findCustomerByEmail:   findCustomerByEmail,
	}
}

type urlResponse struct {
	URL string `json:"url"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HandleCreateCheckout creates a subscription-mode checkout session for
// the caller and returns its redirect URL.
func (h *Handlers) HandleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	ident, ok := h.authenticate(w, r, "checkout")
	if !ok {
		return
	}

	if strings.TrimSpace(h.cfg.PremiumPriceID) == "" {
		metrics.CheckoutSessionsTotal.WithLabelValues("checkout", "unconfigured").Inc()
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "premium price not configured"})
		return
	}

	params := &stripelib.CheckoutSessionParams{
		Mode:          stripelib.String(string(stripelib.CheckoutSessionModeSubscription)),
		CustomerEmail: stripelib.String(ident.Email),
		SuccessURL:    stripelib.String(buildRedirectURL(h.cfg.BaseURL, "/premium/success", nil)),
		CancelURL:     stripelib.String(buildRedirectURL(h.cfg.BaseURL, "/premium", url.Values{"cancelled": {"1"}})),
		LineItems: []*stripelib.CheckoutSessionLineItemParams{
			{
				Price:    stripelib.String(h.cfg.PremiumPriceID),
				Quantity: stripelib.Int64(1),
			},
		},
		Metadata: map[string]string{
			"user_id": ident.UserID,
		},
	}
	params.Context = r.Context()

	session, err := h.createCheckoutSession(params)
	if err != nil {
		metrics.CheckoutSessionsTotal.WithLabelValues("checkout", "error").Inc()
		log.Warn().Err(err).Str("user_id", ident.UserID).Msg("checkout session creation failed")
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	if session == nil || strings.TrimSpace(session.URL) == "" {
		metrics.CheckoutSessionsTotal.WithLabelValues("checkout", "error").Inc()
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "stripe returned empty checkout URL"})
		return
	}

	metrics.CheckoutSessionsTotal.WithLabelValues("checkout", "success").Inc()
	writeJSON(w, http.StatusOK, urlResponse{URL: strings.TrimSpace(session.URL)})
}

// HandleCustomerPortal creates a self-service billing portal session for
// the caller's Stripe customer.
func (h *Handlers) HandleCustomerPortal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	ident, ok := h.authenticate(w, r, "portal")
	if !ok {
		return
	}

	cust, err := h.findCustomerByEmail(r.Context(), ident.Email)
	if err != nil {
		metrics.CheckoutSessionsTotal.WithLabelValues("portal", "error").Inc()
		log.Warn().Err(err).Str("user_id", ident.UserID).Msg("portal customer lookup failed")
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	if cust == nil {
		metrics.CheckoutSessionsTotal.WithLabelValues("portal", "no_customer").Inc()
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no billing account for this identity"})
		return
	}

	params := &stripelib.BillingPortalSessionParams{
		Customer:  stripelib.String(cust.ID),
		ReturnURL: stripelib.String(buildRedirectURL(h.cfg.BaseURL, "/premium", nil)),
	}
	params.Context = r.Context()

	session, err := h.createPortalSession(params)
	if err != nil {
		metrics.CheckoutSessionsTotal.WithLabelValues("portal", "error").Inc()
		log.Warn().Err(err).Str("user_id", ident.UserID).Msg("portal session creation failed")
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	if session == nil || strings.TrimSpace(session.URL) == "" {
		metrics.CheckoutSessionsTotal.WithLabelValues("portal", "error").Inc()
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "stripe returned empty portal URL"})
		return
	}

	metrics.CheckoutSessionsTotal.WithLabelValues("portal", "success").Inc()
	writeJSON(w, http.StatusOK, urlResponse{URL: strings.TrimSpace(session.URL)})
}

func (h *Handlers) authenticate(w http.ResponseWriter, r *http.Request, kind string) (identity.Identity, bool) {
	ident, err := h.resolver.Resolve(r.Header.Get("Authorization"))
	if errors.Is(err, identity.ErrNoCredential) || errors.Is(err, identity.ErrInvalidToken) {
		metrics.CheckoutSessionsTotal.WithLabelValues(kind, "auth_error").Inc()
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return identity.Identity{}, false
	}
	if err != nil {
		metrics.CheckoutSessionsTotal.WithLabelValues(kind, "error").Inc()
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return identity.Identity{}, false
	}
	return ident, true
}

func buildRedirectURL(baseURL, path string, query url.Values) string {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return path
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + path
	if query != nil {
		parsed.RawQuery = query.Encode()
	}
	return parsed.String()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("billing: encode response")
	}
}
