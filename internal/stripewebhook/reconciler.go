package stripewebhook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"

	"github.com/franc0510/streamlit-shine-sparkle-sub000/internal/allowlist"
)

// GrantStore is the slice of the allow-list the reconciler writes to.
type GrantStore interface {
	Upsert(g *allowlist.Grant) error
	Delete(userID string) error
}

// ProfileDirectory resolves a payment-provider email to a local user.
type ProfileDirectory interface {
	ProfileByEmail(email string) (*allowlist.Profile, error)
}

// Reconciler applies decoded webhook deliveries to the grant store. Stripe
// is the source of truth: lifecycle events re-fetch the live subscription
// before touching any grant, so stale or out-of-order deliveries converge
// on the current provider state.
type Reconciler struct {
	grants   GrantStore
	profiles ProfileDirectory

	getCustomer     func(ctx context.Context, id string) (*stripelib.Customer, error)
	getSubscription func(ctx context.Context, id string) (*stripelib.Subscription, error)

	now func() time.Time
}

// NewReconciler returns a Reconciler using the live Stripe API for
// customer and subscription lookups.
func NewReconciler(grants GrantStore, profiles ProfileDirectory) *Reconciler {
	return &Reconciler{
		grants:          grants,
		profiles:        profiles,
		getCustomer:     getStripeCustomer,
		getSubscription: getStripeSubscription,
		now:             time.Now,
	}
}

func getStripeCustomer(ctx context.Context, id string) (*stripelib.Customer, error) {
	return customer.Get(id, &stripelib.CustomerParams{Params: stripelib.Params{Context: ctx}})
}

func getStripeSubscription(ctx context.Context, id string) (*stripelib.Subscription, error) {
	return subscription.Get(id, &stripelib.SubscriptionParams{Params: stripelib.Params{Context: ctx}})
}

// Apply reconciles one decoded delivery against the grant store. A nil
// error means the delivery is settled and must be acknowledged; returning
// an error makes the HTTP layer answer 500 so Stripe redelivers.
func (r *Reconciler) Apply(ctx context.Context, ev webhookEvent) error {
	switch e := ev.(type) {
	case checkoutCompleted:
		return r.applyCheckoutCompleted(ctx, e)
	case subscriptionLifecycle:
		return r.applyLifecycle(ctx, e)
	case subscriptionEnded:
		return r.applyEnded(ctx, e)
	case unhandled:
		log.Info().Str("eventType", e.kind).Msg("Ignoring unhandled Stripe event")
		return nil
	default:
		return fmt.Errorf("unknown webhook event %T", ev)
	}
}

func (r *Reconciler) applyCheckoutCompleted(ctx context.Context, e checkoutCompleted) error {
	if e.mode != "" && e.mode != "subscription" {
		log.Info().
			Str("sessionId", e.sessionID).
			Str("mode", e.mode).
			Msg("Ignoring non-subscription checkout session")
		return nil
	}

	userID, ok, err := r.resolveUser(ctx, e.email, e.customerID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if err := r.grants.Upsert(&allowlist.Grant{
		UserID:    userID,
		GrantedBy: "stripe-webhook",
		Notes:     "checkout session " + e.sessionID,
		GrantedAt: r.now(),
	}); err != nil {
		return fmt.Errorf("upsert grant: %w", err)
	}

	log.Info().
		Str("userId", userID).
		Str("sessionId", e.sessionID).
		Msg("Granted premium after completed checkout")
	return nil
}

func (r *Reconciler) applyLifecycle(ctx context.Context, e subscriptionLifecycle) error {
	if e.subscriptionID == "" {
		log.Warn().Str("eventType", e.kind).Msg("Lifecycle event without subscription id")
		return nil
	}

	sub, err := r.getSubscription(ctx, e.subscriptionID)
	if err != nil {
		return fmt.Errorf("fetch subscription %s: %w", e.subscriptionID, err)
	}

	if sub.Status != stripelib.SubscriptionStatusActive {
		log.Info().
			Str("subscriptionId", e.subscriptionID).
			Str("status", string(sub.Status)).
			Str("eventType", e.kind).
			Msg("Subscription not active, leaving grants untouched")
		return nil
	}

	customerID := e.customerID
	if customerID == "" && sub.Customer != nil {
		customerID = sub.Customer.ID
	}

	userID, ok, err := r.resolveUser(ctx, e.email, customerID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if err := r.grants.Upsert(&allowlist.Grant{
		UserID:    userID,
		GrantedBy: "stripe-webhook",
		Notes:     "subscription " + e.subscriptionID + " via " + e.kind,
		GrantedAt: r.now(),
	}); err != nil {
		return fmt.Errorf("upsert grant: %w", err)
	}

	log.Info().
		Str("userId", userID).
		Str("subscriptionId", e.subscriptionID).
		Str("eventType", e.kind).
		Msg("Granted premium for active subscription")
	return nil
}

func (r *Reconciler) applyEnded(ctx context.Context, e subscriptionEnded) error {
	userID, ok, err := r.resolveUser(ctx, e.email, e.customerID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if err := r.grants.Delete(userID); err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}

	log.Info().
		Str("userId", userID).
		Str("eventType", e.kind).
		Msg("Revoked premium after subscription ended")
	return nil
}

// resolveUser maps a delivery to a local user ID via the profile directory,
// fetching the customer's email from Stripe when the payload carried none.
// A missing profile is acknowledged, not retried: redelivery cannot create
// the profile, so the miss is logged loudly and the event settled.
func (r *Reconciler) resolveUser(ctx context.Context, email, customerID string) (string, bool, error) {
	if email == "" {
		if customerID == "" {
			log.Warn().Msg("Webhook event carried neither email nor customer id, acknowledging without change")
			return "", false, nil
		}
		cust, err := r.getCustomer(ctx, customerID)
		if err != nil {
			return "", false, fmt.Errorf("fetch customer %s: %w", customerID, err)
		}
		email = strings.ToLower(strings.TrimSpace(cust.Email))
		if email == "" {
			log.Warn().Str("customerId", customerID).Msg("Stripe customer has no email, acknowledging without change")
			return "", false, nil
		}
	}

	profile, err := r.profiles.ProfileByEmail(email)
	if err != nil {
		return "", false, fmt.Errorf("lookup profile: %w", err)
	}
	if profile == nil {
		log.Warn().
			Str("email", email).
			Str("customerId", customerID).
			Msg("No profile for webhook email, acknowledging without change")
		return "", false, nil
	}
	return profile.UserID, true, nil
}
