package subscription

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/franc0510/streamlit-shine-sparkle-sub000/internal/allowlist"
	"github.com/franc0510/streamlit-shine-sparkle-sub000/internal/identity"
	"github.com/franc0510/streamlit-shine-sparkle-sub000/pkg/entitlement"
	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
)

// IdentityResolver resolves a bearer credential to the caller identity.
type IdentityResolver interface {
	Resolve(authorization string) (identity.Identity, error)
}

// GrantSource reads the allow-list.
type GrantSource interface {
	Get(userID string) (*allowlist.Grant, error)
}

// Verifier determines the true entitlement of an authenticated identity.
// The allow-list is consulted before the payment provider: manual grants
// never expire and bypass Stripe entirely.
type Verifier struct {
	resolver IdentityResolver
	grants   GrantSource

	findCustomerByEmail func(ctx context.Context, email string) (*stripelib.Customer, error)
	listSubscriptions   func(ctx context.Context, customerID string) ([]*stripelib.Subscription, error)
}

// NewVerifier creates a Verifier backed by the live Stripe API.
func NewVerifier(resolver IdentityResolver, grants GrantSource) *Verifier {
	return &Verifier{
		resolver:            resolver,
		grants:              grants,
		findCustomerByEmail: FindCustomerByEmail,
		listSubscriptions:   listStripeSubscriptions,
	}
}

// Verify resolves the identity and determines its entitlement, in strict
// order: allow-list row, then Stripe customer by email, then the first
// active or trialing subscription in provider list order. Authentication
// failures are returned unwrapped so callers can map them to 401.
func (v *Verifier) Verify(ctx context.Context, authorization string) (entitlement.SubscriptionStatus, error) {
	ident, err := v.resolver.Resolve(authorization)
	if err != nil {
		return entitlement.DefaultStatus(), err
	}

	grant, err := v.grants.Get(ident.UserID)
	if err != nil {
		return entitlement.DefaultStatus(), fmt.Errorf("allow-list lookup: %w", err)
	}
	if grant != nil {
		return entitlement.ManualGrantStatus(), nil
	}

	if ident.Email == "" {
		return entitlement.DefaultStatus(), nil
	}

	cust, err := v.findCustomerByEmail(ctx, ident.Email)
	if err != nil {
		return entitlement.DefaultStatus(), fmt.Errorf("stripe customer lookup: %w", err)
	}
	if cust == nil {
		return entitlement.DefaultStatus(), nil
	}

	subs, err := v.listSubscriptions(ctx, cust.ID)
	if err != nil {
		return entitlement.DefaultStatus(), fmt.Errorf("stripe subscription list: %w", err)
	}

	for _, sub := range subs {
		if sub == nil {
			continue
		}
		if sub.Status != stripelib.SubscriptionStatusActive && sub.Status != stripelib.SubscriptionStatusTrialing {
			continue
		}
		status := statusFromSubscription(sub)
		log.Debug().
			Str("user_id", ident.UserID).
			Str("subscription_id", sub.ID).
			Str("stripe_status", string(sub.Status)).
			Msg("subscription verified via Stripe")
		return status, nil
	}

	return entitlement.DefaultStatus(), nil
}

// statusFromSubscription builds the snapshot from the first line item:
// product ID from its price, expiry from its current period end.
func statusFromSubscription(sub *stripelib.Subscription) entitlement.SubscriptionStatus {
	status := entitlement.SubscriptionStatus{Subscribed: true}

	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return status
	}
	item := sub.Items.Data[0]
	if item == nil {
		return status
	}

	if item.Price != nil && item.Price.Product != nil {
		if id := strings.TrimSpace(item.Price.Product.ID); id != "" {
			status.ProductID = &id
		}
	}
	if item.CurrentPeriodEnd > 0 {
		end := time.Unix(item.CurrentPeriodEnd, 0).UTC()
		status.SubscriptionEnd = &end
	}
	return status
}
