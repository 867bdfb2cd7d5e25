package stripewebhook

import (
	"encoding/json"
	"fmt"
	"strings"

	stripelib "github.com/stripe/stripe-go/v82"
)

// webhookEvent is one decoded delivery, tagged by kind. Exactly the event
// kinds the reconciler understands get their own variant; everything else
// decodes to unhandled, so adding or removing a handled kind is a
// compile-checked change in decodeEvent and Reconciler.Apply.
type webhookEvent interface {
	isWebhookEvent()
}

// checkoutCompleted is a checkout.session.completed delivery.
type checkoutCompleted struct {
	sessionID      string
	mode           string
	customerID     string
	subscriptionID string
	email          string
}

// subscriptionLifecycle covers customer.subscription.created/updated and
// invoice.paid: events whose live subscription status must be re-fetched
// before any grant is made.
type subscriptionLifecycle struct {
	kind           string
	subscriptionID string
	customerID     string
	email          string
}

// subscriptionEnded covers customer.subscription.deleted and
// invoice.payment_failed: events that revoke the grant.
type subscriptionEnded struct {
	kind           string
	subscriptionID string
	customerID     string
	email          string
}

// unhandled is any event kind the reconciler ignores.
type unhandled struct {
	kind string
}

func (checkoutCompleted) isWebhookEvent()     {}
func (subscriptionLifecycle) isWebhookEvent() {}
func (subscriptionEnded) isWebhookEvent()     {}
func (unhandled) isWebhookEvent()             {}

// Minimal wire representations. Decoding only what the reconciler reads
// keeps the handler independent of provider API version churn.
type checkoutSessionPayload struct {
	ID              string `json:"id"`
	Mode            string `json:"mode"`
	Customer        string `json:"customer"`
	Subscription    string `json:"subscription"`
	CustomerEmail   string `json:"customer_email"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

type subscriptionPayload struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Status   string `json:"status"`
}

type invoicePayload struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	CustomerEmail string `json:"customer_email"`
	Subscription  string `json:"subscription"`
}

func decodeEvent(ev *stripelib.Event) (webhookEvent, error) {
	switch ev.Type {
	case "checkout.session.completed":
		var session checkoutSessionPayload
		if err := json.Unmarshal(ev.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("decode checkout.session: %w", err)
		}
		email := strings.ToLower(strings.TrimSpace(session.CustomerEmail))
		if email == "" {
			email = strings.ToLower(strings.TrimSpace(session.CustomerDetails.Email))
		}
		return checkoutCompleted{
			sessionID:      session.ID,
			mode:           session.Mode,
			customerID:     strings.TrimSpace(session.Customer),
			subscriptionID: strings.TrimSpace(session.Subscription),
			email:          email,
		}, nil

	case "customer.subscription.created", "customer.subscription.updated":
		var sub subscriptionPayload
		if err := json.Unmarshal(ev.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		return subscriptionLifecycle{
			kind:           string(ev.Type),
			subscriptionID: strings.TrimSpace(sub.ID),
			customerID:     strings.TrimSpace(sub.Customer),
		}, nil

	case "invoice.paid":
		var inv invoicePayload
		if err := json.Unmarshal(ev.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("decode invoice: %w", err)
		}
		return subscriptionLifecycle{
			kind:           string(ev.Type),
			subscriptionID: strings.TrimSpace(inv.Subscription),
			customerID:     strings.TrimSpace(inv.Customer),
			email:          strings.ToLower(strings.TrimSpace(inv.CustomerEmail)),
		}, nil

	case "customer.subscription.deleted":
		var sub subscriptionPayload
		if err := json.Unmarshal(ev.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		return subscriptionEnded{
			kind:           string(ev.Type),
			subscriptionID: strings.TrimSpace(sub.ID),
			customerID:     strings.TrimSpace(sub.Customer),
		}, nil

	case "invoice.payment_failed":
		var inv invoicePayload
		if err := json.Unmarshal(ev.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("decode invoice: %w", err)
		}
		return subscriptionEnded{
			kind:           string(ev.Type),
			subscriptionID: strings.TrimSpace(inv.Subscription),
			customerID:     strings.TrimSpace(inv.Customer),
			email:          strings.ToLower(strings.TrimSpace(inv.CustomerEmail)),
		}, nil

	default:
		return unhandled{kind: string(ev.Type)}, nil
	}
}
