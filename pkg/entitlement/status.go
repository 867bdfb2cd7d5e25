package entitlement

import "time"

// PremiumProductID is the product reported for manually granted
// entitlements, which bypass the payment provider entirely.
const PremiumProductID = "prod_premium"

// SubscriptionStatus is the authoritative entitlement snapshot as last
// fetched from the verifier. ProductID and SubscriptionEnd carry meaning
// only while Subscribed is true; a manual grant has no expiry.
type SubscriptionStatus struct {
	Subscribed      bool       `json:"subscribed"`
	ProductID       *string    `json:"product_id"`
	SubscriptionEnd *time.Time `json:"subscription_end"`
}

// DefaultStatus is the all-false snapshot used at session start, after
// sign-out, and whenever verification fails.
func DefaultStatus() SubscriptionStatus {
	return SubscriptionStatus{}
}

// ManualGrantStatus is the snapshot reported for allow-listed identities:
// premium with no expiry.
func ManualGrantStatus() SubscriptionStatus {
	product := PremiumProductID
	return SubscriptionStatus{Subscribed: true, ProductID: &product}
}
