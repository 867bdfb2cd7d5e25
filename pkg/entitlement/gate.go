package entitlement

// Decision is the outcome of the content gate.
type Decision int

const (
	// DecisionGranted renders the content with no upsell.
	DecisionGranted Decision = iota
	// DecisionGrantedWithBanner renders the content alongside a
	// non-blocking upgrade banner.
	DecisionGrantedWithBanner
	// DecisionUpgradeRequired replaces the content with an upgrade prompt.
	DecisionUpgradeRequired
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case DecisionGranted:
		return "granted"
	case DecisionGrantedWithBanner:
		return "granted_with_banner"
	case DecisionUpgradeRequired:
		return "upgrade_required"
	default:
		return "unknown"
	}
}

// Allows reports whether the gated content itself may render.
func (d Decision) Allows() bool {
	return d == DecisionGranted || d == DecisionGrantedWithBanner
}

// Decide is the pure content-gate decision. Premium renders
// unconditionally; a free identity at or over the limit gets the upgrade
// prompt; a free identity under the limit renders with a banner.
func Decide(premium bool, currentCount, freeLimit int) Decision {
	if premium {
		return DecisionGranted
	}
	if currentCount >= freeLimit {
		return DecisionUpgradeRequired
	}
	return DecisionGrantedWithBanner
}

// DecideMatch gates one match against the live store and ledger. A match
// already unlocked stays viewable even when the quota is spent.
func DecideMatch(store *Store, ledger *Ledger, matchID string) Decision {
	premium := store != nil && store.IsPremium()
	if premium {
		return DecisionGranted
	}
	if matchID != "" && ledger.IsMatchViewed(matchID) {
		return DecisionGrantedWithBanner
	}
	return Decide(false, ledger.ViewedCount(), ledger.FreeLimit())
}
