package entitlement

import (
	"fmt"
	"sync"
	"time"
)

const (
	// FreeMatchLimit is the number of matches a free-tier identity may
	// unlock inside the validity window.
	FreeMatchLimit = 1

	// viewedMatchTTL is the rolling validity window for ledger entries.
	viewedMatchTTL = 24 * time.Hour
)

// ViewedMatch is one unit of free-tier content consumption.
type ViewedMatch struct {
	ID       string    `json:"id"`
	ViewedAt time.Time `json:"viewedAt"`
}

// LedgerStorage persists the viewed-match set. Implementations must treat
// a missing record as an empty set.
type LedgerStorage interface {
	Load() ([]ViewedMatch, error)
	Save([]ViewedMatch) error
	Clear() error
}

// Ledger tracks which matches a free-tier identity has already unlocked.
// Entries expire 24 hours after they were recorded; expiry is applied
// lazily when the ledger loads, not while it is live.
type Ledger struct {
	mu      sync.Mutex
	storage LedgerStorage
	entries []ViewedMatch
	premium func() bool
	now     func() time.Time
}

// NewLedger loads the persisted set, drops entries outside the validity
// window, and writes the compacted set back when anything was dropped.
// The premium hook short-circuits every limit check when it reports true;
// it may be nil for a ledger that never sees premium identities.
func NewLedger(storage LedgerStorage, premium func() bool) (*Ledger, error) {
	l := &Ledger{
		storage: storage,
		premium: premium,
		now:     time.Now,
	}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) load() error {
	entries, err := l.storage.Load()
	if err != nil {
		return fmt.Errorf("load viewed matches: %w", err)
	}

	cutoff := l.now().Add(-viewedMatchTTL)
	kept := entries[:0]
	for _, e := range entries {
		if e.ViewedAt.After(cutoff) {
			kept = append(kept, e)
		}
	}

	l.entries = kept
	if len(kept) < len(entries) {
		// Write-back compaction: persist the filtered set immediately.
		if err := l.storage.Save(kept); err != nil {
			return fmt.Errorf("compact viewed matches: %w", err)
		}
	}
	return nil
}

// ViewedCount returns the number of live ledger entries.
func (l *Ledger) ViewedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// FreeLimit returns the free-tier unlock limit.
func (l *Ledger) FreeLimit() int {
	return FreeMatchLimit
}

// IsMatchViewed reports whether the given match is already unlocked.
func (l *Ledger) IsMatchViewed(matchID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.contains(matchID)
}

// CanViewMatch decides whether the given match may render. Premium always
// may; a previously unlocked match stays visible; otherwise the free limit
// applies. An empty matchID asks only about the quota.
func (l *Ledger) CanViewMatch(matchID string) bool {
	if l.premium != nil && l.premium() {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if matchID != "" && l.contains(matchID) {
		return true
	}
	return len(l.entries) < FreeMatchLimit
}

// MarkMatchAsViewed records the match as unlocked and persists the full
// updated set. Marking an already-recorded match is a no-op.
func (l *Ledger) MarkMatchAsViewed(matchID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.contains(matchID) {
		return nil
	}

	l.entries = append(l.entries, ViewedMatch{ID: matchID, ViewedAt: l.now()})
	if err := l.storage.Save(l.entries); err != nil {
		return fmt.Errorf("persist viewed matches: %w", err)
	}
	return nil
}

// ResetViewedMatches clears the in-memory and persisted state.
func (l *Ledger) ResetViewedMatches() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = nil
	if err := l.storage.Clear(); err != nil {
		return fmt.Errorf("clear viewed matches: %w", err)
	}
	return nil
}

func (l *Ledger) contains(matchID string) bool {
	for _, e := range l.entries {
		if e.ID == matchID {
			return true
		}
	}
	return false
}
