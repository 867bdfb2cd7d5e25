package entitlement

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// StatusVerifier resolves the authoritative subscription status for the
// identity behind the given bearer token.
type StatusVerifier interface {
	CheckSubscription(ctx context.Context, token string) (SubscriptionStatus, error)
}

// TokenSource supplies the ambient bearer credential. An empty token means
// no identity is signed in.
type TokenSource interface {
	Token() string
}

// TokenFunc adapts a plain function to a TokenSource.
type TokenFunc func() string

// Token implements TokenSource.
func (f TokenFunc) Token() string { return f() }

const defaultSignInDebounce = 250 * time.Millisecond

// StoreConfig configures an entitlement Store.
type StoreConfig struct {
	Verifier StatusVerifier
	Tokens   TokenSource
	// SignInDebounce delays the refresh triggered by a sign-in event so it
	// does not race the identity provider's own token propagation. Zero
	// selects the default.
	SignInDebounce time.Duration
}

// Store holds the client runtime's view of the subscription entitlement.
// Refresh collapses concurrent triggers (start, focus, auth events) into a
// single outstanding verification call, and fails closed: any verification
// failure resets the snapshot to non-premium.
type Store struct {
	verifier StatusVerifier
	tokens   TokenSource
	debounce time.Duration

	inFlight atomic.Bool

	mu            sync.Mutex
	status        SubscriptionStatus
	loading       bool
	debounceTimer *time.Timer
	closed        bool
}

// NewStore creates a Store with the default status. Call Start to perform
// the initial refresh.
func NewStore(cfg StoreConfig) *Store {
	debounce := cfg.SignInDebounce
	if debounce <= 0 {
		debounce = defaultSignInDebounce
	}
	return &Store{
		verifier: cfg.Verifier,
		tokens:   cfg.Tokens,
		debounce: debounce,
		status:   DefaultStatus(),
	}
}

// Status returns the last fetched subscription snapshot.
func (s *Store) Status() SubscriptionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// IsPremium reports whether the current snapshot grants premium access.
func (s *Store) IsPremium() bool {
	return s.Status().Subscribed
}

// Loading reports whether a verification call is currently outstanding.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Start performs the initial refresh. Intended to be called once when the
// hosting session begins.
func (s *Store) Start(ctx context.Context) {
	s.Refresh(ctx)
}

// Refresh replaces the stored snapshot with the verifier's answer. A call
// that arrives while another refresh is in flight is a silent no-op. With
// no signed-in identity the snapshot resets to the default without
// consulting the verifier.
func (s *Store) Refresh(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer s.inFlight.Store(false)

	token := ""
	if s.tokens != nil {
		token = s.tokens.Token()
	}
	if token == "" {
		s.setStatus(DefaultStatus())
		return
	}

	s.setLoading(true)
	defer s.setLoading(false)

	status, err := s.verifier.CheckSubscription(ctx, token)
	if err != nil {
		// Fail closed: unknown entitlement is treated as non-premium.
		log.Warn().Err(err).Msg("entitlement: subscription check failed")
		s.setStatus(DefaultStatus())
		return
	}
	s.setStatus(status)
}

// HandleAuthChange reacts to identity transitions. A sign-in schedules a
// debounced refresh; a sign-out short-circuits to the default status
// without calling the verifier.
func (s *Store) HandleAuthChange(ctx context.Context, signedIn bool) {
	if !signedIn {
		s.stopDebounce()
		s.setStatus(DefaultStatus())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.debounceTimer = time.AfterFunc(s.debounce, func() {
		s.Refresh(ctx)
	})
}

// HandleFocus triggers a refresh when the host window regains foreground
// focus.
func (s *Store) HandleFocus(ctx context.Context) {
	s.Refresh(ctx)
}

// Close cancels any pending debounced refresh. The store remains readable.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
		s.debounceTimer = nil
	}
}

func (s *Store) setStatus(status SubscriptionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *Store) setLoading(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = v
}

func (s *Store) stopDebounce() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
		s.debounceTimer = nil
	}
}
