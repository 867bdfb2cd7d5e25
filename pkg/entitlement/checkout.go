package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultCheckoutTimeout bounds how long the initiator waits for the
// checkout endpoint before giving up.
const DefaultCheckoutTimeout = 20 * time.Second

// Errors surfaced by the checkout initiator.
var (
	ErrNoCredential  = errors.New("no active credential")
	ErrCheckoutTimed = errors.New("checkout request timed out")
	ErrEmptyPayload  = errors.New("checkout response payload is empty")
	ErrMissingURL    = errors.New("checkout response is missing the url field")
)

// StepState is the lifecycle of one diagnostic step.
type StepState string

const (
	StepPending StepState = "pending"
	StepLoading StepState = "loading"
	StepSuccess StepState = "success"
	StepError   StepState = "error"
)

// Step is one entry of the ordered diagnostic sequence a checkout attempt
// walks through. Steps attempted before a failure stay inspectable on the
// result.
type Step struct {
	Name   string    `json:"name"`
	State  StepState `json:"state"`
	Detail string    `json:"detail,omitempty"`
}

// CheckoutResult carries the redirect URL and the diagnostic step list.
// On failure URL is empty and Steps records how far the attempt got.
type CheckoutResult struct {
	URL   string
	Steps []Step
}

// CheckoutTransport performs the raw endpoint calls. Upstream failures are
// returned as *UpstreamError so the initiator can report them distinctly.
type CheckoutTransport interface {
	CreateCheckoutSession(ctx context.Context, token string) ([]byte, error)
	OpenCustomerPortal(ctx context.Context, token string) ([]byte, error)
}

// UpstreamError is a non-2xx answer from the checkout or portal endpoint.
type UpstreamError struct {
	StatusCode int
	Message    string
}

// Error implements error.
func (e *UpstreamError) Error() string {
	if strings.TrimSpace(e.Message) == "" {
		return fmt.Sprintf("upstream error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("upstream error (status %d): %s", e.StatusCode, e.Message)
}

// Initiator obtains provider redirect URLs for upgrade (checkout) and
// self-service management (customer portal).
type Initiator struct {
	transport CheckoutTransport
	tokens    TokenSource
	timeout   time.Duration
}

// NewInitiator returns an Initiator with the default timeout.
func NewInitiator(transport CheckoutTransport, tokens TokenSource) *Initiator {
	return &Initiator{
		transport: transport,
		tokens:    tokens,
		timeout:   DefaultCheckoutTimeout,
	}
}

type stepTracker struct {
	steps []Step
}

func (t *stepTracker) begin(name string) int {
	t.steps = append(t.steps, Step{Name: name, State: StepLoading})
	return len(t.steps) - 1
}

func (t *stepTracker) succeed(i int, detail string) {
	t.steps[i].State = StepSuccess
	t.steps[i].Detail = detail
}

func (t *stepTracker) fail(i int, detail string) {
	t.steps[i].State = StepError
	t.steps[i].Detail = detail
}

type urlPayload struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// CreateCheckoutSession walks the diagnostic sequence (credential, invoke,
// payload, url) and returns the redirect URL. It fails closed at the first
// terminal error; the returned result keeps every step attempted so far.
func (i *Initiator) CreateCheckoutSession(ctx context.Context, token string) (CheckoutResult, error) {
	tracker := &stepTracker{}
	result := func(url string) CheckoutResult {
		return CheckoutResult{URL: url, Steps: tracker.steps}
	}

	credStep := tracker.begin("credential")
	if strings.TrimSpace(token) == "" && i.tokens != nil {
		token = i.tokens.Token()
	}
	if strings.TrimSpace(token) == "" {
		tracker.fail(credStep, "no active session credential")
		return result(""), ErrNoCredential
	}
	tracker.succeed(credStep, "session credential present")

	invokeStep := tracker.begin("invoke")
	payload, err := i.invoke(ctx, token)
	if err != nil {
		tracker.fail(invokeStep, err.Error())
		return result(""), err
	}
	tracker.succeed(invokeStep, "checkout endpoint answered")

	payloadStep := tracker.begin("payload")
	if len(payload) == 0 {
		tracker.fail(payloadStep, ErrEmptyPayload.Error())
		return result(""), ErrEmptyPayload
	}
	var decoded urlPayload
	if err := json.Unmarshal(payload, &decoded); err != nil {
		decodeErr := fmt.Errorf("decode checkout payload: %w", err)
		tracker.fail(payloadStep, decodeErr.Error())
		return result(""), decodeErr
	}
	tracker.succeed(payloadStep, "payload decoded")

	urlStep := tracker.begin("url")
	url := strings.TrimSpace(decoded.URL)
	if url == "" {
		tracker.fail(urlStep, ErrMissingURL.Error())
		return result(""), ErrMissingURL
	}
	tracker.succeed(urlStep, "redirect url received")

	return result(url), nil
}

// invoke races the transport call against the hard timeout. On timeout the
// in-flight call is abandoned, not aborted: it may still complete after
// this method has already reported failure.
func (i *Initiator) invoke(ctx context.Context, token string) ([]byte, error) {
	type answer struct {
		payload []byte
		err     error
	}

	ch := make(chan answer, 1)
	go func() {
		payload, err := i.transport.CreateCheckoutSession(ctx, token)
		ch <- answer{payload: payload, err: err}
	}()

	timer := time.NewTimer(i.timeout)
	defer timer.Stop()

	select {
	case a := <-ch:
		return a.payload, a.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrCheckoutTimed
	}
}

// OpenCustomerPortal returns the portal URL, or an empty string when the
// endpoint answered without one. The caller opens it in a new browsing
// context. No diagnostic steps are tracked.
func (i *Initiator) OpenCustomerPortal(ctx context.Context, token string) (string, error) {
	if strings.TrimSpace(token) == "" && i.tokens != nil {
		token = i.tokens.Token()
	}
	if strings.TrimSpace(token) == "" {
		return "", ErrNoCredential
	}

	payload, err := i.transport.OpenCustomerPortal(ctx, token)
	if err != nil {
		return "", err
	}
	if len(payload) == 0 {
		return "", nil
	}

	var decoded urlPayload
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", fmt.Errorf("decode portal payload: %w", err)
	}
	return strings.TrimSpace(decoded.URL), nil
}
