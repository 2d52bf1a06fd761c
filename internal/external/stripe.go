package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"postpilot/internal/types"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"
)

// stripeAPIBase is the default Stripe API base URL.
// Overridable in tests via StripeClientConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	// PriceByPlan maps paid plan tiers to Stripe Price IDs. Populated from
	// configuration at startup.
	PriceByPlan map[types.PlanTier]string
	// SuccessURL and CancelURL are the checkout redirect targets, typically
	// derived from the frontend URL.
	SuccessURL string
	CancelURL  string
	BaseURL    string // Override for testing; defaults to stripeAPIBase
	Logger     *slog.Logger
}

// StripeClient implements CheckoutService by making direct HTTP calls to the
// Stripe REST API through BaseClient. This approach routes all requests
// through the platform's resilience infrastructure (circuit breaker, retries,
// error mapping) and makes testing with httptest straightforward.
type StripeClient struct {
	base        *BaseClient
	secretKey   string
	baseURL     string
	priceByPlan map[types.PlanTier]string
	successURL  string
	cancelURL   string
	logger      *slog.Logger
}

// NewStripeClient creates a new StripeClient. The httpClient timeout should
// be around 20 seconds for the Stripe API.
func NewStripeClient(
	httpClient *http.Client,
	cfg StripeClientConfig,
) *StripeClient {
	base := NewBaseClient(
		httpClient,
		"stripe",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"PostPilot/1.0",
	)

	return NewStripeClientWithBase(base, cfg)
}

// NewStripeClientWithBase creates a StripeClient with a pre-configured
// BaseClient. This is useful for testing when you want to control the
// BaseClient configuration.
func NewStripeClientWithBase(
	base *BaseClient,
	cfg StripeClientConfig,
) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StripeClient{
		base:        base,
		secretKey:   cfg.SecretKey,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		priceByPlan: cfg.PriceByPlan,
		successURL:  cfg.SuccessURL,
		cancelURL:   cfg.CancelURL,
		logger:      logger,
	}
}

// CreateCheckoutSession generates a Stripe Checkout Session URL for a
// subscription purchase. The account ID rides along as client_reference_id
// and metadata so the completed-checkout webhook can correlate the payment
// back to the account.
func (s *StripeClient) CreateCheckoutSession(
	ctx context.Context,
	accountID string,
	plan types.PlanTier,
) (string, error) {
	priceID, ok := s.priceByPlan[plan]
	if !ok || priceID == "" {
		return "", types.NewAppError(
			types.ErrCodeValidationInvalidPlan,
			fmt.Sprintf("no checkout price configured for plan %q", plan),
			nil,
		)
	}

	params := url.Values{}
	params.Set("mode", "subscription")
	params.Set("client_reference_id", accountID)
	params.Set("success_url", s.successURL)
	params.Set("cancel_url", s.cancelURL)
	params.Set("metadata[account_id]", accountID)
	params.Set("metadata[plan]", string(plan))
	params.Set("line_items[0][price]", priceID)
	params.Set("line_items[0][quantity]", "1")

	resp, err := s.doPost(ctx, "/v1/checkout/sessions", params)
	if err != nil {
		return "", s.wrapStripeError("CreateCheckoutSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(resp, "CreateCheckoutSession")
	}

	var session stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe checkout session response",
			err,
		)
	}

	s.logger.InfoContext(ctx, "checkout session created",
		"session_id", session.ID,
		"account_id", accountID,
		"plan", string(plan),
	)

	return session.URL, nil
}

// doPost performs an authenticated POST request to the Stripe API with a
// form-encoded body and a fresh idempotency key.
func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	body := params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
	// A unique idempotency key makes BaseClient retries safe against
	// duplicate session creation.
	req.Header.Set("Idempotency-Key", uuid.NewString())

	return s.base.Do(req)
}

// stripeErrorResponse represents the JSON error body returned by the Stripe API.
type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param"`
}

// handleErrorResponse reads a Stripe error response and maps it to a types.AppError.
func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr,
		)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("%s: Stripe rate limit exceeded", operation),
			nil,
		)
	case resp.StatusCode >= 500:
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("%s: Stripe server error: %s", operation, stripeErr.Error.Message),
			nil,
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe error (%d): %s", operation, resp.StatusCode, stripeErr.Error.Message),
			nil,
		)
	}
}

// wrapStripeError wraps a BaseClient transport error with context.
func (s *StripeClient) wrapStripeError(operation string, err error) error {
	// BaseClient errors (circuit breaker, retries exhausted) already carry
	// the right error code.
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe request failed: %v", operation, err),
		err,
	)
}

// stripeCheckoutSession is the subset of the checkout session response the
// client consumes.
type stripeCheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// StripeVerifier implements WebhookVerifier using stripe-go's webhook
// signature verification. This provides HMAC-SHA256 signature checking
// with timestamp tolerance.
type StripeVerifier struct{}

// Verify validates a Stripe webhook payload against the signature header
// and signing secret. Uses stripe-go's ValidatePayload which checks both
// the HMAC signature and the timestamp tolerance.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	return stripe.ValidatePayload(payload, header, secret)
}

// Compile-time interface compliance checks.
var (
	_ CheckoutService = (*StripeClient)(nil)
	_ WebhookVerifier = (*StripeVerifier)(nil)
)
