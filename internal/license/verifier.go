package license

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

const (
	// DefaultVerifyTimeout bounds a single request to the verifier.
	DefaultVerifyTimeout = 2 * time.Second
	// DefaultVerifyRetries is the bounded retry count after the first
	// attempt. Verification has no server-side side effects, so retries are
	// idempotent.
	DefaultVerifyRetries = 2
	// DefaultRetryBackoff is the linear backoff unit between attempts.
	DefaultRetryBackoff = 250 * time.Millisecond

	verifyPath        = "/verify"
	maxVerifyBodySize = 1 << 20
)

// DefaultAllowedVerifierHosts is the fixed allow-list of verification
// endpoints. Loopback hosts are additionally accepted for local development.
var DefaultAllowedVerifierHosts = []string{
	"verify.forgecli.dev",
	"verify-staging.forgecli.dev",
}

// VerifiedEntitlements is an entitlement record produced by a successful
// remote verification. It is never synthesized from defaults.
type VerifiedEntitlements struct {
	Valid        bool
	Exp          int64 // epoch seconds
	Tier         Tier
	Features     []string
	CustomerID   string
	Organization string
	Seats        int
	Error        string
}

// Entitled reports whether the named feature is part of the entitlement.
func (e *VerifiedEntitlements) Entitled(feature string) bool {
	if e == nil || !e.Valid {
		return false
	}
	for _, f := range e.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// ClientConfig configures the remote verifier client.
type ClientConfig struct {
	BaseURL      string
	Environment  string
	Timeout      time.Duration // defaults to DefaultVerifyTimeout
	Retries      int           // negative selects DefaultVerifyRetries
	RetryBackoff time.Duration // defaults to DefaultRetryBackoff
	AllowedHosts []string      // defaults to DefaultAllowedVerifierHosts
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// Client makes authenticated calls to an allow-listed verification endpoint
// with bounded retries and timeouts. Construction fails on an untrusted or
// malformed base URL before any network traffic is possible.
type Client struct {
	endpoint string
	env      string
	http     *http.Client
	retries  int
	backoff  time.Duration
	limiter  *rate.Limiter
	logger   *slog.Logger
	metrics  *Metrics
}

// NewClient validates the verifier URL against the allow-list and builds the
// client. Only http and https schemes are accepted, and redirects are never
// followed so the resolved URL cannot leave the allow-list.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("%w: empty base URL", ErrUntrustedVerifier)
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUntrustedVerifier, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q is not allowed", ErrUntrustedVerifier, base.Scheme)
	}
	allowed := cfg.AllowedHosts
	if allowed == nil {
		allowed = DefaultAllowedVerifierHosts
	}
	if !hostAllowed(base.Hostname(), allowed) {
		return nil, fmt.Errorf("%w: host %q is not on the verifier allow-list", ErrUntrustedVerifier, base.Hostname())
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultVerifyTimeout
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = DefaultVerifyRetries
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}

	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		endpoint: strings.TrimSuffix(base.String(), "/") + verifyPath,
		env:      cfg.Environment,
		http:     httpc,
		retries:  retries,
		backoff:  backoff,
		// Guards the verifier against hot-loop hammering from misbehaving
		// callers; steady state is well below this.
		limiter: rate.NewLimiter(rate.Limit(5), 10),
		logger:  logger.With(slog.String("component", "license_verifier")),
	}, nil
}

// SetMetrics attaches OpenTelemetry metrics to the client.
func (c *Client) SetMetrics(m *Metrics) {
	c.metrics = m
}

type verifyRequest struct {
	Token       string `json:"token"`
	Environment string `json:"environment,omitempty"`
}

// verifyResponse is the verifier wire format. Both customer_id/customer and
// organization/org field-name conventions are tolerated.
type verifyResponse struct {
	Valid   bool           `json:"valid"`
	Error   string         `json:"error"`
	License *verifyLicense `json:"license"`
}

type verifyLicense struct {
	Exp          int64    `json:"exp"`
	Tier         string   `json:"tier"`
	Features     []string `json:"features"`
	CustomerID   string   `json:"customer_id"`
	Customer     string   `json:"customer"`
	Organization string   `json:"organization"`
	Org          string   `json:"org"`
	Seats        int      `json:"seats"`
}

// Verify posts the token to the verifier and normalizes the response. Any
// network, timeout or protocol failure returns a tagged *VerifyError; a
// default-valid record is never fabricated.
func (c *Client) Verify(ctx context.Context, token string) (*VerifiedEntitlements, error) {
	hint := TokenHashHint(token)

	ctx, span := c.metrics.StartSpan(ctx, "license.remote_verify",
		attribute.String("token_hash", hint))
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &VerifyError{Kind: VerifyErrNetwork, HashHint: hint, Err: err}
	}

	body, err := json.Marshal(verifyRequest{Token: token, Environment: c.env})
	if err != nil {
		return nil, &VerifyError{Kind: VerifyErrProtocol, HashHint: hint, Err: err}
	}

	var lastErr *VerifyError
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, &VerifyError{Kind: VerifyErrNetwork, HashHint: hint, Err: ctx.Err()}
			case <-time.After(time.Duration(attempt) * c.backoff):
			}
		}

		start := time.Now()
		ent, verr := c.verifyOnce(ctx, body, hint)
		if c.metrics != nil {
			c.metrics.RecordRemoteCall(ctx, verr, time.Since(start))
		}
		if verr == nil {
			span.SetAttributes(
				attribute.Bool("valid", ent.Valid),
				attribute.String("tier", string(ent.Tier)),
				attribute.Int("attempts", attempt+1))
			c.logger.InfoContext(ctx, "remote verification succeeded",
				slog.String("token_hash", hint),
				slog.Bool("valid", ent.Valid),
				slog.String("tier", string(ent.Tier)),
				slog.Int("attempt", attempt+1))
			return ent, nil
		}

		lastErr = verr
		c.logger.WarnContext(ctx, "remote verification attempt failed",
			slog.String("token_hash", hint),
			slog.Int("attempt", attempt+1),
			slog.String("kind", verr.Kind.String()),
			slog.String("error", verr.Err.Error()))

		if verr.Kind != VerifyErrNetwork {
			break
		}
	}
	span.RecordError(lastErr)
	span.SetAttributes(attribute.String("error_kind", lastErr.Kind.String()))
	return nil, lastErr
}

func (c *Client) verifyOnce(ctx context.Context, body []byte, hint string) (*VerifiedEntitlements, *VerifyError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &VerifyError{Kind: VerifyErrProtocol, HashHint: hint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &VerifyError{Kind: VerifyErrNetwork, HashHint: hint, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxVerifyBodySize))
	if err != nil {
		return nil, &VerifyError{Kind: VerifyErrNetwork, HashHint: hint, Err: err}
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, &VerifyError{
			Kind:     VerifyErrNetwork,
			HashHint: hint,
			Err:      fmt.Errorf("verifier returned status %d", resp.StatusCode),
		}
	case resp.StatusCode != http.StatusOK:
		return nil, &VerifyError{
			Kind:     VerifyErrProtocol,
			HashHint: hint,
			Err:      fmt.Errorf("verifier returned status %d", resp.StatusCode),
		}
	}

	var wire verifyResponse
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, &VerifyError{Kind: VerifyErrProtocol, HashHint: hint, Err: fmt.Errorf("malformed verifier response: %w", err)}
	}

	ent := &VerifiedEntitlements{Valid: wire.Valid, Error: wire.Error, Tier: TierCommunity}
	if wire.License != nil {
		lic := wire.License
		tier, err := ParseTier(lic.Tier)
		if err != nil {
			// Never grant more than the verifier provably stated.
			tier = TierCommunity
		}
		ent.Exp = lic.Exp
		ent.Tier = tier
		ent.Features = lic.Features
		ent.CustomerID = firstNonEmpty(lic.CustomerID, lic.Customer)
		ent.Organization = firstNonEmpty(lic.Organization, lic.Org)
		ent.Seats = lic.Seats
	} else if wire.Valid {
		return nil, &VerifyError{
			Kind:     VerifyErrProtocol,
			HashHint: hint,
			Err:      fmt.Errorf("verifier response marked valid but carried no license object"),
		}
	}
	return ent, nil
}

func hostAllowed(host string, allowed []string) bool {
	if isLoopbackHost(host) {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(host, a) {
			return true
		}
	}
	return false
}

func isLoopbackHost(host string) bool {
	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
