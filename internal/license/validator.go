package license

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultGraceDays is the post-expiry window during which expiry is
	// reported as "in grace". Grace affects messaging only; no tier is ever
	// granted past expiry through local validation.
	DefaultGraceDays = 7

	// AlgorithmRS256 is the supported production signing mode.
	AlgorithmRS256 = "RS256"
	// AlgorithmHS256 is the development-only symmetric mode. Rejected unless
	// ValidatorConfig.AllowSymmetric is set.
	AlgorithmHS256 = "HS256"
)

// ValidatorConfig configures the token codec and signature validator.
type ValidatorConfig struct {
	Algorithm       string // RS256 (default) or HS256
	PublicKeyPEM    []byte // required for RS256
	SymmetricSecret []byte // required for HS256
	AllowSymmetric  bool   // explicit opt-in for HS256
	Issuer          string // expected iss claim, checked when non-empty
	Audience        string // expected aud claim, checked when non-empty
	GraceDays       int    // defaults to DefaultGraceDays
	Now             func() time.Time
}

// LocalValidationResult is the outcome of offline token validation.
// IsValid is false whenever the signature fails, the token is malformed, or
// grace has elapsed. Tier is meaningful only when the token is valid, or
// expired within grace after passing signature verification.
type LocalValidationResult struct {
	IsValid             bool
	IsExpired           bool
	IsInGracePeriod     bool
	Tier                Tier
	CustomerID          string
	Organization        string
	Seats               int
	Features            []string
	ErrorMessage        string
	DaysUntilExpiration int
}

// Validator decodes compact signed license tokens, verifies their signature
// and validates standard claims. ValidateToken is a pure function: it never
// panics on malformed input and has no side effects.
type Validator struct {
	method    string
	rsaKey    *rsa.PublicKey
	secret    []byte
	issuer    string
	audience  string
	graceDays int
	now       func() time.Time
}

// NewValidator builds a validator from a statically configured algorithm and
// key. HS256 without the explicit opt-in fails here, not at validation time.
func NewValidator(cfg ValidatorConfig) (*Validator, error) {
	alg := cfg.Algorithm
	if alg == "" {
		alg = AlgorithmRS256
	}

	v := &Validator{
		method:    alg,
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		graceDays: cfg.GraceDays,
		now:       cfg.Now,
	}
	if v.graceDays <= 0 {
		v.graceDays = DefaultGraceDays
	}
	if v.now == nil {
		v.now = time.Now
	}

	switch alg {
	case AlgorithmRS256:
		if len(cfg.PublicKeyPEM) == 0 {
			return nil, errors.New("RS256 validator requires a public key")
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM(cfg.PublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("parse license public key: %w", err)
		}
		v.rsaKey = key
	case AlgorithmHS256:
		if !cfg.AllowSymmetric {
			return nil, ErrSymmetricNotAllowed
		}
		if len(cfg.SymmetricSecret) == 0 {
			return nil, errors.New("HS256 validator requires a secret")
		}
		v.secret = cfg.SymmetricSecret
	default:
		return nil, fmt.Errorf("unsupported license signing algorithm %q", alg)
	}

	return v, nil
}

// ValidateToken decodes and verifies a license token. Structural failures
// (malformed token, bad signature, wrong algorithm) and temporal failures
// (expired, not yet valid) both surface as IsValid=false with a descriptive
// message; this function never returns an error.
func (v *Validator) ValidateToken(token string) *LocalValidationResult {
	res := &LocalValidationResult{Tier: TierCommunity}

	token = strings.TrimSpace(token)
	if token == "" {
		res.ErrorMessage = "empty license token"
		return res
	}

	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{v.method}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	_, err := jwt.ParseWithClaims(token, claims, v.keyFunc, opts...)
	switch {
	case err == nil:
		return v.validResult(claims)
	case expiredOnly(err):
		// Signature, issuer and audience all checked out; only exp failed.
		return v.expiredResult(claims)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		res.ErrorMessage = "license token signature verification failed"
		return res
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		res.ErrorMessage = "license token issuer mismatch"
		return res
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		res.ErrorMessage = "license token audience mismatch"
		return res
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		res.ErrorMessage = "license token is not valid yet"
		return res
	default:
		res.ErrorMessage = fmt.Sprintf("malformed license token: %v", err)
		return res
	}
}

// expiredOnly reports whether exp is the sole failed validation. golang-jwt
// joins claim validation errors, so expiry must be isolated from issuer or
// audience failures before grace handling applies.
func expiredOnly(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired) &&
		!errors.Is(err, jwt.ErrTokenInvalidIssuer) &&
		!errors.Is(err, jwt.ErrTokenInvalidAudience) &&
		!errors.Is(err, jwt.ErrTokenSignatureInvalid)
}

func (v *Validator) validResult(claims *Claims) *LocalValidationResult {
	res := &LocalValidationResult{}

	tier, err := ParseTier(claims.Tier)
	if err != nil {
		res.Tier = TierCommunity
		res.ErrorMessage = fmt.Sprintf("license claims carry an unrecognized tier %q", claims.Tier)
		return res
	}

	res.IsValid = true
	res.Tier = tier
	res.CustomerID = claims.Subject
	res.Organization = claims.Organization
	res.Seats = claims.Seats
	res.Features = claims.Features
	if claims.ExpiresAt != nil {
		res.DaysUntilExpiration = int(claims.ExpiresAt.Sub(v.now()).Hours() / 24)
	}
	return res
}

func (v *Validator) expiredResult(claims *Claims) *LocalValidationResult {
	res := &LocalValidationResult{Tier: TierCommunity, IsExpired: true}
	if claims.ExpiresAt == nil {
		res.ErrorMessage = "license token expired"
		return res
	}

	daysSince := v.now().Sub(claims.ExpiresAt.Time).Hours() / 24
	d := int(math.Ceil(daysSince))
	res.DaysUntilExpiration = -d
	res.ErrorMessage = fmt.Sprintf("license expired %d day(s) ago", d)

	if daysSince > 0 && daysSince <= float64(v.graceDays) {
		// Grace is informational: tier and identity claims are surfaced for
		// renewal messaging, IsValid stays false.
		res.IsInGracePeriod = true
		if tier, err := ParseTier(claims.Tier); err == nil {
			res.Tier = tier
		}
		res.CustomerID = claims.Subject
		res.Organization = claims.Organization
		res.Seats = claims.Seats
		res.Features = claims.Features
	}
	return res
}

func (v *Validator) keyFunc(*jwt.Token) (any, error) {
	if v.rsaKey != nil {
		return v.rsaKey, nil
	}
	return v.secret, nil
}
